package service

import (
	"context"

	"github.com/xela07ax/chainvault-custody/internal/audit"
	"github.com/xela07ax/chainvault-custody/internal/domain"
)

// AuditRepository — чтение decision trail, журнала транзакций и сводки
type AuditRepository interface {
	FetchEvents(ctx context.Context, walletID, decision string) ([]audit.DecisionEvent, error)
	ListRecords(ctx context.Context, walletID string, status domain.RecordStatus) ([]*domain.TransactionRecord, error)
	GetRecordByID(ctx context.Context, id string) (*domain.TransactionRecord, error)
	GetUnifiedDashboard(ctx context.Context) (*domain.UnifiedDashboard, error)
}

type AuditService struct {
	repo AuditRepository
}

func NewAuditService(repo AuditRepository) *AuditService {
	return &AuditService{repo: repo}
}

func (s *AuditService) GetEvents(ctx context.Context, walletID, decision string) ([]audit.DecisionEvent, error) {
	return s.repo.FetchEvents(ctx, walletID, decision)
}

func (s *AuditService) GetRecords(ctx context.Context, walletID string, status domain.RecordStatus) ([]*domain.TransactionRecord, error) {
	return s.repo.ListRecords(ctx, walletID, status)
}

func (s *AuditService) GetRecord(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	return s.repo.GetRecordByID(ctx, id)
}

func (s *AuditService) GetDashboard(ctx context.Context) (*domain.UnifiedDashboard, error) {
	// Здесь можно добавить кэширование в Redis на минуту,
	// чтобы не нагружать Postgres тяжелыми аналитическими запросами.
	return s.repo.GetUnifiedDashboard(ctx)
}
