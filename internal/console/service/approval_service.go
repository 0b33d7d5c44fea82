package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/chainvault-custody/internal/domain"
	"github.com/xela07ax/chainvault-custody/internal/infra"
)

// ApprovalRepository описывает требования к хранилищу заявок HITL
type ApprovalRepository interface {
	GetApprovalByID(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	FindApprovals(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error)
	ResolveApproval(ctx context.Context, id string, status domain.ApprovalStatus, reviewerID, comment string) (string, error)
	ExpireApproval(ctx context.Context, id string) (string, error)
	ExpireOverdue(ctx context.Context, now time.Time) ([]string, error)
	FinalizeDenied(ctx context.Context, recordID, reason string) error
}

type ApprovalService struct {
	repo   ApprovalRepository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewApprovalService(repo ApprovalRepository, rdb *redis.Client, logger *zap.Logger) *ApprovalService {
	return &ApprovalService{
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("approval-service"),
	}
}

// GetApproval отдает заявку, лениво истекая просроченный pending.
func (s *ApprovalService) GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	app, err := s.repo.GetApprovalByID(ctx, id)
	if err != nil || app == nil {
		return app, err
	}

	if app.IsExpired(time.Now()) {
		if err := s.expireOne(ctx, app.ID); err != nil {
			s.logger.Warn("lazy expiry failed", zap.String("approval_id", app.ID), zap.Error(err))
			return app, nil
		}
		return s.repo.GetApprovalByID(ctx, id)
	}
	return app, nil
}

func (s *ApprovalService) GetApprovals(ctx context.Context, status string) ([]*domain.ApprovalRequest, error) {
	return s.repo.FindApprovals(ctx, domain.ApprovalStatus(status))
}

// DecideApproval фиксирует решение оператора. Атомарность держит БД:
// guarded UPDATE пройдет ровно один раз, повторное решение вернет
// domain.ErrAlreadyProcessed, решение после дедлайна — domain.ErrApprovalExpired.
func (s *ApprovalService) DecideApproval(ctx context.Context, approvalID string, approved bool, reviewerID, comment string) error {
	status := domain.ApprovalRejected
	if approved {
		status = domain.ApprovalApproved
	}

	recordID, err := s.repo.ResolveApproval(ctx, approvalID, status, reviewerID, comment)
	if err != nil {
		if errors.Is(err, domain.ErrApprovalExpired) && recordID != "" {
			// Оператор опоздал: заявка только что истекла — доводим запись
			s.finalizeDenied(ctx, recordID, "approval timed out")
			s.publishDecision(ctx, recordID, domain.ApprovalExpired)
		}
		return err
	}

	// Отклонение закрывает запись здесь же; подтверждение исполняет шлюз
	if status == domain.ApprovalRejected {
		s.finalizeDenied(ctx, recordID, "rejected by reviewer")
	}
	s.publishDecision(ctx, recordID, status)

	s.logger.Info("approval decision processed",
		zap.String("approval_id", approvalID),
		zap.String("record_id", recordID),
		zap.String("reviewer", reviewerID),
		zap.String("result", string(status)))
	return nil
}

// SweepOverdue — фоновая жатва просроченных заявок (страховка поверх
// ленивого истечения: заявка, которую никто не читает, тоже должна истечь).
func (s *ApprovalService) SweepOverdue(ctx context.Context) {
	recordIDs, err := s.repo.ExpireOverdue(ctx, time.Now())
	if err != nil {
		s.logger.Error("approval sweep failed", zap.Error(err))
		return
	}
	for _, recordID := range recordIDs {
		s.finalizeDenied(ctx, recordID, "approval timed out")
		s.publishDecision(ctx, recordID, domain.ApprovalExpired)
	}
	if len(recordIDs) > 0 {
		s.logger.Info("overdue approvals expired", zap.Int("count", len(recordIDs)))
	}
}

func (s *ApprovalService) expireOne(ctx context.Context, approvalID string) error {
	recordID, err := s.repo.ExpireApproval(ctx, approvalID)
	if err != nil {
		return err
	}
	s.finalizeDenied(ctx, recordID, "approval timed out")
	s.publishDecision(ctx, recordID, domain.ApprovalExpired)
	return nil
}

func (s *ApprovalService) finalizeDenied(ctx context.Context, recordID, reason string) {
	err := s.repo.FinalizeDenied(ctx, recordID, reason)
	if err != nil && !errors.Is(err, domain.ErrRecordFinalized) {
		s.logger.Error("record denial failed", zap.String("record_id", recordID), zap.Error(err))
	}
}

// publishDecision будит координатор шлюза: "record_id:STATUS".
func (s *ApprovalService) publishDecision(ctx context.Context, recordID string, status domain.ApprovalStatus) {
	payload := fmt.Sprintf("%s:%s", recordID, status)
	if err := s.rdb.Publish(ctx, infra.RedisChanApprovalDecisions, payload).Err(); err != nil {
		// Решение уже зафиксировано в БД, потерян только сигнал
		s.logger.Error("decision saved but signal not delivered",
			zap.String("record_id", recordID), zap.Error(err))
	}
}
