package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/chainvault-custody/internal/domain"
	"github.com/xela07ax/chainvault-custody/internal/infra"
)

// PolicyRepository описывает требования сервиса к хранилищу политик
type PolicyRepository interface {
	GetPolicyByID(ctx context.Context, id string) (*domain.Policy, error)
	GetAllPolicies(ctx context.Context) ([]domain.Policy, error)
	GetPoliciesByWallet(ctx context.Context, walletID string) ([]domain.Policy, error)
	CreatePolicy(ctx context.Context, p *domain.Policy) error
	UpdatePolicy(ctx context.Context, p *domain.Policy) error
	DeletePolicy(ctx context.Context, id string) error
}

type PolicyService struct {
	repo PolicyRepository
	rdb  *redis.Client
}

func NewPolicyService(repo PolicyRepository, rdb *redis.Client) *PolicyService {
	return &PolicyService{
		repo: repo,
		rdb:  rdb,
	}
}

func (s *PolicyService) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	return s.repo.GetPolicyByID(ctx, id)
}

func (s *PolicyService) GetAll(ctx context.Context) ([]domain.Policy, error) {
	return s.repo.GetAllPolicies(ctx)
}

func (s *PolicyService) GetByWallet(ctx context.Context, walletID string) ([]domain.Policy, error) {
	return s.repo.GetPoliciesByWallet(ctx, walletID)
}

// Create валидирует конфиг под вид политики, сохраняет и уведомляет шлюзы.
// Повторный kind на том же кошельке отлетит с domain.ErrPolicyKindExists.
func (s *PolicyService) Create(ctx context.Context, p *domain.Policy) error {
	if err := p.ValidateConfig(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if err := s.repo.CreatePolicy(ctx, p); err != nil {
		return err
	}
	return s.notifyUpdate(ctx)
}

// Update меняет только конфиг: kind и wallet_id после создания неизменяемы.
func (s *PolicyService) Update(ctx context.Context, p *domain.Policy) error {
	existing, err := s.repo.GetPolicyByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	existing.Config = p.Config
	if err := existing.ValidateConfig(); err != nil {
		return err
	}
	if err := s.repo.UpdatePolicy(ctx, existing); err != nil {
		return err
	}
	return s.notifyUpdate(ctx)
}

func (s *PolicyService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeletePolicy(ctx, id); err != nil {
		return err
	}
	return s.notifyUpdate(ctx)
}

// notifyUpdate отправляет широковещательный сигнал в Redis.
// Все инстансы шлюза, подписанные на этот канал, вызовут Refresh() своего кэша политик.
func (s *PolicyService) notifyUpdate(ctx context.Context) error {
	// Сигнал может быть простым "refresh", так как шлюз сам перечитает всю таблицу
	return s.rdb.Publish(ctx, infra.RedisChanPolicyUpdate, "refresh").Err()
}
