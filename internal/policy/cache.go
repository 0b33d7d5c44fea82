package policy

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/chainvault-custody/internal/domain"
	"go.uber.org/zap"
)

type PolicyRepository interface {
	GetAllPolicies(ctx context.Context) ([]domain.Policy, error)
}

// MemoSource — in-memory cache политик. Hot Path оркестратора читает только
// память; синхронизация с Postgres идет через Refresh по сигналу из Redis
// (Console публикует policy-update на каждом create/update/delete).
type MemoSource struct {
	mu sync.RWMutex
	// Кэш: wallet_id -> политики в порядке создания
	byWallet map[string][]domain.Policy

	repo   PolicyRepository // Используется только для Refresh()
	rdb    *redis.Client
	logger *zap.Logger
}

func NewMemoSource(repo PolicyRepository, rdb *redis.Client, logger *zap.Logger) *MemoSource {
	return &MemoSource{
		byWallet: make(map[string][]domain.Policy),
		repo:     repo,
		rdb:      rdb,
		logger:   logger.Named("policy-cache"),
	}
}

// PoliciesFor отдает политики кошелька в порядке создания.
// Отсутствие записей — валидный случай: кошелек без ограничений.
func (s *MemoSource) PoliciesFor(ctx context.Context, walletID string) ([]domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byWallet[walletID], nil
}

// Refresh выполняет холодную загрузку всех политик из PostgreSQL в память.
// Репозиторий отдает их уже упорядоченными (created_at, id) — кэш порядок сохраняет.
func (s *MemoSource) Refresh(ctx context.Context) error {
	policiesDb, err := s.repo.GetAllPolicies(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string][]domain.Policy)
	for _, p := range policiesDb {
		fresh[p.WalletID] = append(fresh[p.WalletID], p)
	}

	s.mu.Lock()
	s.byWallet = fresh
	s.mu.Unlock()

	s.logger.Info("policy cache refreshed", zap.Int("count", len(policiesDb)))
	return nil
}

// StartListener подписывается на сигнал обновления политик.
// Payload не разбираем: любой сигнал — полная перечитка таблицы.
func (s *MemoSource) StartListener(ctx context.Context, channel string) {
	pubsub := s.rdb.Subscribe(ctx, channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("policy cache refresh failed", zap.Error(err))
			}
		}
	}
}
