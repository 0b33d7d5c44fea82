package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/chainvault-custody/internal/domain"
	"github.com/xela07ax/chainvault-custody/internal/infra"
)

// WalletRepository описывает требования к хранилищу кошельков
type WalletRepository interface {
	GetWallet(ctx context.Context, id string) (*domain.Wallet, error)
	ListWallets(ctx context.Context, ownerID string) ([]*domain.Wallet, error)
	UpdateWalletStatus(ctx context.Context, id string, status domain.WalletStatus) error
}

type WalletService struct {
	repo   WalletRepository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewWalletService(repo WalletRepository, rdb *redis.Client, logger *zap.Logger) *WalletService {
	return &WalletService{
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("wallet-service"),
	}
}

func (s *WalletService) GetWallet(ctx context.Context, id string) (*domain.Wallet, error) {
	return s.repo.GetWallet(ctx, id)
}

func (s *WalletService) ListWallets(ctx context.Context, ownerID string) ([]*domain.Wallet, error) {
	return s.repo.ListWallets(ctx, ownerID)
}

// Freeze — kill-switch владельца: БД + Redis-set + мгновенный сигнал шлюзам.
func (s *WalletService) Freeze(ctx context.Context, walletID string) error {
	return s.updateFreezeState(ctx, walletID, domain.WalletFrozen, "true", "freeze")
}

func (s *WalletService) Unfreeze(ctx context.Context, walletID string) error {
	return s.updateFreezeState(ctx, walletID, domain.WalletActive, "false", "unfreeze")
}

// updateFreezeState — унифицированный механизм переключения состояний.
// Обновляет БД, Redis-set (для прогрева новых инстансов) и транслирует сигнал.
func (s *WalletService) updateFreezeState(
	ctx context.Context,
	walletID string,
	status domain.WalletStatus,
	signalValue string,
	actionName string,
) error {
	// 1. Persistence Layer — источник правды
	if err := s.repo.UpdateWalletStatus(ctx, walletID, status); err != nil {
		s.logger.Error("failed to update wallet status in DB",
			zap.String("wallet_id", walletID),
			zap.String("action", actionName),
			zap.Error(err))
		return fmt.Errorf("%s database error: %w", actionName, err)
	}

	// 2. L2-кэш для warm-up шлюзов
	var cacheErr error
	if status == domain.WalletFrozen {
		cacheErr = s.rdb.SAdd(ctx, infra.RedisKeyFrozenWallets, walletID).Err()
	} else {
		cacheErr = s.rdb.SRem(ctx, infra.RedisKeyFrozenWallets, walletID).Err()
	}
	if cacheErr != nil {
		s.logger.Warn("frozen set update failed", zap.String("wallet_id", walletID), zap.Error(cacheErr))
	}

	// 3. Real-time Signaling
	payload := fmt.Sprintf("%s:%s", walletID, signalValue)
	if err := s.rdb.Publish(ctx, infra.RedisChanFreeze, payload).Err(); err != nil {
		// Шлюзы пересинхронизируются из БД при переподключении слушателя
		s.logger.Warn("runtime signal delivery failed",
			zap.String("action", actionName),
			zap.Error(err))
	} else {
		s.logger.Info("wallet state updated successfully",
			zap.String("wallet_id", walletID),
			zap.String("action", actionName),
			zap.String("new_status", string(status)))
	}

	return nil
}
