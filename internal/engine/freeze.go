package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/chainvault-custody/internal/infra"
)

// FreezeManager держит потокобезопасный L1-кэш замороженных кошельков.
// Источник истины — таблица wallets, L2 — Redis-set (для прогрева других
// инстансов), сигналы заморозки приходят по pub/sub из консоли.
type FreezeManager struct {
	mu     sync.RWMutex
	frozen map[string]struct{}
	rdb    *redis.Client
	logger *zap.Logger
}

func NewFreezeManager(rdb *redis.Client, logger *zap.Logger) *FreezeManager {
	return &FreezeManager{
		frozen: make(map[string]struct{}),
		rdb:    rdb,
		logger: logger,
	}
}

// Init загружает текущее состояние заморозок при старте сервиса
func (m *FreezeManager) Init(ctx context.Context) error {
	ids, err := m.rdb.SMembers(ctx, infra.RedisKeyFrozenWallets).Result()
	if err != nil {
		return err
	}

	m.mu.Lock()
	for _, id := range ids {
		m.frozen[id] = struct{}{}
	}
	m.mu.Unlock()
	return nil
}

func (m *FreezeManager) IsFrozen(walletID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, frozen := m.frozen[walletID]
	return frozen
}

func (m *FreezeManager) setFrozen(walletID string, frozen bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if frozen {
		m.frozen[walletID] = struct{}{}
	} else {
		delete(m.frozen, walletID)
	}
}

func (m *FreezeManager) replaceAll(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	m.mu.Lock()
	m.frozen = next
	m.mu.Unlock()
}

// Warmup синхронизирует L1 и L2 со списком замороженных кошельков из БД.
// Redis-set заполняет только один инстанс (SetNX-лок), остальные гоняются
// только за L1.
func (m *FreezeManager) Warmup(ctx context.Context, ids []string) error {
	m.replaceAll(ids)

	ok, err := m.rdb.SetNX(ctx, infra.RedisKeyLockFrozenWarm, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		// Либо сеть моргнула, либо другой инстанс уже греет L2
		return nil
	}

	count, err := m.rdb.SCard(ctx, infra.RedisKeyFrozenWallets).Result()
	if err != nil {
		count = 0
		m.logger.Warn("could not check frozen set size, proceeding with warm-up", zap.Error(err))
	}

	if count > 0 || len(ids) == 0 {
		return nil
	}

	m.logger.Info("frozen-wallet set is empty in Redis, warming up from DB",
		zap.Int("count", len(ids)))

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return m.rdb.SAdd(ctx, infra.RedisKeyFrozenWallets, members...).Err()
}

// StartListener подписывается на сигналы заморозки и обновляет состояние.
// Подписка живучая: при разрыве переподключаемся и пересинхронизируемся из
// БД через syncFromDB, чтобы не потерять сигналы за время разрыва.
func (m *FreezeManager) StartListener(ctx context.Context, syncFromDB func(context.Context) ([]string, error)) {
	for {
		pubsub := m.rdb.Subscribe(ctx, infra.RedisChanFreeze)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			m.logger.Error("failed to subscribe to freeze channel", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		if ids, err := syncFromDB(ctx); err != nil {
			m.logger.Error("freeze re-sync from DB failed", zap.Error(err))
		} else if err := m.Warmup(ctx, ids); err != nil {
			m.logger.Error("freeze warm-up failed", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				m.handleSignal(msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}

// handleSignal разбирает формат "wallet_id:status"
func (m *FreezeManager) handleSignal(payload string) {
	walletID, rawStatus, found := strings.Cut(payload, ":")
	if !found || walletID == "" {
		m.logger.Error("invalid freeze signal format", zap.String("payload", payload))
		return
	}

	frozen := rawStatus == "true" || rawStatus == "on"
	m.logger.Info("freeze signal received",
		zap.String("wallet_id", walletID), zap.Bool("frozen", frozen))
	m.setFrozen(walletID, frozen)
}
