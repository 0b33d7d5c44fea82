package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/chainvault-custody/internal/infra"
)

// QuotaError — отказ до любой работы с политиками: владелец исчерпал
// месячную квоту действий либо квотный бэкенд недоступен (fail-closed).
type QuotaError struct {
	Reason string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota: %s", e.Reason)
}

// Gate — месячный счетчик действий владельца в Redis.
// Счетчик инкрементируется на каждую попытку (включая будущие deny):
// квота измеряет нагрузку на движок, а не число успешных транзакций.
type Gate struct {
	rdb     *redis.Client
	monthly int64
	logger  *zap.Logger
	now     func() time.Time
}

func NewGate(rdb *redis.Client, monthlyActions int64, logger *zap.Logger) *Gate {
	return &Gate{rdb: rdb, monthly: monthlyActions, logger: logger, now: time.Now}
}

// Consume атомарно инкрементирует счетчик текущего месяца и сверяет лимит.
// INCR+EXPIRE вместо read-then-write: две гонящиеся попытки не проскочат обе.
func (g *Gate) Consume(ctx context.Context, ownerID string) error {
	if g.monthly <= 0 {
		return nil // Квота отключена
	}

	key := infra.QuotaKey(ownerID, g.now().UTC().Format("200601"))

	count, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		// Fail-closed: без квотного бэкенда действия не пропускаем
		g.logger.Error("quota backend unavailable", zap.String("owner_id", ownerID), zap.Error(err))
		return &QuotaError{Reason: "quota backend unavailable"}
	}

	if count == 1 {
		// Первый инкремент месяца: ключ должен умереть сам после смены месяца
		g.rdb.Expire(ctx, key, 35*24*time.Hour)
	}

	if count > g.monthly {
		return &QuotaError{Reason: fmt.Sprintf("monthly action quota of %d exhausted", g.monthly)}
	}
	return nil
}
