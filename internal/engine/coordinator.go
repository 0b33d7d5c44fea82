package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/chainvault-custody/internal/domain"
)

// ApprovalCoordinator — потребитель решений HITL на стороне шлюза.
// Консоль атомарно резолвит заявку в БД и публикует "record_id:STATUS";
// здесь сигнал превращается в ровно одно исполнение (approved) либо
// финализацию записи как DENIED (rejected/expired). Гарантию "ровно один раз"
// держит БД: guarded UPDATE финализации не пройдет второй раз.
type ApprovalCoordinator struct {
	orch    *Orchestrator
	rdb     *redis.Client
	metrics *Metrics
	logger  *zap.Logger
}

func NewApprovalCoordinator(orch *Orchestrator, rdb *redis.Client, metrics *Metrics, logger *zap.Logger) *ApprovalCoordinator {
	return &ApprovalCoordinator{orch: orch, rdb: rdb, metrics: metrics, logger: logger}
}

// StartListener — живучая подписка на канал решений.
// Формат payload'а отличается от bool-сигналов freeze, поэтому свой цикл.
func (c *ApprovalCoordinator) StartListener(ctx context.Context, channel string) {
	for {
		pubsub := c.rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			c.logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
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
				c.handleSignal(ctx, msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}

func (c *ApprovalCoordinator) handleSignal(ctx context.Context, payload string) {
	parts := strings.SplitN(payload, ":", 2)
	if len(parts) != 2 {
		c.logger.Error("invalid approval signal format", zap.String("payload", payload))
		return
	}
	recordID, status := parts[0], domain.ApprovalStatus(strings.ToLower(parts[1]))

	c.logger.Info("approval decision received",
		zap.String("record_id", recordID), zap.String("status", string(status)))
	c.metrics.ApprovalsResolved.WithLabelValues(string(status)).Inc()

	switch status {
	case domain.ApprovalApproved:
		if err := c.orch.ResumeApproved(ctx, recordID); err != nil {
			if errors.Is(err, domain.ErrRecordFinalized) {
				// Другой инстанс уже обработал сигнал
				return
			}
			c.logger.Error("approved action execution failed",
				zap.String("record_id", recordID), zap.Error(err))
		}

	case domain.ApprovalRejected:
		if err := c.orch.FinalizeDeniedRecord(ctx, recordID, "rejected by reviewer"); err != nil {
			c.logger.Error("record denial failed", zap.String("record_id", recordID), zap.Error(err))
		}

	case domain.ApprovalExpired:
		if err := c.orch.FinalizeDeniedRecord(ctx, recordID, "approval timed out"); err != nil {
			c.logger.Error("record denial failed", zap.String("record_id", recordID), zap.Error(err))
		}

	default:
		c.logger.Error("unknown approval status", zap.String("payload", payload))
	}
}
