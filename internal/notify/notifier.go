package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/chainvault-custody/internal/domain"
	"github.com/xela07ax/chainvault-custody/internal/infra"
)

// ApprovalNotifier доставляет сигнал "нужно решение человека" во внешний
// канал: webhook (Slack/PagerDuty-совместимый JSON) + Redis pub/sub для
// консоли. Вызывается fire-and-forget: любой сбой здесь только логируется.
type ApprovalNotifier struct {
	webhookURL string
	client     *http.Client
	rdb        *redis.Client
	logger     *zap.Logger
}

func NewApprovalNotifier(webhookURL string, timeout time.Duration, rdb *redis.Client, logger *zap.Logger) *ApprovalNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ApprovalNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		rdb:        rdb,
		logger:     logger,
	}
}

type approvalPayload struct {
	ApprovalID string                `json:"approval_id"`
	RecordID   string                `json:"record_id"`
	WalletID   string                `json:"wallet_id"`
	Reason     string                `json:"reason"`
	Action     domain.ProposedAction `json:"action"`
	ExpiresAt  time.Time             `json:"expires_at"`
	Text       string                `json:"text"` // Человекочитаемая сводка
}

func (n *ApprovalNotifier) ApprovalCreated(app *domain.ApprovalRequest, action domain.ProposedAction) {
	ctx, cancel := context.WithTimeout(context.Background(), n.client.Timeout)
	defer cancel()

	// Сигнал консоли, чтобы очередь заявок обновлялась без поллинга БД
	if err := n.rdb.Publish(ctx, infra.RedisChanApprovalCreated, app.ID).Err(); err != nil {
		n.logger.Warn("approval pub/sub notify failed", zap.String("approval_id", app.ID), zap.Error(err))
	}

	if n.webhookURL == "" {
		return
	}

	payload := approvalPayload{
		ApprovalID: app.ID,
		RecordID:   app.RecordID,
		WalletID:   app.WalletID,
		Reason:     app.Reason,
		Action:     action,
		ExpiresAt:  app.ExpiresAt,
		Text: fmt.Sprintf("Approval needed: %s on wallet %s — %s (expires %s)",
			action.Kind, app.WalletID, app.Reason, app.ExpiresAt.UTC().Format(time.RFC3339)),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("approval payload marshal failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("webhook request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("approval webhook delivery failed", zap.String("approval_id", app.ID), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("approval webhook rejected",
			zap.String("approval_id", app.ID), zap.Int("status", resp.StatusCode))
	}
}
