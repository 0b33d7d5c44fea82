package connectors

import (
	"context"

	"github.com/xela07ax/chainvault-custody/internal/domain"
)

// ExecutionResult — ответ signer-сервиса после подписи и broadcast'а.
type ExecutionResult struct {
	TxHash string                 `json:"tx_hash"`
	Meta   map[string]interface{} `json:"meta,omitempty"` // gas, nonce, raw tx и т.п.
}

// ExecutionProvider — внешний адаптер подписи/отправки.
// Синхронный с точки зрения оркестратора: ждем результат или ошибку.
type ExecutionProvider interface {
	ExecuteOnChain(ctx context.Context, keyRef string, action domain.ProposedAction) (*ExecutionResult, error)
}
