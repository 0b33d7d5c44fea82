package connectors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/xela07ax/chainvault-custody/internal/domain"
)

// MockSigner имитирует signer-сервис: задержка 50-300мс, детерминированные
// сценарии отказов по спец-адресам. Для dev-режима и интеграционных проверок.
type MockSigner struct{}

func (c *MockSigner) ExecuteOnChain(ctx context.Context, keyRef string, action domain.ProposedAction) (*ExecutionResult, error) {
	latency := time.Duration(50+rand.Intn(250)) * time.Millisecond

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch action.To {
	case "0x000000000000000000000000000000000000dead":
		return nil, &ExecutionError{Kind: "insufficient_funds", Message: "balance too low for value + gas"}
	case "0x00000000000000000000000000000000deadbeef":
		return nil, &ThrottleError{RetryAfter: 500 * time.Millisecond, Cause: fmt.Errorf("rpc node rate limit")}
	}

	return &ExecutionResult{
		TxHash: fmt.Sprintf("0x%064x", rand.Uint64()),
		Meta: map[string]interface{}{
			"nonce":    float64(rand.Intn(1000)),
			"gas_used": float64(21000),
			"chain_id": float64(action.ChainID),
		},
	}, nil
}
