package connectors

import (
	"fmt"
	"time"
)

// ExecutionError — типизированная ошибка исполнения on-chain действия.
// Kind пишется в TransactionRecord (FAILED) и уходит вызывающему.
type ExecutionError struct {
	Kind    string // "insufficient_funds", "nonce_conflict", "broadcast_failed", "signer_unavailable"
	Message string
	Cause   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed [%s]: %s", e.Kind, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}
