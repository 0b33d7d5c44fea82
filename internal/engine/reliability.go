package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/chainvault-custody/internal/connectors"
	"github.com/xela07ax/chainvault-custody/internal/domain"
	"github.com/xela07ax/chainvault-custody/internal/infra"
)

// ReliabilityWrapper оборачивает signer-коннектор в Retries/CB/Rate Limit.
// Ретраи только на транспортных сбоях: прикладная ExecutionError
// (insufficient_funds и т.п.) не ретраится — повтор подписи опасен.
type ReliabilityWrapper struct {
	next    connectors.ExecutionProvider
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *Metrics
}

func NewReliabilityWrapper(next connectors.ExecutionProvider, cfg infra.EngineConfig, metrics *Metrics) *ReliabilityWrapper {
	w := &ReliabilityWrapper{next: next, metrics: metrics}

	// Настройка предохранителя
	w.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "custody-signer",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if metrics == nil {
				return
			}
			if to == gobreaker.StateOpen {
				metrics.CircuitBreakerState.Set(1)
			} else {
				metrics.CircuitBreakerState.Set(0)
			}
		},
	})

	// Лимитер исходящего трафика к signer'у
	w.limiter = rate.NewLimiter(rate.Limit(100), 20)

	return w
}

func (w *ReliabilityWrapper) ExecuteOnChain(ctx context.Context, keyRef string, action domain.ProposedAction) (*connectors.ExecutionResult, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	var (
		finalRes    *connectors.ExecutionResult
		terminalErr error
	)

	// 2. Circuit Breaker
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Signer вернул ThrottleError (вычитал Retry-After у RPC-ноды)
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// Остальное (сетевой лаг, 500-ка) — экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			var callErr error
			finalRes, callErr = w.next.ExecuteOnChain(tCtx, keyRef, action)

			// Прикладной отказ (insufficient_funds и т.п.) терминален: повтор
			// подписи опасен, и это не сбой signer'а — CB trip не нужен.
			var execErr *connectors.ExecutionError
			if errors.As(callErr, &execErr) && execErr.Kind != "signer_unavailable" {
				terminalErr = callErr
				return nil
			}
			return callErr
		})

		return finalRes, retryErr
	})

	if err != nil {
		return nil, err
	}
	if terminalErr != nil {
		return nil, terminalErr
	}

	return cbResult.(*connectors.ExecutionResult), nil
}
