package postgres

import (
	"context"

	"github.com/xela07ax/chainvault-custody/internal/domain"
)

// GetUnifiedDashboard собирает сводку для главного экрана Console.
func (r *Repo) GetUnifiedDashboard(ctx context.Context) (*domain.UnifiedDashboard, error) {
	d := &domain.UnifiedDashboard{}

	// 1. Состояние кошельков и очередь HITL
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM wallets WHERE status = 'active'),
			(SELECT COUNT(*) FROM wallets WHERE status = 'frozen'),
			(SELECT COUNT(*) FROM approvals WHERE status = 'pending')
		`).Scan(&d.Activity.ActiveWallets, &d.Incidents.FrozenWallets, &d.Risks.PendingApprovals)
	if err != nil {
		return nil, err
	}

	// 2. Метрики из decision_log за последние 60 минут.
	// PERCENTILE_CONT дает честный P95 Latency.
	err = r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE decision = 'deny'),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY duration_ms), 0)
		FROM decision_log
		WHERE timestamp > NOW() - INTERVAL '60 minutes'`).Scan(
		&d.Activity.TotalActions,
		&d.Risks.DeniedActions,
		&d.Incidents.FailedExecutions,
		&d.Quality.P95Latency,
	)

	// RPS = всего действий за час / 3600
	d.Activity.RPS = float64(d.Activity.TotalActions) / 3600

	return d, err
}
