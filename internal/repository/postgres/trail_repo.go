package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/xela07ax/chainvault-custody/internal/audit"
)

// WriteBatch — пакетная вставка decision trail (вызывается воркером audit.Trail).
func (r *Repo) WriteBatch(ctx context.Context, events []audit.DecisionEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице decision_log
	numFields := 14
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12, p+13, p+14)

		vals = append(vals,
			e.ID, e.TraceID, e.WalletID, e.RecordID, e.ActionKind,
			e.Decision, e.PolicyKind, e.Reason, e.USDValue,
			e.Status, e.TxHash, e.Error, e.DurationMs, e.Timestamp,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO decision_log (id, trace_id, wallet_id, record_id, action_kind, decision, policy_kind, reason, usd_value, status, tx_hash, error, duration_ms, timestamp) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}

// FetchEvents — чтение decision trail с фильтрацией для Console.
func (r *Repo) FetchEvents(ctx context.Context, walletID, decision string) ([]audit.DecisionEvent, error) {
	query := `
		SELECT id, trace_id, wallet_id, record_id, action_kind, decision, policy_kind,
		       reason, usd_value, status, tx_hash, error, duration_ms, timestamp
		FROM decision_log`

	var args []interface{}
	var conds []string
	if walletID != "" {
		args = append(args, walletID)
		conds = append(conds, fmt.Sprintf("wallet_id = $%d", len(args)))
	}
	if decision != "" {
		args = append(args, decision)
		conds = append(conds, fmt.Sprintf("decision = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT 200"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query decision log: %w", err)
	}
	defer rows.Close()

	results := make([]audit.DecisionEvent, 0)
	for rows.Next() {
		var e audit.DecisionEvent
		err := rows.Scan(
			&e.ID, &e.TraceID, &e.WalletID, &e.RecordID, &e.ActionKind,
			&e.Decision, &e.PolicyKind, &e.Reason, &e.USDValue,
			&e.Status, &e.TxHash, &e.Error, &e.DurationMs, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan decision event: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}
