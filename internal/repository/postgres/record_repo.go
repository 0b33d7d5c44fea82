package postgres

/*
Файл record_repo.go — жизненный цикл TransactionRecord.
Запись создается в PENDING или DENIED и финализируется ровно один раз:
все финализирующие UPDATE'ы защищены условием WHERE status = 'PENDING',
поэтому гонка двух финализаций невозможна на уровне БД.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/chainvault-custody/internal/domain"
)

func (r *Repo) CreateRecord(ctx context.Context, rec *domain.TransactionRecord) error {
	query := `
		INSERT INTO transaction_records (wallet_id, credential_id, action_kind, request, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		rec.WalletID, rec.CredentialID, rec.ActionKind, rec.Request, rec.Status, rec.Reason,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to create transaction record: %w", err)
	}
	return nil
}

func (r *Repo) GetRecordByID(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	query := `
		SELECT id, wallet_id, credential_id, action_kind, request, status, response, reason, tx_hash, created_at, updated_at
		FROM transaction_records
		WHERE id = $1`

	rec := &domain.TransactionRecord{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.WalletID, &rec.CredentialID, &rec.ActionKind, &rec.Request,
		&rec.Status, &rec.Response, &rec.Reason, &rec.TxHash, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to fetch record: %w", err)
	}
	return rec, nil
}

// ListRecords — выборка для Console (фильтры опциональны).
func (r *Repo) ListRecords(ctx context.Context, walletID string, status domain.RecordStatus) ([]*domain.TransactionRecord, error) {
	query := `
		SELECT id, wallet_id, credential_id, action_kind, request, status, response, reason, tx_hash, created_at, updated_at
		FROM transaction_records`

	var args []interface{}
	where := ""
	if walletID != "" {
		args = append(args, walletID)
		where = fmt.Sprintf(" WHERE wallet_id = $%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		if where == "" {
			where = fmt.Sprintf(" WHERE status = $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND status = $%d", len(args))
		}
	}

	rows, err := r.pool.Query(ctx, query+where+" ORDER BY created_at DESC LIMIT 100", args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query records: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.TransactionRecord, 0)
	for rows.Next() {
		rec := &domain.TransactionRecord{}
		err := rows.Scan(
			&rec.ID, &rec.WalletID, &rec.CredentialID, &rec.ActionKind, &rec.Request,
			&rec.Status, &rec.Response, &rec.Reason, &rec.TxHash, &rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan record: %w", err)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// FinalizeExecuted переводит PENDING -> EXECUTED с хэшем транзакции.
func (r *Repo) FinalizeExecuted(ctx context.Context, id, txHash string, response json.RawMessage) error {
	return r.finalize(ctx, id, domain.RecordExecuted, "", txHash, response)
}

// FinalizeFailed переводит PENDING -> FAILED, сохраняя детали ошибки.
func (r *Repo) FinalizeFailed(ctx context.Context, id, reason string, response json.RawMessage) error {
	return r.finalize(ctx, id, domain.RecordFailed, reason, "", response)
}

// FinalizeDenied переводит PENDING -> DENIED (reject/expiry апрува).
func (r *Repo) FinalizeDenied(ctx context.Context, id, reason string) error {
	return r.finalize(ctx, id, domain.RecordDenied, reason, "", nil)
}

func (r *Repo) finalize(ctx context.Context, id string, status domain.RecordStatus, reason, txHash string, response json.RawMessage) error {
	query := `
		UPDATE transaction_records
		SET status = $1,
		    reason = CASE WHEN $2 = '' THEN reason ELSE $2 END,
		    tx_hash = CASE WHEN $3 = '' THEN tx_hash ELSE $3 END,
		    response = COALESCE($4, response),
		    updated_at = NOW()
		WHERE id = $5 AND status = 'PENDING'`

	ct, err := r.pool.Exec(ctx, query, status, reason, txHash, response, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to finalize record: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// Либо запись не существует, либо уже финализирована
		return domain.ErrRecordFinalized
	}
	return nil
}

// SumExecutedUSDSince — сумма usd_value по EXECUTED записям кошелька
// начиная с since. Нечисловые/отсутствующие значения дают нулевой вклад.
func (r *Repo) SumExecutedUSDSince(ctx context.Context, walletID string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(
			CASE WHEN (request->>'usd_value') ~ '^[0-9]+(\.[0-9]+)?$'
			     THEN (request->>'usd_value')::float8
			     ELSE 0 END), 0)
		FROM transaction_records
		WHERE wallet_id = $1 AND status = 'EXECUTED' AND created_at >= $2`

	var sum float64
	if err := r.pool.QueryRow(ctx, query, walletID, since).Scan(&sum); err != nil {
		return 0, fmt.Errorf("postgres: failed to sum executed usd: %w", err)
	}
	return sum, nil
}
