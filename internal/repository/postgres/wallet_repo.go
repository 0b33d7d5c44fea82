package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/chainvault-custody/internal/domain"
)

func (r *Repo) GetWallet(ctx context.Context, id string) (*domain.Wallet, error) {
	query := `
		SELECT id, owner_id, name, address, chain_id, key_ref, status, last_activity, created_at, updated_at
		FROM wallets WHERE id = $1`

	w := &domain.Wallet{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&w.ID, &w.OwnerID, &w.Name, &w.Address, &w.ChainID, &w.KeyRef,
		&w.Status, &w.LastActivity, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to fetch wallet: %w", err)
	}
	return w, nil
}

func (r *Repo) ListWallets(ctx context.Context, ownerID string) ([]*domain.Wallet, error) {
	query := `
		SELECT id, owner_id, name, address, chain_id, key_ref, status, last_activity, created_at, updated_at
		FROM wallets`

	var args []interface{}
	if ownerID != "" {
		query += " WHERE owner_id = $1"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query wallets: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.Wallet, 0)
	for rows.Next() {
		w := &domain.Wallet{}
		err := rows.Scan(
			&w.ID, &w.OwnerID, &w.Name, &w.Address, &w.ChainID, &w.KeyRef,
			&w.Status, &w.LastActivity, &w.CreatedAt, &w.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan wallet: %w", err)
		}
		results = append(results, w)
	}
	return results, rows.Err()
}

// UpdateWalletStatus — заморозка/разморозка (kill-switch владельца).
func (r *Repo) UpdateWalletStatus(ctx context.Context, id string, status domain.WalletStatus) error {
	query := `UPDATE wallets SET status = $1, updated_at = NOW() WHERE id = $2`

	ct, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update wallet status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: wallet %s not found", id)
	}
	return nil
}

// TouchWalletActivity отмечает последнее успешное действие.
func (r *Repo) TouchWalletActivity(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE wallets SET last_activity = NOW() WHERE id = $1`, id)
	return err
}

// GetFrozenWallets — ID всех замороженных кошельков.
// Инициализирует L1 (RAM) кэш FreezeManager при старте шлюза.
func (r *Repo) GetFrozenWallets(ctx context.Context) ([]string, error) {
	// Только ID, чтобы минимизировать трафик между БД и приложением
	query := `SELECT id FROM wallets WHERE status = 'frozen'`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch frozen wallets: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan wallet id error: %w", err)
		}
		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return ids, nil
}
