package postgres

/*
Файл policy_repo.go отвечает за хранение правил безопасности (Policies).
Долговременное хранение в PostgreSQL отделено от мгновенной проверки:
шлюз читает политики из RAM-кэша (internal/policy.MemoSource), который
перечитывает эту таблицу по сигналу из Redis.
*/

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xela07ax/chainvault-custody/internal/domain"
)

func (r *Repo) GetPolicyByID(ctx context.Context, id string) (*domain.Policy, error) {
	query := `
		SELECT id, wallet_id, kind, config, created_at, updated_at
		FROM policies
		WHERE id = $1`

	p := &domain.Policy{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.WalletID,
		&p.Kind,
		&p.Config,
		&p.CreatedAt,
		&p.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // nil для 404 в хендлере
		}
		return nil, err
	}
	return p, nil
}

// GetAllPolicies — холодная загрузка всего набора политик при старте шлюза.
// Порядок (created_at, id) — это детерминированный порядок evaluator'а.
func (r *Repo) GetAllPolicies(ctx context.Context) ([]domain.Policy, error) {
	query := `
		SELECT id, wallet_id, kind, config, created_at, updated_at
		FROM policies
		ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Policy
	for rows.Next() {
		var p domain.Policy
		if err := rows.Scan(&p.ID, &p.WalletID, &p.Kind, &p.Config, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// GetPoliciesByWallet — политики одного кошелька в порядке создания.
func (r *Repo) GetPoliciesByWallet(ctx context.Context, walletID string) ([]domain.Policy, error) {
	query := `
		SELECT id, wallet_id, kind, config, created_at, updated_at
		FROM policies
		WHERE wallet_id = $1
		ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Policy, 0)
	for rows.Next() {
		var p domain.Policy
		if err := rows.Scan(&p.ID, &p.WalletID, &p.Kind, &p.Config, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// CreatePolicy создает новую запись. Повторный kind для того же кошелька
// ловится уникальным индексом и возвращается как доменная ошибка.
func (r *Repo) CreatePolicy(ctx context.Context, p *domain.Policy) error {
	query := `
		INSERT INTO policies (wallet_id, kind, config)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query, p.WalletID, p.Kind, p.Config).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrPolicyKindExists
		}
		return fmt.Errorf("postgres: failed to create policy: %w", err)
	}
	return nil
}

// UpdatePolicy заменяет конфиг существующей политики (kind не меняется).
func (r *Repo) UpdatePolicy(ctx context.Context, p *domain.Policy) error {
	query := `
		UPDATE policies
		SET config = $1, updated_at = NOW()
		WHERE id = $2`

	ct, err := r.pool.Exec(ctx, query, p.Config, p.ID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update policy: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: policy not found")
	}
	return nil
}

// DeletePolicy удаляет политику по ID. Удаленная политика немедленно
// пропадает из будущих оценок (после инвалидации кэша).
func (r *Repo) DeletePolicy(ctx context.Context, id string) error {
	query := `DELETE FROM policies WHERE id = $1`

	ct, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete policy: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: policy not found")
	}
	return nil
}
