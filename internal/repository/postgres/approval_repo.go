package postgres

/*
Файл approval_repo.go — механизм Human-in-the-loop (HITL).
Резолюция заявки терминальна: все UPDATE'ы защищены условием
WHERE status = 'pending', Double Decision невозможен на уровне БД.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/chainvault-custody/internal/domain"
)

// CreateApproval создает заявку на подтверждение для приостановленного действия.
func (r *Repo) CreateApproval(ctx context.Context, app *domain.ApprovalRequest) error {
	query := `
		INSERT INTO approvals (record_id, wallet_id, reason, status, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		app.RecordID, app.WalletID, app.Reason, app.Status, app.ExpiresAt,
	).Scan(&app.ID, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to create approval request: %w", err)
	}
	return nil
}

// GetApprovalByID — детали заявки для анализа оператором.
func (r *Repo) GetApprovalByID(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	query := `
		SELECT id, record_id, wallet_id, reason, status, reviewer_id, comment,
		       expires_at, resolved_at, created_at, updated_at
		FROM approvals WHERE id = $1`

	return r.scanApproval(r.pool.QueryRow(ctx, query, id))
}

// GetApprovalByRecordID — заявка, привязанная к записи (у записи максимум одна).
func (r *Repo) GetApprovalByRecordID(ctx context.Context, recordID string) (*domain.ApprovalRequest, error) {
	query := `
		SELECT id, record_id, wallet_id, reason, status, reviewer_id, comment,
		       expires_at, resolved_at, created_at, updated_at
		FROM approvals WHERE record_id = $1`

	return r.scanApproval(r.pool.QueryRow(ctx, query, recordID))
}

func (r *Repo) scanApproval(row pgx.Row) (*domain.ApprovalRequest, error) {
	var app domain.ApprovalRequest
	var reviewerID, comment sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&app.ID, &app.RecordID, &app.WalletID, &app.Reason, &app.Status,
		&reviewerID, &comment, &app.ExpiresAt, &resolvedAt,
		&app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to fetch approval: %w", err)
	}

	if reviewerID.Valid {
		val := reviewerID.String
		app.ReviewerID = &val
	}
	if comment.Valid {
		val := comment.String
		app.Comment = &val
	}
	if resolvedAt.Valid {
		val := resolvedAt.Time
		app.ResolvedAt = &val
	}
	return &app, nil
}

// FindApprovals — очередь заявок для Console (Decision Queue).
func (r *Repo) FindApprovals(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error) {
	query := `
		SELECT id, record_id, wallet_id, reason, status, reviewer_id, comment,
		       expires_at, resolved_at, created_at, updated_at
		FROM approvals`

	var args []interface{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT 100"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query approvals: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.ApprovalRequest, 0)
	for rows.Next() {
		app, err := r.scanApproval(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, app)
	}
	return results, rows.Err()
}

// ResolveApproval атомарно фиксирует решение оператора.
// WHERE status='pending' AND expires_at > NOW() отсекает и Double Decision,
// и попытку решить уже истекшую заявку. RETURNING отдает record_id за один
// проход — без предварительного SELECT и связанной с ним гонки.
func (r *Repo) ResolveApproval(ctx context.Context, id string, status domain.ApprovalStatus, reviewerID, comment string) (string, error) {
	var recordID string
	query := `
		UPDATE approvals
		SET status = $1,
		    reviewer_id = $2,
		    comment = $3,
		    resolved_at = NOW(),
		    updated_at = NOW()
		WHERE id = $4 AND status = 'pending' AND expires_at > NOW()
		RETURNING record_id`

	err := r.pool.QueryRow(ctx, query, status, reviewerID, comment, id).Scan(&recordID)
	if err == nil {
		return recordID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("postgres: failed to resolve approval: %w", err)
	}

	// Строк нет: разбираемся, почему — не найдена, уже решена или истекла
	app, lookupErr := r.GetApprovalByID(ctx, id)
	switch {
	case lookupErr != nil:
		return "", lookupErr
	case app == nil:
		return "", fmt.Errorf("approval request not found (id: %s)", id)
	case app.Status != domain.ApprovalPending:
		return "", domain.ErrAlreadyProcessed
	default:
		return app.RecordID, domain.ErrApprovalExpired
	}
}

// ExpireApproval лениво переводит просроченную pending-заявку в expired.
func (r *Repo) ExpireApproval(ctx context.Context, id string) (string, error) {
	var recordID string
	query := `
		UPDATE approvals
		SET status = 'expired', resolved_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING record_id`

	err := r.pool.QueryRow(ctx, query, id).Scan(&recordID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrAlreadyProcessed
		}
		return "", fmt.Errorf("postgres: failed to expire approval: %w", err)
	}
	return recordID, nil
}

// ExpireOverdue — фоновый sweep: пачкой закрывает все просроченные заявки.
// Возвращает record_id каждой закрытой, чтобы финализировать записи DENIED.
func (r *Repo) ExpireOverdue(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		UPDATE approvals
		SET status = 'expired', resolved_at = NOW(), updated_at = NOW()
		WHERE status = 'pending' AND expires_at < $1
		RETURNING record_id`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to expire overdue approvals: %w", err)
	}
	defer rows.Close()

	recordIDs := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan record id error: %w", err)
		}
		recordIDs = append(recordIDs, id)
	}
	return recordIDs, rows.Err()
}
