package domain

import (
	"errors"
	"time"
)

// Статусы State Machine: pending -> {approved, rejected, expired}, все терминальные.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

var (
	ErrInvalidTransition = errors.New("invalid approval status transition")
	ErrAlreadyProcessed  = errors.New("approval request already processed")
	ErrApprovalExpired   = errors.New("approval request expired")
)

// ApprovalRequest создается только при вердикте require-approval.
// Разрешается ровно один раз: решением оператора либо по истечении срока.
type ApprovalRequest struct {
	ID       string `json:"id"`
	RecordID string `json:"record_id"` // Ссылка на зависший TransactionRecord
	WalletID string `json:"wallet_id"`

	// Причина, по которой действие отправлено на подтверждение (из вердикта).
	Reason string `json:"reason"`

	Status ApprovalStatus `json:"status"`

	ReviewerID *string `json:"reviewer_id,omitempty"`
	Comment    *string `json:"comment,omitempty"`

	// Дедлайн решения. Активного таймера нет: истекшая заявка считается
	// expired лениво — при следующем чтении/решении либо фоновым sweep'ом.
	ExpiresAt  time.Time  `json:"expires_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransitionTo проверяет правила конечного автомата.
func (a *ApprovalRequest) CanTransitionTo(next ApprovalStatus) error {
	if a.Status != ApprovalPending {
		return ErrAlreadyProcessed
	}
	if next == ApprovalPending {
		return ErrInvalidTransition
	}
	return nil
}

// IsExpired — "pending, но дедлайн прошел" обязано трактоваться как expired
// на чтении. Это контракт ленивого истечения, см. координатор апрувов.
func (a *ApprovalRequest) IsExpired(now time.Time) bool {
	return a.Status == ApprovalPending && now.After(a.ExpiresAt)
}
