package domain

import "time"

type WalletStatus string

const (
	WalletActive WalletStatus = "active"
	WalletFrozen WalletStatus = "frozen" // Kill-switch владельца: все действия отклоняются
)

// Wallet — кастодиальный ключ. Сам ключевой материал живет во внешнем
// signer-сервисе, здесь только ссылка (KeyRef) и управляемое состояние.
type Wallet struct {
	ID      string `json:"id"` // UUID
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`

	Address string `json:"address"` // Публичный адрес
	ChainID int64  `json:"chain_id"`

	// Непрозрачная ссылка для signer'а (идентификатор ключа в KMS).
	KeyRef string `json:"-"`

	Status WalletStatus `json:"status"`

	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
