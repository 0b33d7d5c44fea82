package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PolicyKind — закрытое перечисление видов политик.
// Диспетчеризация по kind идет через switch (см. internal/policy),
// добавление нового вида — это compile-time изменение, а не map lookup.
type PolicyKind string

const (
	KindAddressAllowlist   PolicyKind = "ADDRESS_ALLOWLIST"
	KindFunctionAllowlist  PolicyKind = "FUNCTION_ALLOWLIST"
	KindTokenAllowlist     PolicyKind = "TOKEN_ALLOWLIST"
	KindSpendingLimitPerTx PolicyKind = "SPENDING_LIMIT_PER_TX"
	KindSpendingLimitDaily PolicyKind = "SPENDING_LIMIT_DAILY"
	KindSpendingLimitWeek  PolicyKind = "SPENDING_LIMIT_WEEKLY"
	KindRequireApproval    PolicyKind = "REQUIRE_APPROVAL"

	// KindApprovalThreshold — устаревший вид, оставлен для совместимости
	// со старыми кошельками. Evaluator обязан его понимать.
	KindApprovalThreshold PolicyKind = "APPROVAL_THRESHOLD"
)

var (
	ErrPolicyKindExists  = errors.New("policy of this kind already exists for wallet")
	ErrUnknownPolicyKind = errors.New("unknown policy kind")
)

// DenyCapable сообщает, может ли политика этого вида вернуть deny.
// Порядок проходов в evaluator: сначала deny-capable, потом approval-only.
func (k PolicyKind) DenyCapable() bool {
	switch k {
	case KindAddressAllowlist, KindFunctionAllowlist, KindTokenAllowlist,
		KindSpendingLimitPerTx, KindSpendingLimitDaily, KindSpendingLimitWeek:
		return true
	case KindRequireApproval, KindApprovalThreshold:
		return false
	}
	return false
}

// Valid проверяет, что kind входит в перечисление (защита на границе API).
func (k PolicyKind) Valid() bool {
	switch k {
	case KindAddressAllowlist, KindFunctionAllowlist, KindTokenAllowlist,
		KindSpendingLimitPerTx, KindSpendingLimitDaily, KindSpendingLimitWeek,
		KindRequireApproval, KindApprovalThreshold:
		return true
	}
	return false
}

// Window возвращает скользящее окно для лимитов по времени.
// Ноль — политика не оконная.
func (k PolicyKind) Window() time.Duration {
	switch k {
	case KindSpendingLimitDaily:
		return 24 * time.Hour
	case KindSpendingLimitWeek:
		return 7 * 24 * time.Hour
	}
	return 0
}

// Policy — правило безопасности, принадлежащее ровно одному кошельку.
// Инвариант: не более одной политики каждого вида на кошелек
// (уникальный индекс wallet_id+kind в Postgres).
type Policy struct {
	ID       string     `json:"id"`
	WalletID string     `json:"wallet_id"`
	Kind     PolicyKind `json:"kind"`

	// Конфигурация, специфичная для вида: списки адресов, лимиты в USD и т.д.
	// Храним как JSONB, декодируем типизированно через методы ниже.
	Config json.RawMessage `json:"config"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AllowlistConfig — конфиг для ADDRESS_ALLOWLIST / FUNCTION_ALLOWLIST / TOKEN_ALLOWLIST.
// Для FUNCTION_ALLOWLIST в Items лежат 4-байтовые селекторы ("0xa9059cbb").
type AllowlistConfig struct {
	Items            []string `json:"items"`
	ApprovalOverride bool     `json:"approval_override"`
}

// LimitConfig — конфиг для SPENDING_LIMIT_* (максимум в USD).
type LimitConfig struct {
	MaxUSD           float64 `json:"max_usd"`
	ApprovalOverride bool    `json:"approval_override"`
}

// ToggleConfig — конфиг для REQUIRE_APPROVAL.
type ToggleConfig struct {
	Enabled bool `json:"enabled"`
}

// ThresholdConfig — конфиг устаревшего APPROVAL_THRESHOLD.
type ThresholdConfig struct {
	ThresholdUSD float64 `json:"threshold_usd"`
}

func (p *Policy) AllowlistConfig() (AllowlistConfig, error) {
	var c AllowlistConfig
	if err := json.Unmarshal(p.Config, &c); err != nil {
		return c, fmt.Errorf("policy %s: bad allowlist config: %w", p.ID, err)
	}
	return c, nil
}

func (p *Policy) LimitConfig() (LimitConfig, error) {
	var c LimitConfig
	if err := json.Unmarshal(p.Config, &c); err != nil {
		return c, fmt.Errorf("policy %s: bad limit config: %w", p.ID, err)
	}
	return c, nil
}

func (p *Policy) ToggleConfig() (ToggleConfig, error) {
	var c ToggleConfig
	if err := json.Unmarshal(p.Config, &c); err != nil {
		return c, fmt.Errorf("policy %s: bad toggle config: %w", p.ID, err)
	}
	return c, nil
}

func (p *Policy) ThresholdConfig() (ThresholdConfig, error) {
	var c ThresholdConfig
	if err := json.Unmarshal(p.Config, &c); err != nil {
		return c, fmt.Errorf("policy %s: bad threshold config: %w", p.ID, err)
	}
	return c, nil
}

// ValidateConfig проверяет конфиг на границе API (Console), до записи в БД.
func (p *Policy) ValidateConfig() error {
	switch p.Kind {
	case KindAddressAllowlist, KindFunctionAllowlist, KindTokenAllowlist:
		c, err := p.AllowlistConfig()
		if err != nil {
			return err
		}
		if len(c.Items) == 0 {
			return fmt.Errorf("policy kind %s: items must not be empty", p.Kind)
		}
	case KindSpendingLimitPerTx, KindSpendingLimitDaily, KindSpendingLimitWeek:
		c, err := p.LimitConfig()
		if err != nil {
			return err
		}
		if c.MaxUSD <= 0 {
			return fmt.Errorf("policy kind %s: max_usd must be positive", p.Kind)
		}
	case KindRequireApproval:
		_, err := p.ToggleConfig()
		return err
	case KindApprovalThreshold:
		c, err := p.ThresholdConfig()
		if err != nil {
			return err
		}
		if c.ThresholdUSD < 0 {
			return fmt.Errorf("policy kind %s: threshold_usd must not be negative", p.Kind)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownPolicyKind, p.Kind)
	}
	return nil
}
