package domain

import "strings"

// ActionKind — что именно хочет сделать владелец с кастодиальным ключом.
type ActionKind string

const (
	ActionTransfer ActionKind = "transfer"
	ActionCall     ActionKind = "call"
	ActionSwap     ActionKind = "swap"
)

// ProposedAction — транзиентный вход evaluator'а, в БД напрямую не пишется.
// Суммы держим строками в базовых единицах (Wei и т.п.), чтобы не терять
// точность на float до момента оценки в USD.
type ProposedAction struct {
	Kind    ActionKind `json:"kind"`
	To      string     `json:"to"`       // Адрес назначения (для swap — роутер DEX)
	ChainID int64      `json:"chain_id"` // EIP-155

	// Нативный перевод: сумма в Wei. Пусто, если идет токен-перевод.
	Value string `json:"value,omitempty"`

	// Токен-перевод: адрес контракта и сумма в базовых единицах токена.
	TokenAddress string `json:"token_address,omitempty"`
	TokenAmount  string `json:"token_amount,omitempty"`

	// Для call: первые 4 байта calldata ("0xa9059cbb"). Пусто для plain transfer.
	Selector string `json:"selector,omitempty"`

	// Для swap: ноги обмена. To при этом — роутер DEX, а не контрагент,
	// поэтому продаваемый токен проверяется отдельной проверкой allowlist'а.
	SellToken  string `json:"sell_token,omitempty"`
	SellAmount string `json:"sell_amount,omitempty"`
	BuyToken   string `json:"buy_token,omitempty"`

	// Оценка в USD на момент решения. nil — оракул не смог оценить;
	// что с этим делать, решает конкретный вид политики (fail-closed/fail-open).
	USDValue *float64 `json:"usd_value,omitempty"`
}

// HasToken — несет ли действие адрес токена (нативные переводы — нет).
func (a *ProposedAction) HasToken() bool {
	return strings.TrimSpace(a.TokenAddress) != ""
}

// HasSelector — есть ли у действия 4-байтовый селектор (только call).
func (a *ProposedAction) HasSelector() bool {
	return a.Kind == ActionCall && strings.TrimSpace(a.Selector) != ""
}
