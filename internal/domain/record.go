package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// Статусы TransactionRecord. PENDING и DENIED ставятся при создании,
// EXECUTED/FAILED — ровно один терминальный переход, после него запись неизменяема.
type RecordStatus string

const (
	RecordPending  RecordStatus = "PENDING"
	RecordExecuted RecordStatus = "EXECUTED"
	RecordDenied   RecordStatus = "DENIED"
	RecordFailed   RecordStatus = "FAILED"
)

var ErrRecordFinalized = errors.New("transaction record already finalized")

// TransactionRecord — одна запись на каждую попытку действия.
// Оконный учет трат читает только EXECUTED записи и доверяет usd_value,
// зафиксированному в request на момент решения (без переоценки задним числом):
// лимиты отражают цену на момент решения, а не на момент сеттлмента.
type TransactionRecord struct {
	ID       string `json:"id"`
	WalletID string `json:"wallet_id"`

	// API-ключ/учетка, от имени которой пришел запрос (если была).
	CredentialID *string `json:"credential_id,omitempty"`

	ActionKind ActionKind `json:"action_kind"`

	// Сериализованные параметры запроса + usd_value на момент оценки.
	Request json.RawMessage `json:"request"`

	Status RecordStatus `json:"status"`

	// Результат исполнения либо причина отказа/ошибки.
	Response json.RawMessage `json:"response,omitempty"`
	Reason   string          `json:"reason,omitempty"`

	// Хэш транзакции в сети, когда известен.
	TxHash string `json:"tx_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordedRequest — форма, в которой параметры действия лежат в request.
// Отсюда же оконный учет достает usd_value.
type RecordedRequest struct {
	Action   ProposedAction `json:"action"`
	USDValue *float64       `json:"usd_value,omitempty"`
}

// EncodeRequest сериализует параметры действия для записи.
func EncodeRequest(action ProposedAction) (json.RawMessage, error) {
	return json.Marshal(RecordedRequest{Action: action, USDValue: action.USDValue})
}

// DecodeRequest восстанавливает параметры действия из записи
// (нужно координатору апрувов для повторного входа в исполнение).
func (r *TransactionRecord) DecodeRequest() (RecordedRequest, error) {
	var req RecordedRequest
	err := json.Unmarshal(r.Request, &req)
	return req, err
}
