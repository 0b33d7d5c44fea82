package audit

import "time"

// DecisionEvent — одна запись decision trail: каждый вердикт и исход
// исполнения попадает сюда (вдобавок к TransactionRecord, который является
// источником правды для оконного учета; trail — для расследований и дашборда).
type DecisionEvent struct {
	ID       string `json:"id"`       // UUID события
	TraceID  string `json:"trace_id"` // Сквозной ID запроса
	WalletID string `json:"wallet_id"`
	RecordID string `json:"record_id"`

	ActionKind string   `json:"action_kind"`
	Decision   string   `json:"decision"`    // allow / deny / require_approval
	PolicyKind string   `json:"policy_kind"` // Какая политика сработала (если не allow)
	Reason     string   `json:"reason"`
	USDValue   *float64 `json:"usd_value,omitempty"`

	// Результат
	Status     string    `json:"status"` // EXECUTED / DENIED / FAILED / PENDING_APPROVAL
	TxHash     string    `json:"tx_hash,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}
