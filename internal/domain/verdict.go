package domain

// Decision — исход проверки политик.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionDeny            Decision = "deny"
	DecisionRequireApproval Decision = "require_approval"
)

// Verdict — результат работы evaluator'а.
// При allow PolicyKind и Reason пустые.
type Verdict struct {
	Decision   Decision   `json:"decision"`
	PolicyKind PolicyKind `json:"policy_kind,omitempty"` // Какая политика сработала
	PolicyID   string     `json:"policy_id,omitempty"`
	Reason     string     `json:"reason,omitempty"` // Человекочитаемая причина для записи в БД
}

func Allow() Verdict {
	return Verdict{Decision: DecisionAllow}
}

func Deny(p *Policy, reason string) Verdict {
	return Verdict{Decision: DecisionDeny, PolicyKind: p.Kind, PolicyID: p.ID, Reason: reason}
}

func RequireApproval(p *Policy, reason string) Verdict {
	return Verdict{Decision: DecisionRequireApproval, PolicyKind: p.Kind, PolicyID: p.ID, Reason: reason}
}
