package domain

type UnifiedDashboard struct {
	Activity  ActivityStats `json:"activity"`  // Нагрузка и трафик
	Risks     RiskStats     `json:"risks"`     // Отказы и HITL
	Incidents IncidentStats `json:"incidents"` // Заморозки и сбои
	Quality   QualityStats  `json:"quality"`   // SLO/SLI (Latency)
}

type ActivityStats struct {
	RPS           float64 `json:"rps"`
	TotalActions  int64   `json:"total_actions"`
	ActiveWallets int     `json:"active_wallets"`
}

type RiskStats struct {
	PendingApprovals int `json:"pending_approvals"` // Ждут решения оператора
	DeniedActions    int `json:"denied_actions"`    // Сработки политик за час
}

type IncidentStats struct {
	FrozenWallets    int `json:"frozen_wallets"`
	FailedExecutions int `json:"failed_executions"` // Ошибки signer'а/сети
}

type QualityStats struct {
	P95Latency float64 `json:"p95_latency_ms"`
}
