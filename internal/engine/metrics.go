package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько заняла авторизация (включая оценку и исполнение)
	AuthorizeDuration *prometheus.HistogramVec

	// Traffic: общее кол-во действий
	TotalActions *prometheus.CounterVec

	// Вердикты по видам действий
	Verdicts *prometheus.CounterVec

	// Отказы исполнения по типам
	ExecutionFailures *prometheus.CounterVec

	// Исходы HITL
	ApprovalsResolved *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker signer'а (0 - ок, 1 - выбило)
	CircuitBreakerState prometheus.Gauge

	// Заполненность буфера decision trail (backpressure)
	TrailBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - без рега используем локальный, никуда не подключенный
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		AuthorizeDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "custody_authorize_duration_seconds",
			Help:    "Histogram of action authorization latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"action_kind", "status"}),

		TotalActions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "custody_actions_total",
			Help: "Total number of processed action requests.",
		}, []string{"action_kind"}),

		Verdicts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "custody_verdicts_total",
			Help: "Policy verdicts by decision and triggering kind.",
		}, []string{"decision", "policy_kind"}),

		ExecutionFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "custody_execution_failures_total",
			Help: "On-chain execution failures by error kind.",
		}, []string{"kind"}),

		ApprovalsResolved: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "custody_approvals_resolved_total",
			Help: "Approval request resolutions by outcome.",
		}, []string{"resolution"}), // approved, rejected, expired

		CircuitBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "custody_signer_circuit_breaker_state",
			Help: "Current state of the signer circuit breaker (0=closed, 1=open).",
		}),

		TrailBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "custody_decision_trail_buffer_utilization",
			Help: "Current number of events in the decision trail buffer.",
		}),
	}
}
