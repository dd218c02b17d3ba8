package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adrianpk/gatekeeper/internal/gate"
)

var (
	// Decisions counts decisions by action kind and verdict
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "decisions_total",
			Help:      "Number of decisions made",
		},
		[]string{"kind", "verdict"},
	)

	// DecisionDuration tracks time spent in Engine.Decide
	DecisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gatekeeper",
			Name:      "decision_duration_seconds",
			Help:      "Time spent deciding a proposed action",
		},
		[]string{"kind"},
	)

	// GateCheckDuration tracks the run time of each gate check
	GateCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gatekeeper",
			Name:      "gate_check_duration_seconds",
			Help:      "Time spent running verification gate checks",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"gate", "result"},
	)

	// PolicyReloads counts policy load attempts by result
	PolicyReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "policy_reloads_total",
			Help:      "Number of policy loads, by result",
		},
		[]string{"result"},
	)

	// AuditErrors counts decisions whose audit entry could not be written
	AuditErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "audit_errors_total",
			Help:      "Number of failed audit appends",
		},
	)
)

// MustRegister registers all metrics with reg
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		Decisions,
		DecisionDuration,
		GateCheckDuration,
		PolicyReloads,
		AuditErrors,
	)
}

func ObserveDecision(kind, verdict string, d time.Duration) {
	Decisions.WithLabelValues(kind, verdict).Inc()
	DecisionDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveGateCheck matches the gate.Runner Observe hook.
func ObserveGateCheck(gateName string, res gate.Result) {
	result := "pass"
	if !res.Passed {
		result = string(res.Failure)
	}
	GateCheckDuration.WithLabelValues(gateName, result).Observe(res.Duration.Seconds())
}

// ObservePolicyReload matches the policy.Store reload hook.
func ObservePolicyReload(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PolicyReloads.WithLabelValues(result).Inc()
}
