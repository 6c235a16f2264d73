package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GateDecisions counts sensitive-action gate outcomes by action and result
	// (executed|challenge_required|approval_created|denied).
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paydesk_gate_decisions_total",
			Help: "Total number of sensitive-action gate invocations by outcome",
		},
		[]string{"action", "outcome"},
	)

	// PermissionChecks counts permission evaluations and their outcome (allowed|denied|error).
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paydesk_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"permission", "result"},
	)

	// StepUpVerifications records second-factor verification attempts by result
	// (success|invalid_code|expired|rate_limited).
	StepUpVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paydesk_stepup_verifications_total",
			Help: "Total number of step-up verification attempts",
		},
		[]string{"result"},
	)

	// ApprovalDecisions counts dual-control decisions by outcome (approved|rejected|race_lost).
	ApprovalDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paydesk_approval_decisions_total",
			Help: "Total number of dual-control approval decisions",
		},
		[]string{"outcome"},
	)

	// ActiveImpersonations tracks impersonation sessions that have not expired or stopped.
	ActiveImpersonations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "paydesk_active_impersonation_sessions",
			Help: "Number of active view-as-tenant sessions",
		},
	)

	// ActiveSessions tracks unexpired, unrevoked login sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "paydesk_active_sessions",
			Help: "Number of active login sessions",
		},
	)

	// AlertEventsFired counts alert events emitted by the rule evaluator.
	AlertEventsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paydesk_alert_events_total",
			Help: "Total number of alert events fired",
		},
		[]string{"rule_type"},
	)

	// AuditAppendFailures counts audit writes that failed and aborted their action.
	AuditAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "paydesk_audit_append_failures_total",
			Help: "Total number of audit append failures",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paydesk_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
