package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Elevation metrics
	elevationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pam_elevation_requests_total",
			Help: "Total number of elevation requests submitted",
		},
		[]string{"role", "urgency", "emergency"},
	)

	elevationOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pam_elevation_outcomes_total",
			Help: "Terminal and activation outcomes of elevation requests",
		},
		[]string{"role", "outcome"},
	)

	elevationDecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pam_elevation_decision_duration_seconds",
			Help:    "Time from request submission to activation or denial",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		},
		[]string{"role", "outcome"},
	)

	riskScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pam_request_risk_score",
			Help:    "Distribution of computed request risk scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	// Session metrics
	activeSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pam_active_sessions",
			Help: "Number of currently active privileged sessions",
		},
		[]string{"role"},
	)

	sessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pam_session_duration_seconds",
			Help:    "Duration of completed privileged sessions",
			Buckets: prometheus.ExponentialBuckets(60, 2, 12), // 1min to ~68hrs
		},
		[]string{"role", "end_reason"},
	)

	idleSessionsFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pam_idle_sessions_flagged_total",
			Help: "Sessions flagged as idle/suspicious by the background sweep",
		},
	)

	// MFA metrics
	mfaVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pam_mfa_verifications_total",
			Help: "MFA verification attempts by method and result",
		},
		[]string{"method", "result"},
	)

	// Separation-of-duties metrics
	dutyOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pam_duty_operations_total",
			Help: "Sensitive operations evaluated by the conflict detector",
		},
		[]string{"category", "status"},
	)

	dutyViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pam_duty_violations_total",
			Help: "Separation-of-duties violations detected",
		},
		[]string{"severity", "conflict_type"},
	)

	emergencyOverridesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pam_emergency_overrides_total",
			Help: "Operations that proceeded on an emergency override",
		},
	)

	// Housekeeping metrics
	reapedEntitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pam_reaped_entities_total",
			Help: "Entities removed by the retention sweep",
		},
		[]string{"entity"},
	)
)

func RecordElevationRequest(role, urgency string, emergency bool) {
	flag := "false"
	if emergency {
		flag = "true"
	}
	elevationRequestsTotal.WithLabelValues(role, urgency, flag).Inc()
}

func RecordElevationOutcome(role, outcome string, requestedAt time.Time) {
	elevationOutcomesTotal.WithLabelValues(role, outcome).Inc()
	elevationDecisionDuration.WithLabelValues(role, outcome).Observe(time.Since(requestedAt).Seconds())
}

func ObserveRiskScore(score int) {
	riskScores.Observe(float64(score))
}

func SessionStarted(role string) {
	activeSessions.WithLabelValues(role).Inc()
}

func SessionEnded(role, endReason string, duration time.Duration) {
	activeSessions.WithLabelValues(role).Dec()
	sessionDuration.WithLabelValues(role, endReason).Observe(duration.Seconds())
}

func RecordIdleSessionFlagged() {
	idleSessionsFlagged.Inc()
}

func RecordMFAVerification(method, result string) {
	mfaVerificationsTotal.WithLabelValues(method, result).Inc()
}

func RecordDutyOperation(category, status string) {
	dutyOperationsTotal.WithLabelValues(category, status).Inc()
}

func RecordDutyViolation(severity, conflictType string) {
	dutyViolationsTotal.WithLabelValues(severity, conflictType).Inc()
}

func RecordEmergencyOverride() {
	emergencyOverridesTotal.Inc()
}

func RecordReapedEntities(entity string, count int) {
	if count > 0 {
		reapedEntitiesTotal.WithLabelValues(entity).Add(float64(count))
	}
}
