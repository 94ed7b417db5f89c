package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetMetrics() {
	elevationRequestsTotal.Reset()
	elevationOutcomesTotal.Reset()
	elevationDecisionDuration.Reset()
	activeSessions.Reset()
	sessionDuration.Reset()
	mfaVerificationsTotal.Reset()
	dutyOperationsTotal.Reset()
	dutyViolationsTotal.Reset()
	reapedEntitiesTotal.Reset()
}

func TestRecordElevationRequest(t *testing.T) {
	resetMetrics()

	RecordElevationRequest("db-admin", "high", false)
	RecordElevationRequest("db-admin", "high", false)
	RecordElevationRequest("prod-root", "critical", true)

	expected := `
		# HELP pam_elevation_requests_total Total number of elevation requests submitted
		# TYPE pam_elevation_requests_total counter
		pam_elevation_requests_total{emergency="false",role="db-admin",urgency="high"} 2
		pam_elevation_requests_total{emergency="true",role="prod-root",urgency="critical"} 1
	`
	err := testutil.CollectAndCompare(elevationRequestsTotal,
		strings.NewReader(expected), "pam_elevation_requests_total")
	assert.NoError(t, err)
}

func TestSessionGauge(t *testing.T) {
	resetMetrics()

	SessionStarted("db-admin")
	SessionStarted("db-admin")
	SessionEnded("db-admin", "expired", 30*time.Minute)

	var m dto.Metric
	require.NoError(t, activeSessions.WithLabelValues("db-admin").Write(&m))
	assert.Equal(t, float64(1), m.GetGauge().GetValue())
}

func TestRecordDutyOperation(t *testing.T) {
	resetMetrics()

	RecordDutyOperation("payment-approval", "blocked")
	RecordDutyViolation("critical", "role")

	assert.Equal(t, float64(1),
		testutil.ToFloat64(dutyOperationsTotal.WithLabelValues("payment-approval", "blocked")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(dutyViolationsTotal.WithLabelValues("critical", "role")))
}

func TestRecordReapedEntities(t *testing.T) {
	resetMetrics()

	// Zero counts do not create a series.
	RecordReapedEntities("request", 0)
	assert.Equal(t, 0, testutil.CollectAndCount(reapedEntitiesTotal))

	RecordReapedEntities("request", 4)
	RecordReapedEntities("session", 2)
	assert.Equal(t, float64(4),
		testutil.ToFloat64(reapedEntitiesTotal.WithLabelValues("request")))
}
