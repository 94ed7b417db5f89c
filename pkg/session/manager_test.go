package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rebelopsio/pam-core/pkg/audit"
	"github.com/rebelopsio/pam-core/pkg/clock"
	pamerrors "github.com/rebelopsio/pam-core/pkg/errors"
	"github.com/rebelopsio/pam-core/pkg/models"
	"github.com/rebelopsio/pam-core/pkg/store"
)

type expiryRecorder struct {
	expired []string
}

func (r *expiryRecorder) OnSessionExpired(_ context.Context, requestID string) {
	r.expired = append(r.expired, requestID)
}

func newTestManager(t *testing.T, clk clock.Clock) (*Manager, *store.MemoryStore, *expiryRecorder, *audit.Recorder) {
	t.Helper()
	st := store.NewMemoryStore()
	rec := &audit.Recorder{}
	m := NewManager(st, clk, rec, zap.NewNop(), Config{
		IdleThreshold: 30 * time.Minute,
		SweepInterval: 30 * time.Second,
	})
	hook := &expiryRecorder{}
	m.SetExpiryHook(hook)
	return m, st, hook, rec
}

func approvedRequest(id string, dur time.Duration) *models.AccessRequest {
	return &models.AccessRequest{
		ID:                id,
		Requester:         "alice",
		RoleID:            "db-admin",
		RequestedDuration: dur,
		Status:            models.RequestStatusApproved,
		RiskScore:         42,
	}
}

func adminRole() *models.PrivilegedRole {
	return &models.PrivilegedRole{
		ID:                 "db-admin",
		RequiresApproval:   true,
		MaxSessionDuration: 4 * time.Hour,
		RiskLevel:          models.RiskLevelHigh,
		Enabled:            true,
	}
}

func TestStartSession(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	m, st, _, rec := newTestManager(t, clk)

	sess, err := m.Start(context.Background(), approvedRequest("req-1", time.Hour), adminRole())
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusActive, sess.Status)
	assert.Equal(t, "req-1", sess.RequestID)
	assert.Equal(t, 42, sess.RiskScore)
	assert.True(t, sess.RecordingEnabled)
	assert.Equal(t, clk.Now().Add(time.Hour), sess.ExpiresAt)

	stored, err := st.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess, stored)
	assert.Len(t, rec.ByType("session.started"), 1)
}

func TestOneSessionPerRequest(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	m, _, _, _ := newTestManager(t, clk)

	_, err := m.Start(context.Background(), approvedRequest("req-1", time.Hour), adminRole())
	require.NoError(t, err)

	_, err = m.Start(context.Background(), approvedRequest("req-1", time.Hour), adminRole())
	require.Error(t, err)
}

func TestExpireDue(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	m, _, hook, rec := newTestManager(t, clk)

	sess, err := m.Start(context.Background(), approvedRequest("req-1", time.Hour), adminRole())
	require.NoError(t, err)

	m.ExpireDue(context.Background())
	assert.Equal(t, models.SessionStatusActive, sess.Status)
	assert.Empty(t, hook.expired)

	clk.Advance(time.Hour)
	m.ExpireDue(context.Background())

	assert.Equal(t, models.SessionStatusExpired, sess.Status)
	require.NotNil(t, sess.EndTime)
	assert.Equal(t, sess.ExpiresAt, *sess.EndTime)
	assert.Equal(t, time.Hour, sess.Duration)
	assert.Equal(t, []string{"req-1"}, hook.expired)
	assert.Len(t, rec.ByType("session.expired"), 1)
}

func TestRevokeCancelsExpiry(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	m, _, hook, rec := newTestManager(t, clk)

	sess, err := m.Start(context.Background(), approvedRequest("req-1", time.Hour), adminRole())
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	require.NoError(t, m.Revoke(context.Background(), sess.ID, "security-lead", "policy breach"))

	assert.Equal(t, models.SessionStatusTerminated, sess.Status)
	assert.Equal(t, "security-lead", sess.TerminatedBy)
	assert.Equal(t, 10*time.Minute, sess.Duration)

	// The scheduled expiration must not fire against the terminal session.
	clk.Advance(time.Hour)
	m.ExpireDue(context.Background())

	assert.Equal(t, models.SessionStatusTerminated, sess.Status)
	assert.Empty(t, hook.expired)
	assert.Empty(t, rec.ByType("session.expired"))
}

func TestRevokeTerminalSession(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	m, _, _, _ := newTestManager(t, clk)

	sess, err := m.Start(context.Background(), approvedRequest("req-1", time.Hour), adminRole())
	require.NoError(t, err)

	require.NoError(t, m.Revoke(context.Background(), sess.ID, "admin", "done"))
	err = m.Revoke(context.Background(), sess.ID, "admin", "again")
	assert.ErrorIs(t, err, pamerrors.ErrInvalidTransition)
}

func TestRecordActivity(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	m, _, _, _ := newTestManager(t, clk)

	sess, err := m.Start(context.Background(), approvedRequest("req-1", time.Hour), adminRole())
	require.NoError(t, err)

	clk.Advance(5 * time.Minute)
	require.NoError(t, m.RecordActivity(sess.ID, "query", "orders-db"))

	assert.Equal(t, clk.Now(), sess.LastActivityAt)
	require.Len(t, sess.Activities, 1)
	assert.Equal(t, "query", sess.Activities[0].Action)

	require.NoError(t, m.Revoke(context.Background(), sess.ID, "admin", "done"))
	err = m.RecordActivity(sess.ID, "query", "orders-db")
	assert.ErrorIs(t, err, pamerrors.ErrInvalidTransition)
}

func TestSweepIdleFlagsButNeverTerminates(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	m, _, _, rec := newTestManager(t, clk)

	sess, err := m.Start(context.Background(), approvedRequest("req-1", 2*time.Hour), adminRole())
	require.NoError(t, err)

	clk.Advance(31 * time.Minute)
	m.SweepIdle(context.Background())

	assert.Equal(t, models.SessionStatusActive, sess.Status)
	assert.True(t, sess.Idle)
	assert.True(t, sess.SuspiciousActivity)
	require.Len(t, sess.RiskEvents, 1)
	assert.Equal(t, models.RiskEventMedium, sess.RiskEvents[0].Severity)
	assert.Len(t, rec.ByType("session.idle_flagged"), 1)

	// A second sweep does not double-flag.
	m.SweepIdle(context.Background())
	assert.Len(t, sess.RiskEvents, 1)

	// Activity clears the flag.
	require.NoError(t, m.RecordActivity(sess.ID, "query", "orders-db"))
	assert.False(t, sess.Idle)
}
