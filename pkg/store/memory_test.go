package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rebelopsio/pam-core/pkg/clock"
	pamerrors "github.com/rebelopsio/pam-core/pkg/errors"
	"github.com/rebelopsio/pam-core/pkg/models"
)

var baseTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func TestCreateSessionOnePerRequest(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.CreateSession(&models.PrivilegedSession{
		ID: "s1", RequestID: "r1", Status: models.SessionStatusActive,
	}))

	// A second live session for the same request is refused.
	err := s.CreateSession(&models.PrivilegedSession{
		ID: "s2", RequestID: "r1", Status: models.SessionStatusActive,
	})
	require.Error(t, err)

	// Once the first is terminal a replacement is allowed.
	first, err := s.GetSession("s1")
	require.NoError(t, err)
	first.Status = models.SessionStatusTerminated
	require.NoError(t, s.CreateSession(&models.PrivilegedSession{
		ID: "s2", RequestID: "r1", Status: models.SessionStatusActive,
	}))
}

func TestPendingChallengeForRequest(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.CreateChallenge(&models.MFAChallenge{
		ID: "c1", RequestID: "r1", Status: models.ChallengeStatusFailed,
	}))
	require.NoError(t, s.CreateChallenge(&models.MFAChallenge{
		ID: "c2", RequestID: "r1", Status: models.ChallengeStatusPending,
	}))
	require.NoError(t, s.CreateChallenge(&models.MFAChallenge{
		ID: "c3", RequestID: "r2", Status: models.ChallengeStatusPending,
	}))

	ch, err := s.PendingChallengeForRequest("r1")
	require.NoError(t, err)
	assert.Equal(t, "c2", ch.ID)

	_, err = s.PendingChallengeForRequest("r9")
	assert.ErrorIs(t, err, pamerrors.ErrChallengeNotFound)
}

func TestCountFailedChallenges(t *testing.T) {
	s := NewMemoryStore()

	for i, ch := range []*models.MFAChallenge{
		{Principal: "alice", Status: models.ChallengeStatusFailed, CreatedAt: baseTime.Add(-time.Hour)},
		{Principal: "alice", Status: models.ChallengeStatusFailed, CreatedAt: baseTime.Add(-30 * time.Hour)},
		{Principal: "alice", Status: models.ChallengeStatusVerified, CreatedAt: baseTime.Add(-time.Hour)},
		{Principal: "bob", Status: models.ChallengeStatusFailed, CreatedAt: baseTime.Add(-time.Hour)},
	} {
		ch.ID = string(rune('c'+i)) + "-count"
		require.NoError(t, s.CreateChallenge(ch))
	}

	// Only alice's failure inside the window counts.
	assert.Equal(t, 1, s.CountFailedChallenges("alice", baseTime.Add(-24*time.Hour)))
	assert.Equal(t, 2, s.CountFailedChallenges("alice", baseTime.Add(-48*time.Hour)))
	assert.Equal(t, 0, s.CountFailedChallenges("carol", baseTime.Add(-24*time.Hour)))
}

func TestListPrincipalAssignments(t *testing.T) {
	s := NewMemoryStore()

	expired := baseTime.Add(-time.Hour)
	require.NoError(t, s.CreateAssignment(&models.DutyAssignment{
		ID: "a1", Principal: "alice", DutyRoleID: "dr1",
		Status: models.AssignmentStatusActive, AssignedAt: baseTime.Add(-48 * time.Hour),
		ExpiresAt: &expired,
	}))
	require.NoError(t, s.CreateAssignment(&models.DutyAssignment{
		ID: "a2", Principal: "alice", DutyRoleID: "dr2",
		Status: models.AssignmentStatusActive, AssignedAt: baseTime.Add(-time.Hour),
	}))
	require.NoError(t, s.CreateAssignment(&models.DutyAssignment{
		ID: "a3", Principal: "bob", DutyRoleID: "dr1",
		Status: models.AssignmentStatusActive, AssignedAt: baseTime,
	}))

	out := s.ListPrincipalAssignments("alice", baseTime)
	require.Len(t, out, 2)

	// Oldest first, and the lapsed assignment is marked expired in place.
	assert.Equal(t, "a1", out[0].ID)
	assert.Equal(t, models.AssignmentStatusExpired, out[0].Status)
	assert.Equal(t, models.AssignmentStatusActive, out[1].Status)
}

func TestAppendOperationPreservesOrder(t *testing.T) {
	s := NewMemoryStore()

	for i, id := range []string{"op1", "op2", "op3"} {
		s.AppendOperation(&models.DutyOperation{
			ID: id, Principal: "alice",
			Timestamp: baseTime.Add(time.Duration(i) * time.Minute),
		})
	}

	ops := s.PrincipalOperations("alice")
	require.Len(t, ops, 3)
	assert.Equal(t, "op1", ops[0].ID)
	assert.Equal(t, "op3", ops[2].ID)

	// The returned slice is a copy; mutating it leaves the log intact.
	ops[0] = nil
	assert.Equal(t, "op1", s.PrincipalOperations("alice")[0].ID)
}

func TestReap(t *testing.T) {
	s := NewMemoryStore()
	old := baseTime.Add(-100 * 24 * time.Hour)

	// Terminal and old: reaped.
	require.NoError(t, s.CreateRequest(&models.AccessRequest{
		ID: "r-old-denied", Status: models.RequestStatusDenied, RequestedAt: old,
	}))
	// Old but still in flight: kept regardless of age.
	require.NoError(t, s.CreateRequest(&models.AccessRequest{
		ID: "r-old-active", Status: models.RequestStatusActive, RequestedAt: old,
	}))
	// Terminal but recent: kept.
	require.NoError(t, s.CreateRequest(&models.AccessRequest{
		ID: "r-new-denied", Status: models.RequestStatusDenied, RequestedAt: baseTime,
	}))

	require.NoError(t, s.CreateSession(&models.PrivilegedSession{
		ID: "s-old-ended", RequestID: "r-old-denied",
		Status: models.SessionStatusExpired, StartTime: old,
	}))
	require.NoError(t, s.CreateSession(&models.PrivilegedSession{
		ID: "s-old-live", RequestID: "r-old-active",
		Status: models.SessionStatusActive, StartTime: old,
	}))

	require.NoError(t, s.CreateChallenge(&models.MFAChallenge{
		ID: "c-old-done", Status: models.ChallengeStatusVerified, CreatedAt: old,
	}))
	require.NoError(t, s.CreateChallenge(&models.MFAChallenge{
		ID: "c-old-open", Status: models.ChallengeStatusPending, CreatedAt: old,
	}))

	s.AppendOperation(&models.DutyOperation{ID: "op-old", Principal: "alice", Timestamp: old})
	s.AppendOperation(&models.DutyOperation{ID: "op-new", Principal: "alice", Timestamp: baseTime})

	stats := s.Reap(baseTime.Add(-90 * 24 * time.Hour))
	assert.Equal(t, ReapStats{Requests: 1, Sessions: 1, Challenges: 1, Operations: 1}, stats)

	_, err := s.GetRequest("r-old-denied")
	assert.ErrorIs(t, err, pamerrors.ErrRequestNotFound)
	_, err = s.GetRequest("r-old-active")
	assert.NoError(t, err)
	_, err = s.GetRequest("r-new-denied")
	assert.NoError(t, err)

	_, err = s.GetSession("s-old-ended")
	assert.ErrorIs(t, err, pamerrors.ErrSessionNotFound)
	_, err = s.GetSession("s-old-live")
	assert.NoError(t, err)

	_, err = s.GetChallenge("c-old-done")
	assert.ErrorIs(t, err, pamerrors.ErrChallengeNotFound)
	_, err = s.GetChallenge("c-old-open")
	assert.NoError(t, err)

	ops := s.PrincipalOperations("alice")
	require.Len(t, ops, 1)
	assert.Equal(t, "op-new", ops[0].ID)
}

func TestSweeper(t *testing.T) {
	s := NewMemoryStore()
	clk := clock.NewFake(baseTime)
	sw := NewSweeper(s, clk, zap.NewNop(), 30*24*time.Hour, time.Hour)

	require.NoError(t, s.CreateRequest(&models.AccessRequest{
		ID: "r1", Status: models.RequestStatusExpired, RequestedAt: baseTime,
	}))

	// Inside retention: nothing removed.
	assert.Equal(t, ReapStats{}, sw.Sweep())

	clk.Advance(31 * 24 * time.Hour)
	assert.Equal(t, ReapStats{Requests: 1}, sw.Sweep())
}
