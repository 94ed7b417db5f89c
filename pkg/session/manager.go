package session

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rebelopsio/pam-core/pkg/audit"
	"github.com/rebelopsio/pam-core/pkg/clock"
	pamerrors "github.com/rebelopsio/pam-core/pkg/errors"
	"github.com/rebelopsio/pam-core/pkg/metrics"
	"github.com/rebelopsio/pam-core/pkg/models"
	"github.com/rebelopsio/pam-core/pkg/store"
)

const (
	defaultIdleThreshold = 30 * time.Minute
	defaultSweepInterval = 30 * time.Second
)

// ExpiryHook lets the lifecycle manager learn that a session's scheduled
// expiration fired, so the owning request can move to EXPIRED.
type ExpiryHook interface {
	OnSessionExpired(ctx context.Context, requestID string)
}

// Config holds session housekeeping knobs.
type Config struct {
	IdleThreshold time.Duration
	SweepInterval time.Duration
}

// Manager owns the PrivilegedSession state machine. Instead of one timer
// closure per session it keeps a time-ordered expiry index; revoking flips
// the session state under the same lock the expiry path takes, so a pending
// expiry firing against a terminal session is a no-op.
type Manager struct {
	store   *store.MemoryStore
	clock   clock.Clock
	emitter audit.Emitter
	logger  *zap.Logger
	cfg     Config
	hook    ExpiryHook

	mu       sync.Mutex
	expiries expiryHeap
}

func NewManager(st *store.MemoryStore, clk clock.Clock, emitter audit.Emitter, logger *zap.Logger, cfg Config) *Manager {
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = defaultIdleThreshold
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	return &Manager{
		store:   st,
		clock:   clk,
		emitter: emitter,
		logger:  logger,
		cfg:     cfg,
	}
}

// SetExpiryHook wires the lifecycle manager in after construction.
func (m *Manager) SetExpiryHook(hook ExpiryHook) {
	m.hook = hook
}

// Start creates the session for an approved request and schedules its single
// expiration event.
func (m *Manager) Start(ctx context.Context, req *models.AccessRequest, role *models.PrivilegedRole) (*models.PrivilegedSession, error) {
	now := m.clock.Now()
	sess := &models.PrivilegedSession{
		ID:               uuid.New().String(),
		RequestID:        req.ID,
		Principal:        req.Requester,
		RoleID:           role.ID,
		Status:           models.SessionStatusActive,
		RiskScore:        req.RiskScore,
		RecordingEnabled: role.RequiresApproval || role.RiskLevel == models.RiskLevelHigh || role.RiskLevel == models.RiskLevelCritical,
		StartTime:        now,
		ExpiresAt:        now.Add(req.RequestedDuration),
		LastActivityAt:   now,
	}
	if err := m.store.CreateSession(sess); err != nil {
		return nil, err
	}

	m.mu.Lock()
	heap.Push(&m.expiries, expiryEntry{at: sess.ExpiresAt, sessionID: sess.ID})
	m.mu.Unlock()

	metrics.SessionStarted(role.ID)
	m.emitter.Emit(ctx, audit.Event{
		EventType: "session.started",
		Severity:  audit.SeverityInfo,
		Actor:     req.Requester,
		Subject:   sess.ID,
		RiskScore: sess.RiskScore,
		Details: map[string]string{
			"request_id": req.ID,
			"role_id":    role.ID,
			"expires_at": sess.ExpiresAt.Format(time.RFC3339),
		},
		Timestamp: now,
	})
	return sess, nil
}

// Get returns the session by id.
func (m *Manager) Get(id string) (*models.PrivilegedSession, error) {
	return m.store.GetSession(id)
}

// RecordActivity stamps activity on an active session and clears any idle
// flag set by the sweep.
func (m *Manager) RecordActivity(sessionID, action, resource string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess.Status != models.SessionStatusActive {
		return pamerrors.ErrInvalidTransition
	}
	now := m.clock.Now()
	sess.LastActivityAt = now
	sess.Idle = false
	sess.Activities = append(sess.Activities, models.SessionActivity{
		Timestamp: now,
		Action:    action,
		Resource:  resource,
	})
	return nil
}

// Revoke terminates a session explicitly. The state flip and the expiry
// cancellation happen in the same critical section; a scheduled expiration
// that fires afterwards sees a terminal session and does nothing.
func (m *Manager) Revoke(ctx context.Context, sessionID, actor, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return pamerrors.ErrInvalidTransition
	}

	now := m.clock.Now()
	sess.Status = models.SessionStatusTerminated
	sess.EndTime = &now
	sess.Duration = now.Sub(sess.StartTime)
	sess.TerminatedBy = actor
	sess.TerminateReason = reason
	m.expiries.remove(sessionID)

	metrics.SessionEnded(sess.RoleID, "revoked", sess.Duration)
	m.emitter.Emit(ctx, audit.Event{
		EventType: "session.revoked",
		Severity:  audit.SeverityWarning,
		Actor:     actor,
		Subject:   sess.ID,
		Details: map[string]string{
			"request_id": sess.RequestID,
			"reason":     reason,
		},
		Timestamp: now,
	})
	return nil
}

// Run drives expiration and the idle sweep until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	expiry := time.NewTicker(time.Second)
	defer expiry.Stop()
	sweep := time.NewTicker(m.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-expiry.C:
			m.ExpireDue(ctx)
		case <-sweep.C:
			m.SweepIdle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ExpireDue fires every scheduled expiration whose time has come. Expiring
// an already-terminal session is a no-op and is not double-counted.
func (m *Manager) ExpireDue(ctx context.Context) {
	now := m.clock.Now()

	m.mu.Lock()
	var expired []string
	for len(m.expiries) > 0 && !m.expiries[0].at.After(now) {
		entry := heap.Pop(&m.expiries).(expiryEntry)
		sess, err := m.store.GetSession(entry.sessionID)
		if err != nil {
			continue
		}
		if sess.Status.Terminal() {
			continue
		}
		sess.Status = models.SessionStatusExpired
		end := sess.ExpiresAt
		sess.EndTime = &end
		sess.Duration = end.Sub(sess.StartTime)

		metrics.SessionEnded(sess.RoleID, "expired", sess.Duration)
		m.emitter.Emit(ctx, audit.Event{
			EventType: "session.expired",
			Severity:  audit.SeverityInfo,
			Actor:     sess.Principal,
			Subject:   sess.ID,
			Details:   map[string]string{"request_id": sess.RequestID},
			Timestamp: now,
		})
		expired = append(expired, sess.RequestID)
	}
	m.mu.Unlock()

	// The sessions are already terminal, so the callback is idempotent. It
	// runs outside m.mu: the lifecycle manager takes its own mutex in the
	// hook and also calls back into Revoke while holding it, so invoking the
	// hook under m.mu would order the two locks both ways.
	if m.hook != nil {
		for _, requestID := range expired {
			m.hook.OnSessionExpired(ctx, requestID)
		}
	}
}

// SweepIdle flags sessions with no activity past the idle threshold. The
// flag raises a medium risk event; termination stays an explicit action or
// the scheduled expiration.
func (m *Manager) SweepIdle(ctx context.Context) {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sess := range m.store.ListSessions() {
		if sess.Status != models.SessionStatusActive || sess.Idle {
			continue
		}
		if now.Sub(sess.LastActivityAt) < m.cfg.IdleThreshold {
			continue
		}
		sess.Idle = true
		sess.SuspiciousActivity = true
		sess.RiskEvents = append(sess.RiskEvents, models.SessionRiskEvent{
			Timestamp: now,
			Severity:  models.RiskEventMedium,
			Reason:    "no activity for idle threshold",
		})

		metrics.RecordIdleSessionFlagged()
		m.emitter.Emit(ctx, audit.Event{
			EventType: "session.idle_flagged",
			Severity:  audit.SeverityWarning,
			Actor:     sess.Principal,
			Subject:   sess.ID,
			Details:   map[string]string{"request_id": sess.RequestID},
			Timestamp: now,
		})
		m.logger.Warn("idle privileged session flagged",
			zap.String("session_id", sess.ID),
			zap.String("principal", sess.Principal))
	}
}

type expiryEntry struct {
	at        time.Time
	sessionID string
}

type expiryHeap []expiryEntry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)         { *h = append(*h, x.(expiryEntry)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

func (h *expiryHeap) remove(sessionID string) {
	for i, entry := range *h {
		if entry.sessionID == sessionID {
			heap.Remove(h, i)
			return
		}
	}
}
