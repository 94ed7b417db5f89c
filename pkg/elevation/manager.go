package elevation

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rebelopsio/pam-core/pkg/audit"
	"github.com/rebelopsio/pam-core/pkg/auth"
	"github.com/rebelopsio/pam-core/pkg/clock"
	pamerrors "github.com/rebelopsio/pam-core/pkg/errors"
	"github.com/rebelopsio/pam-core/pkg/metrics"
	"github.com/rebelopsio/pam-core/pkg/mfa"
	"github.com/rebelopsio/pam-core/pkg/models"
	"github.com/rebelopsio/pam-core/pkg/notify"
	"github.com/rebelopsio/pam-core/pkg/registry"
	"github.com/rebelopsio/pam-core/pkg/risk"
	"github.com/rebelopsio/pam-core/pkg/session"
	"github.com/rebelopsio/pam-core/pkg/store"
)

// SubmitInput is one elevation request as it arrives from the caller.
type SubmitInput struct {
	Requester string
	RoleID    string
	Reason    string
	Duration  time.Duration
	Urgency   models.Urgency
	Emergency bool
	SourceIP  string
}

// Manager owns the AccessRequest state machine:
//
//	REQUESTED -> (PENDING_APPROVAL | EMERGENCY_ACTIVATED | APPROVED)
//	          -> PENDING_MFA? -> APPROVED -> ACTIVE
//	          -> {EXPIRED | REVOKED | DENIED}
//
// It is the only component that mutates requests outside the MFA engine's
// completion flags, and every transition appends one audit-trail entry.
type Manager struct {
	registry  *registry.Registry
	directory *auth.Directory
	store     *store.MemoryStore
	clock     clock.Clock
	evaluator *risk.Evaluator
	mfa       *mfa.Engine
	sessions  *session.Manager
	emitter   audit.Emitter
	notifier  notify.Dispatcher
	logger    *zap.Logger

	mu sync.Mutex
}

func NewManager(
	reg *registry.Registry,
	dir *auth.Directory,
	st *store.MemoryStore,
	clk clock.Clock,
	evaluator *risk.Evaluator,
	engine *mfa.Engine,
	sessions *session.Manager,
	emitter audit.Emitter,
	notifier notify.Dispatcher,
	logger *zap.Logger,
) *Manager {
	m := &Manager{
		registry:  reg,
		directory: dir,
		store:     st,
		clock:     clk,
		evaluator: evaluator,
		mfa:       engine,
		sessions:  sessions,
		emitter:   emitter,
		notifier:  notifier,
		logger:    logger,
	}
	engine.SetActivationHook(m)
	sessions.SetExpiryHook(m)
	return m
}

// Submit validates and runs a new elevation request through the state
// machine as far as policy allows without out-of-band input.
func (m *Manager) Submit(ctx context.Context, in SubmitInput) (*models.AccessRequest, error) {
	role, err := m.registry.Role(in.RoleID)
	if err != nil {
		return nil, pamerrors.Validationf("unknown role %q", in.RoleID)
	}
	// Hard rejections: no AccessRequest is created for these.
	if !role.Enabled {
		return nil, pamerrors.Validationf("role %q is disabled", in.RoleID)
	}
	if in.Emergency && !role.EmergencyAccess {
		return nil, pamerrors.Validationf("role %q does not support emergency access", in.RoleID)
	}
	if in.Duration <= 0 {
		return nil, pamerrors.Validationf("requested duration must be positive")
	}
	if in.Duration > role.MaxSessionDuration {
		return nil, pamerrors.Validationf("requested duration %s exceeds role limit %s",
			in.Duration, role.MaxSessionDuration)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	req := &models.AccessRequest{
		ID:                uuid.New().String(),
		Requester:         in.Requester,
		RoleID:            in.RoleID,
		Reason:            in.Reason,
		RequestedDuration: in.Duration,
		Urgency:           in.Urgency,
		SourceIP:          in.SourceIP,
		Status:            models.RequestStatusRequested,
		Emergency:         in.Emergency,
		RequestedAt:       now,
	}
	req.Audit(now, "submitted", in.Requester, map[string]string{
		"role_id":  in.RoleID,
		"duration": in.Duration.String(),
		"urgency":  string(in.Urgency),
	})

	// Score and factors attach unconditionally, even on a path about to be
	// denied; the audit trail must explain every decision.
	res := m.evaluator.Evaluate(ctx, req, role)
	req.RiskScore = res.Score
	req.RiskFactors = res.Factors
	metrics.ObserveRiskScore(res.Score)
	metrics.RecordElevationRequest(role.ID, string(in.Urgency), in.Emergency)

	if err := m.store.CreateRequest(req); err != nil {
		return nil, err
	}

	if !res.InsideWindow && !in.Emergency {
		m.deny(ctx, req, "engine", "outside allowed time window")
		return req, pamerrors.Deniedf("request outside all allowed time windows")
	}

	switch {
	case in.Emergency:
		m.transition(ctx, req, models.RequestStatusEmergencyActivated, in.Requester,
			"emergency_activated", map[string]string{"risk_score": itoa(req.RiskScore)})
		m.notifier.Dispatch(ctx, notify.Notification{
			Recipients: role.EmergencyApprovers,
			Template:   notify.TemplateEmergencyActivation,
			Data: map[string]string{
				"request_id": req.ID,
				"requester":  req.Requester,
				"role_id":    role.ID,
				"risk_score": itoa(req.RiskScore),
			},
		})
		return req, m.continueToActivation(ctx, req, role)

	case role.RequiresApproval:
		m.transition(ctx, req, models.RequestStatusPendingApproval, in.Requester,
			"pending_approval", map[string]string{
				"approver_roles":    joinIDs(role.ApproverRoles),
				"minimum_approvers": itoa(minApprovers(role)),
			})
		m.notifier.Dispatch(ctx, notify.Notification{
			Recipients: role.ApproverRoles,
			Template:   notify.TemplateApprovalRequested,
			Data: map[string]string{
				"request_id": req.ID,
				"requester":  req.Requester,
				"role_id":    role.ID,
			},
		})
		return req, nil

	default:
		m.transition(ctx, req, models.RequestStatusApproved, "engine",
			"auto_approved", nil)
		return req, m.continueToActivation(ctx, req, role)
	}
}

// RecordDecision applies one out-of-band approver decision. The engine only
// validates the approver against the role's declared approver set and
// advances the threshold; decision collection is the collaborator's job.
func (m *Manager) RecordDecision(ctx context.Context, requestID, approverID string, decision models.Decision, comment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, err := m.store.GetRequest(requestID)
	if err != nil {
		return err
	}
	if req.Status != models.RequestStatusPendingApproval {
		return pamerrors.ErrInvalidTransition
	}
	role, err := m.registry.Role(req.RoleID)
	if err != nil {
		return err
	}
	if err := m.directory.ValidateApprover(approverID, role.ApproverRoles); err != nil {
		return err
	}
	if req.DecidedBy(approverID) {
		return pamerrors.ErrDuplicateDecision
	}
	if approverID == req.Requester {
		return pamerrors.Validationf("requester cannot approve their own request")
	}

	now := m.clock.Now()
	req.Decisions = append(req.Decisions, models.ApproverDecision{
		ApproverID: approverID,
		Decision:   decision,
		Comment:    comment,
		DecidedAt:  now,
	})
	req.Audit(now, "decision_recorded", approverID, map[string]string{
		"decision": string(decision),
		"comment":  comment,
	})

	if decision == models.DecisionDenied {
		m.deny(ctx, req, approverID, "approver denied")
		return nil
	}

	if req.Approvals() >= minApprovers(role) {
		m.transition(ctx, req, models.RequestStatusApproved, approverID, "approved", nil)
		return m.continueToActivation(ctx, req, role)
	}
	return nil
}

// Revoke terminates a request (and its session, when active) explicitly.
func (m *Manager) Revoke(ctx context.Context, requestID, actor, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, err := m.store.GetRequest(requestID)
	if err != nil {
		return err
	}
	if req.Status.Terminal() || req.Status == models.RequestStatusRequested {
		return pamerrors.ErrInvalidTransition
	}

	if req.SessionID != "" {
		if err := m.sessions.Revoke(ctx, req.SessionID, actor, reason); err != nil &&
			!pamerrors.IsValidation(err) {
			m.logger.Warn("session revoke during request revoke",
				zap.String("session_id", req.SessionID), zap.Error(err))
		}
	}

	now := m.clock.Now()
	m.transition(ctx, req, models.RequestStatusRevoked, actor, "revoked",
		map[string]string{"reason": reason})
	req.CompletedAt = &now
	metrics.RecordElevationOutcome(req.RoleID, "revoked", req.RequestedAt)
	return nil
}

// Get returns the request by id.
func (m *Manager) Get(requestID string) (*models.AccessRequest, error) {
	return m.store.GetRequest(requestID)
}

// List returns all requests currently retained.
func (m *Manager) List() []*models.AccessRequest {
	return m.store.ListRequests()
}

// PendingChallenge returns the open MFA challenge gating the request.
func (m *Manager) PendingChallenge(requestID string) (*models.MFAChallenge, error) {
	return m.store.PendingChallengeForRequest(requestID)
}

// OnChallengeVerified implements mfa.ActivationHook. A verified challenge
// moves PENDING_MFA back through APPROVED and immediately to ACTIVE.
func (m *Manager) OnChallengeVerified(ctx context.Context, requestID string, method models.MFAMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, err := m.store.GetRequest(requestID)
	if err != nil {
		return err
	}
	if req.Status != models.RequestStatusPendingMFA {
		return pamerrors.ErrInvalidTransition
	}
	role, err := m.registry.Role(req.RoleID)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	req.MFACompleted = true
	req.MFAMethod = method
	req.MFACompletedAt = &now
	metrics.RecordMFAVerification(string(method), "verified")

	m.transition(ctx, req, models.RequestStatusApproved, req.Requester, "mfa_verified",
		map[string]string{"method": string(method)})
	return m.activate(ctx, req, role)
}

// OnChallengeFailed implements mfa.ActivationHook. On the emergency path a
// role may grant one retry cycle before the request is denied.
func (m *Manager) OnChallengeFailed(ctx context.Context, requestID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, err := m.store.GetRequest(requestID)
	if err != nil {
		return err
	}
	if req.Status != models.RequestStatusPendingMFA {
		return pamerrors.ErrInvalidTransition
	}
	role, err := m.registry.Role(req.RoleID)
	if err != nil {
		return err
	}
	metrics.RecordMFAVerification("", "failed")

	if req.Emergency && role.EmergencyMFARetry && !req.MFARetryUsed {
		req.MFARetryUsed = true
		now := m.clock.Now()
		req.Audit(now, "mfa_emergency_retry", "engine", map[string]string{"reason": reason})
		if _, err := m.mfa.CreateChallenge(ctx, req, role); err != nil {
			m.deny(ctx, req, "engine", "emergency mfa retry issuance failed")
			return err
		}
		m.emitter.Emit(ctx, audit.Event{
			EventType: "elevation.emergency_mfa_retry",
			Severity:  audit.SeverityHigh,
			Actor:     req.Requester,
			Subject:   req.ID,
			Details:   map[string]string{"reason": reason},
			Timestamp: now,
		})
		return nil
	}

	m.deny(ctx, req, "engine", reason)
	return nil
}

// OnSessionExpired implements session.ExpiryHook.
func (m *Manager) OnSessionExpired(ctx context.Context, requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, err := m.store.GetRequest(requestID)
	if err != nil {
		m.logger.Warn("expired session for unknown request",
			zap.String("request_id", requestID))
		return
	}
	if req.Status != models.RequestStatusActive {
		return
	}
	now := m.clock.Now()
	m.transition(ctx, req, models.RequestStatusExpired, "engine", "expired", nil)
	req.CompletedAt = &now
	metrics.RecordElevationOutcome(req.RoleID, "expired", req.RequestedAt)
}

// continueToActivation runs the MFA gate, or activates directly when the
// role requires none. Callers hold m.mu.
func (m *Manager) continueToActivation(ctx context.Context, req *models.AccessRequest, role *models.PrivilegedRole) error {
	if role.MFARequired && !req.MFACompleted {
		m.transition(ctx, req, models.RequestStatusPendingMFA, "engine", "mfa_required", nil)
		if _, err := m.mfa.CreateChallenge(ctx, req, role); err != nil {
			m.deny(ctx, req, "engine", "mfa challenge issuance failed")
			return err
		}
		return nil
	}
	return m.activate(ctx, req, role)
}

// activate starts the session and moves the request to ACTIVE. Callers hold
// m.mu.
func (m *Manager) activate(ctx context.Context, req *models.AccessRequest, role *models.PrivilegedRole) error {
	sess, err := m.sessions.Start(ctx, req, role)
	if err != nil {
		return err
	}
	req.SessionID = sess.ID
	m.transition(ctx, req, models.RequestStatusActive, "engine", "activated",
		map[string]string{"session_id": sess.ID})
	metrics.RecordElevationOutcome(role.ID, "activated", req.RequestedAt)

	m.notifier.Dispatch(ctx, notify.Notification{
		Recipients: []string{req.Requester},
		Template:   notify.TemplateSessionCreated,
		Data: map[string]string{
			"request_id": req.ID,
			"session_id": sess.ID,
			"expires_at": sess.ExpiresAt.Format(time.RFC3339),
		},
	})
	return nil
}

// deny drives the request to terminal DENIED. Callers hold m.mu.
func (m *Manager) deny(ctx context.Context, req *models.AccessRequest, actor, reason string) {
	now := m.clock.Now()
	m.transition(ctx, req, models.RequestStatusDenied, actor, "denied",
		map[string]string{"reason": reason})
	req.CompletedAt = &now
	metrics.RecordElevationOutcome(req.RoleID, "denied", req.RequestedAt)
}

// transition flips status, appends the audit-trail entry, and emits the
// audit event. Callers hold m.mu.
func (m *Manager) transition(ctx context.Context, req *models.AccessRequest, to models.RequestStatus, actor, action string, details map[string]string) {
	now := m.clock.Now()
	if details == nil {
		details = map[string]string{}
	}
	details["from"] = string(req.Status)
	details["to"] = string(to)
	req.Status = to
	req.Audit(now, action, actor, details)

	sev := audit.SeverityInfo
	switch to {
	case models.RequestStatusDenied, models.RequestStatusRevoked:
		sev = audit.SeverityWarning
	case models.RequestStatusEmergencyActivated:
		sev = audit.SeverityHigh
	}
	m.emitter.Emit(ctx, audit.Event{
		EventType: "elevation." + action,
		Severity:  sev,
		Actor:     actor,
		Subject:   req.ID,
		RiskScore: req.RiskScore,
		Tags:      req.RiskFactors,
		Details:   details,
		Timestamp: now,
	})
}

func minApprovers(role *models.PrivilegedRole) int {
	if role.MinimumApprovers > 0 {
		return role.MinimumApprovers
	}
	return 1
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
