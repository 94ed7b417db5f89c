package mfa

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rebelopsio/pam-core/pkg/audit"
	"github.com/rebelopsio/pam-core/pkg/clock"
	pamerrors "github.com/rebelopsio/pam-core/pkg/errors"
	"github.com/rebelopsio/pam-core/pkg/models"
	"github.com/rebelopsio/pam-core/pkg/store"
)

const (
	defaultMaxAttempts     = 3
	defaultValidityMinutes = 5
)

// Credential is what the provider issued for one challenge. ExpectedCode is
// set for code-based methods; Secret for TOTP-style methods.
type Credential struct {
	Secret       string
	ExpectedCode string
}

// Provider is the MFA collaborator. It owns code generation and the actual
// match check; the engine owns attempt counting and expiry.
type Provider interface {
	Issue(ctx context.Context, method models.MFAMethod, principal string) (Credential, error)
	Verify(ctx context.Context, method models.MFAMethod, cred Credential, response string) (bool, error)
	VerifyBackup(ctx context.Context, method models.MFAMethod, principal, code string) (bool, error)
}

// ActivationHook is the engine's callback into the request lifecycle.
type ActivationHook interface {
	OnChallengeVerified(ctx context.Context, requestID string, method models.MFAMethod) error
	OnChallengeFailed(ctx context.Context, requestID, reason string) error
}

// Engine runs the per-challenge state machine
// pending -> verified | failed | expired.
//
// Verification for one challenge is serialized so concurrent submissions
// cannot lose an attempt increment or pass a terminal challenge twice.
type Engine struct {
	store    *store.MemoryStore
	clock    clock.Clock
	provider Provider
	emitter  audit.Emitter
	logger   *zap.Logger
	hook     ActivationHook

	mu         sync.Mutex
	challenges map[string]*sync.Mutex
}

func NewEngine(st *store.MemoryStore, clk clock.Clock, provider Provider, emitter audit.Emitter, logger *zap.Logger) *Engine {
	return &Engine{
		store:      st,
		clock:      clk,
		provider:   provider,
		emitter:    emitter,
		logger:     logger,
		challenges: make(map[string]*sync.Mutex),
	}
}

// SetActivationHook wires the lifecycle manager in after construction; the
// manager depends on the engine, so the hook cannot be a constructor arg.
func (e *Engine) SetActivationHook(hook ActivationHook) {
	e.hook = hook
}

// CreateChallenge issues a new pending challenge for the request using the
// role's first allowed method.
func (e *Engine) CreateChallenge(ctx context.Context, req *models.AccessRequest, role *models.PrivilegedRole) (*models.MFAChallenge, error) {
	method := models.MFAMethodTOTP
	if len(role.MFAMethods) > 0 {
		method = role.MFAMethods[0]
	}

	cred, err := e.provider.Issue(ctx, method, req.Requester)
	if err != nil {
		return nil, err
	}

	validity := role.MFAValidityMinutes
	if validity <= 0 {
		validity = defaultValidityMinutes
	}

	now := e.clock.Now()
	ch := &models.MFAChallenge{
		ID:           uuid.New().String(),
		RequestID:    req.ID,
		Principal:    req.Requester,
		Method:       method,
		ExpectedCode: cred.ExpectedCode,
		Secret:       cred.Secret,
		MaxAttempts:  defaultMaxAttempts,
		Status:       models.ChallengeStatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(validity) * time.Minute),
	}
	if err := e.store.CreateChallenge(ch); err != nil {
		return nil, err
	}

	e.emitter.Emit(ctx, audit.Event{
		EventType: "mfa.challenge_created",
		Severity:  audit.SeverityInfo,
		Actor:     req.Requester,
		Subject:   req.ID,
		Details:   map[string]string{"challenge_id": ch.ID, "method": string(method)},
		Timestamp: now,
	})
	return ch, nil
}

// Verify checks a response against a pending challenge. The attempt counter
// is incremented before any comparison so a panic or provider error can
// never leave a free retry. Re-submission against a terminal challenge
// returns ErrChallengeNotPending without touching state.
func (e *Engine) Verify(ctx context.Context, challengeID, response string) error {
	return e.verify(ctx, challengeID, "", response)
}

// VerifyBackup routes verification through a named backup method; the code
// check is delegated to the provider.
func (e *Engine) VerifyBackup(ctx context.Context, challengeID string, method models.MFAMethod, code string) error {
	return e.verify(ctx, challengeID, method, code)
}

// verify holds the challenge lock while mutating challenge state, and
// releases it before any hook call. The lifecycle manager takes its own
// mutex in the hooks and calls CreateChallenge while holding it; invoking
// hooks under our lock would order the two both ways.
func (e *Engine) verify(ctx context.Context, challengeID string, backup models.MFAMethod, response string) error {
	ch, err := e.store.GetChallenge(challengeID)
	if err != nil {
		return err
	}

	lock := e.challengeLock(challengeID)
	lock.Lock()

	if ch.Status.Terminal() {
		lock.Unlock()
		return pamerrors.ErrChallengeNotPending
	}

	now := e.clock.Now()
	if !now.Before(ch.ExpiresAt) {
		ch.Status = models.ChallengeStatusExpired
		e.audit(ctx, ch, "mfa.challenge_expired", audit.SeverityWarning, now)
		lock.Unlock()
		e.failRequest(ctx, ch, "challenge expired")
		return pamerrors.Deniedf("mfa challenge expired")
	}

	// Count the attempt before evaluating anything else.
	ch.Attempts++

	var match bool
	var verr error
	if backup != "" {
		match, verr = e.provider.VerifyBackup(ctx, backup, ch.Principal, response)
	} else {
		match, verr = e.provider.Verify(ctx, ch.Method, Credential{
			Secret:       ch.Secret,
			ExpectedCode: ch.ExpectedCode,
		}, response)
	}
	if verr != nil {
		e.logger.Warn("mfa provider verification error",
			zap.String("challenge_id", ch.ID), zap.Error(verr))
		match = false
	}

	if match {
		ch.Status = models.ChallengeStatusVerified
		ch.VerifiedAt = &now
		method := ch.Method
		if backup != "" {
			ch.BackupMethod = backup
			method = backup
		}
		e.audit(ctx, ch, "mfa.challenge_verified", audit.SeverityInfo, now)
		lock.Unlock()
		if e.hook != nil {
			return e.hook.OnChallengeVerified(ctx, ch.RequestID, method)
		}
		return nil
	}

	if ch.Attempts >= ch.MaxAttempts {
		ch.Status = models.ChallengeStatusFailed
		e.audit(ctx, ch, "mfa.challenge_failed", audit.SeverityHigh, now)
		lock.Unlock()
		e.failRequest(ctx, ch, "mfa attempts exhausted")
		return pamerrors.Deniedf("mfa attempts exhausted")
	}

	remaining := ch.MaxAttempts - ch.Attempts
	e.audit(ctx, ch, "mfa.attempt_failed", audit.SeverityWarning, now)
	lock.Unlock()
	return pamerrors.Validationf("mfa code mismatch, %d attempts remaining", remaining)
}

func (e *Engine) challengeLock(challengeID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.challenges[challengeID]
	if !ok {
		lock = &sync.Mutex{}
		e.challenges[challengeID] = lock
	}
	return lock
}

func (e *Engine) failRequest(ctx context.Context, ch *models.MFAChallenge, reason string) {
	if e.hook == nil {
		return
	}
	if err := e.hook.OnChallengeFailed(ctx, ch.RequestID, reason); err != nil {
		e.logger.Error("challenge failure callback failed",
			zap.String("request_id", ch.RequestID), zap.Error(err))
	}
}

func (e *Engine) audit(ctx context.Context, ch *models.MFAChallenge, eventType string, sev audit.Severity, at time.Time) {
	e.emitter.Emit(ctx, audit.Event{
		EventType: eventType,
		Severity:  sev,
		Actor:     ch.Principal,
		Subject:   ch.RequestID,
		Details: map[string]string{
			"challenge_id": ch.ID,
			"method":       string(ch.Method),
			"attempts":     strconv.Itoa(ch.Attempts),
		},
		Timestamp: at,
	})
}
