package duty

import (
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
	"github.com/rebelopsio/pam-core/pkg/registry"
	"github.com/rebelopsio/pam-core/pkg/store"
)

// AuthorizeInput is one sensitive operation presented for conflict checking.
type AuthorizeInput struct {
	Principal     string
	Category      string
	OperationType string
	Resource      string

	// EmergencyOverride asks to proceed past a blocking violation. It only
	// takes effect when every blocking rule declares at least one allowed
	// exception.
	EmergencyOverride bool
	OverrideBy        string
	Justification     string
}

// Detector evaluates sensitive operations against separation rules and
// records every attempt, blocked or not. Evaluation and recording for one
// principal are serialized, so two concurrent operations by the same person
// cannot both miss each other in the temporal lookback.
type Detector struct {
	registry *registry.Registry
	store    *store.MemoryStore
	clock    clock.Clock
	emitter  audit.Emitter
	logger   *zap.Logger

	mu         sync.Mutex
	principals map[string]*sync.Mutex
}

func NewDetector(reg *registry.Registry, st *store.MemoryStore, clk clock.Clock, emitter audit.Emitter, logger *zap.Logger) *Detector {
	return &Detector{
		registry:   reg,
		store:      st,
		clock:      clk,
		emitter:    emitter,
		logger:     logger,
		principals: make(map[string]*sync.Mutex),
	}
}

// Assign grants a duty role to a principal. A grant that would sit in
// absolute separation against an existing active assignment is refused.
func (d *Detector) Assign(ctx context.Context, principal, dutyRoleID, assignedBy string, expiresAt *time.Time) (*models.DutyAssignment, error) {
	role, err := d.registry.DutyRole(dutyRoleID)
	if err != nil {
		return nil, err
	}

	now := d.clock.Now()
	for _, existing := range d.store.ListPrincipalAssignments(principal, now) {
		if !existing.ActiveAt(now) {
			continue
		}
		held, err := d.registry.DutyRole(existing.DutyRoleID)
		if err != nil {
			continue
		}
		if incompatible(role, held) &&
			(role.SeparationLevel == models.SeparationAbsolute || held.SeparationLevel == models.SeparationAbsolute) {
			return nil, pamerrors.Violationf("duty role %q is absolutely separated from held role %q",
				dutyRoleID, existing.DutyRoleID)
		}
	}

	a := &models.DutyAssignment{
		ID:         uuid.New().String(),
		Principal:  principal,
		DutyRoleID: dutyRoleID,
		Status:     models.AssignmentStatusActive,
		AssignedBy: assignedBy,
		AssignedAt: now,
		ExpiresAt:  expiresAt,
	}
	if err := d.store.CreateAssignment(a); err != nil {
		return nil, err
	}

	d.emitter.Emit(ctx, audit.Event{
		EventType: "duty.assignment_created",
		Severity:  audit.SeverityInfo,
		Actor:     assignedBy,
		Subject:   principal,
		Details: map[string]string{
			"assignment_id": a.ID,
			"duty_role_id":  dutyRoleID,
		},
		Timestamp: now,
	})
	return a, nil
}

// RevokeAssignment ends a duty assignment.
func (d *Detector) RevokeAssignment(ctx context.Context, assignmentID, actor string) error {
	a, err := d.store.GetAssignment(assignmentID)
	if err != nil {
		return err
	}
	if a.Status != models.AssignmentStatusActive && a.Status != models.AssignmentStatusSuspended {
		return pamerrors.ErrInvalidTransition
	}
	a.Status = models.AssignmentStatusRevoked

	d.emitter.Emit(ctx, audit.Event{
		EventType: "duty.assignment_revoked",
		Severity:  audit.SeverityInfo,
		Actor:     actor,
		Subject:   a.Principal,
		Details:   map[string]string{"assignment_id": a.ID},
		Timestamp: d.clock.Now(),
	})
	return nil
}

// Assignments returns the principal's currently effective assignments.
func (d *Detector) Assignments(principal string) []*models.DutyAssignment {
	return d.store.ListPrincipalAssignments(principal, d.clock.Now())
}

// Authorize evaluates one operation, records it with its violations, and
// returns it. The returned error is a conflict violation when the operation
// was blocked; warn and require_approval outcomes return the operation with
// a nil error and the caller reads the recorded status.
func (d *Detector) Authorize(ctx context.Context, in AuthorizeInput) (*models.DutyOperation, error) {
	lock := d.principalLock(in.Principal)
	lock.Lock()
	defer lock.Unlock()

	now := d.clock.Now()
	op := &models.DutyOperation{
		ID:            uuid.New().String(),
		Principal:     in.Principal,
		Category:      in.Category,
		OperationType: in.OperationType,
		Resource:      in.Resource,
		Timestamp:     now,
	}
	op.Violations = d.evaluate(in.Principal, in.Category, now)

	blocked, approvalNeeded, overridable := classify(op.Violations, d.registry.RulesForCategory(in.Category))

	switch {
	case blocked && in.EmergencyOverride && overridable:
		op.Status = models.OperationStatusExecuted
		op.Overridden = true
		op.OverrideBy = in.OverrideBy
		metrics.RecordEmergencyOverride()
		d.emitter.Emit(ctx, audit.Event{
			EventType: "duty.emergency_override",
			Severity:  audit.SeverityCritical,
			Actor:     in.OverrideBy,
			Subject:   in.Principal,
			Details: map[string]string{
				"operation_id":  op.ID,
				"category":      in.Category,
				"justification": in.Justification,
			},
			Timestamp: now,
		})
	case blocked:
		op.Status = models.OperationStatusBlocked
	case approvalNeeded:
		op.Status = models.OperationStatusApproved
	default:
		op.Status = models.OperationStatusExecuted
	}

	// Every attempt is recorded, blocked ones included. Blocked operations
	// never count toward later temporal lookbacks; the action never happened.
	d.store.AppendOperation(op)
	metrics.RecordDutyOperation(in.Category, string(op.Status))

	for _, v := range op.Violations {
		metrics.RecordDutyViolation(string(v.Severity), string(v.ConflictType))
		d.emitter.Emit(ctx, audit.Event{
			EventType: "duty.violation_detected",
			Severity:  violationAuditSeverity(v.Severity),
			Actor:     in.Principal,
			Subject:   op.ID,
			Details: map[string]string{
				"rule_id":       v.RuleID,
				"conflict_type": string(v.ConflictType),
				"severity":      string(v.Severity),
				"action":        string(v.RecommendedAction),
				"detail":        v.Detail,
			},
			Timestamp: now,
		})
	}

	if op.Status == models.OperationStatusBlocked {
		return op, pamerrors.Violationf("operation %s in category %q blocked by separation rules",
			in.OperationType, in.Category)
	}
	return op, nil
}

// evaluate runs the role-conflict check against current assignments, then
// the temporal check against the recorded operation history.
func (d *Detector) evaluate(principal, category string, now time.Time) []models.ViolationResult {
	var out []models.ViolationResult

	heldByCategory := make(map[string]*models.DutyRole)
	for _, a := range d.store.ListPrincipalAssignments(principal, now) {
		if !a.ActiveAt(now) {
			continue
		}
		role, err := d.registry.DutyRole(a.DutyRoleID)
		if err != nil {
			d.logger.Warn("assignment references unknown duty role",
				zap.String("assignment_id", a.ID),
				zap.String("duty_role_id", a.DutyRoleID))
			continue
		}
		heldByCategory[role.Category] = role
	}

	for _, rule := range d.registry.RulesForCategory(category) {
		counterparts := counterpartCategories(rule, category)
		if rule.ConflictType == models.ConflictTypeTemporal {
			out = append(out, d.temporalViolations(principal, rule, counterparts, now)...)
			continue
		}
		for _, other := range counterparts {
			held, ok := heldByCategory[other]
			if !ok {
				continue
			}
			out = append(out, models.ViolationResult{
				RuleID:            rule.ID,
				ConflictType:      rule.ConflictType,
				Severity:          roleViolationSeverity(held.SeparationLevel),
				RecommendedAction: actionForEnforcement(rule.EnforcementLevel),
				ConflictingRole:   held.ID,
				Detail:            "principal holds duty role in conflicting category " + other,
			})
		}
	}
	return out
}

// counterpartCategories returns the categories that conflict with the
// attempted category under the rule. Rules are symmetric: an operation on
// either side of the primary/conflicting pair conflicts with the other side.
func counterpartCategories(rule *models.SeparationRule, category string) []string {
	var out []string
	if rule.PrimaryCategory == category {
		out = append(out, rule.ConflictingCategories...)
	}
	if contains(rule.ConflictingCategories, category) {
		out = append(out, rule.PrimaryCategory)
	}
	return out
}

// temporalViolations flags operations in a counterpart category executed
// within the rule's minimum separation window. Blocked attempts are invisible
// here; overridden executions count like any other execution.
func (d *Detector) temporalViolations(principal string, rule *models.SeparationRule, counterparts []string, now time.Time) []models.ViolationResult {
	if rule.MinimumHours <= 0 {
		return nil
	}
	cutoff := now.Add(-time.Duration(rule.MinimumHours) * time.Hour)

	var out []models.ViolationResult
	for _, prev := range d.store.PrincipalOperations(principal) {
		if prev.Status == models.OperationStatusBlocked {
			continue
		}
		if prev.Timestamp.Before(cutoff) {
			continue
		}
		if !contains(counterparts, prev.Category) {
			continue
		}
		out = append(out, models.ViolationResult{
			RuleID:            rule.ID,
			ConflictType:      models.ConflictTypeTemporal,
			Severity:          models.ViolationSeverityMedium,
			RecommendedAction: actionForEnforcement(rule.EnforcementLevel),
			ConflictingOpID:   prev.ID,
			Detail: "operation in category " + prev.Category +
				" executed within the minimum separation window",
		})
	}
	return out
}

// classify folds the violation list into the overall decision. An operation
// is overridable only when every rule behind a blocking violation declares at
// least one allowed exception.
func classify(violations []models.ViolationResult, rules []*models.SeparationRule) (blocked, approvalNeeded, overridable bool) {
	ruleByID := make(map[string]*models.SeparationRule, len(rules))
	for _, r := range rules {
		ruleByID[r.ID] = r
	}

	overridable = true
	for _, v := range violations {
		switch v.RecommendedAction {
		case models.ActionBlock:
			blocked = true
			rule, ok := ruleByID[v.RuleID]
			if !ok || !allowsOverride(rule) {
				overridable = false
			}
		case models.ActionRequireApproval:
			approvalNeeded = true
		}
		if v.Severity == models.ViolationSeverityCritical && v.RecommendedAction != models.ActionBlock {
			// Critical conflicts block regardless of the rule's declared
			// enforcement; a lenient rule cannot waive absolute separation.
			blocked = true
			rule, ok := ruleByID[v.RuleID]
			if !ok || !allowsOverride(rule) {
				overridable = false
			}
		}
	}
	if !blocked {
		overridable = false
	}
	return blocked, approvalNeeded, overridable
}

// allowsOverride reports whether the rule admits an explicit emergency
// override through any of its exception types.
func allowsOverride(rule *models.SeparationRule) bool {
	for _, ex := range []models.ExceptionType{
		models.ExceptionEmergencyOverride,
		models.ExceptionSeniorApproval,
		models.ExceptionBusinessJustification,
		models.ExceptionTimeBoxed,
	} {
		if rule.AllowsException(ex) {
			return true
		}
	}
	return false
}

func (d *Detector) principalLock(principal string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	lock, ok := d.principals[principal]
	if !ok {
		lock = &sync.Mutex{}
		d.principals[principal] = lock
	}
	return lock
}

// roleViolationSeverity grades role conflicts: absolute separation is
// critical, everything else high. Medium is reserved for temporal conflicts.
func roleViolationSeverity(level models.SeparationLevel) models.ViolationSeverity {
	if level == models.SeparationAbsolute {
		return models.ViolationSeverityCritical
	}
	return models.ViolationSeverityHigh
}

func actionForEnforcement(level models.EnforcementLevel) models.RecommendedAction {
	switch level {
	case models.EnforcementFatal:
		return models.ActionBlock
	case models.EnforcementBlocking:
		return models.ActionRequireApproval
	default:
		return models.ActionWarn
	}
}

func violationAuditSeverity(sev models.ViolationSeverity) audit.Severity {
	switch sev {
	case models.ViolationSeverityCritical:
		return audit.SeverityCritical
	case models.ViolationSeverityHigh:
		return audit.SeverityHigh
	default:
		return audit.SeverityWarning
	}
}

func incompatible(a, b *models.DutyRole) bool {
	return contains(a.IncompatibleRoles, b.ID) || contains(b.IncompatibleRoles, a.ID)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
