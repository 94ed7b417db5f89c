package models

import (
	"time"
)

type SeparationLevel string

const (
	SeparationWeak     SeparationLevel = "weak"
	SeparationStrong   SeparationLevel = "strong"
	SeparationAbsolute SeparationLevel = "absolute"
)

type ConflictType string

const (
	ConflictTypeRole      ConflictType = "role"
	ConflictTypeDuty      ConflictType = "duty"
	ConflictTypeTemporal  ConflictType = "temporal"
	ConflictTypeHierarchy ConflictType = "hierarchy"
	ConflictTypeVendor    ConflictType = "vendor"
)

type EnforcementLevel string

const (
	EnforcementAdvisory EnforcementLevel = "advisory"
	EnforcementBlocking EnforcementLevel = "blocking"
	EnforcementFatal    EnforcementLevel = "fatal"
)

type ExceptionType string

const (
	ExceptionEmergencyOverride     ExceptionType = "emergency_override"
	ExceptionSeniorApproval        ExceptionType = "senior_approval"
	ExceptionBusinessJustification ExceptionType = "business_justification"
	ExceptionTimeBoxed             ExceptionType = "time_boxed"
)

// DutyRole groups permissions under a duty category. Static policy,
// read-only after registry load.
type DutyRole struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Category          string          `json:"category"`
	Permissions       []string        `json:"permissions,omitempty"`
	IncompatibleRoles []string        `json:"incompatible_roles,omitempty"`
	SeparationLevel   SeparationLevel `json:"separation_level"`
}

// SeparationRule binds a primary duty category to conflicting categories.
type SeparationRule struct {
	ID                    string           `json:"id"`
	Name                  string           `json:"name"`
	PrimaryCategory       string           `json:"primary_category"`
	ConflictingCategories []string         `json:"conflicting_categories"`
	ConflictType          ConflictType     `json:"conflict_type"`
	EnforcementLevel      EnforcementLevel `json:"enforcement_level"`
	MinimumHours          int              `json:"minimum_hours,omitempty"`
	AllowedExceptions     []ExceptionType  `json:"allowed_exceptions,omitempty"`
	Enabled               bool             `json:"enabled"`
}

// AllowsException reports whether the rule permits the given exception type.
func (r *SeparationRule) AllowsException(ex ExceptionType) bool {
	for _, e := range r.AllowedExceptions {
		if e == ex {
			return true
		}
	}
	return false
}

type AssignmentStatus string

const (
	AssignmentStatusPending   AssignmentStatus = "pending"
	AssignmentStatusActive    AssignmentStatus = "active"
	AssignmentStatusSuspended AssignmentStatus = "suspended"
	AssignmentStatusExpired   AssignmentStatus = "expired"
	AssignmentStatusRevoked   AssignmentStatus = "revoked"
)

// DutyAssignment binds a principal to a DutyRole for a validity window.
type DutyAssignment struct {
	ID         string           `json:"id"`
	Principal  string           `json:"principal"`
	DutyRoleID string           `json:"duty_role_id"`
	Status     AssignmentStatus `json:"status"`
	AssignedBy string           `json:"assigned_by,omitempty"`
	AssignedAt time.Time        `json:"assigned_at"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the assignment is in force at the given instant.
func (a *DutyAssignment) ActiveAt(now time.Time) bool {
	if a.Status != AssignmentStatusActive {
		return false
	}
	if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
		return false
	}
	return true
}

type ViolationSeverity string

const (
	ViolationSeverityMedium   ViolationSeverity = "medium"
	ViolationSeverityHigh     ViolationSeverity = "high"
	ViolationSeverityCritical ViolationSeverity = "critical"
)

type RecommendedAction string

const (
	ActionBlock           RecommendedAction = "block"
	ActionRequireApproval RecommendedAction = "require_approval"
	ActionWarn            RecommendedAction = "warn"
)

// ViolationResult is one detected separation-of-duties conflict. Attached to
// a DutyOperation at creation and never edited afterwards.
type ViolationResult struct {
	RuleID            string            `json:"rule_id"`
	ConflictType      ConflictType      `json:"conflict_type"`
	Severity          ViolationSeverity `json:"severity"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	ConflictingRole   string            `json:"conflicting_role,omitempty"`
	ConflictingOpID   string            `json:"conflicting_op_id,omitempty"`
	Detail            string            `json:"detail"`
}

type OperationStatus string

const (
	OperationStatusBlocked  OperationStatus = "blocked"
	OperationStatusApproved OperationStatus = "approved"
	OperationStatusExecuted OperationStatus = "executed"
)

// DutyOperation is the immutable record of one attempted sensitive action.
type DutyOperation struct {
	ID            string            `json:"id"`
	Principal     string            `json:"principal"`
	Category      string            `json:"category"`
	OperationType string            `json:"operation_type"`
	Resource      string            `json:"resource,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Violations    []ViolationResult `json:"violations,omitempty"`
	Overridden    bool              `json:"overridden"`
	OverrideBy    string            `json:"override_by,omitempty"`
	Status        OperationStatus   `json:"status"`
}
