package models

import (
	"time"
)

type RequestStatus string

const (
	RequestStatusRequested          RequestStatus = "requested"
	RequestStatusPendingApproval    RequestStatus = "pending_approval"
	RequestStatusEmergencyActivated RequestStatus = "emergency_activated"
	RequestStatusApproved           RequestStatus = "approved"
	RequestStatusPendingMFA         RequestStatus = "pending_mfa"
	RequestStatusActive             RequestStatus = "active"
	RequestStatusExpired            RequestStatus = "expired"
	RequestStatusRevoked            RequestStatus = "revoked"
	RequestStatusDenied             RequestStatus = "denied"
)

// Terminal reports whether the status has no outgoing transitions.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestStatusExpired, RequestStatusRevoked, RequestStatusDenied:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
)

// ApproverDecision records one out-of-band approval decision.
type ApproverDecision struct {
	ApproverID string    `json:"approver_id"`
	Decision   Decision  `json:"decision"`
	Comment    string    `json:"comment,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// AuditEntry is one append-only line of a request's audit trail.
type AuditEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	Actor     string            `json:"actor"`
	Details   map[string]string `json:"details,omitempty"`
}

// AccessRequest is an elevation request. Only the lifecycle manager and the
// MFA engine mutate it; it is never deleted, only reaped after retention.
type AccessRequest struct {
	ID                string             `json:"id"`
	Requester         string             `json:"requester"`
	RoleID            string             `json:"role_id"`
	Reason            string             `json:"reason"`
	RequestedDuration time.Duration      `json:"requested_duration"`
	Urgency           Urgency            `json:"urgency"`
	SourceIP          string             `json:"source_ip,omitempty"`
	RiskScore         int                `json:"risk_score"`
	RiskFactors       []string           `json:"risk_factors,omitempty"`
	Status            RequestStatus      `json:"status"`
	Emergency         bool               `json:"emergency"`
	Decisions         []ApproverDecision `json:"decisions,omitempty"`
	MFACompleted      bool               `json:"mfa_completed"`
	MFARetryUsed      bool               `json:"mfa_retry_used,omitempty"`
	MFAMethod         MFAMethod          `json:"mfa_method,omitempty"`
	MFACompletedAt    *time.Time         `json:"mfa_completed_at,omitempty"`
	SessionID         string             `json:"session_id,omitempty"`
	RequestedAt       time.Time          `json:"requested_at"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	AuditTrail        []AuditEntry       `json:"audit_trail"`
}

// Audit appends one trail entry. The trail is append-only; entries are never
// edited or removed.
func (r *AccessRequest) Audit(at time.Time, action, actor string, details map[string]string) {
	r.AuditTrail = append(r.AuditTrail, AuditEntry{
		Timestamp: at,
		Action:    action,
		Actor:     actor,
		Details:   details,
	})
}

// Approvals counts recorded approved decisions.
func (r *AccessRequest) Approvals() int {
	n := 0
	for _, d := range r.Decisions {
		if d.Decision == DecisionApproved {
			n++
		}
	}
	return n
}

// DecidedBy reports whether the approver already submitted a decision.
func (r *AccessRequest) DecidedBy(approverID string) bool {
	for _, d := range r.Decisions {
		if d.ApproverID == approverID {
			return true
		}
	}
	return false
}
