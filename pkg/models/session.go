package models

import (
	"time"
)

type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusExpired    SessionStatus = "expired"
	SessionStatusTerminated SessionStatus = "terminated"
	SessionStatusSuspended  SessionStatus = "suspended"
)

// Terminal reports whether the session can no longer change state.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusExpired || s == SessionStatusTerminated
}

type RiskEventSeverity string

const (
	RiskEventLow      RiskEventSeverity = "low"
	RiskEventMedium   RiskEventSeverity = "medium"
	RiskEventHigh     RiskEventSeverity = "high"
	RiskEventCritical RiskEventSeverity = "critical"
)

// SessionActivity is one logged action inside a privileged session.
type SessionActivity struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource,omitempty"`
}

// SessionRiskEvent is a risk observation attached to a running session.
type SessionRiskEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Severity  RiskEventSeverity `json:"severity"`
	Reason    string            `json:"reason"`
}

// PrivilegedSession is the active grant spawned from exactly one approved
// AccessRequest. A request has at most one non-terminal session.
type PrivilegedSession struct {
	ID                 string             `json:"id"`
	RequestID          string             `json:"request_id"`
	Principal          string             `json:"principal"`
	RoleID             string             `json:"role_id"`
	Status             SessionStatus      `json:"status"`
	RiskScore          int                `json:"risk_score"`
	RecordingEnabled   bool               `json:"recording_enabled"`
	StartTime          time.Time          `json:"start_time"`
	ExpiresAt          time.Time          `json:"expires_at"`
	EndTime            *time.Time         `json:"end_time,omitempty"`
	Duration           time.Duration      `json:"duration,omitempty"`
	LastActivityAt     time.Time          `json:"last_activity_at"`
	Activities         []SessionActivity  `json:"activities,omitempty"`
	RiskEvents         []SessionRiskEvent `json:"risk_events,omitempty"`
	Idle               bool               `json:"idle"`
	SuspiciousActivity bool               `json:"suspicious_activity"`
	TerminatedBy       string             `json:"terminated_by,omitempty"`
	TerminateReason    string             `json:"terminate_reason,omitempty"`
}
