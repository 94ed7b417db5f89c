package models

import (
	"time"
)

type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

type MFAMethod string

const (
	MFAMethodTOTP MFAMethod = "totp"
	MFAMethodSMS  MFAMethod = "sms"
	MFAMethodPush MFAMethod = "push"
)

// TimeWindow is one allowed activation window for a role. Start and End are
// "HH:mm" in the window's timezone; Weekdays is empty for all days.
type TimeWindow struct {
	Start    string         `json:"start"`
	End      string         `json:"end"`
	Timezone string         `json:"timezone"`
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
}

// PrivilegedRole is an elevatable role definition. Roles are immutable after
// the registry loads them; enforcement code must never write to one.
type PrivilegedRole struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Description        string        `json:"description,omitempty"`
	Permissions        []string      `json:"permissions"`
	ResourceScopes     []string      `json:"resource_scopes,omitempty"`
	RequiresApproval   bool          `json:"requires_approval"`
	ApproverRoles      []string      `json:"approver_roles,omitempty"`
	MinimumApprovers   int           `json:"minimum_approvers,omitempty"`
	MFARequired        bool          `json:"mfa_required"`
	MFAMethods         []MFAMethod   `json:"mfa_methods,omitempty"`
	MFAValidityMinutes int           `json:"mfa_validity_minutes,omitempty"`
	MaxSessionDuration time.Duration `json:"max_session_duration"`
	AllowedWindows     []TimeWindow  `json:"allowed_windows,omitempty"`
	IPAllowlist        []string      `json:"ip_allowlist,omitempty"`
	RiskLevel          RiskLevel     `json:"risk_level"`
	EmergencyAccess    bool          `json:"emergency_access"`
	EmergencyApprovers []string      `json:"emergency_approvers,omitempty"`
	// EmergencyMFARetry allows a second MFA attempt cycle on the emergency
	// path instead of escalating on the first failure.
	EmergencyMFARetry bool `json:"emergency_mfa_retry,omitempty"`
	Enabled           bool `json:"enabled"`
}
