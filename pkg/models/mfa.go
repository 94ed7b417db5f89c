package models

import (
	"time"
)

type ChallengeStatus string

const (
	ChallengeStatusPending  ChallengeStatus = "pending"
	ChallengeStatusVerified ChallengeStatus = "verified"
	ChallengeStatusFailed   ChallengeStatus = "failed"
	ChallengeStatusExpired  ChallengeStatus = "expired"
)

// Terminal reports whether the challenge accepts no further verification.
func (s ChallengeStatus) Terminal() bool {
	return s != ChallengeStatusPending
}

// MFAChallenge gates activation of an AccessRequest whose role requires a
// second factor. The engine owns attempt counting and expiry; code
// generation and transport belong to the provider collaborator.
type MFAChallenge struct {
	ID           string          `json:"id"`
	RequestID    string          `json:"request_id"`
	Principal    string          `json:"principal"`
	Method       MFAMethod       `json:"method"`
	ExpectedCode string          `json:"-"`
	Secret       string          `json:"-"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	Status       ChallengeStatus `json:"status"`
	BackupMethod MFAMethod       `json:"backup_method,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	VerifiedAt   *time.Time      `json:"verified_at,omitempty"`
}
