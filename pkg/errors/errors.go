package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine. Wrap with %w so callers can
// classify failures with errors.Is.
var (
	// Configuration errors are startup-fatal and never recoverable at runtime.
	ErrConfiguration = errors.New("configuration error")

	// Validation errors reject a request before any state is created.
	ErrValidation = errors.New("validation error")

	// Policy denials drive a request to a terminal denied/failed state.
	ErrPolicyDenied = errors.New("policy denied")

	// Conflict violations block a sensitive operation; the operation record
	// is still written for forensics.
	ErrConflictViolation = errors.New("separation of duties violation")

	ErrRoleNotFound      = errors.New("role not found")
	ErrRequestNotFound   = errors.New("access request not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrChallengeNotFound = errors.New("mfa challenge not found")

	ErrChallengeNotPending = errors.New("challenge not pending")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrNotApprover         = errors.New("actor is not a permitted approver")
	ErrDuplicateDecision   = errors.New("approver already decided")
)

// Configurationf wraps ErrConfiguration with a formatted message.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfiguration}, args...)...)
}

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// Deniedf wraps ErrPolicyDenied with a formatted message.
func Deniedf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPolicyDenied}, args...)...)
}

// Violationf wraps ErrConflictViolation with a formatted message.
func Violationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflictViolation}, args...)...)
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsPolicyDenial reports whether err is a terminal policy denial.
func IsPolicyDenial(err error) bool { return errors.Is(err, ErrPolicyDenied) }

// IsConflictViolation reports whether err is a separation-of-duties block.
func IsConflictViolation(err error) bool { return errors.Is(err, ErrConflictViolation) }
