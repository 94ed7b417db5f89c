package mfa

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pquerna/otp/totp"

	"github.com/rebelopsio/pam-core/pkg/models"
)

// TOTPProvider implements Provider with RFC 6238 TOTP for the primary
// method and single-use backup codes per principal. Real SMS/push transport
// belongs to the surrounding system; this is the verifier the engine ships
// with.
type TOTPProvider struct {
	issuer string

	mu      sync.Mutex
	secrets map[string]string
	backups map[string]map[string]bool
}

func NewTOTPProvider(issuer string) *TOTPProvider {
	if issuer == "" {
		issuer = "pam-core"
	}
	return &TOTPProvider{
		issuer:  issuer,
		secrets: make(map[string]string),
		backups: make(map[string]map[string]bool),
	}
}

// Enroll registers a TOTP secret for the principal and returns it for
// delivery to the enrolling device.
func (p *TOTPProvider) Enroll(principal string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.issuer,
		AccountName: principal,
	})
	if err != nil {
		return "", fmt.Errorf("generate totp key: %w", err)
	}
	p.mu.Lock()
	p.secrets[principal] = key.Secret()
	p.mu.Unlock()
	return key.Secret(), nil
}

// RegisterBackupCodes stores single-use backup codes for the principal.
func (p *TOTPProvider) RegisterBackupCodes(principal string, codes []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	p.backups[principal] = set
}

func (p *TOTPProvider) Issue(_ context.Context, method models.MFAMethod, principal string) (Credential, error) {
	switch method {
	case models.MFAMethodTOTP:
		p.mu.Lock()
		secret, ok := p.secrets[principal]
		p.mu.Unlock()
		if !ok {
			return Credential{}, fmt.Errorf("principal %s has no enrolled totp device", principal)
		}
		return Credential{Secret: secret}, nil
	case models.MFAMethodSMS, models.MFAMethodPush:
		// Code-based methods get a fresh one-time code; delivery is the
		// notification collaborator's job.
		code, err := randomCode()
		if err != nil {
			return Credential{}, err
		}
		return Credential{ExpectedCode: code}, nil
	default:
		return Credential{}, fmt.Errorf("unsupported mfa method %q", method)
	}
}

func (p *TOTPProvider) Verify(_ context.Context, method models.MFAMethod, cred Credential, response string) (bool, error) {
	switch method {
	case models.MFAMethodTOTP:
		return totp.Validate(response, cred.Secret), nil
	case models.MFAMethodSMS, models.MFAMethodPush:
		return subtle.ConstantTimeCompare([]byte(cred.ExpectedCode), []byte(response)) == 1, nil
	default:
		return false, fmt.Errorf("unsupported mfa method %q", method)
	}
}

func (p *TOTPProvider) VerifyBackup(_ context.Context, _ models.MFAMethod, principal, code string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.backups[principal]
	if !ok || !set[code] {
		return false, nil
	}
	// Backup codes are single use.
	delete(set, code)
	return true, nil
}

func randomCode() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	n := binary.BigEndian.Uint32(buf[:]) % 1000000
	return fmt.Sprintf("%06d", n), nil
}

// StaticProvider issues a fixed code for every challenge. Test collaborator.
type StaticProvider struct {
	Code        string
	BackupCodes map[string]string
}

func (s *StaticProvider) Issue(context.Context, models.MFAMethod, string) (Credential, error) {
	return Credential{ExpectedCode: s.Code}, nil
}

func (s *StaticProvider) Verify(_ context.Context, _ models.MFAMethod, cred Credential, response string) (bool, error) {
	return cred.ExpectedCode == response, nil
}

func (s *StaticProvider) VerifyBackup(_ context.Context, _ models.MFAMethod, principal, code string) (bool, error) {
	return s.BackupCodes[principal] == code, nil
}
