package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pamerrors "github.com/rebelopsio/pam-core/pkg/errors"
	"github.com/rebelopsio/pam-core/pkg/models"
)

const samplePolicy = `
roles:
  - id: security-lead
    name: Security Lead
    maxSessionDuration: 8h
    riskLevel: medium
    enabled: true
  - id: db-admin
    name: Database Administrator
    requiresApproval: true
    approverRoles: [security-lead]
    minimumApprovers: 2
    mfaRequired: true
    mfaMethods: [totp, sms]
    mfaValidityMinutes: 5
    maxSessionDuration: 4h
    allowedWindows:
      - start: "09:00"
        end: "17:00"
        timezone: UTC
        weekdays: [monday, tuesday, wednesday, thursday, friday]
    ipAllowlist: [10.0.0.1]
    riskLevel: high
    emergencyAccess: true
    emergencyApprovers: [security-lead]
    emergencyMfaRetry: true
    enabled: true
dutyRoles:
  - id: payment-initiator
    name: Payment Initiator
    category: payment_initiation
    separationLevel: strong
  - id: payment-approver
    name: Payment Approver
    category: payment_approval
    incompatibleRoles: [payment-initiator]
    separationLevel: absolute
separationRules:
  - id: pay-init-vs-approve
    name: Initiation versus approval
    primaryCategory: payment_approval
    conflictingCategories: [payment_initiation]
    conflictType: role
    enforcementLevel: fatal
    allowedExceptions: [emergency_override]
    enabled: true
  - id: pay-cooloff
    name: Payment cool-off
    primaryCategory: payment_approval
    conflictingCategories: [payment_initiation]
    conflictType: temporal
    enforcementLevel: advisory
    minimumHours: 24
    enabled: true
`

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	reg, err := LoadFile(writePolicy(t, samplePolicy))
	require.NoError(t, err)

	role, err := reg.Role("db-admin")
	require.NoError(t, err)
	assert.True(t, role.RequiresApproval)
	assert.Equal(t, 2, role.MinimumApprovers)
	assert.Equal(t, 4*time.Hour, role.MaxSessionDuration)
	assert.Equal(t, []models.MFAMethod{models.MFAMethodTOTP, models.MFAMethodSMS}, role.MFAMethods)
	assert.True(t, role.EmergencyMFARetry)

	require.Len(t, role.AllowedWindows, 1)
	w := role.AllowedWindows[0]
	assert.Equal(t, "09:00", w.Start)
	assert.Equal(t, "17:00", w.End)
	assert.Equal(t, []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
	}, w.Weekdays)

	dr, err := reg.DutyRole("payment-approver")
	require.NoError(t, err)
	assert.Equal(t, models.SeparationAbsolute, dr.SeparationLevel)

	rules := reg.RulesForCategory("payment_approval")
	assert.Len(t, rules, 2)
}

func TestLoadFileUnknownWeekday(t *testing.T) {
	bad := `
roles:
  - id: r1
    maxSessionDuration: 1h
    allowedWindows:
      - start: "09:00"
        end: "17:00"
        timezone: UTC
        weekdays: [funday]
    enabled: true
`
	_, err := LoadFile(writePolicy(t, bad))
	require.Error(t, err)
	assert.ErrorIs(t, err, pamerrors.ErrConfiguration)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, pamerrors.ErrConfiguration)
}
