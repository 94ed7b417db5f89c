package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pamerrors "github.com/rebelopsio/pam-core/pkg/errors"
	"github.com/rebelopsio/pam-core/pkg/models"
)

func validSet() PolicySet {
	return PolicySet{
		Roles: []models.PrivilegedRole{
			{
				ID:                 "security-lead",
				Name:               "Security Lead",
				MaxSessionDuration: 8 * time.Hour,
				RiskLevel:          models.RiskLevelMedium,
				Enabled:            true,
			},
			{
				ID:                 "db-admin",
				Name:               "Database Administrator",
				RequiresApproval:   true,
				ApproverRoles:      []string{"security-lead"},
				MaxSessionDuration: 4 * time.Hour,
				RiskLevel:          models.RiskLevelHigh,
				Enabled:            true,
			},
		},
		DutyRoles: []models.DutyRole{
			{ID: "payment-initiator", Category: "payment_initiation", SeparationLevel: models.SeparationStrong},
			{ID: "payment-approver", Category: "payment_approval", SeparationLevel: models.SeparationStrong,
				IncompatibleRoles: []string{"payment-initiator"}},
		},
		SeparationRules: []models.SeparationRule{
			{
				ID:                    "pay-init-vs-approve",
				PrimaryCategory:       "payment_approval",
				ConflictingCategories: []string{"payment_initiation"},
				ConflictType:          models.ConflictTypeRole,
				EnforcementLevel:      models.EnforcementBlocking,
				Enabled:               true,
			},
		},
	}
}

func TestNewValidSet(t *testing.T) {
	reg, err := New(validSet())
	require.NoError(t, err)

	role, err := reg.Role("db-admin")
	require.NoError(t, err)
	assert.Equal(t, "Database Administrator", role.Name)

	_, err = reg.Role("nope")
	assert.ErrorIs(t, err, pamerrors.ErrRoleNotFound)

	dr, err := reg.DutyRole("payment-approver")
	require.NoError(t, err)
	assert.Equal(t, "payment_approval", dr.Category)

	assert.Len(t, reg.Roles(), 2)
	assert.Len(t, reg.DutyRolesByCategory("payment_initiation"), 1)
	assert.Len(t, reg.SeparationRules(), 1)
}

func TestNewValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PolicySet)
	}{
		{
			name:   "empty role id",
			mutate: func(s *PolicySet) { s.Roles[0].ID = "" },
		},
		{
			name:   "duplicate role id",
			mutate: func(s *PolicySet) { s.Roles[1].ID = s.Roles[0].ID },
		},
		{
			name:   "no max session duration",
			mutate: func(s *PolicySet) { s.Roles[0].MaxSessionDuration = 0 },
		},
		{
			name:   "approval without approver roles",
			mutate: func(s *PolicySet) { s.Roles[1].ApproverRoles = nil },
		},
		{
			name:   "unknown approver role",
			mutate: func(s *PolicySet) { s.Roles[1].ApproverRoles = []string{"ghost"} },
		},
		{
			name: "emergency access without emergency approvers",
			mutate: func(s *PolicySet) {
				s.Roles[0].EmergencyAccess = true
				s.Roles[0].EmergencyApprovers = nil
			},
		},
		{
			name:   "duplicate duty role",
			mutate: func(s *PolicySet) { s.DutyRoles[1].ID = s.DutyRoles[0].ID },
		},
		{
			name:   "unknown incompatible duty role",
			mutate: func(s *PolicySet) { s.DutyRoles[1].IncompatibleRoles = []string{"ghost"} },
		},
		{
			name:   "rule with unknown primary category",
			mutate: func(s *PolicySet) { s.SeparationRules[0].PrimaryCategory = "ghost" },
		},
		{
			name:   "rule with unknown conflicting category",
			mutate: func(s *PolicySet) { s.SeparationRules[0].ConflictingCategories = []string{"ghost"} },
		},
		{
			name:   "rule missing categories",
			mutate: func(s *PolicySet) { s.SeparationRules[0].ConflictingCategories = nil },
		},
		{
			name: "temporal rule without minimum hours",
			mutate: func(s *PolicySet) {
				s.SeparationRules[0].ConflictType = models.ConflictTypeTemporal
				s.SeparationRules[0].MinimumHours = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := validSet()
			tt.mutate(&set)

			_, err := New(set)
			require.Error(t, err)
			assert.ErrorIs(t, err, pamerrors.ErrConfiguration)
		})
	}
}

func TestReload(t *testing.T) {
	reg, err := New(validSet())
	require.NoError(t, err)

	// A bad reload leaves the old snapshot in place.
	bad := validSet()
	bad.Roles[0].ID = ""
	require.Error(t, reg.Reload(bad))

	_, err = reg.Role("db-admin")
	assert.NoError(t, err)

	// A good reload swaps the whole set.
	next := validSet()
	next.Roles = next.Roles[:1]
	next.Roles[0].ID = "incident-commander"
	require.NoError(t, reg.Reload(next))

	_, err = reg.Role("incident-commander")
	assert.NoError(t, err)
	_, err = reg.Role("db-admin")
	assert.ErrorIs(t, err, pamerrors.ErrRoleNotFound)
}

func TestRulesForCategorySkipsDisabled(t *testing.T) {
	set := validSet()
	set.SeparationRules[0].Enabled = false

	reg, err := New(set)
	require.NoError(t, err)

	assert.Empty(t, reg.RulesForCategory("payment_approval"))
	assert.Len(t, reg.SeparationRules(), 1)
}
