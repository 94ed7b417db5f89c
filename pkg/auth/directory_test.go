package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	pamerrors "github.com/rebelopsio/pam-core/pkg/errors"
)

func TestDirectoryMembership(t *testing.T) {
	d := NewDirectory()

	assert.False(t, d.HasRole("alice", "security-lead"))

	d.GrantRole("alice", "security-lead")
	d.GrantRole("alice", "incident-commander")
	assert.True(t, d.HasRole("alice", "security-lead"))
	assert.True(t, d.HasAnyRole("alice", []string{"security-lead", "cto"}))
	assert.False(t, d.HasAnyRole("alice", []string{"cto"}))
	assert.ElementsMatch(t, []string{"security-lead", "incident-commander"}, d.PrincipalRoles("alice"))

	d.RevokeRole("alice", "security-lead")
	assert.False(t, d.HasRole("alice", "security-lead"))
	assert.True(t, d.HasRole("alice", "incident-commander"))

	// Revoking from an unknown principal is a no-op.
	d.RevokeRole("nobody", "security-lead")
}

func TestValidateApprover(t *testing.T) {
	d := NewDirectory()
	d.GrantRole("lead-1", "security-lead")

	assert.NoError(t, d.ValidateApprover("lead-1", []string{"security-lead"}))

	err := d.ValidateApprover("rando", []string{"security-lead"})
	assert.ErrorIs(t, err, pamerrors.ErrNotApprover)

	// An empty approver role set admits nobody.
	err = d.ValidateApprover("lead-1", nil)
	assert.ErrorIs(t, err, pamerrors.ErrNotApprover)
}
