package auth

import (
	"fmt"
	"sync"

	pamerrors "github.com/rebelopsio/pam-core/pkg/errors"
)

// Directory maps principals to the privileged roles they hold standing
// membership in. The lifecycle manager consults it to validate that a
// submitted approver decision comes from someone in the role set the
// requested role declares.
type Directory struct {
	mu    sync.RWMutex
	roles map[string]map[string]bool
}

func NewDirectory() *Directory {
	return &Directory{
		roles: make(map[string]map[string]bool),
	}
}

// GrantRole records standing membership of principal in roleID.
func (d *Directory) GrantRole(principal, roleID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.roles[principal] == nil {
		d.roles[principal] = make(map[string]bool)
	}
	d.roles[principal][roleID] = true
}

// RevokeRole removes standing membership.
func (d *Directory) RevokeRole(principal, roleID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.roles[principal], roleID)
}

// HasRole reports whether principal holds roleID.
func (d *Directory) HasRole(principal, roleID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.roles[principal][roleID]
}

// HasAnyRole reports whether principal holds at least one of roleIDs.
func (d *Directory) HasAnyRole(principal string, roleIDs []string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	held := d.roles[principal]
	for _, id := range roleIDs {
		if held[id] {
			return true
		}
	}
	return false
}

// PrincipalRoles returns the principal's role ids.
func (d *Directory) PrincipalRoles(principal string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.roles[principal]))
	for id := range d.roles[principal] {
		out = append(out, id)
	}
	return out
}

// ValidateApprover returns ErrNotApprover when principal holds none of the
// expected approver roles.
func (d *Directory) ValidateApprover(principal string, approverRoles []string) error {
	if !d.HasAnyRole(principal, approverRoles) {
		return fmt.Errorf("%w: %s", pamerrors.ErrNotApprover, principal)
	}
	return nil
}
