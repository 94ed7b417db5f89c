package registry

import (
	"sync/atomic"

	pamerrors "github.com/rebelopsio/pam-core/pkg/errors"
	"github.com/rebelopsio/pam-core/pkg/models"
)

// PolicySet is one consistent snapshot of the loaded policy.
type PolicySet struct {
	Roles           []models.PrivilegedRole
	DutyRoles       []models.DutyRole
	SeparationRules []models.SeparationRule
}

type snapshot struct {
	roles      map[string]*models.PrivilegedRole
	dutyRoles  map[string]*models.DutyRole
	byCategory map[string][]*models.DutyRole
	rules      []*models.SeparationRule
	rulesByCat map[string][]*models.SeparationRule
}

// Registry is the read-only catalogue of privileged roles, duty roles, and
// separation rules. Lookups are lock-free; Reload swaps the whole snapshot
// atomically so concurrent readers always see a consistent policy set.
type Registry struct {
	current atomic.Pointer[snapshot]
}

// New validates the policy set and builds a registry. A role referencing an
// unknown approver role, duty role, or category is a startup-fatal
// configuration error.
func New(set PolicySet) (*Registry, error) {
	snap, err := build(set)
	if err != nil {
		return nil, err
	}
	r := &Registry{}
	r.current.Store(snap)
	return r, nil
}

// Reload atomically replaces the policy set. In-flight lookups keep the old
// snapshot; no reader ever observes a half-loaded registry.
func (r *Registry) Reload(set PolicySet) error {
	snap, err := build(set)
	if err != nil {
		return err
	}
	r.current.Store(snap)
	return nil
}

func build(set PolicySet) (*snapshot, error) {
	snap := &snapshot{
		roles:      make(map[string]*models.PrivilegedRole, len(set.Roles)),
		dutyRoles:  make(map[string]*models.DutyRole, len(set.DutyRoles)),
		byCategory: make(map[string][]*models.DutyRole),
		rulesByCat: make(map[string][]*models.SeparationRule),
	}

	categories := make(map[string]bool)
	for i := range set.DutyRoles {
		dr := &set.DutyRoles[i]
		if dr.ID == "" {
			return nil, pamerrors.Configurationf("duty role with empty id")
		}
		if _, dup := snap.dutyRoles[dr.ID]; dup {
			return nil, pamerrors.Configurationf("duplicate duty role %q", dr.ID)
		}
		snap.dutyRoles[dr.ID] = dr
		snap.byCategory[dr.Category] = append(snap.byCategory[dr.Category], dr)
		categories[dr.Category] = true
	}
	for _, dr := range snap.dutyRoles {
		for _, inc := range dr.IncompatibleRoles {
			if _, ok := snap.dutyRoles[inc]; !ok {
				return nil, pamerrors.Configurationf(
					"duty role %q lists unknown incompatible role %q", dr.ID, inc)
			}
		}
	}

	for i := range set.Roles {
		role := &set.Roles[i]
		if role.ID == "" {
			return nil, pamerrors.Configurationf("privileged role with empty id")
		}
		if _, dup := snap.roles[role.ID]; dup {
			return nil, pamerrors.Configurationf("duplicate privileged role %q", role.ID)
		}
		if role.MaxSessionDuration <= 0 {
			return nil, pamerrors.Configurationf(
				"role %q has no max session duration", role.ID)
		}
		if role.RequiresApproval && len(role.ApproverRoles) == 0 {
			return nil, pamerrors.Configurationf(
				"role %q requires approval but declares no approver roles", role.ID)
		}
		if role.EmergencyAccess && len(role.EmergencyApprovers) == 0 {
			return nil, pamerrors.Configurationf(
				"role %q allows emergency access but has no emergency approvers", role.ID)
		}
		snap.roles[role.ID] = role
	}
	// Approver roles must resolve to declared privileged roles.
	for _, role := range snap.roles {
		for _, ar := range role.ApproverRoles {
			if _, ok := snap.roles[ar]; !ok {
				return nil, pamerrors.Configurationf(
					"role %q references unknown approver role %q", role.ID, ar)
			}
		}
	}

	for i := range set.SeparationRules {
		rule := &set.SeparationRules[i]
		if rule.PrimaryCategory == "" || len(rule.ConflictingCategories) == 0 {
			return nil, pamerrors.Configurationf(
				"separation rule %q is missing categories", rule.ID)
		}
		if !categories[rule.PrimaryCategory] {
			return nil, pamerrors.Configurationf(
				"separation rule %q references unknown category %q", rule.ID, rule.PrimaryCategory)
		}
		for _, cat := range rule.ConflictingCategories {
			if !categories[cat] {
				return nil, pamerrors.Configurationf(
					"separation rule %q references unknown category %q", rule.ID, cat)
			}
		}
		if rule.ConflictType == models.ConflictTypeTemporal && rule.MinimumHours <= 0 {
			return nil, pamerrors.Configurationf(
				"temporal separation rule %q has no minimum hours", rule.ID)
		}
		snap.rules = append(snap.rules, rule)
		snap.rulesByCat[rule.PrimaryCategory] = append(snap.rulesByCat[rule.PrimaryCategory], rule)
		for _, cat := range rule.ConflictingCategories {
			snap.rulesByCat[cat] = append(snap.rulesByCat[cat], rule)
		}
	}

	return snap, nil
}

// Role returns the privileged role by id.
func (r *Registry) Role(id string) (*models.PrivilegedRole, error) {
	snap := r.current.Load()
	role, ok := snap.roles[id]
	if !ok {
		return nil, pamerrors.ErrRoleNotFound
	}
	return role, nil
}

// Roles returns all privileged roles.
func (r *Registry) Roles() []*models.PrivilegedRole {
	snap := r.current.Load()
	out := make([]*models.PrivilegedRole, 0, len(snap.roles))
	for _, role := range snap.roles {
		out = append(out, role)
	}
	return out
}

// DutyRole returns the duty role by id.
func (r *Registry) DutyRole(id string) (*models.DutyRole, error) {
	snap := r.current.Load()
	dr, ok := snap.dutyRoles[id]
	if !ok {
		return nil, pamerrors.ErrRoleNotFound
	}
	return dr, nil
}

// DutyRolesByCategory returns duty roles in the given category.
func (r *Registry) DutyRolesByCategory(category string) []*models.DutyRole {
	return r.current.Load().byCategory[category]
}

// RulesForCategory returns enabled separation rules whose primary or
// conflicting set includes the category.
func (r *Registry) RulesForCategory(category string) []*models.SeparationRule {
	all := r.current.Load().rulesByCat[category]
	out := make([]*models.SeparationRule, 0, len(all))
	for _, rule := range all {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out
}

// SeparationRules returns every loaded rule, enabled or not.
func (r *Registry) SeparationRules() []*models.SeparationRule {
	return r.current.Load().rules
}
