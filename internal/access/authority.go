// Package access - authority.go decides who may grant or end which role kinds. The kind-level
// policy lives in a casbin model: administrative tiers inherit from each other through grouping
// policies (super admin > organization admin > project manager). The scope-level part, whether
// the actor's role actually covers the target role's organization or project, is checked here.
package access

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

//go:embed authority_model.conf
var authorityModel string

// Action is a role-management operation.
type Action string

const (
	ActionGrant Action = "grant"
	ActionEnd   Action = "end"
)

// authorityPolicies lists, per administrative tier, the role kinds it may
// manage directly. Inherited kinds come from the grouping policies.
var authorityPolicies = map[RoleKind][]RoleKind{
	KindSuperAdmin: {
		KindSuperAdmin,
		KindStaffProjectManager,
	},
	KindOrganizationAdmin: {
		KindOrganizationAdmin,
		KindProjectManager,
		KindUnassigned,
	},
	KindProjectManager: {
		KindProjectDonor,
		KindRegionSupervisor,
		KindRegionReviewer,
		KindSiteSupervisor,
		KindReviewer,
	},
}

var authorityInheritance = [][2]RoleKind{
	{KindSuperAdmin, KindOrganizationAdmin},
	{KindOrganizationAdmin, KindProjectManager},
}

// Authority evaluates role-management requests.
type Authority struct {
	enforcer *casbin.SyncedEnforcer
}

// NewAuthority builds the enforcer from the embedded model and seeds the policy.
func NewAuthority() (*Authority, error) {
	m, err := model.NewModelFromString(authorityModel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse authority model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcer: %w", err)
	}
	if err := seedAuthorityPolicies(enforcer); err != nil {
		return nil, err
	}
	return &Authority{enforcer: enforcer}, nil
}

func seedAuthorityPolicies(e *casbin.SyncedEnforcer) error {
	for actor, targets := range authorityPolicies {
		for _, target := range targets {
			for _, act := range []Action{ActionGrant, ActionEnd} {
				if _, err := e.AddPolicy(actor.String(), target.String(), string(act)); err != nil {
					return fmt.Errorf("failed to seed policy %s/%s/%s: %w", actor, target, act, err)
				}
			}
		}
	}
	for _, link := range authorityInheritance {
		if _, err := e.AddGroupingPolicy(link[0].String(), link[1].String()); err != nil {
			return fmt.Errorf("failed to seed role link %s -> %s: %w", link[0], link[1], err)
		}
	}
	return nil
}

// Authorize returns nil when actor may perform action on target, and an
// error wrapping ErrDenied otherwise. target must already be normalized so
// its organization and project references are populated.
func (a *Authority) Authorize(actor Principal, target *Role, action Action) error {
	if actor.Anonymous || actor.UserID == "" {
		return ErrDenied
	}
	if actor.SuperAdmin {
		return a.enforce(KindSuperAdmin, target, action)
	}

	for i := range actor.Roles {
		role := &actor.Roles[i]
		if !role.Active() || !covers(role, target) {
			continue
		}
		if err := a.enforce(role.Kind, target, action); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%s may not %s %s role: %w", actor.UserID, action, target.Kind.DisplayName(), ErrDenied)
}

func (a *Authority) enforce(actorKind RoleKind, target *Role, action Action) error {
	ok, err := a.enforcer.Enforce(actorKind.String(), target.Kind.String(), string(action))
	if err != nil {
		return fmt.Errorf("failed to evaluate authority policy: %w", err)
	}
	if !ok {
		return ErrDenied
	}
	return nil
}

// covers reports whether the actor's administrative role reaches the scope of target.
func covers(actor *Role, target *Role) bool {
	switch actor.Kind {
	case KindSuperAdmin:
		return true
	case KindOrganizationAdmin:
		return actor.OrganizationID != nil && eqRef(actor.OrganizationID, target.OrganizationID)
	case KindProjectManager:
		return actor.ProjectID != nil && eqRef(actor.ProjectID, target.ProjectID)
	default:
		return false
	}
}
