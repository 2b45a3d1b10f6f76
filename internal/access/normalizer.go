// Package access - normalizer.go implements the role lifecycle normalizer that turns a role
// draft into a storable role. It validates the scope the kind requires, derives the
// organization and project references from it and rejects duplicates.
package access

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Normalizer validates role drafts against the hierarchy and the existing roles.
type Normalizer struct {
	hierarchy HierarchyStore
	roles     RoleStore
	now       func() time.Time
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(hierarchy HierarchyStore, roles RoleStore) *Normalizer {
	return &Normalizer{hierarchy: hierarchy, roles: roles, now: time.Now}
}

// Normalize returns the role that would be stored for draft: Derive followed
// by CheckDuplicate.
func (n *Normalizer) Normalize(ctx context.Context, draft RoleDraft) (*Role, error) {
	role, err := n.Derive(ctx, draft)
	if err != nil {
		return nil, err
	}
	if err := n.CheckDuplicate(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// Derive validates the scope of draft and returns the role it describes,
// without looking at the user's existing roles. The returned role carries no
// ID. An organization or project sent with a narrower scope is recomputed
// from it. Any other reference the kind does not take is a
// ScopeConflictError.
func (n *Normalizer) Derive(ctx context.Context, draft RoleDraft) (*Role, error) {
	if strings.TrimSpace(draft.UserID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if !draft.Kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, int(draft.Kind))
	}

	if err := checkScopeRefs(draft); err != nil {
		return nil, err
	}

	role := &Role{
		UserID:    draft.UserID,
		Kind:      draft.Kind,
		StartedAt: n.now().UTC(),
	}

	switch draft.Kind.Scope() {
	case ScopeNone:
		// Super Admin is global; Unassigned keeps its organization when known.
		if draft.Kind == KindUnassigned && draft.OrganizationID != nil {
			if _, err := n.hierarchy.GetOrganization(ctx, *draft.OrganizationID); err != nil {
				return nil, err
			}
			role.OrganizationID = Ref(*draft.OrganizationID)
		}

	case ScopeOrganization:
		if draft.OrganizationID == nil {
			return nil, &MissingScopeError{Kind: draft.Kind, Field: ScopeOrganization}
		}
		org, err := n.hierarchy.GetOrganization(ctx, *draft.OrganizationID)
		if err != nil {
			return nil, err
		}
		role.OrganizationID = Ref(org.ID)

	case ScopeProject:
		if draft.ProjectID == nil {
			return nil, &MissingScopeError{Kind: draft.Kind, Field: ScopeProject}
		}
		if err := n.deriveFromProject(ctx, role, *draft.ProjectID); err != nil {
			return nil, err
		}

	case ScopeRegion:
		if draft.RegionID == nil {
			return nil, &MissingScopeError{Kind: draft.Kind, Field: ScopeRegion}
		}
		region, err := n.hierarchy.GetRegion(ctx, *draft.RegionID)
		if err != nil {
			return nil, err
		}
		role.RegionID = Ref(region.ID)
		if err := n.deriveFromProject(ctx, role, region.ProjectID); err != nil {
			return nil, err
		}

	case ScopeSite:
		if draft.SiteID == nil {
			return nil, &MissingScopeError{Kind: draft.Kind, Field: ScopeSite}
		}
		site, err := n.hierarchy.GetSite(ctx, *draft.SiteID)
		if err != nil {
			return nil, err
		}
		role.SiteID = Ref(site.ID)
		if err := n.deriveFromProject(ctx, role, site.ProjectID); err != nil {
			return nil, err
		}

	case ScopeStaffProject:
		if draft.StaffProjectID == nil {
			return nil, &MissingScopeError{Kind: draft.Kind, Field: ScopeStaffProject}
		}
		sp, err := n.hierarchy.GetStaffProject(ctx, *draft.StaffProjectID)
		if err != nil {
			return nil, err
		}
		role.StaffProjectID = Ref(sp.ID)
	}
	return role, nil
}

// CheckDuplicate returns ErrDuplicateRole when the user already holds an
// active role with the same assignment.
func (n *Normalizer) CheckDuplicate(ctx context.Context, role *Role) error {
	existing, err := n.roles.ActiveRoles(ctx, role.UserID, RoleFilter{Kinds: []RoleKind{role.Kind}})
	if err != nil {
		return fmt.Errorf("failed to check existing roles: %w", err)
	}
	for i := range existing {
		if existing[i].Active() && existing[i].SameAssignment(role) {
			return ErrDuplicateRole
		}
	}
	return nil
}

// checkScopeRefs rejects references outside the kind's primary scope and the
// organization and project derived from it.
func checkScopeRefs(draft RoleDraft) error {
	scope := draft.Kind.Scope()
	conflict := func(field ScopeLevel) error {
		return &ScopeConflictError{Kind: draft.Kind, Field: field}
	}

	if draft.OrganizationID != nil && draft.Kind == KindSuperAdmin {
		return conflict(ScopeOrganization)
	}
	if draft.ProjectID != nil && scope != ScopeProject && scope != ScopeRegion && scope != ScopeSite {
		return conflict(ScopeProject)
	}
	if draft.RegionID != nil && scope != ScopeRegion {
		return conflict(ScopeRegion)
	}
	if draft.SiteID != nil && scope != ScopeSite {
		return conflict(ScopeSite)
	}
	if draft.StaffProjectID != nil && scope != ScopeStaffProject {
		return conflict(ScopeStaffProject)
	}
	return nil
}

func (n *Normalizer) deriveFromProject(ctx context.Context, role *Role, projectID int64) error {
	project, err := n.hierarchy.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	role.ProjectID = Ref(project.ID)
	role.OrganizationID = Ref(project.OrganizationID)
	return nil
}
