// Package access - graph.go implements RoleGraph, which resolves the ancestor chain of a
// hierarchy node and the active roles of a user. Every parent walk is depth-bounded so a
// corrupted hierarchy fails with ErrCycleDetected instead of looping.
package access

import (
	"context"
	"fmt"
	"time"
)

// DefaultMaxDepth is the maximum number of parent hops followed in a single walk.
const DefaultMaxDepth = 32

// HierarchyStore reads hierarchy nodes. Implementations return an error
// wrapping ErrNotFound for unknown ids.
type HierarchyStore interface {
	GetOrganization(ctx context.Context, id int64) (*Organization, error)
	GetProject(ctx context.Context, id int64) (*Project, error)
	GetRegion(ctx context.Context, id int64) (*Region, error)
	GetSite(ctx context.Context, id int64) (*Site, error)
	GetFormAssignment(ctx context.Context, id int64) (*FormAssignment, error)
	GetStaffProject(ctx context.Context, id int64) (*StaffProject, error)
}

// RoleStore persists roles. CreateRole must insert the role and end every
// active Unassigned role of the same user in one transaction, returning
// ErrDuplicateRole if an identical active role exists.
type RoleStore interface {
	ActiveRoles(ctx context.Context, userID string, filter RoleFilter) ([]Role, error)
	GetRole(ctx context.Context, id int64) (*Role, error)
	CreateRole(ctx context.Context, role *Role) error
	EndRole(ctx context.Context, id int64, at time.Time) (*Role, error)
}

// SiteDeactivator marks a site inactive and ends the active roles scoped to
// it in the same write. It returns the roles it ended.
type SiteDeactivator interface {
	DeactivateSite(ctx context.Context, siteID int64, at time.Time) ([]Role, error)
}

// Ancestry is the resolved chain of a resource. Chains are ordered nearest
// first; SiteChain and RegionChain start with the resource itself when it is
// a site or region.
type Ancestry struct {
	SiteChain      []int64 `json:"site_chain"`
	RegionChain    []int64 `json:"region_chain"`
	ProjectID      int64   `json:"project_id,omitempty"`
	OrganizationID int64   `json:"organization_id"`
}

// RoleGraph answers structural questions about the hierarchy and role assignments.
type RoleGraph struct {
	hierarchy HierarchyStore
	roles     RoleStore
	maxDepth  int
}

// NewRoleGraph creates a RoleGraph. A maxDepth <= 0 selects DefaultMaxDepth.
func NewRoleGraph(hierarchy HierarchyStore, roles RoleStore, maxDepth int) *RoleGraph {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &RoleGraph{hierarchy: hierarchy, roles: roles, maxDepth: maxDepth}
}

// Hierarchy returns the underlying hierarchy store.
func (g *RoleGraph) Hierarchy() HierarchyStore {
	return g.hierarchy
}

// AncestorsOf returns the site's own id followed by its parent sites, the
// region chain of the site, its project and its organization. The region
// chain starts from the resource site's own region, not the topmost site's;
// only a site without a region falls back to its nearest ancestor's.
func (g *RoleGraph) AncestorsOf(ctx context.Context, siteID int64) (*Ancestry, error) {
	site, err := g.hierarchy.GetSite(ctx, siteID)
	if err != nil {
		return nil, err
	}

	chain := []int64{site.ID}
	seen := map[int64]bool{site.ID: true}
	regionID := site.RegionID
	cur := site
	for cur.ParentID != nil {
		if len(chain) > g.maxDepth || seen[*cur.ParentID] {
			return nil, fmt.Errorf("site %d: %w", siteID, ErrCycleDetected)
		}
		parent, err := g.hierarchy.GetSite(ctx, *cur.ParentID)
		if err != nil {
			return nil, err
		}
		seen[parent.ID] = true
		chain = append(chain, parent.ID)
		// A sub-site without a region inherits the nearest ancestor's region.
		if regionID == nil {
			regionID = parent.RegionID
		}
		cur = parent
	}

	anc := &Ancestry{SiteChain: chain}
	if regionID != nil {
		regions, err := g.regionChain(ctx, *regionID)
		if err != nil {
			return nil, err
		}
		anc.RegionChain = regions
	}
	if err := g.fillProject(ctx, anc, site.ProjectID); err != nil {
		return nil, err
	}
	return anc, nil
}

// ResolveResource returns the ancestry of any resource kind.
func (g *RoleGraph) ResolveResource(ctx context.Context, res Resource) (*Ancestry, error) {
	switch res.Kind {
	case ResourceOrganization:
		org, err := g.hierarchy.GetOrganization(ctx, res.ID)
		if err != nil {
			return nil, err
		}
		return &Ancestry{OrganizationID: org.ID}, nil

	case ResourceProject:
		anc := &Ancestry{}
		if err := g.fillProject(ctx, anc, res.ID); err != nil {
			return nil, err
		}
		return anc, nil

	case ResourceRegion:
		region, err := g.hierarchy.GetRegion(ctx, res.ID)
		if err != nil {
			return nil, err
		}
		chain, err := g.regionChain(ctx, region.ID)
		if err != nil {
			return nil, err
		}
		anc := &Ancestry{RegionChain: chain}
		if err := g.fillProject(ctx, anc, region.ProjectID); err != nil {
			return nil, err
		}
		return anc, nil

	case ResourceSite:
		return g.AncestorsOf(ctx, res.ID)

	case ResourceFormAssignment:
		fa, err := g.hierarchy.GetFormAssignment(ctx, res.ID)
		if err != nil {
			return nil, err
		}
		switch {
		case fa.SiteID != nil:
			return g.AncestorsOf(ctx, *fa.SiteID)
		case fa.ProjectID != nil:
			return g.ResolveResource(ctx, Resource{Kind: ResourceProject, ID: *fa.ProjectID})
		default:
			return nil, notFound("form assignment target", res.ID)
		}
	}
	return nil, fmt.Errorf("unsupported resource kind %d", res.Kind)
}

// ActiveRoles returns the roles of userID that have not ended, narrowed by filter.
func (g *RoleGraph) ActiveRoles(ctx context.Context, userID string, filter RoleFilter) ([]Role, error) {
	roles, err := g.roles.ActiveRoles(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	out := roles[:0]
	for i := range roles {
		if roles[i].Active() && filter.Matches(&roles[i]) {
			out = append(out, roles[i])
		}
	}
	return out, nil
}

// regionChain walks from regionID up to the topmost region.
func (g *RoleGraph) regionChain(ctx context.Context, regionID int64) ([]int64, error) {
	var chain []int64
	seen := map[int64]bool{}
	next := &regionID
	for next != nil {
		if len(chain) > g.maxDepth || seen[*next] {
			return nil, fmt.Errorf("region %d: %w", regionID, ErrCycleDetected)
		}
		region, err := g.hierarchy.GetRegion(ctx, *next)
		if err != nil {
			return nil, err
		}
		seen[region.ID] = true
		chain = append(chain, region.ID)
		next = region.ParentID
	}
	return chain, nil
}

func (g *RoleGraph) fillProject(ctx context.Context, anc *Ancestry, projectID int64) error {
	project, err := g.hierarchy.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	anc.ProjectID = project.ID
	anc.OrganizationID = project.OrganizationID
	return nil
}
