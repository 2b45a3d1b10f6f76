// Package access - types.go defines the hierarchy nodes, roles, principals and decisions
// shared by the role graph, the evaluator and the stores.
package access

import (
	"fmt"
	"time"
)

// Organization is the root of the FieldSight hierarchy.
type Organization struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// Project belongs to exactly one organization.
type Project struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organization_id"`
	Name           string `json:"name"`
	IsActive       bool   `json:"is_active"`
	ClusterSites   bool   `json:"cluster_sites"`
}

// Region groups sites of a project; regions nest through ParentID.
type Region struct {
	ID         int64  `json:"id"`
	ProjectID  int64  `json:"project_id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	IsActive   bool   `json:"is_active"`
	ParentID   *int64 `json:"parent_id,omitempty"`
}

// Site is a data-collection location; sites nest through ParentID.
type Site struct {
	ID         int64  `json:"id"`
	ProjectID  int64  `json:"project_id"`
	RegionID   *int64 `json:"region_id,omitempty"`
	ParentID   *int64 `json:"parent_id,omitempty"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	IsActive   bool   `json:"is_active"`
}

// FormAssignment attaches a form either to a whole project or to a single site.
type FormAssignment struct {
	ID        int64  `json:"id"`
	ProjectID *int64 `json:"project_id,omitempty"`
	SiteID    *int64 `json:"site_id,omitempty"`
}

// StaffProject is the separate staff hierarchy Staff Project Managers are scoped to.
type StaffProject struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// Role is a time-bounded assignment of a user to a role kind at some scope.
type Role struct {
	ID             int64      `json:"id"`
	UserID         string     `json:"user_id"`
	Kind           RoleKind   `json:"kind"`
	OrganizationID *int64     `json:"organization_id,omitempty"`
	ProjectID      *int64     `json:"project_id,omitempty"`
	RegionID       *int64     `json:"region_id,omitempty"`
	SiteID         *int64     `json:"site_id,omitempty"`
	StaffProjectID *int64     `json:"staff_project_id,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the role has not been ended.
func (r *Role) Active() bool {
	return r.EndedAt == nil
}

// SameAssignment reports whether two roles collide under the uniqueness rule
// (user, kind, project, region, site). Organization and staff project are
// compared too so that organization admins, unassigned users and staff
// managers may hold the role in several of them.
func (r *Role) SameAssignment(o *Role) bool {
	return r.UserID == o.UserID &&
		r.Kind == o.Kind &&
		eqRef(r.OrganizationID, o.OrganizationID) &&
		eqRef(r.ProjectID, o.ProjectID) &&
		eqRef(r.RegionID, o.RegionID) &&
		eqRef(r.SiteID, o.SiteID) &&
		eqRef(r.StaffProjectID, o.StaffProjectID)
}

// RoleDraft is an unnormalized request to create a role.
type RoleDraft struct {
	UserID         string   `json:"user_id"`
	Kind           RoleKind `json:"kind"`
	OrganizationID *int64   `json:"organization_id,omitempty"`
	ProjectID      *int64   `json:"project_id,omitempty"`
	RegionID       *int64   `json:"region_id,omitempty"`
	SiteID         *int64   `json:"site_id,omitempty"`
	StaffProjectID *int64   `json:"staff_project_id,omitempty"`
}

// RoleFilter narrows ActiveRoles; zero values match everything.
type RoleFilter struct {
	Kinds          []RoleKind
	OrganizationID *int64
	ProjectID      *int64
	RegionID       *int64
	SiteID         *int64
}

// Matches reports whether role satisfies every populated field of the filter.
func (f RoleFilter) Matches(role *Role) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == role.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.OrganizationID != nil && !eqRef(f.OrganizationID, role.OrganizationID) {
		return false
	}
	if f.ProjectID != nil && !eqRef(f.ProjectID, role.ProjectID) {
		return false
	}
	if f.RegionID != nil && !eqRef(f.RegionID, role.RegionID) {
		return false
	}
	if f.SiteID != nil && !eqRef(f.SiteID, role.SiteID) {
		return false
	}
	return true
}

// Principal is the subject of an access decision. Roles must hold the
// principal's active roles; the evaluator never fetches them itself.
type Principal struct {
	UserID     string
	Anonymous  bool
	SuperAdmin bool
	Roles      []Role
}

// AnonymousPrincipal returns the principal of an unauthenticated caller.
func AnonymousPrincipal() Principal {
	return Principal{Anonymous: true}
}

// IsSuperAdmin reports whether p carries the superuser flag or an active
// Super Admin role.
func (p Principal) IsSuperAdmin() bool {
	return p.SuperAdmin || hasKind(p.Roles, KindSuperAdmin)
}

// ResourceKind is the type of hierarchy node being accessed.
type ResourceKind int

const (
	ResourceOrganization ResourceKind = iota + 1
	ResourceProject
	ResourceRegion
	ResourceSite
	ResourceFormAssignment
)

var resourceKindNames = map[ResourceKind]string{
	ResourceOrganization:   "organization",
	ResourceProject:        "project",
	ResourceRegion:         "region",
	ResourceSite:           "site",
	ResourceFormAssignment: "form_assignment",
}

func (k ResourceKind) String() string {
	if n, ok := resourceKindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseResourceKind parses the wire name of a resource kind.
func ParseResourceKind(s string) (ResourceKind, error) {
	for k, n := range resourceKindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown resource type %q", s)
}

// Resource identifies a single node of the hierarchy.
type Resource struct {
	Kind ResourceKind
	ID   int64
}

func (r Resource) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// Capability is the action requested on a resource.
type Capability int

const (
	CapabilityRead Capability = iota + 1
	CapabilityWrite
	CapabilityDelete
)

func (c Capability) String() string {
	switch c {
	case CapabilityRead:
		return "read"
	case CapabilityWrite:
		return "write"
	case CapabilityDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ParseCapability parses "read", "write" or "delete".
func ParseCapability(s string) (Capability, error) {
	switch s {
	case "read":
		return CapabilityRead, nil
	case "write":
		return CapabilityWrite, nil
	case "delete":
		return CapabilityDelete, nil
	}
	return 0, fmt.Errorf("unknown capability %q", s)
}

// Decision is the outcome of an access evaluation.
type Decision int

const (
	Denied Decision = iota
	GrantedReadOnly
	GrantedFull
)

func (d Decision) String() string {
	switch d {
	case GrantedFull:
		return "granted_full"
	case GrantedReadOnly:
		return "granted_read_only"
	default:
		return "denied"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Permits reports whether the decision allows the capability. A read-only
// grant permits reading only.
func (d Decision) Permits(c Capability) bool {
	switch d {
	case GrantedFull:
		return true
	case GrantedReadOnly:
		return c == CapabilityRead
	default:
		return false
	}
}

func decisionFor(g Grant) Decision {
	switch g {
	case GrantFull:
		return GrantedFull
	case GrantReadOnly:
		return GrantedReadOnly
	default:
		return Denied
	}
}

func eqRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Ref returns a pointer to id, for populating optional references.
func Ref(id int64) *int64 {
	return &id
}
