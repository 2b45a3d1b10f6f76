// Package access - kinds.go defines the closed set of FieldSight role kinds together with the
// scope level each kind must be attached to and the grant level it confers on the hierarchy.
package access

import (
	"fmt"
	"strings"
)

// RoleKind identifies one of the fixed FieldSight roles.
type RoleKind int

const (
	KindUnknown RoleKind = iota
	KindSuperAdmin
	KindOrganizationAdmin
	KindProjectManager
	KindProjectDonor
	KindRegionSupervisor
	KindRegionReviewer
	KindSiteSupervisor
	KindReviewer
	KindStaffProjectManager
	KindUnassigned
)

// ScopeLevel is the hierarchy level a role kind is attached to.
type ScopeLevel int

const (
	ScopeNone ScopeLevel = iota
	ScopeOrganization
	ScopeProject
	ScopeRegion
	ScopeSite
	ScopeStaffProject
)

// Grant is the level of access a role kind confers within its scope.
type Grant int

const (
	GrantNone Grant = iota
	GrantReadOnly
	GrantFull
)

type kindInfo struct {
	name    string
	display string
	scope   ScopeLevel
	grant   Grant
}

var kindTable = map[RoleKind]kindInfo{
	KindSuperAdmin:          {name: "super_admin", display: "Super Admin", scope: ScopeNone, grant: GrantFull},
	KindOrganizationAdmin:   {name: "organization_admin", display: "Organization Admin", scope: ScopeOrganization, grant: GrantFull},
	KindProjectManager:      {name: "project_manager", display: "Project Manager", scope: ScopeProject, grant: GrantFull},
	KindProjectDonor:        {name: "project_donor", display: "Project Donor", scope: ScopeProject, grant: GrantReadOnly},
	KindRegionSupervisor:    {name: "region_supervisor", display: "Region Supervisor", scope: ScopeRegion, grant: GrantFull},
	KindRegionReviewer:      {name: "region_reviewer", display: "Region Reviewer", scope: ScopeRegion, grant: GrantReadOnly},
	KindSiteSupervisor:      {name: "site_supervisor", display: "Site Supervisor", scope: ScopeSite, grant: GrantFull},
	KindReviewer:            {name: "reviewer", display: "Reviewer", scope: ScopeSite, grant: GrantReadOnly},
	KindStaffProjectManager: {name: "staff_project_manager", display: "Staff Project Manager", scope: ScopeStaffProject, grant: GrantNone},
	KindUnassigned:          {name: "unassigned", display: "Unassigned", scope: ScopeNone, grant: GrantNone},
}

// AllKinds returns every valid role kind in declaration order.
func AllKinds() []RoleKind {
	return []RoleKind{
		KindSuperAdmin,
		KindOrganizationAdmin,
		KindProjectManager,
		KindProjectDonor,
		KindRegionSupervisor,
		KindRegionReviewer,
		KindSiteSupervisor,
		KindReviewer,
		KindStaffProjectManager,
		KindUnassigned,
	}
}

// String returns the wire name of the kind (e.g. "project_manager").
func (k RoleKind) String() string {
	if s, ok := kindTable[k]; ok {
		return s.name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// DisplayName returns the human readable group name used by FieldSight.
func (k RoleKind) DisplayName() string {
	if s, ok := kindTable[k]; ok {
		return s.display
	}
	return "Unknown"
}

// Valid reports whether k is one of the closed set of kinds.
func (k RoleKind) Valid() bool {
	_, ok := kindTable[k]
	return ok
}

// Scope returns the hierarchy level the kind must be scoped to.
func (k RoleKind) Scope() ScopeLevel {
	return kindTable[k].scope
}

// Grant returns the access level the kind confers on resources it covers.
func (k RoleKind) Grant() Grant {
	return kindTable[k].grant
}

// MarshalText implements encoding.TextMarshaler.
func (k RoleKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *RoleKind) UnmarshalText(text []byte) error {
	parsed, err := ParseRoleKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseRoleKind accepts either the wire name or the display name, case-insensitively.
func ParseRoleKind(s string) (RoleKind, error) {
	needle := strings.TrimSpace(s)
	for _, k := range AllKinds() {
		info := kindTable[k]
		if strings.EqualFold(needle, info.name) || strings.EqualFold(needle, info.display) {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// String returns the column name that carries a reference at this level.
func (l ScopeLevel) String() string {
	switch l {
	case ScopeOrganization:
		return "organization"
	case ScopeProject:
		return "project"
	case ScopeRegion:
		return "region"
	case ScopeSite:
		return "site"
	case ScopeStaffProject:
		return "staff_project"
	default:
		return "none"
	}
}
