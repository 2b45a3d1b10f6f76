// Package models - user_role.go defines the UserRole row: a time-bounded assignment of a user to a
// role kind at some scope. Rows are never deleted; ending a role sets EndedAt.
package models

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/fieldsight/fieldsight-access/internal/access"
)

// UserRole is a row of the user_roles table.
type UserRole struct {
	ID             int64         `db:"id"`
	UserID         string        `db:"user_id"`
	Kind           string        `db:"kind"`
	OrganizationID sql.NullInt64 `db:"organization_id"`
	ProjectID      sql.NullInt64 `db:"project_id"`
	RegionID       sql.NullInt64 `db:"region_id"`
	SiteID         sql.NullInt64 `db:"site_id"`
	StaffProjectID sql.NullInt64 `db:"staff_project_id"`
	StartedAt      time.Time     `db:"started_at"`
	EndedAt        *time.Time    `db:"ended_at"`
}

// ToAccess converts the row to an access.Role. Rows carrying an unknown kind
// are rejected rather than silently dropped.
func (u *UserRole) ToAccess() (*access.Role, error) {
	kind, err := access.ParseRoleKind(u.Kind)
	if err != nil {
		return nil, fmt.Errorf("user role %d: %w", u.ID, err)
	}
	return &access.Role{
		ID:             u.ID,
		UserID:         u.UserID,
		Kind:           kind,
		OrganizationID: NullableID(u.OrganizationID),
		ProjectID:      NullableID(u.ProjectID),
		RegionID:       NullableID(u.RegionID),
		SiteID:         NullableID(u.SiteID),
		StaffProjectID: NullableID(u.StaffProjectID),
		StartedAt:      u.StartedAt,
		EndedAt:        u.EndedAt,
	}, nil
}

// UserRoleFromAccess builds the row for an access.Role.
func UserRoleFromAccess(r *access.Role) *UserRole {
	return &UserRole{
		ID:             r.ID,
		UserID:         r.UserID,
		Kind:           r.Kind.String(),
		OrganizationID: NullID(r.OrganizationID),
		ProjectID:      NullID(r.ProjectID),
		RegionID:       NullID(r.RegionID),
		SiteID:         NullID(r.SiteID),
		StaffProjectID: NullID(r.StaffProjectID),
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
	}
}
