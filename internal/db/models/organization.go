// Package models - organization.go defines the row types of the FieldSight hierarchy tables
// (organizations, projects, regions, sites, form assignments, staff projects) and their
// conversion to the access domain types.
package models

import (
	"database/sql"
	"time"

	"github.com/fieldsight/fieldsight-access/internal/access"
)

// Organization is a row of the organizations table.
type Organization struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (o *Organization) ToAccess() *access.Organization {
	return &access.Organization{ID: o.ID, Name: o.Name, IsActive: o.IsActive}
}

// Project is a row of the projects table.
type Project struct {
	ID             int64     `db:"id" json:"id"`
	OrganizationID int64     `db:"organization_id" json:"organization_id"`
	Name           string    `db:"name" json:"name"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	ClusterSites   bool      `db:"cluster_sites" json:"cluster_sites"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

func (p *Project) ToAccess() *access.Project {
	return &access.Project{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		Name:           p.Name,
		IsActive:       p.IsActive,
		ClusterSites:   p.ClusterSites,
	}
}

// Region is a row of the regions table. ParentID nests regions.
type Region struct {
	ID         int64         `db:"id" json:"id"`
	ProjectID  int64         `db:"project_id" json:"project_id"`
	ParentID   sql.NullInt64 `db:"parent_id" json:"-"`
	Identifier string        `db:"identifier" json:"identifier"`
	Name       string        `db:"name" json:"name"`
	IsActive   bool          `db:"is_active" json:"is_active"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
}

func (r *Region) ToAccess() *access.Region {
	return &access.Region{
		ID:         r.ID,
		ProjectID:  r.ProjectID,
		Identifier: r.Identifier,
		Name:       r.Name,
		IsActive:   r.IsActive,
		ParentID:   NullableID(r.ParentID),
	}
}

// Site is a row of the sites table. RegionID and ParentID are optional.
type Site struct {
	ID         int64         `db:"id" json:"id"`
	ProjectID  int64         `db:"project_id" json:"project_id"`
	RegionID   sql.NullInt64 `db:"region_id" json:"-"`
	ParentID   sql.NullInt64 `db:"parent_id" json:"-"`
	Identifier string        `db:"identifier" json:"identifier"`
	Name       string        `db:"name" json:"name"`
	IsActive   bool          `db:"is_active" json:"is_active"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
}

func (s *Site) ToAccess() *access.Site {
	return &access.Site{
		ID:         s.ID,
		ProjectID:  s.ProjectID,
		RegionID:   NullableID(s.RegionID),
		ParentID:   NullableID(s.ParentID),
		Identifier: s.Identifier,
		Name:       s.Name,
		IsActive:   s.IsActive,
	}
}

// FormAssignment is a row of the form_assignments table.
type FormAssignment struct {
	ID        int64         `db:"id"`
	ProjectID sql.NullInt64 `db:"project_id"`
	SiteID    sql.NullInt64 `db:"site_id"`
	CreatedAt time.Time     `db:"created_at"`
}

func (f *FormAssignment) ToAccess() *access.FormAssignment {
	return &access.FormAssignment{
		ID:        f.ID,
		ProjectID: NullableID(f.ProjectID),
		SiteID:    NullableID(f.SiteID),
	}
}

// StaffProject is a row of the staff_projects table.
type StaffProject struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *StaffProject) ToAccess() *access.StaffProject {
	return &access.StaffProject{ID: s.ID, Name: s.Name, IsActive: s.IsActive}
}

// NullableID converts a nullable column to an optional reference.
func NullableID(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// NullID converts an optional reference to a nullable column value.
func NullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
