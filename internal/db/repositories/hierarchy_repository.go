// hierarchy_repository.go implements HierarchyRepository, providing database queries for the
// organization, project, region and site tables. It satisfies access.HierarchyStore so the
// role graph can resolve ancestor chains directly against PostgreSQL.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/fieldsight/fieldsight-access/internal/db/models"
	"github.com/jmoiron/sqlx"
)

var _ access.HierarchyStore = (*HierarchyRepository)(nil)

// HierarchyRepository handles database operations for hierarchy nodes
type HierarchyRepository struct {
	db *sqlx.DB
}

// NewHierarchyRepository creates a new hierarchy repository
func NewHierarchyRepository(db *sqlx.DB) *HierarchyRepository {
	return &HierarchyRepository{db: db}
}

// getRow loads a single row into dest, mapping sql.ErrNoRows to access.ErrNotFound.
func (r *HierarchyRepository) getRow(ctx context.Context, dest interface{}, what string, id int64, query string) error {
	err := r.db.GetContext(ctx, dest, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, access.ErrNotFound)
	}
	return err
}

// ============================================================================
// Organizations
// ============================================================================

// GetOrganization retrieves an organization by ID
func (r *HierarchyRepository) GetOrganization(ctx context.Context, id int64) (*access.Organization, error) {
	var row models.Organization
	query := `SELECT id, name, is_active, created_at, updated_at FROM organizations WHERE id = $1`
	if err := r.getRow(ctx, &row, "organization", id, query); err != nil {
		return nil, err
	}
	return row.ToAccess(), nil
}

// CreateOrganization inserts an organization and fills in its generated fields
func (r *HierarchyRepository) CreateOrganization(ctx context.Context, org *models.Organization) error {
	query := `INSERT INTO organizations (name, is_active) VALUES ($1, $2)
			  RETURNING id, created_at, updated_at`
	return r.db.QueryRowxContext(ctx, query, org.Name, org.IsActive).
		Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
}

// ============================================================================
// Projects
// ============================================================================

// GetProject retrieves a project by ID
func (r *HierarchyRepository) GetProject(ctx context.Context, id int64) (*access.Project, error) {
	var row models.Project
	query := `SELECT id, organization_id, name, is_active, cluster_sites, created_at, updated_at
			  FROM projects WHERE id = $1`
	if err := r.getRow(ctx, &row, "project", id, query); err != nil {
		return nil, err
	}
	return row.ToAccess(), nil
}

// CreateProject inserts a project under an existing organization
func (r *HierarchyRepository) CreateProject(ctx context.Context, p *models.Project) error {
	query := `INSERT INTO projects (organization_id, name, is_active, cluster_sites) VALUES ($1, $2, $3, $4)
			  RETURNING id, created_at, updated_at`
	return r.db.QueryRowxContext(ctx, query, p.OrganizationID, p.Name, p.IsActive, p.ClusterSites).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// ============================================================================
// Regions
// ============================================================================

// GetRegion retrieves a region by ID
func (r *HierarchyRepository) GetRegion(ctx context.Context, id int64) (*access.Region, error) {
	var row models.Region
	query := `SELECT id, project_id, parent_id, identifier, name, is_active, created_at, updated_at
			  FROM regions WHERE id = $1`
	if err := r.getRow(ctx, &row, "region", id, query); err != nil {
		return nil, err
	}
	return row.ToAccess(), nil
}

// CreateRegion inserts a region. A parent region must belong to the same project.
func (r *HierarchyRepository) CreateRegion(ctx context.Context, region *models.Region) error {
	if region.ParentID.Valid {
		parent, err := r.GetRegion(ctx, region.ParentID.Int64)
		if err != nil {
			return err
		}
		if parent.ProjectID != region.ProjectID {
			return fmt.Errorf("parent region %d belongs to project %d, not %d", parent.ID, parent.ProjectID, region.ProjectID)
		}
	}

	query := `INSERT INTO regions (project_id, parent_id, identifier, name, is_active) VALUES ($1, $2, $3, $4, $5)
			  RETURNING id, created_at, updated_at`
	return r.db.QueryRowxContext(ctx, query, region.ProjectID, region.ParentID, region.Identifier, region.Name, region.IsActive).
		Scan(&region.ID, &region.CreatedAt, &region.UpdatedAt)
}

// ============================================================================
// Sites
// ============================================================================

// GetSite retrieves a site by ID
func (r *HierarchyRepository) GetSite(ctx context.Context, id int64) (*access.Site, error) {
	var row models.Site
	query := `SELECT id, project_id, region_id, parent_id, identifier, name, is_active, created_at, updated_at
			  FROM sites WHERE id = $1`
	if err := r.getRow(ctx, &row, "site", id, query); err != nil {
		return nil, err
	}
	return row.ToAccess(), nil
}

// CreateSite inserts a site. The region and parent site, when set, must belong to the same project.
func (r *HierarchyRepository) CreateSite(ctx context.Context, site *models.Site) error {
	if site.RegionID.Valid {
		region, err := r.GetRegion(ctx, site.RegionID.Int64)
		if err != nil {
			return err
		}
		if region.ProjectID != site.ProjectID {
			return fmt.Errorf("region %d belongs to project %d, not %d", region.ID, region.ProjectID, site.ProjectID)
		}
	}
	if site.ParentID.Valid {
		parent, err := r.GetSite(ctx, site.ParentID.Int64)
		if err != nil {
			return err
		}
		if parent.ProjectID != site.ProjectID {
			return fmt.Errorf("parent site %d belongs to project %d, not %d", parent.ID, parent.ProjectID, site.ProjectID)
		}
	}

	query := `INSERT INTO sites (project_id, region_id, parent_id, identifier, name, is_active)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  RETURNING id, created_at, updated_at`
	return r.db.QueryRowxContext(ctx, query, site.ProjectID, site.RegionID, site.ParentID, site.Identifier, site.Name, site.IsActive).
		Scan(&site.ID, &site.CreatedAt, &site.UpdatedAt)
}

// ============================================================================
// Form assignments and staff projects
// ============================================================================

// GetFormAssignment retrieves a form assignment by ID
func (r *HierarchyRepository) GetFormAssignment(ctx context.Context, id int64) (*access.FormAssignment, error) {
	var row models.FormAssignment
	query := `SELECT id, project_id, site_id, created_at FROM form_assignments WHERE id = $1`
	if err := r.getRow(ctx, &row, "form assignment", id, query); err != nil {
		return nil, err
	}
	return row.ToAccess(), nil
}

// GetStaffProject retrieves a staff project by ID
func (r *HierarchyRepository) GetStaffProject(ctx context.Context, id int64) (*access.StaffProject, error) {
	var row models.StaffProject
	query := `SELECT id, name, is_active, created_at FROM staff_projects WHERE id = $1`
	if err := r.getRow(ctx, &row, "staff project", id, query); err != nil {
		return nil, err
	}
	return row.ToAccess(), nil
}
