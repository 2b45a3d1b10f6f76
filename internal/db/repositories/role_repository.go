// role_repository.go implements RoleRepository, providing database queries for user role
// assignments: active-role lookups, transactional creation that retires Unassigned placeholders,
// soft revocation and site deactivation. It satisfies access.RoleStore.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/fieldsight/fieldsight-access/internal/db/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	_ access.RoleStore       = (*RoleRepository)(nil)
	_ access.SiteDeactivator = (*RoleRepository)(nil)
)

const userRoleColumns = `id, user_id, kind, organization_id, project_id, region_id, site_id, staff_project_id, started_at, ended_at`

// pgUniqueViolation is the SQLSTATE raised by idx_user_roles_active_unique.
const pgUniqueViolation = "23505"

// RoleRepository handles database operations for user roles
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// ============================================================================
// Queries
// ============================================================================

// ActiveRoles returns the user's roles that have not ended, narrowed by filter
func (r *RoleRepository) ActiveRoles(ctx context.Context, userID string, filter access.RoleFilter) ([]access.Role, error) {
	query := `SELECT ` + userRoleColumns + ` FROM user_roles WHERE user_id = $1 AND ended_at IS NULL`
	args := []interface{}{userID}

	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = k.String()
		}
		args = append(args, pq.Array(kinds))
		query += fmt.Sprintf(" AND kind = ANY($%d)", len(args))
	}
	for _, f := range []struct {
		column string
		value  *int64
	}{
		{"organization_id", filter.OrganizationID},
		{"project_id", filter.ProjectID},
		{"region_id", filter.RegionID},
		{"site_id", filter.SiteID},
	} {
		if f.value != nil {
			args = append(args, *f.value)
			query += fmt.Sprintf(" AND %s = $%d", f.column, len(args))
		}
	}
	query += " ORDER BY id"

	return r.selectRoles(ctx, query, args...)
}

// ListSiteRoles returns every active role attached directly to a site
func (r *RoleRepository) ListSiteRoles(ctx context.Context, siteID int64) ([]access.Role, error) {
	query := `SELECT ` + userRoleColumns + ` FROM user_roles WHERE site_id = $1 AND ended_at IS NULL ORDER BY id`
	return r.selectRoles(ctx, query, siteID)
}

// GetRole retrieves a role by ID, including ended roles
func (r *RoleRepository) GetRole(ctx context.Context, id int64) (*access.Role, error) {
	var row models.UserRole
	err := r.db.GetContext(ctx, &row, `SELECT `+userRoleColumns+` FROM user_roles WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %d: %w", id, access.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return row.ToAccess()
}

func (r *RoleRepository) selectRoles(ctx context.Context, query string, args ...interface{}) ([]access.Role, error) {
	var rows []models.UserRole
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	roles := make([]access.Role, 0, len(rows))
	for i := range rows {
		role, err := rows[i].ToAccess()
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	return roles, nil
}

// ============================================================================
// Mutations
// ============================================================================

// CreateRole inserts a normalized role. In the same transaction every active
// Unassigned role of the user is ended, unless the new role is itself
// Unassigned. A concurrent identical grant surfaces as access.ErrDuplicateRole.
func (r *RoleRepository) CreateRole(ctx context.Context, role *access.Role) error {
	if role.StartedAt.IsZero() {
		role.StartedAt = time.Now().UTC()
	}
	row := models.UserRoleFromAccess(role)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if role.Kind != access.KindUnassigned {
		_, err = tx.ExecContext(ctx,
			`UPDATE user_roles SET ended_at = $1 WHERE user_id = $2 AND kind = $3 AND ended_at IS NULL`,
			row.StartedAt, row.UserID, access.KindUnassigned.String())
		if err != nil {
			return fmt.Errorf("failed to end unassigned roles: %w", err)
		}
	}

	query := `INSERT INTO user_roles (user_id, kind, organization_id, project_id, region_id, site_id, staff_project_id, started_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			  RETURNING id`
	err = tx.QueryRowxContext(ctx, query,
		row.UserID, row.Kind, row.OrganizationID, row.ProjectID, row.RegionID, row.SiteID, row.StaffProjectID, row.StartedAt,
	).Scan(&role.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return access.ErrDuplicateRole
		}
		return fmt.Errorf("failed to insert role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role: %w", err)
	}
	return nil
}

// EndRole sets ended_at on an active role. Ending a role twice returns
// access.ErrRoleEnded; rows are never deleted.
func (r *RoleRepository) EndRole(ctx context.Context, id int64, at time.Time) (*access.Role, error) {
	var row models.UserRole
	query := `UPDATE user_roles SET ended_at = $1 WHERE id = $2 AND ended_at IS NULL RETURNING ` + userRoleColumns
	err := r.db.GetContext(ctx, &row, query, at.UTC(), id)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetRole(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, access.ErrRoleEnded
	}
	if err != nil {
		return nil, err
	}
	return row.ToAccess()
}

// DeactivateSite marks a site inactive and ends every active role scoped to
// it in one transaction. Sites are never hard-deleted because roles and
// submissions keep referencing them.
func (r *RoleRepository) DeactivateSite(ctx context.Context, siteID int64, at time.Time) ([]access.Role, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE sites SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate site: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("site %d: %w", siteID, access.ErrNotFound)
	}

	var rows []models.UserRole
	query := `UPDATE user_roles SET ended_at = $1 WHERE site_id = $2 AND ended_at IS NULL RETURNING ` + userRoleColumns
	if err := tx.SelectContext(ctx, &rows, query, at.UTC(), siteID); err != nil {
		return nil, fmt.Errorf("failed to end site roles: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit site deactivation: %w", err)
	}

	ended := make([]access.Role, 0, len(rows))
	for i := range rows {
		role, err := rows[i].ToAccess()
		if err != nil {
			return nil, err
		}
		ended = append(ended, *role)
	}
	return ended, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}
