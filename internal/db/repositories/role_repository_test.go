package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var userRoleCols = []string{
	"id", "user_id", "kind", "organization_id", "project_id", "region_id", "site_id", "staff_project_id", "started_at", "ended_at",
}

func newRoleRepo(t *testing.T) (*RoleRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRoleRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func sampleReviewerRow(id int64, endedAt interface{}) *sqlmock.Rows {
	return sqlmock.NewRows(userRoleCols).
		AddRow(id, "user-1", "reviewer", int64(1), int64(10), nil, int64(100), nil, time.Now(), endedAt)
}

// ---------------------------------------------------------------------------
// ActiveRoles
// ---------------------------------------------------------------------------

func TestActiveRoles_NoFilter(t *testing.T) {
	repo, mock := newRoleRepo(t)
	rows := sqlmock.NewRows(userRoleCols).
		AddRow(int64(1), "user-1", "project_manager", int64(1), int64(10), nil, nil, nil, time.Now(), nil).
		AddRow(int64(2), "user-1", "reviewer", int64(1), int64(10), nil, int64(100), nil, time.Now(), nil)
	mock.ExpectQuery(`SELECT id, user_id, kind.*FROM user_roles WHERE user_id = \$1 AND ended_at IS NULL ORDER BY id`).
		WithArgs("user-1").
		WillReturnRows(rows)

	roles, err := repo.ActiveRoles(context.Background(), "user-1", access.RoleFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("len(roles) = %d, want 2", len(roles))
	}
	if roles[0].Kind != access.KindProjectManager || roles[1].Kind != access.KindReviewer {
		t.Errorf("kinds = %v, %v", roles[0].Kind, roles[1].Kind)
	}
	if roles[1].SiteID == nil || *roles[1].SiteID != 100 {
		t.Errorf("SiteID = %v, want 100", roles[1].SiteID)
	}
}

func TestActiveRoles_WithFilter(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery(`FROM user_roles WHERE user_id = \$1 AND ended_at IS NULL AND kind = ANY\(\$2\) AND site_id = \$3 ORDER BY id`).
		WithArgs("user-1", sqlmock.AnyArg(), int64(100)).
		WillReturnRows(sampleReviewerRow(2, nil))

	filter := access.RoleFilter{Kinds: []access.RoleKind{access.KindReviewer}, SiteID: access.Ref(100)}
	roles, err := repo.ActiveRoles(context.Background(), "user-1", filter)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 1 {
		t.Errorf("len(roles) = %d, want 1", len(roles))
	}
}

func TestActiveRoles_UnknownKindRow(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("FROM user_roles").
		WillReturnRows(sqlmock.NewRows(userRoleCols).
			AddRow(int64(1), "user-1", "owner", nil, nil, nil, nil, nil, time.Now(), nil))

	_, err := repo.ActiveRoles(context.Background(), "user-1", access.RoleFilter{})
	if !errors.Is(err, access.ErrInvalidKind) {
		t.Errorf("error = %v, want ErrInvalidKind", err)
	}
}

func TestActiveRoles_DBError(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("FROM user_roles").WillReturnError(errDB)

	if _, err := repo.ActiveRoles(context.Background(), "user-1", access.RoleFilter{}); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestListSiteRoles(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery(`FROM user_roles WHERE site_id = \$1 AND ended_at IS NULL`).
		WithArgs(int64(100)).
		WillReturnRows(sampleReviewerRow(2, nil))

	roles, err := repo.ListSiteRoles(context.Background(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 1 || roles[0].UserID != "user-1" {
		t.Errorf("ListSiteRoles() = %+v", roles)
	}
}

// ---------------------------------------------------------------------------
// GetRole
// ---------------------------------------------------------------------------

func TestGetRole_NotFound(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("FROM user_roles WHERE id").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(userRoleCols))

	_, err := repo.GetRole(context.Background(), 9)
	if !errors.Is(err, access.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// CreateRole
// ---------------------------------------------------------------------------

func TestCreateRole_EndsUnassignedInTransaction(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE user_roles SET ended_at = \$1 WHERE user_id = \$2 AND kind = \$3 AND ended_at IS NULL`).
		WithArgs(sqlmock.AnyArg(), "user-1", "unassigned").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO user_roles").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	role := &access.Role{UserID: "user-1", Kind: access.KindReviewer, SiteID: access.Ref(100), ProjectID: access.Ref(10), OrganizationID: access.Ref(1)}
	if err := repo.CreateRole(context.Background(), role); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role.ID != 7 {
		t.Errorf("ID = %d, want 7", role.ID)
	}
	if role.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateRole_UnassignedSkipsReplacement(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO user_roles").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))
	mock.ExpectCommit()

	role := &access.Role{UserID: "user-1", Kind: access.KindUnassigned}
	if err := repo.CreateRole(context.Background(), role); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateRole_UniqueViolation(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE user_roles SET ended_at").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO user_roles").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	role := &access.Role{UserID: "user-1", Kind: access.KindProjectManager, ProjectID: access.Ref(10), OrganizationID: access.Ref(1)}
	err := repo.CreateRole(context.Background(), role)
	if !errors.Is(err, access.ErrDuplicateRole) {
		t.Errorf("error = %v, want ErrDuplicateRole", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateRole_BeginError(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectBegin().WillReturnError(errDB)

	err := repo.CreateRole(context.Background(), &access.Role{UserID: "user-1", Kind: access.KindSuperAdmin})
	if !errors.Is(err, errDB) {
		t.Errorf("error = %v, want errDB", err)
	}
}

// ---------------------------------------------------------------------------
// EndRole
// ---------------------------------------------------------------------------

func TestEndRole_Success(t *testing.T) {
	repo, mock := newRoleRepo(t)
	ended := time.Now().UTC()
	mock.ExpectQuery(`UPDATE user_roles SET ended_at = \$1 WHERE id = \$2 AND ended_at IS NULL RETURNING`).
		WithArgs(sqlmock.AnyArg(), int64(2)).
		WillReturnRows(sampleReviewerRow(2, ended))

	role, err := repo.EndRole(context.Background(), 2, ended)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role.EndedAt == nil {
		t.Error("EndedAt should be set")
	}
}

func TestEndRole_AlreadyEnded(t *testing.T) {
	repo, mock := newRoleRepo(t)
	ended := time.Now().Add(-time.Hour)
	mock.ExpectQuery("UPDATE user_roles SET ended_at").
		WillReturnRows(sqlmock.NewRows(userRoleCols))
	mock.ExpectQuery("FROM user_roles WHERE id").
		WithArgs(int64(2)).
		WillReturnRows(sampleReviewerRow(2, ended))

	_, err := repo.EndRole(context.Background(), 2, time.Now())
	if !errors.Is(err, access.ErrRoleEnded) {
		t.Errorf("error = %v, want ErrRoleEnded", err)
	}
}

func TestEndRole_NotFound(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("UPDATE user_roles SET ended_at").
		WillReturnRows(sqlmock.NewRows(userRoleCols))
	mock.ExpectQuery("FROM user_roles WHERE id").
		WillReturnRows(sqlmock.NewRows(userRoleCols))

	_, err := repo.EndRole(context.Background(), 99, time.Now())
	if !errors.Is(err, access.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// DeactivateSite
// ---------------------------------------------------------------------------

func TestDeactivateSite_EndsSiteRolesInTransaction(t *testing.T) {
	repo, mock := newRoleRepo(t)
	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE sites SET is_active = FALSE`).
		WithArgs(int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE user_roles SET ended_at = \$1 WHERE site_id = \$2 AND ended_at IS NULL RETURNING`).
		WithArgs(at, int64(100)).
		WillReturnRows(sqlmock.NewRows(userRoleCols).
			AddRow(int64(3), "sup-1", "site_supervisor", int64(1), int64(10), nil, int64(100), nil, time.Now(), at).
			AddRow(int64(4), "rev-1", "reviewer", int64(1), int64(10), nil, int64(100), nil, time.Now(), at))
	mock.ExpectCommit()

	ended, err := repo.DeactivateSite(context.Background(), 100, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ended) != 2 {
		t.Fatalf("len(ended) = %d, want 2", len(ended))
	}
	if ended[0].UserID != "sup-1" || ended[0].Kind != access.KindSiteSupervisor || ended[0].EndedAt == nil {
		t.Errorf("ended[0] = %+v", ended[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDeactivateSite_NotFoundRollsBack(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE sites SET is_active = FALSE`).
		WithArgs(int64(404)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if _, err := repo.DeactivateSite(context.Background(), 404, time.Now()); !errors.Is(err, access.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDeactivateSite_RoleUpdateFailureRollsBack(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE sites SET is_active = FALSE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE user_roles SET ended_at`).WillReturnError(errDB)
	mock.ExpectRollback()

	if _, err := repo.DeactivateSite(context.Background(), 100, time.Now()); !errors.Is(err, errDB) {
		t.Errorf("error = %v, want errDB", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
