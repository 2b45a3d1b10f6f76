// Package repositories implements the data access layer of the FieldSight access service.
// Each repository type encapsulates the queries for one group of tables; handlers and services
// never issue SQL directly. Hierarchy and role repositories satisfy the access store interfaces.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/fieldsight/fieldsight-access/internal/db/models"
	"github.com/google/uuid"
)

const userColumns = `id, email, name, oidc_sub, is_superuser, created_at, updated_at`

// UserRepository handles user database operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser creates a new user
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	user.ID = uuid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	query := `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.OIDCSub,
		user.IsSuperuser,
		user.CreatedAt,
		user.UpdatedAt,
	)
	return err
}

// GetUserByID retrieves a user by ID. It returns (nil, nil) when no user matches.
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

// GetUserByEmail retrieves a user by email
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// GetUserByOIDCSub retrieves a user by OIDC subject identifier
func (r *UserRepository) GetUserByOIDCSub(ctx context.Context, oidcSub string) (*models.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE oidc_sub = $1`, oidcSub)
}

func (r *UserRepository) getUser(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.OIDCSub,
		&user.IsSuperuser,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateProfile updates a user's email and display name
func (r *UserRepository) UpdateProfile(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET email = $2, name = $3, updated_at = $4 WHERE id = $1`,
		user.ID, user.Email, user.Name, user.UpdatedAt)
	return err
}

// SetSuperuser toggles the platform operator flag
func (r *UserRepository) SetSuperuser(ctx context.Context, userID string, superuser bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_superuser = $2, updated_at = $3 WHERE id = $1`,
		userID, superuser, time.Now())
	return err
}

// GetOrCreateUserFromOIDC gets or creates a user from OIDC authentication,
// refreshing email and name when the identity provider reports new values.
func (r *UserRepository) GetOrCreateUserFromOIDC(ctx context.Context, oidcSub, email, name string) (*models.User, error) {
	user, err := r.GetUserByOIDCSub(ctx, oidcSub)
	if err != nil {
		return nil, err
	}

	if user != nil {
		if user.Email != email || user.Name != name {
			user.Email = email
			user.Name = name
			if err := r.UpdateProfile(ctx, user); err != nil {
				return nil, err
			}
		}
		return user, nil
	}

	newUser := &models.User{
		Email:   email,
		Name:    name,
		OIDCSub: &oidcSub,
	}
	if err := r.CreateUser(ctx, newUser); err != nil {
		return nil, err
	}
	return newUser, nil
}
