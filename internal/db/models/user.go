// Package models - user.go defines the User model for service accounts and people authenticated
// through the identity provider. IsSuperuser marks platform operators who bypass role checks.
package models

import "time"

// User represents a user in the system
type User struct {
	ID          string
	Email       string
	Name        string
	OIDCSub     *string // OIDC subject identifier (unique per provider)
	IsSuperuser bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
