// Package models defines the database row types of the FieldSight access service.
// Each type corresponds to a table; conversion helpers map hierarchy and role rows to the
// access domain types. Query logic lives in the repositories package.
package models

import "time"

// APIKey represents an API key for machine-to-machine authentication. A key
// acts with the roles of the user that owns it.
type APIKey struct {
	ID          string
	UserID      string
	Name        string     // Friendly name (e.g., "Sync worker")
	Description *string    // Optional human-friendly description
	KeyHash     string     // Bcrypt hash of the full key
	KeyPrefix   string     // First 10 chars for display and lookup (e.g., "fsa_abc123")
	ExpiresAt   *time.Time // Optional expiration
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

// IsExpired reports whether the key has an expiry in the past.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
