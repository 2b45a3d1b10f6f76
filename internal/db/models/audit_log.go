// Package models - audit_log.go defines the AuditLog model for recording security-relevant
// events such as role grants, role revocations and denied requests.
package models

import "time"

// AuditLog represents an audit log entry for tracking user actions
type AuditLog struct {
	ID             string                 `json:"id"`
	UserID         *string                `json:"user_id"` // Nullable for anonymous requests
	OrganizationID *int64                 `json:"organization_id,omitempty"`
	Action         string                 `json:"action"`                  // "role.grant", "role.end", "POST /api/v1/roles"
	ResourceType   *string                `json:"resource_type,omitempty"` // "role", "site", "project"
	ResourceID     *string                `json:"resource_id,omitempty"`   // id of the affected resource
	Metadata       map[string]interface{} `json:"metadata,omitempty"`      // JSONB: additional context
	IPAddress      *string                `json:"ip_address,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}
