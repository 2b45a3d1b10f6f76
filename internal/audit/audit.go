// Package audit records security-relevant events of the access service: role
// grants and revocations, denied requests and site deactivations. Entries are
// fanned out by a MultiShipper to the audit_logs table and to any configured
// external destination (webhook, file) so they can reach a SIEM independently
// of the application logs.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/fieldsight/fieldsight-access/internal/db/models"
)

// Actions recorded by the service itself. HTTP-level entries use "METHOD /route".
const (
	ActionRoleGrant      = "role.grant"
	ActionRoleEnd        = "role.end"
	ActionAccessDenied   = "access.denied"
	ActionSiteDeactivate = "site.deactivate"
)

// LogEntry represents a structured audit log entry
type LogEntry struct {
	Timestamp      time.Time              `json:"timestamp"`
	Action         string                 `json:"action"`
	ActorID        string                 `json:"actor_id,omitempty"`
	OrganizationID *int64                 `json:"organization_id,omitempty"`
	ResourceType   string                 `json:"resource_type,omitempty"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	Decision       string                 `json:"decision,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	AuthMethod     string                 `json:"auth_method,omitempty"`
	StatusCode     int                    `json:"status_code,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Shipper defines the interface for audit log shipping
type Shipper interface {
	// Ship sends an audit log entry to the destination
	Ship(ctx context.Context, entry *LogEntry) error
	// Close cleans up any resources
	Close() error
}

// ShipperConfig holds configuration for one external destination
type ShipperConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Type    string         `mapstructure:"type"` // webhook or file
	Webhook *WebhookConfig `mapstructure:"webhook"`
	File    *FileConfig    `mapstructure:"file"`
	// Actions restricts the destination to these actions; empty ships all.
	Actions []string `mapstructure:"actions"`
}

// actionFilter forwards only entries whose action is in allow.
type actionFilter struct {
	allow map[string]struct{}
	next  Shipper
}

func withActions(s Shipper, actions []string) Shipper {
	if len(actions) == 0 {
		return s
	}
	allow := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		allow[a] = struct{}{}
	}
	return &actionFilter{allow: allow, next: s}
}

func (f *actionFilter) Ship(ctx context.Context, entry *LogEntry) error {
	if _, ok := f.allow[entry.Action]; !ok {
		return nil
	}
	return f.next.Ship(ctx, entry)
}

func (f *actionFilter) Close() error { return f.next.Close() }

// MultiShipper ships to multiple destinations
type MultiShipper struct {
	shippers []Shipper
	mu       sync.RWMutex
}

// NewMultiShipper creates a multi-shipper from configs. Additional shippers,
// typically the database shipper, are appended as given.
func NewMultiShipper(configs []ShipperConfig, extra ...Shipper) (*MultiShipper, error) {
	ms := &MultiShipper{shippers: make([]Shipper, 0, len(configs)+len(extra))}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}
		if err != nil {
			ms.Close() //nolint:errcheck
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}
		ms.shippers = append(ms.shippers, withActions(shipper, cfg.Actions))
	}

	for _, s := range extra {
		if s != nil {
			ms.shippers = append(ms.shippers, s)
		}
	}
	return ms, nil
}

// Len reports the number of active destinations.
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends an entry to all configured shippers. A failing destination does
// not stop delivery to the others; the last error is returned.
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, entry); err != nil {
			lastErr = err
			slog.WarnContext(ctx, "audit shipper error", "action", entry.Action, "error", err)
		}
	}
	return lastErr
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Store persists audit rows; implemented by repositories.AuditRepository.
type Store interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// DatabaseShipper writes entries to the audit_logs table.
type DatabaseShipper struct {
	store Store
}

// NewDatabaseShipper creates a shipper backed by store.
func NewDatabaseShipper(store Store) *DatabaseShipper {
	return &DatabaseShipper{store: store}
}

// Ship converts the entry to a row and inserts it.
func (d *DatabaseShipper) Ship(ctx context.Context, entry *LogEntry) error {
	return d.store.CreateAuditLog(ctx, ToModel(entry))
}

// Close is a no-op; the database handle is owned by the caller.
func (d *DatabaseShipper) Close() error { return nil }

// ToModel maps an entry onto an audit_logs row. Transport details that have no
// column are folded into metadata.
func ToModel(entry *LogEntry) *models.AuditLog {
	row := &models.AuditLog{
		Action:         entry.Action,
		OrganizationID: entry.OrganizationID,
		CreatedAt:      entry.Timestamp,
	}
	if entry.ActorID != "" {
		row.UserID = strPtr(entry.ActorID)
	}
	if entry.ResourceType != "" {
		row.ResourceType = strPtr(entry.ResourceType)
	}
	if entry.ResourceID != "" {
		row.ResourceID = strPtr(entry.ResourceID)
	}
	if entry.IPAddress != "" {
		row.IPAddress = strPtr(entry.IPAddress)
	}

	meta := make(map[string]interface{}, len(entry.Metadata)+3)
	for k, v := range entry.Metadata {
		meta[k] = v
	}
	if entry.Decision != "" {
		meta["decision"] = entry.Decision
	}
	if entry.AuthMethod != "" {
		meta["auth_method"] = entry.AuthMethod
	}
	if entry.StatusCode != 0 {
		meta["status_code"] = entry.StatusCode
	}
	if len(meta) > 0 {
		row.Metadata = meta
	}
	return row
}

// FormatID renders a numeric resource id for LogEntry.ResourceID.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func strPtr(s string) *string { return &s }
