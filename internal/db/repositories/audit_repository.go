// audit_repository.go implements AuditRepository, which persists security-relevant events
// (role grants, revocations, denied requests) and lists them for platform operators.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fieldsight/fieldsight-access/internal/db/models"
	"github.com/google/uuid"
)

const auditLogColumns = `id, user_id, organization_id, action, resource_type, resource_id, metadata, ip_address, created_at`

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters narrows ListAuditLogs; nil fields are ignored.
type AuditFilters struct {
	UserID         *string
	OrganizationID *int64
	Action         *string
	ResourceType   *string
	Since          *time.Time
}

// CreateAuditLog assigns an ID and timestamp and inserts the entry
func (r *AuditRepository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now()

	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		if metadataJSON, err = json.Marshal(entry.Metadata); err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (`+auditLogColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.UserID, entry.OrganizationID, entry.Action, entry.ResourceType,
		entry.ResourceID, metadataJSON, entry.IPAddress, entry.CreatedAt,
	)
	return err
}

// ListAuditLogs returns matching entries newest first together with the total match count
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	var where []string
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filters.UserID != nil {
		add("user_id = $%d", *filters.UserID)
	}
	if filters.OrganizationID != nil {
		add("organization_id = $%d", *filters.OrganizationID)
	}
	if filters.Action != nil {
		add("action = $%d", *filters.Action)
	}
	if filters.ResourceType != nil {
		add("resource_type = $%d", *filters.ResourceType)
	}
	if filters.Since != nil {
		add("created_at >= $%d", *filters.Since)
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		auditLogColumns, cond, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		entry := &models.AuditLog{}
		var metadataJSON []byte
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.OrganizationID, &entry.Action, &entry.ResourceType,
			&entry.ResourceID, &metadataJSON, &entry.IPAddress, &entry.CreatedAt); err != nil {
			return nil, 0, err
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, 0, err
			}
		}
		logs = append(logs, entry)
	}

	return logs, total, rows.Err()
}

// DeleteAuditLogsBefore purges entries created before cutoff
func (r *AuditRepository) DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
