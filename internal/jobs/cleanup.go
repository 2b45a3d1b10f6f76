// Package jobs holds the service's periodic background work.
//
// cleanup.go implements CleanupJob, which purges API keys that have been
// expired for longer than the configured retention and, when an audit
// retention is set, audit entries older than it. Each pass runs both
// purges; a failure in one is logged and does not skip the other.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldsight/fieldsight-access/internal/config"
	"github.com/fieldsight/fieldsight-access/internal/telemetry"
)

const defaultCleanupInterval = 24 * time.Hour

// ExpiredKeyPurger deletes API keys that expired before a cutoff.
type ExpiredKeyPurger interface {
	DeleteExpiredAPIKeys(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditPurger deletes audit entries created before a cutoff.
type AuditPurger interface {
	DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob periodically purges stale API keys and audit entries.
type CleanupJob struct {
	keys     ExpiredKeyPurger
	audit    AuditPurger
	cfg      config.JobsConfig
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewCleanupJob creates a CleanupJob. audit may be nil to never purge audit logs.
func NewCleanupJob(keys ExpiredKeyPurger, audit AuditPurger, cfg config.JobsConfig) *CleanupJob {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	return &CleanupJob{
		keys:     keys,
		audit:    audit,
		cfg:      cfg,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs a pass immediately and then on every interval until ctx is
// cancelled or Stop is called. It blocks; run it in its own goroutine.
func (j *CleanupJob) Start(ctx context.Context) {
	if j.cfg.APIKeyRetention <= 0 && (j.audit == nil || j.cfg.AuditRetention <= 0) {
		slog.Info("cleanup job: nothing to purge, not starting")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("cleanup job started",
		"interval", j.interval,
		"api_key_retention", j.cfg.APIKeyRetention,
		"audit_retention", j.cfg.AuditRetention)

	j.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-j.stopChan:
			slog.Info("cleanup job stopped")
			return
		case <-ctx.Done():
			slog.Info("cleanup job context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (j *CleanupJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
}

// RunOnce performs a single purge pass.
func (j *CleanupJob) RunOnce(ctx context.Context) {
	now := j.now()

	if j.cfg.APIKeyRetention > 0 {
		n, err := j.keys.DeleteExpiredAPIKeys(ctx, now.Add(-j.cfg.APIKeyRetention))
		if err != nil {
			slog.ErrorContext(ctx, "cleanup job: failed to purge expired api keys", "error", err)
		} else if n > 0 {
			telemetry.CleanupDeletedTotal.WithLabelValues("api_keys").Add(float64(n))
			slog.InfoContext(ctx, "cleanup job: purged expired api keys", "count", n)
		}
	}

	if j.audit != nil && j.cfg.AuditRetention > 0 {
		n, err := j.audit.DeleteAuditLogsBefore(ctx, now.Add(-j.cfg.AuditRetention))
		if err != nil {
			slog.ErrorContext(ctx, "cleanup job: failed to purge audit logs", "error", err)
		} else if n > 0 {
			telemetry.CleanupDeletedTotal.WithLabelValues("audit_logs").Add(float64(n))
			slog.InfoContext(ctx, "cleanup job: purged audit logs", "count", n)
		}
	}
}
