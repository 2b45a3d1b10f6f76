// Package telemetry provides application-level observability for the FieldSight access service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are served by the
// side-channel HTTP server started in cmd/server:
//
//	GET http://<host>:<FSA_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not part of the gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template)
//   - Access decisions by resource kind, capability, decision and deciding tier
//   - Role grants and revocations by kind
//   - Hierarchy cycle detections
//   - Active-role cache hits and misses
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// Resource and role labels carry kinds ("site", "reviewer"), never ids.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate:       rate(http_requests_total[5m])
//   - p99 latency/route:  histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Access evaluation metrics.
//
// AccessDecisionsTotal is labelled {resource, capability, decision, tier}; tier is the
// priority tier that produced the decision ("organization_admin", "site", "none", "error", ...).
//
// Example PromQL queries:
//   - Denial ratio:               sum(rate(access_decisions_total{decision="denied"}[5m])) / sum(rate(access_decisions_total[5m]))
//   - Decisions settled by donor: sum(rate(access_decisions_total{tier="project_donor"}[1h]))
var (
	AccessDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Total number of access evaluations, by resource kind, capability, decision, and deciding tier.",
		},
		[]string{"resource", "capability", "decision", "tier"},
	)

	AccessEvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "access_evaluation_duration_seconds",
			Help:    "Duration of a single access evaluation including hierarchy resolution, by resource kind.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
		[]string{"resource"},
	)

	// HierarchyCyclesTotal should stay at zero; any increase means a parent
	// reference loop in the regions or sites tables.
	HierarchyCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "access_hierarchy_cycles_total",
			Help: "Total number of parent walks aborted because of a cycle or the depth bound.",
		},
	)
)

// Role lifecycle metrics, labelled {kind, action} where action is "grant" or "end".
var RoleMutationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "role_mutations_total",
		Help: "Total number of role grants and revocations, by role kind and action.",
	},
	[]string{"kind", "action"},
)

// RoleCacheResultsTotal counts active-role cache lookups by result ("hit", "miss", "error").
var RoleCacheResultsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "role_cache_results_total",
		Help: "Total number of active-role cache lookups, by result.",
	},
	[]string{"result"},
)

// CleanupDeletedTotal counts rows purged by the cleanup job, labelled by table.
var CleanupDeletedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cleanup_deleted_rows_total",
		Help: "Total number of rows purged by the background cleanup job, by table.",
	},
	[]string{"table"},
)

// DBOpenConnections tracks the number of open connections held by the sql.DB pool.
// It is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples the pool every 30 seconds until ctx is cancelled
// or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
