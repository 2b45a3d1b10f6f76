// Package cache provides a Redis-backed cache of each user's active roles.
// RoleStore decorates an access.RoleStore: reads are served from Redis when
// possible and every write through the decorator invalidates the affected
// user's entry, so stale roles live at most for the configured TTL when a
// role is changed by another process.
//
// Entries are keyed by a per-user generation. Invalidation bumps the
// generation instead of deleting the entry, so a read that loaded the store
// before a write committed can only fill a key no later read will look at.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/fieldsight/fieldsight-access/internal/telemetry"
	redis "github.com/redis/go-redis/v9"
)

// DefaultTTL is used when a non-positive TTL is configured.
const DefaultTTL = 5 * time.Minute

const (
	entryPrefix      = "fsa:roles:"
	generationPrefix = "fsa:roles-gen:"
)

// RoleStore caches ActiveRoles results per user.
type RoleStore struct {
	next   access.RoleStore
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRoleStore wraps next with a Redis cache.
func NewRoleStore(next access.RoleStore, client redis.UniversalClient, ttl time.Duration) *RoleStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RoleStore{next: next, client: client, ttl: ttl}
}

var (
	_ access.RoleStore       = (*RoleStore)(nil)
	_ access.SiteDeactivator = (*RoleStore)(nil)
)

func generationKey(userID string) string {
	return generationPrefix + userID
}

func entryKey(userID string, generation int64) string {
	return fmt.Sprintf("%s%s:%d", entryPrefix, userID, generation)
}

// generation returns the current generation of userID; 0 before the first
// invalidation.
func (s *RoleStore) generation(ctx context.Context, userID string) (int64, error) {
	gen, err := s.client.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// ActiveRoles returns the user's active roles matching filter. The cache holds
// the unfiltered set; filtering happens after the lookup. Redis failures fall
// back to the underlying store.
func (s *RoleStore) ActiveRoles(ctx context.Context, userID string, filter access.RoleFilter) ([]access.Role, error) {
	roles, err := s.cached(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]access.Role, 0, len(roles))
	for i := range roles {
		if roles[i].Active() && filter.Matches(&roles[i]) {
			out = append(out, roles[i])
		}
	}
	return out, nil
}

func (s *RoleStore) cached(ctx context.Context, userID string) ([]access.Role, error) {
	gen, err := s.generation(ctx, userID)
	if err != nil {
		slog.WarnContext(ctx, "role cache generation read failed", "user_id", userID, "error", err)
		telemetry.RoleCacheResultsTotal.WithLabelValues("error").Inc()
		return s.next.ActiveRoles(ctx, userID, access.RoleFilter{})
	}
	key := entryKey(userID, gen)

	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var roles []access.Role
		if jerr := json.Unmarshal(raw, &roles); jerr == nil {
			telemetry.RoleCacheResultsTotal.WithLabelValues("hit").Inc()
			return roles, nil
		}
		slog.WarnContext(ctx, "discarding undecodable role cache entry", "user_id", userID)
		telemetry.RoleCacheResultsTotal.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		telemetry.RoleCacheResultsTotal.WithLabelValues("miss").Inc()
	default:
		slog.WarnContext(ctx, "role cache read failed", "user_id", userID, "error", err)
		telemetry.RoleCacheResultsTotal.WithLabelValues("error").Inc()
	}

	roles, err := s.next.ActiveRoles(ctx, userID, access.RoleFilter{})
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(roles)
	if err != nil {
		return roles, nil
	}
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "role cache write failed", "user_id", userID, "error", err)
	}
	return roles, nil
}

// GetRole is not cached.
func (s *RoleStore) GetRole(ctx context.Context, id int64) (*access.Role, error) {
	return s.next.GetRole(ctx, id)
}

// CreateRole writes through and invalidates the user's entry.
func (s *RoleStore) CreateRole(ctx context.Context, role *access.Role) error {
	if err := s.next.CreateRole(ctx, role); err != nil {
		return err
	}
	s.Invalidate(ctx, role.UserID)
	return nil
}

// EndRole writes through and invalidates the user's entry.
func (s *RoleStore) EndRole(ctx context.Context, id int64, at time.Time) (*access.Role, error) {
	role, err := s.next.EndRole(ctx, id, at)
	if err != nil {
		return nil, err
	}
	s.Invalidate(ctx, role.UserID)
	return role, nil
}

// DeactivateSite delegates to the wrapped store and invalidates every user
// whose role was ended.
func (s *RoleStore) DeactivateSite(ctx context.Context, siteID int64, at time.Time) ([]access.Role, error) {
	sites, ok := s.next.(access.SiteDeactivator)
	if !ok {
		return nil, fmt.Errorf("role store %T cannot deactivate sites", s.next)
	}
	ended, err := sites.DeactivateSite(ctx, siteID, at)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(ended))
	for i := range ended {
		if uid := ended[i].UserID; !seen[uid] {
			seen[uid] = true
			s.Invalidate(ctx, uid)
		}
	}
	return ended, nil
}

// Invalidate moves userID to a new generation. Errors are logged only; the
// old entry expires on its own.
func (s *RoleStore) Invalidate(ctx context.Context, userID string) {
	if err := s.client.Incr(ctx, generationKey(userID)).Err(); err != nil {
		slog.WarnContext(ctx, "role cache invalidation failed", "user_id", userID, "error", err)
	}
}
