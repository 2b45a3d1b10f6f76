// Package services implements the business operations that coordinate the access
// core with persistence and side channels. RoleService is the only writer of
// user roles: every grant and revocation passes the authority check, lands in
// the role store, and is then announced on the event bus and the audit trail.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/fieldsight/fieldsight-access/internal/audit"
	"github.com/fieldsight/fieldsight-access/internal/events"
	"github.com/fieldsight/fieldsight-access/internal/safego"
	"github.com/fieldsight/fieldsight-access/internal/telemetry"
)

const sideEffectTimeout = 10 * time.Second

// RoleService grants, ends and lists user roles.
type RoleService struct {
	roles      access.RoleStore
	sites      access.SiteDeactivator
	normalizer *access.Normalizer
	authority  *access.Authority
	publisher  events.Publisher
	shipper    audit.Shipper
	tasks      *safego.Group
}

// RoleServiceDeps groups the collaborators of RoleService. Publisher and
// Shipper may be nil. Sites defaults to Roles when Roles can deactivate sites.
type RoleServiceDeps struct {
	Hierarchy access.HierarchyStore
	Roles     access.RoleStore
	Sites     access.SiteDeactivator
	Authority *access.Authority
	Publisher events.Publisher
	Shipper   audit.Shipper
	Tasks     *safego.Group
}

// NewRoleService wires a RoleService.
func NewRoleService(d RoleServiceDeps) *RoleService {
	if d.Publisher == nil {
		d.Publisher = events.NoopPublisher{}
	}
	if d.Tasks == nil {
		d.Tasks = &safego.Group{}
	}
	if d.Sites == nil {
		d.Sites, _ = d.Roles.(access.SiteDeactivator)
	}
	return &RoleService{
		roles:      d.Roles,
		sites:      d.Sites,
		normalizer: access.NewNormalizer(d.Hierarchy, d.Roles),
		authority:  d.Authority,
		publisher:  d.Publisher,
		shipper:    d.Shipper,
		tasks:      d.Tasks,
	}
}

// Grant validates draft, checks that actor may grant it and stores it. Any
// active Unassigned role of the user is ended in the same write. Duplicates
// are only reported once the actor is authorized, so a denied caller cannot
// learn which roles other users hold.
func (s *RoleService) Grant(ctx context.Context, actor access.Principal, draft access.RoleDraft) (*access.Role, error) {
	role, err := s.normalizer.Derive(ctx, draft)
	if err != nil {
		return nil, err
	}
	if err := s.authority.Authorize(actor, role, access.ActionGrant); err != nil {
		return nil, err
	}
	if err := s.normalizer.CheckDuplicate(ctx, role); err != nil {
		return nil, err
	}
	if err := s.roles.CreateRole(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to grant %s role: %w", role.Kind, err)
	}

	telemetry.RoleMutationsTotal.WithLabelValues(role.Kind.String(), "grant").Inc()
	slog.InfoContext(ctx, "role granted",
		"role_id", role.ID, "user_id", role.UserID, "kind", role.Kind.String(), "actor_id", actor.UserID)

	evs := []*events.Event{events.NewEvent(events.TypeRoleGranted, role, actor.UserID)}
	if role.Kind == access.KindSiteSupervisor {
		evs = append(evs, events.NewEvent(events.TypeSiteAssigned, role, actor.UserID))
	}
	s.announce(ctx, actor, role, audit.ActionRoleGrant, evs...)
	return role, nil
}

// End soft-revokes the role with roleID.
func (s *RoleService) End(ctx context.Context, actor access.Principal, roleID int64) (*access.Role, error) {
	role, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if err := s.authority.Authorize(actor, role, access.ActionEnd); err != nil {
		return nil, err
	}

	ended, err := s.roles.EndRole(ctx, roleID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	telemetry.RoleMutationsTotal.WithLabelValues(ended.Kind.String(), "end").Inc()
	slog.InfoContext(ctx, "role ended",
		"role_id", ended.ID, "user_id", ended.UserID, "kind", ended.Kind.String(), "actor_id", actor.UserID)

	s.announce(ctx, actor, ended, audit.ActionRoleEnd, events.NewEvent(events.TypeRoleEnded, ended, actor.UserID))
	return ended, nil
}

// DeactivateSite marks siteID inactive and ends the roles scoped to it. The
// caller must already hold the delete capability on the site; the HTTP route
// checks it with middleware.RequireCapability.
func (s *RoleService) DeactivateSite(ctx context.Context, actor access.Principal, siteID int64) ([]access.Role, error) {
	if actor.Anonymous || actor.UserID == "" {
		return nil, access.ErrDenied
	}
	if s.sites == nil {
		return nil, fmt.Errorf("site deactivation is not configured")
	}

	ended, err := s.sites.DeactivateSite(ctx, siteID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "site deactivated", "site_id", siteID, "ended_roles", len(ended), "actor_id", actor.UserID)
	for i := range ended {
		role := &ended[i]
		telemetry.RoleMutationsTotal.WithLabelValues(role.Kind.String(), "end").Inc()
		s.announce(ctx, actor, role, audit.ActionRoleEnd, events.NewEvent(events.TypeRoleEnded, role, actor.UserID))
	}
	return ended, nil
}

// ActiveRoles lists the active roles of userID matching filter.
func (s *RoleService) ActiveRoles(ctx context.Context, userID string, filter access.RoleFilter) ([]access.Role, error) {
	return s.roles.ActiveRoles(ctx, userID, filter)
}

// ResolvePrincipal builds the principal for an authenticated user.
func (s *RoleService) ResolvePrincipal(ctx context.Context, userID string, superuser bool) (access.Principal, error) {
	if userID == "" {
		return access.AnonymousPrincipal(), nil
	}
	roles, err := s.roles.ActiveRoles(ctx, userID, access.RoleFilter{})
	if err != nil {
		return access.Principal{}, fmt.Errorf("failed to load roles for %s: %w", userID, err)
	}
	return access.Principal{UserID: userID, SuperAdmin: superuser, Roles: roles}, nil
}

// UserRoles returns the active roles of targetID. Users may always see their
// own roles; otherwise actor must be a super admin or an organization admin
// of an organization targetID holds a role in.
func (s *RoleService) UserRoles(ctx context.Context, actor access.Principal, targetID string) ([]access.Role, error) {
	if actor.Anonymous || actor.UserID == "" {
		return nil, access.ErrDenied
	}

	roles, err := s.roles.ActiveRoles(ctx, targetID, access.RoleFilter{})
	if err != nil {
		return nil, err
	}
	if actor.UserID == targetID || actor.IsSuperAdmin() {
		return roles, nil
	}

	adminOf := make(map[int64]bool)
	for i := range actor.Roles {
		r := &actor.Roles[i]
		if r.Active() && r.Kind == access.KindOrganizationAdmin && r.OrganizationID != nil {
			adminOf[*r.OrganizationID] = true
		}
	}
	for i := range roles {
		if org := roles[i].OrganizationID; org != nil && adminOf[*org] {
			return roles, nil
		}
	}
	return nil, access.ErrDenied
}

// Wait blocks until pending event and audit deliveries finish.
func (s *RoleService) Wait(ctx context.Context) error {
	return s.tasks.Wait(ctx)
}

// announce publishes events and ships the audit entry in the background. Both
// are best effort; the mutation is already committed.
func (s *RoleService) announce(ctx context.Context, actor access.Principal, role *access.Role, action string, evs ...*events.Event) {
	snapshot := *role

	s.tasks.Detached(ctx, "role-events", sideEffectTimeout, func(ctx context.Context) {
		for _, ev := range evs {
			if err := s.publisher.Publish(ctx, ev); err != nil {
				slog.WarnContext(ctx, "role event not published", "type", ev.Type, "role_id", snapshot.ID, "error", err)
			}
		}
	})

	if s.shipper == nil {
		return
	}
	entry := &audit.LogEntry{
		Timestamp:      time.Now().UTC(),
		Action:         action,
		ActorID:        actor.UserID,
		OrganizationID: snapshot.OrganizationID,
		ResourceType:   "role",
		ResourceID:     audit.FormatID(snapshot.ID),
		Metadata: map[string]interface{}{
			"user_id": snapshot.UserID,
			"kind":    snapshot.Kind.String(),
		},
	}
	s.tasks.Detached(ctx, "role-audit", sideEffectTimeout, func(ctx context.Context) {
		if err := s.shipper.Ship(ctx, entry); err != nil {
			slog.WarnContext(ctx, "role audit entry not shipped", "action", action, "role_id", snapshot.ID, "error", err)
		}
	})
}
