package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/fieldsight/fieldsight-access/internal/audit"
	"github.com/fieldsight/fieldsight-access/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type recordingShipper struct {
	mu      sync.Mutex
	entries []*audit.LogEntry
}

func (s *recordingShipper) Ship(_ context.Context, e *audit.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingShipper) Close() error { return nil }

type fixture struct {
	store     *access.MemoryStore
	svc       *RoleService
	publisher *recordingPublisher
	shipper   *recordingShipper
}

// Acme (org 1) runs Census (project 10) with Clinic-A (site 100) and region 5.
// Beta (org 2) runs Survey (project 20).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := access.NewMemoryStore()
	s.PutOrganization(access.Organization{ID: 1, Name: "Acme", IsActive: true})
	s.PutOrganization(access.Organization{ID: 2, Name: "Beta", IsActive: true})
	s.PutProject(access.Project{ID: 10, OrganizationID: 1, Name: "Census", IsActive: true})
	s.PutProject(access.Project{ID: 20, OrganizationID: 2, Name: "Survey", IsActive: true})
	s.PutRegion(access.Region{ID: 5, ProjectID: 10, Identifier: "N", Name: "North", IsActive: true})
	s.PutSite(access.Site{ID: 100, ProjectID: 10, Identifier: "CA", Name: "Clinic-A", IsActive: true})
	s.PutStaffProject(access.StaffProject{ID: 70, Name: "Field Staff", IsActive: true})

	authority, err := access.NewAuthority()
	require.NoError(t, err)

	pub := &recordingPublisher{}
	ship := &recordingShipper{}
	svc := NewRoleService(RoleServiceDeps{
		Hierarchy: s,
		Roles:     s,
		Authority: authority,
		Publisher: pub,
		Shipper:   ship,
	})
	return &fixture{store: s, svc: svc, publisher: pub, shipper: ship}
}

func (f *fixture) seed(t *testing.T, role access.Role) access.Role {
	t.Helper()
	require.NoError(t, f.store.CreateRole(context.Background(), &role))
	return role
}

func (f *fixture) principal(t *testing.T, userID string) access.Principal {
	t.Helper()
	p, err := f.svc.ResolvePrincipal(context.Background(), userID, false)
	require.NoError(t, err)
	return p
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Wait(ctx))
}

func TestGrant_ProjectManagerGrantsSiteSupervisor(t *testing.T) {
	f := newFixture(t)
	f.seed(t, access.Role{UserID: "pm", Kind: access.KindProjectManager, OrganizationID: access.Ref(1), ProjectID: access.Ref(10)})

	role, err := f.svc.Grant(context.Background(), f.principal(t, "pm"), access.RoleDraft{
		UserID: "bob", Kind: access.KindSiteSupervisor, SiteID: access.Ref(100),
	})
	require.NoError(t, err)
	assert.NotZero(t, role.ID)
	assert.Equal(t, int64(10), *role.ProjectID, "project derived from site")
	assert.Equal(t, int64(1), *role.OrganizationID, "organization derived from project")

	f.wait(t)
	assert.Equal(t, []string{events.TypeRoleGranted, events.TypeSiteAssigned}, f.publisher.types())
	require.Len(t, f.shipper.entries, 1)
	assert.Equal(t, audit.ActionRoleGrant, f.shipper.entries[0].Action)
	assert.Equal(t, "pm", f.shipper.entries[0].ActorID)
}

func TestGrant_ReplacesUnassigned(t *testing.T) {
	f := newFixture(t)
	f.seed(t, access.Role{UserID: "admin", Kind: access.KindOrganizationAdmin, OrganizationID: access.Ref(1)})
	f.seed(t, access.Role{UserID: "carol", Kind: access.KindUnassigned, OrganizationID: access.Ref(1)})

	_, err := f.svc.Grant(context.Background(), f.principal(t, "admin"), access.RoleDraft{
		UserID: "carol", Kind: access.KindProjectManager, ProjectID: access.Ref(10),
	})
	require.NoError(t, err)

	roles, err := f.svc.ActiveRoles(context.Background(), "carol", access.RoleFilter{})
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, access.KindProjectManager, roles[0].Kind)
	f.wait(t)
}

func TestGrant_Errors(t *testing.T) {
	tests := []struct {
		name    string
		actor   string
		draft   access.RoleDraft
		wantErr error
	}{
		{
			name:    "missing scope",
			actor:   "pm",
			draft:   access.RoleDraft{UserID: "bob", Kind: access.KindReviewer},
			wantErr: access.ErrMissingScope,
		},
		{
			name:    "project manager cannot grant project manager",
			actor:   "pm",
			draft:   access.RoleDraft{UserID: "bob", Kind: access.KindProjectManager, ProjectID: access.Ref(10)},
			wantErr: access.ErrDenied,
		},
		{
			name:    "project manager outside own project",
			actor:   "pm",
			draft:   access.RoleDraft{UserID: "bob", Kind: access.KindProjectDonor, ProjectID: access.Ref(20)},
			wantErr: access.ErrDenied,
		},
		{
			name:    "unknown site",
			actor:   "pm",
			draft:   access.RoleDraft{UserID: "bob", Kind: access.KindReviewer, SiteID: access.Ref(999)},
			wantErr: access.ErrNotFound,
		},
		{
			name:    "user without roles",
			actor:   "nobody",
			draft:   access.RoleDraft{UserID: "bob", Kind: access.KindReviewer, SiteID: access.Ref(100)},
			wantErr: access.ErrDenied,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, access.Role{UserID: "pm", Kind: access.KindProjectManager, OrganizationID: access.Ref(1), ProjectID: access.Ref(10)})

			_, err := f.svc.Grant(context.Background(), f.principal(t, tt.actor), tt.draft)
			assert.ErrorIs(t, err, tt.wantErr)

			f.wait(t)
			assert.Empty(t, f.publisher.types(), "no events for rejected grants")
		})
	}
}

func TestGrant_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.seed(t, access.Role{UserID: "admin", Kind: access.KindOrganizationAdmin, OrganizationID: access.Ref(1)})
	actor := f.principal(t, "admin")
	draft := access.RoleDraft{UserID: "dan", Kind: access.KindProjectManager, ProjectID: access.Ref(10)}

	_, err := f.svc.Grant(context.Background(), actor, draft)
	require.NoError(t, err)
	_, err = f.svc.Grant(context.Background(), actor, draft)
	assert.ErrorIs(t, err, access.ErrDuplicateRole)
	f.wait(t)
}

func TestGrant_DeniedBeforeDuplicate(t *testing.T) {
	f := newFixture(t)
	f.seed(t, access.Role{UserID: "pm", Kind: access.KindProjectManager, OrganizationID: access.Ref(1), ProjectID: access.Ref(10)})
	f.seed(t, access.Role{UserID: "victim", Kind: access.KindProjectManager, OrganizationID: access.Ref(2), ProjectID: access.Ref(20)})
	actor := f.principal(t, "pm")

	// The same answer whether or not the target already holds the role.
	for _, user := range []string{"victim", "stranger"} {
		_, err := f.svc.Grant(context.Background(), actor, access.RoleDraft{
			UserID: user, Kind: access.KindProjectManager, ProjectID: access.Ref(20),
		})
		assert.ErrorIs(t, err, access.ErrDenied, user)
		assert.NotErrorIs(t, err, access.ErrDuplicateRole, user)
	}
	f.wait(t)
	assert.Empty(t, f.publisher.types())
}

func TestGrant_OrganizationAdminOfTwoOrganizations(t *testing.T) {
	f := newFixture(t)
	root := access.Principal{UserID: "root", SuperAdmin: true}

	for _, org := range []int64{1, 2} {
		role, err := f.svc.Grant(context.Background(), root, access.RoleDraft{
			UserID: "olga", Kind: access.KindOrganizationAdmin, OrganizationID: access.Ref(org),
		})
		require.NoError(t, err, "org %d", org)
		assert.Equal(t, org, *role.OrganizationID)
	}

	roles, err := f.svc.ActiveRoles(context.Background(), "olga", access.RoleFilter{})
	require.NoError(t, err)
	assert.Len(t, roles, 2)

	_, err = f.svc.Grant(context.Background(), root, access.RoleDraft{
		UserID: "olga", Kind: access.KindOrganizationAdmin, OrganizationID: access.Ref(2),
	})
	assert.ErrorIs(t, err, access.ErrDuplicateRole)
	f.wait(t)
}

func TestGrant_SuperAdminFlagGrantsStaffProjectManager(t *testing.T) {
	f := newFixture(t)
	root := access.Principal{UserID: "root", SuperAdmin: true}

	role, err := f.svc.Grant(context.Background(), root, access.RoleDraft{
		UserID: "erin", Kind: access.KindStaffProjectManager, StaffProjectID: access.Ref(70),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(70), *role.StaffProjectID)
	f.wait(t)
}

func TestEnd(t *testing.T) {
	f := newFixture(t)
	f.seed(t, access.Role{UserID: "pm", Kind: access.KindProjectManager, OrganizationID: access.Ref(1), ProjectID: access.Ref(10)})
	target := f.seed(t, access.Role{UserID: "bob", Kind: access.KindReviewer, OrganizationID: access.Ref(1), ProjectID: access.Ref(10), SiteID: access.Ref(100)})

	ended, err := f.svc.End(context.Background(), f.principal(t, "pm"), target.ID)
	require.NoError(t, err)
	require.NotNil(t, ended.EndedAt)

	roles, err := f.svc.ActiveRoles(context.Background(), "bob", access.RoleFilter{})
	require.NoError(t, err)
	assert.Empty(t, roles)
	assert.Len(t, f.store.UserRoles("bob"), 1, "ended roles are kept")

	f.wait(t)
	assert.Equal(t, []string{events.TypeRoleEnded}, f.publisher.types())

	_, err = f.svc.End(context.Background(), f.principal(t, "pm"), target.ID)
	assert.ErrorIs(t, err, access.ErrRoleEnded)
}

func TestEnd_Errors(t *testing.T) {
	f := newFixture(t)
	reviewer := f.seed(t, access.Role{UserID: "rev", Kind: access.KindReviewer, OrganizationID: access.Ref(1), ProjectID: access.Ref(10), SiteID: access.Ref(100)})
	target := f.seed(t, access.Role{UserID: "bob", Kind: access.KindReviewer, OrganizationID: access.Ref(1), ProjectID: access.Ref(10), SiteID: access.Ref(100)})

	_, err := f.svc.End(context.Background(), f.principal(t, "rev"), target.ID)
	assert.ErrorIs(t, err, access.ErrDenied)

	_, err = f.svc.End(context.Background(), f.principal(t, "rev"), 12345)
	assert.ErrorIs(t, err, access.ErrNotFound)

	_, err = f.svc.End(context.Background(), access.AnonymousPrincipal(), reviewer.ID)
	assert.ErrorIs(t, err, access.ErrDenied)
}

func TestResolvePrincipal(t *testing.T) {
	f := newFixture(t)
	f.seed(t, access.Role{UserID: "pm", Kind: access.KindProjectManager, OrganizationID: access.Ref(1), ProjectID: access.Ref(10)})

	p, err := f.svc.ResolvePrincipal(context.Background(), "pm", true)
	require.NoError(t, err)
	assert.True(t, p.SuperAdmin)
	assert.Len(t, p.Roles, 1)

	anon, err := f.svc.ResolvePrincipal(context.Background(), "", false)
	require.NoError(t, err)
	assert.True(t, anon.Anonymous)
}

func TestUserRoles_SameOrganization(t *testing.T) {
	f := newFixture(t)
	f.seed(t, access.Role{UserID: "acme-admin", Kind: access.KindOrganizationAdmin, OrganizationID: access.Ref(1)})
	f.seed(t, access.Role{UserID: "beta-admin", Kind: access.KindOrganizationAdmin, OrganizationID: access.Ref(2)})
	f.seed(t, access.Role{UserID: "bob", Kind: access.KindReviewer, OrganizationID: access.Ref(1), ProjectID: access.Ref(10), SiteID: access.Ref(100)})

	tests := []struct {
		name    string
		actor   access.Principal
		wantErr error
	}{
		{"self", f.principal(t, "bob"), nil},
		{"admin of shared organization", f.principal(t, "acme-admin"), nil},
		{"admin of other organization", f.principal(t, "beta-admin"), access.ErrDenied},
		{"super admin", access.Principal{UserID: "root", SuperAdmin: true}, nil},
		{"anonymous", access.AnonymousPrincipal(), access.ErrDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roles, err := f.svc.UserRoles(context.Background(), tt.actor, "bob")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, roles, 1)
		})
	}
}

func TestDeactivateSite_EndsSiteRoles(t *testing.T) {
	f := newFixture(t)
	f.seed(t, access.Role{UserID: "pm", Kind: access.KindProjectManager, OrganizationID: access.Ref(1), ProjectID: access.Ref(10)})
	f.seed(t, access.Role{UserID: "sup", Kind: access.KindSiteSupervisor, OrganizationID: access.Ref(1), ProjectID: access.Ref(10), SiteID: access.Ref(100)})

	ended, err := f.svc.DeactivateSite(context.Background(), f.principal(t, "pm"), 100)
	require.NoError(t, err)
	require.Len(t, ended, 1)
	assert.Equal(t, "sup", ended[0].UserID)

	roles, err := f.svc.ActiveRoles(context.Background(), "sup", access.RoleFilter{})
	require.NoError(t, err)
	assert.Empty(t, roles)

	site, err := f.store.GetSite(context.Background(), 100)
	require.NoError(t, err)
	assert.False(t, site.IsActive)

	f.wait(t)
	assert.Equal(t, []string{events.TypeRoleEnded}, f.publisher.types())
}

func TestDeactivateSite_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.DeactivateSite(context.Background(), access.AnonymousPrincipal(), 100)
	assert.ErrorIs(t, err, access.ErrDenied)

	_, err = f.svc.DeactivateSite(context.Background(), access.Principal{UserID: "root", SuperAdmin: true}, 999)
	assert.ErrorIs(t, err, access.ErrNotFound)
}
