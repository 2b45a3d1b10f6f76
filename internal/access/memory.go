// Package access - memory.go provides MemoryStore, an in-process HierarchyStore and RoleStore
// used when no database is configured and throughout the tests.
package access

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps the hierarchy and role assignments in maps guarded by a
// single RWMutex.
type MemoryStore struct {
	mu            sync.RWMutex
	organizations map[int64]*Organization
	projects      map[int64]*Project
	regions       map[int64]*Region
	sites         map[int64]*Site
	forms         map[int64]*FormAssignment
	staffProjects map[int64]*StaffProject
	roles         map[int64]*Role
	nextRoleID    int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		organizations: make(map[int64]*Organization),
		projects:      make(map[int64]*Project),
		regions:       make(map[int64]*Region),
		sites:         make(map[int64]*Site),
		forms:         make(map[int64]*FormAssignment),
		staffProjects: make(map[int64]*StaffProject),
		roles:         make(map[int64]*Role),
	}
}

func (m *MemoryStore) PutOrganization(o Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.organizations[o.ID] = &o
}

func (m *MemoryStore) PutProject(p Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = &p
}

func (m *MemoryStore) PutRegion(r Region) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions[r.ID] = &r
}

func (m *MemoryStore) PutSite(s Site) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sites[s.ID] = &s
}

func (m *MemoryStore) PutFormAssignment(f FormAssignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forms[f.ID] = &f
}

func (m *MemoryStore) PutStaffProject(s StaffProject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staffProjects[s.ID] = &s
}

// ============================================================================
// HierarchyStore
// ============================================================================

func (m *MemoryStore) GetOrganization(_ context.Context, id int64) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if o, ok := m.organizations[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, notFound("organization", id)
}

func (m *MemoryStore) GetProject(_ context.Context, id int64) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.projects[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, notFound("project", id)
}

func (m *MemoryStore) GetRegion(_ context.Context, id int64) (*Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.regions[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, notFound("region", id)
}

func (m *MemoryStore) GetSite(_ context.Context, id int64) (*Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sites[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, notFound("site", id)
}

func (m *MemoryStore) GetFormAssignment(_ context.Context, id int64) (*FormAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.forms[id]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, notFound("form assignment", id)
}

func (m *MemoryStore) GetStaffProject(_ context.Context, id int64) (*StaffProject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.staffProjects[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, notFound("staff project", id)
}

// ============================================================================
// RoleStore
// ============================================================================

func (m *MemoryStore) ActiveRoles(_ context.Context, userID string, filter RoleFilter) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Role
	for _, r := range m.roles {
		if r.UserID == userID && r.Active() && filter.Matches(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetRole(_ context.Context, id int64) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.roles[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, notFound("role", id)
}

// CreateRole assigns role an ID and stores it. Active Unassigned roles of the
// same user are ended under the same lock.
func (m *MemoryStore) CreateRole(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.roles {
		if r.Active() && r.SameAssignment(role) {
			return ErrDuplicateRole
		}
	}

	if role.StartedAt.IsZero() {
		role.StartedAt = time.Now().UTC()
	}
	if role.Kind != KindUnassigned {
		for _, r := range m.roles {
			if r.UserID == role.UserID && r.Kind == KindUnassigned && r.Active() {
				ended := role.StartedAt
				r.EndedAt = &ended
			}
		}
	}

	m.nextRoleID++
	role.ID = m.nextRoleID
	stored := *role
	m.roles[role.ID] = &stored
	return nil
}

func (m *MemoryStore) EndRole(_ context.Context, id int64, at time.Time) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.roles[id]
	if !ok {
		return nil, notFound("role", id)
	}
	if !r.Active() {
		return nil, ErrRoleEnded
	}
	ended := at.UTC()
	r.EndedAt = &ended
	cp := *r
	return &cp, nil
}

// UserRoles returns every role of userID including ended ones, oldest first.
func (m *MemoryStore) UserRoles(userID string) []Role {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Role
	for _, r := range m.roles {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListSiteRoles returns the active roles attached directly to siteID.
func (m *MemoryStore) ListSiteRoles(_ context.Context, siteID int64) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Role
	for _, r := range m.roles {
		if r.Active() && r.SiteID != nil && *r.SiteID == siteID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeactivateSite marks a site inactive and ends the roles attached to it.
func (m *MemoryStore) DeactivateSite(_ context.Context, id int64, at time.Time) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	site, ok := m.sites[id]
	if !ok {
		return nil, notFound("site", id)
	}
	site.IsActive = false

	ended := at.UTC()
	var out []Role
	for _, r := range m.roles {
		if r.Active() && r.SiteID != nil && *r.SiteID == id {
			r.EndedAt = &ended
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
