package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// Acme (org 1) runs Census (project 10). Clinic-A (site 100) has no region.
// Region North (5) contains North-East (6), which holds Clinic-B (101).
// Clinic-B-Annex (102) is a sub-site of Clinic-B without a region of its own.
// Site 200 belongs to Survey (project 20) of Beta (org 2).
func newWorld(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	s.PutOrganization(Organization{ID: 1, Name: "Acme", IsActive: true})
	s.PutOrganization(Organization{ID: 2, Name: "Beta", IsActive: true})
	s.PutProject(Project{ID: 10, OrganizationID: 1, Name: "Census", IsActive: true})
	s.PutProject(Project{ID: 20, OrganizationID: 2, Name: "Survey", IsActive: true})
	s.PutRegion(Region{ID: 5, ProjectID: 10, Identifier: "N", Name: "North", IsActive: true})
	s.PutRegion(Region{ID: 6, ProjectID: 10, Identifier: "NE", Name: "North-East", IsActive: true, ParentID: Ref(5)})
	s.PutSite(Site{ID: 100, ProjectID: 10, Identifier: "CA", Name: "Clinic-A", IsActive: true})
	s.PutSite(Site{ID: 101, ProjectID: 10, RegionID: Ref(6), Identifier: "CB", Name: "Clinic-B", IsActive: true})
	s.PutSite(Site{ID: 102, ProjectID: 10, ParentID: Ref(101), Identifier: "CB-1", Name: "Clinic-B-Annex", IsActive: true})
	s.PutSite(Site{ID: 200, ProjectID: 20, Identifier: "S", Name: "Beta Site", IsActive: true})
	s.PutFormAssignment(FormAssignment{ID: 900, SiteID: Ref(101)})
	s.PutFormAssignment(FormAssignment{ID: 901, ProjectID: Ref(10)})
	s.PutStaffProject(StaffProject{ID: 70, Name: "Field Staff", IsActive: true})
	return s
}

// grant normalizes and stores a role, failing the test on error.
func grant(t *testing.T, s *MemoryStore, draft RoleDraft) *Role {
	t.Helper()
	role, err := NewNormalizer(s, s).Normalize(context.Background(), draft)
	require.NoError(t, err)
	require.NoError(t, s.CreateRole(context.Background(), role))
	return role
}

// principalFor loads the active roles of userID into a Principal.
func principalFor(t *testing.T, s *MemoryStore, userID string) Principal {
	t.Helper()
	roles, err := s.ActiveRoles(context.Background(), userID, RoleFilter{})
	require.NoError(t, err)
	return Principal{UserID: userID, Roles: roles}
}
