package access

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoleKind(t *testing.T) {
	tests := []struct {
		in      string
		want    RoleKind
		wantErr bool
	}{
		{"project_manager", KindProjectManager, false},
		{"Project Manager", KindProjectManager, false},
		{"  reviewer ", KindReviewer, false},
		{"SUPER_ADMIN", KindSuperAdmin, false},
		{"Staff Project Manager", KindStaffProjectManager, false},
		{"owner", KindUnknown, true},
		{"", KindUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRoleKind(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidKind))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoleKind_TextRoundTrip(t *testing.T) {
	for _, k := range AllKinds() {
		text, err := k.MarshalText()
		require.NoError(t, err)
		var back RoleKind
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, k, back)
	}

	_, err := KindUnknown.MarshalText()
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestRoleKind_ScopeAndGrant(t *testing.T) {
	tests := []struct {
		kind  RoleKind
		scope ScopeLevel
		grant Grant
	}{
		{KindSuperAdmin, ScopeNone, GrantFull},
		{KindOrganizationAdmin, ScopeOrganization, GrantFull},
		{KindProjectManager, ScopeProject, GrantFull},
		{KindProjectDonor, ScopeProject, GrantReadOnly},
		{KindRegionSupervisor, ScopeRegion, GrantFull},
		{KindRegionReviewer, ScopeRegion, GrantReadOnly},
		{KindSiteSupervisor, ScopeSite, GrantFull},
		{KindReviewer, ScopeSite, GrantReadOnly},
		{KindStaffProjectManager, ScopeStaffProject, GrantNone},
		{KindUnassigned, ScopeNone, GrantNone},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.scope, tt.kind.Scope())
			assert.Equal(t, tt.grant, tt.kind.Grant())
		})
	}
	assert.Len(t, AllKinds(), len(tests))
}

func TestDecision_Permits(t *testing.T) {
	assert.True(t, GrantedFull.Permits(CapabilityDelete))
	assert.True(t, GrantedFull.Permits(CapabilityWrite))
	assert.True(t, GrantedReadOnly.Permits(CapabilityRead))
	assert.False(t, GrantedReadOnly.Permits(CapabilityWrite))
	assert.False(t, GrantedReadOnly.Permits(CapabilityDelete))
	assert.False(t, Denied.Permits(CapabilityRead))
}

func TestParseCapabilityAndResourceKind(t *testing.T) {
	c, err := ParseCapability("delete")
	require.NoError(t, err)
	assert.Equal(t, CapabilityDelete, c)
	_, err = ParseCapability("admin")
	assert.Error(t, err)

	k, err := ParseResourceKind("form_assignment")
	require.NoError(t, err)
	assert.Equal(t, ResourceFormAssignment, k)
	_, err = ParseResourceKind("submission")
	assert.Error(t, err)
}

func TestMissingScopeError(t *testing.T) {
	err := error(&MissingScopeError{Kind: KindReviewer, Field: ScopeSite})
	assert.ErrorIs(t, err, ErrMissingScope)
	assert.Equal(t, "Reviewer role requires a site", err.Error())

	var mse *MissingScopeError
	require.True(t, errors.As(err, &mse))
	assert.Equal(t, ScopeSite, mse.Field)
}
