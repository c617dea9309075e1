package rbac_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkboard/inkboard/internal/rbac"
)

func TestAuthorizerPermissionChecks(t *testing.T) {
	f := newFixture(t)
	f.grantRole(t, "u1", rbac.RoleCollaborator, nil)
	f.grantPermission(t, "u1", "todos.update", nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		check func() (bool, error)
		want  bool
	}{
		{"role permission", func() (bool, error) { return f.authz.HasPermission(ctx, "u1", "notes.share") }, true},
		{"direct permission", func() (bool, error) { return f.authz.HasPermission(ctx, "u1", "todos.update") }, true},
		{"case insensitive", func() (bool, error) { return f.authz.HasPermission(ctx, "u1", " Notes.Read ") }, true},
		{"missing permission", func() (bool, error) { return f.authz.HasPermission(ctx, "u1", "notes.delete") }, false},
		{"unknown user", func() (bool, error) { return f.authz.HasPermission(ctx, "ghost", "notes.read") }, false},
		{"any with one match", func() (bool, error) { return f.authz.HasAnyPermission(ctx, "u1", "users.delete", "todos.read") }, true},
		{"any without match", func() (bool, error) { return f.authz.HasAnyPermission(ctx, "u1", "users.delete", "system.config") }, false},
		{"any of nothing", func() (bool, error) { return f.authz.HasAnyPermission(ctx, "u1") }, false},
		{"all held", func() (bool, error) { return f.authz.HasAllPermissions(ctx, "u1", "notes.read", "todos.update") }, true},
		{"all with one missing", func() (bool, error) { return f.authz.HasAllPermissions(ctx, "u1", "notes.read", "notes.delete") }, false},
		{"all of nothing", func() (bool, error) { return f.authz.HasAllPermissions(ctx, "u1") }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.check()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAuthorizerRolesAndLevels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	level, err := f.authz.HighestRoleLevel(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, level)

	f.grantRole(t, "u1", rbac.RoleGuest, nil)
	f.grantRole(t, "u1", rbac.RoleEditor, nil)
	f.grantRole(t, "u1", rbac.RoleAdmin, timePtr(f.clock.Now().Add(-time.Minute)))

	level, err = f.authz.HighestRoleLevel(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 60, level)

	ok, err := f.authz.HasMinLevel(ctx, "u1", 60)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.authz.HasMinLevel(ctx, "u1", 61)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.authz.HasRole(ctx, "u1", "EDITOR")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.authz.HasRole(ctx, "u1", rbac.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, ok, "expired role grants do not count")

	roles, err := f.authz.Roles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, rbac.RoleEditor, roles[0].Name)
	assert.Equal(t, rbac.RoleGuest, roles[1].Name)
}

func TestAuthorizerOwnerBypass(t *testing.T) {
	f := newFixture(t)
	f.store.FailWith(errors.New("down"))
	ctx := context.Background()

	ok, err := f.authz.CanAccessResource(ctx, "u1", "u1", "notes.delete")
	require.NoError(t, err)
	assert.True(t, ok, "owners are allowed without consulting storage")

	ok, err = f.authz.CanAccessResource(ctx, "u1", "u2", "notes.delete")
	require.ErrorIs(t, err, rbac.ErrStorage)
	assert.False(t, ok)

	f.store.FailWith(nil)
	ok, err = f.authz.CanAccessResource(ctx, "", "", "notes.read")
	require.NoError(t, err)
	assert.False(t, ok, "an empty user never owns anything")
}

func TestAuthorizerCanAccessResourceFallsBackToPermission(t *testing.T) {
	f := newFixture(t)
	f.grantRole(t, "mod", rbac.RoleEditor, nil)
	ctx := context.Background()

	ok, err := f.authz.CanAccessResource(ctx, "mod", "author", "notes.delete")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.authz.CanAccessResource(ctx, "mod", "author", "users.delete")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthorizerFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.grantRole(t, "u1", rbac.RoleSuperAdmin, nil)
	f.store.FailWith(errors.New("timeout"))
	ctx := context.Background()

	ok, err := f.authz.HasPermission(ctx, "u1", "notes.read")
	assert.ErrorIs(t, err, rbac.ErrStorage)
	assert.False(t, ok)

	ok, err = f.authz.HasRole(ctx, "u1", rbac.RoleSuperAdmin)
	assert.ErrorIs(t, err, rbac.ErrStorage)
	assert.False(t, ok)

	ok, err = f.authz.HasMinLevel(ctx, "u1", 0)
	assert.ErrorIs(t, err, rbac.ErrStorage)
	assert.False(t, ok)
}

func TestAuthorizerSeesExpiryWithinTTL(t *testing.T) {
	f := newFixture(t)
	f.grantPermission(t, "u1", "notes.share", timePtr(f.clock.Now().Add(30*time.Second)))
	ctx := context.Background()

	ok, err := f.authz.HasPermission(ctx, "u1", "notes.share")
	require.NoError(t, err)
	assert.True(t, ok)

	// The cached set outlives the grant by at most one TTL.
	f.clock.Advance(61 * time.Second)
	ok, err = f.authz.HasPermission(ctx, "u1", "notes.share")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthorizerSummary(t *testing.T) {
	f := newFixture(t)
	f.grantRole(t, "u1", rbac.RoleGuest, nil)
	f.grantPermission(t, "u1", "notes.share", nil)

	summary, err := f.authz.Summary(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", summary.UserID)
	assert.Equal(t, 10, summary.RoleLevel)
	require.Len(t, summary.Roles, 1)
	assert.Equal(t, []string{"notes.read", "notes.share", "projects.read", "todos.read"}, summary.Permissions)
}
