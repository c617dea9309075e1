package rbac_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inkboard/inkboard/internal/rbac"
	"github.com/inkboard/inkboard/internal/rbac/memstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fixture is a seeded in-memory catalog with the full decision stack on top.
type fixture struct {
	store *memstore.Store
	clock *fakeClock
	roles map[string]rbac.Role
	perms map[string]rbac.Permission

	cache  *rbac.DecisionCache
	authz  *rbac.Authorizer
	grants *rbac.GrantService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	_, err := rbac.Seed(ctx, store, rbac.DefaultCatalog())
	require.NoError(t, err)

	f := &fixture{
		store: store,
		clock: newFakeClock(),
		roles: make(map[string]rbac.Role),
		perms: make(map[string]rbac.Permission),
	}
	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	for _, r := range roles {
		f.roles[r.Name] = r
	}
	perms, err := store.ListPermissions(ctx)
	require.NoError(t, err)
	for _, p := range perms {
		f.perms[p.Name] = p
	}

	resolver := rbac.NewResolver(store).WithClock(f.clock.Now)
	f.cache, err = rbac.NewDecisionCache(resolver, rbac.CacheConfig{TTL: time.Minute, Clock: f.clock.Now})
	require.NoError(t, err)
	f.authz = rbac.NewAuthorizer(f.cache, store, nil).WithClock(f.clock.Now)
	f.grants = rbac.NewGrantService(store, f.cache, nil, nil).WithClock(f.clock.Now)
	return f
}

func (f *fixture) user(t *testing.T, userID string) {
	t.Helper()
	require.NoError(t, f.store.EnsureUser(context.Background(), userID, userID+"@example.com"))
}

// grantRole writes straight to the store, bypassing cache invalidation.
func (f *fixture) grantRole(t *testing.T, userID, roleName string, expiresAt *time.Time) {
	t.Helper()
	f.user(t, userID)
	role, ok := f.roles[roleName]
	require.True(t, ok, "unknown role %s", roleName)
	require.NoError(t, f.store.UpsertRoleGrant(context.Background(), rbac.UserRoleGrant{
		UserID:     userID,
		RoleID:     role.ID,
		AssignedAt: f.clock.Now(),
		ExpiresAt:  expiresAt,
	}))
}

func (f *fixture) grantPermission(t *testing.T, userID, permName string, expiresAt *time.Time) {
	t.Helper()
	f.user(t, userID)
	perm, ok := f.perms[permName]
	require.True(t, ok, "unknown permission %s", permName)
	require.NoError(t, f.store.UpsertPermissionGrant(context.Background(), rbac.UserPermissionGrant{
		UserID:       userID,
		PermissionID: perm.ID,
		AssignedAt:   f.clock.Now(),
		ExpiresAt:    expiresAt,
	}))
}

func timePtr(t time.Time) *time.Time { return &t }
