package rbac

import (
	"context"
	"sort"
	"time"
)

// PermissionSource yields resolved permission sets, typically a DecisionCache.
type PermissionSource interface {
	Permissions(ctx context.Context, userID string) (PermissionSet, error)
}

// Authorizer is the decision surface other components call. A denial is
// (false, nil); a non-nil error always means the grant store failed and the
// caller must not treat the result as a decision.
type Authorizer struct {
	perms   PermissionSource
	grants  GrantReader
	metrics *Metrics
	clock   func() time.Time
}

// NewAuthorizer wires the decision API over a permission source and the grant reader.
func NewAuthorizer(perms PermissionSource, grants GrantReader, metrics *Metrics) *Authorizer {
	return &Authorizer{
		perms:   perms,
		grants:  grants,
		metrics: metrics,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source used by role checks.
func (a *Authorizer) WithClock(clock func() time.Time) *Authorizer {
	if clock != nil {
		a.clock = clock
	}
	return a
}

// Permissions returns the user's effective permission set.
func (a *Authorizer) Permissions(ctx context.Context, userID string) (PermissionSet, error) {
	return a.perms.Permissions(ctx, userID)
}

// HasPermission reports whether the user holds perm.
func (a *Authorizer) HasPermission(ctx context.Context, userID, perm string) (bool, error) {
	set, err := a.perms.Permissions(ctx, userID)
	allowed := err == nil && set.Has(perm)
	a.metrics.decision("permission", allowed, err)
	return allowed, err
}

// HasAnyPermission reports whether the user holds at least one of perms.
func (a *Authorizer) HasAnyPermission(ctx context.Context, userID string, perms ...string) (bool, error) {
	set, err := a.perms.Permissions(ctx, userID)
	allowed := err == nil && set.HasAny(perms...)
	a.metrics.decision("any_permission", allowed, err)
	return allowed, err
}

// HasAllPermissions reports whether the user holds every one of perms.
func (a *Authorizer) HasAllPermissions(ctx context.Context, userID string, perms ...string) (bool, error) {
	set, err := a.perms.Permissions(ctx, userID)
	allowed := err == nil && set.HasAll(perms...)
	a.metrics.decision("all_permissions", allowed, err)
	return allowed, err
}

// HasRole reports whether an active role grant resolves to roleName. It reads
// role membership directly and does not go through the permission cache.
func (a *Authorizer) HasRole(ctx context.Context, userID, roleName string) (bool, error) {
	roles, err := a.activeRoles(ctx, userID)
	if err != nil {
		a.metrics.decision("role", false, err)
		return false, err
	}
	want := NormalizeName(roleName)
	for _, r := range roles {
		if NormalizeName(r.Name) == want {
			a.metrics.decision("role", true, nil)
			return true, nil
		}
	}
	a.metrics.decision("role", false, nil)
	return false, nil
}

// HighestRoleLevel returns the max level over active role grants, 0 when none.
func (a *Authorizer) HighestRoleLevel(ctx context.Context, userID string) (int, error) {
	roles, err := a.activeRoles(ctx, userID)
	if err != nil {
		return 0, err
	}
	return highestLevel(roles), nil
}

// HasMinLevel reports whether the user's highest role level is at least min.
func (a *Authorizer) HasMinLevel(ctx context.Context, userID string, min int) (bool, error) {
	level, err := a.HighestRoleLevel(ctx, userID)
	allowed := err == nil && level >= min
	a.metrics.decision("min_level", allowed, err)
	return allowed, err
}

// CanAccessResource allows owners unconditionally, otherwise defers to
// HasPermission. Ownership is decided without touching storage.
func (a *Authorizer) CanAccessResource(ctx context.Context, userID, ownerID, perm string) (bool, error) {
	if userID != "" && userID == ownerID {
		a.metrics.decision("resource", true, nil)
		return true, nil
	}
	return a.HasPermission(ctx, userID, perm)
}

// Roles returns the user's active roles, most privileged first.
func (a *Authorizer) Roles(ctx context.Context, userID string) ([]Role, error) {
	roles, err := a.activeRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	sortRoles(roles)
	return roles, nil
}

// Summary collects roles, permissions and level for one user.
func (a *Authorizer) Summary(ctx context.Context, userID string) (AccessSummary, error) {
	roles, err := a.Roles(ctx, userID)
	if err != nil {
		return AccessSummary{}, err
	}
	set, err := a.perms.Permissions(ctx, userID)
	if err != nil {
		return AccessSummary{}, err
	}
	return AccessSummary{
		UserID:      userID,
		Roles:       roles,
		Permissions: set.Names(),
		RoleLevel:   highestLevel(roles),
	}, nil
}

func (a *Authorizer) activeRoles(ctx context.Context, userID string) ([]Role, error) {
	now := a.clock()
	grants, err := a.grants.ActiveRoleGrants(ctx, userID, now)
	if err != nil {
		return nil, storageErr("active role grants", err)
	}
	roles := make([]Role, 0, len(grants))
	seen := make(map[string]struct{}, len(grants))
	for _, g := range grants {
		if !g.Grant.Active(now) {
			continue
		}
		if _, ok := seen[g.Role.ID]; ok {
			continue
		}
		seen[g.Role.ID] = struct{}{}
		roles = append(roles, g.Role)
	}
	return roles, nil
}

func highestLevel(roles []Role) int {
	level := 0
	for _, r := range roles {
		if r.Level > level {
			level = r.Level
		}
	}
	return level
}

func sortRoles(roles []Role) {
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level > roles[j].Level
		}
		return roles[i].Name < roles[j].Name
	})
}
