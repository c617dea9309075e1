package rbac

import (
	"context"
	"time"
)

// GrantReader is the read side used on every authorization check.
type GrantReader interface {
	// ActiveRoleGrants returns role grants whose expiry is nil or after now.
	ActiveRoleGrants(ctx context.Context, userID string, now time.Time) ([]RoleAssignment, error)
	// RolePermissionNames returns the permission names bundled in a role.
	RolePermissionNames(ctx context.Context, roleID string) ([]string, error)
	// ActivePermissionGrants returns direct grants whose expiry is nil or after now.
	ActivePermissionGrants(ctx context.Context, userID string, now time.Time) ([]PermissionAssignment, error)
}

// GrantStore persists user→role and user→permission grants.
type GrantStore interface {
	GrantReader

	// UserExists reports whether a user row exists.
	UserExists(ctx context.Context, userID string) (bool, error)
	// EnsureUser inserts the user row when absent.
	EnsureUser(ctx context.Context, userID, email string) error

	ListRoleGrants(ctx context.Context, userID string) ([]RoleAssignment, error)
	ListPermissionGrants(ctx context.Context, userID string) ([]PermissionAssignment, error)

	// UpsertRoleGrant inserts or replaces the (user, role) grant.
	UpsertRoleGrant(ctx context.Context, g UserRoleGrant) error
	// DeleteRoleGrant reports whether a row was removed.
	DeleteRoleGrant(ctx context.Context, userID, roleID string) (bool, error)
	UpsertPermissionGrant(ctx context.Context, g UserPermissionGrant) error
	DeletePermissionGrant(ctx context.Context, userID, permissionID string) (bool, error)

	// DeleteExpiredGrants removes grants of both kinds that expired before cutoff.
	DeleteExpiredGrants(ctx context.Context, cutoff time.Time) (int64, error)
}

// CatalogStore persists roles, permissions and their bundles. Lookups return
// ErrNotFound for missing rows and ErrDuplicate on name collisions.
type CatalogStore interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	// UpsertRole inserts a role or updates the row with the same name.
	UpsertRole(ctx context.Context, role Role) (Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	// DeleteRole removes a role; bundles and grants cascade.
	DeleteRole(ctx context.Context, id string) (bool, error)

	ListPermissions(ctx context.Context) ([]Permission, error)
	ListPermissionsByResource(ctx context.Context, resource string) ([]Permission, error)
	GetPermission(ctx context.Context, id string) (Permission, error)
	GetPermissionByName(ctx context.Context, name string) (Permission, error)
	// UpsertPermission inserts a permission or updates the row with the same name.
	UpsertPermission(ctx context.Context, perm Permission) (Permission, error)

	RolePermissions(ctx context.Context, roleID string) ([]Permission, error)
	AttachPermission(ctx context.Context, roleID, permissionID string) error
	// ReplaceRolePermissions swaps the role's bundle for permissionIDs atomically.
	ReplaceRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error
}

// Store is the composite persistence contract.
type Store interface {
	GrantStore
	CatalogStore
}
