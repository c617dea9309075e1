package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Purger drops every cached decision.
type Purger interface {
	Purge()
}

// CreateRoleRequest describes a new role.
type CreateRoleRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	DisplayName string `json:"display_name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
	Level       int    `json:"level" validate:"min=0,max=1000"`
}

// Catalog administers roles, permissions and role bundles.
type Catalog struct {
	store  CatalogStore
	cache  Purger
	logger *slog.Logger
	clock  func() time.Time
}

// NewCatalog constructs a Catalog.
func NewCatalog(store CatalogStore, cache Purger, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{store: store, cache: cache, logger: logger, clock: func() time.Time { return time.Now().UTC() }}
}

// ListRoles returns roles ordered by level desc, then name.
func (c *Catalog) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := c.store.ListRoles(ctx)
	if err != nil {
		return nil, storageErr("list roles", err)
	}
	sortRoles(roles)
	return roles, nil
}

// GetRole fetches a role by id.
func (c *Catalog) GetRole(ctx context.Context, id string) (Role, error) {
	role, err := c.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, lookupErr("get role", KindRole, id, err)
	}
	return role, nil
}

// RolePermissions returns the permissions bundled in a role.
func (c *Catalog) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	if _, err := c.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	perms, err := c.store.RolePermissions(ctx, roleID)
	if err != nil {
		return nil, storageErr("role permissions", err)
	}
	sortPermissions(perms)
	return perms, nil
}

// ListPermissions returns every permission ordered by resource and action.
func (c *Catalog) ListPermissions(ctx context.Context) ([]Permission, error) {
	perms, err := c.store.ListPermissions(ctx)
	if err != nil {
		return nil, storageErr("list permissions", err)
	}
	sortPermissions(perms)
	return perms, nil
}

// PermissionsByResource filters permissions by resource.
func (c *Catalog) PermissionsByResource(ctx context.Context, resource string) ([]Permission, error) {
	perms, err := c.store.ListPermissionsByResource(ctx, NormalizeName(resource))
	if err != nil {
		return nil, storageErr("permissions by resource", err)
	}
	sortPermissions(perms)
	return perms, nil
}

// GetPermission fetches a permission by id.
func (c *Catalog) GetPermission(ctx context.Context, id string) (Permission, error) {
	perm, err := c.store.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, lookupErr("get permission", KindPermission, id, err)
	}
	return perm, nil
}

// CreateRole inserts a new role. Duplicate names yield ErrDuplicate.
func (c *Catalog) CreateRole(ctx context.Context, req CreateRoleRequest) (Role, error) {
	req.Name = NormalizeName(req.Name)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := validateStruct(req); err != nil {
		return Role{}, err
	}
	now := c.clock()
	role, err := c.store.CreateRole(ctx, Role{
		ID:          uuid.NewString(),
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: strings.TrimSpace(req.Description),
		Level:       req.Level,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Role{}, fmt.Errorf("%w: role %q", ErrDuplicate, req.Name)
		}
		return Role{}, storageErr("create role", err)
	}
	return role, nil
}

// UpdateRole applies the enumerated fields of update. Level changes alter
// level-based gates for every holder, so the cache is purged.
func (c *Catalog) UpdateRole(ctx context.Context, id string, update RoleUpdate) (Role, error) {
	if err := validateStruct(update); err != nil {
		return Role{}, err
	}
	role, err := c.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if update.Empty() {
		return role, nil
	}
	if update.DisplayName != nil {
		role.DisplayName = strings.TrimSpace(*update.DisplayName)
	}
	if update.Description != nil {
		role.Description = strings.TrimSpace(*update.Description)
	}
	if update.Level != nil {
		role.Level = *update.Level
	}
	role.UpdatedAt = c.clock()
	updated, err := c.store.UpdateRole(ctx, role)
	if err != nil {
		return Role{}, lookupErr("update role", KindRole, id, err)
	}
	c.cache.Purge()
	return updated, nil
}

// DeleteRole removes a role; its bundle and grants cascade.
func (c *Catalog) DeleteRole(ctx context.Context, id string) error {
	removed, err := c.store.DeleteRole(ctx, id)
	if err != nil {
		return storageErr("delete role", err)
	}
	if !removed {
		return notFound(KindRole, id)
	}
	c.cache.Purge()
	c.logger.Info("rbac role deleted", slog.String("role_id", id))
	return nil
}

// SetRolePermissions replaces the role's bundle after validating every id.
func (c *Catalog) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	if _, err := c.GetRole(ctx, roleID); err != nil {
		return err
	}
	unique := make([]string, 0, len(permissionIDs))
	seen := make(map[string]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, err := c.GetPermission(ctx, id); err != nil {
			return err
		}
		unique = append(unique, id)
	}
	if err := c.store.ReplaceRolePermissions(ctx, roleID, unique); err != nil {
		return lookupErr("replace role permissions", KindRole, roleID, err)
	}
	c.cache.Purge()
	return nil
}

func sortPermissions(perms []Permission) {
	sort.SliceStable(perms, func(i, j int) bool {
		if perms[i].Resource != perms[j].Resource {
			return perms[i].Resource < perms[j].Resource
		}
		return perms[i].Action < perms[j].Action
	})
}
