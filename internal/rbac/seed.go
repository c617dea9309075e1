package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Built-in role names.
const (
	RoleSuperAdmin   = "super_admin"
	RoleAdmin        = "admin"
	RoleEditor       = "editor"
	RoleCollaborator = "collaborator"
	RoleUser         = "user"
	RoleGuest        = "guest"
)

// PermRolesManage gates every catalog and grant mutation.
const PermRolesManage = "roles.manage"

// RoleDefinition declares a seeded role and the permission names it bundles.
type RoleDefinition struct {
	Name        string
	DisplayName string
	Description string
	Level       int
	Permissions []string
}

// PermissionDefinition declares a seeded permission.
type PermissionDefinition struct {
	Name        string `validate:"required,permname"`
	DisplayName string
	Description string
}

// CatalogDefinition is the full set of seeded roles and permissions.
type CatalogDefinition struct {
	Roles       []RoleDefinition
	Permissions []PermissionDefinition
}

// SeedResult counts what Seed touched.
type SeedResult struct {
	Roles       int
	Permissions int
	Bundled     int
}

var contentCRUD = []string{
	"notes.create", "notes.read", "notes.update", "notes.delete",
	"todos.create", "todos.read", "todos.update", "todos.delete",
	"projects.create", "projects.read", "projects.update", "projects.delete",
}

// DefaultCatalog returns the built-in roles and permissions.
func DefaultCatalog() CatalogDefinition {
	perms := []PermissionDefinition{
		{Name: "notes.create", DisplayName: "Create notes", Description: "Create new notes"},
		{Name: "notes.read", DisplayName: "Read notes", Description: "View note content"},
		{Name: "notes.update", DisplayName: "Edit notes", Description: "Edit note content"},
		{Name: "notes.delete", DisplayName: "Delete notes", Description: "Delete notes"},
		{Name: "notes.share", DisplayName: "Share notes", Description: "Share notes with other users"},
		{Name: "todos.create", DisplayName: "Create todos", Description: "Create new todo items"},
		{Name: "todos.read", DisplayName: "Read todos", Description: "View todo items"},
		{Name: "todos.update", DisplayName: "Edit todos", Description: "Edit todo items"},
		{Name: "todos.delete", DisplayName: "Delete todos", Description: "Delete todo items"},
		{Name: "projects.create", DisplayName: "Create projects", Description: "Create new projects"},
		{Name: "projects.read", DisplayName: "Read projects", Description: "View project content"},
		{Name: "projects.update", DisplayName: "Edit projects", Description: "Edit project content"},
		{Name: "projects.delete", DisplayName: "Delete projects", Description: "Delete projects"},
		{Name: "users.create", DisplayName: "Create users", Description: "Create user accounts"},
		{Name: "users.read", DisplayName: "Read users", Description: "View user details"},
		{Name: "users.update", DisplayName: "Edit users", Description: "Edit user details"},
		{Name: "users.delete", DisplayName: "Delete users", Description: "Delete user accounts"},
		{Name: PermRolesManage, DisplayName: "Manage roles", Description: "Manage roles and permissions"},
		{Name: "system.config", DisplayName: "System configuration", Description: "Change system configuration"},
		{Name: "system.stats", DisplayName: "System statistics", Description: "View system statistics"},
	}
	all := make([]string, 0, len(perms))
	for _, p := range perms {
		all = append(all, p.Name)
	}
	editor := append(append([]string{}, contentCRUD...), "notes.share")
	return CatalogDefinition{
		Permissions: perms,
		Roles: []RoleDefinition{
			{Name: RoleSuperAdmin, DisplayName: "Super administrator", Description: "Holds every permission", Level: 100, Permissions: all},
			{Name: RoleAdmin, DisplayName: "Administrator", Description: "Manages users and system settings", Level: 80, Permissions: []string{
				"users.create", "users.read", "users.update", "users.delete",
				"notes.read", "todos.read", "projects.read", "system.stats",
			}},
			{Name: RoleEditor, DisplayName: "Editor", Description: "Creates and edits all content", Level: 60, Permissions: editor},
			{Name: RoleCollaborator, DisplayName: "Collaborator", Description: "Views and comments on shared content", Level: 40, Permissions: []string{
				"notes.read", "notes.share", "todos.read", "projects.read",
			}},
			{Name: RoleUser, DisplayName: "User", Description: "Manages own notes and todos", Level: 20, Permissions: append([]string{}, contentCRUD...)},
			{Name: RoleGuest, DisplayName: "Guest", Description: "Read-only access", Level: 10, Permissions: []string{
				"notes.read", "todos.read", "projects.read",
			}},
		},
	}
}

// Seed upserts def into store. Existing rows keep their ids and running it
// twice leaves the catalog unchanged. Permissions attached by operators are
// never detached.
func Seed(ctx context.Context, store CatalogStore, def CatalogDefinition) (SeedResult, error) {
	var res SeedResult
	now := time.Now().UTC()
	ids := make(map[string]string, len(def.Permissions))
	for _, pd := range def.Permissions {
		if err := validateStruct(pd); err != nil {
			return res, fmt.Errorf("permission %q: %w", pd.Name, err)
		}
		resource, action, _ := SplitPermissionName(pd.Name)
		perm, err := store.UpsertPermission(ctx, Permission{
			ID:          uuid.NewString(),
			Name:        NormalizeName(pd.Name),
			DisplayName: pd.DisplayName,
			Resource:    resource,
			Action:      action,
			Description: pd.Description,
			CreatedAt:   now,
		})
		if err != nil {
			return res, storageErr("seed permission", err)
		}
		ids[perm.Name] = perm.ID
		res.Permissions++
	}
	for _, rd := range def.Roles {
		role, err := store.UpsertRole(ctx, Role{
			ID:          uuid.NewString(),
			Name:        NormalizeName(rd.Name),
			DisplayName: rd.DisplayName,
			Description: rd.Description,
			Level:       rd.Level,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return res, storageErr("seed role", err)
		}
		res.Roles++
		for _, name := range rd.Permissions {
			permID, ok := ids[NormalizeName(name)]
			if !ok {
				return res, fmt.Errorf("%w: role %s bundles unknown permission %q", ErrValidation, rd.Name, name)
			}
			if err := store.AttachPermission(ctx, role.ID, permID); err != nil {
				return res, storageErr("seed bundle", err)
			}
			res.Bundled++
		}
	}
	return res, nil
}

// Bootstrap registers userID and grants it super_admin so the first operator
// can manage roles through the API.
func Bootstrap(ctx context.Context, svc *GrantService, userID, email string) (UserRoleGrant, error) {
	if err := svc.EnsureUser(ctx, userID, email); err != nil {
		return UserRoleGrant{}, err
	}
	role, err := svc.store.GetRoleByName(ctx, RoleSuperAdmin)
	if err != nil {
		return UserRoleGrant{}, lookupErr("get role", KindRole, RoleSuperAdmin, err)
	}
	return svc.AssignRole(ctx, AssignRoleRequest{UserID: userID, RoleID: role.ID, AssignedBy: "bootstrap"})
}
