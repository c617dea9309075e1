package rbac

import (
	"sort"
	"strings"
	"time"
)

// Permission represents an atomic capability named resource.action.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role represents a leveled bundle of permissions.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	Level       int       `json:"level"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RolePermission ties a permission to a role.
type RolePermission struct {
	RoleID       string
	PermissionID string
	CreatedAt    time.Time
}

// UserRoleGrant links a user to a role, optionally until ExpiresAt.
type UserRoleGrant struct {
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	AssignedAt time.Time  `json:"assigned_at"`
	AssignedBy *string    `json:"assigned_by,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the grant is in force at now.
func (g UserRoleGrant) Active(now time.Time) bool {
	return activeAt(g.ExpiresAt, now)
}

// UserPermissionGrant links a user directly to a permission, bypassing roles.
type UserPermissionGrant struct {
	UserID       string     `json:"user_id"`
	PermissionID string     `json:"permission_id"`
	AssignedAt   time.Time  `json:"assigned_at"`
	AssignedBy   *string    `json:"assigned_by,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the grant is in force at now.
func (g UserPermissionGrant) Active(now time.Time) bool {
	return activeAt(g.ExpiresAt, now)
}

// RoleAssignment is a role grant joined with the role it references.
type RoleAssignment struct {
	Grant UserRoleGrant `json:"grant"`
	Role  Role          `json:"role"`
}

// PermissionAssignment is a direct grant joined with its permission.
type PermissionAssignment struct {
	Grant      UserPermissionGrant `json:"grant"`
	Permission Permission          `json:"permission"`
}

func activeAt(expiresAt *time.Time, now time.Time) bool {
	return expiresAt == nil || expiresAt.After(now)
}

// PermissionSet is an immutable set of permission names.
type PermissionSet struct {
	names map[string]struct{}
}

// NewPermissionSet builds a set from names, normalising each entry.
func NewPermissionSet(names ...string) PermissionSet {
	set := PermissionSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = NormalizeName(n)
		if n == "" {
			continue
		}
		set.names[n] = struct{}{}
	}
	return set
}

// Has reports whether name is part of the set.
func (s PermissionSet) Has(name string) bool {
	_, ok := s.names[NormalizeName(name)]
	return ok
}

// HasAny reports whether at least one of names is present. An empty request is false.
func (s PermissionSet) HasAny(names ...string) bool {
	for _, n := range names {
		if s.Has(n) {
			return true
		}
	}
	return false
}

// HasAll reports whether every requested name is present. An empty request is true.
func (s PermissionSet) HasAll(names ...string) bool {
	for _, n := range names {
		if !s.Has(n) {
			return false
		}
	}
	return true
}

// Len returns the number of permissions.
func (s PermissionSet) Len() int { return len(s.names) }

// Names returns the sorted permission names.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// AccessSummary describes everything a user currently holds.
type AccessSummary struct {
	UserID      string   `json:"user_id"`
	Roles       []Role   `json:"roles"`
	Permissions []string `json:"permissions"`
	RoleLevel   int      `json:"role_level"`
}

// RoleUpdate lists the mutable role fields. Nil fields are left untouched.
type RoleUpdate struct {
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
	Level       *int    `json:"level,omitempty" validate:"omitempty,min=0,max=1000"`
}

// Empty reports whether the update carries no changes.
func (u RoleUpdate) Empty() bool {
	return u.DisplayName == nil && u.Description == nil && u.Level == nil
}

// NormalizeName trims and lower-cases role and permission names.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SplitPermissionName splits "notes.read" into ("notes", "read").
func SplitPermissionName(name string) (resource, action string, ok bool) {
	name = NormalizeName(name)
	idx := strings.LastIndex(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}
