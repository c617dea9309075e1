// Package memstore provides a thread-safe in-memory rbac.Store for tests and
// local development.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/inkboard/inkboard/internal/rbac"
)

var _ rbac.Store = (*Store)(nil)

type grantKey struct {
	userID string
	ref    string
}

// Store keeps the catalog and grants in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	users           map[string]string
	roles           map[string]rbac.Role
	permissions     map[string]rbac.Permission
	rolePermissions map[string]map[string]struct{} // roleID -> set of permIDs
	roleGrants      map[grantKey]rbac.UserRoleGrant
	permGrants      map[grantKey]rbac.UserPermissionGrant

	failure error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:           make(map[string]string),
		roles:           make(map[string]rbac.Role),
		permissions:     make(map[string]rbac.Permission),
		rolePermissions: make(map[string]map[string]struct{}),
		roleGrants:      make(map[grantKey]rbac.UserRoleGrant),
		permGrants:      make(map[grantKey]rbac.UserPermissionGrant),
	}
}

// FailWith makes every subsequent call return err until cleared with nil.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
}

func (s *Store) UserExists(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return false, s.failure
	}
	_, ok := s.users[userID]
	return ok, nil
}

func (s *Store) EnsureUser(_ context.Context, userID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	if _, ok := s.users[userID]; !ok {
		s.users[userID] = email
	}
	return nil
}

func (s *Store) ListRoles(_ context.Context) ([]rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return nil, s.failure
	}
	out := make([]rbac.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetRole(_ context.Context, id string) (rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return rbac.Role{}, s.failure
	}
	r, ok := s.roles[id]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	return r, nil
}

func (s *Store) GetRoleByName(_ context.Context, name string) (rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return rbac.Role{}, s.failure
	}
	if r, ok := s.roleByName(rbac.NormalizeName(name)); ok {
		return r, nil
	}
	return rbac.Role{}, rbac.ErrNotFound
}

func (s *Store) UpsertRole(_ context.Context, role rbac.Role) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return rbac.Role{}, s.failure
	}
	if existing, ok := s.roleByName(role.Name); ok {
		existing.DisplayName = role.DisplayName
		existing.Description = role.Description
		existing.Level = role.Level
		existing.UpdatedAt = role.UpdatedAt
		s.roles[existing.ID] = existing
		return existing, nil
	}
	s.roles[role.ID] = role
	return role, nil
}

func (s *Store) CreateRole(_ context.Context, role rbac.Role) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return rbac.Role{}, s.failure
	}
	if _, ok := s.roleByName(role.Name); ok {
		return rbac.Role{}, rbac.ErrDuplicate
	}
	if _, ok := s.roles[role.ID]; ok {
		return rbac.Role{}, rbac.ErrDuplicate
	}
	s.roles[role.ID] = role
	return role, nil
}

func (s *Store) UpdateRole(_ context.Context, role rbac.Role) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return rbac.Role{}, s.failure
	}
	existing, ok := s.roles[role.ID]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	existing.DisplayName = role.DisplayName
	existing.Description = role.Description
	existing.Level = role.Level
	existing.UpdatedAt = role.UpdatedAt
	s.roles[role.ID] = existing
	return existing, nil
}

func (s *Store) DeleteRole(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return false, s.failure
	}
	if _, ok := s.roles[id]; !ok {
		return false, nil
	}
	delete(s.roles, id)
	delete(s.rolePermissions, id)
	for k := range s.roleGrants {
		if k.ref == id {
			delete(s.roleGrants, k)
		}
	}
	return true, nil
}

func (s *Store) roleByName(name string) (rbac.Role, bool) {
	for _, r := range s.roles {
		if r.Name == name {
			return r, true
		}
	}
	return rbac.Role{}, false
}

func (s *Store) ListPermissions(_ context.Context) ([]rbac.Permission, error) {
	return s.filterPermissions(func(rbac.Permission) bool { return true })
}

func (s *Store) ListPermissionsByResource(_ context.Context, resource string) ([]rbac.Permission, error) {
	return s.filterPermissions(func(p rbac.Permission) bool { return p.Resource == resource })
}

func (s *Store) filterPermissions(keep func(rbac.Permission) bool) ([]rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return nil, s.failure
	}
	out := make([]rbac.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetPermission(_ context.Context, id string) (rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return rbac.Permission{}, s.failure
	}
	p, ok := s.permissions[id]
	if !ok {
		return rbac.Permission{}, rbac.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetPermissionByName(_ context.Context, name string) (rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return rbac.Permission{}, s.failure
	}
	if p, ok := s.permissionByName(rbac.NormalizeName(name)); ok {
		return p, nil
	}
	return rbac.Permission{}, rbac.ErrNotFound
}

func (s *Store) UpsertPermission(_ context.Context, perm rbac.Permission) (rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return rbac.Permission{}, s.failure
	}
	if existing, ok := s.permissionByName(perm.Name); ok {
		existing.DisplayName = perm.DisplayName
		existing.Description = perm.Description
		s.permissions[existing.ID] = existing
		return existing, nil
	}
	s.permissions[perm.ID] = perm
	return perm, nil
}

func (s *Store) permissionByName(name string) (rbac.Permission, bool) {
	for _, p := range s.permissions {
		if p.Name == name {
			return p, true
		}
	}
	return rbac.Permission{}, false
}

func (s *Store) RolePermissions(_ context.Context, roleID string) ([]rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return nil, s.failure
	}
	out := make([]rbac.Permission, 0, len(s.rolePermissions[roleID]))
	for permID := range s.rolePermissions[roleID] {
		if p, ok := s.permissions[permID]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) RolePermissionNames(ctx context.Context, roleID string) ([]string, error) {
	perms, err := s.RolePermissions(ctx, roleID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return names, nil
}

func (s *Store) AttachPermission(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	if _, ok := s.roles[roleID]; !ok {
		return rbac.ErrNotFound
	}
	if _, ok := s.permissions[permissionID]; !ok {
		return rbac.ErrNotFound
	}
	if s.rolePermissions[roleID] == nil {
		s.rolePermissions[roleID] = make(map[string]struct{})
	}
	s.rolePermissions[roleID][permissionID] = struct{}{}
	return nil
}

func (s *Store) ReplaceRolePermissions(_ context.Context, roleID string, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	if _, ok := s.roles[roleID]; !ok {
		return rbac.ErrNotFound
	}
	next := make(map[string]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		if _, ok := s.permissions[id]; !ok {
			return rbac.ErrNotFound
		}
		next[id] = struct{}{}
	}
	s.rolePermissions[roleID] = next
	return nil
}

func (s *Store) ActiveRoleGrants(ctx context.Context, userID string, now time.Time) ([]rbac.RoleAssignment, error) {
	all, err := s.ListRoleGrants(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if a.Grant.Active(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) ListRoleGrants(_ context.Context, userID string) ([]rbac.RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return nil, s.failure
	}
	var out []rbac.RoleAssignment
	for k, g := range s.roleGrants {
		if k.userID != userID {
			continue
		}
		role, ok := s.roles[k.ref]
		if !ok {
			continue
		}
		out = append(out, rbac.RoleAssignment{Grant: g, Role: role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role.Name < out[j].Role.Name })
	return out, nil
}

func (s *Store) ActivePermissionGrants(ctx context.Context, userID string, now time.Time) ([]rbac.PermissionAssignment, error) {
	all, err := s.ListPermissionGrants(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if a.Grant.Active(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) ListPermissionGrants(_ context.Context, userID string) ([]rbac.PermissionAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return nil, s.failure
	}
	var out []rbac.PermissionAssignment
	for k, g := range s.permGrants {
		if k.userID != userID {
			continue
		}
		perm, ok := s.permissions[k.ref]
		if !ok {
			continue
		}
		out = append(out, rbac.PermissionAssignment{Grant: g, Permission: perm})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Permission.Name < out[j].Permission.Name })
	return out, nil
}

func (s *Store) UpsertRoleGrant(_ context.Context, g rbac.UserRoleGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	if _, ok := s.users[g.UserID]; !ok {
		return rbac.ErrNotFound
	}
	if _, ok := s.roles[g.RoleID]; !ok {
		return rbac.ErrNotFound
	}
	s.roleGrants[grantKey{g.UserID, g.RoleID}] = g
	return nil
}

func (s *Store) DeleteRoleGrant(_ context.Context, userID, roleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return false, s.failure
	}
	k := grantKey{userID, roleID}
	if _, ok := s.roleGrants[k]; !ok {
		return false, nil
	}
	delete(s.roleGrants, k)
	return true, nil
}

func (s *Store) UpsertPermissionGrant(_ context.Context, g rbac.UserPermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	if _, ok := s.users[g.UserID]; !ok {
		return rbac.ErrNotFound
	}
	if _, ok := s.permissions[g.PermissionID]; !ok {
		return rbac.ErrNotFound
	}
	s.permGrants[grantKey{g.UserID, g.PermissionID}] = g
	return nil
}

func (s *Store) DeletePermissionGrant(_ context.Context, userID, permissionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return false, s.failure
	}
	k := grantKey{userID, permissionID}
	if _, ok := s.permGrants[k]; !ok {
		return false, nil
	}
	delete(s.permGrants, k)
	return true, nil
}

func (s *Store) DeleteExpiredGrants(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return 0, s.failure
	}
	var n int64
	for k, g := range s.roleGrants {
		if g.ExpiresAt != nil && g.ExpiresAt.Before(cutoff) {
			delete(s.roleGrants, k)
			n++
		}
	}
	for k, g := range s.permGrants {
		if g.ExpiresAt != nil && g.ExpiresAt.Before(cutoff) {
			delete(s.permGrants, k)
			n++
		}
	}
	return n, nil
}
