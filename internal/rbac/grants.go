package rbac

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/inkboard/inkboard/internal/shared"
)

// Invalidator drops cached decisions for a user.
type Invalidator interface {
	Invalidate(userID string)
}

// Auditor records administrative mutations.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AssignRoleRequest describes a role grant.
type AssignRoleRequest struct {
	UserID     string     `json:"user_id" validate:"required"`
	RoleID     string     `json:"role_id" validate:"required"`
	AssignedBy string     `json:"assigned_by,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// GrantPermissionRequest describes a direct permission grant.
type GrantPermissionRequest struct {
	UserID       string     `json:"user_id" validate:"required"`
	PermissionID string     `json:"permission_id" validate:"required"`
	GrantedBy    string     `json:"granted_by,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// GrantService mutates grants and keeps the decision cache coherent: every
// successful mutation invalidates the affected user before returning.
type GrantService struct {
	store  Store
	cache  Invalidator
	audit  Auditor
	logger *slog.Logger
	clock  func() time.Time
}

// NewGrantService wires the mutation operations. audit may be nil.
func NewGrantService(store Store, cache Invalidator, audit Auditor, logger *slog.Logger) *GrantService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantService{
		store:  store,
		cache:  cache,
		audit:  audit,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source used for assigned_at.
func (s *GrantService) WithClock(clock func() time.Time) *GrantService {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// AssignRole upserts the (user, role) grant. Re-assigning refreshes
// assigned_at and replaces expires_at.
func (s *GrantService) AssignRole(ctx context.Context, req AssignRoleRequest) (UserRoleGrant, error) {
	if err := validateStruct(req); err != nil {
		return UserRoleGrant{}, err
	}
	if err := s.requireUser(ctx, req.UserID); err != nil {
		return UserRoleGrant{}, err
	}
	role, err := s.store.GetRole(ctx, req.RoleID)
	if err != nil {
		return UserRoleGrant{}, lookupErr("get role", KindRole, req.RoleID, err)
	}
	grant := UserRoleGrant{
		UserID:     req.UserID,
		RoleID:     role.ID,
		AssignedAt: s.clock(),
		AssignedBy: optional(req.AssignedBy),
		ExpiresAt:  utcPtr(req.ExpiresAt),
	}
	if err := s.store.UpsertRoleGrant(ctx, grant); err != nil {
		return UserRoleGrant{}, lookupErr("upsert role grant", KindRole, req.RoleID, err)
	}
	s.cache.Invalidate(req.UserID)
	s.record(ctx, req.AssignedBy, "rbac.role.assign", req.UserID, map[string]any{
		"role_id":    role.ID,
		"role":       role.Name,
		"expires_at": grant.ExpiresAt,
	})
	return grant, nil
}

// RevokeRole removes the (user, role) grant or reports a NotFoundError.
func (s *GrantService) RevokeRole(ctx context.Context, actorID, userID, roleID string) error {
	removed, err := s.store.DeleteRoleGrant(ctx, userID, roleID)
	if err != nil {
		return storageErr("delete role grant", err)
	}
	// The row may have vanished concurrently; drop the entry either way.
	s.cache.Invalidate(userID)
	if !removed {
		return notFound(KindRoleGrant, userID+"/"+roleID)
	}
	s.record(ctx, actorID, "rbac.role.revoke", userID, map[string]any{"role_id": roleID})
	return nil
}

// GrantPermission upserts a direct (user, permission) grant.
func (s *GrantService) GrantPermission(ctx context.Context, req GrantPermissionRequest) (UserPermissionGrant, error) {
	if err := validateStruct(req); err != nil {
		return UserPermissionGrant{}, err
	}
	if err := s.requireUser(ctx, req.UserID); err != nil {
		return UserPermissionGrant{}, err
	}
	perm, err := s.store.GetPermission(ctx, req.PermissionID)
	if err != nil {
		return UserPermissionGrant{}, lookupErr("get permission", KindPermission, req.PermissionID, err)
	}
	grant := UserPermissionGrant{
		UserID:       req.UserID,
		PermissionID: perm.ID,
		AssignedAt:   s.clock(),
		AssignedBy:   optional(req.GrantedBy),
		ExpiresAt:    utcPtr(req.ExpiresAt),
	}
	if err := s.store.UpsertPermissionGrant(ctx, grant); err != nil {
		return UserPermissionGrant{}, lookupErr("upsert permission grant", KindPermission, req.PermissionID, err)
	}
	s.cache.Invalidate(req.UserID)
	s.record(ctx, req.GrantedBy, "rbac.permission.grant", req.UserID, map[string]any{
		"permission_id": perm.ID,
		"permission":    perm.Name,
		"expires_at":    grant.ExpiresAt,
	})
	return grant, nil
}

// RevokePermission removes a direct grant or reports a NotFoundError.
func (s *GrantService) RevokePermission(ctx context.Context, actorID, userID, permissionID string) error {
	removed, err := s.store.DeletePermissionGrant(ctx, userID, permissionID)
	if err != nil {
		return storageErr("delete permission grant", err)
	}
	s.cache.Invalidate(userID)
	if !removed {
		return notFound(KindPermGrant, userID+"/"+permissionID)
	}
	s.record(ctx, actorID, "rbac.permission.revoke", userID, map[string]any{"permission_id": permissionID})
	return nil
}

// UserRoleGrants lists every role grant of a user, expired ones included.
func (s *GrantService) UserRoleGrants(ctx context.Context, userID string) ([]RoleAssignment, error) {
	grants, err := s.store.ListRoleGrants(ctx, userID)
	if err != nil {
		return nil, storageErr("list role grants", err)
	}
	return grants, nil
}

// UserPermissionGrants lists every direct grant of a user, expired ones included.
func (s *GrantService) UserPermissionGrants(ctx context.Context, userID string) ([]PermissionAssignment, error) {
	grants, err := s.store.ListPermissionGrants(ctx, userID)
	if err != nil {
		return nil, storageErr("list permission grants", err)
	}
	return grants, nil
}

// EnsureUser registers a user id known to the authentication layer.
func (s *GrantService) EnsureUser(ctx context.Context, userID, email string) error {
	if userID == "" {
		return ErrValidation
	}
	return storageErr("ensure user", s.store.EnsureUser(ctx, userID, email))
}

func (s *GrantService) requireUser(ctx context.Context, userID string) error {
	ok, err := s.store.UserExists(ctx, userID)
	if err != nil {
		return storageErr("user exists", err)
	}
	if !ok {
		return notFound(KindUser, userID)
	}
	return nil
}

func (s *GrantService) record(ctx context.Context, actorID, action, userID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: userID,
		Meta:     meta,
		At:       s.clock(),
	})
	if err != nil {
		s.logger.Warn("rbac audit record", slog.String("action", action), slog.Any("error", err))
	}
}

// lookupErr converts a store ErrNotFound into a NotFoundError naming id and
// wraps anything else as a storage failure.
func lookupErr(op, kind, id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return notFound(kind, id)
	}
	return storageErr(op, err)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
