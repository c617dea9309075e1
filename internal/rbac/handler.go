package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/inkboard/inkboard/internal/platform/httpx"
	"github.com/inkboard/inkboard/internal/shared"
)

// Handler exposes the catalog, grants and self-service checks over JSON.
type Handler struct {
	logger     *slog.Logger
	catalog    *Catalog
	grants     *GrantService
	authz      *Authorizer
	rbac       Middleware
	rateLimit  int
	rateWindow time.Duration
}

// NewHandler builds a Handler. rateLimit caps grant mutations per caller per
// rateWindow; zero values fall back to 30 per minute.
func NewHandler(logger *slog.Logger, catalog *Catalog, grants *GrantService, authz *Authorizer, rateLimit int, rateWindow time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if rateLimit <= 0 {
		rateLimit = 30
	}
	if rateWindow <= 0 {
		rateWindow = time.Minute
	}
	return &Handler{
		logger:     logger,
		catalog:    catalog,
		grants:     grants,
		authz:      authz,
		rbac:       Middleware{Authorizer: authz, Logger: logger},
		rateLimit:  rateLimit,
		rateWindow: rateWindow,
	}
}

// MountRoutes registers the RBAC API on r.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(h.rateLimit, h.rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "")
		}),
	)

	r.Route("/me", func(r chi.Router) {
		r.Get("/permissions", h.handleMyAccess)
		r.Get("/check-permission/{permission}", h.handleCheckPermission)
		r.Get("/check-role/{role}", h.handleCheckRole)
	})

	r.Get("/users/{userID}/roles", h.handleUserRoles)
	r.Get("/users/{userID}/permissions", h.handleUserPermissions)

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(PermRolesManage))

		r.Get("/roles", h.handleListRoles)
		r.Post("/roles", h.handleCreateRole)
		r.Get("/roles/{roleID}", h.handleGetRole)
		r.Patch("/roles/{roleID}", h.handleUpdateRole)
		r.Delete("/roles/{roleID}", h.handleDeleteRole)
		r.Get("/roles/{roleID}/permissions", h.handleRolePermissions)
		r.Put("/roles/{roleID}/permissions", h.handleSetRolePermissions)

		r.Get("/permissions", h.handleListPermissions)
		r.Get("/permissions/by-resource/{resource}", h.handlePermissionsByResource)

		r.Group(func(r chi.Router) {
			r.Use(limiter)
			r.Post("/users/{userID}/roles", h.handleAssignRole)
			r.Delete("/users/{userID}/roles/{roleID}", h.handleRevokeRole)
			r.Post("/users/{userID}/permissions", h.handleGrantPermission)
			r.Delete("/users/{userID}/permissions/{permissionID}", h.handleRevokePermission)
		})
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if p, ok := shared.PrincipalFromContext(r.Context()); ok {
		return "user:" + p.UserID, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

type permissionCheck struct {
	Permission string `json:"permission"`
	Granted    bool   `json:"granted"`
}

type roleCheck struct {
	Role    string `json:"role"`
	HasRole bool   `json:"has_role"`
}

func (h *Handler) handleMyAccess(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	summary, err := h.authz.Summary(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, "my access", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleCheckPermission(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	perm := NormalizeName(chi.URLParam(r, "permission"))
	granted, err := h.authz.HasPermission(r.Context(), p.UserID, perm)
	if err != nil {
		h.fail(w, "check permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, permissionCheck{Permission: perm, Granted: granted})
}

func (h *Handler) handleCheckRole(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	role := NormalizeName(chi.URLParam(r, "role"))
	has, err := h.authz.HasRole(r.Context(), p.UserID, role)
	if err != nil {
		h.fail(w, "check role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roleCheck{Role: role, HasRole: has})
}

func (h *Handler) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.selfOrManager(w, r)
	if !ok {
		return
	}
	grants, err := h.grants.UserRoleGrants(r.Context(), userID)
	if err != nil {
		h.fail(w, "user roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grants)
}

func (h *Handler) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.selfOrManager(w, r)
	if !ok {
		return
	}
	grants, err := h.grants.UserPermissionGrants(r.Context(), userID)
	if err != nil {
		h.fail(w, "user permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grants)
}

// selfOrManager admits the user named in the path or any roles.manage holder.
func (h *Handler) selfOrManager(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, ok := h.principal(w, r)
	if !ok {
		return "", false
	}
	userID := chi.URLParam(r, "userID")
	if p.UserID == userID {
		return userID, true
	}
	allowed, err := h.authz.HasPermission(r.Context(), p.UserID, PermRolesManage)
	if err != nil {
		h.fail(w, "self or manager", err)
		return "", false
	}
	if !allowed {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return "", false
	}
	return userID, true
}

type setPermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids"`
}

func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.catalog.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.catalog.GetRole(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.catalog.CreateRole(r.Context(), req)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req RoleUpdate
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.catalog.UpdateRole(r.Context(), chi.URLParam(r, "roleID"), req)
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteRole(r.Context(), chi.URLParam(r, "roleID")); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRolePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.catalog.RolePermissions(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		h.fail(w, "role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req setPermissionsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	roleID := chi.URLParam(r, "roleID")
	if err := h.catalog.SetRolePermissions(r.Context(), roleID, req.PermissionIDs); err != nil {
		h.fail(w, "set role permissions", err)
		return
	}
	perms, err := h.catalog.RolePermissions(r.Context(), roleID)
	if err != nil {
		h.fail(w, "role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.catalog.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) handlePermissionsByResource(w http.ResponseWriter, r *http.Request) {
	perms, err := h.catalog.PermissionsByResource(r.Context(), chi.URLParam(r, "resource"))
	if err != nil {
		h.fail(w, "permissions by resource", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

type assignRoleBody struct {
	RoleID    string     `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type grantPermissionBody struct {
	PermissionID string     `json:"permission_id"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	p, _ := shared.PrincipalFromContext(r.Context())
	var body assignRoleBody
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	grant, err := h.grants.AssignRole(r.Context(), AssignRoleRequest{
		UserID:     chi.URLParam(r, "userID"),
		RoleID:     body.RoleID,
		AssignedBy: p.UserID,
		ExpiresAt:  body.ExpiresAt,
	})
	if err != nil {
		h.fail(w, "assign role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grant)
}

func (h *Handler) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	p, _ := shared.PrincipalFromContext(r.Context())
	err := h.grants.RevokeRole(r.Context(), p.UserID, chi.URLParam(r, "userID"), chi.URLParam(r, "roleID"))
	if err != nil {
		h.fail(w, "revoke role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	p, _ := shared.PrincipalFromContext(r.Context())
	var body grantPermissionBody
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	grant, err := h.grants.GrantPermission(r.Context(), GrantPermissionRequest{
		UserID:       chi.URLParam(r, "userID"),
		PermissionID: body.PermissionID,
		GrantedBy:    p.UserID,
		ExpiresAt:    body.ExpiresAt,
	})
	if err != nil {
		h.fail(w, "grant permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grant)
}

func (h *Handler) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	p, _ := shared.PrincipalFromContext(r.Context())
	err := h.grants.RevokePermission(r.Context(), p.UserID, chi.URLParam(r, "userID"), chi.URLParam(r, "permissionID"))
	if err != nil {
		h.fail(w, "revoke permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (shared.Principal, bool) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
	}
	return p, ok
}

// fail logs storage failures and maps every error to a problem response.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrStorage) || !isClientError(err) {
		h.logger.Error("rbac "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func isClientError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrValidation)
}
