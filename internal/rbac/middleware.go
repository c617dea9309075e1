package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/inkboard/inkboard/internal/platform/httpx"
	"github.com/inkboard/inkboard/internal/shared"
)

// Middleware wires RBAC authorization gates for HTTP handlers. Every gate
// answers 401 without a principal, a generic 403 on denial and 500 when the
// grant store fails.
type Middleware struct {
	Authorizer *Authorizer
	Logger     *slog.Logger
}

type gate func(ctx context.Context, userID string) (bool, error)

// RequirePermission admits holders of perm.
func (m Middleware) RequirePermission(perm string) func(http.Handler) http.Handler {
	return m.guard("require permission", func(ctx context.Context, userID string) (bool, error) {
		return m.Authorizer.HasPermission(ctx, userID, perm)
	})
}

// RequireAny admits holders of at least one of perms.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.guard("require any", func(ctx context.Context, userID string) (bool, error) {
		return m.Authorizer.HasAnyPermission(ctx, userID, perms...)
	})
}

// RequireAll admits holders of every one of perms.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.guard("require all", func(ctx context.Context, userID string) (bool, error) {
		return m.Authorizer.HasAllPermissions(ctx, userID, perms...)
	})
}

// RequireRole admits users with an active grant of roleName.
func (m Middleware) RequireRole(roleName string) func(http.Handler) http.Handler {
	return m.guard("require role", func(ctx context.Context, userID string) (bool, error) {
		return m.Authorizer.HasRole(ctx, userID, roleName)
	})
}

// RequireMinLevel admits users whose highest active role level is at least min.
func (m Middleware) RequireMinLevel(min int) func(http.Handler) http.Handler {
	return m.guard("require min level", func(ctx context.Context, userID string) (bool, error) {
		return m.Authorizer.HasMinLevel(ctx, userID, min)
	})
}

func (m Middleware) guard(op string, check gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}
			allowed, err := check(r.Context(), p.UserID)
			if err != nil {
				m.logger().Error("rbac "+op, slog.String("user_id", p.UserID), slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if !allowed {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}
