package rbac_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inkboard/inkboard/internal/rbac"
	"github.com/inkboard/inkboard/internal/shared"
)

func TestMiddlewareGates(t *testing.T) {
	f := newFixture(t)
	f.grantRole(t, "editor", rbac.RoleEditor, nil)
	f.grantRole(t, "admin", rbac.RoleAdmin, nil)
	mw := rbac.Middleware{Authorizer: f.authz}

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name   string
		gate   func(http.Handler) http.Handler
		userID string
		want   int
	}{
		{"anonymous", mw.RequirePermission("notes.read"), "", http.StatusUnauthorized},
		{"permission granted", mw.RequirePermission("notes.share"), "editor", http.StatusNoContent},
		{"permission denied", mw.RequirePermission("users.read"), "editor", http.StatusForbidden},
		{"any", mw.RequireAny("users.read", "notes.update"), "editor", http.StatusNoContent},
		{"any denied", mw.RequireAny("users.read", "system.config"), "editor", http.StatusForbidden},
		{"all", mw.RequireAll("users.read", "system.stats"), "admin", http.StatusNoContent},
		{"all denied", mw.RequireAll("users.read", "notes.update"), "admin", http.StatusForbidden},
		{"role", mw.RequireRole("Admin"), "admin", http.StatusNoContent},
		{"role denied", mw.RequireRole(rbac.RoleAdmin), "editor", http.StatusForbidden},
		{"level", mw.RequireMinLevel(80), "admin", http.StatusNoContent},
		{"level denied", mw.RequireMinLevel(80), "editor", http.StatusForbidden},
		{"no roles", mw.RequireMinLevel(1), "nobody", http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.userID != "" {
				req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: tc.userID}))
			}
			rec := httptest.NewRecorder()
			tc.gate(ok).ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestMiddlewareStorageFailureIs500(t *testing.T) {
	f := newFixture(t)
	f.grantRole(t, "editor", rbac.RoleEditor, nil)
	f.store.FailWith(errors.New("down"))
	mw := rbac.Middleware{Authorizer: f.authz}

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(shared.ContextWithPrincipal(context.Background(), shared.Principal{UserID: "editor"}))
	rec := httptest.NewRecorder()

	mw.RequirePermission("notes.read")(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, called)
}
