package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessions(t *testing.T) (*miniredis.Miniredis, *SessionStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewSessionStore(client, "")
}

func TestSessionLookup(t *testing.T) {
	mr, store := newTestSessions(t)
	require.NoError(t, mr.Set("session:good", `{"user_id":"u1","email":"u1@example.com"}`))
	require.NoError(t, mr.Set("session:garbled", `{not json`))
	require.NoError(t, mr.Set("session:anon", `{"email":"x@example.com"}`))
	ctx := context.Background()

	p, err := store.Lookup(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "u1", Email: "u1@example.com"}, p)

	_, err = store.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Lookup(ctx, "garbled")
	assert.ErrorIs(t, err, ErrSessionInvalid)
	_, err = store.Lookup(ctx, "anon")
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestPrincipalMiddleware(t *testing.T) {
	mr, store := newTestSessions(t)
	require.NoError(t, mr.Set("session:tok", `{"user_id":"u1"}`))

	var seen Principal
	var authenticated bool
	handler := PrincipalMiddleware(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, authenticated = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		header   string
		wantAuth bool
	}{
		{"no header", "", false},
		{"valid token", "Bearer tok", true},
		{"scheme is case insensitive", "bearer tok", true},
		{"unknown token", "Bearer nope", false},
		{"basic auth ignored", "Basic dTE6cHc=", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seen, authenticated = Principal{}, false
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tc.wantAuth, authenticated)
			if tc.wantAuth {
				assert.Equal(t, "u1", seen.UserID)
			}
		})
	}
}

func TestPrincipalMiddlewareRedisDown(t *testing.T) {
	mr, store := newTestSessions(t)
	mr.Close()

	called := false
	handler := PrincipalMiddleware(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, called)
}

func TestPrincipalFromContextRejectsEmptyUser(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)
	_, ok = PrincipalFromContext(ContextWithPrincipal(context.Background(), Principal{Email: "x@example.com"}))
	assert.False(t, ok)
}
