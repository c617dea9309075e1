package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/inkboard/inkboard/internal/platform/httpx"
)

// Principal identifies the authenticated caller.
type Principal struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// SessionStore resolves bearer tokens to principals from session records
// written to Redis by the authentication service.
type SessionStore struct {
	client *redis.Client
	prefix string
}

// NewSessionStore constructs a SessionStore reading keys "<prefix><token>".
// An empty prefix defaults to "session:".
func NewSessionStore(client *redis.Client, prefix string) *SessionStore {
	if prefix == "" {
		prefix = "session:"
	}
	return &SessionStore{client: client, prefix: prefix}
}

// Lookup returns the principal for token.
func (s *SessionStore) Lookup(ctx context.Context, token string) (Principal, error) {
	payload, err := s.client.Get(ctx, s.prefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Principal{}, ErrSessionNotFound
		}
		return Principal{}, fmt.Errorf("session lookup: %w", err)
	}
	var p Principal
	if err := json.Unmarshal(payload, &p); err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if p.UserID == "" {
		return Principal{}, ErrSessionInvalid
	}
	return p, nil
}

// PrincipalMiddleware attaches the principal of a valid bearer token to the
// request context. Requests without a usable token continue anonymously;
// a Redis failure aborts the request.
func PrincipalMiddleware(store *SessionStore, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			p, err := store.Lookup(r.Context(), token)
			switch {
			case err == nil:
				r = r.WithContext(ContextWithPrincipal(r.Context(), p))
			case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionInvalid):
				// anonymous
			default:
				logger.Error("principal lookup failed", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const scheme = "bearer "
	if len(h) <= len(scheme) || !strings.EqualFold(h[:len(scheme)], scheme) {
		return ""
	}
	return strings.TrimSpace(h[len(scheme):])
}
