package rbac

import (
	"fmt"
	"log/slog"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/inkboard/inkboard/internal/shared"
)

// PrincipalRegistrar records authenticated principals in the user table the
// first time a process sees them, so externally authenticated users can be
// granted roles. Ids that never authenticated stay unknown.
type PrincipalRegistrar struct {
	grants *GrantService
	seen   *lru.Cache[string, struct{}]
	logger *slog.Logger
}

// NewPrincipalRegistrar remembers up to size registered ids.
func NewPrincipalRegistrar(grants *GrantService, size int, logger *slog.Logger) (*PrincipalRegistrar, error) {
	if grants == nil {
		return nil, fmt.Errorf("rbac: registrar requires a grant service")
	}
	if size <= 0 {
		size = DefaultCacheMaxEntries
	}
	if logger == nil {
		logger = slog.Default()
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("rbac: registrar: %w", err)
	}
	return &PrincipalRegistrar{grants: grants, seen: seen, logger: logger}, nil
}

// Middleware registers the request principal. A storage failure is logged and
// retried on the next request; it never blocks the request itself.
func (p *PrincipalRegistrar) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pr, ok := shared.PrincipalFromContext(r.Context()); ok && !p.seen.Contains(pr.UserID) {
			if err := p.grants.EnsureUser(r.Context(), pr.UserID, pr.Email); err != nil {
				p.logger.Warn("register principal", slog.String("user_id", pr.UserID), slog.Any("error", err))
			} else {
				p.seen.Add(pr.UserID, struct{}{})
			}
		}
		next.ServeHTTP(w, r)
	})
}
