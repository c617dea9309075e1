package rbac

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/inkboard/inkboard/internal/rbac"

// PermissionResolver computes a user's effective permission set.
type PermissionResolver interface {
	Resolve(ctx context.Context, userID string) (PermissionSet, error)
}

// Resolver unions role-derived and directly granted permissions. It holds no
// state besides its collaborators and is safe for concurrent use.
type Resolver struct {
	grants GrantReader
	clock  func() time.Time
	tracer trace.Tracer
}

// NewResolver builds a Resolver reading from grants.
func NewResolver(grants GrantReader) *Resolver {
	return &Resolver{
		grants: grants,
		clock:  func() time.Time { return time.Now().UTC() },
		tracer: otel.Tracer(tracerName),
	}
}

// WithTracerProvider replaces the global tracer provider.
func (r *Resolver) WithTracerProvider(tp trace.TracerProvider) *Resolver {
	if tp != nil {
		r.tracer = tp.Tracer(tracerName)
	}
	return r
}

// WithClock overrides the time source; intended for tests.
func (r *Resolver) WithClock(clock func() time.Time) *Resolver {
	if clock != nil {
		r.clock = clock
	}
	return r
}

// Resolve returns the de-duplicated permission names the user holds right now.
// A user without grants resolves to the empty set. Storage failures are
// returned wrapped in ErrStorage and never collapse into an empty set.
func (r *Resolver) Resolve(ctx context.Context, userID string) (set PermissionSet, err error) {
	ctx, span := r.tracer.Start(ctx, "rbac.Resolve", trace.WithAttributes(attribute.String("rbac.user_id", userID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "resolve failed")
		} else {
			span.SetAttributes(attribute.Int("rbac.permissions", set.Len()))
		}
		span.End()
	}()

	now := r.clock()
	set = PermissionSet{names: make(map[string]struct{})}

	roles, err := r.grants.ActiveRoleGrants(ctx, userID, now)
	if err != nil {
		return PermissionSet{}, storageErr("active role grants", err)
	}
	seen := make(map[string]struct{}, len(roles))
	for _, ra := range roles {
		if !ra.Grant.Active(now) {
			continue
		}
		if _, ok := seen[ra.Grant.RoleID]; ok {
			continue
		}
		seen[ra.Grant.RoleID] = struct{}{}
		names, err := r.grants.RolePermissionNames(ctx, ra.Grant.RoleID)
		if err != nil {
			return PermissionSet{}, storageErr("role permissions", err)
		}
		for _, n := range names {
			set.add(n)
		}
	}

	direct, err := r.grants.ActivePermissionGrants(ctx, userID, now)
	if err != nil {
		return PermissionSet{}, storageErr("active permission grants", err)
	}
	for _, pa := range direct {
		if !pa.Grant.Active(now) {
			continue
		}
		set.add(pa.Permission.Name)
	}
	return set, nil
}

func (s PermissionSet) add(name string) {
	if name = NormalizeName(name); name != "" {
		s.names[name] = struct{}{}
	}
}
