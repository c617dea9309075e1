package rbac

import (
	"errors"
	"fmt"

	"github.com/inkboard/inkboard/internal/platform/httpx"
)

var (
	// ErrNotFound indicates that a referenced record does not exist.
	ErrNotFound = fmt.Errorf("rbac: %w", httpx.ErrNotFound)
	// ErrDuplicate indicates a unique name collision in the catalog.
	ErrDuplicate = fmt.Errorf("rbac: %w", httpx.ErrDuplicate)
	// ErrValidation indicates a malformed request.
	ErrValidation = fmt.Errorf("rbac: %w", httpx.ErrValidation)
	// ErrStorage indicates that the grant store could not be reached. Decisions
	// must fail closed when it is returned.
	ErrStorage = errors.New("rbac: storage unavailable")
)

// Kinds reported by NotFoundError.
const (
	KindUser       = "user"
	KindRole       = "role"
	KindPermission = "permission"
	KindRoleGrant  = "role grant"
	KindPermGrant  = "permission grant"
)

// NotFoundError names the id that failed referential validation.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("rbac: %s %q not found", e.Kind, e.ID)
}

// Unwrap allows errors.Is(err, ErrNotFound).
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return fmt.Errorf("rbac: %s: %w", op, err)
	}
	return fmt.Errorf("rbac: %s: %w: %w", op, ErrStorage, err)
}
