package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/inkboard/inkboard/internal/rbac"
)

// RBACCLI wraps catalog seeding and operator bootstrap.
type RBACCLI struct {
	store  rbac.CatalogStore
	grants *rbac.GrantService
}

// NewRBACCLI builds the helper over an initialised store and grant service.
func NewRBACCLI(store rbac.CatalogStore, grants *rbac.GrantService) *RBACCLI {
	return &RBACCLI{store: store, grants: grants}
}

// SeedOptions defines flags for the rbac seed command.
type SeedOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// SeedCommand upserts the default catalog and prints what was touched.
func (c *RBACCLI) SeedCommand(ctx context.Context, opts SeedOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	res, err := rbac.Seed(ctx, c.store, rbac.DefaultCatalog())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "rbac seed: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(res); err != nil {
			_, _ = fmt.Fprintf(stderr, "rbac seed: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "seeded %d roles, %d permissions, %d bundle entries\n", res.Roles, res.Permissions, res.Bundled)
	return 0
}

// BootstrapOptions defines flags for the rbac bootstrap command.
type BootstrapOptions struct {
	UserID string
	Email  string
	Stdout io.Writer
	Stderr io.Writer
}

// BootstrapCommand grants super_admin to the operator account.
func (c *RBACCLI) BootstrapCommand(ctx context.Context, opts BootstrapOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	userID := strings.TrimSpace(opts.UserID)
	if userID == "" {
		_, _ = fmt.Fprintln(stderr, "rbac bootstrap: --user is required")
		return 1
	}
	grant, err := rbac.Bootstrap(ctx, c.grants, userID, strings.TrimSpace(opts.Email))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "rbac bootstrap: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "granted %s to %s\n", rbac.RoleSuperAdmin, grant.UserID)
	return 0
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
