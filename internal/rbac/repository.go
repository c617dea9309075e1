package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/inkboard/inkboard/internal/platform/db"
)

var _ Store = (*Repository)(nil)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool db.Querier
}

// NewRepository constructs a repository over a *pgxpool.Pool or any other
// db.Querier.
func NewRepository(pool db.Querier) *Repository {
	return &Repository{pool: pool}
}

const (
	roleColumns       = `r.id, r.name, r.display_name, r.description, r.level, r.created_at, r.updated_at`
	permissionColumns = `p.id, p.name, p.display_name, p.resource, p.action, p.description, p.created_at`
)

func scanRole(row pgx.CollectableRow) (Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.Name, &r.DisplayName, &r.Description, &r.Level, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func scanPermission(row pgx.CollectableRow) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Resource, &p.Action, &p.Description, &p.CreatedAt)
	return p, err
}

// mapErr translates driver errors into package sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrDuplicate
		case "23503":
			return ErrNotFound
		}
	}
	return err
}

// ============================================================================
// USERS
// ============================================================================

func (r *Repository) UserExists(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&ok)
	return ok, err
}

func (r *Repository) EnsureUser(ctx context.Context, userID, email string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO users (id, email) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, userID, email)
	return err
}

// ============================================================================
// ROLES
// ============================================================================

func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles r ORDER BY r.level DESC, r.name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRole)
}

func (r *Repository) GetRole(ctx context.Context, id string) (Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1`, id)
	if err != nil {
		return Role{}, err
	}
	role, err := pgx.CollectExactlyOneRow(rows, scanRole)
	return role, mapErr(err)
}

func (r *Repository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.name = $1`, NormalizeName(name))
	if err != nil {
		return Role{}, err
	}
	role, err := pgx.CollectExactlyOneRow(rows, scanRole)
	return role, mapErr(err)
}

func (r *Repository) UpsertRole(ctx context.Context, role Role) (Role, error) {
	rows, err := r.pool.Query(ctx, `
		INSERT INTO roles AS r (id, name, display_name, description, level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    description = EXCLUDED.description,
		    level = EXCLUDED.level,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+roleColumns,
		role.ID, role.Name, role.DisplayName, role.Description, role.Level, role.CreatedAt, role.UpdatedAt)
	if err != nil {
		return Role{}, err
	}
	out, err := pgx.CollectExactlyOneRow(rows, scanRole)
	return out, mapErr(err)
}

func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	rows, err := r.pool.Query(ctx, `
		INSERT INTO roles AS r (id, name, display_name, description, level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+roleColumns,
		role.ID, role.Name, role.DisplayName, role.Description, role.Level, role.CreatedAt, role.UpdatedAt)
	if err != nil {
		return Role{}, mapErr(err)
	}
	out, err := pgx.CollectExactlyOneRow(rows, scanRole)
	return out, mapErr(err)
}

func (r *Repository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE roles AS r
		SET display_name = $2, description = $3, level = $4, updated_at = $5
		WHERE r.id = $1
		RETURNING `+roleColumns,
		role.ID, role.DisplayName, role.Description, role.Level, role.UpdatedAt)
	if err != nil {
		return Role{}, err
	}
	out, err := pgx.CollectExactlyOneRow(rows, scanRole)
	return out, mapErr(err)
}

func (r *Repository) DeleteRole(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ============================================================================
// PERMISSIONS
// ============================================================================

func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions p ORDER BY p.resource, p.action`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPermission)
}

func (r *Repository) ListPermissionsByResource(ctx context.Context, resource string) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions p WHERE p.resource = $1 ORDER BY p.action`, resource)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPermission)
}

func (r *Repository) GetPermission(ctx context.Context, id string) (Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions p WHERE p.id = $1`, id)
	if err != nil {
		return Permission{}, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPermission)
	return p, mapErr(err)
}

func (r *Repository) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions p WHERE p.name = $1`, NormalizeName(name))
	if err != nil {
		return Permission{}, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPermission)
	return p, mapErr(err)
}

func (r *Repository) UpsertPermission(ctx context.Context, perm Permission) (Permission, error) {
	rows, err := r.pool.Query(ctx, `
		INSERT INTO permissions AS p (id, name, display_name, resource, action, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    description = EXCLUDED.description
		RETURNING `+permissionColumns,
		perm.ID, perm.Name, perm.DisplayName, perm.Resource, perm.Action, perm.Description, perm.CreatedAt)
	if err != nil {
		return Permission{}, err
	}
	out, err := pgx.CollectExactlyOneRow(rows, scanPermission)
	return out, mapErr(err)
}

// ============================================================================
// ROLE BUNDLES
// ============================================================================

func (r *Repository) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+permissionColumns+`
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.resource, p.action`, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPermission)
}

func (r *Repository) RolePermissionNames(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.name
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *Repository) AttachPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2)
		ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionID)
	return mapErr(err)
}

func (r *Repository) ReplaceRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		if len(permissionIDs) == 0 {
			return nil
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1, unnest($2::text[])
			ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionIDs)
		return mapErr(err)
	})
}

// ============================================================================
// GRANTS
// ============================================================================

const roleGrantSelect = `
	SELECT ur.user_id, ur.role_id, ur.assigned_at, ur.assigned_by, ur.expires_at, ` + roleColumns + `
	FROM user_roles ur
	JOIN roles r ON r.id = ur.role_id`

const permissionGrantSelect = `
	SELECT up.user_id, up.permission_id, up.granted_at, up.granted_by, up.expires_at, ` + permissionColumns + `
	FROM user_permissions up
	JOIN permissions p ON p.id = up.permission_id`

func scanRoleAssignment(row pgx.CollectableRow) (RoleAssignment, error) {
	var a RoleAssignment
	err := row.Scan(
		&a.Grant.UserID, &a.Grant.RoleID, &a.Grant.AssignedAt, &a.Grant.AssignedBy, &a.Grant.ExpiresAt,
		&a.Role.ID, &a.Role.Name, &a.Role.DisplayName, &a.Role.Description, &a.Role.Level, &a.Role.CreatedAt, &a.Role.UpdatedAt,
	)
	return a, err
}

func scanPermissionAssignment(row pgx.CollectableRow) (PermissionAssignment, error) {
	var a PermissionAssignment
	err := row.Scan(
		&a.Grant.UserID, &a.Grant.PermissionID, &a.Grant.AssignedAt, &a.Grant.AssignedBy, &a.Grant.ExpiresAt,
		&a.Permission.ID, &a.Permission.Name, &a.Permission.DisplayName, &a.Permission.Resource, &a.Permission.Action,
		&a.Permission.Description, &a.Permission.CreatedAt,
	)
	return a, err
}

func (r *Repository) ActiveRoleGrants(ctx context.Context, userID string, now time.Time) ([]RoleAssignment, error) {
	rows, err := r.pool.Query(ctx, roleGrantSelect+`
		WHERE ur.user_id = $1 AND (ur.expires_at IS NULL OR ur.expires_at > $2)`, userID, now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRoleAssignment)
}

func (r *Repository) ListRoleGrants(ctx context.Context, userID string) ([]RoleAssignment, error) {
	rows, err := r.pool.Query(ctx, roleGrantSelect+`
		WHERE ur.user_id = $1
		ORDER BY r.level DESC, r.name`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRoleAssignment)
}

func (r *Repository) ActivePermissionGrants(ctx context.Context, userID string, now time.Time) ([]PermissionAssignment, error) {
	rows, err := r.pool.Query(ctx, permissionGrantSelect+`
		WHERE up.user_id = $1 AND (up.expires_at IS NULL OR up.expires_at > $2)`, userID, now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPermissionAssignment)
}

func (r *Repository) ListPermissionGrants(ctx context.Context, userID string) ([]PermissionAssignment, error) {
	rows, err := r.pool.Query(ctx, permissionGrantSelect+`
		WHERE up.user_id = $1
		ORDER BY p.resource, p.action`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPermissionAssignment)
}

func (r *Repository) UpsertRoleGrant(ctx context.Context, g UserRoleGrant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id, assigned_at, assigned_by, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, role_id) DO UPDATE
		SET assigned_at = EXCLUDED.assigned_at,
		    assigned_by = EXCLUDED.assigned_by,
		    expires_at = EXCLUDED.expires_at`,
		g.UserID, g.RoleID, g.AssignedAt, g.AssignedBy, g.ExpiresAt)
	return mapErr(err)
}

func (r *Repository) DeleteRoleGrant(ctx context.Context, userID, roleID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) UpsertPermissionGrant(ctx context.Context, g UserPermissionGrant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_permissions (user_id, permission_id, granted_at, granted_by, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, permission_id) DO UPDATE
		SET granted_at = EXCLUDED.granted_at,
		    granted_by = EXCLUDED.granted_by,
		    expires_at = EXCLUDED.expires_at`,
		g.UserID, g.PermissionID, g.AssignedAt, g.AssignedBy, g.ExpiresAt)
	return mapErr(err)
}

func (r *Repository) DeletePermissionGrant(ctx context.Context, userID, permissionID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`, userID, permissionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) DeleteExpiredGrants(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE expires_at IS NOT NULL AND expires_at < $1`, cutoff)
		if err != nil {
			return err
		}
		total += tag.RowsAffected()
		tag, err = tx.Exec(ctx, `DELETE FROM user_permissions WHERE expires_at IS NOT NULL AND expires_at < $1`, cutoff)
		if err != nil {
			return err
		}
		total += tag.RowsAffected()
		return nil
	})
	return total, err
}
