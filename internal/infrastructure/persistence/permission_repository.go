package persistence

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// WildcardPermission granted to a role satisfies every permission check
const WildcardPermission = "*"

// PermissionRepository answers permission checks from role assignments.
// A user holds a permission when one of the user's roles links it (or the
// wildcard) in role_permissions.
type PermissionRepository struct {
	db *sql.DB
}

// NewPermissionRepository creates a new PermissionRepository
func NewPermissionRepository(db *sql.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// HasPermission reports whether userID holds permission through any role
func (r *PermissionRepository) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	stmt, args, err := sq.Select("COUNT(*)").
		From(TableUserRoles + " ur").
		Join(TableRolePermissions + " rp ON rp.role_id = ur.role_id").
		Where(sq.Eq{
			"ur.user_id":       userID,
			"rp.permission_id": []string{permission, WildcardPermission},
		}).
		ToSql()
	if err != nil {
		return false, err
	}

	var n int64
	if err := executorFor(ctx, r.db).QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check permission %s: %w", permission, err)
	}
	return n > 0, nil
}

// PermissionsOf lists the distinct permissions userID holds, sorted
func (r *PermissionRepository) PermissionsOf(ctx context.Context, userID string) ([]string, error) {
	stmt, args, err := sq.Select("DISTINCT rp.permission_id").
		From(TableUserRoles + " ur").
		Join(TableRolePermissions + " rp ON rp.role_id = ur.role_id").
		Where(sq.Eq{"ur.user_id": userID}).
		OrderBy("rp.permission_id").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := executorFor(ctx, r.db).QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
