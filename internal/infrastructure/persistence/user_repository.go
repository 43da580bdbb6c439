package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/nexuscrm/tablekit/internal/domain/schema"
	"github.com/nexuscrm/tablekit/pkg/query"
)

// UserRepository manages role assignments of users. Users themselves live
// with the identity provider; only their ids are stored here.
type UserRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

// UserRolesTableDefinition is the schema of the user_roles table
func UserRolesTableDefinition() schema.TableDefinition {
	return schema.TableDefinition{
		TableName: TableUserRoles,
		Columns: []schema.ColumnDefinition{
			{Name: "user_id", Type: schema.TypeID},
			{Name: "role_id", Type: schema.TypeID},
			{Name: "granted_at", Type: schema.TypeDateTime},
		},
		PrimaryKey: []string{"user_id", "role_id"},
		Indices:    []schema.IndexDefinition{{Columns: []string{"role_id"}}},
	}
}

// HasRole reports whether userID is assigned roleID
func (r *UserRepository) HasRole(ctx context.Context, userID, roleID string) (bool, error) {
	var exists bool
	q := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE user_id = ? AND role_id = ?)", TableUserRoles)
	if err := executorFor(ctx, r.db).QueryRowContext(ctx, q, userID, roleID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// GrantRole assigns roleID to userID. Granting a role twice is a no-op.
func (r *UserRepository) GrantRole(ctx context.Context, userID, roleID string) error {
	exists, err := r.HasRole(ctx, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to grant role %s: %w", roleID, err)
	}
	if exists {
		return nil
	}

	q, err := query.Insert(TableUserRoles, map[string]interface{}{
		"user_id":    userID,
		"role_id":    roleID,
		"granted_at": r.now().UTC(),
	}).Build()
	if err != nil {
		return err
	}
	if _, err := executorFor(ctx, r.db).ExecContext(ctx, q.SQL, q.Params...); err != nil {
		return fmt.Errorf("failed to grant role %s: %w", roleID, err)
	}
	return nil
}

// RevokeRole removes roleID from userID
func (r *UserRepository) RevokeRole(ctx context.Context, userID, roleID string) error {
	q, err := query.Delete(TableUserRoles).
		Where(sq.Eq{"user_id": userID, "role_id": roleID}).
		Build()
	if err != nil {
		return err
	}
	if _, err := executorFor(ctx, r.db).ExecContext(ctx, q.SQL, q.Params...); err != nil {
		return fmt.Errorf("failed to revoke role %s: %w", roleID, err)
	}
	return nil
}

// RolesOf lists the role ids assigned to userID, sorted
func (r *UserRepository) RolesOf(ctx context.Context, userID string) ([]string, error) {
	q, err := query.From(TableUserRoles).
		Select([]string{"role_id"}).
		Where(sq.Eq{"user_id": userID}).
		OrderBy("role_id", false).
		Build()
	if err != nil {
		return nil, err
	}

	rows, err := executorFor(ctx, r.db).QueryContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		roles = append(roles, id)
	}
	return roles, rows.Err()
}
