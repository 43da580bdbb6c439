package bootstrap

import (
	"context"
	_ "embed"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nexuscrm/tablekit/internal/infrastructure/database"
	"github.com/nexuscrm/tablekit/internal/infrastructure/persistence"
	"github.com/nexuscrm/tablekit/pkg/changeplan"
	"github.com/nexuscrm/tablekit/pkg/logger"
	"github.com/nexuscrm/tablekit/pkg/store"
	"github.com/nexuscrm/tablekit/pkg/tablespec"
)

//go:embed system_data.yaml
var systemDataYAML []byte

// AdminRole is granted to the users named at startup
const AdminRole = "admin"

type SystemData struct {
	Roles []struct {
		ID          string   `yaml:"id"`
		Name        string   `yaml:"name"`
		Permissions []string `yaml:"permissions"`
	} `yaml:"roles"`
}

// SeedSystemData ensures the permission rows, the seeded roles and their
// permissions exist, and grants the admin role to adminUsers. It runs in one
// transaction and only ever adds rows.
func SeedSystemData(ctx context.Context, conn *database.Connection, registry *tablespec.Registry, adminUsers []string, log logger.Logger) error {
	var data SystemData
	if err := yaml.Unmarshal(systemDataYAML, &data); err != nil {
		return fmt.Errorf("failed to parse system_data.yaml: %w", err)
	}

	permissions, err := registry.Entity("permissions")
	if err != nil {
		return err
	}
	roles, err := registry.Entity("roles")
	if err != nil {
		return err
	}
	rolePerms, err := roles.Spec.GetColumn("permissions")
	if err != nil {
		return err
	}
	join, err := roles.Join(rolePerms.Name)
	if err != nil {
		return err
	}

	specs := make([]*tablespec.TableSpec, 0, len(registry.Tables()))
	for _, name := range registry.Tables() {
		entity, err := registry.Entity(name)
		if err != nil {
			return err
		}
		specs = append(specs, entity.Spec)
	}

	users := persistence.NewUserRepository(conn.DB())
	tm := persistence.NewTransactionManager(conn.DB())
	return tm.WithTransaction(ctx, func(ctx context.Context) error {
		added := 0
		for _, perm := range RequiredPermissions(specs) {
			ok, err := ensureRow(ctx, permissions, store.Row{"id": perm, "description": describePermission(perm)})
			if err != nil {
				return err
			}
			if ok {
				added++
			}
		}

		for _, role := range data.Roles {
			if _, err := ensureRow(ctx, roles, store.Row{"id": role.ID, "name": role.Name}); err != nil {
				return err
			}
			current, err := rolePerms.LinkedIDs(ctx, join, role.ID)
			if err != nil {
				return err
			}
			plan := changeplan.Comparable(current, append(current, role.Permissions...))
			if err := rolePerms.Apply(ctx, join, role.ID, plan.Create, nil); err != nil {
				return err
			}
		}

		for _, userID := range adminUsers {
			if err := users.GrantRole(ctx, userID, AdminRole); err != nil {
				return err
			}
			log.Info("admin role granted", zap.String("user", userID))
		}

		log.Info("system data ensured", zap.Int("permissions_added", added), zap.Int("roles", len(data.Roles)))
		return nil
	})
}

// ensureRow creates row unless a row with its primary key exists
func ensureRow(ctx context.Context, entity *tablespec.Entity, row store.Row) (bool, error) {
	pk := entity.Spec.PrimaryKey()
	n, err := entity.Accessor.Count(ctx, sq.Eq{pk: row[pk]})
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if err := entity.Accessor.Create(ctx, row); err != nil {
		return false, fmt.Errorf("seed %s/%v: %w", entity.Name(), row[pk], err)
	}
	return true, nil
}

func describePermission(perm string) string {
	if perm == persistence.WildcardPermission {
		return "Every permission"
	}
	return "Grants " + perm
}
