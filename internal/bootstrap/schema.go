package bootstrap

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/nexuscrm/tablekit/internal/domain/schema"
	"github.com/nexuscrm/tablekit/internal/infrastructure/database"
	"github.com/nexuscrm/tablekit/internal/infrastructure/persistence"
	"github.com/nexuscrm/tablekit/pkg/logger"
	"github.com/nexuscrm/tablekit/pkg/tablespec"
)

// TableDefinitions returns the system tables followed by the tables of every
// spec. A join table shared by two specs is listed once.
func TableDefinitions(specs []*tablespec.TableSpec) []schema.TableDefinition {
	defs := SystemTableDefinitions()
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		seen[def.TableName] = true
	}
	for _, spec := range specs {
		for _, def := range persistence.DefinitionsFromSpec(spec) {
			if seen[def.TableName] {
				continue
			}
			seen[def.TableName] = true
			defs = append(defs, def)
		}
	}
	return defs
}

// EnsureSchema creates every missing table. Existing tables are left as they
// are; columns are never altered or dropped.
func EnsureSchema(ctx context.Context, conn *database.Connection, specs []*tablespec.TableSpec, log logger.Logger) error {
	repo := persistence.NewSchemaRepository(conn.DB(), conn.Dialect())
	defs := TableDefinitions(specs)

	// SQLite serializes writers anyway
	workers := 4
	if conn.Dialect() == database.SQLite {
		workers = 1
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(workers)
	for _, def := range defs {
		def := def
		p.Go(func(ctx context.Context) error {
			if err := repo.CreatePhysicalTable(ctx, def); err != nil {
				return fmt.Errorf("create table %s: %w", def.TableName, err)
			}
			log.Debug("table ensured", zap.String("table", def.TableName))
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}
	log.Info("schema ensured", zap.Int("tables", len(defs)), zap.String("dialect", conn.Dialect().Name))
	return nil
}
