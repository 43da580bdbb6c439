package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nexuscrm/tablekit/internal/domain/schema"
	"github.com/nexuscrm/tablekit/internal/infrastructure/database"
	"github.com/nexuscrm/tablekit/internal/infrastructure/persistence"
	"github.com/nexuscrm/tablekit/pkg/expression"
	"github.com/nexuscrm/tablekit/pkg/logger"
	"github.com/nexuscrm/tablekit/pkg/store"
	"github.com/nexuscrm/tablekit/pkg/tablespec"
	"github.com/nexuscrm/tablekit/pkg/visibility"
)

var (
	alice = &visibility.User{ID: "alice", Name: "Alice"}
	bob   = &visibility.User{ID: "bob", Name: "Bob"}
	root  = &visibility.User{ID: "root", Name: "Root"}
)

type mockPermissions struct {
	mock.Mock
}

func (m *mockPermissions) HasPermission(ctx context.Context, user *visibility.User, permission string) (bool, error) {
	args := m.Called(ctx, user, permission)
	return args.Bool(0), args.Error(1)
}

func allowAll() *mockPermissions {
	m := &mockPermissions{}
	m.On("HasPermission", mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Maybe()
	return m
}

func eventsSpec() *tablespec.TableSpec {
	return tablespec.MustTableSpec(tablespec.Definition{
		Name:       "events",
		PrimaryKey: "id",
		Columns: []tablespec.Column{
			tablespec.PrimaryKey("id"),
			tablespec.String("title", tablespec.Searchable(), tablespec.Mutable(), tablespec.Required(), tablespec.MaxLength(120)),
			tablespec.String("venue", tablespec.Searchable(), tablespec.Mutable()),
			tablespec.Enum("permission", []string{"public", "member", "private"}, tablespec.Queryable(), tablespec.Mutable(), tablespec.Default("private")),
			tablespec.ForeignKey("owner_id", "users", tablespec.Queryable()),
			tablespec.Bool("is_deleted"),
			tablespec.Int("capacity", tablespec.Queryable(), tablespec.Mutable()),
			tablespec.Bool("featured", tablespec.Mutable(), tablespec.AdminOnly(), tablespec.Default(false)),
			tablespec.Date("created_at", tablespec.Queryable()),
			tablespec.Date("updated_at"),
			tablespec.Tags("tags", "tags", tablespec.JoinSpec{Table: "event_tags", Source: "event_id", Target: "tag_id"},
				tablespec.Queryable(), tablespec.Mutable()),
		},
		Params: []tablespec.Param{
			{Name: "tag", Column: "tags", Operator: tablespec.OpEquals},
			{Name: "min_capacity", Column: "capacity", Operator: tablespec.OpGte},
		},
		Visibility: visibility.Columns{Permission: "permission", Owner: "owner_id", Deleted: "is_deleted"},
		Timestamps: tablespec.Timestamps{Created: "created_at", Updated: "updated_at"},
		Rules: []tablespec.Rule{
			{Name: "capacity_positive", Field: "capacity", Condition: "capacity != nil && capacity < 0", Message: "must not be negative"},
		},
	})
}

func pagesSpec() *tablespec.TableSpec {
	return tablespec.MustTableSpec(tablespec.Definition{
		Name:       "pages",
		PrimaryKey: "id",
		Columns: []tablespec.Column{
			tablespec.PrimaryKey("id"),
			tablespec.String("title", tablespec.Searchable(), tablespec.Mutable(), tablespec.Required()),
			tablespec.String("body", tablespec.Mutable(), tablespec.MaxLength(4000)),
		},
		Lockable: true,
	})
}

// failingAccessor wraps an accessor and fails the operations that have an
// error set
type failingAccessor struct {
	store.Accessor
	countErr  error
	createErr error
}

func (f *failingAccessor) Count(ctx context.Context, where sq.Sqlizer) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.Accessor.Count(ctx, where)
}

func (f *failingAccessor) Create(ctx context.Context, rows ...store.Row) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.Accessor.Create(ctx, rows...)
}

var errInjected = errors.New("injected failure")

type testEnv struct {
	conn      *database.Connection
	events    *tablespec.Entity
	pages     *tablespec.Entity
	perms     *mockPermissions
	audit     *persistence.AuditRepository
	locks     *persistence.LockRepository
	queries   *QueryService
	mutations *MutationService
	lockSvc   *LockService
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, allowAll())
}

func newTestEnvWith(t *testing.T, perms *mockPermissions) *testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	schemas := persistence.NewSchemaRepository(conn.DB(), conn.Dialect())
	defs := []schema.TableDefinition{persistence.AuditTableDefinition(), persistence.LockTableDefinition()}
	for _, spec := range []*tablespec.TableSpec{eventsSpec(), pagesSpec()} {
		defs = append(defs, persistence.DefinitionsFromSpec(spec)...)
	}
	for _, def := range defs {
		require.NoError(t, schemas.CreatePhysicalTable(ctx, def))
	}

	events, err := persistence.NewEntity(conn, eventsSpec())
	require.NoError(t, err)
	pages, err := persistence.NewEntity(conn, pagesSpec())
	require.NoError(t, err)

	log := logger.NewNoopLogger()
	env := &testEnv{
		conn:   conn,
		events: events,
		pages:  pages,
		perms:  perms,
		audit:  persistence.NewAuditRepository(conn.DB()),
		locks:  persistence.NewLockRepository(conn.DB(), conn.Dialect()),
	}
	env.queries = NewQueryService(perms, env.audit, log, 1000)
	env.mutations = NewMutationService(persistence.NewTransactionManager(conn.DB()), perms, env.audit, env.locks, expression.NewEngine(), log)
	env.lockSvc = NewLockService(env.locks, perms, log, time.Minute)
	return env
}

// withAccessor returns a copy of entity served through wrap
func withAccessor(t *testing.T, entity *tablespec.Entity, accessor store.Accessor, joins map[string]store.Accessor) *tablespec.Entity {
	t.Helper()
	if joins == nil {
		joins = map[string]store.Accessor{}
		for _, col := range entity.Spec.TagColumns() {
			join, err := entity.Join(col.Name)
			require.NoError(t, err)
			joins[col.Name] = join
		}
	}
	e, err := tablespec.NewEntity(entity.Spec, accessor, joins)
	require.NoError(t, err)
	return e
}

// insert creates a row as user and returns its id
func (env *testEnv) insert(t *testing.T, entity *tablespec.Entity, user *visibility.User, values map[string]any) string {
	t.Helper()
	res, err := env.mutations.Mutate(context.Background(), entity, Operation{Action: "insert", Values: values}, visibility.ForUser(user))
	require.NoError(t, err)
	return res.ID
}
