package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexuscrm/tablekit/internal/domain/schema"
	"github.com/nexuscrm/tablekit/internal/infrastructure/database"
)

// openSQLite opens a throwaway SQLite database with the given tables created
func openSQLite(t *testing.T, defs ...schema.TableDefinition) *database.Connection {
	t.Helper()
	ctx := context.Background()
	conn, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	repo := NewSchemaRepository(conn.DB(), conn.Dialect())
	for _, def := range defs {
		require.NoError(t, repo.CreatePhysicalTable(ctx, def))
	}
	return conn
}
