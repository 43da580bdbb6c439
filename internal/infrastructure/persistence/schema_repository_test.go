package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscrm/tablekit/internal/domain/schema"
	"github.com/nexuscrm/tablekit/internal/infrastructure/database"
)

var eventTagsDefinition = schema.TableDefinition{
	TableName: "event_tags",
	Columns: []schema.ColumnDefinition{
		{Name: "event_id", Type: schema.TypeID},
		{Name: "tag_id", Type: schema.TypeID},
		{Name: "note", Type: schema.TypeString, Length: 80, Nullable: true},
		{Name: "weight", Type: schema.TypeInt, Default: "0"},
	},
	PrimaryKey: []string{"event_id", "tag_id"},
	Indices:    []schema.IndexDefinition{{Columns: []string{"tag_id"}}},
}

func TestBuildCreateTableMySQL(t *testing.T) {
	repo := NewSchemaRepository(nil, database.MySQL)

	stmts, err := repo.BuildCreateTable(eventTagsDefinition)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS `event_tags` (\n"+
		"  `event_id` VARCHAR(64) NOT NULL,\n"+
		"  `tag_id` VARCHAR(64) NOT NULL,\n"+
		"  `note` VARCHAR(80),\n"+
		"  `weight` BIGINT NOT NULL DEFAULT 0,\n"+
		"  PRIMARY KEY (`event_id`, `tag_id`),\n"+
		"  KEY `idx_event_tags_tag_id` (`tag_id`)\n"+
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci", stmts[0])
}

func TestBuildCreateTableSQLite(t *testing.T) {
	repo := NewSchemaRepository(nil, database.SQLite)

	stmts, err := repo.BuildCreateTable(eventTagsDefinition)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "`weight` INTEGER NOT NULL DEFAULT 0")
	assert.NotContains(t, stmts[0], "ENGINE")
	assert.Equal(t, "CREATE INDEX IF NOT EXISTS `idx_event_tags_tag_id` ON `event_tags` (`tag_id`)", stmts[1])
}

func TestBuildCreateTableRejectsBadDefinitions(t *testing.T) {
	repo := NewSchemaRepository(nil, database.SQLite)

	_, err := repo.BuildCreateTable(schema.TableDefinition{TableName: "empty"})
	assert.Error(t, err)

	_, err = repo.BuildCreateTable(schema.TableDefinition{
		TableName: "nopk",
		Columns:   []schema.ColumnDefinition{{Name: "id", Type: schema.TypeID}},
	})
	assert.Error(t, err)

	_, err = repo.BuildCreateTable(schema.TableDefinition{
		TableName:  "badtype",
		Columns:    []schema.ColumnDefinition{{Name: "id", Type: "uuid"}},
		PrimaryKey: []string{"id"},
	})
	assert.Error(t, err)
}

func TestCreatePhysicalTableIsIdempotent(t *testing.T) {
	conn := openSQLite(t, eventTagsDefinition)
	repo := NewSchemaRepository(conn.DB(), conn.Dialect())
	ctx := context.Background()

	require.NoError(t, repo.CreatePhysicalTable(ctx, eventTagsDefinition))

	exists, err := repo.TableExists(ctx, "event_tags")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, repo.DropTable(ctx, "event_tags"))
	exists, err = repo.TableExists(ctx, "event_tags")
	require.NoError(t, err)
	assert.False(t, exists)
}
