package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nexuscrm/tablekit/internal/domain/schema"
	"github.com/nexuscrm/tablekit/internal/infrastructure/database"
)

// SchemaRepository handles direct database schema operations (DDL)
type SchemaRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSchemaRepository creates a new SchemaRepository
func NewSchemaRepository(db *sql.DB, dialect database.Dialect) *SchemaRepository {
	return &SchemaRepository{db: db, dialect: dialect}
}

// CreatePhysicalTable creates the table and its indexes if they do not exist
func (r *SchemaRepository) CreatePhysicalTable(ctx context.Context, def schema.TableDefinition) error {
	stmts, err := r.BuildCreateTable(def)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table %s: %w", def.TableName, err)
		}
	}
	return nil
}

// BuildCreateTable renders the DDL statements of def. On MySQL indexes are
// declared inline; SQLite needs separate CREATE INDEX statements.
func (r *SchemaRepository) BuildCreateTable(def schema.TableDefinition) ([]string, error) {
	if len(def.Columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", def.TableName)
	}
	if len(def.PrimaryKey) == 0 {
		return nil, fmt.Errorf("table %s has no primary key", def.TableName)
	}

	lines := make([]string, 0, len(def.Columns)+len(def.Indices)+1)
	for _, col := range def.Columns {
		line, err := r.buildColumnDDL(col)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", def.TableName, err)
		}
		lines = append(lines, line)
	}
	lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", quoteList(def.PrimaryKey)))

	var after []string
	for _, idx := range def.Indices {
		name := indexName(def.TableName, idx)
		if r.dialect.Name == database.MySQL.Name {
			kw := "KEY"
			if idx.Unique {
				kw = "UNIQUE KEY"
			}
			lines = append(lines, fmt.Sprintf("%s `%s` (%s)", kw, name, quoteList(idx.Columns)))
			continue
		}
		kw := "INDEX"
		if idx.Unique {
			kw = "UNIQUE INDEX"
		}
		after = append(after, fmt.Sprintf("CREATE %s IF NOT EXISTS `%s` ON `%s` (%s)", kw, name, def.TableName, quoteList(idx.Columns)))
	}

	var ddl strings.Builder
	ddl.WriteString(fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` (\n  ", def.TableName))
	ddl.WriteString(strings.Join(lines, ",\n  "))
	ddl.WriteString("\n)")
	if r.dialect.Name == database.MySQL.Name {
		ddl.WriteString(" " + mysqlTableOptions)
	}

	return append([]string{ddl.String()}, after...), nil
}

// TableExists reports whether a table exists in the connected database
func (r *SchemaRepository) TableExists(ctx context.Context, name string) (bool, error) {
	q := "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	if r.dialect.Name == database.MySQL.Name {
		q = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	}
	var n int
	if err := r.db.QueryRowContext(ctx, q, name).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return n > 0, nil
}

// DropTable drops a table if it exists
func (r *SchemaRepository) DropTable(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS `%s`", name)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", name, err)
	}
	return nil
}

func (r *SchemaRepository) buildColumnDDL(col schema.ColumnDefinition) (string, error) {
	sqlType, err := r.MapTypeToSQL(col)
	if err != nil {
		return "", err
	}
	ddl := fmt.Sprintf("`%s` %s", col.Name, sqlType)
	if !col.Nullable {
		ddl += " NOT NULL"
	}
	if col.Default != "" {
		ddl += " DEFAULT " + col.Default
	}
	return ddl, nil
}

// MapTypeToSQL converts a logical column type to the dialect's SQL type
func (r *SchemaRepository) MapTypeToSQL(col schema.ColumnDefinition) (string, error) {
	mysql := r.dialect.Name == database.MySQL.Name
	switch col.Type {
	case schema.TypeID:
		return SQLTypeVarchar64, nil
	case schema.TypeString:
		if col.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", col.Length), nil
		}
		return SQLTypeText, nil
	case schema.TypeText:
		if mysql {
			return SQLTypeLongText, nil
		}
		return SQLTypeText, nil
	case schema.TypeInt:
		if mysql {
			return SQLTypeBigInt, nil
		}
		return SQLTypeInteger, nil
	case schema.TypeBool:
		return SQLTypeBoolean, nil
	case schema.TypeDateTime:
		if mysql {
			return SQLTypeDateTime6, nil
		}
		return SQLTypeDateTime, nil
	case schema.TypeJSON:
		if mysql {
			return SQLTypeJSON, nil
		}
		return SQLTypeText, nil
	}
	return "", fmt.Errorf("column %s: unknown type %q", col.Name, col.Type)
}

func indexName(table string, idx schema.IndexDefinition) string {
	if idx.Name != "" {
		return idx.Name
	}
	prefix := "idx"
	if idx.Unique {
		prefix = "uq"
	}
	return prefix + "_" + table + "_" + strings.Join(idx.Columns, "_")
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "`" + n + "`"
	}
	return strings.Join(quoted, ", ")
}
