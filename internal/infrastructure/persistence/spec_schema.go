package persistence

import (
	"github.com/nexuscrm/tablekit/internal/domain/schema"
	"github.com/nexuscrm/tablekit/internal/infrastructure/database"
	"github.com/nexuscrm/tablekit/pkg/store"
	"github.com/nexuscrm/tablekit/pkg/tablespec"
)

const defaultStringLength = 255

// DefinitionsFromSpec derives the physical tables of spec: the table itself
// followed by one join table per tagsMany column. Queryable columns and the
// visibility columns are indexed.
func DefinitionsFromSpec(spec *tablespec.TableSpec) []schema.TableDefinition {
	main := schema.TableDefinition{
		TableName:  spec.Name(),
		PrimaryKey: []string{spec.PrimaryKey()},
	}
	indexed := map[string]bool{}
	vis := spec.Visibility()
	for _, name := range []string{vis.Permission, vis.Owner, vis.Deleted} {
		if name != "" {
			indexed[name] = true
		}
	}

	defs := []schema.TableDefinition{}
	for _, col := range spec.Columns() {
		if col.Kind == tablespec.KindTagsMany {
			defs = append(defs, joinDefinition(col.Join))
			continue
		}
		main.Columns = append(main.Columns, columnDefinition(spec, col))
		if col.Name != spec.PrimaryKey() && (indexed[col.Name] || (col.Queryable && col.Kind != tablespec.KindString)) {
			main.Indices = append(main.Indices, schema.IndexDefinition{Columns: []string{col.Name}})
		}
	}
	return append([]schema.TableDefinition{main}, defs...)
}

func columnDefinition(spec *tablespec.TableSpec, col tablespec.Column) schema.ColumnDefinition {
	def := schema.ColumnDefinition{
		Name:     col.Name,
		Nullable: !col.Required && col.Name != spec.PrimaryKey(),
	}
	switch col.Kind {
	case tablespec.KindPrimaryKey, tablespec.KindForeignSingle:
		def.Type = schema.TypeID
	case tablespec.KindInt:
		def.Type = schema.TypeInt
	case tablespec.KindBool:
		def.Type = schema.TypeBool
	case tablespec.KindDate:
		def.Type = schema.TypeDateTime
	case tablespec.KindColor:
		def.Type, def.Length = schema.TypeString, 7
	case tablespec.KindIcon, tablespec.KindConstEnum:
		def.Type, def.Length = schema.TypeString, 64
	default:
		def.Type, def.Length = schema.TypeString, defaultStringLength
		if col.MaxLength > defaultStringLength {
			def.Type, def.Length = schema.TypeText, 0
		} else if col.MaxLength > 0 {
			def.Length = col.MaxLength
		}
	}
	return def
}

func joinDefinition(join tablespec.JoinSpec) schema.TableDefinition {
	return schema.TableDefinition{
		TableName: join.Table,
		Columns: []schema.ColumnDefinition{
			{Name: join.Source, Type: schema.TypeID},
			{Name: join.Target, Type: schema.TypeID},
		},
		PrimaryKey: []string{join.Source, join.Target},
		Indices:    []schema.IndexDefinition{{Columns: []string{join.Target}}},
	}
}

// NewEntity builds the registry entity of spec over SQL accessors
func NewEntity(conn *database.Connection, spec *tablespec.TableSpec) (*tablespec.Entity, error) {
	accessor := NewRecordRepository(conn.DB(), conn.Dialect(), spec.Name(), spec.StoredColumnNames())
	joins := make(map[string]store.Accessor)
	for _, col := range spec.TagColumns() {
		joins[col.Name] = NewRecordRepository(conn.DB(), conn.Dialect(), col.Join.Table, []string{col.Join.Source, col.Join.Target})
	}
	return tablespec.NewEntity(spec, accessor, joins)
}
