package schema

// Logical column types. The schema repository maps them to the SQL type of
// the connected dialect.
const (
	TypeID       = "id"        // VARCHAR(64)
	TypeString   = "string"    // VARCHAR(Length), TEXT when Length is 0
	TypeText     = "text"      // TEXT / LONGTEXT
	TypeInt      = "int"       // BIGINT
	TypeBool     = "bool"      // BOOLEAN
	TypeDateTime = "date_time" // DATETIME(6)
	TypeJSON     = "json"
)

// ColumnDefinition represents a single column in a table
type ColumnDefinition struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Length   int    `json:"length,omitempty"`
	Nullable bool   `json:"nullable,omitempty"`
	Default  string `json:"default,omitempty"` // SQL literal
}

// IndexDefinition represents an index on a table
type IndexDefinition struct {
	Name    string   `json:"name,omitempty"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

// TableDefinition represents a complete table schema
type TableDefinition struct {
	TableName  string             `json:"table_name"`
	Columns    []ColumnDefinition `json:"columns"`
	PrimaryKey []string           `json:"primary_key"`
	Indices    []IndexDefinition  `json:"indices,omitempty"`
}

// Column returns the named column definition
func (d TableDefinition) Column(name string) (ColumnDefinition, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDefinition{}, false
}
