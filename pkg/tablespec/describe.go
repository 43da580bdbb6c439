package tablespec

import "github.com/nexuscrm/tablekit/pkg/visibility"

// Description is the capability introspection of a table that clients use
// to build forms and filters
type Description struct {
	Table      string              `json:"table" yaml:"table"`
	Label      string              `json:"label" yaml:"label"`
	PrimaryKey string              `json:"primaryKey" yaml:"primary_key"`
	Columns    []ColumnDescription `json:"columns" yaml:"columns"`
	Params     []Param             `json:"params" yaml:"params"`
	Visibility visibility.Columns  `json:"visibility" yaml:"visibility"`
	Lockable   bool                `json:"lockable" yaml:"lockable"`
}

type ColumnDescription struct {
	Name       string     `json:"name" yaml:"name"`
	Label      string     `json:"label" yaml:"label"`
	Kind       string     `json:"kind" yaml:"kind"`
	Variant    string     `json:"variant" yaml:"variant"`
	Queryable  bool       `json:"queryable" yaml:"queryable"`
	Insertable bool       `json:"insertable" yaml:"insertable"`
	Editable   bool       `json:"editable" yaml:"editable"`
	Searchable bool       `json:"searchable" yaml:"searchable"`
	Required   bool       `json:"required" yaml:"required"`
	AdminOnly  bool       `json:"adminOnly" yaml:"admin_only"`
	Operators  []Operator `json:"operators" yaml:"operators"`
	EnumValues []string   `json:"enumValues,omitempty" yaml:"enum_values,omitempty"`
	Target     string     `json:"target,omitempty" yaml:"target,omitempty"`
	Default    any        `json:"default,omitempty" yaml:"default,omitempty"`
}

// Describe returns the table's capabilities
func (ts *TableSpec) Describe() Description {
	d := Description{
		Table:      ts.name,
		Label:      ts.label,
		PrimaryKey: ts.primaryKey,
		Columns:    make([]ColumnDescription, 0, len(ts.columns)),
		Params:     ts.Params(),
		Visibility: ts.visibility,
		Lockable:   ts.lockable,
	}
	if d.Params == nil {
		d.Params = []Param{}
	}
	for _, c := range ts.columns {
		d.Columns = append(d.Columns, ColumnDescription{
			Name:       c.Name,
			Label:      c.Label,
			Kind:       c.Kind.String(),
			Variant:    c.Kind.Variant(),
			Queryable:  c.Queryable,
			Insertable: c.Insertable,
			Editable:   c.Editable,
			Searchable: c.Searchable,
			Required:   c.Required,
			AdminOnly:  c.AdminOnly,
			Operators:  c.Kind.Operators(),
			EnumValues: append([]string(nil), c.EnumValues...),
			Target:     c.Target,
			Default:    c.Default,
		})
	}
	return d
}
