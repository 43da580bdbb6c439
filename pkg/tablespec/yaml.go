package tablespec

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/nexuscrm/tablekit/pkg/visibility"
)

// Document is the YAML form of a set of table descriptors
type Document struct {
	Tables []TableDocument `yaml:"tables"`
}

type TableDocument struct {
	Name            string             `yaml:"name"`
	Label           string             `yaml:"label"`
	PrimaryKey      string             `yaml:"primary_key"`
	AdminPermission string             `yaml:"admin_permission"`
	UserPermission  string             `yaml:"user_permission"`
	Lockable        bool               `yaml:"lockable"`
	Visibility      visibility.Columns `yaml:"visibility"`
	Timestamps      Timestamps         `yaml:"timestamps"`
	Columns         []ColumnDocument   `yaml:"columns"`
	Params          []Param            `yaml:"params"`
	Rules           []Rule             `yaml:"rules"`
}

type ColumnDocument struct {
	Name      string   `yaml:"name"`
	Label     string   `yaml:"label"`
	Kind      Kind     `yaml:"kind"`
	Flags     []string `yaml:"flags"`
	Default   any      `yaml:"default"`
	MaxLength int      `yaml:"max_length"`
	Values    []string `yaml:"values"`
	Target    string   `yaml:"target"`
	Join      JoinSpec `yaml:"join"`
}

var flagOptions = map[string]Option{
	"queryable":  Queryable(),
	"insertable": Insertable(),
	"editable":   Editable(),
	"mutable":    Mutable(),
	"searchable": Searchable(),
	"required":   Required(),
	"admin_only": AdminOnly(),
}

// Column converts the document into a Column
func (d ColumnDocument) Column() (Column, error) {
	opts := make([]Option, 0, len(d.Flags)+3)
	for _, flag := range d.Flags {
		opt, ok := flagOptions[flag]
		if !ok {
			return Column{}, fmt.Errorf("column %s: unknown flag %q", d.Name, flag)
		}
		opts = append(opts, opt)
	}
	if d.Label != "" {
		opts = append(opts, Label(d.Label))
	}
	if d.Default != nil {
		opts = append(opts, Default(d.Default))
	}
	if d.MaxLength > 0 {
		opts = append(opts, MaxLength(d.MaxLength))
	}

	switch d.Kind {
	case KindPrimaryKey:
		return PrimaryKey(d.Name, opts...), nil
	case KindConstEnum:
		return Enum(d.Name, d.Values, opts...), nil
	case KindForeignSingle:
		return ForeignKey(d.Name, d.Target, opts...), nil
	case KindTagsMany:
		return Tags(d.Name, d.Target, d.Join, opts...), nil
	default:
		return newColumn(d.Name, d.Kind, opts), nil
	}
}

// Definition converts the document into a Definition
func (d TableDocument) Definition() (Definition, error) {
	def := Definition{
		Name:            d.Name,
		Label:           d.Label,
		PrimaryKey:      d.PrimaryKey,
		Params:          d.Params,
		Visibility:      d.Visibility,
		Timestamps:      d.Timestamps,
		Rules:           d.Rules,
		AdminPermission: d.AdminPermission,
		UserPermission:  d.UserPermission,
		Lockable:        d.Lockable,
	}
	if def.PrimaryKey == "" {
		def.PrimaryKey = "id"
	}
	for _, cd := range d.Columns {
		col, err := cd.Column()
		if err != nil {
			return Definition{}, fmt.Errorf("table %s: %w", d.Name, err)
		}
		def.Columns = append(def.Columns, col)
	}
	return def, nil
}

// LoadYAML decodes table descriptors from r and builds them
func LoadYAML(r io.Reader) ([]*TableSpec, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode table descriptors: %w", err)
	}

	specs := make([]*TableSpec, 0, len(doc.Tables))
	for _, td := range doc.Tables {
		def, err := td.Definition()
		if err != nil {
			return nil, err
		}
		ts, err := NewTableSpec(def)
		if err != nil {
			return nil, err
		}
		specs = append(specs, ts)
	}
	return specs, nil
}
