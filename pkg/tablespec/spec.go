// Package tablespec holds the declarative table descriptors the engine is
// driven by: columns with their kinds and capabilities, declared filter
// parameters, visibility columns and record rules.
package tablespec

import (
	"fmt"
	"regexp"

	"github.com/nexuscrm/tablekit/pkg/errors"
	"github.com/nexuscrm/tablekit/pkg/visibility"
)

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Param is a named filter parameter a table accepts in tableParams. The
// value supplied by the caller is matched against Column with Operator.
type Param struct {
	Name     string   `yaml:"name" json:"name"`
	Column   string   `yaml:"column" json:"column"`
	Operator Operator `yaml:"operator" json:"operator"`
}

// Rule is a record-level check. Condition is an expression over the merged
// record; when it evaluates to true the record is rejected with Message.
type Rule struct {
	Name      string `yaml:"name" json:"name"`
	Field     string `yaml:"field" json:"field,omitempty"`
	Condition string `yaml:"condition" json:"condition"`
	Message   string `yaml:"message" json:"message"`
}

// Timestamps names the columns stamped on insert and update
type Timestamps struct {
	Created string `yaml:"created" json:"created,omitempty"`
	Updated string `yaml:"updated" json:"updated,omitempty"`
}

// Definition is the input to NewTableSpec
type Definition struct {
	Name            string
	Label           string
	PrimaryKey      string
	Columns         []Column
	Params          []Param
	Visibility      visibility.Columns
	Timestamps      Timestamps
	Rules           []Rule
	AdminPermission string
	UserPermission  string
	Lockable        bool
}

// TableSpec is an immutable table descriptor
type TableSpec struct {
	name            string
	label           string
	primaryKey      string
	columns         []Column
	index           map[string]int
	params          []Param
	paramIndex      map[string]int
	visibility      visibility.Columns
	timestamps      Timestamps
	rules           []Rule
	adminPermission string
	userPermission  string
	lockable        bool
}

// NewTableSpec validates def and builds the descriptor. Every column is
// copied and stamped with the table it belongs to.
func NewTableSpec(def Definition) (*TableSpec, error) {
	if !identifierPattern.MatchString(def.Name) {
		return nil, errors.NewSchemaError(def.Name, "", "table name must be a lower-case identifier")
	}

	ts := &TableSpec{
		name:            def.Name,
		label:           def.Label,
		primaryKey:      def.PrimaryKey,
		columns:         make([]Column, 0, len(def.Columns)),
		index:           make(map[string]int, len(def.Columns)),
		params:          append([]Param(nil), def.Params...),
		paramIndex:      make(map[string]int, len(def.Params)),
		visibility:      def.Visibility,
		timestamps:      def.Timestamps,
		rules:           append([]Rule(nil), def.Rules...),
		adminPermission: def.AdminPermission,
		userPermission:  def.UserPermission,
		lockable:        def.Lockable,
	}
	if ts.label == "" {
		ts.label = def.Name
	}
	if ts.adminPermission == "" {
		ts.adminPermission = def.Name + ".admin"
	}

	for _, col := range def.Columns {
		if err := ts.addColumn(col); err != nil {
			return nil, err
		}
	}
	if err := ts.check(); err != nil {
		return nil, err
	}
	return ts, nil
}

// MustTableSpec is NewTableSpec that panics on error
func MustTableSpec(def Definition) *TableSpec {
	ts, err := NewTableSpec(def)
	if err != nil {
		panic(err)
	}
	return ts
}

func (ts *TableSpec) addColumn(col Column) error {
	if !identifierPattern.MatchString(col.Name) {
		return errors.NewSchemaError(ts.name, col.Name, "column name must be a lower-case identifier")
	}
	if col.Kind >= kindCount {
		return errors.NewSchemaError(ts.name, col.Name, fmt.Sprintf("unknown kind %d", col.Kind))
	}
	if _, dup := ts.index[col.Name]; dup {
		return errors.NewSchemaError(ts.name, col.Name, "duplicate column")
	}

	switch col.Kind {
	case KindConstEnum:
		if len(col.EnumValues) == 0 {
			return errors.NewSchemaError(ts.name, col.Name, "constEnum column needs values")
		}
	case KindForeignSingle:
		if col.Target == "" {
			return errors.NewSchemaError(ts.name, col.Name, "foreignSingle column needs a target table")
		}
	case KindTagsMany:
		if col.Target == "" {
			return errors.NewSchemaError(ts.name, col.Name, "tagsMany column needs a target table")
		}
		for _, ident := range []string{col.Join.Table, col.Join.Source, col.Join.Target} {
			if !identifierPattern.MatchString(ident) {
				return errors.NewSchemaError(ts.name, col.Name, "tagsMany column needs a join table with source and target columns")
			}
		}
	}
	if col.Searchable && !col.Kind.Supports(OpContains) {
		return errors.NewSchemaError(ts.name, col.Name, col.Kind.String()+" columns cannot be searchable")
	}

	col.EnumValues = append([]string(nil), col.EnumValues...)
	col.table = ts.name
	col.tablePK = ts.primaryKey
	if col.Label == "" {
		col.Label = col.Name
	}
	ts.index[col.Name] = len(ts.columns)
	ts.columns = append(ts.columns, col)
	return nil
}

func (ts *TableSpec) check() error {
	pk, err := ts.GetColumn(ts.primaryKey)
	if err != nil {
		return errors.NewSchemaError(ts.name, ts.primaryKey, "primary key column is not declared")
	}
	if pk.Kind != KindPrimaryKey {
		return errors.NewSchemaError(ts.name, ts.primaryKey, "primary key column must have kind primaryKey")
	}
	for _, col := range ts.columns {
		if col.Kind == KindPrimaryKey && col.Name != ts.primaryKey {
			return errors.NewSchemaError(ts.name, col.Name, "only one primaryKey column is allowed")
		}
	}

	if err := ts.checkRole(ts.visibility.Permission, "visibility permission", KindConstEnum, KindString); err != nil {
		return err
	}
	if err := ts.checkRole(ts.visibility.Owner, "visibility owner", KindForeignSingle, KindString); err != nil {
		return err
	}
	if err := ts.checkRole(ts.visibility.Deleted, "visibility deleted", KindBool); err != nil {
		return err
	}
	if err := ts.checkRole(ts.timestamps.Created, "created timestamp", KindDate); err != nil {
		return err
	}
	if err := ts.checkRole(ts.timestamps.Updated, "updated timestamp", KindDate); err != nil {
		return err
	}

	for i, p := range ts.params {
		if p.Name == "" {
			return errors.NewSchemaError(ts.name, p.Column, "table parameter needs a name")
		}
		if _, dup := ts.paramIndex[p.Name]; dup {
			return errors.NewSchemaError(ts.name, p.Name, "duplicate table parameter")
		}
		col, err := ts.GetColumn(p.Column)
		if err != nil {
			return err
		}
		if !col.Kind.Supports(p.Operator) {
			return errors.NewSchemaError(ts.name, p.Name, "operator "+string(p.Operator)+" is not supported by column "+col.Name)
		}
		ts.paramIndex[p.Name] = i
	}

	for _, r := range ts.rules {
		if r.Condition == "" {
			return errors.NewSchemaError(ts.name, r.Name, "rule needs a condition")
		}
		if r.Field != "" {
			if _, err := ts.GetColumn(r.Field); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ts *TableSpec) checkRole(name, role string, kinds ...Kind) error {
	if name == "" {
		return nil
	}
	col, err := ts.GetColumn(name)
	if err != nil {
		return errors.NewSchemaError(ts.name, name, role+" column is not declared")
	}
	for _, k := range kinds {
		if col.Kind == k {
			return nil
		}
	}
	return errors.NewSchemaError(ts.name, name, role+" column has the wrong kind "+col.Kind.String())
}

func (ts *TableSpec) Name() string { return ts.name }

func (ts *TableSpec) Label() string { return ts.label }

func (ts *TableSpec) PrimaryKey() string { return ts.primaryKey }

func (ts *TableSpec) Visibility() visibility.Columns { return ts.visibility }

func (ts *TableSpec) Timestamps() Timestamps { return ts.timestamps }

func (ts *TableSpec) AdminPermission() string { return ts.adminPermission }

// UserPermission is the permission a user-intention writer needs; empty
// means any authenticated user.
func (ts *TableSpec) UserPermission() string { return ts.userPermission }

// Lockable reports whether updates and deletes require an edit lock
func (ts *TableSpec) Lockable() bool { return ts.lockable }

// GetColumn looks a column up by name. Unknown names are schema errors.
func (ts *TableSpec) GetColumn(name string) (Column, error) {
	i, ok := ts.index[name]
	if !ok {
		return Column{}, errors.NewSchemaError(ts.name, name, "unknown column")
	}
	return ts.columns[i].clone(), nil
}

// Columns returns a copy of the columns in declaration order
func (ts *TableSpec) Columns() []Column {
	out := make([]Column, len(ts.columns))
	for i, c := range ts.columns {
		out[i] = c.clone()
	}
	return out
}

// StoredColumns returns the physical columns of the table
func (ts *TableSpec) StoredColumns() []Column {
	out := make([]Column, 0, len(ts.columns))
	for _, c := range ts.columns {
		if c.Stored() {
			out = append(out, c.clone())
		}
	}
	return out
}

// StoredColumnNames returns the names of StoredColumns
func (ts *TableSpec) StoredColumnNames() []string {
	stored := ts.StoredColumns()
	names := make([]string, 0, len(stored))
	for _, c := range stored {
		names = append(names, c.Name)
	}
	return names
}

// TagColumns returns the tagsMany columns
func (ts *TableSpec) TagColumns() []Column {
	var out []Column
	for _, c := range ts.columns {
		if c.Kind == KindTagsMany {
			out = append(out, c.clone())
		}
	}
	return out
}

// SearchableColumns returns the columns quick filters match against
func (ts *TableSpec) SearchableColumns() []Column {
	var out []Column
	for _, c := range ts.columns {
		if c.Searchable {
			out = append(out, c.clone())
		}
	}
	return out
}

// Param looks a declared table parameter up by name
func (ts *TableSpec) Param(name string) (Param, error) {
	i, ok := ts.paramIndex[name]
	if !ok {
		return Param{}, errors.NewSchemaError(ts.name, name, "unknown table parameter")
	}
	return ts.params[i], nil
}

// Params returns the declared table parameters
func (ts *TableSpec) Params() []Param {
	return append([]Param(nil), ts.params...)
}

// Rules returns the record rules
func (ts *TableSpec) Rules() []Rule {
	return append([]Rule(nil), ts.rules...)
}
