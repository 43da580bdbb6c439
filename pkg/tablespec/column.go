package tablespec

import (
	"reflect"

	sq "github.com/Masterminds/squirrel"
	"github.com/spf13/cast"

	"github.com/nexuscrm/tablekit/pkg/errors"
	"github.com/nexuscrm/tablekit/pkg/visibility"
)

// JoinSpec names the link table behind a tagsMany column
type JoinSpec struct {
	Table  string `yaml:"table" json:"table"`
	Source string `yaml:"source" json:"source"`
	Target string `yaml:"target" json:"target"`
}

// Column describes one field of a table. Build columns with the kind
// constructors below; a TableSpec stamps its own name into every column it
// owns.
type Column struct {
	Name  string
	Label string
	Kind  Kind

	Queryable  bool
	Insertable bool
	Editable   bool
	Searchable bool
	Required   bool
	// AdminOnly restricts inserts and edits to the admin intention
	AdminOnly bool

	Default    any
	MaxLength  int
	EnumValues []string
	// Target is the related table of foreignSingle and tagsMany columns
	Target string
	Join   JoinSpec

	table   string
	tablePK string
}

// Option configures a Column
type Option func(*Column)

func Queryable() Option { return func(c *Column) { c.Queryable = true } }

func Insertable() Option { return func(c *Column) { c.Insertable = true } }

func Editable() Option { return func(c *Column) { c.Editable = true } }

// Mutable marks a column both insertable and editable
func Mutable() Option {
	return func(c *Column) {
		c.Insertable = true
		c.Editable = true
	}
}

// Searchable includes the column in quick-filter matching. It implies
// Queryable.
func Searchable() Option {
	return func(c *Column) {
		c.Searchable = true
		c.Queryable = true
	}
}

func Required() Option { return func(c *Column) { c.Required = true } }

func AdminOnly() Option { return func(c *Column) { c.AdminOnly = true } }

func Default(v any) Option { return func(c *Column) { c.Default = v } }

func MaxLength(n int) Option { return func(c *Column) { c.MaxLength = n } }

func Label(label string) Option { return func(c *Column) { c.Label = label } }

func newColumn(name string, kind Kind, opts []Option) Column {
	c := Column{Name: name, Label: name, Kind: kind}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// PrimaryKey declares the primary key column. It is always queryable.
func PrimaryKey(name string, opts ...Option) Column {
	return newColumn(name, KindPrimaryKey, append([]Option{Queryable()}, opts...))
}

func String(name string, opts ...Option) Column { return newColumn(name, KindString, opts) }

func Int(name string, opts ...Option) Column { return newColumn(name, KindInt, opts) }

func Bool(name string, opts ...Option) Column { return newColumn(name, KindBool, opts) }

func Date(name string, opts ...Option) Column { return newColumn(name, KindDate, opts) }

func Color(name string, opts ...Option) Column { return newColumn(name, KindColor, opts) }

func Icon(name string, opts ...Option) Column { return newColumn(name, KindIcon, opts) }

// clone returns c with its slices copied, so callers cannot reach into the
// owning spec
func (c Column) clone() Column {
	if c.EnumValues != nil {
		c.EnumValues = append([]string(nil), c.EnumValues...)
	}
	return c
}

// Enum declares a column restricted to a fixed list of values
func Enum(name string, values []string, opts ...Option) Column {
	c := newColumn(name, KindConstEnum, opts)
	c.EnumValues = append([]string(nil), values...)
	return c
}

// ForeignKey declares a single reference to a row of target
func ForeignKey(name, target string, opts ...Option) Column {
	c := newColumn(name, KindForeignSingle, opts)
	c.Target = target
	return c
}

// Tags declares a many-to-many link to target stored in join
func Tags(name, target string, join JoinSpec, opts ...Option) Column {
	c := newColumn(name, KindTagsMany, opts)
	c.Target = target
	c.Join = join
	return c
}

// Table returns the name of the table that owns the column
func (c Column) Table() string {
	return c.table
}

// Stored reports whether the column is a physical column of its table.
// TagsMany values live in the join table.
func (c Column) Stored() bool {
	return c.Kind != KindTagsMany
}

// IsEditable reports whether a caller under intention may change the column
func (c Column) IsEditable(intention visibility.Intention) bool {
	return c.Editable && c.permits(intention)
}

// IsInsertable reports whether a caller under intention may set the column on insert
func (c Column) IsInsertable(intention visibility.Intention) bool {
	return c.Insertable && c.permits(intention)
}

func (c Column) permits(intention visibility.Intention) bool {
	if !intention.AtLeast(visibility.IntentionUser) {
		return false
	}
	return !c.AdminOnly || intention == visibility.IntentionAdmin
}

// Validate coerces a client value into the column's typed value. A nil
// value is accepted unless the column is required; required-ness on insert
// is checked by the mutation pipeline.
func (c Column) Validate(v any) (any, *errors.ValidationError) {
	if v == nil {
		if c.Required {
			return nil, &errors.ValidationError{Field: c.Name, Message: "is required"}
		}
		if c.Kind == KindTagsMany {
			return []string{}, nil
		}
		return nil, nil
	}
	typed, err := kindTable[c.Kind].validate(&c, v)
	if err != nil {
		return nil, &errors.ValidationError{Field: c.Name, Message: err.Error(), Value: v}
	}
	return typed, nil
}

// Serialize renders a typed value for the wire
func (c Column) Serialize(v any) any {
	if v == nil {
		return nil
	}
	return kindTable[c.Kind].serialize(&c, v)
}

// FromRow converts a raw store value into the typed value
func (c Column) FromRow(raw any) any {
	return kindTable[c.Kind].fromRow(&c, raw)
}

// ToQueryFragment renders p as a predicate over this column. Unsupported
// operators are schema errors; ill-typed values are validation errors.
func (c Column) ToQueryFragment(p Predicate) (sq.Sqlizer, error) {
	if !c.Kind.Supports(p.Operator) {
		return nil, errors.NewSchemaError(c.table, c.Name, "operator "+string(p.Operator)+" is not supported for "+c.Kind.String()+" columns")
	}
	ops := kindTable[c.Kind]

	switch p.Operator {
	case OpContains:
		needle, err := cast.ToStringE(p.Value)
		if err != nil {
			return nil, &errors.ValidationError{Field: c.Name, Message: "contains needs a text value", Value: p.Value}
		}
		return ops.filter(&c, OpContains, needle), nil

	case OpIn:
		items, ok := asList(p.Value)
		if !ok {
			return nil, &errors.ValidationError{Field: c.Name, Message: "in needs a list value", Value: p.Value}
		}
		values := make([]any, 0, len(items))
		for _, item := range items {
			typed, verr := c.validateElement(item)
			if verr != nil {
				return nil, verr
			}
			values = append(values, typed)
		}
		return ops.filter(&c, OpIn, values), nil

	default:
		if p.Value == nil && p.Operator == OpEquals && c.Kind != KindTagsMany {
			return sq.Eq{c.Name: nil}, nil
		}
		typed, verr := c.validateElement(p.Value)
		if verr != nil {
			return nil, verr
		}
		return ops.filter(&c, p.Operator, typed), nil
	}
}

// validateElement validates a single filter operand. For tag columns the
// operand is one related id rather than a list.
func (c Column) validateElement(v any) (any, *errors.ValidationError) {
	validate := kindTable[c.Kind].validate
	if c.Kind == KindTagsMany {
		validate = validateIdentifier
	}
	if v == nil {
		return nil, &errors.ValidationError{Field: c.Name, Message: "filter value must not be empty"}
	}
	typed, err := validate(&c, v)
	if err != nil {
		return nil, &errors.ValidationError{Field: c.Name, Message: err.Error(), Value: v}
	}
	return typed, nil
}

func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
