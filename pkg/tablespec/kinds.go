package tablespec

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	sq "github.com/Masterminds/squirrel"
	"github.com/spf13/cast"
)

// kindOps is the behaviour of one Kind. Every function is pure.
type kindOps struct {
	name      string
	variant   string
	operators []Operator
	// validate coerces a client value into the column's typed value
	validate func(c *Column, v any) (any, error)
	// serialize renders a typed value for the wire
	serialize func(c *Column, v any) any
	// fromRow converts a raw store value into the typed value
	fromRow func(c *Column, raw any) any
	// filter builds the predicate for an already validated value
	filter func(c *Column, op Operator, v any) sq.Sqlizer
}

var kindTable [kindCount]kindOps

var (
	colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	iconPattern  = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

func init() {
	kindTable = [kindCount]kindOps{
		KindPrimaryKey: {
			name:      "primaryKey",
			variant:   VariantPrimaryKey,
			operators: []Operator{OpEquals, OpIn},
			validate:  validateIdentifier,
			serialize: identity,
			fromRow:   stringFromRow,
			filter:    scalarFilter,
		},
		KindString: {
			name:      "string",
			variant:   VariantScalar,
			operators: []Operator{OpEquals, OpContains, OpIn},
			validate:  validateString,
			serialize: identity,
			fromRow:   stringFromRow,
			filter:    scalarFilter,
		},
		KindInt: {
			name:      "int",
			variant:   VariantScalar,
			operators: []Operator{OpEquals, OpIn, OpGte, OpLte},
			validate:  validateInt,
			serialize: identity,
			fromRow:   intFromRow,
			filter:    scalarFilter,
		},
		KindBool: {
			name:      "bool",
			variant:   VariantScalar,
			operators: []Operator{OpEquals},
			validate:  validateBool,
			serialize: identity,
			fromRow:   boolFromRow,
			filter:    scalarFilter,
		},
		KindDate: {
			name:      "date",
			variant:   VariantScalar,
			operators: []Operator{OpEquals, OpGte, OpLte},
			validate:  validateDate,
			serialize: serializeDate,
			fromRow:   dateFromRow,
			filter:    scalarFilter,
		},
		KindColor: {
			name:      "color",
			variant:   VariantScalar,
			operators: []Operator{OpEquals, OpIn},
			validate:  validateColor,
			serialize: identity,
			fromRow:   stringFromRow,
			filter:    scalarFilter,
		},
		KindIcon: {
			name:      "icon",
			variant:   VariantScalar,
			operators: []Operator{OpEquals, OpContains, OpIn},
			validate:  validateIcon,
			serialize: identity,
			fromRow:   stringFromRow,
			filter:    scalarFilter,
		},
		KindConstEnum: {
			name:      "constEnum",
			variant:   VariantConstEnum,
			operators: []Operator{OpEquals, OpContains, OpIn},
			validate:  validateEnum,
			serialize: identity,
			fromRow:   stringFromRow,
			filter:    scalarFilter,
		},
		KindForeignSingle: {
			name:      "foreignSingle",
			variant:   VariantForeignSingle,
			operators: []Operator{OpEquals, OpIn},
			validate:  validateIdentifier,
			serialize: identity,
			fromRow:   stringFromRow,
			filter:    scalarFilter,
		},
		KindTagsMany: {
			name:      "tagsMany",
			variant:   VariantTagsMany,
			operators: []Operator{OpEquals, OpIn},
			validate:  validateTags,
			serialize: serializeTags,
			fromRow:   tagsFromRow,
			filter:    tagsFilter,
		},
	}

	for k, ops := range kindTable {
		if ops.name == "" || ops.validate == nil || ops.serialize == nil || ops.fromRow == nil || ops.filter == nil {
			panic(fmt.Sprintf("tablespec: kind %d has no complete behaviour table", k))
		}
	}
}

func identity(_ *Column, v any) any {
	return v
}

func validateIdentifier(_ *Column, v any) (any, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, errors.New("must be an identifier")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("must not be empty")
	}
	if len(s) > 64 {
		return nil, errors.New("must be at most 64 characters")
	}
	return s, nil
}

func validateString(c *Column, v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any:
		return nil, errors.New("must be a string")
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, errors.New("must be a string")
	}
	if c.MaxLength > 0 && utf8.RuneCountInString(s) > c.MaxLength {
		return nil, fmt.Errorf("must be at most %d characters", c.MaxLength)
	}
	return s, nil
}

func validateInt(_ *Column, v any) (any, error) {
	switch n := v.(type) {
	case bool:
		return nil, errors.New("must be an integer")
	case float64:
		if n != float64(int64(n)) {
			return nil, errors.New("must be a whole number")
		}
	case float32:
		if n != float32(int64(n)) {
			return nil, errors.New("must be a whole number")
		}
	case string:
		if strings.Contains(n, ".") {
			return nil, errors.New("must be a whole number")
		}
	}
	i, err := cast.ToInt64E(v)
	if err != nil {
		return nil, errors.New("must be an integer")
	}
	return i, nil
}

func validateBool(_ *Column, v any) (any, error) {
	b, err := cast.ToBoolE(v)
	if err != nil {
		return nil, errors.New("must be true or false")
	}
	return b, nil
}

func validateDate(_ *Column, v any) (any, error) {
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC(), nil
		}
	}
	t, err := cast.ToTimeInDefaultLocationE(v, time.UTC)
	if err != nil {
		return nil, errors.New("must be a date")
	}
	return t.UTC(), nil
}

func serializeDate(_ *Column, v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func validateColor(_ *Column, v any) (any, error) {
	s, ok := v.(string)
	if !ok || !colorPattern.MatchString(s) {
		return nil, errors.New("must be a color in #rrggbb form")
	}
	return strings.ToLower(s), nil
}

func validateIcon(_ *Column, v any) (any, error) {
	s, ok := v.(string)
	if !ok || len(s) > 64 || !iconPattern.MatchString(s) {
		return nil, errors.New("must be an icon name such as calendar-days")
	}
	return s, nil
}

func validateEnum(c *Column, v any) (any, error) {
	s, ok := v.(string)
	if ok {
		for _, allowed := range c.EnumValues {
			if s == allowed {
				return s, nil
			}
		}
	}
	return nil, fmt.Errorf("must be one of %s", strings.Join(c.EnumValues, ", "))
}

func validateTags(_ *Column, v any) (any, error) {
	var raw []string
	switch ids := v.(type) {
	case []string:
		raw = ids
	case []any:
		raw = make([]string, 0, len(ids))
		for _, id := range ids {
			s, ok := id.(string)
			if !ok {
				return nil, errors.New("must be a list of ids")
			}
			raw = append(raw, s)
		}
	default:
		return nil, errors.New("must be a list of ids")
	}

	out := make([]string, 0, len(raw))
	for _, id := range raw {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, errors.New("must not contain empty ids")
		}
		out = append(out, id)
	}
	return out, nil
}

func serializeTags(_ *Column, v any) any {
	ids, ok := v.([]string)
	if !ok {
		return []string{}
	}
	return append(make([]string, 0, len(ids)), ids...)
}

func stringFromRow(_ *Column, raw any) any {
	if raw == nil {
		return nil
	}
	return cast.ToString(raw)
}

func intFromRow(_ *Column, raw any) any {
	if raw == nil {
		return nil
	}
	return cast.ToInt64(raw)
}

func boolFromRow(_ *Column, raw any) any {
	if raw == nil {
		return nil
	}
	return cast.ToBool(raw)
}

// dateFromRow accepts time.Time from drivers that parse dates and the text
// forms SQLite stores.
func dateFromRow(_ *Column, raw any) any {
	switch t := raw.(type) {
	case nil:
		return nil
	case time.Time:
		return t.UTC()
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC()
			}
		}
	}
	if parsed, err := cast.ToTimeInDefaultLocationE(raw, time.UTC); err == nil {
		return parsed.UTC()
	}
	return nil
}

func tagsFromRow(_ *Column, raw any) any {
	if raw == nil {
		return []string{}
	}
	ids, err := cast.ToStringSliceE(raw)
	if err != nil {
		return []string{}
	}
	return ids
}

func scalarFilter(c *Column, op Operator, v any) sq.Sqlizer {
	switch op {
	case OpContains:
		return containsFilter(c.Name, cast.ToString(v))
	case OpGte:
		return sq.GtOrEq{c.Name: v}
	case OpLte:
		return sq.LtOrEq{c.Name: v}
	default:
		// equals and in; squirrel renders a slice as IN
		return sq.Eq{c.Name: v}
	}
}

// tagsFilter matches rows linked to any of the given related ids
func tagsFilter(c *Column, _ Operator, v any) sq.Sqlizer {
	var ids []string
	switch t := v.(type) {
	case string:
		ids = []string{t}
	default:
		ids = cast.ToStringSlice(v)
	}
	sub := sq.Select(c.Join.Source).From(c.Join.Table).Where(sq.Eq{c.Join.Target: ids})
	subSQL, args, err := sub.ToSql()
	if err != nil {
		return sq.Expr("1=0")
	}
	return sq.Expr(fmt.Sprintf("%s IN (%s)", c.tablePK, subSQL), args...)
}

// containsFilter is a case-insensitive substring match. '!' is the LIKE
// escape character because backslash handling differs between MySQL and
// SQLite.
func containsFilter(column, needle string) sq.Sqlizer {
	escaped := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(strings.ToLower(needle))
	return sq.Expr(fmt.Sprintf("LOWER(%s) LIKE ? ESCAPE '!'", column), "%"+escaped+"%")
}
