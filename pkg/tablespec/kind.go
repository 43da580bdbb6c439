package tablespec

import (
	"fmt"
	"strings"
)

// Kind is the closed set of column variants. Behaviour per kind lives in the
// kindTable, never in per-kind types.
type Kind uint8

const (
	KindPrimaryKey Kind = iota
	KindString
	KindInt
	KindBool
	KindDate
	KindColor
	KindIcon
	KindConstEnum
	KindForeignSingle
	KindTagsMany

	kindCount
)

// Variant groups kinds the way clients render them
const (
	VariantPrimaryKey    = "primaryKey"
	VariantScalar        = "scalar"
	VariantConstEnum     = "constEnum"
	VariantForeignSingle = "foreignSingle"
	VariantTagsMany      = "tagsMany"
)

func (k Kind) String() string {
	if k < kindCount {
		return kindTable[k].name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Variant returns the tagged-variant name of k
func (k Kind) Variant() string {
	if k < kindCount {
		return kindTable[k].variant
	}
	return ""
}

// Operators lists the filter operators k supports
func (k Kind) Operators() []Operator {
	if k >= kindCount {
		return nil
	}
	return append([]Operator(nil), kindTable[k].operators...)
}

// Supports reports whether k can be filtered with op
func (k Kind) Supports(op Operator) bool {
	if k >= kindCount {
		return false
	}
	for _, candidate := range kindTable[k].operators {
		if candidate == op {
			return true
		}
	}
	return false
}

// ParseKind parses a kind name such as "string" or "tagsMany"
func ParseKind(s string) (Kind, error) {
	for k := Kind(0); k < kindCount; k++ {
		if strings.EqualFold(kindTable[k].name, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown column kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Operator is a filter comparison
type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
	OpIn       Operator = "in"
	OpGte      Operator = "gte"
	OpLte      Operator = "lte"
)

// Predicate is one filter item: field op value
type Predicate struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value" yaml:"value"`
}
