// Package store defines the typed accessor every registered entity is served
// through. Implementations pick up the ambient transaction from the context.
package store

import (
	"context"

	sq "github.com/Masterminds/squirrel"
)

// Row is one record keyed by column name
type Row map[string]any

// Clone returns a shallow copy of r
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Order is one ORDER BY term
type Order struct {
	Column string
	Desc   bool
}

// Select describes a read. Where is always set by the engine; an accessor
// must not widen it.
type Select struct {
	Where     sq.Sqlizer
	OrderBy   []Order
	Limit     int
	Offset    int
	ForUpdate bool
}

// Accessor is the per-entity store interface
type Accessor interface {
	Find(ctx context.Context, sel Select) ([]Row, error)
	Count(ctx context.Context, where sq.Sqlizer) (int64, error)
	Create(ctx context.Context, rows ...Row) error
	UpdateMany(ctx context.Context, where sq.Sqlizer, values Row) (int64, error)
	DeleteMany(ctx context.Context, where sq.Sqlizer) (int64, error)
}
