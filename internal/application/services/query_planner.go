package services

import (
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/nexuscrm/tablekit/pkg/errors"
	"github.com/nexuscrm/tablekit/pkg/store"
	"github.com/nexuscrm/tablekit/pkg/tablespec"
	"github.com/nexuscrm/tablekit/pkg/visibility"
)

// DefaultTake is the page size used when a request does not name one
const DefaultTake = 50

// FilterModel is the client's filter over one table
type FilterModel struct {
	Items            []tablespec.Predicate `json:"items,omitempty"`
	QuickFilterValue string                `json:"quickFilterValue,omitempty"`
	TableParams      map[string]any        `json:"tableParams,omitempty"`
}

// SortTerm is one client ordering term
type SortTerm struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Pagination is the requested window. Take 0 means DefaultTake.
type Pagination struct {
	Skip    int        `json:"skip"`
	Take    int        `json:"take"`
	OrderBy []SortTerm `json:"orderBy,omitempty"`
}

// PlanWhere combines visibility, filter items, the quick filter and table
// params into one predicate. Structural problems (unknown fields or params,
// non-queryable fields, unsupported operators) are returned as a
// SchemaError at once; ill-typed values are collected into
// ValidationErrors.
func PlanWhere(spec *tablespec.TableSpec, filter FilterModel, ictx visibility.Context) (sq.Sqlizer, error) {
	where := sq.And{visibility.BuildPredicate(ictx, spec.Visibility())}
	var verrs errors.ValidationErrors

	add := func(col tablespec.Column, p tablespec.Predicate) error {
		frag, err := col.ToQueryFragment(p)
		if err != nil {
			if verr, ok := err.(*errors.ValidationError); ok {
				verrs = append(verrs, verr)
				return nil
			}
			return err
		}
		where = append(where, frag)
		return nil
	}

	for _, item := range filter.Items {
		col, err := spec.GetColumn(item.Field)
		if err != nil {
			return nil, err
		}
		if !col.Queryable {
			return nil, errors.NewSchemaError(spec.Name(), col.Name, "column is not queryable")
		}
		if err := add(col, item); err != nil {
			return nil, err
		}
	}

	if needle := strings.TrimSpace(filter.QuickFilterValue); needle != "" {
		// No searchable columns renders as an always-false OR
		quick := sq.Or{}
		for _, col := range spec.SearchableColumns() {
			frag, err := col.ToQueryFragment(tablespec.Predicate{Field: col.Name, Operator: tablespec.OpContains, Value: needle})
			if err != nil {
				return nil, err
			}
			quick = append(quick, frag)
		}
		where = append(where, quick)
	}

	keys := make([]string, 0, len(filter.TableParams))
	for k := range filter.TableParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		param, err := spec.Param(key)
		if err != nil {
			return nil, err
		}
		col, err := spec.GetColumn(param.Column)
		if err != nil {
			return nil, err
		}
		if err := add(col, tablespec.Predicate{Field: col.Name, Operator: param.Operator, Value: filter.TableParams[key]}); err != nil {
			return nil, err
		}
	}

	if len(verrs) > 0 {
		return nil, verrs
	}
	return where, nil
}

// PlanOrder validates the sort terms and appends the primary key as the
// final tie-breaker, so pages are stable
func PlanOrder(spec *tablespec.TableSpec, terms []SortTerm) ([]store.Order, error) {
	order := make([]store.Order, 0, len(terms)+1)
	pkSeen := false
	for _, term := range terms {
		col, err := spec.GetColumn(term.Field)
		if err != nil {
			return nil, err
		}
		if !col.Queryable || !col.Stored() {
			return nil, errors.NewSchemaError(spec.Name(), col.Name, "column cannot be ordered by")
		}
		if col.Name == spec.PrimaryKey() {
			pkSeen = true
		}
		order = append(order, store.Order{Column: col.Name, Desc: term.Desc})
	}
	if !pkSeen {
		order = append(order, store.Order{Column: spec.PrimaryKey()})
	}
	return order, nil
}

// MaxTake is the ceiling of every page size, whatever maxTake is configured
const MaxTake = 1000

// NormalizePage checks skip and clamps take into [1, maxTake]. maxTake
// itself never exceeds MaxTake.
func NormalizePage(page Pagination, maxTake int) (Pagination, error) {
	if maxTake < 1 || maxTake > MaxTake {
		maxTake = MaxTake
	}
	if page.Skip < 0 {
		return page, &errors.ValidationError{Field: "skip", Message: "must not be negative", Value: page.Skip}
	}
	switch {
	case page.Take == 0:
		page.Take = DefaultTake
	case page.Take < 1:
		page.Take = 1
	}
	if page.Take > maxTake {
		page.Take = maxTake
	}
	return page, nil
}
