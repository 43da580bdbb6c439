package tablespec

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/spf13/cast"

	"github.com/nexuscrm/tablekit/pkg/changeplan"
	"github.com/nexuscrm/tablekit/pkg/store"
)

// CurrentRelatedIDs returns the related ids hydrated into row for a tagsMany
// column
func (c Column) CurrentRelatedIDs(row store.Row) []string {
	if c.Kind != KindTagsMany || row == nil {
		return []string{}
	}
	ids, err := cast.ToStringSliceE(row[c.Name])
	if err != nil || ids == nil {
		return []string{}
	}
	return ids
}

// LinkedIDs reads the related ids stored for rowID in the join table,
// ordered by related id
func (c Column) LinkedIDs(ctx context.Context, join store.Accessor, rowID string) ([]string, error) {
	rows, err := join.Find(ctx, store.Select{
		Where:   sq.Eq{c.Join.Source: rowID},
		OrderBy: []store.Order{{Column: c.Join.Target}},
	})
	if err != nil {
		return nil, fmt.Errorf("read %s links: %w", c.Join.Table, err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, cast.ToString(r[c.Join.Target]))
	}
	return ids, nil
}

// Commit makes the join table hold exactly desiredIDs for rowID and returns
// the plan it applied. Deletes run before creates.
func (c Column) Commit(ctx context.Context, join store.Accessor, rowID string, desiredIDs []string) (changeplan.Plan[string], error) {
	if c.Kind != KindTagsMany {
		return changeplan.Plan[string]{}, fmt.Errorf("column %s.%s is not a tagsMany column", c.table, c.Name)
	}

	current, err := c.LinkedIDs(ctx, join, rowID)
	if err != nil {
		return changeplan.Plan[string]{}, err
	}
	plan := changeplan.Comparable(current, desiredIDs)
	if err := c.Apply(ctx, join, rowID, plan.Create, plan.Delete); err != nil {
		return changeplan.Plan[string]{}, err
	}
	return plan, nil
}

// Apply writes link creates and deletes for rowID
func (c Column) Apply(ctx context.Context, join store.Accessor, rowID string, create, remove []string) error {
	if len(remove) > 0 {
		if _, err := join.DeleteMany(ctx, sq.Eq{c.Join.Source: rowID, c.Join.Target: remove}); err != nil {
			return fmt.Errorf("unlink %s: %w", c.Join.Table, err)
		}
	}
	if len(create) > 0 {
		rows := make([]store.Row, 0, len(create))
		for _, id := range create {
			rows = append(rows, store.Row{c.Join.Source: rowID, c.Join.Target: id})
		}
		if err := join.Create(ctx, rows...); err != nil {
			return fmt.Errorf("link %s: %w", c.Join.Table, err)
		}
	}
	return nil
}
