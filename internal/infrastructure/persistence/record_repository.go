package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"github.com/nexuscrm/tablekit/internal/infrastructure/database"
	"github.com/nexuscrm/tablekit/pkg/query"
	"github.com/nexuscrm/tablekit/pkg/store"
)

const insertBatchSize = 100

// RecordRepository is the SQL accessor of one table. It runs on the
// transaction carried by the context when there is one.
type RecordRepository struct {
	db      *sql.DB
	dialect database.Dialect
	table   string
	columns []string
}

var _ store.Accessor = (*RecordRepository)(nil)

// NewRecordRepository creates the accessor of table. columns is the select
// list; nil selects every column.
func NewRecordRepository(db *sql.DB, dialect database.Dialect, table string, columns []string) *RecordRepository {
	return &RecordRepository{
		db:      db,
		dialect: dialect,
		table:   table,
		columns: append([]string(nil), columns...),
	}
}

// Table returns the table the repository serves
func (r *RecordRepository) Table() string {
	return r.table
}

// Find runs a SELECT. FOR UPDATE is only rendered inside a transaction on
// dialects that support it.
func (r *RecordRepository) Find(ctx context.Context, sel store.Select) ([]store.Row, error) {
	fields := r.columns
	if len(fields) == 0 {
		fields = []string{"*"}
	}
	b := query.From(r.table).Select(fields).Where(sel.Where)
	for _, o := range sel.OrderBy {
		b.OrderBy(o.Column, o.Desc)
	}
	if sel.Limit > 0 {
		b.Limit(sel.Limit).Offset(sel.Offset)
	}
	b.ForUpdate(sel.ForUpdate && r.dialect.SupportsForUpdate && ExtractTx(ctx) != nil)

	q, err := b.Build()
	if err != nil {
		return nil, err
	}

	rows, err := executorFor(ctx, r.db).QueryContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", r.table, err)
	}
	defer rows.Close()

	return query.ScanRows(rows)
}

// Count runs SELECT COUNT(*)
func (r *RecordRepository) Count(ctx context.Context, where sq.Sqlizer) (int64, error) {
	q, err := query.Count(r.table).Where(where).Build()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := executorFor(ctx, r.db).QueryRowContext(ctx, q.SQL, q.Params...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", r.table, err)
	}
	return n, nil
}

// Create inserts rows in batches. The column list is the union of the rows'
// keys.
func (r *RecordRepository) Create(ctx context.Context, rows ...store.Row) error {
	if len(rows) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var columns []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	sort.Strings(columns)

	exec := executorFor(ctx, r.db)
	for i := 0; i < len(rows); i += insertBatchSize {
		end := min(i+insertBatchSize, len(rows))
		batch := make([]map[string]interface{}, 0, end-i)
		for _, row := range rows[i:end] {
			batch = append(batch, row)
		}

		q, err := query.BulkInsert(r.table, columns, batch).Build()
		if err != nil {
			return err
		}
		if _, err := exec.ExecContext(ctx, q.SQL, q.Params...); err != nil {
			return fmt.Errorf("insert into %s (batch %d-%d): %w", r.table, i, end, err)
		}
	}
	return nil
}

// UpdateMany sets values on every row matching where
func (r *RecordRepository) UpdateMany(ctx context.Context, where sq.Sqlizer, values store.Row) (int64, error) {
	if where == nil {
		return 0, fmt.Errorf("update of %s without a condition", r.table)
	}
	q, err := query.Update(r.table).Set(values).Where(where).Build()
	if err != nil {
		return 0, err
	}
	res, err := executorFor(ctx, r.db).ExecContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", r.table, err)
	}
	return res.RowsAffected()
}

// DeleteMany removes every row matching where
func (r *RecordRepository) DeleteMany(ctx context.Context, where sq.Sqlizer) (int64, error) {
	if where == nil {
		return 0, fmt.Errorf("delete from %s without a condition", r.table)
	}
	q, err := query.Delete(r.table).Where(where).Build()
	if err != nil {
		return 0, err
	}
	res, err := executorFor(ctx, r.db).ExecContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", r.table, err)
	}
	return res.RowsAffected()
}
