package query

import (
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// QueryType represents the type of SQL statement
type QueryType string

const (
	QueryTypeSelect QueryType = "SELECT"
	QueryTypeCount  QueryType = "COUNT"
	QueryTypeInsert QueryType = "INSERT"
	QueryTypeUpdate QueryType = "UPDATE"
	QueryTypeDelete QueryType = "DELETE"
)

// QueryResult represents the built SQL statement and parameters
type QueryResult struct {
	SQL    string
	Params []interface{}
}

// Builder is a fluent SQL statement builder. Conditions are squirrel
// fragments; the builder only assembles the statement around them.
type Builder struct {
	queryType    QueryType
	table        string
	fields       []string
	whereClauses []string
	params       []interface{}
	orderBy      []string
	limit        *int
	offset       *int
	forUpdate    bool
	columns      []string
	rows         []map[string]interface{}
	err          error
}

// From creates a new SELECT builder
func From(table string) *Builder {
	return &Builder{queryType: QueryTypeSelect, table: table}
}

// Count creates a new SELECT COUNT(*) builder
func Count(table string) *Builder {
	return &Builder{queryType: QueryTypeCount, table: table}
}

// Insert creates a new INSERT builder for one row. Columns are written in
// sorted order so statements are stable.
func Insert(table string, data map[string]interface{}) *Builder {
	return BulkInsert(table, sortedKeys(data), []map[string]interface{}{data})
}

// BulkInsert creates a multi-row INSERT over the given columns. Columns
// missing from a row are written as NULL.
func BulkInsert(table string, columns []string, rows []map[string]interface{}) *Builder {
	return &Builder{
		queryType: QueryTypeInsert,
		table:     table,
		columns:   append([]string(nil), columns...),
		rows:      rows,
	}
}

// Update creates a new UPDATE builder
func Update(table string) *Builder {
	return &Builder{queryType: QueryTypeUpdate, table: table}
}

// Delete creates a new DELETE builder
func Delete(table string) *Builder {
	return &Builder{queryType: QueryTypeDelete, table: table}
}

// Select specifies which columns to select
func (b *Builder) Select(fields []string) *Builder {
	if b.queryType != QueryTypeSelect {
		return b
	}
	for _, field := range fields {
		if field == "*" {
			b.fields = append(b.fields, "*")
			continue
		}
		b.fields = append(b.fields, quote(field))
	}
	return b
}

// Where adds a condition. Conditions are ANDed. A nil condition is ignored.
func (b *Builder) Where(cond sq.Sqlizer) *Builder {
	if cond == nil || b.err != nil {
		return b
	}
	sql, args, err := cond.ToSql()
	if err != nil {
		b.err = fmt.Errorf("render condition: %w", err)
		return b
	}
	if sql != "" {
		b.whereClauses = append(b.whereClauses, sql)
		b.params = append(b.params, args...)
	}
	return b
}

// Set sets the values of an UPDATE
func (b *Builder) Set(data map[string]interface{}) *Builder {
	if b.queryType != QueryTypeUpdate {
		return b
	}
	b.columns = sortedKeys(data)
	b.rows = []map[string]interface{}{data}
	return b
}

// OrderBy appends an ORDER BY term
func (b *Builder) OrderBy(field string, desc bool) *Builder {
	if b.queryType != QueryTypeSelect {
		return b
	}
	direction := "ASC"
	if desc {
		direction = "DESC"
	}
	b.orderBy = append(b.orderBy, fmt.Sprintf("%s %s", quote(field), direction))
	return b
}

// Limit adds a LIMIT clause
func (b *Builder) Limit(n int) *Builder {
	if b.queryType != QueryTypeSelect {
		return b
	}
	b.limit = &n
	return b
}

// Offset adds an OFFSET clause. It is only rendered together with Limit.
func (b *Builder) Offset(n int) *Builder {
	if b.queryType != QueryTypeSelect {
		return b
	}
	b.offset = &n
	return b
}

// ForUpdate appends FOR UPDATE to a SELECT
func (b *Builder) ForUpdate(enabled bool) *Builder {
	if b.queryType != QueryTypeSelect {
		return b
	}
	b.forUpdate = enabled
	return b
}

// Build constructs the final SQL statement
func (b *Builder) Build() (QueryResult, error) {
	if b.err != nil {
		return QueryResult{}, b.err
	}

	switch b.queryType {
	case QueryTypeSelect:
		return QueryResult{SQL: b.buildSelect("SELECT " + b.selectList()), Params: b.params}, nil
	case QueryTypeCount:
		return QueryResult{SQL: b.buildSelect("SELECT COUNT(*)"), Params: b.params}, nil
	case QueryTypeInsert:
		return b.buildInsert()
	case QueryTypeUpdate:
		return b.buildUpdate()
	case QueryTypeDelete:
		return QueryResult{SQL: b.buildDelete(), Params: b.params}, nil
	}
	return QueryResult{}, fmt.Errorf("unknown query type %s", b.queryType)
}

func (b *Builder) selectList() string {
	if len(b.fields) == 0 {
		return "*"
	}
	return strings.Join(b.fields, ", ")
}

func (b *Builder) buildSelect(head string) string {
	parts := []string{fmt.Sprintf("%s FROM %s", head, quote(b.table))}

	if len(b.whereClauses) > 0 {
		parts = append(parts, "WHERE "+strings.Join(b.whereClauses, " AND "))
	}
	if len(b.orderBy) > 0 {
		parts = append(parts, "ORDER BY "+strings.Join(b.orderBy, ", "))
	}
	if b.limit != nil {
		parts = append(parts, fmt.Sprintf("LIMIT %d", *b.limit))
		if b.offset != nil && *b.offset > 0 {
			parts = append(parts, fmt.Sprintf("OFFSET %d", *b.offset))
		}
	}
	if b.forUpdate {
		parts = append(parts, "FOR UPDATE")
	}
	return strings.Join(parts, " ")
}

func (b *Builder) buildInsert() (QueryResult, error) {
	if len(b.columns) == 0 || len(b.rows) == 0 {
		return QueryResult{}, fmt.Errorf("insert into %s needs at least one column and one row", b.table)
	}

	cols := make([]string, len(b.columns))
	for i, c := range b.columns {
		cols[i] = quote(c)
	}
	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(b.columns)), ", ") + ")"

	groups := make([]string, 0, len(b.rows))
	params := make([]interface{}, 0, len(b.rows)*len(b.columns))
	for _, row := range b.rows {
		groups = append(groups, rowPlaceholder)
		for _, c := range b.columns {
			params = append(params, row[c])
		}
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		quote(b.table),
		strings.Join(cols, ", "),
		strings.Join(groups, ", "))
	return QueryResult{SQL: sql, Params: params}, nil
}

func (b *Builder) buildUpdate() (QueryResult, error) {
	if len(b.columns) == 0 {
		return QueryResult{}, fmt.Errorf("update of %s sets no columns", b.table)
	}

	setClauses := make([]string, 0, len(b.columns))
	params := make([]interface{}, 0, len(b.columns)+len(b.params))
	for _, c := range b.columns {
		setClauses = append(setClauses, fmt.Sprintf("%s = ?", quote(c)))
		params = append(params, b.rows[0][c])
	}

	sql := fmt.Sprintf("UPDATE %s SET %s", quote(b.table), strings.Join(setClauses, ", "))
	if len(b.whereClauses) > 0 {
		sql += " WHERE " + strings.Join(b.whereClauses, " AND ")
		params = append(params, b.params...)
	}
	return QueryResult{SQL: sql, Params: params}, nil
}

func (b *Builder) buildDelete() string {
	sql := fmt.Sprintf("DELETE FROM %s", quote(b.table))
	if len(b.whereClauses) > 0 {
		sql += " WHERE " + strings.Join(b.whereClauses, " AND ")
	}
	return sql
}

// quote wraps an identifier in backticks, which MySQL, TiDB and SQLite all
// accept
func quote(ident string) string {
	if strings.ContainsAny(ident, "`.() ") {
		return ident
	}
	return "`" + ident + "`"
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
