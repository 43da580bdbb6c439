package query

import (
	"database/sql"

	"github.com/nexuscrm/tablekit/pkg/store"
)

// ScanRows drains rows into store rows keyed by column name. Drivers that
// hand back text as []byte (MySQL) are normalised to string so every
// dialect yields the same row shape. rows is not closed.
func ScanRows(rows *sql.Rows) ([]store.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	raw := make([]interface{}, len(columns))
	dest := make([]interface{}, len(columns))
	for i := range raw {
		dest[i] = &raw[i]
	}

	out := []store.Row{}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, toRow(columns, raw))
	}
	return out, rows.Err()
}

func toRow(columns []string, raw []interface{}) store.Row {
	row := make(store.Row, len(columns))
	for i, name := range columns {
		switch v := raw[i].(type) {
		case []byte:
			row[name] = string(v)
		default:
			row[name] = v
		}
	}
	return row
}
