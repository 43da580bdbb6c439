package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/spf13/cast"

	"github.com/nexuscrm/tablekit/internal/domain/models"
	"github.com/nexuscrm/tablekit/internal/domain/ports"
	"github.com/nexuscrm/tablekit/internal/domain/schema"
	"github.com/nexuscrm/tablekit/pkg/query"
	"github.com/nexuscrm/tablekit/pkg/utils"
)

var auditColumns = []string{
	"id", "action", "table_name", "pk", "old_values", "new_values", "context", "actor_user_id", "created_at",
}

// AuditRepository appends audit records to the audit_log table. Appends go
// through the transaction carried by the context.
type AuditRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ ports.AuditLog = (*AuditRepository)(nil)

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db, now: time.Now}
}

// AuditTableDefinition is the schema of the audit_log table
func AuditTableDefinition() schema.TableDefinition {
	return schema.TableDefinition{
		TableName: TableAuditLog,
		Columns: []schema.ColumnDefinition{
			{Name: "id", Type: schema.TypeID},
			{Name: "action", Type: schema.TypeString, Length: 16},
			{Name: "table_name", Type: schema.TypeString, Length: 64},
			{Name: "pk", Type: schema.TypeString, Length: 255},
			{Name: "old_values", Type: schema.TypeJSON, Nullable: true},
			{Name: "new_values", Type: schema.TypeJSON, Nullable: true},
			{Name: "context", Type: schema.TypeString, Length: 64},
			{Name: "actor_user_id", Type: schema.TypeID, Nullable: true},
			{Name: "created_at", Type: schema.TypeDateTime},
		},
		PrimaryKey: []string{"id"},
		Indices:    []schema.IndexDefinition{{Columns: []string{"table_name", "pk"}}},
	}
}

// Append writes records. Missing ids and timestamps are filled in.
func (r *AuditRepository) Append(ctx context.Context, records ...models.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		if rec.Timestamp.IsZero() {
			rec.Timestamp = r.now().UTC()
		}
		if rec.ID == "" {
			rec.ID = utils.GenerateSortableID(rec.Timestamp)
		}
		oldValues, err := marshalValues(rec.OldValues)
		if err != nil {
			return fmt.Errorf("encode audit old values: %w", err)
		}
		newValues, err := marshalValues(rec.NewValues)
		if err != nil {
			return fmt.Errorf("encode audit new values: %w", err)
		}
		var actor interface{}
		if rec.ActorUserID != "" {
			actor = rec.ActorUserID
		}
		rows = append(rows, map[string]interface{}{
			"id":            rec.ID,
			"action":        string(rec.Action),
			"table_name":    rec.Table,
			"pk":            rec.PK,
			"old_values":    oldValues,
			"new_values":    newValues,
			"context":       rec.Context,
			"actor_user_id": actor,
			"created_at":    rec.Timestamp.UTC(),
		})
	}

	q, err := query.BulkInsert(TableAuditLog, auditColumns, rows).Build()
	if err != nil {
		return err
	}
	if _, err := executorFor(ctx, r.db).ExecContext(ctx, q.SQL, q.Params...); err != nil {
		return fmt.Errorf("append audit records: %w", err)
	}
	return nil
}

// List returns the audit trail of one row, newest first
func (r *AuditRepository) List(ctx context.Context, table, pk string, limit int) ([]models.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q, err := query.From(TableAuditLog).
		Select(auditColumns).
		Where(sq.Eq{"table_name": table, "pk": pk}).
		OrderBy("id", true).
		Limit(limit).
		Build()
	if err != nil {
		return nil, err
	}

	rows, err := executorFor(ctx, r.db).QueryContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	raw, err := query.ScanRows(rows)
	if err != nil {
		return nil, err
	}

	out := make([]models.AuditRecord, 0, len(raw))
	for _, row := range raw {
		rec := models.AuditRecord{
			ID:          cast.ToString(row["id"]),
			Action:      models.Action(cast.ToString(row["action"])),
			Table:       cast.ToString(row["table_name"]),
			PK:          cast.ToString(row["pk"]),
			Context:     cast.ToString(row["context"]),
			ActorUserID: cast.ToString(row["actor_user_id"]),
			Timestamp:   cast.ToTimeInDefaultLocation(row["created_at"], time.UTC),
		}
		if rec.OldValues, err = unmarshalValues(row["old_values"]); err != nil {
			return nil, fmt.Errorf("decode audit record %s: %w", rec.ID, err)
		}
		if rec.NewValues, err = unmarshalValues(row["new_values"]); err != nil {
			return nil, fmt.Errorf("decode audit record %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func marshalValues(values map[string]interface{}) (interface{}, error) {
	if values == nil {
		return nil, nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalValues(raw interface{}) (map[string]interface{}, error) {
	s := cast.ToString(raw)
	if raw == nil || s == "" {
		return nil, nil
	}
	var values map[string]interface{}
	if err := json.Unmarshal([]byte(s), &values); err != nil {
		return nil, err
	}
	return values, nil
}
