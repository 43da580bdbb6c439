package ports

import (
	"context"

	"github.com/nexuscrm/tablekit/internal/domain/models"
)

// AuditLog stores audit records.
// Append must write through the transaction carried by ctx, so a rolled
// back mutation leaves no record behind.
type AuditLog interface {
	Append(ctx context.Context, records ...models.AuditRecord) error

	// List returns the records of one row, newest first
	List(ctx context.Context, table, pk string, limit int) ([]models.AuditRecord, error)
}
