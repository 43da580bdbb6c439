package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/spf13/cast"

	"github.com/nexuscrm/tablekit/internal/domain/models"
	"github.com/nexuscrm/tablekit/internal/domain/ports"
	"github.com/nexuscrm/tablekit/internal/domain/schema"
	"github.com/nexuscrm/tablekit/internal/infrastructure/database"
	"github.com/nexuscrm/tablekit/pkg/errors"
	"github.com/nexuscrm/tablekit/pkg/query"
)

// LockRepository keeps edit locks in the record_locks table
type LockRepository struct {
	db      *sql.DB
	dialect database.Dialect
	tm      *TransactionManager
	now     func() time.Time
}

var _ ports.LockProtocol = (*LockRepository)(nil)

// NewLockRepository creates a new LockRepository
func NewLockRepository(db *sql.DB, dialect database.Dialect) *LockRepository {
	return &LockRepository{
		db:      db,
		dialect: dialect,
		tm:      NewTransactionManager(db),
		now:     time.Now,
	}
}

// LockTableDefinition is the schema of the record_locks table
func LockTableDefinition() schema.TableDefinition {
	return schema.TableDefinition{
		TableName: TableRecordLocks,
		Columns: []schema.ColumnDefinition{
			{Name: "table_name", Type: schema.TypeString, Length: 64},
			{Name: "row_id", Type: schema.TypeString, Length: 255},
			{Name: "holder", Type: schema.TypeID},
			{Name: "expires_at", Type: schema.TypeDateTime},
		},
		PrimaryKey: []string{"table_name", "row_id"},
		Indices:    []schema.IndexDefinition{{Columns: []string{"expires_at"}}},
	}
}

// Acquire takes the lock for holder, or extends it when holder already has
// it. An expired lock of another holder is taken over.
func (r *LockRepository) Acquire(ctx context.Context, table, rowID, holder string, ttl time.Duration) (*models.Lock, error) {
	lock := &models.Lock{Table: table, RowID: rowID, Holder: holder}
	err := r.tm.WithTransaction(ctx, func(ctx context.Context) error {
		now := r.now().UTC()
		lock.ExpiresAt = now.Add(ttl)

		current, err := r.find(ctx, table, rowID, true)
		if err != nil {
			return err
		}
		if current == nil {
			return r.insert(ctx, lock)
		}
		if current.Holder != holder && !current.Expired(now) {
			return errors.NewConflictError(table, rowID, current.Holder)
		}
		return r.update(ctx, lock)
	})
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// Renew extends a lock holder already has
func (r *LockRepository) Renew(ctx context.Context, table, rowID, holder string, ttl time.Duration) (*models.Lock, error) {
	lock := &models.Lock{Table: table, RowID: rowID, Holder: holder}
	err := r.tm.WithTransaction(ctx, func(ctx context.Context) error {
		now := r.now().UTC()
		lock.ExpiresAt = now.Add(ttl)

		current, err := r.find(ctx, table, rowID, true)
		if err != nil {
			return err
		}
		switch {
		case current == nil:
			return errors.NewNotFoundError("lock", rowID)
		case current.Holder != holder:
			if current.Expired(now) {
				return errors.NewNotFoundError("lock", rowID)
			}
			return errors.NewConflictError(table, rowID, current.Holder)
		}
		return r.update(ctx, lock)
	})
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// Release drops the lock if holder has it
func (r *LockRepository) Release(ctx context.Context, table, rowID, holder string) error {
	q, err := query.Delete(TableRecordLocks).
		Where(sq.Eq{"table_name": table, "row_id": rowID, "holder": holder}).
		Build()
	if err != nil {
		return err
	}
	if _, err := executorFor(ctx, r.db).ExecContext(ctx, q.SQL, q.Params...); err != nil {
		return fmt.Errorf("release lock %s/%s: %w", table, rowID, err)
	}
	return nil
}

// Holder returns who holds an unexpired lock on the row
func (r *LockRepository) Holder(ctx context.Context, table, rowID string) (string, error) {
	current, err := r.find(ctx, table, rowID, false)
	if err != nil || current == nil {
		return "", err
	}
	if current.Expired(r.now().UTC()) {
		return "", nil
	}
	return current.Holder, nil
}

// PurgeExpired deletes every lapsed lock and returns how many were removed
func (r *LockRepository) PurgeExpired(ctx context.Context) (int64, error) {
	q, err := query.Delete(TableRecordLocks).
		Where(sq.LtOrEq{"expires_at": r.now().UTC()}).
		Build()
	if err != nil {
		return 0, err
	}
	res, err := executorFor(ctx, r.db).ExecContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return 0, fmt.Errorf("purge expired locks: %w", err)
	}
	return res.RowsAffected()
}

func (r *LockRepository) find(ctx context.Context, table, rowID string, forUpdate bool) (*models.Lock, error) {
	q, err := query.From(TableRecordLocks).
		Select([]string{"holder", "expires_at"}).
		Where(sq.Eq{"table_name": table, "row_id": rowID}).
		Limit(1).
		ForUpdate(forUpdate && r.dialect.SupportsForUpdate).
		Build()
	if err != nil {
		return nil, err
	}

	rows, err := executorFor(ctx, r.db).QueryContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, fmt.Errorf("read lock %s/%s: %w", table, rowID, err)
	}
	defer rows.Close()

	found, err := query.ScanRows(rows)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	expires, err := cast.ToTimeInDefaultLocationE(found[0]["expires_at"], time.UTC)
	if err != nil {
		return nil, fmt.Errorf("read lock %s/%s: %w", table, rowID, err)
	}
	return &models.Lock{
		Table:     table,
		RowID:     rowID,
		Holder:    cast.ToString(found[0]["holder"]),
		ExpiresAt: expires.UTC(),
	}, nil
}

func (r *LockRepository) insert(ctx context.Context, lock *models.Lock) error {
	q, err := query.Insert(TableRecordLocks, map[string]interface{}{
		"table_name": lock.Table,
		"row_id":     lock.RowID,
		"holder":     lock.Holder,
		"expires_at": lock.ExpiresAt,
	}).Build()
	if err != nil {
		return err
	}
	if _, err := executorFor(ctx, r.db).ExecContext(ctx, q.SQL, q.Params...); err != nil {
		return fmt.Errorf("acquire lock %s/%s: %w", lock.Table, lock.RowID, err)
	}
	return nil
}

func (r *LockRepository) update(ctx context.Context, lock *models.Lock) error {
	q, err := query.Update(TableRecordLocks).
		Set(map[string]interface{}{"holder": lock.Holder, "expires_at": lock.ExpiresAt}).
		Where(sq.Eq{"table_name": lock.Table, "row_id": lock.RowID}).
		Build()
	if err != nil {
		return err
	}
	if _, err := executorFor(ctx, r.db).ExecContext(ctx, q.SQL, q.Params...); err != nil {
		return fmt.Errorf("update lock %s/%s: %w", lock.Table, lock.RowID, err)
	}
	return nil
}
