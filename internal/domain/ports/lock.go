package ports

import (
	"context"
	"time"

	"github.com/nexuscrm/tablekit/internal/domain/models"
)

// LockProtocol hands out exclusive, expiring edit locks on rows.
// Acquire and Renew fail with a ConflictError while another holder has an
// unexpired lock.
type LockProtocol interface {
	Acquire(ctx context.Context, table, rowID, holder string, ttl time.Duration) (*models.Lock, error)
	Renew(ctx context.Context, table, rowID, holder string, ttl time.Duration) (*models.Lock, error)
	// Release is a no-op when holder does not hold the lock
	Release(ctx context.Context, table, rowID, holder string) error
	// Holder returns the current holder, or "" when the row is unlocked
	Holder(ctx context.Context, table, rowID string) (string, error)
}
