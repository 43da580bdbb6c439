package models

import (
	"time"
)

// Lock is an exclusive edit lock on one row of a lockable table
type Lock struct {
	Table     string    `json:"table"`
	RowID     string    `json:"row_id"`
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lock has lapsed at now
func (l Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
