package utils

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// GenerateID generates a new UUID v4 string for primary keys
func GenerateID() string {
	return uuid.NewString()
}

// IsValidUUID checks if the string is a valid UUID
func IsValidUUID(u string) bool {
	_, err := uuid.Parse(u)
	return err == nil
}

// GenerateSortableID returns a ULID for append-only records such as audit
// entries, so ids sort by creation time. Ids minted in the same millisecond
// still sort in minting order.
func GenerateSortableID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}
