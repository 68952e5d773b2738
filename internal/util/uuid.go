package util

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateUUID returns a random v4 UUID string.
func GenerateUUID() string {
	return uuid.NewString()
}

// GenerateTransactionID returns a time-ordered ledger id. UUIDv7 keeps ids sortable by
// creation time; if the generator fails the id falls back to the clock alone.
func GenerateTransactionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("txn_%d", time.Now().UnixNano())
	}
	return "txn_" + id.String()
}
