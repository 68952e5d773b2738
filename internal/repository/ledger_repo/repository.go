package ledger_repo

import (
	"context"

	"dashboard/internal/domain"
)

// TransactionRepository is an append-only store of ledger entries. List returns entries in
// insertion order.
type TransactionRepository interface {
	Append(ctx context.Context, rec domain.TransactionRecord) error
	List(ctx context.Context) ([]domain.TransactionRecord, error)
	Close() error
}
