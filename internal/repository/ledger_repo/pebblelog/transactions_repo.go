// Package pebblelog stores the ledger as an append-only log in an embedded Pebble database.
package pebblelog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"dashboard/internal/domain"
)

type TransactionRepository struct {
	db     *pebble.DB
	logger *zap.Logger

	mu      sync.Mutex
	lastSeq uint64
}

// Open opens (or creates) the database in dir and loads the last sequence from metadata.
func Open(dir string, logger *zap.Logger) (*TransactionRepository, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, &domain.LedgerError{Op: "open", Err: err}
	}

	r := &TransactionRepository{db: db, logger: logger}
	meta, closer, err := db.Get(metaKey)
	switch {
	case err == nil:
		if len(meta) >= 8 {
			r.lastSeq = binary.BigEndian.Uint64(meta[:8])
		}
		closer.Close()
	case errors.Is(err, pebble.ErrNotFound):
	default:
		db.Close()
		return nil, &domain.LedgerError{Op: "open", Err: fmt.Errorf("failed to read ledger meta: %w", err)}
	}

	logger.Info("Pebble ledger opened", zap.String("dir", dir), zap.Uint64("last_seq", r.lastSeq))
	return r, nil
}

// Append writes the entry and the new last sequence in one synced batch.
func (r *TransactionRepository) Append(ctx context.Context, rec domain.TransactionRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return &domain.LedgerError{Op: "append", Err: fmt.Errorf("failed to encode record: %w", err)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.lastSeq + 1
	b := r.db.NewBatch()
	defer b.Close()

	if err := b.Set(entryKey(seq), value, nil); err != nil {
		return &domain.LedgerError{Op: "append", Err: err}
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], seq)
	if err := b.Set(metaKey, meta[:], nil); err != nil {
		return &domain.LedgerError{Op: "append", Err: err}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return &domain.LedgerError{Op: "append", Err: fmt.Errorf("failed to commit batch: %w", err)}
	}

	r.lastSeq = seq
	return nil
}

// List scans every entry in sequence order. Entries that fail to decode are skipped.
func (r *TransactionRepository) List(ctx context.Context) ([]domain.TransactionRecord, error) {
	upper := append(entryKey(^uint64(0)), 0x00)
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: entryKey(0), UpperBound: upper})
	if err != nil {
		return nil, &domain.LedgerError{Op: "list", Err: err}
	}
	defer iter.Close()

	records := []domain.TransactionRecord{}
	for iter.First(); iter.Valid(); iter.Next() {
		var rec domain.TransactionRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			r.logger.Warn("Skipping undecodable ledger entry", zap.Uint64("seq", seqFromKey(iter.Key())), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, &domain.LedgerError{Op: "list", Err: err}
	}
	return records, nil
}

func (r *TransactionRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close pebble ledger: %w", err)
	}
	return nil
}
