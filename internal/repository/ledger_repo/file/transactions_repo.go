// Package file stores the ledger as a single JSON array on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"dashboard/internal/domain"
)

type TransactionRepository struct {
	path string
	mu   sync.Mutex
}

// NewTransactionRepository opens the ledger file, creating it as an empty array when it
// does not exist yet.
func NewTransactionRepository(path string) (*TransactionRepository, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &domain.LedgerError{Op: "init", Err: err}
		}
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := writeAtomic(path, []byte("[]")); err != nil {
			return nil, &domain.LedgerError{Op: "init", Err: err}
		}
	} else if err != nil {
		return nil, &domain.LedgerError{Op: "init", Err: err}
	}
	return &TransactionRepository{path: path}, nil
}

// Append rewrites the whole file under the lock. The new contents go to a temp file that
// is renamed over the old one, so readers never see a partial write.
func (r *TransactionRepository) Append(ctx context.Context, rec domain.TransactionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.read()
	if err != nil {
		return &domain.LedgerError{Op: "append", Err: err}
	}
	records = append(records, rec)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return &domain.LedgerError{Op: "append", Err: fmt.Errorf("failed to encode ledger: %w", err)}
	}
	if err := writeAtomic(r.path, data); err != nil {
		return &domain.LedgerError{Op: "append", Err: err}
	}
	return nil
}

func (r *TransactionRepository) List(ctx context.Context) ([]domain.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.read()
	if err != nil {
		return nil, &domain.LedgerError{Op: "list", Err: err}
	}
	return records, nil
}

func (r *TransactionRepository) Close() error { return nil }

func (r *TransactionRepository) read() ([]domain.TransactionRecord, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.TransactionRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}
	records := []domain.TransactionRecord{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode ledger file: %w", err)
	}
	return records, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	return nil
}
