package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"dashboard/internal/domain"
	"dashboard/internal/repository/outbox_repo"
	"dashboard/internal/util"
)

type TransactionRepository struct {
	db          *sql.DB
	outbox      outbox_repo.OutboxRepository
	outboxTopic string
}

type Option func(*TransactionRepository)

// WithOutbox stores a TransactionLogged message in the same database transaction as
// every appended entry.
func WithOutbox(repo outbox_repo.OutboxRepository, topic string) Option {
	return func(r *TransactionRepository) {
		r.outbox = repo
		r.outboxTopic = topic
	}
}

func NewTransactionRepository(db *sql.DB, opts ...Option) *TransactionRepository {
	r := &TransactionRepository{db: db}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *TransactionRepository) Append(ctx context.Context, rec domain.TransactionRecord) error {
	if r.outbox == nil {
		return r.AppendTx(ctx, r.db, rec)
	}

	msg, err := domain.NewTransactionOutboxMessage("evt_"+util.GenerateUUID(), rec, r.outboxTopic)
	if err != nil {
		return &domain.LedgerError{Op: "append", Err: err}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.LedgerError{Op: "append", Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer tx.Rollback()

	if err := r.AppendTx(ctx, tx, rec); err != nil {
		return err
	}
	if err := r.outbox.CreateMessageTx(ctx, tx, msg); err != nil {
		return &domain.LedgerError{Op: "append", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &domain.LedgerError{Op: "append", Err: fmt.Errorf("failed to commit transaction: %w", err)}
	}
	return nil
}

func (r *TransactionRepository) AppendTx(ctx context.Context, querier domain.Querier, rec domain.TransactionRecord) error {
	query := `
		INSERT INTO transactions (id, user_id, type, plan_or_item, amount, currency, status, payment_method, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := querier.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		string(rec.Type),
		rec.PlanOrItem,
		rec.Amount,
		rec.Currency,
		rec.Status,
		rec.PaymentMethod,
		rec.Date,
	)
	if err != nil {
		return &domain.LedgerError{Op: "append", Err: fmt.Errorf("failed to insert transaction %s: %w", rec.ID, err)}
	}
	return nil
}

func (r *TransactionRepository) List(ctx context.Context) ([]domain.TransactionRecord, error) {
	query := `
		SELECT id, user_id, type, plan_or_item, amount, currency, status, payment_method, date
		FROM transactions
		ORDER BY seq ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &domain.LedgerError{Op: "list", Err: fmt.Errorf("failed to query transactions: %w", err)}
	}
	defer rows.Close()

	records := []domain.TransactionRecord{}
	for rows.Next() {
		var rec domain.TransactionRecord
		var txType string
		if err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&txType,
			&rec.PlanOrItem,
			&rec.Amount,
			&rec.Currency,
			&rec.Status,
			&rec.PaymentMethod,
			&rec.Date,
		); err != nil {
			return nil, &domain.LedgerError{Op: "list", Err: fmt.Errorf("failed to scan transaction: %w", err)}
		}
		rec.Type = domain.TransactionType(txType)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.LedgerError{Op: "list", Err: err}
	}
	return records, nil
}

func (r *TransactionRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
