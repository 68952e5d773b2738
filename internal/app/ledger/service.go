package ledger

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"dashboard/internal/domain"
	"dashboard/internal/repository/ledger_repo"
	"dashboard/internal/util"
)

// Publisher receives every record after it has been stored.
type Publisher interface {
	Publish(ctx context.Context, rec domain.TransactionRecord) error
}

type LedgerService interface {
	Append(ctx context.Context, rec domain.TransactionRecord) domain.TransactionRecord
	ListAll(ctx context.Context) []domain.TransactionRecord
	Query(ctx context.Context, f Filter) []domain.TransactionRecord
}

type ledgerService struct {
	repo      ledger_repo.TransactionRepository
	publisher Publisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewLedgerService wires the store and an optional publisher. now defaults to time.Now.
func NewLedgerService(
	repo ledger_repo.TransactionRepository,
	publisher Publisher,
	now func() time.Time,
	logger *zap.Logger,
) LedgerService {
	if now == nil {
		now = time.Now
	}
	return &ledgerService{
		repo:      repo,
		publisher: publisher,
		now:       now,
		logger:    logger,
	}
}

// Append fills defaults, stamps the append time and stores the record. Store and publish
// failures are logged and never returned.
func (s *ledgerService) Append(ctx context.Context, rec domain.TransactionRecord) domain.TransactionRecord {
	rec = withDefaults(rec)
	rec.Date = s.now().UTC()

	if err := s.repo.Append(ctx, rec); err != nil {
		s.logger.Error("Failed to append transaction to ledger",
			zap.String("transaction_id", rec.ID),
			zap.String("type", string(rec.Type)),
			zap.Error(err),
		)
		return rec
	}
	s.logger.Info("Transaction logged",
		zap.String("transaction_id", rec.ID),
		zap.String("user_id", rec.UserID),
		zap.String("type", string(rec.Type)),
		zap.String("status", rec.Status),
		zap.String("amount", rec.Amount.String()),
	)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, rec); err != nil {
			s.logger.Warn("Failed to publish transaction event", zap.String("transaction_id", rec.ID), zap.Error(err))
		}
	}
	return rec
}

func (s *ledgerService) ListAll(ctx context.Context) []domain.TransactionRecord {
	records, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Error("Failed to read ledger, returning empty list", zap.Error(err))
		return []domain.TransactionRecord{}
	}
	return records
}

func (s *ledgerService) Query(ctx context.Context, f Filter) []domain.TransactionRecord {
	return f.Apply(s.ListAll(ctx))
}

func withDefaults(rec domain.TransactionRecord) domain.TransactionRecord {
	if rec.ID == "" {
		rec.ID = util.GenerateTransactionID()
	}
	if rec.UserID == "" {
		rec.UserID = domain.DefaultUserID
	}
	if rec.Type == "" {
		rec.Type = domain.TransactionTypePayment
	}
	if rec.PlanOrItem == "" {
		rec.PlanOrItem = domain.DefaultPlanOrItem
	}
	if rec.Currency == "" {
		rec.Currency = domain.DefaultCurrency
	}
	if rec.PaymentMethod == "" {
		rec.PaymentMethod = domain.DefaultPaymentMethod
	}
	if rec.Status == "" {
		rec.Status = domain.DefaultLedgerStatus
	}
	return rec
}

const (
	SortByDate   = "date"
	SortByAmount = "amount"

	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Filter narrows and orders a ledger listing. Zero values match everything and keep
// insertion order.
type Filter struct {
	Type   domain.TransactionType
	Status string
	From   time.Time
	To     time.Time
	Search string
	SortBy string
	Order  string
}

func (f Filter) Apply(records []domain.TransactionRecord) []domain.TransactionRecord {
	search := strings.ToLower(strings.TrimSpace(f.Search))

	out := make([]domain.TransactionRecord, 0, len(records))
	for _, rec := range records {
		if f.Type != "" && rec.Type != f.Type {
			continue
		}
		if f.Status != "" && !strings.EqualFold(rec.Status, f.Status) {
			continue
		}
		if !f.From.IsZero() && rec.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && rec.Date.After(f.To) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(rec.PlanOrItem), search) &&
			!strings.Contains(strings.ToLower(rec.ID), search) {
			continue
		}
		out = append(out, rec)
	}

	if f.SortBy == "" {
		return out
	}
	desc := f.Order != OrderAsc
	var less func(a, b domain.TransactionRecord) bool
	switch f.SortBy {
	case SortByAmount:
		less = func(a, b domain.TransactionRecord) bool { return a.Amount.LessThan(b.Amount) }
	default:
		less = func(a, b domain.TransactionRecord) bool { return a.Date.Before(b.Date) }
	}
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out
}
