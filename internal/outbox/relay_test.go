package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"dashboard/internal/domain"
)

type fakeOutboxRepo struct {
	mu       sync.Mutex
	messages []domain.OutboxMessage
	fetchErr error
}

func (f *fakeOutboxRepo) CreateMessageTx(ctx context.Context, q domain.Querier, msg *domain.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *fakeOutboxRepo) GetPendingMessages(ctx context.Context, q domain.Querier, limit, maxAttempts int) ([]domain.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []domain.OutboxMessage
	for _, m := range f.messages {
		if m.Status != domain.OutboxStatusSent && m.Attempts < maxAttempts && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeOutboxRepo) MarkMessagesAsSent(ctx context.Context, q domain.Querier, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		for i := range f.messages {
			if f.messages[i].ID == id {
				f.messages[i].Status = domain.OutboxStatusSent
			}
		}
	}
	return nil
}

func (f *fakeOutboxRepo) MarkMessageAsFailed(ctx context.Context, q domain.Querier, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.messages {
		if f.messages[i].ID == id {
			f.messages[i].Status = domain.OutboxStatusFailed
			f.messages[i].Attempts++
		}
	}
	return nil
}

func (f *fakeOutboxRepo) status(id string) (domain.OutboxMessageStatus, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			return m.Status, m.Attempts
		}
	}
	return "", 0
}

func seedOutbox(t *testing.T, repo *fakeOutboxRepo, ids ...string) {
	t.Helper()
	for _, id := range ids {
		msg, err := domain.NewTransactionOutboxMessage("evt_"+id, domain.TransactionRecord{ID: id, Type: domain.TransactionTypePayment}, "ledger_transactions")
		if err != nil {
			t.Fatal(err)
		}
		repo.CreateMessageTx(context.Background(), nil, msg)
	}
}

func TestRelaySendsPendingMessages(t *testing.T) {
	repo := &fakeOutboxRepo{}
	seedOutbox(t, repo, "txn_1", "txn_2")
	producer := &fakeProducer{}

	r := NewRelay(nil, repo, producer, time.Hour, time.Second, zap.NewNop())
	if err := r.processOutboxMessages(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}

	sent := producer.sent()
	if len(sent) != 2 || sent[0].key != "txn_1" || sent[1].key != "txn_2" || sent[0].topic != "ledger_transactions" {
		t.Fatalf("unexpected sends %+v", sent)
	}
	if st, _ := repo.status("evt_txn_1"); st != domain.OutboxStatusSent {
		t.Fatalf("status = %s, want SENT", st)
	}

	if err := r.processOutboxMessages(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(producer.sent()) != 2 {
		t.Fatal("sent messages must not be re-sent")
	}
}

func TestRelayMarksFailuresAndRetries(t *testing.T) {
	repo := &fakeOutboxRepo{}
	seedOutbox(t, repo, "txn_1")
	producer := &fakeProducer{err: errors.New("broker down")}

	r := NewRelay(nil, repo, producer, time.Hour, time.Second, zap.NewNop())
	for i := 0; i < relayMaxAttempts+2; i++ {
		if err := r.processOutboxMessages(context.Background()); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	st, attempts := repo.status("evt_txn_1")
	if st != domain.OutboxStatusFailed || attempts != relayMaxAttempts {
		t.Fatalf("status=%s attempts=%d, want FAILED/%d", st, attempts, relayMaxAttempts)
	}
}

func TestRelayRunsUntilStopped(t *testing.T) {
	repo := &fakeOutboxRepo{}
	seedOutbox(t, repo, "txn_1")
	producer := &fakeProducer{}

	r := NewRelay(nil, repo, producer, 5*time.Millisecond, time.Second, zap.NewNop())
	r.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for len(producer.sent()) == 0 {
		select {
		case <-deadline:
			t.Fatal("relay never sent the message")
		case <-time.After(5 * time.Millisecond):
		}
	}
	r.Stop()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelayReportsFetchError(t *testing.T) {
	repo := &fakeOutboxRepo{fetchErr: errors.New("connection reset")}
	r := NewRelay(nil, repo, &fakeProducer{}, time.Hour, time.Second, zap.NewNop())
	if err := r.processOutboxMessages(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
}
