package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dashboard/internal/app/ledger"
	"dashboard/internal/domain"
	"dashboard/internal/repository/ledger_repo/file"
)

type fakeGateway struct {
	mu sync.Mutex

	paymentStatus      map[string]string
	subscriptionStatus map[string]string
	createStatus       string
	nextID             int
	calls              map[string]int
	failNext           error
	omitID             bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		paymentStatus:      make(map[string]string),
		subscriptionStatus: make(map[string]string),
		createStatus:       "PENDING",
		calls:              make(map[string]int),
	}
}

func (g *fakeGateway) take(op string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[op]++
	err := g.failNext
	g.failNext = nil
	return err
}

func (g *fakeGateway) count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *fakeGateway) setPaymentStatus(id, status string) {
	g.mu.Lock()
	g.paymentStatus[id] = status
	g.mu.Unlock()
}

func (g *fakeGateway) setSubscriptionStatus(id, status string) {
	g.mu.Lock()
	g.subscriptionStatus[id] = status
	g.mu.Unlock()
}

func (g *fakeGateway) CreatePayment(ctx context.Context, amount decimal.Decimal, description, callbackURL string) (*domain.PaymentCreated, error) {
	if err := g.take("create_payment"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.omitID {
		return &domain.PaymentCreated{Status: g.createStatus, Raw: json.RawMessage(`{"status":"PENDING"}`)}, nil
	}
	g.nextID++
	id := fmt.Sprintf("p%d", g.nextID)
	g.paymentStatus[id] = "UNPAID"
	raw, _ := json.Marshal(map[string]string{"paymentId": id, "status": g.createStatus})
	return &domain.PaymentCreated{PaymentID: id, Status: g.createStatus, QRCode: "qr", ReadableCode: "RC", Raw: raw}, nil
}

func (g *fakeGateway) CheckPaymentStatus(ctx context.Context, paymentID string) (*domain.PaymentStatusResult, error) {
	if err := g.take("check_payment"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	status := g.paymentStatus[paymentID]
	raw, _ := json.Marshal(map[string]string{"paymentId": paymentID, "status": status})
	return &domain.PaymentStatusResult{PaymentID: paymentID, Status: status, Raw: raw}, nil
}

func (g *fakeGateway) CancelPayment(ctx context.Context, paymentID string) (json.RawMessage, error) {
	if err := g.take("cancel_payment"); err != nil {
		return nil, err
	}
	return json.RawMessage(`{}`), nil
}

func (g *fakeGateway) RefundPayment(ctx context.Context, paymentID string) (json.RawMessage, error) {
	if err := g.take("refund_payment"); err != nil {
		return nil, err
	}
	return json.RawMessage(`{}`), nil
}

func (g *fakeGateway) CreateSubscription(ctx context.Context, req domain.SubscriptionRequest) (*domain.SubscriptionCreated, error) {
	if err := g.take("create_subscription"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := fmt.Sprintf("s%d", g.nextID)
	g.subscriptionStatus[id] = "PENDING"
	return &domain.SubscriptionCreated{ID: id, QRCode: "qr", ReadableCode: "RC", AppLink: "fib://" + id, Status: "PENDING"}, nil
}

func (g *fakeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*domain.SubscriptionDetails, error) {
	if err := g.take("get_subscription"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	status := g.subscriptionStatus[subscriptionID]
	raw, _ := json.Marshal(map[string]string{"subscriptionId": subscriptionID, "status": status})
	return &domain.SubscriptionDetails{SubscriptionID: subscriptionID, Status: status, Raw: raw}, nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, subscriptionID string) (json.RawMessage, error) {
	if err := g.take("cancel_subscription"); err != nil {
		return nil, err
	}
	return json.RawMessage(`{"status":"CANCELLED"}`), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingLedger struct {
	mu   sync.Mutex
	recs []domain.TransactionRecord
}

func (l *recordingLedger) Append(_ context.Context, rec domain.TransactionRecord) domain.TransactionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, rec)
	return rec
}

func (l *recordingLedger) records() []domain.TransactionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.TransactionRecord(nil), l.recs...)
}

type fixture struct {
	engine  *Engine
	gateway *fakeGateway
	clock   *fakeClock
	ledger  *recordingLedger
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		gateway: newFakeGateway(),
		clock:   &fakeClock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)},
		ledger:  &recordingLedger{},
	}
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.engine = NewEngine(f.gateway, f.ledger, zap.NewNop(), opts...)
	t.Cleanup(f.engine.Close)
	return f
}

func (f *fixture) createPayment(t *testing.T, session string) string {
	t.Helper()
	res, err := f.engine.CreatePayment(context.Background(), session, decimal.NewFromInt(1000), "Test Payment", "")
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	return res.Payment.ID
}

func TestEndToEndCreatePayRefund(t *testing.T) {
	repo, err := file.NewTransactionRepository(filepath.Join(t.TempDir(), "transactions.json"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	ledgerSvc := ledger.NewLedgerService(repo, nil, nil, zap.NewNop())
	gw := newFakeGateway()
	engine := NewEngine(gw, ledgerSvc, zap.NewNop())
	defer engine.Close()
	ctx := context.Background()

	created, err := engine.CreatePayment(ctx, "", decimal.NewFromInt(1000), "Test Payment", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created.Payment.ID
	if id != "p1" || created.Status != domain.PaymentStatusCreated {
		t.Fatalf("unexpected create result %+v", created.Payment)
	}

	recs := ledgerSvc.ListAll(ctx)
	if len(recs) != 1 {
		t.Fatalf("want 1 ledger record, got %d", len(recs))
	}
	if recs[0].Type != domain.TransactionTypePayment || !recs[0].Amount.Equal(decimal.NewFromInt(1000)) ||
		recs[0].Status != "PENDING" || recs[0].UserID != "guest" || recs[0].ID != id {
		t.Fatalf("unexpected create record %+v", recs[0])
	}

	gw.setPaymentStatus(id, "PAID")
	status, err := engine.CheckPaymentStatus(ctx, "", id)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status.Status != domain.PaymentStatusPaid {
		t.Fatalf("status = %s, want PAID", status.Status)
	}
	if len(ledgerSvc.ListAll(ctx)) != 1 {
		t.Fatal("status checks must not append to the ledger")
	}

	refund, err := engine.RefundPayment(ctx, "", id)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refund.Status != domain.PaymentStatusRefunded {
		t.Fatalf("status after refund = %s", refund.Status)
	}
	recs = ledgerSvc.ListAll(ctx)
	if len(recs) != 2 {
		t.Fatalf("want 2 ledger records, got %d", len(recs))
	}
	if recs[1].Type != domain.TransactionTypePaymentRefund || !recs[1].Amount.IsZero() || recs[1].Status != "REFUNDED" || recs[1].ID != id {
		t.Fatalf("unexpected refund record %+v", recs[1])
	}

	if _, err := engine.RefundPayment(ctx, "", id); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second refund = %v, want ErrInvalidTransition", err)
	}
	if len(ledgerSvc.ListAll(ctx)) != 2 {
		t.Fatal("failed refund must not append to the ledger")
	}
	if gw.count("refund_payment") != 1 {
		t.Fatalf("gateway refund calls = %d, want 1", gw.count("refund_payment"))
	}
}

func TestCreatePaymentRejectsInvalidInputWithoutGateway(t *testing.T) {
	f := newFixture(t)
	for _, amount := range []int64{0, -5} {
		_, err := f.engine.CreatePayment(context.Background(), "s", decimal.NewFromInt(amount), "x", "")
		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("amount %d: got %v, want ValidationError", amount, err)
		}
	}
	if f.gateway.count("create_payment") != 0 {
		t.Fatal("gateway must not be called for invalid input")
	}
}

func TestOnlyOnePaymentInFlightPerSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createPayment(t, "alice")

	_, err := f.engine.CreatePayment(ctx, "alice", decimal.NewFromInt(5), "again", "")
	if !errors.Is(err, domain.ErrPaymentInFlight) {
		t.Fatalf("second create = %v, want ErrPaymentInFlight", err)
	}
	if _, err := f.engine.CreatePayment(ctx, "bob", decimal.NewFromInt(5), "other session", ""); err != nil {
		t.Fatalf("other session create: %v", err)
	}
}

func TestRefundRequiresPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.createPayment(t, "s")
	if _, err := f.engine.RefundPayment(ctx, "s", id); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("refund in CREATED = %v", err)
	}

	f.gateway.setPaymentStatus(id, "UNPAID")
	if _, err := f.engine.CheckPaymentStatus(ctx, "s", id); err != nil {
		t.Fatalf("check: %v", err)
	}
	if _, err := f.engine.RefundPayment(ctx, "s", id); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("refund in UNPAID = %v", err)
	}

	if _, err := f.engine.CancelPayment(ctx, "s", id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	before := len(f.ledger.records())
	if _, err := f.engine.RefundPayment(ctx, "s", id); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("refund in CANCELED = %v", err)
	}
	if len(f.ledger.records()) != before {
		t.Fatal("rejected refund appended to the ledger")
	}
	if f.gateway.count("refund_payment") != 0 {
		t.Fatal("rejected refund reached the gateway")
	}
}

func TestCancelRejectedWhenPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createPayment(t, "s")

	f.gateway.setPaymentStatus(id, "PAID")
	if _, err := f.engine.CheckPaymentStatus(ctx, "s", id); err != nil {
		t.Fatalf("check: %v", err)
	}
	before := len(f.ledger.records())

	if _, err := f.engine.CancelPayment(ctx, "s", id); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("cancel in PAID = %v", err)
	}
	cur, _ := f.engine.CurrentPayment("s")
	if cur.Status != domain.PaymentStatusPaid {
		t.Fatalf("status changed to %s", cur.Status)
	}
	if len(f.ledger.records()) != before {
		t.Fatal("rejected cancel appended to the ledger")
	}
}

func TestCancelRecordsZeroAmount(t *testing.T) {
	f := newFixture(t)
	id := f.createPayment(t, "s")

	res, err := f.engine.CancelPayment(context.Background(), "s", id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Status != domain.PaymentStatusCanceled {
		t.Fatalf("status = %s", res.Status)
	}
	recs := f.ledger.records()
	last := recs[len(recs)-1]
	if !last.Amount.IsZero() || last.Status != "CANCELED" || last.Type != domain.TransactionTypePayment || last.ID != id {
		t.Fatalf("unexpected cancel record %+v", last)
	}

	// A canceled payment no longer blocks a new one.
	f.createPayment(t, "s")
}

func TestUnknownPaymentActionsFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.CancelPayment(ctx, "s", "nope"); !errors.Is(err, domain.ErrNoActivePayment) {
		t.Fatalf("cancel unknown = %v", err)
	}
	if _, err := f.engine.RefundPayment(ctx, "s", "nope"); !errors.Is(err, domain.ErrNoActivePayment) {
		t.Fatalf("refund unknown = %v", err)
	}
	if len(f.ledger.records()) != 0 {
		t.Fatal("failed actions appended to the ledger")
	}
}

func TestUntrackedStatusPassesThrough(t *testing.T) {
	f := newFixture(t)
	f.gateway.setPaymentStatus("external", "PAID")

	res, err := f.engine.CheckPaymentStatus(context.Background(), "s", "external")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Payment != nil || res.Status != domain.PaymentStatusPaid || res.Upstream == nil {
		t.Fatalf("unexpected pass-through result %+v", res)
	}
}

func TestPaymentExpiresAfterValidityWindow(t *testing.T) {
	f := newFixture(t, WithPaymentValidity(60*time.Second))
	ctx := context.Background()
	id := f.createPayment(t, "s")

	f.clock.Advance(59 * time.Second)
	res, err := f.engine.CheckPaymentStatus(ctx, "s", id)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Status != domain.PaymentStatusUnpaid {
		t.Fatalf("status before window end = %s", res.Status)
	}
	calls := f.gateway.count("check_payment")

	f.clock.Advance(time.Second)
	res, err = f.engine.CheckPaymentStatus(ctx, "s", id)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Status != domain.PaymentStatusExpired || res.Notice != ExpiredNotice {
		t.Fatalf("want EXPIRED with notice, got %+v", res)
	}
	if f.gateway.count("check_payment") != calls {
		t.Fatal("expiry must not call the gateway")
	}

	// A late PAID upstream cannot reactivate the expired payment.
	f.gateway.setPaymentStatus(id, "PAID")
	res, _ = f.engine.CheckPaymentStatus(ctx, "s", id)
	if res.Status != domain.PaymentStatusExpired {
		t.Fatalf("expired payment reactivated to %s", res.Status)
	}
	if _, err := f.engine.CancelPayment(ctx, "s", id); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("cancel expired = %v", err)
	}

	f.createPayment(t, "s")
}

func TestCreateAfterWindowWithoutStatusCheck(t *testing.T) {
	f := newFixture(t)
	f.createPayment(t, "s")
	f.clock.Advance(DefaultPaymentValidity)
	f.createPayment(t, "s")
}

func TestCheckStatusGatewayErrorKeepsState(t *testing.T) {
	f := newFixture(t)
	id := f.createPayment(t, "s")
	f.gateway.failNext = &domain.GatewayError{Op: "check", StatusCode: 502}

	if _, err := f.engine.CheckPaymentStatus(context.Background(), "s", id); err == nil {
		t.Fatal("expected gateway error")
	}
	cur, _ := f.engine.CurrentPayment("s")
	if cur.Status != domain.PaymentStatusCreated {
		t.Fatalf("status = %s, want CREATED", cur.Status)
	}
}

func TestReturnedPaymentIsACopy(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.CreatePayment(context.Background(), "s", decimal.NewFromInt(10), "x", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res.Payment.Status = domain.PaymentStatusPaid

	cur, _ := f.engine.CurrentPayment("s")
	if cur.Status != domain.PaymentStatusCreated {
		t.Fatal("caller mutation leaked into engine state")
	}
}

func TestPaymentCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createPayment(t, "s")

	if _, err := f.engine.ApplyPaymentCallback(ctx, id, ""); err == nil {
		t.Fatal("expected validation error for empty status")
	}
	if _, err := f.engine.ApplyPaymentCallback(ctx, "unknown", "PAID"); !errors.Is(err, domain.ErrNoActivePayment) {
		t.Fatalf("unknown callback = %v", err)
	}

	res, err := f.engine.ApplyPaymentCallback(ctx, id, "paid")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if res.Status != domain.PaymentStatusPaid {
		t.Fatalf("status = %s", res.Status)
	}
	if _, err := f.engine.RefundPayment(ctx, "s", id); err != nil {
		t.Fatalf("refund after callback: %v", err)
	}
	res, _ = f.engine.ApplyPaymentCallback(ctx, id, "PAID")
	if res.Status != domain.PaymentStatusRefunded {
		t.Fatalf("terminal payment changed by callback to %s", res.Status)
	}
}

func TestCallbackRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createPayment(t, "s")

	_, err := f.engine.ApplyPaymentCallback(ctx, id, "BOGUS")
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("callback BOGUS = %v, want ValidationError", err)
	}
	cur, _ := f.engine.CurrentPayment("s")
	if cur.Status != domain.PaymentStatusCreated {
		t.Fatalf("status = %s, want CREATED", cur.Status)
	}
	if _, err := f.engine.CreatePayment(ctx, "s", decimal.NewFromInt(5), "again", ""); !errors.Is(err, domain.ErrPaymentInFlight) {
		t.Fatalf("create after bogus callback = %v, want ErrPaymentInFlight", err)
	}
}

func TestUpstreamUnknownStatusKeepsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createPayment(t, "s")
	f.gateway.setPaymentStatus(id, "BOGUS")

	res, err := f.engine.CheckPaymentStatus(ctx, "s", id)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Status != domain.PaymentStatusCreated {
		t.Fatalf("status = %s, want CREATED", res.Status)
	}
	if _, err := f.engine.CreatePayment(ctx, "s", decimal.NewFromInt(5), "again", ""); !errors.Is(err, domain.ErrPaymentInFlight) {
		t.Fatalf("create after unknown upstream status = %v, want ErrPaymentInFlight", err)
	}
}

func TestRegressiveTransitionsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createPayment(t, "s")

	if _, err := f.engine.ApplyPaymentCallback(ctx, id, "PAID"); err != nil {
		t.Fatalf("callback PAID: %v", err)
	}
	if _, err := f.engine.ApplyPaymentCallback(ctx, id, "UNPAID"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("callback PAID -> UNPAID = %v, want ErrInvalidTransition", err)
	}

	f.gateway.setPaymentStatus(id, "PENDING")
	res, err := f.engine.CheckPaymentStatus(ctx, "s", id)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Status != domain.PaymentStatusPaid {
		t.Fatalf("status = %s, want PAID", res.Status)
	}
	if _, err := f.engine.RefundPayment(ctx, "s", id); err != nil {
		t.Fatalf("refund: %v", err)
	}
}

func TestCreatePaymentWithoutIDFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.omitID = true

	_, err := f.engine.CreatePayment(ctx, "s", decimal.NewFromInt(5), "x", "")
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("create without id = %v, want GatewayError", err)
	}
	if len(f.ledger.records()) != 0 {
		t.Fatal("rejected create appended to the ledger")
	}

	f.gateway.omitID = false
	f.createPayment(t, "s")
}

func TestReadPathsDoNotCreateSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("s-%d", i)
		f.engine.CurrentSubscription(id)
		f.engine.CurrentPayment(id)
		f.engine.IsSubscribed(id)
		if _, err := f.engine.CheckPaymentStatus(ctx, id, "external"); err != nil {
			t.Fatalf("check: %v", err)
		}
		if _, err := f.engine.GetSubscription(ctx, id, "external"); err != nil {
			t.Fatalf("get subscription: %v", err)
		}
		f.engine.CancelPayment(ctx, id, "external")
		f.engine.CancelSubscription(ctx, id, "external")
	}

	f.engine.mu.Lock()
	n := len(f.engine.sessions)
	f.engine.mu.Unlock()
	if n != 0 {
		t.Fatalf("read paths created %d sessions", n)
	}
}

func TestIdleSessionsEvictedAtCapacity(t *testing.T) {
	f := newFixture(t, WithMaxSessions(2))
	ctx := context.Background()

	settled := f.createPayment(t, "settled")
	if _, err := f.engine.CancelPayment(ctx, "settled", settled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.createPayment(t, "busy")
	f.createPayment(t, "new")

	f.engine.mu.Lock()
	_, hasSettled := f.engine.sessions["settled"]
	_, hasBusy := f.engine.sessions["busy"]
	_, owned := f.engine.owners[settled]
	n := len(f.engine.sessions)
	f.engine.mu.Unlock()

	if hasSettled || owned {
		t.Fatal("idle session was not evicted")
	}
	if !hasBusy || n != 2 {
		t.Fatalf("sessions = %d, busy kept = %v", n, hasBusy)
	}
	if _, err := f.engine.ApplyPaymentCallback(ctx, settled, "PAID"); !errors.Is(err, domain.ErrNoActivePayment) {
		t.Fatalf("callback for evicted payment = %v", err)
	}
	if _, err := f.engine.CreatePayment(ctx, "busy", decimal.NewFromInt(5), "x", ""); !errors.Is(err, domain.ErrPaymentInFlight) {
		t.Fatalf("busy session lost its guard: %v", err)
	}
}

func TestSettledPaymentsArePruned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.createPayment(t, "s")
	if _, err := f.engine.CancelPayment(ctx, "s", first); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	second := f.createPayment(t, "s")

	if _, err := f.engine.CancelPayment(ctx, "s", first); !errors.Is(err, domain.ErrNoActivePayment) {
		t.Fatalf("cancel pruned payment = %v", err)
	}
	if cur, _ := f.engine.CurrentPayment("s"); cur.ID != second {
		t.Fatalf("current payment = %s, want %s", cur.ID, second)
	}
}

func TestSubscriptionUnknownStatusIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.engine.CreateSubscription(ctx, "s", domain.SubscriptionRequest{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.gateway.setSubscriptionStatus(created.ID, "ACTIVE")
	if _, err := f.engine.GetSubscription(ctx, "s", created.ID); err != nil {
		t.Fatalf("get: %v", err)
	}

	for _, status := range []string{"SUSPENDED", "PENDING"} {
		f.gateway.setSubscriptionStatus(created.ID, status)
		res, err := f.engine.GetSubscription(ctx, "s", created.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if res.Status != domain.SubscriptionStatusActive {
			t.Fatalf("upstream %s moved subscription to %s", status, res.Status)
		}
	}
	if !f.engine.IsSubscribed("s") {
		t.Fatal("subscription lost its ACTIVE status")
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.engine.CreateSubscription(ctx, "s", domain.SubscriptionRequest{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != "PENDING" {
		t.Fatalf("status = %s", created.Status)
	}
	recs := f.ledger.records()
	if len(recs) != 1 || recs[0].Type != domain.TransactionTypeSubscription || recs[0].Status != "CREATED" || recs[0].ID != created.ID ||
		!recs[0].Amount.Equal(decimal.NewFromInt(500)) || recs[0].PlanOrItem != "New Subscription" {
		t.Fatalf("unexpected create record %+v", recs)
	}

	if _, err := f.engine.CreateSubscription(ctx, "s", domain.SubscriptionRequest{}); !errors.Is(err, domain.ErrSubscriptionInFlight) {
		t.Fatalf("second create = %v", err)
	}
	if f.engine.IsSubscribed("s") {
		t.Fatal("PENDING must not count as subscribed")
	}

	f.gateway.setSubscriptionStatus(created.ID, "ACTIVE")
	res, err := f.engine.GetSubscription(ctx, "s", created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.Status != domain.SubscriptionStatusActive {
		t.Fatalf("status = %s", res.Status)
	}
	if !f.engine.IsSubscribed("s") {
		t.Fatal("ACTIVE must count as subscribed")
	}

	if _, err := f.engine.CancelSubscription(ctx, "s", created.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.engine.IsSubscribed("s") {
		t.Fatal("cancelled subscription still counts as subscribed")
	}
	recs = f.ledger.records()
	last := recs[len(recs)-1]
	if !last.Amount.IsZero() || last.Status != "CANCELLED" || last.PaymentMethod != "N/A" ||
		last.ID != created.ID || last.PlanOrItem != created.ID {
		t.Fatalf("unexpected cancel record %+v", last)
	}

	calls := f.gateway.count("get_subscription")
	res, err = f.engine.GetSubscription(ctx, "s", created.ID)
	if err != nil || res.Status != domain.SubscriptionStatusCancelled {
		t.Fatalf("get after cancel = %+v, %v", res, err)
	}
	if f.gateway.count("get_subscription") != calls {
		t.Fatal("terminal subscription must be answered locally")
	}
	if _, err := f.engine.CancelSubscription(ctx, "s", created.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second cancel = %v", err)
	}

	if _, err := f.engine.CreateSubscription(ctx, "s", domain.SubscriptionRequest{}); err != nil {
		t.Fatalf("create after cancel: %v", err)
	}
}

func TestSubscriptionStatusesAreNormalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.engine.CreateSubscription(ctx, "s", domain.SubscriptionRequest{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.gateway.setSubscriptionStatus(created.ID, "canceled")
	res, err := f.engine.GetSubscription(ctx, "s", created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.Status != domain.SubscriptionStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", res.Status)
	}
	if _, err := f.engine.CancelSubscription(ctx, "s", created.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("cancel terminal = %v", err)
	}
}

func TestCancelUnknownSubscription(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.CancelSubscription(context.Background(), "s", "nope"); !errors.Is(err, domain.ErrNoActiveSubscription) {
		t.Fatalf("got %v", err)
	}
}

func TestAutoPollSettlesPayment(t *testing.T) {
	f := newFixture(t, WithAutoPoll(true), WithPollIntervals(5*time.Millisecond, 5*time.Millisecond))
	id := f.createPayment(t, "s")
	f.gateway.setPaymentStatus(id, "PAID")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cur, _ := f.engine.CurrentPayment("s"); cur.Status == domain.PaymentStatusPaid {
			calls := f.gateway.count("check_payment")
			time.Sleep(30 * time.Millisecond)
			if f.gateway.count("check_payment") != calls {
				t.Fatal("poller kept running after PAID")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("auto poll never observed PAID")
}

func TestAutoPollStopsOnCancel(t *testing.T) {
	f := newFixture(t, WithAutoPoll(true), WithPollIntervals(5*time.Millisecond, 5*time.Millisecond))
	id := f.createPayment(t, "s")
	if _, err := f.engine.CancelPayment(context.Background(), "s", id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	calls := f.gateway.count("check_payment")
	time.Sleep(30 * time.Millisecond)
	if f.gateway.count("check_payment") != calls {
		t.Fatal("poller kept running after cancel")
	}
}

func TestConcurrentCreatesAllowOnlyOne(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.CreatePayment(context.Background(), "s", decimal.NewFromInt(1), "x", ""); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if ok != 1 {
		t.Fatalf("%d concurrent creates succeeded, want 1", ok)
	}
}
