package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dashboard/internal/domain"
)

// PaymentResult is the outcome of a payment action. Upstream holds the gateway body when
// the gateway was called; Payment is nil for ids this engine does not track.
type PaymentResult struct {
	Payment  *domain.Payment
	Status   domain.PaymentStatus
	Upstream json.RawMessage
	Notice   string
}

// CreatePayment validates input before anything else, then refuses to start a second
// payment while the session still has one awaiting payment.
func (e *Engine) CreatePayment(ctx context.Context, sessionID string, amount decimal.Decimal, description, callbackURL string) (*PaymentResult, error) {
	if err := domain.ValidatePayment(amount, description); err != nil {
		return nil, err
	}
	sessionID = normalizeSession(sessionID)
	if callbackURL == "" {
		callbackURL = e.callbackURL
	}

	s := e.acquire(sessionID)
	defer s.mu.Unlock()

	now := e.now()
	if _, ok := s.payments[s.currentPay]; ok {
		if cur := e.expireLocked(s, s.currentPay, now); cur.Status.AwaitingPayment() {
			return nil, domain.ErrPaymentInFlight
		}
	}

	created, err := e.gateway.CreatePayment(ctx, amount, description, callbackURL)
	if err != nil {
		e.logger.Error("Failed to create payment", zap.String("session_id", sessionID), zap.Error(err))
		return nil, err
	}
	if created.PaymentID == "" {
		e.logger.Error("Gateway created a payment without an id", zap.String("session_id", sessionID), zap.ByteString("body", created.Raw))
		return nil, &domain.GatewayError{Op: "create payment", Body: created.Raw, Err: errors.New("response has no paymentId")}
	}

	validUntil := now.Add(e.validity)
	p := &domain.Payment{
		ID:           created.PaymentID,
		Kind:         domain.KindPayment,
		Amount:       amount,
		Currency:     domain.DefaultCurrency,
		Description:  description,
		Status:       domain.PaymentStatusCreated,
		CreatedAt:    now,
		ValidUntil:   &validUntil,
		QRCode:       created.QRCode,
		ReadableCode: created.ReadableCode,
	}
	s.payments[p.ID] = p
	s.currentPay = p.ID
	e.setOwner(p.ID, sessionID)
	e.pruneLocked(sessionID, s)

	ledgerStatus := created.Status
	if ledgerStatus == "" {
		ledgerStatus = "PENDING"
	}
	e.record(ctx, domain.TransactionRecord{
		ID:         p.ID,
		UserID:     sessionID,
		Type:       domain.TransactionTypePayment,
		PlanOrItem: description,
		Amount:     amount,
		Currency:   domain.DefaultCurrency,
		Status:     ledgerStatus,
	})
	e.logger.Info("Payment created",
		zap.String("session_id", sessionID),
		zap.String("payment_id", p.ID),
		zap.String("amount", amount.String()),
	)

	paymentID := p.ID
	e.startPollerLocked(s, paymentID, e.paymentInterval, func(ctx context.Context) (bool, error) {
		res, err := e.CheckPaymentStatus(ctx, sessionID, paymentID)
		if err != nil {
			return false, err
		}
		return !res.Status.AwaitingPayment(), nil
	})

	cp := *p
	return &PaymentResult{Payment: &cp, Status: cp.Status, Upstream: created.Raw}, nil
}

// CheckPaymentStatus refreshes a payment from the gateway. Expired and terminal payments
// are answered locally. An upstream status the state machine does not accept leaves the
// local one in place. Status checks never touch the ledger.
func (e *Engine) CheckPaymentStatus(ctx context.Context, sessionID, paymentID string) (*PaymentResult, error) {
	s, ok := e.acquireExisting(normalizeSession(sessionID))
	if ok {
		defer s.mu.Unlock()
	}
	if !ok || s.payments[paymentID] == nil {
		upstream, err := e.gateway.CheckPaymentStatus(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		return &PaymentResult{Status: domain.NormalizePaymentStatus(upstream.Status), Upstream: upstream.Raw}, nil
	}

	if p := e.expireLocked(s, paymentID, e.now()); p.Status.IsTerminal() {
		return localPaymentResult(p), nil
	}

	upstream, err := e.gateway.CheckPaymentStatus(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := e.advancePaymentLocked(s, paymentID, domain.NormalizePaymentStatus(upstream.Status)); err != nil {
		e.logger.Warn("Ignoring upstream payment status",
			zap.String("payment_id", paymentID),
			zap.String("upstream_status", upstream.Status),
			zap.Error(err),
		)
	}
	cp := *s.payments[paymentID]
	return &PaymentResult{Payment: &cp, Status: cp.Status, Upstream: upstream.Raw}, nil
}

// CancelPayment is allowed only while the payment is still awaiting payment.
func (e *Engine) CancelPayment(ctx context.Context, sessionID, paymentID string) (*PaymentResult, error) {
	sessionID = normalizeSession(sessionID)
	s, ok := e.acquireExisting(sessionID)
	if !ok {
		return nil, domain.ErrNoActivePayment
	}
	defer s.mu.Unlock()

	if _, ok := s.payments[paymentID]; !ok {
		return nil, domain.ErrNoActivePayment
	}
	p := e.expireLocked(s, paymentID, e.now())
	if !p.Status.AwaitingPayment() {
		return nil, domain.TransitionError("cancel payment", string(p.Status))
	}

	body, err := e.gateway.CancelPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	e.replacePaymentLocked(s, paymentID, domain.PaymentStatusCanceled)
	e.record(ctx, domain.TransactionRecord{
		ID:         paymentID,
		UserID:     sessionID,
		Type:       domain.TransactionTypePayment,
		PlanOrItem: p.Description,
		Amount:     decimal.Zero,
		Currency:   p.Currency,
		Status:     string(domain.PaymentStatusCanceled),
	})
	e.logger.Info("Payment canceled", zap.String("payment_id", paymentID))

	cp := *s.payments[paymentID]
	return &PaymentResult{Payment: &cp, Status: cp.Status, Upstream: body}, nil
}

// RefundPayment is allowed only on a PAID payment.
func (e *Engine) RefundPayment(ctx context.Context, sessionID, paymentID string) (*PaymentResult, error) {
	sessionID = normalizeSession(sessionID)
	s, ok := e.acquireExisting(sessionID)
	if !ok {
		return nil, domain.ErrNoActivePayment
	}
	defer s.mu.Unlock()

	if _, ok := s.payments[paymentID]; !ok {
		return nil, domain.ErrNoActivePayment
	}
	p := e.expireLocked(s, paymentID, e.now())
	if p.Status != domain.PaymentStatusPaid {
		return nil, domain.TransitionError("refund payment", string(p.Status))
	}

	body, err := e.gateway.RefundPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	e.replacePaymentLocked(s, paymentID, domain.PaymentStatusRefunded)
	e.record(ctx, domain.TransactionRecord{
		ID:         paymentID,
		UserID:     sessionID,
		Type:       domain.TransactionTypePaymentRefund,
		PlanOrItem: p.Description,
		Amount:     decimal.Zero,
		Currency:   p.Currency,
		Status:     string(domain.PaymentStatusRefunded),
	})
	e.logger.Info("Payment refunded", zap.String("payment_id", paymentID))

	cp := *s.payments[paymentID]
	return &PaymentResult{Payment: &cp, Status: cp.Status, Upstream: body}, nil
}

// ApplyPaymentCallback applies a status pushed by the gateway to the merchant callback
// URL. Unknown statuses are rejected; moves the state machine does not allow return
// ErrInvalidTransition and leave the payment unchanged.
func (e *Engine) ApplyPaymentCallback(ctx context.Context, paymentID, rawStatus string) (*PaymentResult, error) {
	if rawStatus == "" {
		return nil, &domain.ValidationError{Field: "status", Message: "status is required"}
	}
	status := domain.NormalizePaymentStatus(rawStatus)
	if status == "" {
		return nil, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown payment status %q", rawStatus)}
	}
	_, s, ok := e.acquireOwner(paymentID)
	if !ok {
		return nil, domain.ErrNoActivePayment
	}
	defer s.mu.Unlock()

	if _, ok := s.payments[paymentID]; !ok {
		return nil, domain.ErrNoActivePayment
	}
	if p := e.expireLocked(s, paymentID, e.now()); p.Status.IsTerminal() {
		return localPaymentResult(p), nil
	}
	if err := e.advancePaymentLocked(s, paymentID, status); err != nil {
		e.logger.Warn("Rejected payment callback", zap.String("payment_id", paymentID), zap.String("status", rawStatus), zap.Error(err))
		return nil, err
	}
	e.logger.Info("Payment status updated by callback", zap.String("payment_id", paymentID), zap.String("status", string(status)))

	cp := *s.payments[paymentID]
	return &PaymentResult{Payment: &cp, Status: cp.Status}, nil
}

// CurrentPayment returns the payment most recently created by the session.
func (e *Engine) CurrentPayment(sessionID string) (*domain.Payment, bool) {
	s, ok := e.acquireExisting(normalizeSession(sessionID))
	if !ok {
		return nil, false
	}
	defer s.mu.Unlock()

	if _, ok := s.payments[s.currentPay]; !ok {
		return nil, false
	}
	cp := *e.expireLocked(s, s.currentPay, e.now())
	return &cp, true
}

// expireLocked forces EXPIRED once the validity window has passed without a payment and
// returns the current record. No gateway call is made.
func (e *Engine) expireLocked(s *session, paymentID string, now time.Time) *domain.Payment {
	p := s.payments[paymentID]
	if !p.Expired(now) {
		return p
	}
	e.logger.Info("Payment expired", zap.String("payment_id", paymentID))
	return e.replacePaymentLocked(s, paymentID, domain.PaymentStatusExpired)
}

// advancePaymentLocked applies a status reported by the gateway, refusing values outside
// the enum and moves the state machine does not allow.
func (e *Engine) advancePaymentLocked(s *session, paymentID string, status domain.PaymentStatus) error {
	cur := s.payments[paymentID]
	switch {
	case status == "":
		return &domain.ValidationError{Field: "status", Message: "unknown payment status"}
	case !cur.Status.CanTransitionTo(status):
		return domain.TransitionError("move payment to "+string(status), string(cur.Status))
	case status != cur.Status:
		e.replacePaymentLocked(s, paymentID, status)
	}
	return nil
}

// replacePaymentLocked swaps in a new record rather than mutating one a caller may still
// be reading.
func (e *Engine) replacePaymentLocked(s *session, paymentID string, status domain.PaymentStatus) *domain.Payment {
	next := *s.payments[paymentID]
	next.Status = status
	s.payments[paymentID] = &next
	if !status.AwaitingPayment() {
		stopPollerLocked(s, paymentID)
	}
	return &next
}

func localPaymentResult(p *domain.Payment) *PaymentResult {
	cp := *p
	res := &PaymentResult{Payment: &cp, Status: cp.Status}
	if cp.Status == domain.PaymentStatusExpired {
		res.Notice = ExpiredNotice
	}
	return res
}
