package lifecycle

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dashboard/internal/domain"
)

type SubscriptionResult struct {
	Subscription *domain.Subscription
	Status       domain.SubscriptionStatus
	Upstream     json.RawMessage
}

// CreateSubscription starts a subscription for the session unless one is already pending
// or running.
func (e *Engine) CreateSubscription(ctx context.Context, sessionID string, req domain.SubscriptionRequest) (*domain.SubscriptionCreated, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sessionID = normalizeSession(sessionID)

	s := e.acquire(sessionID)
	defer s.mu.Unlock()

	if cur, ok := s.subscriptions[s.currentSub]; ok && !cur.Status.IsTerminal() {
		return nil, domain.ErrSubscriptionInFlight
	}

	created, err := e.gateway.CreateSubscription(ctx, req)
	if err != nil {
		e.logger.Error("Failed to create subscription", zap.String("session_id", sessionID), zap.Error(err))
		return nil, err
	}
	if created.ID == "" {
		e.logger.Error("Gateway created a subscription without an id", zap.String("session_id", sessionID))
		return nil, &domain.GatewayError{Op: "create subscription", Err: errors.New("response has no subscriptionId")}
	}
	status := domain.NormalizeSubscriptionStatus(created.Status)
	if status == "" {
		status = domain.SubscriptionStatusPending
	}

	sub := &domain.Subscription{
		ID:           created.ID,
		Title:        req.Title,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       status,
		CreatedAt:    e.now(),
		ValidUntil:   created.ValidUntil,
		QRCode:       created.QRCode,
		ReadableCode: created.ReadableCode,
		AppLink:      created.AppLink,
	}
	s.subscriptions[sub.ID] = sub
	s.currentSub = sub.ID
	e.setOwner(sub.ID, sessionID)
	e.pruneLocked(sessionID, s)

	userID := req.UserID
	if userID == "" {
		userID = sessionID
	}
	e.record(ctx, domain.TransactionRecord{
		ID:         sub.ID,
		UserID:     userID,
		Type:       domain.TransactionTypeSubscription,
		PlanOrItem: req.Title,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Status:     "CREATED",
	})
	e.logger.Info("Subscription created", zap.String("session_id", sessionID), zap.String("subscription_id", sub.ID))

	subscriptionID := sub.ID
	e.startPollerLocked(s, subscriptionID, e.subscriptionInterval, func(ctx context.Context) (bool, error) {
		res, err := e.GetSubscription(ctx, sessionID, subscriptionID)
		if err != nil {
			return false, err
		}
		return res.Status != domain.SubscriptionStatusPending, nil
	})

	out := *created
	return &out, nil
}

// GetSubscription refreshes a subscription from the gateway. Terminal subscriptions are
// answered locally; untracked ids are passed through. An upstream status the state
// machine does not accept leaves the local one in place.
func (e *Engine) GetSubscription(ctx context.Context, sessionID, subscriptionID string) (*SubscriptionResult, error) {
	var sub *domain.Subscription
	s, ok := e.acquireExisting(normalizeSession(sessionID))
	if ok {
		defer s.mu.Unlock()
		sub = s.subscriptions[subscriptionID]
	}
	tracked := sub != nil
	if tracked && sub.Status.IsTerminal() {
		cp := *sub
		return &SubscriptionResult{Subscription: &cp, Status: cp.Status}, nil
	}

	details, err := e.gateway.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	status := domain.NormalizeSubscriptionStatus(details.Status)
	if !tracked {
		return &SubscriptionResult{Status: status, Upstream: details.Raw}, nil
	}

	switch {
	case status == "" || !sub.Status.CanTransitionTo(status):
		e.logger.Warn("Ignoring upstream subscription status",
			zap.String("subscription_id", subscriptionID),
			zap.String("current_status", string(sub.Status)),
			zap.String("upstream_status", details.Status),
		)
	case status != sub.Status:
		sub = e.replaceSubscriptionLocked(s, subscriptionID, status)
	}
	cp := *sub
	return &SubscriptionResult{Subscription: &cp, Status: cp.Status, Upstream: details.Raw}, nil
}

// CancelSubscription is allowed while the subscription is PENDING, ACTIVE or TRIAL.
func (e *Engine) CancelSubscription(ctx context.Context, sessionID, subscriptionID string) (*SubscriptionResult, error) {
	sessionID = normalizeSession(sessionID)
	s, ok := e.acquireExisting(sessionID)
	if !ok {
		return nil, domain.ErrNoActiveSubscription
	}
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return nil, domain.ErrNoActiveSubscription
	}
	if !sub.Status.Cancellable() {
		return nil, domain.TransitionError("cancel subscription", string(sub.Status))
	}

	body, err := e.gateway.CancelSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	sub = e.replaceSubscriptionLocked(s, subscriptionID, domain.SubscriptionStatusCancelled)
	e.record(ctx, domain.TransactionRecord{
		ID:            subscriptionID,
		UserID:        sessionID,
		Type:          domain.TransactionTypeSubscription,
		PlanOrItem:    subscriptionID,
		Amount:        decimal.Zero,
		Currency:      sub.Currency,
		Status:        string(domain.SubscriptionStatusCancelled),
		PaymentMethod: "N/A",
	})
	e.logger.Info("Subscription cancelled", zap.String("subscription_id", subscriptionID))

	cp := *sub
	return &SubscriptionResult{Subscription: &cp, Status: cp.Status, Upstream: body}, nil
}

// CurrentSubscription returns the session's subscription only while it is ACTIVE or TRIAL.
func (e *Engine) CurrentSubscription(sessionID string) (*domain.Subscription, bool) {
	s, ok := e.acquireExisting(normalizeSession(sessionID))
	if !ok {
		return nil, false
	}
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[s.currentSub]
	if !ok || !sub.Status.Subscribed() {
		return nil, false
	}
	cp := *sub
	return &cp, true
}

func (e *Engine) IsSubscribed(sessionID string) bool {
	_, ok := e.CurrentSubscription(sessionID)
	return ok
}

func (e *Engine) replaceSubscriptionLocked(s *session, subscriptionID string, status domain.SubscriptionStatus) *domain.Subscription {
	next := *s.subscriptions[subscriptionID]
	next.Status = status
	s.subscriptions[subscriptionID] = &next
	if status != domain.SubscriptionStatusPending {
		stopPollerLocked(s, subscriptionID)
	}
	return &next
}
