// Package lifecycle tracks payments and subscriptions per dashboard session and enforces
// which actions are allowed in each state.
package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dashboard/internal/domain"
	"dashboard/internal/poller"
)

const (
	DefaultPaymentValidity = 60 * time.Second
	DefaultMaxSessions     = 10000

	ExpiredNotice = "payment code has expired, create a new payment"
)

// Gateway is the subset of the upstream client the engine drives.
type Gateway interface {
	CreatePayment(ctx context.Context, amount decimal.Decimal, description, callbackURL string) (*domain.PaymentCreated, error)
	CheckPaymentStatus(ctx context.Context, paymentID string) (*domain.PaymentStatusResult, error)
	CancelPayment(ctx context.Context, paymentID string) (json.RawMessage, error)
	RefundPayment(ctx context.Context, paymentID string) (json.RawMessage, error)
	CreateSubscription(ctx context.Context, req domain.SubscriptionRequest) (*domain.SubscriptionCreated, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*domain.SubscriptionDetails, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (json.RawMessage, error)
}

// Ledger is satisfied by ledger.LedgerService.
type Ledger interface {
	Append(ctx context.Context, rec domain.TransactionRecord) domain.TransactionRecord
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithPaymentValidity(d time.Duration) Option {
	return func(e *Engine) { e.validity = d }
}

// WithAutoPoll makes the engine poll every newly created payment and subscription until
// it settles.
func WithAutoPoll(enabled bool) Option {
	return func(e *Engine) { e.autoPoll = enabled }
}

func WithPollIntervals(payment, subscription time.Duration) Option {
	return func(e *Engine) {
		e.paymentInterval = payment
		e.subscriptionInterval = subscription
	}
}

func WithCallbackURL(url string) Option {
	return func(e *Engine) { e.callbackURL = url }
}

// WithMaxSessions sets how many sessions are kept before idle ones are evicted. Zero
// disables eviction.
func WithMaxSessions(n int) Option {
	return func(e *Engine) { e.maxSessions = n }
}

type Engine struct {
	gateway Gateway
	ledger  Ledger
	logger  *zap.Logger

	now                  func() time.Time
	validity             time.Duration
	autoPoll             bool
	paymentInterval      time.Duration
	subscriptionInterval time.Duration
	callbackURL          string
	maxSessions          int

	mu       sync.Mutex
	sessions map[string]*session
	owners   map[string]string
	closed   bool

	pollCtx    context.Context
	pollCancel context.CancelFunc
	pollWG     sync.WaitGroup
}

// session holds everything one dashboard client has created. mu serializes every action
// on the session, including the network calls they make. Lock order is session.mu before
// Engine.mu.
type session struct {
	mu      sync.Mutex
	evicted bool

	payments      map[string]*domain.Payment
	currentPay    string
	subscriptions map[string]*domain.Subscription
	currentSub    string
	pollers       map[string]*poller.Poller
}

func NewEngine(gateway Gateway, ledger Ledger, logger *zap.Logger, opts ...Option) *Engine {
	pollCtx, pollCancel := context.WithCancel(context.Background())
	e := &Engine{
		gateway:              gateway,
		ledger:               ledger,
		logger:               logger,
		now:                  time.Now,
		validity:             DefaultPaymentValidity,
		paymentInterval:      poller.PaymentInterval,
		subscriptionInterval: poller.SubscriptionInterval,
		maxSessions:          DefaultMaxSessions,
		sessions:             make(map[string]*session),
		owners:               make(map[string]string),
		pollCtx:              pollCtx,
		pollCancel:           pollCancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close stops every poller and waits for their loops to exit.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	e.pollCancel()
	for _, s := range sessions {
		s.mu.Lock()
		for id, p := range s.pollers {
			p.Stop()
			delete(s.pollers, id)
		}
		s.mu.Unlock()
	}
	e.pollWG.Wait()
	e.logger.Info("Lifecycle engine closed")
}

func normalizeSession(id string) string {
	if id == "" {
		return domain.DefaultUserID
	}
	return id
}

func newSession() *session {
	return &session{
		payments:      make(map[string]*domain.Payment),
		subscriptions: make(map[string]*domain.Subscription),
		pollers:       make(map[string]*poller.Poller),
	}
}

// acquire returns the session locked, creating it when it does not exist. Only paths that
// create gateway objects use it.
func (e *Engine) acquire(id string) *session {
	for {
		e.mu.Lock()
		s, ok := e.sessions[id]
		if !ok {
			if e.maxSessions > 0 && len(e.sessions) >= e.maxSessions {
				e.evictIdleLocked()
			}
			s = newSession()
			e.sessions[id] = s
		}
		e.mu.Unlock()

		s.mu.Lock()
		if !s.evicted {
			return s
		}
		s.mu.Unlock()
	}
}

// acquireExisting returns the session locked, or false when the client never created
// anything.
func (e *Engine) acquireExisting(id string) (*session, bool) {
	e.mu.Lock()
	s, ok := e.sessions[id]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	if s.evicted {
		s.mu.Unlock()
		return nil, false
	}
	return s, true
}

// acquireOwner returns the locked session that created the given object, if any.
func (e *Engine) acquireOwner(objectID string) (string, *session, bool) {
	e.mu.Lock()
	sessionID, ok := e.owners[objectID]
	e.mu.Unlock()
	if !ok {
		return "", nil, false
	}
	s, ok := e.acquireExisting(sessionID)
	return sessionID, s, ok
}

// evictIdleLocked drops sessions that hold nothing but settled objects. Busy sessions are
// skipped rather than waited on. Must be called with e.mu held.
func (e *Engine) evictIdleLocked() {
	for id, s := range e.sessions {
		if !s.mu.TryLock() {
			continue
		}
		if s.idleLocked() {
			s.evicted = true
			for objectID := range s.payments {
				e.dropOwnerLocked(objectID, id)
			}
			for objectID := range s.subscriptions {
				e.dropOwnerLocked(objectID, id)
			}
			delete(e.sessions, id)
			e.logger.Debug("Evicted idle session", zap.String("session_id", id))
		}
		s.mu.Unlock()
	}
}

func (e *Engine) dropOwnerLocked(objectID, sessionID string) {
	if e.owners[objectID] == sessionID {
		delete(e.owners, objectID)
	}
}

func (s *session) idleLocked() bool {
	if len(s.pollers) > 0 {
		return false
	}
	for _, p := range s.payments {
		if !p.Status.IsTerminal() {
			return false
		}
	}
	for _, sub := range s.subscriptions {
		if !sub.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// pruneLocked forgets settled objects other than the session's current ones. Must be
// called with s.mu held.
func (e *Engine) pruneLocked(sessionID string, s *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, p := range s.payments {
		if id != s.currentPay && p.Status.IsTerminal() {
			delete(s.payments, id)
			e.dropOwnerLocked(id, sessionID)
		}
	}
	for id, sub := range s.subscriptions {
		if id != s.currentSub && sub.Status.IsTerminal() {
			delete(s.subscriptions, id)
			e.dropOwnerLocked(id, sessionID)
		}
	}
}

func (e *Engine) setOwner(objectID, sessionID string) {
	e.mu.Lock()
	e.owners[objectID] = sessionID
	e.mu.Unlock()
}

// startPollerLocked must be called with s.mu held.
func (e *Engine) startPollerLocked(s *session, objectID string, interval time.Duration, check poller.CheckFunc) {
	if !e.autoPoll {
		return
	}
	e.mu.Lock()
	closed := e.closed
	if !closed {
		e.pollWG.Add(1)
	}
	e.mu.Unlock()
	if closed {
		return
	}

	p := poller.New(interval, check, e.logger.With(zap.String("object_id", objectID)))
	s.pollers[objectID] = p
	go func() {
		defer e.pollWG.Done()
		_ = p.Run(e.pollCtx)
	}()
}

// stopPollerLocked must be called with s.mu held. Stop does not block, so this is safe
// from inside the poller's own check.
func stopPollerLocked(s *session, objectID string) {
	if p, ok := s.pollers[objectID]; ok {
		p.Stop()
		delete(s.pollers, objectID)
	}
}

func (e *Engine) record(ctx context.Context, rec domain.TransactionRecord) {
	if e.ledger == nil {
		return
	}
	e.ledger.Append(ctx, rec)
}
