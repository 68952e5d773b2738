package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPaymentInFlight      = errors.New("a payment is already in progress, finish or cancel the existing one first")
	ErrSubscriptionInFlight = errors.New("a subscription is already in progress, finish or cancel the existing one first")
	ErrNoActivePayment      = errors.New("no active payment")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrInvalidTransition    = errors.New("invalid state transition")
)

// ValidationError is bad caller input; it never reaches the network.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// GatewayError wraps an upstream non-2xx response or a transport failure.
type GatewayError struct {
	Op         string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s failed with status %d: %s", e.Op, e.StatusCode, string(e.Body))
	case e.Err != nil:
		return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("gateway %s failed", e.Op)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// LedgerError reports an unreadable or unwritable ledger store.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string { return fmt.Sprintf("ledger %s: %v", e.Op, e.Err) }

func (e *LedgerError) Unwrap() error { return e.Err }

// TransitionError builds an ErrInvalidTransition for the given action and current status.
func TransitionError(action, status string) error {
	return fmt.Errorf("%w: cannot %s in status %s", ErrInvalidTransition, action, status)
}
