// Package tokencache holds one bearer token per upstream credential scope and refreshes it
// shortly before it expires.
package tokencache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"dashboard/internal/domain"
)

// DefaultMargin is subtracted from the upstream lifetime so a token is never presented
// right at its expiry.
const DefaultMargin = 5 * time.Second

// Exchanger performs the credential grant and returns a token with its lifetime.
type Exchanger interface {
	Exchange(ctx context.Context) (value string, ttl time.Duration, err error)
}

type ExchangerFunc func(ctx context.Context) (string, time.Duration, error)

func (f ExchangerFunc) Exchange(ctx context.Context) (string, time.Duration, error) {
	return f(ctx)
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithMargin(margin time.Duration) Option {
	return func(c *Cache) { c.margin = margin }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

type Cache struct {
	scope     string
	exchanger Exchanger
	margin    time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu    sync.Mutex
	token *domain.Token
}

func New(scope string, exchanger Exchanger, opts ...Option) *Cache {
	c := &Cache{
		scope:     scope,
		exchanger: exchanger,
		margin:    DefaultMargin,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the cached token while it is still valid, otherwise exchanges credentials
// for a new one. The lock is held across the exchange: concurrent callers share one refresh.
func (c *Cache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != nil && now.Before(c.token.ExpiresAt) {
		return c.token.Value, nil
	}

	value, ttl, err := c.exchanger.Exchange(ctx)
	if err != nil {
		c.logger.Error("Token exchange failed", zap.String("scope", c.scope), zap.Error(err))
		return "", err
	}

	c.token = &domain.Token{Value: value, ExpiresAt: now.Add(ttl - c.margin)}
	c.logger.Debug("Token refreshed",
		zap.String("scope", c.scope),
		zap.Time("expires_at", c.token.ExpiresAt),
	)
	return value, nil
}

// Reset drops the cached token; the next call performs a fresh exchange.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}
