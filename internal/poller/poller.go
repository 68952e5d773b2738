// Package poller repeats a status check on a fixed interval until the checked object
// reaches a terminal state.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	PaymentInterval      = 5 * time.Second
	SubscriptionInterval = 3 * time.Second
	SSOInterval          = 2 * time.Second
)

var ErrAlreadyStarted = errors.New("poller already started")

// CheckFunc runs one status check and reports whether polling should end.
type CheckFunc func(ctx context.Context) (terminal bool, err error)

type Poller struct {
	interval time.Duration
	check    CheckFunc
	logger   *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func New(interval time.Duration, check CheckFunc, logger *zap.Logger) *Poller {
	return &Poller{
		interval: interval,
		check:    check,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the loop in its own goroutine.
func (p *Poller) Start(ctx context.Context) {
	go func() { _ = p.Run(ctx) }()
}

// Stop asks the loop to exit before its next check. It does not wait; an in-flight
// check finishes on its own.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Done is closed when the loop has exited.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Run checks immediately and then once per interval. Checks run on the calling goroutine,
// so a slow check delays the next tick instead of overlapping with it. A check error is
// logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	started := false
	p.startOnce.Do(func() { started = true })
	if !started {
		return ErrAlreadyStarted
	}
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			p.logger.Debug("Poller stopped")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		terminal, err := p.check(ctx)
		if err != nil {
			p.logger.Warn("Status check failed, retrying on next tick", zap.Error(err))
		} else if terminal {
			p.logger.Debug("Terminal status reached, poller exiting")
			return nil
		}

		select {
		case <-p.stop:
			p.logger.Debug("Poller stopped")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
