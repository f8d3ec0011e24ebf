package db

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"vanishbin/pkg/domain"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

// breaker stops hammering a failing embedded store. After maxFailures
// consecutive infrastructure errors every call fails fast for cooldownSeconds,
// then a single probe decides whether to close again.
type breaker struct {
	failures      int32
	circuitState  int32
	circuitOpened int64
	now           func() time.Time
}

func (b *breaker) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

func (b *breaker) check() error {
	state := atomic.LoadInt32(&b.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&b.circuitOpened)
		if b.clock().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&b.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

// record feeds the outcome of a call. Domain outcomes (not found, expired,
// collisions) and caller cancellations say nothing about backend health.
func (b *breaker) record(err error) {
	if err == nil {
		atomic.StoreInt32(&b.failures, 0)
		atomic.StoreInt32(&b.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, domain.ErrPasteNotFound) ||
		errors.Is(err, domain.ErrIDCollision) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		atomic.StoreInt32(&b.failures, 0)
		if atomic.LoadInt32(&b.circuitState) == circuitHalfOpen {
			atomic.StoreInt32(&b.circuitState, circuitClosed)
		}
		return
	}
	failures := atomic.AddInt32(&b.failures, 1)
	if atomic.LoadInt32(&b.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&b.circuitState, circuitOpen)
		atomic.StoreInt64(&b.circuitOpened, b.clock().Unix())
		atomic.StoreInt32(&b.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&b.circuitState) == circuitClosed {
		atomic.StoreInt32(&b.circuitState, circuitOpen)
		atomic.StoreInt64(&b.circuitOpened, b.clock().Unix())
	}
}
