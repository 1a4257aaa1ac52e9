package service

import (
	"sync"
	"time"
)

type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// CircuitBreaker guards the poll loop against hammering a dead broker.
// It is a per-dispatcher liveness heuristic, not distributed coordination:
// each instance counts its own consecutive failures.
type CircuitBreaker struct {
	mu sync.Mutex

	enabled      bool
	threshold    int
	openDuration time.Duration
	now          func() time.Time

	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time

	onOpen func()
}

func NewCircuitBreaker(enabled bool, threshold int, openDuration time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		enabled:      enabled,
		threshold:    threshold,
		openDuration: openDuration,
		now:          time.Now,
		state:        BreakerClosed,
	}
}

// WithClock replaces the time source, for tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// OnOpen registers a hook fired on each closed/half-open -> open transition.
func (cb *CircuitBreaker) OnOpen(fn func()) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onOpen = fn
}

// AllowRequest decides whether the next poll cycle may run. While open it
// denies everything until openDuration has elapsed, then lets exactly one
// probe cycle through (half-open) and denies again until that probe
// reports back.
func (cb *CircuitBreaker) AllowRequest() bool {
	if !cb.enabled {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) >= cb.openDuration {
			cb.state = BreakerHalfOpen
			return true
		}
		return false
	default: // BreakerHalfOpen: a probe is already out
		return false
	}
}

// RecordSuccess resets the consecutive-failure counter and closes a
// half-open breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	if cb.state != BreakerClosed {
		cb.state = BreakerClosed
	}
}

// RecordFailure counts one failure; crossing the threshold (or failing the
// half-open probe) opens the breaker with a fresh timer.
func (cb *CircuitBreaker) RecordFailure() {
	if !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++

	if cb.state == BreakerHalfOpen {
		cb.open()
		return
	}
	if cb.state == BreakerClosed && cb.consecutiveFailures >= cb.threshold {
		cb.open()
	}
}

// ProbeInconclusive hands the probe slot back. A half-open cycle that
// produced no send outcome has not tested the broker, so the breaker
// returns to open without restarting the timer and the next cycle gets
// to probe again.
func (cb *CircuitBreaker) ProbeInconclusive() {
	if !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerHalfOpen {
		cb.state = BreakerOpen
	}
}

func (cb *CircuitBreaker) open() {
	cb.state = BreakerOpen
	cb.openedAt = cb.now()
	if cb.onOpen != nil {
		cb.onOpen()
	}
}

// ForceClose is the operational escape hatch used by stats reset.
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = BreakerClosed
	cb.consecutiveFailures = 0
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}
