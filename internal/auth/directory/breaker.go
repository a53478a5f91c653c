package directory

import (
	"errors"
	"sync"
	"time"
)

const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
)

var errCircuitOpen = errors.New("directory circuit open")

type breakerState string

const (
	stateClosed   breakerState = "closed"
	stateOpen     breakerState = "open"
	stateHalfOpen breakerState = "half-open"
)

// breaker stops calling the directory after repeated provider failures. Once resetTimeout has
// passed a single trial request is let through; its outcome closes or reopens the circuit.
// Rejected credentials count as successes since the directory answered.
type breaker struct {
	mu           sync.Mutex
	threshold    int
	resetTimeout time.Duration
	failures     int
	lastFailure  time.Time
	state        breakerState
	trial        bool
	now          func() time.Time
}

func newBreaker(threshold int, resetTimeout time.Duration) *breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	return &breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        stateClosed,
		now:          time.Now,
	}
}

// allow reports whether a request may go out.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			return false
		}
		b.state = stateHalfOpen
		b.trial = true
		return true
	case stateHalfOpen:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	}
	return true
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = stateClosed
	b.failures = 0
	b.trial = false
}

// failure records a provider failure and reports whether the circuit just opened.
func (b *breaker) failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.lastFailure = now
		b.trial = false
		return true
	}
	if now.Sub(b.lastFailure) > b.resetTimeout {
		b.failures = 0
	}
	b.failures++
	b.lastFailure = now
	if b.state == stateClosed && b.failures >= b.threshold {
		b.state = stateOpen
		return true
	}
	return false
}

func (b *breaker) State() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
