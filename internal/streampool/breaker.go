package streampool

import (
	"sync"
	"time"
)

// breakerState is the circuit breaker's own small state machine, distinct
// from the connection's ConnState (spec section 4.1: "A circuit breaker
// per connection... after failure_threshold failures... it opens; it
// admits one probe request after recovery_timeout; two consecutive
// successes in half-open close it").
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

type breaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration

	state            breakerState
	consecutiveFails int
	halfOpenSuccess  int
	openedAt         time.Time
}

// String renders the breaker state for checkpoint snapshots and logging.
func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

func (b *breaker) stateString() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func newBreaker(failureThreshold int, recoveryTimeout time.Duration) *breaker {
	return &breaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            breakerClosed,
	}
}

// allow reports whether a connect attempt may proceed now.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(b.openedAt) >= b.recoveryTimeout {
			b.state = breakerHalfOpen
			b.halfOpenSuccess = 0
			return true
		}
		return false
	case breakerHalfOpen:
		return true
	}
	return true
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerHalfOpen:
		b.state = breakerOpen
		b.openedAt = time.Now()
		b.consecutiveFails = 0
	case breakerClosed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.failureThreshold {
			b.state = breakerOpen
			b.openedAt = time.Now()
		}
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= 2 {
			b.state = breakerClosed
			b.consecutiveFails = 0
		}
	case breakerClosed:
		b.consecutiveFails = 0
	}
}
