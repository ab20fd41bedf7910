// Package metrics tracks the counters the rest of the system needs for
// load balancing (Subscription Router), circuit breaking (Stream Pool),
// and operator visibility (spec section 7: "periodic statistics boxes").
package metrics

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Counter is a simple lock-free monotonically increasing counter.
type Counter struct {
	v atomic.Int64
}

func (c *Counter) Inc()            { c.v.Inc() }
func (c *Counter) Add(n int64)     { c.v.Add(n) }
func (c *Counter) Value() int64    { return c.v.Load() }

// StrategyCounters tracks per-strategy parser outcomes (spec section 4.3:
// "failing strategies increment a per-strategy counter").
type StrategyCounters struct {
	mu       sync.Mutex
	attempts map[string]*Counter
	failures map[string]*Counter
	successes map[string]*Counter
}

func NewStrategyCounters() *StrategyCounters {
	return &StrategyCounters{
		attempts:  map[string]*Counter{},
		failures:  map[string]*Counter{},
		successes: map[string]*Counter{},
	}
}

func (s *StrategyCounters) counter(m map[string]*Counter, name string) *Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := m[name]
	if !ok {
		c = &Counter{}
		m[name] = c
	}
	return c
}

func (s *StrategyCounters) RecordAttempt(strategy string)  { s.counter(s.attempts, strategy).Inc() }
func (s *StrategyCounters) RecordFailure(strategy string)  { s.counter(s.failures, strategy).Inc() }
func (s *StrategyCounters) RecordSuccess(strategy string)  { s.counter(s.successes, strategy).Inc() }

func (s *StrategyCounters) Snapshot() map[string]StrategyStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]StrategyStats, len(s.attempts))
	for name, c := range s.attempts {
		stats := out[name]
		stats.Attempts = c.Value()
		out[name] = stats
	}
	for name, c := range s.failures {
		stats := out[name]
		stats.Failures = c.Value()
		out[name] = stats
	}
	for name, c := range s.successes {
		stats := out[name]
		stats.Successes = c.Value()
		out[name] = stats
	}
	return out
}

type StrategyStats struct {
	Attempts  int64
	Successes int64
	Failures  int64
}

// ConnectionSample is a point-in-time view of one stream connection's
// health, as returned by connection_health() in spec section 4.1.
type ConnectionSample struct {
	ID             string
	State          string
	TrailingTPS    float64
	ParseRate      float64
	LastMessageAge time.Duration
}

// QueueDepths reports the Persistence Layer's four queue sizes (spec
// section 4.8), used both for back-pressure and for the stats box.
type QueueDepths struct {
	Tokens      int
	Trades      int
	PoolStates  int
	Graduations int
}
