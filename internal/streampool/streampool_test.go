package streampool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterThresholdAndHalfOpenRecovers(t *testing.T) {
	b := newBreaker(3, 20*time.Millisecond)

	assert.True(t, b.allow())
	b.recordFailure()
	b.recordFailure()
	assert.True(t, b.allow(), "still closed before threshold")
	b.recordFailure()

	assert.False(t, b.allow(), "opens at failure_threshold")

	time.Sleep(25 * time.Millisecond)
	assert.True(t, b.allow(), "half-open probe admitted after recovery_timeout")

	b.recordSuccess()
	assert.True(t, b.allow())
	b.recordSuccess()

	b.mu.Lock()
	st := b.state
	b.mu.Unlock()
	assert.Equal(t, breakerClosed, st, "two consecutive half-open successes close the breaker")
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := newBreaker(1, 10*time.Millisecond)
	b.recordFailure()
	assert.False(t, b.allow())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.allow())
	b.recordFailure()
	assert.False(t, b.allow())
}

// S5 from spec section 8: thirty attempts within 55s complete without
// deferral; the 31st must wait at least 6s.
func TestRateLimiter_S5ShieldsBurst(t *testing.T) {
	rl := newRateLimiter(60*time.Second, 30)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		require.NoError(t, rl.wait(ctx))
	}

	d, ok := rl.tryReserve()
	assert.False(t, ok, "31st attempt within the window must be deferred")
	assert.GreaterOrEqual(t, d, 6*time.Second, "31st attempt waits at least 6s")
}

func TestRouter_HighPriorityStaysColocated(t *testing.T) {
	r := newRouter()
	candidates := []string{"conn-a", "conn-b"}

	first := r.assign(PriorityHigh, candidates)
	second := r.assign(PriorityHigh, candidates)
	assert.Equal(t, first, second, "BC group must remain colocated")

	// Even when a reordered candidate list would naturally yield conn-b
	// (the first candidate), the pinned connection wins.
	reordered := []string{"conn-b", "conn-a"}
	third := r.assign(PriorityHigh, reordered)
	assert.Equal(t, first, third)
}

func TestRouter_RebalanceTriggersOnSustainedImbalance(t *testing.T) {
	r := newRouter()
	assert.False(t, r.ShouldRebalance(), "no history yet")

	r.RecordLoad("a", 0.9)
	r.RecordLoad("b", 0.1)
	assert.False(t, r.ShouldRebalance(), "only one sample so far")

	r.RecordLoad("a", 0.9)
	r.RecordLoad("b", 0.1)
	assert.True(t, r.ShouldRebalance(), "ratio exceeds 1.5 on two consecutive samples")
}

func TestLoadFormula(t *testing.T) {
	assert.InDelta(t, 0.6*0.5+0.4*(1-0.9), Load(0.5, 0.9), 1e-9)
}

func TestRouter_AssignPicksLowestLoadForNonHighGroups(t *testing.T) {
	r := newRouter()
	candidates := []string{"conn-a", "conn-b"}

	r.RecordLoad("conn-a", 0.9)
	r.RecordLoad("conn-b", 0.1)

	assert.Equal(t, "conn-b", r.assign(PriorityMedium, candidates))
}

func TestRouter_RebalanceMovesNonHighGroupsOnly(t *testing.T) {
	r := newRouter()
	candidates := []string{"conn-a", "conn-b"}

	r.assign(PriorityHigh, candidates)
	r.RecordLoad("conn-a", 0.1)
	r.RecordLoad("conn-b", 0.9)
	r.assign(PriorityMedium, candidates)

	// Load flips: conn-b is now the cheaper candidate.
	r.RecordLoad("conn-a", 0.9)
	r.RecordLoad("conn-b", 0.1)
	r.Rebalance(candidates)

	assignments := r.GroupAssignments()
	assert.Equal(t, "conn-a", assignments["high"], "high-priority group never moves")
	assert.Equal(t, "conn-b", assignments["medium"], "medium group follows the cheaper connection")
}
