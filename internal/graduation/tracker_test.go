package graduation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

// TestTracker_S2 exercises spec section 8 scenario S2: BC graduation via
// account reaches complete=true exactly once.
func TestTracker_S2(t *testing.T) {
	tr := New()
	tr.Link("bc1", "mintA")

	tr.ObserveBCTrade("bc1", "mintA", 84.0/55.0*100) // past the near-grad threshold; the intermediate state is irrelevant here

	_, emitted := tr.ObserveComplete("bc1", time.Unix(1000, 0))
	require.True(t, emitted)

	_, emittedAgain := tr.ObserveComplete("bc1", time.Unix(2000, 0))
	assert.False(t, emittedAgain, "idempotent: at most one TokenGraduated per mint")

	st, ok := tr.State("bc1")
	require.True(t, ok)
	assert.Equal(t, StateComplete, st)
}

// TestTracker_S6 exercises spec section 8 scenario S6: late AMM-first
// graduation.
func TestTracker_S6(t *testing.T) {
	tr := New()
	tr.Link("bc2", "mintB")

	at := time.Unix(5000, 0)
	grad, ok := tr.ObserveAMMTrade("mintB", at)
	require.True(t, ok)
	assert.Equal(t, wire.ReasonAMMObserved, grad.Reason)
	assert.Equal(t, at, grad.GraduationTime)

	// A subsequent "complete" account update must not re-emit.
	_, emittedAgain := tr.ObserveComplete("bc2", time.Unix(6000, 0))
	assert.False(t, emittedAgain)
}

func TestTracker_AMMTradeForUnknownMintDoesNothing(t *testing.T) {
	tr := New()
	_, ok := tr.ObserveAMMTrade("unknown-mint", time.Now())
	assert.False(t, ok)
}

func TestTracker_NearGradTransition(t *testing.T) {
	tr := New()
	tr.ObserveBCTrade("bc3", "mintC", 95)
	st, ok := tr.State("bc3")
	require.True(t, ok)
	assert.Equal(t, StateNearGrad, st)
}
