package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{Size: 100, QueueHighWatermark: 5, QueueLowWatermark: 2, DBTimeout: 0}
}

func TestWriter_BackpressureEngagesAndReleases(t *testing.T) {
	w := NewWriter(nil, testConfig())
	require.True(t, w.Accepting())

	for i := 0; i < 6; i++ {
		w.EnqueueTrade(TradeRow{Signature: "sig", Program: "bonding_curve"})
	}
	w.updateBackpressure()
	assert.False(t, w.Accepting(), "depth exceeds high watermark")

	// Simulate a flush draining most of the queue.
	w.mu.Lock()
	w.trades = w.trades[:1]
	w.mu.Unlock()
	w.updateBackpressure()
	assert.True(t, w.Accepting(), "depth at/below low watermark releases back-pressure")
}

func TestWriter_EnqueueFlushesAtBatchSize(t *testing.T) {
	w := NewWriter(nil, Config{Size: 2, QueueHighWatermark: 100, QueueLowWatermark: 0})
	w.EnqueueTrade(TradeRow{Signature: "a", Program: "bonding_curve"})
	w.mu.Lock()
	depth := len(w.trades)
	w.mu.Unlock()
	assert.Equal(t, 1, depth)

	w.EnqueueTrade(TradeRow{Signature: "b", Program: "bonding_curve"})
	w.mu.Lock()
	depth = len(w.trades)
	w.mu.Unlock()
	assert.Equal(t, 0, depth, "reaching batch_size flushes immediately (no-op DB in test mode)")
}

func TestWriter_QueueDepths(t *testing.T) {
	w := NewWriter(nil, testConfig())
	w.EnqueueToken(TokenRow{MintAddress: "m1"})
	w.EnqueuePoolState(PoolStateRow{PoolAddress: "p1", Slot: 1})
	depths := w.QueueDepths()
	assert.Equal(t, 1, depths.Tokens)
	assert.Equal(t, 1, depths.PoolStates)
}
