package tradehandler

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumpfun-superbot/ingestor/internal/eventbus"
	"github.com/pumpfun-superbot/ingestor/internal/graduation"
	"github.com/pumpfun-superbot/ingestor/internal/persistence"
	"github.com/pumpfun-superbot/ingestor/internal/poolstate"
	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

type fixedPrice struct{ v decimal.Decimal }

func (f fixedPrice) Get() (decimal.Decimal, bool) { return f.v, true }

func newHandler(t *testing.T, thresholds Thresholds) (*Handler, *persistence.Writer, *eventbus.Bus) {
	t.Helper()
	writer := persistence.NewWriter(nil, persistence.Config{Size: 1000, QueueHighWatermark: 1000, QueueLowWatermark: 0})
	bus := eventbus.New(16)
	pools := poolstate.New()
	grad := graduation.New()
	h := New(thresholds, fixedPrice{v: decimal.NewFromInt(200)}, pools, writer, bus, grad)
	return h, writer, bus
}

func bigTrade(mint, bc string) wire.BCTrade {
	return wire.BCTrade{
		Signature:    "sig-1",
		Slot:         100,
		BlockTime:    time.Unix(1700000000, 0),
		Mint:         mint,
		BondingCurve: bc,
		User:         "user-1",
		TradeType:    wire.TradeBuy,
		SOLAmount:    5_000_000_000,
		TokenAmount:  1_000_000_000,
		Reserves: wire.ReservesSnapshot{
			VirtualSOLReserves:   60_000_000_000,
			VirtualTokenReserves: 800_000_000_000_000,
		},
	}
}

func TestHandler_BCTrade_AboveThresholdPersistsAndMarksKnown(t *testing.T) {
	h, writer, _ := newHandler(t, Thresholds{BCSaveThresholdUSD: 1, AMMSaveThresholdUSD: 1000})
	require.NoError(t, h.HandleBCTrade(bigTrade("mint-1", "bc-1")))

	depths := writer.QueueDepths()
	assert.Equal(t, 1, depths.Tokens)
	assert.Equal(t, 1, depths.Trades)
	assert.True(t, h.isKnown("mint-1"))
}

func TestHandler_BCTrade_BelowThresholdDroppedUntilFirstCross(t *testing.T) {
	h, writer, _ := newHandler(t, Thresholds{BCSaveThresholdUSD: 1_000_000_000, AMMSaveThresholdUSD: 1000})
	require.NoError(t, h.HandleBCTrade(bigTrade("mint-2", "bc-2")))

	depths := writer.QueueDepths()
	assert.Equal(t, 0, depths.Tokens, "market cap stays far below an absurd threshold")
	assert.Equal(t, 0, depths.Trades)
	assert.False(t, h.isKnown("mint-2"))
}

func TestHandler_BCTrade_PublishesThresholdCrossedOnce(t *testing.T) {
	h, _, bus := newHandler(t, Thresholds{BCSaveThresholdUSD: 1, AMMSaveThresholdUSD: 1000})
	sub := bus.Subscribe("test")

	require.NoError(t, h.HandleBCTrade(bigTrade("mint-3", "bc-3")))
	require.NoError(t, h.HandleBCTrade(bigTrade("mint-3", "bc-3")))

	crossed := 0
	drain := true
	for drain {
		select {
		case evt := <-sub.Events():
			if evt.Kind() == wire.KindThresholdCrossed {
				crossed++
			}
		default:
			drain = false
		}
	}
	assert.Equal(t, 1, crossed, "threshold crossing publishes exactly once per mint")
}

func TestHandler_AMMTrade_FallsBackToPoolStateReserves(t *testing.T) {
	h, writer, _ := newHandler(t, Thresholds{BCSaveThresholdUSD: 8888, AMMSaveThresholdUSD: 1})
	h.pools.Upsert(poolstate.State{
		PoolAddress: "pool-1",
		Mint:        "mint-4",
		Slot:        50,
		Reserves: wire.ReservesSnapshot{
			VirtualSOLReserves:   70_000_000_000,
			VirtualTokenReserves: 200_000_000_000_000,
		},
		PoolOpen: true,
	})

	trade := wire.AMMTrade{
		Signature:   "sig-amm-1",
		Slot:        51,
		BlockTime:   time.Unix(1700000100, 0),
		Mint:        "mint-4",
		Pool:        "pool-1",
		User:        "user-2",
		TradeType:   wire.TradeSell,
		SOLAmount:   1_500_000_000,
		TokenAmount: 4_200_000_000,
	}

	require.NoError(t, h.HandleAMMTrade(trade))
	depths := writer.QueueDepths()
	assert.Equal(t, 1, depths.Trades, "reserves recovered from the pool state store")
}

func TestHandler_AMMTrade_NoReservesAnywhereIsDroppedSilently(t *testing.T) {
	h, writer, _ := newHandler(t, Thresholds{BCSaveThresholdUSD: 8888, AMMSaveThresholdUSD: 1})
	trade := wire.AMMTrade{
		Signature: "sig-amm-2",
		Mint:      "mint-5",
		Pool:      "pool-unknown",
		TradeType: wire.TradeBuy,
	}
	require.NoError(t, h.HandleAMMTrade(trade))
	assert.Equal(t, 0, writer.QueueDepths().Trades)
}
