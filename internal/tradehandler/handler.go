// Package tradehandler implements the Trade Handler (spec section 4.6):
// it prices every trade event, applies the save-threshold drop rule,
// upserts the owning token on first observation, and hands both rows to
// the Persistence Layer.
package tradehandler

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/pumpfun-superbot/ingestor/internal/eventbus"
	"github.com/pumpfun-superbot/ingestor/internal/graduation"
	"github.com/pumpfun-superbot/ingestor/internal/persistence"
	"github.com/pumpfun-superbot/ingestor/internal/poolstate"
	"github.com/pumpfun-superbot/ingestor/internal/pricing"
	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

// Thresholds mirrors internal/config.ThresholdConfig.
type Thresholds struct {
	BCSaveThresholdUSD  float64
	AMMSaveThresholdUSD float64
}

// Handler is the Trade Handler. It owns the "have we ever persisted this
// mint" set -- a small piece of state distinct from the Pool State Store
// and the Graduation Tracker's map, scoped to the threshold-drop rule
// only (spec section 4.6 step 2).
type Handler struct {
	thresholds Thresholds
	prices     *priceSource
	pools      *poolstate.Store
	writer     *persistence.Writer
	bus        *eventbus.Bus
	grad       *graduation.Tracker

	mu    sync.Mutex
	known map[string]bool
}

// priceSource is the minimal SOL/USD accessor the handler needs; defined
// locally so this package doesn't import internal/oracle's HTTP types.
type priceSource interface {
	Get() (decimal.Decimal, bool)
}

func New(thresholds Thresholds, prices priceSource, pools *poolstate.Store, writer *persistence.Writer, bus *eventbus.Bus, grad *graduation.Tracker) *Handler {
	return &Handler{
		thresholds: thresholds,
		prices:     wrapPriceSource(prices),
		pools:      pools,
		writer:     writer,
		bus:        bus,
		grad:       grad,
		known:      make(map[string]bool),
	}
}

type priceSourceFunc func() (decimal.Decimal, bool)

func (f priceSourceFunc) Get() (decimal.Decimal, bool) { return f() }

func wrapPriceSource(p priceSource) *priceSource {
	return &p
}

// HandleBCTrade prices and persists a bonding-curve trade (spec section
// 4.6).
func (h *Handler) HandleBCTrade(t wire.BCTrade) error {
	solUSD, _ := (*h.prices).Get()

	result, err := pricing.Compute(pricing.Input{
		VirtualSOLReserves:   t.Reserves.VirtualSOLReserves,
		VirtualTokenReserves: t.Reserves.VirtualTokenReserves,
		TokenDecimals:        wire.DefaultTokenDecimals,
		SOLUSD:               solUSD,
		Mode:                 pricing.ModeBondingCurve,
		CirculatingSupply:    wire.DefaultBCTotalSupply,
	})
	if err != nil {
		return err
	}

	marketCap, _ := result.MarketCapUSD.Float64()
	firstSeen := h.markSeenIfAbove(t.Mint, marketCap, h.thresholds.BCSaveThresholdUSD)
	if !firstSeen && !h.isKnown(t.Mint) {
		return nil
	}

	if firstSeen {
		h.writer.EnqueueToken(persistence.TokenRow{
			MintAddress:         t.Mint,
			FirstProgram:        string(wire.ProgramBondingCurve),
			CurrentProgram:      string(wire.ProgramBondingCurve),
			BondingCurveAddress: t.BondingCurve,
			FirstSeenSlot:       t.Slot,
			LatestPriceSOL:      result.PriceSOL.String(),
			LatestPriceUSD:      result.PriceUSD.String(),
			LatestMarketCapUSD:  result.MarketCapUSD.String(),
			LatestProgress:      result.Progress.String(),
			LatestReserves:      reservesRow(t.Reserves),
		})
		// Token identity (name/symbol/creator) is published once by the
		// create-log strategy, not here; this path only persists the row.
		h.bus.Publish(wire.ThresholdCrossed{
			Mint:         t.Mint,
			Program:      wire.ProgramBondingCurve,
			MarketCapUSD: result.MarketCapUSD.String(),
		})
	} else {
		h.writer.EnqueueToken(persistence.TokenRow{
			MintAddress:        t.Mint,
			CurrentProgram:     string(wire.ProgramBondingCurve),
			LatestPriceSOL:     result.PriceSOL.String(),
			LatestPriceUSD:     result.PriceUSD.String(),
			LatestMarketCapUSD: result.MarketCapUSD.String(),
			LatestProgress:     result.Progress.String(),
			LatestReserves:     reservesRow(t.Reserves),
		})
	}

	volumeUSD := result.PriceUSD.Mul(decimal.NewFromInt(int64(t.TokenAmount)).Div(decimal.New(1, wire.DefaultTokenDecimals)))

	h.writer.EnqueueTrade(persistence.TradeRow{
		Signature:    t.Signature,
		Program:      string(wire.ProgramBondingCurve),
		MintAddress:  t.Mint,
		Slot:         t.Slot,
		BlockTime:    t.BlockTime,
		TradeType:    string(t.TradeType),
		UserAddress:  t.User,
		SOLAmount:    t.SOLAmount,
		TokenAmount:  t.TokenAmount,
		PriceSOL:     result.PriceSOL.String(),
		PriceUSD:     result.PriceUSD.String(),
		MarketCapUSD: result.MarketCapUSD.String(),
		VolumeUSD:    volumeUSD.String(),
		PoolOrCurve:  t.BondingCurve,
		Reserves:     reservesRow(t.Reserves),
	})

	progress, _ := result.Progress.Float64()
	h.grad.ObserveBCTrade(t.BondingCurve, t.Mint, progress)

	return nil
}

// HandleAMMTrade prices and persists an AMM trade. Reserves for an AMM
// trade may be absent on the event itself; the handler falls back to the
// Pool State Store's cached snapshot (spec section 4.7: "Exposed for
// synchronous price recovery of AMM trades that lack reserves").
func (h *Handler) HandleAMMTrade(t wire.AMMTrade) error {
	reserves := t.Reserves
	if reserves == nil {
		if cached, ok := h.pools.Get(t.Pool); ok {
			reserves = &cached.Reserves
		}
	}
	if reserves == nil {
		return nil // nothing to price against; dropped silently and not counted
	}

	solUSD, _ := (*h.prices).Get()

	circulating := reserves.VirtualTokenReserves
	if cached, ok := h.pools.Get(t.Pool); ok {
		circulating = cached.Reserves.VirtualTokenReserves
	}

	result, err := pricing.Compute(pricing.Input{
		VirtualSOLReserves:   reserves.VirtualSOLReserves,
		VirtualTokenReserves: reserves.VirtualTokenReserves,
		TokenDecimals:        wire.DefaultTokenDecimals,
		SOLUSD:               solUSD,
		Mode:                 pricing.ModeAMM,
		CirculatingSupply:    circulating,
	})
	if err != nil {
		return err
	}

	marketCap, _ := result.MarketCapUSD.Float64()
	firstSeen := h.markSeenIfAbove(t.Mint, marketCap, h.thresholds.AMMSaveThresholdUSD)
	if !firstSeen && !h.isKnown(t.Mint) {
		return nil
	}

	if firstSeen {
		h.writer.EnqueueToken(persistence.TokenRow{
			MintAddress:        t.Mint,
			FirstProgram:       string(wire.ProgramAMMPool),
			CurrentProgram:     string(wire.ProgramAMMPool),
			FirstSeenSlot:      t.Slot,
			LatestPriceSOL:     result.PriceSOL.String(),
			LatestPriceUSD:     result.PriceUSD.String(),
			LatestMarketCapUSD: result.MarketCapUSD.String(),
			LatestReserves:     reservesRow(*reserves),
		})
		h.bus.Publish(wire.ThresholdCrossed{
			Mint:         t.Mint,
			Program:      wire.ProgramAMMPool,
			MarketCapUSD: result.MarketCapUSD.String(),
		})
	}

	volumeUSD := result.PriceUSD.Mul(decimal.NewFromInt(int64(t.TokenAmount)).Div(decimal.New(1, wire.DefaultTokenDecimals)))

	h.writer.EnqueueTrade(persistence.TradeRow{
		Signature:    t.Signature,
		Program:      string(wire.ProgramAMMPool),
		MintAddress:  t.Mint,
		Slot:         t.Slot,
		BlockTime:    t.BlockTime,
		TradeType:    string(t.TradeType),
		UserAddress:  t.User,
		SOLAmount:    t.SOLAmount,
		TokenAmount:  t.TokenAmount,
		PriceSOL:     result.PriceSOL.String(),
		PriceUSD:     result.PriceUSD.String(),
		MarketCapUSD: result.MarketCapUSD.String(),
		VolumeUSD:    volumeUSD.String(),
		PoolOrCurve:  t.Pool,
		Reserves:     reservesRow(*reserves),
	})

	if grad, ok := h.grad.ObserveAMMTrade(t.Mint, t.BlockTime); ok {
		h.writer.EnqueueGraduation(persistence.GraduationRow{
			BondingCurveAddress: grad.BondingCurve,
			MintAddress:         grad.Mint,
			GraduationTimestamp: grad.GraduationTime,
			Reason:              string(grad.Reason),
		})
		// The tracker has already deduped this graduation (ObserveAMMTrade
		// returns ok=true at most once per mint), so the token flip to
		// graduated=true is persisted here directly rather than deferred
		// to the graduation event-bus consumer, which re-runs the
		// complete-flag path and would no-op against an already-graduated
		// record (spec section 4.5 S6: "late-discovered graduation").
		graduationTime := grad.GraduationTime
		h.writer.EnqueueToken(persistence.TokenRow{
			MintAddress:         grad.Mint,
			CurrentProgram:      string(wire.ProgramAMMPool),
			Graduated:           true,
			GraduationTimestamp: &graduationTime,
			BondingCurveAddress: grad.BondingCurve,
		})
		h.bus.Publish(grad)
	}

	return nil
}

// markSeenIfAbove applies spec section 4.6 step 2: drop if market cap is
// below threshold and the token isn't already present; returns true the
// first time this mint crosses its threshold.
func (h *Handler) markSeenIfAbove(mint string, marketCapUSD, threshold float64) (firstSeen bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.known[mint] {
		return false
	}
	if marketCapUSD < threshold {
		return false
	}
	h.known[mint] = true
	return true
}

func (h *Handler) isKnown(mint string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.known[mint]
}

func reservesRow(r wire.ReservesSnapshot) persistence.ReservesRow {
	return persistence.ReservesRow{
		VirtualSOLReserves:   r.VirtualSOLReserves,
		VirtualTokenReserves: r.VirtualTokenReserves,
		RealSOLReserves:      r.RealSOLReserves,
		RealTokenReserves:    r.RealTokenReserves,
	}
}
