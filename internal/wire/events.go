package wire

import "time"

// ProgramTag distinguishes which on-chain program produced an event.
type ProgramTag string

const (
	ProgramBondingCurve ProgramTag = "bonding_curve"
	ProgramAMMPool      ProgramTag = "amm_pool"
)

// TradeType is buy or sell, from the perspective of the user.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// EventKind identifies which concrete type an Event carries. Consumers
// that need exhaustive handling switch on this instead of relying on a
// type hierarchy (REDESIGN FLAG: replace dynamic base-class monitors).
type EventKind string

const (
	KindBCTrade               EventKind = "bc_trade"
	KindAMMTrade              EventKind = "amm_trade"
	KindGraduation            EventKind = "graduation"
	KindPoolCreated           EventKind = "pool_created"
	KindLiquidityAdd          EventKind = "liquidity_add"
	KindLiquidityRemove       EventKind = "liquidity_remove"
	KindTokenDiscovered       EventKind = "token_discovered"
	KindBondingCurveProgress  EventKind = "bonding_curve_progress"
	KindThresholdCrossed      EventKind = "threshold_crossed"
)

// Event is implemented by every concrete, closed event type the parser
// can emit. The method exists only to close the set -- consumers type-
// switch on the concrete type, and Kind() lets a metrics tap observe
// every event without caring about its payload (the only allowed
// "wildcard listener", per SPEC_FULL.md's event-bus redesign note).
type Event interface {
	Kind() EventKind
}

// ReservesSnapshot captures a pool or bonding-curve's reserve state at a
// point in time.
type ReservesSnapshot struct {
	VirtualSOLReserves   uint64
	VirtualTokenReserves uint64
	RealSOLReserves      uint64
	RealTokenReserves    uint64
}

// BCTrade is a trade executed against a bonding curve, decoded from a
// TradeEvent program-data log line (spec section 4.3).
type BCTrade struct {
	Signature       string
	Slot            uint64
	BlockTime       time.Time
	Mint            string
	BondingCurve    string
	User            string
	TradeType       TradeType
	SOLAmount       uint64
	TokenAmount     uint64
	FeeRecipient    string
	Reserves        ReservesSnapshot
	SourceStrategy  string
}

func (BCTrade) Kind() EventKind { return KindBCTrade }

// AMMTradeAmountSource records which of the three reconciliation attempts
// (spec section 4.3, AMM strategy) supplied the realized amount.
type AMMTradeAmountSource string

const (
	AmountFromInnerInstructions AMMTradeAmountSource = "inner_instructions"
	AmountFromBalanceDelta      AMMTradeAmountSource = "balance_delta"
	AmountFromHeuristicScan     AMMTradeAmountSource = "heuristic_scan"
)

// AMMTrade is a trade executed against a pump.swap AMM pool.
type AMMTrade struct {
	Signature      string
	Slot           uint64
	BlockTime      time.Time
	Mint           string
	Pool           string
	User           string
	TradeType      TradeType
	SOLAmount      uint64
	TokenAmount    uint64
	AmountSource   AMMTradeAmountSource
	Reserves       *ReservesSnapshot // nil when the event itself carries no reserves
	SourceStrategy string
}

func (AMMTrade) Kind() EventKind { return KindAMMTrade }

// GraduationReason distinguishes a graduation confirmed directly from a
// bonding-curve account update versus one inferred from AMM activity
// arriving first (spec section 4.5, S6).
type GraduationReason string

const (
	ReasonCompleteFlag GraduationReason = "complete_flag"
	ReasonAMMObserved  GraduationReason = "amm_observed"
)

// Graduation marks the confirmed migration of a mint from its bonding
// curve to the AMM.
type Graduation struct {
	Mint             string
	BondingCurve     string
	Slot             uint64
	GraduationTime   time.Time
	Reason           GraduationReason
}

func (Graduation) Kind() EventKind { return KindGraduation }

// PoolCreated is emitted when an AMM create_pool instruction is observed
// in an inner-instruction tree.
type PoolCreated struct {
	Signature string
	Slot      uint64
	BlockTime time.Time
	Mint      string
	Pool      string
	Creator   string
	Reserves  ReservesSnapshot
}

func (PoolCreated) Kind() EventKind { return KindPoolCreated }

// LiquidityAdd / LiquidityRemove are AMM deposit/withdraw events.
type LiquidityAdd struct {
	Signature       string
	Slot            uint64
	BlockTime       time.Time
	Pool            string
	User            string
	BaseAmountIn    uint64
	QuoteAmountIn   uint64
	MinBaseAmountIn uint64
	MinQuoteAmountIn uint64
}

func (LiquidityAdd) Kind() EventKind { return KindLiquidityAdd }

type LiquidityRemove struct {
	Signature         string
	Slot              uint64
	BlockTime         time.Time
	Pool              string
	User              string
	LPAmountIn        uint64
	MinBaseAmountOut  uint64
	MinQuoteAmountOut uint64
}

func (LiquidityRemove) Kind() EventKind { return KindLiquidityRemove }

// TokenDiscovered is a side event emitted by the BC create strategy the
// first time a mint is observed.
type TokenDiscovered struct {
	Mint         string
	BondingCurve string
	Creator      string
	Name         string
	Symbol       string
	URI          string
	Decimals     uint8
	Reserves     ReservesSnapshot
	FirstProgram ProgramTag
	Slot         uint64
}

func (TokenDiscovered) Kind() EventKind { return KindTokenDiscovered }

// BondingCurveProgressUpdate is a side event for a BC account update with
// progress in (90, 100) -- "near graduation" but not yet complete.
type BondingCurveProgressUpdate struct {
	Mint         string
	BondingCurve string
	Slot         uint64
	Progress     float64 // 0..100
}

func (BondingCurveProgressUpdate) Kind() EventKind { return KindBondingCurveProgress }

// ThresholdCrossed fires when a token's market cap first crosses its
// save threshold and is persisted for the first time (spec section 4.6).
type ThresholdCrossed struct {
	Mint         string
	Program      ProgramTag
	MarketCapUSD string // decimal string, see internal/pricing
}

func (ThresholdCrossed) Kind() EventKind { return KindThresholdCrossed }
