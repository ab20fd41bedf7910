package persistence

import "time"

// TokenRow mirrors the Token entity (spec section 3).
type TokenRow struct {
	MintAddress         string
	Symbol              string
	Name                string
	FirstProgram        string
	CurrentProgram      string
	Graduated           bool
	GraduationTimestamp *time.Time
	LatestPriceSOL      string
	LatestPriceUSD      string
	LatestMarketCapUSD  string
	LatestReserves      ReservesRow
	LatestProgress      string
	FirstSeenSlot       uint64
	Creator             string
	BondingCurveAddress string
}

// ReservesRow mirrors wire.ReservesSnapshot in persisted form.
type ReservesRow struct {
	VirtualSOLReserves   uint64
	VirtualTokenReserves uint64
	RealSOLReserves      uint64
	RealTokenReserves    uint64
}

// TradeRow mirrors the Trade entity (spec section 3); append-only,
// unique on (Signature, Program).
type TradeRow struct {
	Signature     string
	Program       string
	MintAddress   string
	Slot          uint64
	BlockTime     time.Time
	TradeType     string
	UserAddress   string
	SOLAmount     uint64
	TokenAmount   uint64
	PriceSOL      string
	PriceUSD      string
	MarketCapUSD  string
	VolumeUSD     string
	PoolOrCurve   string
	Reserves      ReservesRow
}

// PoolStateRow mirrors the Pool State entity (spec section 3); primary
// key (PoolAddress, Slot).
type PoolStateRow struct {
	PoolAddress string
	Slot        uint64
	MintAddress string
	Reserves    ReservesRow
	PoolOpen    bool
}

// GraduationRow mirrors bonding_curve_mappings plus the graduation
// columns on tokens (spec section 6 "Downstream persistence schema").
type GraduationRow struct {
	BondingCurveAddress string
	MintAddress         string
	GraduationTimestamp time.Time
	Reason              string
}
