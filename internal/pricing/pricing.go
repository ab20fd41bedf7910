// Package pricing computes SOL/USD prices, market caps, and bonding-curve
// progress from reserve values (spec section 4.4). All intermediate
// multiplication happens in a wide integer type before any division, per
// the REDESIGN FLAG replacing BigInt-based u64 arithmetic with a native
// checked-arithmetic path (here: github.com/holiman/uint256).
package pricing

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ErrZeroReserves is returned when a price calculation is attempted
// against a reserve pair that can't produce a meaningful ratio.
var ErrZeroReserves = errors.New("pricing: zero reserves")

func init() {
	decimal.DivisionPrecision = 20
}

// Mode distinguishes the two market-cap conventions spec section 9 froze
// as separate and intentional: BC tokens use token_total_supply, AMM
// tokens use the pool-held token balance as circulating supply.
type Mode int

const (
	ModeBondingCurve Mode = iota
	ModeAMM
)

// Input is the fully-formed request to the Pricing Core. Nullable,
// ad-hoc fields are avoided (REDESIGN FLAG: pervasive nullable fields) --
// callers construct exactly the variant they have data for.
type Input struct {
	VirtualSOLReserves   uint64
	VirtualTokenReserves uint64
	TokenDecimals        uint8
	SOLUSD               decimal.Decimal

	Mode Mode
	// CirculatingSupply is token_total_supply for ModeBondingCurve, or the
	// pool-held token balance for ModeAMM.
	CirculatingSupply uint64
}

// Result is the Pricing Core's output in fixed point: PriceSOL and
// PriceUSD carry 12 fractional digits (a per-token USD price is far below
// one cent), MarketCapUSD carries 4.
type Result struct {
	PriceSOL     decimal.Decimal
	PriceUSD     decimal.Decimal
	MarketCapUSD decimal.Decimal
	Progress     decimal.Decimal // 0..100
}

const (
	solScalePrecision   = 9
	solFractionalDigits = 12
	usdFractionalDigits = 4
)

// Compute derives price-in-SOL, price-in-USD, market cap, and bonding
// curve progress from the given reserves (spec section 4.4 and the
// invariants in section 3).
func Compute(in Input) (Result, error) {
	if in.VirtualSOLReserves == 0 || in.VirtualTokenReserves == 0 {
		return Result{}, ErrZeroReserves
	}

	priceSOL := priceInSOL(in.VirtualSOLReserves, in.VirtualTokenReserves, in.TokenDecimals)
	priceUSD := priceSOL.Mul(in.SOLUSD).Round(solFractionalDigits)

	circulating := decimal.NewFromInt(int64(in.CirculatingSupply)).
		Div(decimal.New(1, int32(in.TokenDecimals)))
	marketCap := priceUSD.Mul(circulating).Round(usdFractionalDigits)

	progress := ProgressFromVirtualSOL(in.VirtualSOLReserves)

	return Result{
		PriceSOL:     priceSOL,
		PriceUSD:     priceUSD,
		MarketCapUSD: marketCap,
		Progress:     progress,
	}, nil
}

// priceInSOL computes (virtualSol/10^9) / (virtualToken/10^decimals) using
// a 256-bit intermediate product so the lamports x 10^decimals scaling
// never overflows a u64 before the division is taken (spec section 4.4:
// "All multiplications must be performed in a precision wider than u64").
func priceInSOL(virtualSOL, virtualToken uint64, tokenDecimals uint8) decimal.Decimal {
	// price = virtualSOL * 10^tokenDecimals / (virtualToken * 10^solScalePrecision)
	num := new(uint256.Int).SetUint64(virtualSOL)
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(tokenDecimals)))
	num.Mul(num, scale)

	den := new(uint256.Int).SetUint64(virtualToken)
	denScale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(solScalePrecision))
	den.Mul(den, denScale)

	numDec, _ := decimal.NewFromString(num.Dec())
	denDec, _ := decimal.NewFromString(den.Dec())

	return numDec.DivRound(denDec, solFractionalDigits)
}

// ProgressFromVirtualSOL applies the clamp formula from spec sections 3
// and 4.4: progress = clamp((virtualSol - 30e9)/55e9 * 100, 0, 100).
func ProgressFromVirtualSOL(virtualSOLLamports uint64) decimal.Decimal {
	const (
		low  = 30_000_000_000
		span = 55_000_000_000
	)

	v := decimal.NewFromInt(int64(virtualSOLLamports))
	numerator := v.Sub(decimal.NewFromInt(low))
	progress := numerator.Div(decimal.NewFromInt(span)).Mul(decimal.NewFromInt(100))

	if progress.IsNegative() {
		return decimal.Zero
	}
	if progress.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.NewFromInt(100)
	}
	return progress
}
