package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1 from spec section 8: BC buy detection expected values.
func TestCompute_S1BondingCurveBuy(t *testing.T) {
	in := Input{
		VirtualSOLReserves:   31_000_000_000,
		VirtualTokenReserves: 780_000_000_000_000,
		TokenDecimals:        6,
		SOLUSD:               decimal.NewFromInt(180),
		Mode:                 ModeBondingCurve,
		CirculatingSupply:    1_000_000_000_000_000, // default 10^9 tokens, 6 decimals
	}

	res, err := Compute(in)
	require.NoError(t, err)

	assert.True(t, res.PriceSOL.Sub(decimal.NewFromFloat(3.974e-8)).Abs().
		LessThan(decimal.NewFromFloat(1e-10)), "price_sol = %s", res.PriceSOL)
	assert.True(t, res.PriceUSD.Sub(decimal.NewFromFloat(7.153e-6)).Abs().
		LessThan(decimal.NewFromFloat(1e-7)), "price_usd = %s", res.PriceUSD)
	assert.True(t, res.MarketCapUSD.Sub(decimal.NewFromFloat(7153)).Abs().
		LessThan(decimal.NewFromFloat(5)), "market_cap_usd = %s", res.MarketCapUSD)

	progress := ProgressFromVirtualSOL(in.VirtualSOLReserves)
	assert.True(t, progress.Sub(decimal.NewFromFloat(1.818)).Abs().
		LessThan(decimal.NewFromFloat(0.01)), "progress = %s", progress)
}

func TestCompute_ZeroReserves(t *testing.T) {
	_, err := Compute(Input{VirtualSOLReserves: 0, VirtualTokenReserves: 1})
	assert.ErrorIs(t, err, ErrZeroReserves)

	_, err = Compute(Input{VirtualSOLReserves: 1, VirtualTokenReserves: 0})
	assert.ErrorIs(t, err, ErrZeroReserves)
}

// Testable property 6: boundary laws for progress.
func TestProgressFromVirtualSOL_Boundaries(t *testing.T) {
	assert.True(t, ProgressFromVirtualSOL(30_000_000_000).IsZero())
	assert.True(t, ProgressFromVirtualSOL(10_000_000_000).IsZero())
	assert.True(t, ProgressFromVirtualSOL(85_000_000_000).Equal(decimal.NewFromInt(100)))
	assert.True(t, ProgressFromVirtualSOL(200_000_000_000).Equal(decimal.NewFromInt(100)))

	mid := ProgressFromVirtualSOL(57_500_000_000) // halfway through the band
	assert.True(t, mid.Sub(decimal.NewFromInt(50)).Abs().LessThan(decimal.NewFromFloat(0.01)))
}

func TestComputeAMMMode_UsesPoolHeldSupply(t *testing.T) {
	in := Input{
		VirtualSOLReserves:   50_000_000_000,
		VirtualTokenReserves: 500_000_000_000_000,
		TokenDecimals:        6,
		SOLUSD:               decimal.NewFromInt(150),
		Mode:                 ModeAMM,
		CirculatingSupply:    400_000_000_000_000, // pool-held tokens, not total supply
	}
	res, err := Compute(in)
	require.NoError(t, err)
	assert.False(t, res.MarketCapUSD.IsZero())
}
