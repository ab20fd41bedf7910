// Package wire holds the wire-level constants and the closed event sum
// type shared by the parser, the event bus, and its consumers.
package wire

// Program ids and well-known mints, per spec section 6.
const (
	BondingCurveProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	AMMProgramID          = "pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA"
	WrappedSOLMint        = "So11111111111111111111111111111111111111112"
)

// Discriminators are fixed 8-byte prefixes identifying an account or
// instruction's binary layout on-chain.
var (
	DiscBondingCurveAccount = [8]byte{23, 183, 248, 55, 96, 216, 172, 96}
	DiscTradeEvent          = [8]byte{232, 219, 223, 41, 219, 236, 220, 190}
	DiscCreateEvent         = [8]byte{23, 30, 248, 169, 150, 79, 226, 150}
	DiscCompleteEvent       = [8]byte{23, 30, 248, 169, 150, 79, 226, 178}

	DiscAMMBuy      = [8]byte{102, 6, 61, 18, 1, 218, 235, 234}
	DiscAMMSell     = [8]byte{51, 230, 133, 164, 1, 127, 131, 173}
	DiscAMMDeposit  = [8]byte{242, 35, 198, 137, 82, 225, 242, 182}
	DiscAMMWithdraw = [8]byte{183, 18, 70, 156, 148, 109, 161, 34}
)

// Graduation liquidity band, virtual SOL reserves in lamports.
const (
	GraduationBandLowLamports  = 30_000_000_000
	GraduationBandHighLamports = 85_000_000_000
)

// Default BC total supply assumption when a bonding-curve account isn't
// available yet (spec section 4.4).
const (
	DefaultBCTotalSupply = 1_000_000_000_000_000 // 10^9 tokens, 6 decimals
	DefaultTokenDecimals = 6
	DefaultSOLDecimals   = 9
)

// KnownProgramNames is a small symbol table used only for log readability
// (supplemented feature #2 in SPEC_FULL.md) -- never consulted by pricing
// or parsing logic.
var KnownProgramNames = map[string]string{
	BondingCurveProgramID: "pumpfun-bonding-curve",
	AMMProgramID:          "pumpswap-amm",
}

// KnownMintSymbols is likewise log-readability only.
var KnownMintSymbols = map[string]string{
	WrappedSOLMint: "SOL",
}
