package parser

import (
	"encoding/base64"
	"encoding/binary"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

func u64le(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// encodeTradeEvent builds the exact wire layout bcTradeEventPayload
// decodes, so the round-trip matches spec section 8's boundary law:
// "A TradeEvent encoded with the documented discriminator and struct
// layout must decode to inputs bit-identical."
func encodeTradeEvent(mint, user, feeRecipient solana.PublicKey, solAmount, tokenAmount uint64, isBuy bool, ts int64, vSol, vTok, rSol, rTok uint64) []byte {
	buf := append([]byte{}, wire.DiscTradeEvent[:]...)
	buf = append(buf, mint.Bytes()...)
	buf = append(buf, u64le(solAmount)...)
	buf = append(buf, u64le(tokenAmount)...)
	if isBuy {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, user.Bytes()...)
	buf = append(buf, u64le(uint64(ts))...)
	buf = append(buf, u64le(vSol)...)
	buf = append(buf, u64le(vTok)...)
	buf = append(buf, u64le(rSol)...)
	buf = append(buf, u64le(rTok)...)
	buf = append(buf, feeRecipient.Bytes()...)
	return buf
}

// TestBCTradeLogStrategy_S1 exercises spec section 8 scenario S1.
func TestBCTradeLogStrategy_S1(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	user := solana.NewWallet().PublicKey()
	feeRecipient := solana.NewWallet().PublicKey()
	bondingCurve := solana.NewWallet().PublicKey()

	raw := encodeTradeEvent(mint, user, feeRecipient, 1_000_000_000, 30_000_000_000, true, 1700000000,
		31_000_000_000, 780_000_000_000_000, 0, 0)

	bcProgram := solana.MustPublicKeyFromBase58(wire.BondingCurveProgramID)
	bcAccounts := make([]solana.PublicKey, bcInstructionBondingCurveIndex+1)
	for i := range bcAccounts {
		bcAccounts[i] = solana.NewWallet().PublicKey()
	}
	bcAccounts[bcInstructionBondingCurveIndex] = bondingCurve

	ctx := ParseContext{
		Signature:   "sig1",
		Slot:        123,
		BlockTime:   time.Unix(1700000000, 0),
		LogMessages: []string{"Program data: " + base64.StdEncoding.EncodeToString(raw)},
		Instructions: []CompiledInstruction{
			{ProgramID: bcProgram, Accounts: bcAccounts},
		},
	}

	strat := &BCTradeLogStrategy{}
	require.True(t, strat.CanParse(ctx))

	evt, err := strat.Parse(ctx)
	require.NoError(t, err)

	trade, ok := evt.(wire.BCTrade)
	require.True(t, ok)
	assert.Equal(t, wire.TradeBuy, trade.TradeType)
	assert.Equal(t, mint.String(), trade.Mint)
	assert.Equal(t, uint64(1_000_000_000), trade.SOLAmount)
	assert.Equal(t, uint64(30_000_000_000), trade.TokenAmount)
	assert.Equal(t, uint64(31_000_000_000), trade.Reserves.VirtualSOLReserves)
	assert.Equal(t, bondingCurve.String(), trade.BondingCurve)
}

func TestBCTradeLogStrategy_IgnoresUnrelatedLogs(t *testing.T) {
	strat := &BCTradeLogStrategy{}
	ctx := ParseContext{LogMessages: []string{"Program log: something else"}}
	assert.False(t, strat.CanParse(ctx))
}

// TestAMMTradeStrategy_S3 exercises spec section 8 scenario S3: the
// naive max_in slippage-bound value must be discarded in favor of the
// inner-instruction transfer amounts.
func TestAMMTradeStrategy_S3(t *testing.T) {
	pool := solana.NewWallet().PublicKey()
	user := solana.NewWallet().PublicKey()
	baseMint := solana.NewWallet().PublicKey()
	quoteAccount := solana.NewWallet().PublicKey()
	baseAccount := solana.NewWallet().PublicKey()
	tokenProgram := solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	nonsenseData := append(append([]byte{}, wire.DiscAMMBuy[:]...), u64le(5_000_000_000_000_000_000)...)

	ctx := ParseContext{
		Signature: "sig3",
		Slot:      456,
		Instructions: []CompiledInstruction{
			{
				ProgramID: solana.MustPublicKeyFromBase58(wire.AMMProgramID),
				Accounts:  []solana.PublicKey{pool, user, baseMint, solana.MustPublicKeyFromBase58(wire.WrappedSOLMint)},
				Data:      nonsenseData,
			},
		},
		InnerInstructions: []InnerInstruction{
			{
				ProgramID: tokenProgram,
				Accounts:  []solana.PublicKey{user, solana.MustPublicKeyFromBase58(wire.WrappedSOLMint), quoteAccount, user},
				Data:      append([]byte{12}, append(u64le(1_500_000_000), 9)...),
			},
			{
				ProgramID: tokenProgram,
				Accounts:  []solana.PublicKey{pool, baseMint, baseAccount, pool},
				Data:      append([]byte{12}, append(u64le(4_200_000_000), 6)...),
			},
		},
	}

	strat := &AMMTradeStrategy{}
	require.True(t, strat.CanParse(ctx))

	evt, err := strat.Parse(ctx)
	require.NoError(t, err)

	trade, ok := evt.(wire.AMMTrade)
	require.True(t, ok)
	assert.Equal(t, uint64(1_500_000_000), trade.SOLAmount)
	assert.Equal(t, uint64(4_200_000_000), trade.TokenAmount)
	assert.Equal(t, wire.AmountFromInnerInstructions, trade.AmountSource)
}

func TestAMMTradeStrategy_DropsImplausibleHeuristicAmount(t *testing.T) {
	pool := solana.NewWallet().PublicKey()
	user := solana.NewWallet().PublicKey()
	baseMint := solana.NewWallet().PublicKey()

	data := append(append([]byte{}, wire.DiscAMMBuy[:]...), u64le(1)...)

	ctx := ParseContext{
		Instructions: []CompiledInstruction{
			{
				ProgramID: solana.MustPublicKeyFromBase58(wire.AMMProgramID),
				Accounts:  []solana.PublicKey{pool, user, baseMint, solana.MustPublicKeyFromBase58(wire.WrappedSOLMint)},
				Data:      data,
			},
		},
	}

	strat := &AMMTradeStrategy{}
	_, err := strat.Parse(ctx)
	assert.Error(t, err, "no inner-ix, no balance deltas, no plausible heuristic log line -> dropped")
}
