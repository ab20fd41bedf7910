package parser

import (
	bin "github.com/gagliardetto/binary"

	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

// AMMLiquidityStrategy decodes pump.swap deposit/withdraw program-data
// log lines into LiquidityAdd/LiquidityRemove events (spec section 4.3
// "AMM liquidity event").
type AMMLiquidityStrategy struct{}

func (s *AMMLiquidityStrategy) Name() string { return "amm_liquidity" }

func (s *AMMLiquidityStrategy) CanParse(ctx ParseContext) bool {
	if ctx.Account != nil {
		return false
	}
	for _, payload := range programDataLines(ctx.LogMessages) {
		if discriminatorMatches(payload, wire.DiscAMMDeposit) || discriminatorMatches(payload, wire.DiscAMMWithdraw) {
			return true
		}
	}
	return false
}

func (s *AMMLiquidityStrategy) Parse(ctx ParseContext) (wire.Event, error) {
	pool, user := ammPoolAndUser(ctx.Instructions)

	for _, payload := range programDataLines(ctx.LogMessages) {
		switch {
		case discriminatorMatches(payload, wire.DiscAMMDeposit):
			var p ammLiquidityDepositPayload
			if err := bin.NewBinDecoder(payload[8:]).Decode(&p); err != nil {
				return nil, err
			}
			return wire.LiquidityAdd{
				Signature:        ctx.Signature,
				Slot:             ctx.Slot,
				BlockTime:        ctx.BlockTime,
				Pool:             pool,
				User:             user,
				BaseAmountIn:     p.BaseAmountIn,
				QuoteAmountIn:    p.QuoteAmountIn,
				MinBaseAmountIn:  p.MinBaseAmountIn,
				MinQuoteAmountIn: p.MinQuoteAmountIn,
			}, nil

		case discriminatorMatches(payload, wire.DiscAMMWithdraw):
			var p ammLiquidityWithdrawPayload
			if err := bin.NewBinDecoder(payload[8:]).Decode(&p); err != nil {
				return nil, err
			}
			return wire.LiquidityRemove{
				Signature:         ctx.Signature,
				Slot:              ctx.Slot,
				BlockTime:         ctx.BlockTime,
				Pool:              pool,
				User:              user,
				LPAmountIn:        p.LPAmountIn,
				MinBaseAmountOut:  p.MinBaseAmountOut,
				MinQuoteAmountOut: p.MinQuoteAmountOut,
			}, nil
		}
	}
	return nil, nil
}

// ammPoolAndUser finds the first AMM-program instruction in the
// transaction and reads pool/user from the fixed account ordering the
// IDL defines, the same convention AMMTradeStrategy uses.
func ammPoolAndUser(ixs []CompiledInstruction) (string, string) {
	for _, ix := range ixs {
		if ix.ProgramID.String() != wire.AMMProgramID {
			continue
		}
		if len(ix.Accounts) <= ammAccUser {
			continue
		}
		return ix.Accounts[ammAccPool].String(), ix.Accounts[ammAccUser].String()
	}
	return "", ""
}
