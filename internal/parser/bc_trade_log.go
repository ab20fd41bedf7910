package parser

import (
	"errors"

	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

// BCTradeLogStrategy decodes a bonding-curve TradeEvent from a
// "Program data:" log line (spec section 4.3 "BC trade via event log").
// It is tried first: event-log strategies outrank everything else.
type BCTradeLogStrategy struct{}

func (s *BCTradeLogStrategy) Name() string { return "bc_trade_log" }

func (s *BCTradeLogStrategy) CanParse(ctx ParseContext) bool {
	if ctx.Account != nil {
		return false
	}
	_, ok := findByDiscriminator(ctx.LogMessages, wire.DiscTradeEvent)
	return ok
}

func (s *BCTradeLogStrategy) Parse(ctx ParseContext) (wire.Event, error) {
	body, ok := findByDiscriminator(ctx.LogMessages, wire.DiscTradeEvent)
	if !ok {
		return nil, errNoProgramData
	}

	ev, err := decodeBCTradeEvent(body)
	if err != nil {
		return nil, err
	}

	tradeType := wire.TradeSell
	if ev.IsBuy {
		tradeType = wire.TradeBuy
	}

	bondingCurve, ok := bondingCurveFromInstructions(ctx.Instructions)
	if !ok {
		return nil, errors.New("parser: no bonding curve program instruction in transaction")
	}

	return wire.BCTrade{
		Signature:    ctx.Signature,
		Slot:         ctx.Slot,
		BlockTime:    ctx.BlockTime,
		Mint:         ev.Mint.String(),
		BondingCurve: bondingCurve,
		User:         ev.User.String(),
		TradeType:    tradeType,
		SOLAmount:    ev.SOLAmount,
		TokenAmount:  ev.TokenAmount,
		FeeRecipient: ev.FeeRecipient.String(),
		Reserves: wire.ReservesSnapshot{
			VirtualSOLReserves:   ev.VirtualSOLReserves,
			VirtualTokenReserves: ev.VirtualTokenReserves,
			RealSOLReserves:      ev.RealSOLReserves,
			RealTokenReserves:    ev.RealTokenReserves,
		},
		SourceStrategy: s.Name(),
	}, nil
}

// bcInstructionBondingCurveIndex is the bonding_curve account's fixed
// position in the pump.fun IDL's buy/sell instruction account list:
// global, fee_recipient, mint, bonding_curve, associated_bonding_curve,
// associated_user, user, system_program, token_program, ... The event log
// carries everything about the trade itself except which bonding curve
// PDA it ran against, so this strategy recovers it from the top-level
// instruction that invoked the bonding-curve program in the same
// transaction (spec section 4.3 dispatches per-transaction, so there is
// exactly one such instruction for a trade).
const bcInstructionBondingCurveIndex = 3

// bondingCurveFromInstructions finds the transaction's top-level
// instruction addressed to the bonding-curve program and returns its
// bonding_curve account by the IDL's fixed position.
func bondingCurveFromInstructions(ixs []CompiledInstruction) (string, bool) {
	for _, ix := range ixs {
		if ix.ProgramID.String() != wire.BondingCurveProgramID {
			continue
		}
		if len(ix.Accounts) <= bcInstructionBondingCurveIndex {
			continue
		}
		return ix.Accounts[bcInstructionBondingCurveIndex].String(), true
	}
	return "", false
}
