package parser

import (
	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

// BCCreateLogStrategy decodes a bonding-curve CreateEvent, emitting a
// TokenDiscovered side event (spec section 4.3 "BC create via event
// log").
type BCCreateLogStrategy struct{}

func (s *BCCreateLogStrategy) Name() string { return "bc_create_log" }

func (s *BCCreateLogStrategy) CanParse(ctx ParseContext) bool {
	if ctx.Account != nil {
		return false
	}
	_, ok := findByDiscriminator(ctx.LogMessages, wire.DiscCreateEvent)
	return ok
}

func (s *BCCreateLogStrategy) Parse(ctx ParseContext) (wire.Event, error) {
	body, ok := findByDiscriminator(ctx.LogMessages, wire.DiscCreateEvent)
	if !ok {
		return nil, errNoProgramData
	}

	ev, err := decodeBCCreateEvent(body)
	if err != nil {
		return nil, err
	}

	return wire.TokenDiscovered{
		Mint:         ev.Mint.String(),
		BondingCurve: ev.BondingCurve.String(),
		Creator:      ev.Creator.String(),
		Name:         ev.Name,
		Symbol:       ev.Symbol,
		URI:          ev.URI,
		Decimals:     wire.DefaultTokenDecimals,
		Reserves: wire.ReservesSnapshot{
			VirtualSOLReserves:   ev.VirtualSOLReserves,
			VirtualTokenReserves: ev.VirtualTokenReserves,
			RealSOLReserves:      ev.RealSOLReserves,
			RealTokenReserves:    ev.RealTokenReserves,
		},
		FirstProgram: wire.ProgramBondingCurve,
		Slot:         ctx.Slot,
	}, nil
}
