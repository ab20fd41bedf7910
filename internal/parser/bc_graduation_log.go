package parser

import (
	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

// BCGraduationLogStrategy decodes a bonding-curve CompleteEvent into a
// Graduation event (spec section 4.3 "BC graduation via event log").
type BCGraduationLogStrategy struct{}

func (s *BCGraduationLogStrategy) Name() string { return "bc_graduation_log" }

func (s *BCGraduationLogStrategy) CanParse(ctx ParseContext) bool {
	if ctx.Account != nil {
		return false
	}
	_, ok := findByDiscriminator(ctx.LogMessages, wire.DiscCompleteEvent)
	return ok
}

func (s *BCGraduationLogStrategy) Parse(ctx ParseContext) (wire.Event, error) {
	body, ok := findByDiscriminator(ctx.LogMessages, wire.DiscCompleteEvent)
	if !ok {
		return nil, errNoProgramData
	}

	ev, err := decodeBCCompleteEvent(body)
	if err != nil {
		return nil, err
	}

	return wire.Graduation{
		Mint:           ev.Mint.String(),
		BondingCurve:   ev.BondingCurve.String(),
		Slot:           ctx.Slot,
		GraduationTime: ctx.BlockTime,
		Reason:         wire.ReasonCompleteFlag,
	}, nil
}
