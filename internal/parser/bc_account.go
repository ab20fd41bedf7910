package parser

import (
	"sync"

	"github.com/pumpfun-superbot/ingestor/internal/pricing"
	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

// BCAccountStrategy decodes bonding-curve account updates (spec section
// 4.3 "BC account update"). It tracks the last-seen `complete` flag per
// bonding curve so a Graduation is only ever emitted on the false->true
// transition (spec: "only emit a Graduation when the previously observed
// complete was false").
type BCAccountStrategy struct {
	Resolver BCMintResolver

	mu           sync.Mutex
	lastComplete map[string]bool
}

func (s *BCAccountStrategy) Name() string { return "bc_account_update" }

func (s *BCAccountStrategy) CanParse(ctx ParseContext) bool {
	if ctx.Account == nil {
		return false
	}
	if ctx.Account.Owner.String() != wire.BondingCurveProgramID {
		return false
	}
	return discriminatorMatches(ctx.Account.Data, wire.DiscBondingCurveAccount)
}

func (s *BCAccountStrategy) Parse(ctx ParseContext) (wire.Event, error) {
	acc, err := decodeBondingCurveAccount(ctx.Account.Data)
	if err != nil {
		return nil, err
	}

	bondingCurve := ctx.Account.Pubkey.String()
	progress := pricing.ProgressFromVirtualSOL(acc.VirtualSOLReserves)
	progressFloat, _ := progress.Float64()

	wasComplete := s.sawComplete(bondingCurve)
	s.setComplete(bondingCurve, acc.Complete)

	if acc.Complete || progressFloat >= 100 {
		if wasComplete {
			return nil, nil
		}
		mint, _ := s.Resolver.MintForBondingCurve(bondingCurve)
		return wire.Graduation{
			Mint:           mint,
			BondingCurve:   bondingCurve,
			Slot:           ctx.Slot,
			GraduationTime: ctx.BlockTime,
			Reason:         wire.ReasonCompleteFlag,
		}, nil
	}

	if progressFloat > 90 {
		mint, _ := s.Resolver.MintForBondingCurve(bondingCurve)
		return wire.BondingCurveProgressUpdate{
			Mint:         mint,
			BondingCurve: bondingCurve,
			Slot:         ctx.Slot,
			Progress:     progressFloat,
		}, nil
	}

	return nil, nil
}

func (s *BCAccountStrategy) sawComplete(bondingCurve string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastComplete == nil {
		return false
	}
	return s.lastComplete[bondingCurve]
}

func (s *BCAccountStrategy) setComplete(bondingCurve string, complete bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastComplete == nil {
		s.lastComplete = make(map[string]bool)
	}
	s.lastComplete[bondingCurve] = complete
}
