package parser

import (
	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

// ammCreatePoolDiscriminator is the IDL instruction discriminator for
// pump.swap's create_pool instruction, distinct from the trade/liquidity
// event-log discriminators (spec section 4.3 "Pool created").
var ammCreatePoolDiscriminator = [8]byte{233, 146, 209, 142, 207, 104, 64, 188}

const (
	ammCreateAccPool     = 0
	ammCreateAccCreator  = 1
	ammCreateAccBaseMint = 2
)

// PoolCreatedStrategy recognizes the AMM create_pool instruction inside
// the inner-instruction tree and emits PoolCreated, seeding the Pool
// State Store with the pool's initial reserves.
type PoolCreatedStrategy struct{}

func (s *PoolCreatedStrategy) Name() string { return "pool_created" }

func (s *PoolCreatedStrategy) CanParse(ctx ParseContext) bool {
	if ctx.Account != nil {
		return false
	}
	for _, ix := range ctx.InnerInstructions {
		if ix.ProgramID.String() == wire.AMMProgramID && discriminatorMatches(ix.Data, ammCreatePoolDiscriminator) {
			return true
		}
	}
	return false
}

func (s *PoolCreatedStrategy) Parse(ctx ParseContext) (wire.Event, error) {
	for _, ix := range ctx.InnerInstructions {
		if ix.ProgramID.String() != wire.AMMProgramID || !discriminatorMatches(ix.Data, ammCreatePoolDiscriminator) {
			continue
		}
		if len(ix.Accounts) <= ammCreateAccBaseMint {
			continue
		}

		reserves := initialReservesFromBalances(ctx.PostTokenBalances, ix.Accounts[ammCreateAccBaseMint].String())

		return wire.PoolCreated{
			Signature: ctx.Signature,
			Slot:      ctx.Slot,
			BlockTime: ctx.BlockTime,
			Mint:      ix.Accounts[ammCreateAccBaseMint].String(),
			Pool:      ix.Accounts[ammCreateAccPool].String(),
			Creator:   ix.Accounts[ammCreateAccCreator].String(),
			Reserves:  reserves,
		}, nil
	}
	return nil, nil
}

// initialReservesFromBalances derives the freshly-created pool's vault
// balances from the transaction's post token balances: the wrapped-SOL
// leg and the base-mint leg.
func initialReservesFromBalances(post []TokenBalance, baseMint string) wire.ReservesSnapshot {
	var r wire.ReservesSnapshot
	for _, b := range post {
		switch b.Mint {
		case wire.WrappedSOLMint:
			r.VirtualSOLReserves = b.Amount
			r.RealSOLReserves = b.Amount
		case baseMint:
			if b.Amount > 0 {
				r.VirtualTokenReserves = b.Amount
				r.RealTokenReserves = b.Amount
			}
		}
	}
	return r
}
