// Package parser implements the multi-strategy Event Parser (spec
// section 4.3): raw transaction envelopes and account updates are run
// through an ordered list of strategies until one recognizes the input.
package parser

import (
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/pumpfun-superbot/ingestor/internal/metrics"
	"github.com/pumpfun-superbot/ingestor/internal/poolstate"
	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

// InnerInstruction is one nested instruction executed via CPI, flattened
// from a transaction's meta.innerInstructions.
type InnerInstruction struct {
	ProgramID solana.PublicKey
	Accounts  []solana.PublicKey
	Data      []byte
}

// TokenBalance is one pre/post token-balance entry keyed by account
// index, as delivered in transaction meta.
type TokenBalance struct {
	AccountIndex int
	Owner        string
	Mint         string
	Amount       uint64
	Decimals     uint8
}

// AccountUpdate is a normalized Geyser account-update notification.
type AccountUpdate struct {
	Slot      uint64
	Owner     solana.PublicKey
	Pubkey    solana.PublicKey
	Data      []byte
	WriteVersion uint64
}

// ParseContext is the normalized input every strategy receives (spec
// section 4.3): signature, slot, block_time, account keys, the inner-
// instruction tree, pre/post token balances, log lines, and compiled
// instructions. Exactly one of (Transaction fields) or Account is set.
type ParseContext struct {
	Signature string
	Slot      uint64
	BlockTime time.Time

	AccountKeys        []solana.PublicKey
	LogMessages        []string
	InnerInstructions  []InnerInstruction
	Instructions       []CompiledInstruction
	PreTokenBalances   []TokenBalance
	PostTokenBalances  []TokenBalance

	Account *AccountUpdate
}

// CompiledInstruction is a top-level instruction from the transaction
// message, with its program id already resolved from the account keys.
type CompiledInstruction struct {
	ProgramID solana.PublicKey
	Accounts  []solana.PublicKey
	Data      []byte
}

// Strategy is the capability every parser strategy implements (REDESIGN
// FLAG "dynamic base-class monitors" -> data-driven strategy objects).
// CanParse is a cheap membership/discriminator check; Parse does the
// actual decode and may still fail.
type Strategy interface {
	Name() string
	CanParse(ctx ParseContext) bool
	Parse(ctx ParseContext) (wire.Event, error)
}

// BCMintResolver is the Graduation Tracker's read-only accessor for the
// bonding_curve_address <-> mint map it owns exclusively (spec section 5
// resource table: "BC<->mint map | Graduation Tracker | ... | read-only
// to others, via message"). The BC account-update strategy needs it to
// attach a mint to an account-layout-only update.
type BCMintResolver interface {
	MintForBondingCurve(bondingCurve string) (string, bool)
}

// Parser dispatches a ParseContext through strategies in the fixed
// priority order given at construction, stopping at the first success
// (spec section 4.3 "Strategy dispatch").
type Parser struct {
	strategies []Strategy
	counters   *metrics.StrategyCounters
}

// New builds a Parser with strategies in canonical priority order:
// event-log strategies, then IDL-instruction strategies, then inner-
// instruction inference, then heuristic fallback.
func New(counters *metrics.StrategyCounters, resolver BCMintResolver, pools *poolstate.Store) *Parser {
	return &Parser{
		counters: counters,
		strategies: []Strategy{
			&BCTradeLogStrategy{},
			&BCCreateLogStrategy{},
			&BCGraduationLogStrategy{},
			&BCAccountStrategy{Resolver: resolver},
			&AMMLiquidityStrategy{},
			&AMMTradeStrategy{Pools: pools},
			&PoolCreatedStrategy{},
		},
	}
}

// Dispatch runs ctx through every strategy in order, returning the first
// non-nil event. Every failing/refusing strategy increments its counter;
// no strategy error escapes Dispatch (spec section 4.3 "Error policy").
func (p *Parser) Dispatch(ctx ParseContext) (wire.Event, string, bool) {
	for _, s := range p.strategies {
		if !s.CanParse(ctx) {
			continue
		}
		p.counters.RecordAttempt(s.Name())

		evt, err := s.Parse(ctx)
		if err != nil || evt == nil {
			p.counters.RecordFailure(s.Name())
			continue
		}

		p.counters.RecordSuccess(s.Name())
		return evt, s.Name(), true
	}
	return nil, "", false
}
