package parser

import (
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/pumpfun-superbot/ingestor/internal/poolstate"
	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

const (
	ammMinPlausibleSOLLamports = 1_000_000     // 0.001 SOL
	ammMaxPlausibleSOLLamports = 1000_000_000_000 // 1000 SOL
)

// AMM account ordering per the pump.swap IDL: pool, user, base mint
// (token), quote mint (wrapped SOL) are the first four accounts on both
// buy and sell instructions.
const (
	ammAccPool = 0
	ammAccUser = 1
	ammAccBaseMint  = 2
	ammAccQuoteMint = 3
)

var errNoAMMAmount = errors.New("parser: no plausible AMM trade amount")

// AMMTradeStrategy decodes pump.swap buy/sell instructions and recovers
// the realized trade amounts using the three-tier fallback spec section
// 4.3 specifies, never trusting the instruction's own max_in/min_out
// slippage bound fields.
type AMMTradeStrategy struct {
	// Pools supplies the last cached reserves for a pool, used by the
	// supplemented fee-aware sanity bound (SPEC_FULL.md supplemented
	// feature #3).
	Pools *poolstate.Store
}

func (s *AMMTradeStrategy) Name() string { return "amm_trade" }

func (s *AMMTradeStrategy) CanParse(ctx ParseContext) bool {
	if ctx.Account != nil {
		return false
	}
	for _, ix := range ctx.Instructions {
		if ix.ProgramID.String() != wire.AMMProgramID {
			continue
		}
		if discriminatorMatches(ix.Data, wire.DiscAMMBuy) || discriminatorMatches(ix.Data, wire.DiscAMMSell) {
			return true
		}
	}
	return false
}

func (s *AMMTradeStrategy) Parse(ctx ParseContext) (wire.Event, error) {
	for _, ix := range ctx.Instructions {
		if ix.ProgramID.String() != wire.AMMProgramID {
			continue
		}

		var tradeType wire.TradeType
		switch {
		case discriminatorMatches(ix.Data, wire.DiscAMMBuy):
			tradeType = wire.TradeBuy
		case discriminatorMatches(ix.Data, wire.DiscAMMSell):
			tradeType = wire.TradeSell
		default:
			continue
		}

		if len(ix.Accounts) <= ammAccQuoteMint {
			continue
		}
		pool := ix.Accounts[ammAccPool]
		user := ix.Accounts[ammAccUser]
		baseMint := ix.Accounts[ammAccBaseMint]

		solAmount, tokenAmount, source, ok := s.recoverAmounts(ctx, pool, user, baseMint)
		if !ok {
			return nil, errNoAMMAmount
		}

		return wire.AMMTrade{
			Signature:      ctx.Signature,
			Slot:           ctx.Slot,
			BlockTime:      ctx.BlockTime,
			Mint:           baseMint.String(),
			Pool:           pool.String(),
			User:           user.String(),
			TradeType:      tradeType,
			SOLAmount:      solAmount,
			TokenAmount:    tokenAmount,
			AmountSource:   source,
			SourceStrategy: s.Name(),
		}, nil
	}
	return nil, nil
}

// recoverAmounts implements the three-tier reconciliation from spec
// section 4.3: (a) inner-instruction SPL transfers, (b) pre/post token
// balance deltas, (c) heuristic log scan bounded to [0.001, 1000] SOL.
func (s *AMMTradeStrategy) recoverAmounts(ctx ParseContext, pool, user, baseMint solana.PublicKey) (sol, token uint64, source wire.AMMTradeAmountSource, ok bool) {
	if sol, token, ok := s.fromInnerInstructions(ctx, baseMint); ok {
		return sol, token, wire.AmountFromInnerInstructions, true
	}
	if sol, token, ok := s.fromBalanceDeltas(ctx, user, baseMint); ok {
		return sol, token, wire.AmountFromBalanceDelta, true
	}
	if sol, token, ok := s.fromHeuristicScan(ctx, pool); ok {
		return sol, token, wire.AmountFromHeuristicScan, true
	}
	return 0, 0, "", false
}

// fromInnerInstructions walks the flattened CPI tree for SPL Token
// TransferChecked instructions (id 12) whose mint is the wrapped-SOL mint or the
// base mint, grounded on the inner-instruction-tree reconciliation idiom
// the teacher used for wallet-level transfer detection.
func (s *AMMTradeStrategy) fromInnerInstructions(ctx ParseContext, baseMint solana.PublicKey) (uint64, uint64, bool) {
	var sol, token uint64
	var haveSOL, haveToken bool

	for _, ix := range ctx.InnerInstructions {
		amount, mint, ok := decodeSPLTransfer(ix)
		if !ok {
			continue
		}
		switch mint {
		case wire.WrappedSOLMint:
			sol = amount
			haveSOL = true
		case baseMint.String():
			token = amount
			haveToken = true
		}
	}

	if haveSOL && haveToken {
		return sol, token, true
	}
	return 0, 0, false
}

// decodeSPLTransfer recognizes an SPL Token TransferChecked instruction
// (id 12) and extracts its amount and mint. A plain Transfer (id 3)
// carries no mint account and is not recognized.
func decodeSPLTransfer(ix InnerInstruction) (amount uint64, mint string, ok bool) {
	const tokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	if ix.ProgramID.String() != tokenProgramID {
		return 0, "", false
	}
	if len(ix.Data) < 1 {
		return 0, "", false
	}
	switch ix.Data[0] {
	case 12: // TransferChecked: [12][amount u64][decimals u8]
		if len(ix.Data) < 9 || len(ix.Accounts) < 3 {
			return 0, "", false
		}
		amt, err := decodeLEUint64(ix.Data[1:9])
		if err != nil {
			return 0, "", false
		}
		// account order for TransferChecked: source, mint, destination, authority
		return amt, ix.Accounts[1].String(), true
	default:
		return 0, "", false
	}
}

// fromBalanceDeltas compares pre/post token balances scoped to the
// user's associated token accounts (spec section 4.3 step b).
func (s *AMMTradeStrategy) fromBalanceDeltas(ctx ParseContext, user, baseMint solana.PublicKey) (uint64, uint64, bool) {
	var sol, token uint64
	var haveSOL, haveToken bool

	pre := indexBalancesByAccount(ctx.PreTokenBalances)
	for _, post := range ctx.PostTokenBalances {
		if post.Owner != user.String() {
			continue
		}
		before, existed := pre[post.AccountIndex]
		var beforeAmount uint64
		if existed {
			beforeAmount = before.Amount
		}

		delta := absDelta(beforeAmount, post.Amount)
		if delta == 0 {
			continue
		}

		switch post.Mint {
		case wire.WrappedSOLMint:
			sol = delta
			haveSOL = true
		case baseMint.String():
			token = delta
			haveToken = true
		}
	}

	if haveSOL && haveToken {
		return sol, token, true
	}
	return 0, 0, false
}

func indexBalancesByAccount(bals []TokenBalance) map[int]TokenBalance {
	m := make(map[int]TokenBalance, len(bals))
	for _, b := range bals {
		m[b.AccountIndex] = b
	}
	return m
}

func absDelta(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// fromHeuristicScan looks for a decodable two-u64 pattern in the log
// lines as a last resort, discarding anything outside [0.001, 1000] SOL,
// and -- per SPEC_FULL.md supplemented feature #3 -- anything implying a
// price more than 50% off the Pool State Store's last cached price.
func (s *AMMTradeStrategy) fromHeuristicScan(ctx ParseContext, pool solana.PublicKey) (uint64, uint64, bool) {
	for _, payload := range programDataLines(ctx.LogMessages) {
		if len(payload) < 24 {
			continue
		}
		sol, err1 := decodeLEUint64(payload[8:16])
		token, err2 := decodeLEUint64(payload[16:24])
		if err1 != nil || err2 != nil {
			continue
		}
		if sol < ammMinPlausibleSOLLamports || sol > ammMaxPlausibleSOLLamports {
			continue
		}
		if token == 0 {
			continue
		}
		if !s.withinCachedPriceBand(pool, sol, token) {
			continue
		}
		return sol, token, true
	}
	return 0, 0, false
}

// withinCachedPriceBand rejects a heuristic reading whose implied price
// is more than 50% away from the pool's last cached reserves ratio.
// With no cached state yet, the reading passes -- there's nothing to
// compare against.
func (s *AMMTradeStrategy) withinCachedPriceBand(pool solana.PublicKey, sol, token uint64) bool {
	if s.Pools == nil {
		return true
	}
	cached, ok := s.Pools.Get(pool.String())
	if !ok || cached.Reserves.VirtualTokenReserves == 0 {
		return true
	}

	cachedPrice := float64(cached.Reserves.VirtualSOLReserves) / float64(cached.Reserves.VirtualTokenReserves)
	observedPrice := float64(sol) / float64(token)
	if cachedPrice == 0 {
		return true
	}

	ratio := observedPrice / cachedPrice
	return ratio >= 0.5 && ratio <= 1.5
}
