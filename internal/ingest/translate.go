// Package ingest translates raw Yellowstone/Geyser gRPC subscribe
// updates into the normalized internal/parser.ParseContext the Event
// Parser dispatches on. It is the glue between internal/streampool's raw
// *pb.SubscribeUpdate messages and the strategy layer, which never sees
// protobuf types directly.
package ingest

import (
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"

	"github.com/pumpfun-superbot/ingestor/internal/parser"
)

// SlotClock remembers the wall-clock block_time associated with each
// slot, populated from "blocks_meta" notifications (the only Geyser
// message that actually carries a timestamp). Transaction and account
// notifications are tagged with whatever this clock last recorded for
// their slot; in the absence of a recorded time -- e.g. very early in a
// connection's life, or an upstream that omits blocks_meta -- callers
// fall back to their own arrival-time estimate, matching the "eventual
// consistency within a few seconds" tolerance spec section 1 allows.
type SlotClock struct {
	maxEntries int
	order      []uint64
	times      map[uint64]time.Time
}

// NewSlotClock builds a SlotClock retaining at most maxEntries recent
// slots, trimming the oldest as new ones arrive.
func NewSlotClock(maxEntries int) *SlotClock {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &SlotClock{maxEntries: maxEntries, times: make(map[uint64]time.Time)}
}

// Record stores the block time for a slot, evicting the oldest entry if
// the clock is at capacity.
func (c *SlotClock) Record(slot uint64, at time.Time) {
	if _, ok := c.times[slot]; !ok {
		c.order = append(c.order, slot)
		if len(c.order) > c.maxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.times, oldest)
		}
	}
	c.times[slot] = at
}

// At returns the recorded block time for a slot, or the zero value.
func (c *SlotClock) At(slot uint64) (time.Time, bool) {
	t, ok := c.times[slot]
	return t, ok
}

// RecordBlockMeta feeds a "blocks_meta" update's timestamp into the
// clock, if present.
func RecordBlockMeta(clock *SlotClock, upd *pb.SubscribeUpdateBlockMeta) {
	if upd == nil || clock == nil {
		return
	}
	bt := upd.GetBlockTime()
	if bt == nil {
		return
	}
	clock.Record(upd.GetSlot(), time.Unix(bt.GetTimestamp(), 0).UTC())
}

// Transaction converts a SubscribeUpdateTransaction into a ParseContext.
// ok is false for a malformed notification (missing transaction body),
// which the caller drops rather than retries (spec section 4.3 "Error
// policy").
func Transaction(upd *pb.SubscribeUpdateTransaction, clock *SlotClock, arrival time.Time) (parser.ParseContext, bool) {
	if upd == nil {
		return parser.ParseContext{}, false
	}
	info := upd.GetTransaction()
	if info == nil || info.GetTransaction() == nil || info.GetTransaction().GetMessage() == nil {
		return parser.ParseContext{}, false
	}

	msg := info.GetTransaction().GetMessage()
	meta := info.GetMeta()

	keys := accountKeys(msg, meta)

	blockTime := arrival
	if clock != nil {
		if t, ok := clock.At(upd.GetSlot()); ok {
			blockTime = t
		}
	}

	ctx := parser.ParseContext{
		Signature:         base58.Encode(info.GetSignature()),
		Slot:              upd.GetSlot(),
		BlockTime:         blockTime,
		AccountKeys:       keys,
		Instructions:      compiledInstructions(msg.GetInstructions(), keys),
		InnerInstructions: innerInstructions(meta, keys),
	}
	if meta != nil {
		ctx.LogMessages = meta.GetLogMessages()
		ctx.PreTokenBalances = tokenBalances(meta.GetPreTokenBalances())
		ctx.PostTokenBalances = tokenBalances(meta.GetPostTokenBalances())
	}
	return ctx, true
}

// Account converts a SubscribeUpdateAccount into a ParseContext carrying
// only its Account field.
func Account(upd *pb.SubscribeUpdateAccount) (parser.ParseContext, bool) {
	if upd == nil || upd.GetAccount() == nil {
		return parser.ParseContext{}, false
	}
	acc := upd.GetAccount()
	return parser.ParseContext{
		Slot: upd.GetSlot(),
		Account: &parser.AccountUpdate{
			Slot:         upd.GetSlot(),
			Owner:        solana.PublicKeyFromBytes(acc.GetOwner()),
			Pubkey:       solana.PublicKeyFromBytes(acc.GetPubkey()),
			Data:         acc.GetData(),
			WriteVersion: acc.GetWriteVersion(),
		},
	}, true
}

// accountKeys resolves the transaction message's static account keys
// plus any address-table-lookup keys the loader resolved, in the
// canonical order Solana instructions index against: static keys, then
// loaded writable, then loaded readonly.
func accountKeys(msg *pb.Message, meta *pb.TransactionStatusMeta) []solana.PublicKey {
	keys := make([]solana.PublicKey, 0, len(msg.GetAccountKeys()))
	for _, k := range msg.GetAccountKeys() {
		keys = append(keys, solana.PublicKeyFromBytes(k))
	}
	if meta == nil {
		return keys
	}
	for _, k := range meta.GetLoadedWritableAddresses() {
		keys = append(keys, solana.PublicKeyFromBytes(k))
	}
	for _, k := range meta.GetLoadedReadonlyAddresses() {
		keys = append(keys, solana.PublicKeyFromBytes(k))
	}
	return keys
}

func compiledInstructions(ixs []*pb.CompiledInstruction, keys []solana.PublicKey) []parser.CompiledInstruction {
	out := make([]parser.CompiledInstruction, 0, len(ixs))
	for _, ix := range ixs {
		out = append(out, parser.CompiledInstruction{
			ProgramID: keyAt(keys, int(ix.GetProgramIdIndex())),
			Accounts:  resolveAccounts(keys, ix.GetAccounts()),
			Data:      ix.GetData(),
		})
	}
	return out
}

// innerInstructions flattens meta's nested inner-instruction tree into a
// single slice -- the parser strategies only care whether a CPI
// transfer exists, not which parent instruction it nested under (spec
// section 4.3: "the inner-instruction transfer tree").
func innerInstructions(meta *pb.TransactionStatusMeta, keys []solana.PublicKey) []parser.InnerInstruction {
	if meta == nil {
		return nil
	}
	var out []parser.InnerInstruction
	for _, group := range meta.GetInnerInstructions() {
		for _, ix := range group.GetInstructions() {
			out = append(out, parser.InnerInstruction{
				ProgramID: keyAt(keys, int(ix.GetProgramIdIndex())),
				Accounts:  resolveAccounts(keys, ix.GetAccounts()),
				Data:      ix.GetData(),
			})
		}
	}
	return out
}

func resolveAccounts(keys []solana.PublicKey, indices []byte) []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(indices))
	for _, idx := range indices {
		out = append(out, keyAt(keys, int(idx)))
	}
	return out
}

func keyAt(keys []solana.PublicKey, idx int) solana.PublicKey {
	if idx < 0 || idx >= len(keys) {
		return solana.PublicKey{}
	}
	return keys[idx]
}

func tokenBalances(bals []*pb.TokenBalance) []parser.TokenBalance {
	out := make([]parser.TokenBalance, 0, len(bals))
	for _, b := range bals {
		amount, decimals := uiTokenAmount(b.GetUiTokenAmount())
		out = append(out, parser.TokenBalance{
			AccountIndex: int(b.GetAccountIndex()),
			Owner:        b.GetOwner(),
			Mint:         b.GetMint(),
			Amount:       amount,
			Decimals:     decimals,
		})
	}
	return out
}

func uiTokenAmount(ui *pb.UiTokenAmount) (amount uint64, decimals uint8) {
	if ui == nil {
		return 0, 0
	}
	v, _ := strconv.ParseUint(ui.GetAmount(), 10, 64)
	return v, uint8(ui.GetDecimals())
}
