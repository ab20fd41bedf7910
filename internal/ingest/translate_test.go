package ingest

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pk(b byte) []byte {
	out := make([]byte, 32)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestSlotClock_RecordAndAt(t *testing.T) {
	c := NewSlotClock(2)
	_, ok := c.At(1)
	assert.False(t, ok)

	at := time.Unix(1000, 0).UTC()
	c.Record(1, at)
	got, ok := c.At(1)
	require.True(t, ok)
	assert.Equal(t, at, got)
}

func TestSlotClock_EvictsOldest(t *testing.T) {
	c := NewSlotClock(2)
	c.Record(1, time.Unix(1, 0))
	c.Record(2, time.Unix(2, 0))
	c.Record(3, time.Unix(3, 0))

	_, ok := c.At(1)
	assert.False(t, ok, "oldest slot should have been evicted")
	_, ok = c.At(2)
	assert.True(t, ok)
	_, ok = c.At(3)
	assert.True(t, ok)
}

func TestRecordBlockMeta_FeedsClock(t *testing.T) {
	c := NewSlotClock(16)
	upd := &pb.SubscribeUpdateBlockMeta{
		Slot:      42,
		BlockTime: &pb.UnixTimestamp{Timestamp: 1700000000},
	}
	RecordBlockMeta(c, upd)

	got, ok := c.At(42)
	require.True(t, ok)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), got)
}

func TestRecordBlockMeta_NilTimestampIsNoop(t *testing.T) {
	c := NewSlotClock(16)
	RecordBlockMeta(c, &pb.SubscribeUpdateBlockMeta{Slot: 7})
	_, ok := c.At(7)
	assert.False(t, ok)
}

func TestTransaction_MalformedReturnsFalse(t *testing.T) {
	_, ok := Transaction(nil, nil, time.Now())
	assert.False(t, ok)

	_, ok = Transaction(&pb.SubscribeUpdateTransaction{}, nil, time.Now())
	assert.False(t, ok)
}

func TestTransaction_ResolvesKeysInstructionsAndBalances(t *testing.T) {
	sig := []byte{1, 2, 3, 4}
	programKey := pk(9)
	accountKey := pk(5)
	loadedWritable := pk(6)
	loadedReadonly := pk(7)

	msg := &pb.Message{
		AccountKeys: [][]byte{accountKey, programKey},
		Instructions: []*pb.CompiledInstruction{
			{ProgramIdIndex: 1, Accounts: []byte{0}, Data: []byte{0xAA}},
		},
	}
	meta := &pb.TransactionStatusMeta{
		LogMessages:             []string{"Program log: hi"},
		LoadedWritableAddresses: [][]byte{loadedWritable},
		LoadedReadonlyAddresses: [][]byte{loadedReadonly},
		InnerInstructions: []*pb.InnerInstructions{
			{
				Index: 0,
				Instructions: []*pb.InnerInstruction{
					{ProgramIdIndex: 1, Accounts: []byte{0, 2}, Data: []byte{0xBB}},
				},
			},
		},
		PreTokenBalances: []*pb.TokenBalance{
			{AccountIndex: 0, Mint: "mint-a", Owner: "owner-a", UiTokenAmount: &pb.UiTokenAmount{Amount: "100", Decimals: 6}},
		},
		PostTokenBalances: []*pb.TokenBalance{
			{AccountIndex: 0, Mint: "mint-a", Owner: "owner-a", UiTokenAmount: &pb.UiTokenAmount{Amount: "50", Decimals: 6}},
		},
	}
	upd := &pb.SubscribeUpdateTransaction{
		Slot: 123,
		Transaction: &pb.SubscribeUpdateTransactionInfo{
			Signature: sig,
			Transaction: &pb.Transaction{
				Message: msg,
			},
			Meta: meta,
		},
	}

	arrival := time.Unix(555, 0).UTC()
	ctx, ok := Transaction(upd, nil, arrival)
	require.True(t, ok)

	assert.Equal(t, base58.Encode(sig), ctx.Signature)
	assert.Equal(t, uint64(123), ctx.Slot)
	assert.Equal(t, arrival, ctx.BlockTime)
	require.Len(t, ctx.AccountKeys, 4)
	assert.True(t, ctx.AccountKeys[0].Equals(solana.PublicKeyFromBytes(accountKey)))
	assert.True(t, ctx.AccountKeys[1].Equals(solana.PublicKeyFromBytes(programKey)))
	assert.True(t, ctx.AccountKeys[2].Equals(solana.PublicKeyFromBytes(loadedWritable)))
	assert.True(t, ctx.AccountKeys[3].Equals(solana.PublicKeyFromBytes(loadedReadonly)))

	require.Len(t, ctx.Instructions, 1)
	assert.True(t, ctx.Instructions[0].ProgramID.Equals(solana.PublicKeyFromBytes(programKey)))
	assert.Equal(t, []byte{0xAA}, ctx.Instructions[0].Data)

	require.Len(t, ctx.InnerInstructions, 1)
	assert.True(t, ctx.InnerInstructions[0].ProgramID.Equals(solana.PublicKeyFromBytes(programKey)))
	assert.Equal(t, []byte{0xBB}, ctx.InnerInstructions[0].Data)

	assert.Equal(t, []string{"Program log: hi"}, ctx.LogMessages)
	require.Len(t, ctx.PreTokenBalances, 1)
	assert.Equal(t, uint64(100), ctx.PreTokenBalances[0].Amount)
	require.Len(t, ctx.PostTokenBalances, 1)
	assert.Equal(t, uint64(50), ctx.PostTokenBalances[0].Amount)
}

func TestTransaction_UsesSlotClockWhenAvailable(t *testing.T) {
	clock := NewSlotClock(16)
	blockTime := time.Unix(999, 0).UTC()
	clock.Record(7, blockTime)

	upd := &pb.SubscribeUpdateTransaction{
		Slot: 7,
		Transaction: &pb.SubscribeUpdateTransactionInfo{
			Signature: []byte{9},
			Transaction: &pb.Transaction{
				Message: &pb.Message{AccountKeys: [][]byte{pk(1)}},
			},
		},
	}

	ctx, ok := Transaction(upd, clock, time.Unix(1, 0))
	require.True(t, ok)
	assert.Equal(t, blockTime, ctx.BlockTime)
}

func TestAccount_MalformedReturnsFalse(t *testing.T) {
	_, ok := Account(nil)
	assert.False(t, ok)
	_, ok = Account(&pb.SubscribeUpdateAccount{})
	assert.False(t, ok)
}

func TestAccount_TranslatesFields(t *testing.T) {
	owner := pk(2)
	pubkey := pk(3)
	upd := &pb.SubscribeUpdateAccount{
		Slot: 55,
		Account: &pb.SubscribeUpdateAccountInfo{
			Owner:        owner,
			Pubkey:       pubkey,
			Data:         []byte{1, 2, 3},
			WriteVersion: 7,
		},
	}

	ctx, ok := Account(upd)
	require.True(t, ok)
	require.NotNil(t, ctx.Account)
	assert.Equal(t, uint64(55), ctx.Account.Slot)
	assert.True(t, ctx.Account.Owner.Equals(solana.PublicKeyFromBytes(owner)))
	assert.True(t, ctx.Account.Pubkey.Equals(solana.PublicKeyFromBytes(pubkey)))
	assert.Equal(t, []byte{1, 2, 3}, ctx.Account.Data)
	assert.Equal(t, uint64(7), ctx.Account.WriteVersion)
}
