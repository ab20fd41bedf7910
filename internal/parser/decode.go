package parser

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

const programDataPrefix = "Program data: "

var errNoProgramData = errors.New("parser: no program data log line")

// programDataLines extracts the base64 payloads of every "Program data:"
// log line, in order (spec section 4.3: "Locate a Program data: <base64>
// line in log_messages").
func programDataLines(logs []string) [][]byte {
	var out [][]byte
	for _, l := range logs {
		if !strings.HasPrefix(l, programDataPrefix) {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(l, programDataPrefix))
		if err != nil {
			// Malformed base64 is a drop, not a retry (spec section 4.3).
			continue
		}
		out = append(out, raw)
	}
	return out
}

// discriminatorMatches reports whether data begins with disc.
func discriminatorMatches(data []byte, disc [8]byte) bool {
	if len(data) < 8 {
		return false
	}
	return [8]byte(data[:8]) == disc
}

// findByDiscriminator returns the first program-data payload (with its
// 8-byte discriminator stripped) whose prefix matches disc.
func findByDiscriminator(logs []string, disc [8]byte) ([]byte, bool) {
	for _, payload := range programDataLines(logs) {
		if discriminatorMatches(payload, disc) {
			return payload[8:], true
		}
	}
	return nil, false
}

// bcTradeEventPayload is the fixed struct TradeEvent decodes to (spec
// section 4.3 "BC trade via event log").
type bcTradeEventPayload struct {
	Mint                 solana.PublicKey
	SOLAmount            uint64
	TokenAmount          uint64
	IsBuy                bool
	User                 solana.PublicKey
	Timestamp            int64
	VirtualSOLReserves   uint64
	VirtualTokenReserves uint64
	RealSOLReserves      uint64
	RealTokenReserves    uint64
	FeeRecipient         solana.PublicKey
}

func decodeBCTradeEvent(body []byte) (bcTradeEventPayload, error) {
	var ev bcTradeEventPayload
	if err := bin.NewBinDecoder(body).Decode(&ev); err != nil {
		return bcTradeEventPayload{}, err
	}
	return ev, nil
}

// bcCreateEventPayload is the fixed struct CreateEvent decodes to.
type bcCreateEventPayload struct {
	Name                 string
	Symbol               string
	URI                  string
	Mint                 solana.PublicKey
	BondingCurve         solana.PublicKey
	User                 solana.PublicKey
	Creator              solana.PublicKey
	VirtualSOLReserves   uint64
	VirtualTokenReserves uint64
	RealSOLReserves      uint64
	RealTokenReserves    uint64
}

func decodeBCCreateEvent(body []byte) (bcCreateEventPayload, error) {
	var ev bcCreateEventPayload
	if err := bin.NewBinDecoder(body).Decode(&ev); err != nil {
		return bcCreateEventPayload{}, err
	}
	return ev, nil
}

// bcCompleteEventPayload is the fixed struct CompleteEvent decodes to.
type bcCompleteEventPayload struct {
	User         solana.PublicKey
	Mint         solana.PublicKey
	BondingCurve solana.PublicKey
	Timestamp    int64
}

func decodeBCCompleteEvent(body []byte) (bcCompleteEventPayload, error) {
	var ev bcCompleteEventPayload
	if err := bin.NewBinDecoder(body).Decode(&ev); err != nil {
		return bcCompleteEventPayload{}, err
	}
	return ev, nil
}

// bondingCurveAccount is the fixed-width layout from spec section 3:
// discriminator then five little-endian u64 fields and a bool/pubkey tail.
type bondingCurveAccount struct {
	VirtualTokenReserves uint64
	VirtualSOLReserves   uint64
	RealTokenReserves    uint64
	RealSOLReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
	Creator              solana.PublicKey
}

func decodeBondingCurveAccount(data []byte) (bondingCurveAccount, error) {
	if !discriminatorMatches(data, wire.DiscBondingCurveAccount) {
		return bondingCurveAccount{}, errors.New("parser: not a bonding curve account")
	}
	var acc bondingCurveAccount
	if err := bin.NewBinDecoder(data[8:]).Decode(&acc); err != nil {
		return bondingCurveAccount{}, err
	}
	return acc, nil
}

type ammLiquidityDepositPayload struct {
	BaseAmountIn     uint64
	QuoteAmountIn    uint64
	MinBaseAmountIn  uint64
	MinQuoteAmountIn uint64
}

type ammLiquidityWithdrawPayload struct {
	LPAmountIn        uint64
	MinBaseAmountOut  uint64
	MinQuoteAmountOut uint64
}

func decodeLEUint64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, errors.New("parser: short buffer for u64")
	}
	return binary.LittleEndian.Uint64(b), nil
}
