package bridge

import (
	"errors"
	"fmt"
	"math/big"

	"mintd/internal/ledger"
	fpmath "mintd/internal/math"
)

// Action tags a settlement record.
type Action byte

const (
	ActionBuy    Action = 0
	ActionRedeem Action = 1
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "BUY"
	case ActionRedeem:
		return "REDEEM"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(a))
	}
}

// RecordSize is the fixed length of an encoded settlement record:
// 1 tag byte, 20-byte account, 32-byte big-endian unsigned amount.
// Downstream off-chain consumers depend on these exact widths and the
// field order; do not change them.
const RecordSize = 1 + 20 + 32

var (
	// ErrAmountRange rejects amounts that are negative or do not fit in
	// 32 bytes.
	ErrAmountRange = errors.New("bridge: amount out of range for record encoding")
	// ErrMalformedRecord rejects byte payloads of the wrong length or tag.
	ErrMalformedRecord = errors.New("bridge: malformed settlement record")
)

// SettlementRecord is the off-chain bookkeeping message emitted for
// every buy and redeem.
type SettlementRecord struct {
	Action      Action
	Participant ledger.AccountID
	Amount      *big.Int
}

// Encode serializes the record into the fixed wire layout.
func (r *SettlementRecord) Encode() ([]byte, error) {
	if r.Action != ActionBuy && r.Action != ActionRedeem {
		return nil, fmt.Errorf("%w: action %d", ErrMalformedRecord, r.Action)
	}
	if r.Amount == nil || r.Amount.Sign() < 0 || r.Amount.BitLen() > 256 {
		return nil, fmt.Errorf("%w: %v", ErrAmountRange, r.Amount)
	}
	buf := make([]byte, RecordSize)
	buf[0] = byte(r.Action)
	copy(buf[1:21], r.Participant[:])
	r.Amount.FillBytes(buf[21:53])
	return buf, nil
}

// DecodeRecord parses the fixed wire layout.
func DecodeRecord(data []byte) (*SettlementRecord, error) {
	if len(data) != RecordSize {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrMalformedRecord, len(data), RecordSize)
	}
	action := Action(data[0])
	if action != ActionBuy && action != ActionRedeem {
		return nil, fmt.Errorf("%w: tag %d", ErrMalformedRecord, data[0])
	}
	rec := &SettlementRecord{
		Action: action,
		Amount: new(big.Int).SetBytes(data[21:53]),
	}
	copy(rec.Participant[:], data[1:21])
	return rec, nil
}

// Clone returns a defensive copy.
func (r *SettlementRecord) Clone() *SettlementRecord {
	return &SettlementRecord{
		Action:      r.Action,
		Participant: r.Participant,
		Amount:      fpmath.Clone(r.Amount),
	}
}
