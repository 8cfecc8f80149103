package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AccountID is a 20-byte account identifier, the width carried by the
// bridge settlement record format.
type AccountID [20]byte

// ZeroAccount is the empty identifier; never a valid participant.
var ZeroAccount AccountID

// ParseAccountID decodes a 40-hex-char identifier, with or without a
// 0x prefix.
func ParseAccountID(s string) (AccountID, error) {
	var id AccountID
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("ledger: invalid account %q: %w", s, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("ledger: account %q must be %d bytes, got %d", s, len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// SystemAccountID derives a reserved identifier from a system account
// name. Names longer than 20 bytes are truncated.
func SystemAccountID(name string) AccountID {
	var id AccountID
	copy(id[:], []byte(name))
	return id
}

func (a AccountID) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether the identifier is the empty account.
func (a AccountID) IsZero() bool {
	return a == ZeroAccount
}
