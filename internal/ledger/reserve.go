package ledger

import (
	"errors"
	"fmt"
	"math/big"

	fpmath "mintd/internal/math"
)

var (
	// ErrInsufficientBalance rejects a debit larger than the account holds.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrInvalidAmount rejects nil, zero, or negative transfer amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	// ErrZeroAccount rejects the empty account as a transfer party.
	ErrZeroAccount = errors.New("ledger: zero account")
)

// ReserveBook tracks reserve-asset balances held by accounts, including
// the engine's own custody account. Not safe for concurrent use; the
// settlement engine serializes access behind its own lock.
type ReserveBook struct {
	balances map[AccountID]*big.Int
}

func NewReserveBook() *ReserveBook {
	return &ReserveBook{
		balances: make(map[AccountID]*big.Int),
	}
}

// Balance returns a copy of the account's balance. Unknown accounts
// hold zero.
func (rb *ReserveBook) Balance(a AccountID) *big.Int {
	if bal, ok := rb.balances[a]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Credit adds amount to the account.
func (rb *ReserveBook) Credit(a AccountID, amount *big.Int) error {
	if a.IsZero() {
		return ErrZeroAccount
	}
	if !fpmath.IsPositive(amount) {
		return ErrInvalidAmount
	}
	bal, ok := rb.balances[a]
	if !ok {
		bal = new(big.Int)
		rb.balances[a] = bal
	}
	bal.Add(bal, amount)
	return nil
}

// Debit removes amount from the account, rejecting overdrafts before
// any mutation.
func (rb *ReserveBook) Debit(a AccountID, amount *big.Int) error {
	if a.IsZero() {
		return ErrZeroAccount
	}
	if !fpmath.IsPositive(amount) {
		return ErrInvalidAmount
	}
	bal, ok := rb.balances[a]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: account %s has %s, needs %s", ErrInsufficientBalance, a, rb.Balance(a), amount)
	}
	bal.Sub(bal, amount)
	return nil
}

// Transfer moves amount from one account to another. Either both legs
// apply or neither does.
func (rb *ReserveBook) Transfer(from, to AccountID, amount *big.Int) error {
	if to.IsZero() {
		return ErrZeroAccount
	}
	if err := rb.Debit(from, amount); err != nil {
		return err
	}
	// Credit cannot fail after the debit validated the amount.
	if err := rb.Credit(to, amount); err != nil {
		rb.balances[from].Add(rb.balances[from], amount)
		return err
	}
	return nil
}

// TotalHeld sums every tracked balance, for integrity checks.
func (rb *ReserveBook) TotalHeld() *big.Int {
	total := new(big.Int)
	for _, bal := range rb.balances {
		total.Add(total, bal)
	}
	return total
}
