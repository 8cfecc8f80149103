package ledger

import (
	"fmt"
	"math/big"

	fpmath "mintd/internal/math"
)

// TokenBook is the synthetic-token supply ledger: conventional
// fungible-token bookkeeping where sum(balances) == minted − burned.
type TokenBook struct {
	balances    map[AccountID]*big.Int
	totalSupply *big.Int
}

func NewTokenBook() *TokenBook {
	return &TokenBook{
		balances:    make(map[AccountID]*big.Int),
		totalSupply: new(big.Int),
	}
}

// Mint credits newly issued tokens to the holder.
func (tb *TokenBook) Mint(to AccountID, amount *big.Int) error {
	if to.IsZero() {
		return ErrZeroAccount
	}
	if !fpmath.IsPositive(amount) {
		return ErrInvalidAmount
	}
	bal, ok := tb.balances[to]
	if !ok {
		bal = new(big.Int)
		tb.balances[to] = bal
	}
	bal.Add(bal, amount)
	tb.totalSupply.Add(tb.totalSupply, amount)
	return nil
}

// Burn destroys tokens held by the holder, failing before mutation if
// the balance is short.
func (tb *TokenBook) Burn(from AccountID, amount *big.Int) error {
	if from.IsZero() {
		return ErrZeroAccount
	}
	if !fpmath.IsPositive(amount) {
		return ErrInvalidAmount
	}
	bal, ok := tb.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: holder %s has %s tokens, burn needs %s", ErrInsufficientBalance, from, tb.BalanceOf(from), amount)
	}
	bal.Sub(bal, amount)
	tb.totalSupply.Sub(tb.totalSupply, amount)
	return nil
}

// BalanceOf returns a copy of the holder's token balance.
func (tb *TokenBook) BalanceOf(a AccountID) *big.Int {
	if bal, ok := tb.balances[a]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// TotalSupply returns a copy of the outstanding supply.
func (tb *TokenBook) TotalSupply() *big.Int {
	return new(big.Int).Set(tb.totalSupply)
}

// CheckSupplyInvariant verifies sum(balances) == totalSupply.
func (tb *TokenBook) CheckSupplyInvariant() error {
	sum := new(big.Int)
	for _, bal := range tb.balances {
		sum.Add(sum, bal)
	}
	if sum.Cmp(tb.totalSupply) != 0 {
		return fmt.Errorf("ledger: supply invariant violated: balances sum %s, total supply %s", sum, tb.totalSupply)
	}
	return nil
}
