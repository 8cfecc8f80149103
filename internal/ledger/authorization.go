package ledger

import (
	"fmt"
	"math/big"

	fpmath "mintd/internal/math"
)

// AuthorizationBook tracks outstanding bridge transfer authorizations.
// A forward grants an authorization, the bridge transfer consumes it,
// and a failed transfer must revoke it — at no point may a dangling
// authorization survive a failed forward.
type AuthorizationBook struct {
	allowances map[AccountID]*big.Int
}

func NewAuthorizationBook() *AuthorizationBook {
	return &AuthorizationBook{
		allowances: make(map[AccountID]*big.Int),
	}
}

// Approve sets the spender's authorization to amount, replacing any
// previous grant.
func (ab *AuthorizationBook) Approve(spender AccountID, amount *big.Int) error {
	if spender.IsZero() {
		return ErrZeroAccount
	}
	if !fpmath.IsPositive(amount) {
		return ErrInvalidAmount
	}
	ab.allowances[spender] = new(big.Int).Set(amount)
	return nil
}

// Revoke clears the spender's authorization.
func (ab *AuthorizationBook) Revoke(spender AccountID) {
	delete(ab.allowances, spender)
}

// Outstanding returns a copy of the spender's authorization.
func (ab *AuthorizationBook) Outstanding(spender AccountID) *big.Int {
	if a, ok := ab.allowances[spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Consume spends amount of the spender's authorization. The full grant
// must cover the amount; partial grants are never consumed.
func (ab *AuthorizationBook) Consume(spender AccountID, amount *big.Int) error {
	if !fpmath.IsPositive(amount) {
		return ErrInvalidAmount
	}
	a, ok := ab.allowances[spender]
	if !ok || a.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: authorization for %s is %s, consume needs %s", spender, ab.Outstanding(spender), amount)
	}
	a.Sub(a, amount)
	if a.Sign() == 0 {
		delete(ab.allowances, spender)
	}
	return nil
}
