package engine

import (
	"math/big"

	"mintd/internal/ledger"
)

// ledgerEscrow backs the liquidity controller's two-step forward with
// the reserve and authorization books. Approve grants the bridge
// account a transfer authorization; Consume burns the grant and moves
// the funds out of custody; Revoke clears a grant whose transfer never
// happened.
type ledgerEscrow struct {
	reserves *ledger.ReserveBook
	auth     *ledger.AuthorizationBook
	custody  ledger.AccountID
	bridge   ledger.AccountID
}

func (e *ledgerEscrow) Approve(amount *big.Int) error {
	return e.auth.Approve(e.bridge, amount)
}

func (e *ledgerEscrow) Revoke() {
	e.auth.Revoke(e.bridge)
}

func (e *ledgerEscrow) Consume(amount *big.Int) error {
	if err := e.auth.Consume(e.bridge, amount); err != nil {
		return err
	}
	return e.reserves.Transfer(e.custody, e.bridge, amount)
}

func (e *ledgerEscrow) Outstanding() *big.Int {
	return e.auth.Outstanding(e.bridge)
}
