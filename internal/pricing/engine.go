package pricing

import (
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	fpmath "mintd/internal/math"
)

var (
	// ErrNonPositivePrice rejects a zero or negative oracle price.
	ErrNonPositivePrice = errors.New("pricing: oracle price must be positive")
	// ErrSpreadTooLarge rejects a redeem spread at or above 100%, which
	// would drive the execution price to zero or below. Surfaced at
	// quote time, never clamped.
	ErrSpreadTooLarge = errors.New("pricing: redeem spread at or above 100%")
	// ErrInvalidParams rejects nil or negative parameter fields.
	ErrInvalidParams = errors.New("pricing: invalid parameters")
)

// Params holds the spreads and fixed fees owned by the configuration
// authority. Spreads are wad-scaled fractions of the oracle price;
// fees are flat reserve-asset amounts.
type Params struct {
	BuySpread    *big.Int
	RedeemSpread *big.Int
	BuyFee       *big.Int
	RedeemFee    *big.Int
}

// ZeroParams returns parameters with no spread and no fee.
func ZeroParams() *Params {
	return &Params{
		BuySpread:    new(big.Int),
		RedeemSpread: new(big.Int),
		BuyFee:       new(big.Int),
		RedeemFee:    new(big.Int),
	}
}

// Validate rejects malformed parameters. A redeem spread >= Wad is a
// configuration error, not something to clamp.
func (p *Params) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil", ErrInvalidParams)
	}
	for name, v := range map[string]*big.Int{
		"buySpread":    p.BuySpread,
		"redeemSpread": p.RedeemSpread,
		"buyFee":       p.BuyFee,
		"redeemFee":    p.RedeemFee,
	} {
		if !fpmath.IsNonNegative(v) {
			return fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidParams, name)
		}
	}
	if p.RedeemSpread.Cmp(fpmath.Wad) >= 0 {
		return ErrSpreadTooLarge
	}
	return nil
}

// Clone returns a deep copy so a stored snapshot cannot be mutated by
// the caller afterwards.
func (p *Params) Clone() *Params {
	return &Params{
		BuySpread:    fpmath.Clone(p.BuySpread),
		RedeemSpread: fpmath.Clone(p.RedeemSpread),
		BuyFee:       fpmath.Clone(p.BuyFee),
		RedeemFee:    fpmath.Clone(p.RedeemFee),
	}
}

// Quote is one side's execution price and flat fee.
type Quote struct {
	ExecPrice *big.Int
	Fee       *big.Int
}

// Engine converts raw oracle prices into executable buy/redeem quotes.
// Parameter updates are rare, so reads take a lock-free snapshot; each
// quote uses exactly one consistent snapshot.
type Engine struct {
	params atomic.Pointer[Params]
}

func NewEngine(p *Params) (*Engine, error) {
	e := &Engine{}
	if p == nil {
		p = ZeroParams()
	}
	if err := e.SetParams(p); err != nil {
		return nil, err
	}
	return e, nil
}

// SetParams swaps in validated parameters. Configuration-authority
// callers only.
func (e *Engine) SetParams(p *Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.params.Store(p.Clone())
	return nil
}

// Snapshot returns a copy of the current parameters.
func (e *Engine) Snapshot() *Params {
	return e.params.Load().Clone()
}

// BuyQuote prices a purchase: execPrice = base + base*buySpread/Wad.
func (e *Engine) BuyQuote(base *big.Int) (*Quote, error) {
	if !fpmath.IsPositive(base) {
		return nil, ErrNonPositivePrice
	}
	p := e.params.Load()
	exec := new(big.Int).Add(base, fpmath.WadMul(base, p.BuySpread))
	return &Quote{ExecPrice: exec, Fee: fpmath.Clone(p.BuyFee)}, nil
}

// RedeemQuote prices a redemption: execPrice = base − base*redeemSpread/Wad.
// A spread that drives the price to zero or below is a configuration
// error.
func (e *Engine) RedeemQuote(base *big.Int) (*Quote, error) {
	if !fpmath.IsPositive(base) {
		return nil, ErrNonPositivePrice
	}
	p := e.params.Load()
	if p.RedeemSpread.Cmp(fpmath.Wad) >= 0 {
		return nil, ErrSpreadTooLarge
	}
	exec := new(big.Int).Sub(base, fpmath.WadMul(base, p.RedeemSpread))
	if exec.Sign() <= 0 {
		return nil, ErrSpreadTooLarge
	}
	return &Quote{ExecPrice: exec, Fee: fpmath.Clone(p.RedeemFee)}, nil
}
