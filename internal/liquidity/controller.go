package liquidity

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/rs/zerolog"

	fpmath "mintd/internal/math"
)

var (
	// ErrInvalidPolicy rejects nil or negative policy fields.
	ErrInvalidPolicy = errors.New("liquidity: invalid policy")
	// ErrBridgeTransfer wraps a failed bridge transfer. The local
	// authorization is always revoked before this error surfaces.
	ErrBridgeTransfer = errors.New("liquidity: bridge transfer failed")
)

// Policy controls the local reserve buffer. BufferThreshold is the
// amount always retained locally; MinBridgeAmount is the smallest
// batch worth forwarding, so micro-transfers never reach the bridge.
type Policy struct {
	BufferThreshold *big.Int
	MinBridgeAmount *big.Int
}

// ZeroPolicy retains nothing and forwards everything.
func ZeroPolicy() *Policy {
	return &Policy{
		BufferThreshold: new(big.Int),
		MinBridgeAmount: new(big.Int),
	}
}

func (p *Policy) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil", ErrInvalidPolicy)
	}
	if !fpmath.IsNonNegative(p.BufferThreshold) {
		return fmt.Errorf("%w: bufferThreshold must be a non-negative integer", ErrInvalidPolicy)
	}
	if !fpmath.IsNonNegative(p.MinBridgeAmount) {
		return fmt.Errorf("%w: minBridgeAmount must be a non-negative integer", ErrInvalidPolicy)
	}
	return nil
}

func (p *Policy) Clone() *Policy {
	return &Policy{
		BufferThreshold: fpmath.Clone(p.BufferThreshold),
		MinBridgeAmount: fpmath.Clone(p.MinBridgeAmount),
	}
}

// ExcessOver returns the amount to forward from localBalance under the
// policy, or nil when nothing should move: forwarding happens only
// when localBalance > bufferThreshold + minBridgeAmount, and then the
// full excess over the threshold goes.
func ExcessOver(localBalance *big.Int, p *Policy) *big.Int {
	if localBalance == nil {
		return nil
	}
	floor := new(big.Int).Add(p.BufferThreshold, p.MinBridgeAmount)
	if localBalance.Cmp(floor) <= 0 {
		return nil
	}
	return new(big.Int).Sub(localBalance, p.BufferThreshold)
}

// Escrow is the slice of the ledger the controller needs for the
// two-step forward: grant an authorization, then either consume it on
// a successful bridge transfer or revoke it on failure.
type Escrow interface {
	Approve(amount *big.Int) error
	Revoke()
	Consume(amount *big.Int) error
	Outstanding() *big.Int
}

// Transporter invokes the bridge transfer of previously authorized
// reserve funds.
type Transporter interface {
	SendStable(ctx context.Context, asset string, amount *big.Int) error
}

// Controller decides when the local buffer has excess worth forwarding
// and executes the forward atomically against the bridge. Policy reads
// are lock-free snapshots; the settlement engine serializes Forward
// calls behind its own lock.
type Controller struct {
	policy    atomic.Pointer[Policy]
	escrow    Escrow
	transport Transporter
	asset     string
	log       zerolog.Logger
}

func NewController(p *Policy, escrow Escrow, transport Transporter, asset string, log zerolog.Logger) (*Controller, error) {
	if p == nil {
		p = ZeroPolicy()
	}
	c := &Controller{
		escrow:    escrow,
		transport: transport,
		asset:     asset,
		log:       log,
	}
	if err := c.SetPolicy(p); err != nil {
		return nil, err
	}
	return c, nil
}

// SetPolicy swaps in a validated policy. Configuration-authority
// callers only.
func (c *Controller) SetPolicy(p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.policy.Store(p.Clone())
	return nil
}

// Snapshot returns a copy of the current policy.
func (c *Controller) Snapshot() *Policy {
	return c.policy.Load().Clone()
}

// Forward evaluates the policy against localBalance — which must be the
// balance AFTER any queue settlement in the same logical operation —
// and, when there is excess, runs the authorize/transfer pair.
// Returns the forwarded amount, or nil when the policy held everything
// back. On bridge failure the authorization is revoked before the
// error returns, so no dangling grant survives a failed forward.
func (c *Controller) Forward(ctx context.Context, localBalance *big.Int) (*big.Int, error) {
	excess := ExcessOver(localBalance, c.policy.Load())
	if excess == nil {
		return nil, nil
	}

	if err := c.escrow.Approve(excess); err != nil {
		return nil, fmt.Errorf("liquidity: authorize forward: %w", err)
	}
	if err := c.transport.SendStable(ctx, c.asset, excess); err != nil {
		c.escrow.Revoke()
		return nil, fmt.Errorf("%w: %v", ErrBridgeTransfer, err)
	}
	if err := c.escrow.Consume(excess); err != nil {
		// The bridge accepted funds the ledger cannot account for.
		return nil, fmt.Errorf("liquidity: consume authorization after transfer: %w", err)
	}

	c.log.Info().
		Str("asset", c.asset).
		Str("amount", excess.String()).
		Msg("forwarded excess reserve to bridge")
	return excess, nil
}
