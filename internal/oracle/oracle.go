// Package oracle supplies the reserve-asset price used by the pricing
// engine. Prices are wad-scaled (10^18 = 1.0) units of stable asset per
// unit of reserve asset.
package oracle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"
)

var (
	// ErrUnavailable means no price has been observed yet.
	ErrUnavailable = errors.New("oracle: price unavailable")
	// ErrStale means the last observed price is older than the
	// configured freshness window.
	ErrStale = errors.New("oracle: price stale")
	// ErrNonPositive rejects feed updates that are zero or negative.
	ErrNonPositive = errors.New("oracle: non-positive price")
)

// Oracle reports the current reserve-asset price.
type Oracle interface {
	ReservePrice(ctx context.Context) (*big.Int, error)
}

// Static is a fixed, manually settable oracle. Used in tests and as
// the fallback when no feed is configured.
type Static struct {
	mu    sync.RWMutex
	price *big.Int
}

func NewStatic(price *big.Int) *Static {
	s := &Static{}
	if price != nil {
		s.price = new(big.Int).Set(price)
	}
	return s
}

func (s *Static) Set(price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return ErrNonPositive
	}
	s.mu.Lock()
	s.price = new(big.Int).Set(price)
	s.mu.Unlock()
	return nil
}

func (s *Static) ReservePrice(context.Context) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.price == nil || s.price.Sign() <= 0 {
		return nil, ErrUnavailable
	}
	return new(big.Int).Set(s.price), nil
}

// Cache holds the most recent feed observation and enforces a
// freshness window. Observations older than maxAge are rejected rather
// than served, so a dead feed halts pricing instead of quoting on an
// old mark.
type Cache struct {
	mu     sync.RWMutex
	price  *big.Int
	seenAt time.Time
	maxAge time.Duration
	now    func() time.Time
}

func NewCache(maxAge time.Duration) *Cache {
	return &Cache{maxAge: maxAge, now: time.Now}
}

// SetNow overrides the clock. Test hook.
func (c *Cache) SetNow(now func() time.Time) {
	c.mu.Lock()
	if now == nil {
		now = time.Now
	}
	c.now = now
	c.mu.Unlock()
}

// Observe records a feed update. Updates with a non-positive price are
// rejected and the previous observation is kept.
func (c *Cache) Observe(price *big.Int, at time.Time) error {
	if price == nil || price.Sign() <= 0 {
		return ErrNonPositive
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// Out-of-order feed delivery: never move the mark backwards.
	if c.price != nil && at.Before(c.seenAt) {
		return nil
	}
	c.price = new(big.Int).Set(price)
	c.seenAt = at
	return nil
}

func (c *Cache) ReservePrice(context.Context) (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.price == nil {
		return nil, ErrUnavailable
	}
	if c.maxAge > 0 && c.now().Sub(c.seenAt) > c.maxAge {
		return nil, ErrStale
	}
	return new(big.Int).Set(c.price), nil
}
