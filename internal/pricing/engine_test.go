package pricing_test

import (
	"errors"
	"math/big"
	"testing"

	fpmath "mintd/internal/math"
	"mintd/internal/pricing"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fpmath.Wad)
}

// pct returns n% as a wad-scaled fraction.
func pct(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Quo(fpmath.Wad, big.NewInt(100)))
}

func TestBuyQuote_AppliesSpreadAndFee(t *testing.T) {
	e, err := pricing.NewEngine(&pricing.Params{
		BuySpread:    pct(2), // +2%
		RedeemSpread: new(big.Int),
		BuyFee:       big.NewInt(7),
		RedeemFee:    new(big.Int),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	q, err := e.BuyQuote(wad(100))
	if err != nil {
		t.Fatalf("buy quote: %v", err)
	}
	if q.ExecPrice.Cmp(wad(102)) != 0 {
		t.Errorf("exec price: got %s, want %s", q.ExecPrice, wad(102))
	}
	if q.Fee.Int64() != 7 {
		t.Errorf("fee: got %s, want 7", q.Fee)
	}
}

func TestRedeemQuote_AppliesSpreadAndFee(t *testing.T) {
	e, err := pricing.NewEngine(&pricing.Params{
		BuySpread:    new(big.Int),
		RedeemSpread: pct(5), // −5%
		BuyFee:       new(big.Int),
		RedeemFee:    big.NewInt(3),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	q, err := e.RedeemQuote(wad(100))
	if err != nil {
		t.Fatalf("redeem quote: %v", err)
	}
	if q.ExecPrice.Cmp(wad(95)) != 0 {
		t.Errorf("exec price: got %s, want %s", q.ExecPrice, wad(95))
	}
	if q.Fee.Int64() != 3 {
		t.Errorf("fee: got %s, want 3", q.Fee)
	}
}

func TestQuote_NonPositivePrice(t *testing.T) {
	e, _ := pricing.NewEngine(nil)
	for _, base := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		if _, err := e.BuyQuote(base); !errors.Is(err, pricing.ErrNonPositivePrice) {
			t.Errorf("buy %v: want ErrNonPositivePrice, got %v", base, err)
		}
		if _, err := e.RedeemQuote(base); !errors.Is(err, pricing.ErrNonPositivePrice) {
			t.Errorf("redeem %v: want ErrNonPositivePrice, got %v", base, err)
		}
	}
}

func TestSetParams_RejectsFullRedeemSpread(t *testing.T) {
	e, _ := pricing.NewEngine(nil)
	err := e.SetParams(&pricing.Params{
		BuySpread:    new(big.Int),
		RedeemSpread: new(big.Int).Set(fpmath.Wad), // 100%
		BuyFee:       new(big.Int),
		RedeemFee:    new(big.Int),
	})
	if !errors.Is(err, pricing.ErrSpreadTooLarge) {
		t.Fatalf("want ErrSpreadTooLarge, got %v", err)
	}
}

func TestSetParams_RejectsNegativeFields(t *testing.T) {
	e, _ := pricing.NewEngine(nil)
	err := e.SetParams(&pricing.Params{
		BuySpread:    big.NewInt(-1),
		RedeemSpread: new(big.Int),
		BuyFee:       new(big.Int),
		RedeemFee:    new(big.Int),
	})
	if !errors.Is(err, pricing.ErrInvalidParams) {
		t.Fatalf("want ErrInvalidParams, got %v", err)
	}
}

func TestSnapshot_IsIsolatedCopy(t *testing.T) {
	e, _ := pricing.NewEngine(nil)
	snap := e.Snapshot()
	snap.BuySpread.SetInt64(999)

	q, err := e.BuyQuote(wad(1))
	if err != nil {
		t.Fatalf("buy quote: %v", err)
	}
	if q.ExecPrice.Cmp(wad(1)) != 0 {
		t.Error("mutating a snapshot must not affect the engine")
	}
}

// Round-trip property: buy then redeem at an unchanged price with zero
// spreads and fees returns the original reserve amount (modulo the
// integer-division remainder).
func TestRoundTrip_ZeroSpreadZeroFee(t *testing.T) {
	e, _ := pricing.NewEngine(nil)
	base := new(big.Int).Mul(big.NewInt(3), fpmath.Wad) // 3.0

	reserveIn := big.NewInt(999) // not divisible by 3 after scaling

	buy, err := e.BuyQuote(base)
	if err != nil {
		t.Fatalf("buy quote: %v", err)
	}
	tokens := fpmath.MulDiv(reserveIn, fpmath.Wad, buy.ExecPrice)

	redeem, err := e.RedeemQuote(base)
	if err != nil {
		t.Fatalf("redeem quote: %v", err)
	}
	reserveOut := fpmath.MulDiv(tokens, redeem.ExecPrice, fpmath.Wad)

	diff := new(big.Int).Sub(reserveIn, reserveOut)
	if diff.Sign() < 0 {
		t.Fatalf("round trip created value: in %s, out %s", reserveIn, reserveOut)
	}
	// Remainder is bounded by one token quantum priced back.
	if diff.Cmp(big.NewInt(3)) > 0 {
		t.Errorf("round trip lost more than the division remainder: in %s, out %s", reserveIn, reserveOut)
	}
}

func TestRoundTrip_ExactWhenDivisible(t *testing.T) {
	e, _ := pricing.NewEngine(nil)
	base := wad(2)
	reserveIn := big.NewInt(100)

	buy, _ := e.BuyQuote(base)
	tokens := fpmath.MulDiv(reserveIn, fpmath.Wad, buy.ExecPrice)
	redeem, _ := e.RedeemQuote(base)
	reserveOut := fpmath.MulDiv(tokens, redeem.ExecPrice, fpmath.Wad)

	if reserveOut.Cmp(reserveIn) != 0 {
		t.Errorf("exact round trip: in %s, out %s", reserveIn, reserveOut)
	}
}
