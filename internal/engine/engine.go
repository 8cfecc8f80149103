// Package engine is the settlement orchestrator: it composes the
// pricing engine, redemption queue, and liquidity controller into the
// buy/redeem/deposit/settle operations, and owns the {queue, custody
// balance} pair behind a single mutex.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mintd/internal/bridge"
	"mintd/internal/ledger"
	"mintd/internal/liquidity"
	fpmath "mintd/internal/math"
	"mintd/internal/observability"
	"mintd/internal/oracle"
	"mintd/internal/pricing"
	"mintd/internal/queue"
)

var (
	// ErrZeroAmount rejects operations on a zero or missing amount.
	ErrZeroAmount = errors.New("engine: zero amount")
	// ErrAmountTooSmall rejects operations whose value does not exceed
	// the fixed fee.
	ErrAmountTooSmall = errors.New("engine: amount does not exceed fee")
	// ErrShortTransfer means the custody account received less than the
	// full reserve amount pulled from the spender.
	ErrShortTransfer = errors.New("engine: reserve transfer short-received")
)

// Request lifecycle states recorded in the journal.
const (
	StateQueued = "queued"
	StatePaid   = "paid"
)

// QueueTransition is one redemption-request state change.
type QueueTransition struct {
	ID          uuid.UUID
	Beneficiary ledger.AccountID
	Amount      *big.Int
	State       string
}

// Output carries one operation's durable effects to the persistence
// worker: the settlement record (nil for pure drain/forward triggers)
// and any request transitions.
type Output struct {
	Record      *bridge.SettlementRecord
	Encoded     []byte
	Transitions []QueueTransition
	At          time.Time
}

// Config fixes the engine's accounts and drain bound.
type Config struct {
	Custody      ledger.AccountID
	Bridge       ledger.AccountID
	FeeCollector ledger.AccountID
	Asset        string
	MaxBatch     int
	// InlineSettle makes every liquidity-adding operation drain the
	// queue and evaluate forwarding itself. When false the operator
	// drives settlement through the explicit Settle trigger.
	InlineSettle bool
}

const DefaultMaxBatch = 25

// Engine applies settlement operations. All mutations of the queue and
// the custody balance happen under mu; pricing parameters and
// liquidity policy are read as lock-free snapshots, one per call.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	reserves *ledger.ReserveBook
	tokens   *ledger.TokenBook
	auth     *ledger.AuthorizationBook
	pricing  *pricing.Engine
	queue    *queue.Queue
	liq      *liquidity.Controller
	oracle   oracle.Oracle
	gateway  bridge.Gateway
	metrics  *observability.Metrics
	log      zerolog.Logger

	// persistChan uses a blocking send: the engine stalls until the
	// persistence worker drains, so no record is lost.
	persistChan chan<- Output
}

func New(
	cfg Config,
	reserves *ledger.ReserveBook,
	tokens *ledger.TokenBook,
	auth *ledger.AuthorizationBook,
	pricingEngine *pricing.Engine,
	q *queue.Queue,
	policy *liquidity.Policy,
	orc oracle.Oracle,
	gw bridge.Gateway,
	persistChan chan<- Output,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (*Engine, error) {
	if cfg.Custody.IsZero() || cfg.Bridge.IsZero() || cfg.FeeCollector.IsZero() {
		return nil, fmt.Errorf("engine: custody, bridge, and fee collector accounts are required")
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}

	escrow := &ledgerEscrow{
		reserves: reserves,
		auth:     auth,
		custody:  cfg.Custody,
		bridge:   cfg.Bridge,
	}
	liq, err := liquidity.NewController(policy, escrow, gw, cfg.Asset, log)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:         cfg,
		reserves:    reserves,
		tokens:      tokens,
		auth:        auth,
		pricing:     pricingEngine,
		queue:       q,
		liq:         liq,
		oracle:      orc,
		gateway:     gw,
		metrics:     metrics,
		log:         log,
		persistChan: persistChan,
	}, nil
}

// Pricing exposes the pricing engine for the configuration authority.
func (e *Engine) Pricing() *pricing.Engine { return e.pricing }

// Liquidity exposes the controller for the configuration authority.
func (e *Engine) Liquidity() *liquidity.Controller { return e.liq }

// SetFeeCollector redirects future fee payments. Fees already paid
// stay with the previous collector.
func (e *Engine) SetFeeCollector(account ledger.AccountID) error {
	if account.IsZero() {
		return fmt.Errorf("engine: fee collector account is required")
	}
	e.mu.Lock()
	e.cfg.FeeCollector = account
	e.mu.Unlock()
	return nil
}

// CreditReserve books an inbound reserve credit onto the funder's
// account. The bridge inbound feed calls this as funds arrive from the
// other execution domain; the funder spends them through Buy or
// Deposit.
func (e *Engine) CreditReserve(funder ledger.AccountID, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reserves.Credit(funder, amount)
}

// QuoteResult is the current executable pricing for both sides.
type QuoteResult struct {
	BasePrice *big.Int
	Buy       *pricing.Quote
	Redeem    *pricing.Quote
}

// Quote prices both sides at the current oracle mark without touching
// state.
func (e *Engine) Quote(ctx context.Context) (*QuoteResult, error) {
	base, err := e.oracle.ReservePrice(ctx)
	if err != nil {
		e.countOracleError(err)
		e.countReject("quote", "oracle")
		return nil, err
	}
	buy, err := e.pricing.BuyQuote(base)
	if err != nil {
		e.countReject("quote", "pricing")
		return nil, err
	}
	redeem, err := e.pricing.RedeemQuote(base)
	if err != nil {
		e.countReject("quote", "pricing")
		return nil, err
	}
	return &QuoteResult{BasePrice: base, Buy: buy, Redeem: redeem}, nil
}

// BuyResult reports a completed buy.
type BuyResult struct {
	TokensMinted *big.Int
	NetAmount    *big.Int
	ExecPrice    *big.Int
	Fee          *big.Int
}

// Buy pulls reserveAmount from the spender, mints synthetic tokens at
// the buy execution price, and emits a BUY settlement record. With
// InlineSettle the new liquidity immediately drains the queue and
// evaluates forwarding.
func (e *Engine) Buy(ctx context.Context, spender ledger.AccountID, reserveAmount *big.Int) (*BuyResult, error) {
	start := time.Now()

	if !fpmath.IsPositive(reserveAmount) {
		e.countReject("buy", "zero_amount")
		return nil, ErrZeroAmount
	}
	base, err := e.oracle.ReservePrice(ctx)
	if err != nil {
		e.countOracleError(err)
		e.countReject("buy", "oracle")
		return nil, fmt.Errorf("engine: oracle: %w", err)
	}
	q, err := e.pricing.BuyQuote(base)
	if err != nil {
		e.countReject("buy", "pricing")
		return nil, err
	}
	if reserveAmount.Cmp(q.Fee) <= 0 {
		e.countReject("buy", "too_small")
		return nil, fmt.Errorf("%w: amount %s, fee %s", ErrAmountTooSmall, reserveAmount, q.Fee)
	}
	net := new(big.Int).Sub(reserveAmount, q.Fee)
	tokenAmount := fpmath.MulDiv(net, fpmath.Wad, q.ExecPrice)

	e.mu.Lock()
	defer e.mu.Unlock()

	// Pull funds and verify the full amount arrived. A reserve asset
	// that silently short-transfers must not mint against value the
	// custody account never received.
	before := e.reserves.Balance(e.cfg.Custody)
	if err := e.reserves.Transfer(spender, e.cfg.Custody, reserveAmount); err != nil {
		e.countReject("buy", "insufficient_balance")
		return nil, err
	}
	received := new(big.Int).Sub(e.reserves.Balance(e.cfg.Custody), before)
	if received.Cmp(reserveAmount) != 0 {
		// Return what did arrive and abort.
		if received.Sign() > 0 {
			if rbErr := e.reserves.Transfer(e.cfg.Custody, spender, received); rbErr != nil {
				panic(fmt.Sprintf("FATAL: short-transfer rollback failed: %v", rbErr))
			}
		}
		e.countReject("buy", "short_transfer")
		return nil, fmt.Errorf("%w: sent %s, received %s", ErrShortTransfer, reserveAmount, received)
	}

	if err := e.payFee(q.Fee); err != nil {
		return nil, err
	}

	if err := e.tokens.Mint(spender, tokenAmount); err != nil {
		return nil, err
	}

	out := Output{At: time.Now()}
	e.emitRecord(ctx, &out, bridge.ActionBuy, spender, net)

	if e.cfg.InlineSettle {
		if _, err := e.settleLocked(ctx, &out); err != nil {
			e.log.Warn().Err(err).Msg("inline forward failed, authorization revoked")
		}
	}
	e.flush(out)

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues("buy").Inc()
		e.metrics.OpDuration.WithLabelValues("buy").Observe(time.Since(start).Seconds())
		observability.AddBig(e.metrics.TokensMinted, tokenAmount)
		observability.AddBig(e.metrics.FeesCollected, q.Fee)
		e.updateGauges()
	}
	e.log.Info().
		Str("spender", spender.String()).
		Str("reserve_in", reserveAmount.String()).
		Str("tokens_minted", tokenAmount.String()).
		Str("exec_price", q.ExecPrice.String()).
		Msg("buy settled")

	return &BuyResult{
		TokensMinted: tokenAmount,
		NetAmount:    net,
		ExecPrice:    q.ExecPrice,
		Fee:          q.Fee,
	}, nil
}

// RedeemResult reports a completed redeem. Paid means the holder's
// request was filled immediately; otherwise it holds a queue position.
type RedeemResult struct {
	RequestID uuid.UUID
	NetAmount *big.Int
	ExecPrice *big.Int
	Fee       *big.Int
	Paid      bool
	QueueLen  int
}

// Redeem burns tokenAmount from the holder, emits a REDEEM settlement
// record, and submits the net payout to the redemption queue against
// current local liquidity. The request is paid inline when liquid,
// queued otherwise.
func (e *Engine) Redeem(ctx context.Context, holder ledger.AccountID, tokenAmount *big.Int) (*RedeemResult, error) {
	start := time.Now()

	if !fpmath.IsPositive(tokenAmount) {
		e.countReject("redeem", "zero_amount")
		return nil, ErrZeroAmount
	}
	base, err := e.oracle.ReservePrice(ctx)
	if err != nil {
		e.countOracleError(err)
		e.countReject("redeem", "oracle")
		return nil, fmt.Errorf("engine: oracle: %w", err)
	}
	q, err := e.pricing.RedeemQuote(base)
	if err != nil {
		e.countReject("redeem", "pricing")
		return nil, err
	}
	gross := fpmath.MulDiv(tokenAmount, q.ExecPrice, fpmath.Wad)
	if gross.Cmp(q.Fee) <= 0 {
		e.countReject("redeem", "too_small")
		return nil, fmt.Errorf("%w: gross %s, fee %s", ErrAmountTooSmall, gross, q.Fee)
	}
	net := new(big.Int).Sub(gross, q.Fee)

	e.mu.Lock()
	defer e.mu.Unlock()

	// The fee is paid from custody. Check it is coverable before the
	// burn so an uncoverable fee aborts the whole operation.
	if fpmath.IsPositive(q.Fee) && e.reserves.Balance(e.cfg.Custody).Cmp(q.Fee) < 0 {
		e.countReject("redeem", "insufficient_balance")
		return nil, fmt.Errorf("engine: custody cannot cover fee %s: %w", q.Fee, ledger.ErrInsufficientBalance)
	}

	if err := e.tokens.Burn(holder, tokenAmount); err != nil {
		e.countReject("redeem", "insufficient_balance")
		return nil, err
	}
	if err := e.payFee(q.Fee); err != nil {
		return nil, err
	}

	out := Output{At: time.Now()}
	e.emitRecord(ctx, &out, bridge.ActionRedeem, holder, net)

	req := queue.NewRequest(holder, net)
	res := e.queue.Process(&req, e.reserves.Balance(e.cfg.Custody), e.cfg.MaxBatch)
	e.executePayouts(res.Payouts, &out)
	if res.Enqueued {
		out.Transitions = append(out.Transitions, QueueTransition{
			ID:          req.ID,
			Beneficiary: req.Beneficiary,
			Amount:      fpmath.Clone(req.Amount),
			State:       StateQueued,
		})
		if e.metrics != nil {
			e.metrics.RequestsQueued.Inc()
		}
	}

	if e.cfg.InlineSettle {
		if err := e.forwardInto(ctx, &SettleResult{PaidValue: new(big.Int)}); err != nil {
			e.log.Warn().Err(err).Msg("inline forward failed, authorization revoked")
		}
	}
	e.flush(out)

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues("redeem").Inc()
		e.metrics.OpDuration.WithLabelValues("redeem").Observe(time.Since(start).Seconds())
		observability.AddBig(e.metrics.TokensBurned, tokenAmount)
		observability.AddBig(e.metrics.FeesCollected, q.Fee)
		e.updateGauges()
	}
	e.log.Info().
		Str("holder", holder.String()).
		Str("tokens_burned", tokenAmount.String()).
		Str("net_payout", net.String()).
		Bool("paid_inline", res.Admitted).
		Int("queue_len", e.queue.Len()).
		Msg("redeem settled")

	return &RedeemResult{
		RequestID: req.ID,
		NetAmount: net,
		ExecPrice: q.ExecPrice,
		Fee:       q.Fee,
		Paid:      res.Admitted,
		QueueLen:  e.queue.Len(),
	}, nil
}

// SettleResult reports one drain/forward pass.
type SettleResult struct {
	RequestsPaid int
	PaidValue    *big.Int
	Forwarded    *big.Int
	QueueLen     int
}

// Deposit credits reserveAmount from the funder into custody and runs
// a settlement pass against the new liquidity.
func (e *Engine) Deposit(ctx context.Context, funder ledger.AccountID, reserveAmount *big.Int) (*SettleResult, error) {
	start := time.Now()

	if !fpmath.IsPositive(reserveAmount) {
		e.countReject("deposit", "zero_amount")
		return nil, ErrZeroAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.reserves.Transfer(funder, e.cfg.Custody, reserveAmount); err != nil {
		e.countReject("deposit", "insufficient_balance")
		return nil, err
	}

	out := Output{At: time.Now()}
	res, ferr := e.settleLocked(ctx, &out)
	if ferr != nil {
		e.log.Warn().Err(ferr).Msg("inline forward failed, authorization revoked")
	}
	e.flush(out)

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues("deposit").Inc()
		e.metrics.OpDuration.WithLabelValues("deposit").Observe(time.Since(start).Seconds())
		e.updateGauges()
	}
	e.log.Info().
		Str("funder", funder.String()).
		Str("amount", reserveAmount.String()).
		Int("requests_paid", res.RequestsPaid).
		Int("queue_len", res.QueueLen).
		Msg("deposit settled")

	return res, nil
}

// Settle is the explicit drain-and-forward trigger. One call pays at
// most MaxBatch queued requests; operators call it repeatedly to drain
// a deep queue.
func (e *Engine) Settle(ctx context.Context) (*SettleResult, error) {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	out := Output{At: time.Now()}
	res, ferr := e.settleLocked(ctx, &out)
	e.flush(out)

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues("settle").Inc()
		e.metrics.OpDuration.WithLabelValues("settle").Observe(time.Since(start).Seconds())
		e.updateGauges()
	}
	if ferr != nil {
		// Drain effects are committed; only the forward failed, with
		// its authorization revoked.
		return res, ferr
	}
	return res, nil
}

// Status is the operational snapshot.
type Status struct {
	QueueDepth      int
	QueueHead       *big.Int // nil when empty
	LocalReserve    *big.Int
	OutstandingAuth *big.Int
	TotalSupply     *big.Int
}

func (e *Engine) Status() *Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := &Status{
		QueueDepth:      e.queue.Len(),
		LocalReserve:    e.reserves.Balance(e.cfg.Custody),
		OutstandingAuth: e.auth.Outstanding(e.cfg.Bridge),
		TotalSupply:     e.tokens.TotalSupply(),
	}
	if head, ok := e.queue.Peek(); ok {
		st.QueueHead = fpmath.Clone(head.Amount)
	}
	return st
}

// settleLocked runs one drain pass then a forwarding evaluation on the
// post-drain balance. The drain effects commit regardless of the
// forward outcome; a forward error is returned with the authorization
// already revoked.
func (e *Engine) settleLocked(ctx context.Context, out *Output) (*SettleResult, error) {
	res := &SettleResult{PaidValue: new(big.Int)}

	qres := e.queue.Process(nil, e.reserves.Balance(e.cfg.Custody), e.cfg.MaxBatch)
	e.executePayouts(qres.Payouts, out)
	for _, p := range qres.Payouts {
		res.PaidValue.Add(res.PaidValue, p.Amount)
	}
	res.RequestsPaid = len(qres.Payouts)
	res.QueueLen = e.queue.Len()
	if e.metrics != nil {
		e.metrics.DrainPasses.Inc()
	}

	// Queue draining takes priority over forwarding: obligations are
	// paid down before surplus leaves custody.
	return res, e.forwardInto(ctx, res)
}

func (e *Engine) forwardInto(ctx context.Context, res *SettleResult) error {
	forwarded, err := e.liq.Forward(ctx, e.reserves.Balance(e.cfg.Custody))
	if err != nil {
		if e.metrics != nil {
			e.metrics.ForwardsFailed.Inc()
		}
		return err
	}
	if forwarded != nil {
		res.Forwarded = forwarded
		if e.metrics != nil {
			e.metrics.ForwardsTotal.Inc()
			observability.AddBig(e.metrics.ForwardedValue, forwarded)
		}
	}
	return nil
}

// executePayouts transfers each payout out of custody. The queue never
// hands out more than the available balance, so a failing transfer
// here is a broken invariant, not an error to return.
func (e *Engine) executePayouts(payouts []queue.Request, out *Output) {
	for _, p := range payouts {
		if err := e.reserves.Transfer(e.cfg.Custody, p.Beneficiary, p.Amount); err != nil {
			panic(fmt.Sprintf("FATAL: payout exceeds custody balance: %v", err))
		}
		out.Transitions = append(out.Transitions, QueueTransition{
			ID:          p.ID,
			Beneficiary: p.Beneficiary,
			Amount:      fpmath.Clone(p.Amount),
			State:       StatePaid,
		})
		if e.metrics != nil {
			e.metrics.RequestsPaid.Inc()
			observability.AddBig(e.metrics.PayoutValue, p.Amount)
		}
		e.log.Debug().
			Str("beneficiary", p.Beneficiary.String()).
			Str("amount", p.Amount.String()).
			Str("request_id", p.ID.String()).
			Msg("redemption paid")
	}
}

// payFee moves the fee out of custody. A zero fee writes nothing.
func (e *Engine) payFee(fee *big.Int) error {
	if !fpmath.IsPositive(fee) {
		return nil
	}
	return e.reserves.Transfer(e.cfg.Custody, e.cfg.FeeCollector, fee)
}

// emitRecord encodes and dispatches the settlement record. Message
// delivery is fire-and-forget: a failed publish is logged and the
// operation proceeds.
func (e *Engine) emitRecord(ctx context.Context, out *Output, action bridge.Action, participant ledger.AccountID, amount *big.Int) {
	rec := &bridge.SettlementRecord{
		Action:      action,
		Participant: participant,
		Amount:      fpmath.Clone(amount),
	}
	encoded, err := rec.Encode()
	if err != nil {
		// Amounts here are bounded by prior validation; an encode
		// failure is a programming error.
		panic(fmt.Sprintf("FATAL: settlement record encode: %v", err))
	}
	out.Record = rec
	out.Encoded = encoded

	if e.gateway != nil {
		if err := e.gateway.SendMessage(ctx, encoded); err != nil {
			e.log.Warn().Err(err).Str("action", action.String()).Msg("settlement record delivery failed")
		}
	}
}

// flush hands the operation's durable effects to the persistence
// worker with a blocking send.
func (e *Engine) flush(out Output) {
	if e.persistChan == nil {
		return
	}
	if out.Record == nil && len(out.Transitions) == 0 {
		return
	}
	if e.metrics != nil {
		e.metrics.SetChannelMetrics("persist", len(e.persistChan), cap(e.persistChan))
		if cap(e.persistChan) > 0 && len(e.persistChan) == cap(e.persistChan) {
			e.metrics.PersistBackpressure.Inc()
		}
	}
	e.persistChan <- out
}

func (e *Engine) countOracleError(err error) {
	if e.metrics == nil {
		return
	}
	reason := "other"
	switch {
	case errors.Is(err, oracle.ErrUnavailable):
		reason = "unavailable"
	case errors.Is(err, oracle.ErrStale):
		reason = "stale"
	}
	e.metrics.OracleErrors.WithLabelValues(reason).Inc()
}

func (e *Engine) countReject(op, reason string) {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op, reason).Inc()
	}
}

func (e *Engine) updateGauges() {
	e.metrics.QueueDepth.Set(float64(e.queue.Len()))
	observability.GaugeBig(e.metrics.LocalReserve, e.reserves.Balance(e.cfg.Custody))
	observability.GaugeBig(e.metrics.OutstandingAuth, e.auth.Outstanding(e.cfg.Bridge))
}
