package bridge

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"mintd/internal/ledger"
	fpmath "mintd/internal/math"
	"mintd/internal/observability"
)

// inboundCredit is the JSON body the bridge daemon publishes on
// InboundSubject when reserve funds arrive from the other execution
// domain.
type inboundCredit struct {
	Account string `json:"account"`
	Amount  string `json:"amount"` // base-10
}

// ReserveCrediter books an inbound reserve credit. The settlement
// engine implements it and serializes the write behind its lock.
type ReserveCrediter interface {
	CreditReserve(a ledger.AccountID, amount *big.Int) error
}

// InboundFeed subscribes to the inbound subject and credits arriving
// reserve funds to the named account. Malformed or non-positive
// credits are logged and dropped; the bridge daemon owns redelivery.
type InboundFeed struct {
	credits ReserveCrediter
	sub     *nats.Subscription
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewInboundFeed(credits ReserveCrediter, metrics *observability.Metrics, log zerolog.Logger) *InboundFeed {
	return &InboundFeed{credits: credits, metrics: metrics, log: log}
}

func (f *InboundFeed) Start(nc *nats.Conn) error {
	sub, err := nc.Subscribe(InboundSubject, f.handle)
	if err != nil {
		return fmt.Errorf("bridge: subscribe %s: %w", InboundSubject, err)
	}
	f.sub = sub
	f.log.Info().Str("subject", InboundSubject).Msg("inbound credit feed subscribed")
	return nil
}

func (f *InboundFeed) Stop() {
	if f.sub != nil {
		if err := f.sub.Unsubscribe(); err != nil {
			f.log.Warn().Err(err).Msg("inbound credit feed unsubscribe failed")
		}
	}
}

func (f *InboundFeed) handle(msg *nats.Msg) {
	var cr inboundCredit
	if err := json.Unmarshal(msg.Data, &cr); err != nil {
		f.countReject("malformed")
		f.log.Warn().Err(err).Msg("malformed inbound credit dropped")
		return
	}
	account, err := ledger.ParseAccountID(cr.Account)
	if err != nil {
		f.countReject("bad_account")
		f.log.Warn().Err(err).Str("account", cr.Account).Msg("inbound credit with bad account dropped")
		return
	}
	amount, ok := new(big.Int).SetString(cr.Amount, 10)
	if !ok || !fpmath.IsPositive(amount) {
		f.countReject("bad_amount")
		f.log.Warn().Str("amount", cr.Amount).Msg("inbound credit with bad amount dropped")
		return
	}
	if err := f.credits.CreditReserve(account, amount); err != nil {
		f.countReject("credit_failed")
		f.log.Error().Err(err).Str("account", cr.Account).Msg("inbound credit failed")
		return
	}
	if f.metrics != nil {
		f.metrics.InboundCredits.Inc()
		observability.AddBig(f.metrics.InboundValue, amount)
	}
	f.log.Info().
		Str("account", account.String()).
		Str("amount", amount.String()).
		Msg("reserve credited from bridge")
}

func (f *InboundFeed) countReject(reason string) {
	if f.metrics != nil {
		f.metrics.InboundRejects.WithLabelValues(reason).Inc()
	}
}
