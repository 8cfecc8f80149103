package oracle

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"mintd/internal/observability"
)

// PriceSubject carries reserve price marks from the feed publisher.
const PriceSubject = "mintd.oracle.price"

// priceUpdate is the JSON body published on PriceSubject.
type priceUpdate struct {
	Price     string `json:"price"`     // wad-scaled, base-10
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// Feed subscribes to the price subject and keeps a Cache current.
// Malformed or non-positive updates are logged and dropped; the cache
// keeps serving the previous mark until it goes stale.
type Feed struct {
	cache   *Cache
	sub     *nats.Subscription
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewFeed(cache *Cache, metrics *observability.Metrics, log zerolog.Logger) *Feed {
	return &Feed{cache: cache, metrics: metrics, log: log}
}

func (f *Feed) Start(nc *nats.Conn) error {
	sub, err := nc.Subscribe(PriceSubject, f.handle)
	if err != nil {
		return fmt.Errorf("oracle: subscribe %s: %w", PriceSubject, err)
	}
	f.sub = sub
	f.log.Info().Str("subject", PriceSubject).Msg("price feed subscribed")
	return nil
}

func (f *Feed) Stop() {
	if f.sub != nil {
		if err := f.sub.Unsubscribe(); err != nil {
			f.log.Warn().Err(err).Msg("price feed unsubscribe failed")
		}
	}
}

func (f *Feed) handle(msg *nats.Msg) {
	var upd priceUpdate
	if err := json.Unmarshal(msg.Data, &upd); err != nil {
		f.countReject("malformed")
		f.log.Warn().Err(err).Msg("malformed price update dropped")
		return
	}
	price, ok := new(big.Int).SetString(upd.Price, 10)
	if !ok {
		f.countReject("unparseable")
		f.log.Warn().Str("price", upd.Price).Msg("unparseable price dropped")
		return
	}
	at := time.Unix(upd.Timestamp, 0)
	if err := f.cache.Observe(price, at); err != nil {
		f.countReject("rejected")
		f.log.Warn().Err(err).Str("price", upd.Price).Msg("price update rejected")
		return
	}
	if f.metrics != nil {
		f.metrics.PriceUpdates.Inc()
	}
	f.log.Debug().Str("price", price.String()).Time("at", at).Msg("price updated")
}

func (f *Feed) countReject(reason string) {
	if f.metrics != nil {
		f.metrics.PriceRejects.WithLabelValues(reason).Inc()
	}
}
