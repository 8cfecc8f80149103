package observability

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for mintd.
type Metrics struct {
	// --- Settlement operations ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec

	// --- Minting & redemption ---
	TokensMinted  prometheus.Counter
	TokensBurned  prometheus.Counter
	FeesCollected prometheus.Counter

	// --- Redemption queue ---
	QueueDepth     prometheus.Gauge
	RequestsQueued prometheus.Counter
	RequestsPaid   prometheus.Counter
	PayoutValue    prometheus.Counter
	DrainPasses    prometheus.Counter

	// --- Liquidity buffer ---
	LocalReserve    prometheus.Gauge
	ForwardsTotal   prometheus.Counter
	ForwardsFailed  prometheus.Counter
	ForwardedValue  prometheus.Counter
	OutstandingAuth prometheus.Gauge

	// --- Bridge inbound ---
	InboundCredits prometheus.Counter
	InboundValue   prometheus.Counter
	InboundRejects *prometheus.CounterVec

	// --- Oracle ---
	PriceUpdates prometheus.Counter
	PriceRejects *prometheus.CounterVec
	OracleErrors *prometheus.CounterVec

	// --- Persistence ---
	PersistRecordsWritten prometheus.Counter
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistBackpressure   prometheus.Counter

	// --- Channels ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec

	// --- HTTP API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mintd_ops_applied_total",
			Help: "Settlement operations successfully applied",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mintd_ops_rejected_total",
			Help: "Settlement operations rejected (validation, balance, external)",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mintd_op_duration_seconds",
			Help:    "Time to apply a single settlement operation",
			Buckets: opBuckets,
		}, []string{"op"}),

		TokensMinted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mintd_tokens_minted_total",
			Help: "Synthetic tokens minted (wad units, approximate)",
		}),

		TokensBurned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mintd_tokens_burned_total",
			Help: "Synthetic tokens burned (wad units, approximate)",
		}),

		FeesCollected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mintd_fees_collected_total",
			Help: "Reserve value credited to the fee collector (approximate)",
		}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mintd_queue_depth",
			Help: "Outstanding redemption requests",
		}),

		RequestsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mintd_queue_requests_queued_total",
			Help: "Redemption requests appended to the queue",
		}),

		RequestsPaid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mintd_queue_requests_paid_total",
			Help: "Redemption requests paid out",
		}),

		PayoutValue: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mintd_queue_payout_value_total",
			Help: "Reserve value paid to redeemers (approximate)",
		}),

		DrainPasses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mintd_queue_drain_passes_total",
			Help: "Queue drain passes executed",
		}),

		LocalReserve: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mintd_local_reserve_balance",
			Help: "Reserve held in local custody (approximate)",
		}),

		ForwardsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mintd_bridge_forwards_total",
			Help: "Successful excess-reserve forwards to the bridge",
		}),

		ForwardsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mintd_bridge_forwards_failed_total",
			Help: "Bridge forwards that failed and were rolled back",
		}),

		ForwardedValue: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mintd_bridge_forwarded_value_total",
			Help: "Reserve value forwarded to the bridge (approximate)",
		}),

		OutstandingAuth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mintd_bridge_outstanding_authorization",
			Help: "Outstanding bridge transfer authorization (approximate)",
		}),

		InboundCredits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mintd_bridge_inbound_credits_total",
			Help: "Reserve credits accepted from the bridge",
		}),

		InboundValue: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mintd_bridge_inbound_value_total",
			Help: "Reserve value credited from the bridge (approximate)",
		}),

		InboundRejects: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mintd_bridge_inbound_rejects_total",
			Help: "Inbound credit messages rejected",
		}, []string{"reason"}),

		PriceUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mintd_oracle_price_updates_total",
			Help: "Accepted oracle price updates",
		}),

		PriceRejects: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mintd_oracle_price_rejects_total",
			Help: "Oracle price updates rejected",
		}, []string{"reason"}),

		OracleErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mintd_oracle_errors_total",
			Help: "Oracle read failures at quote time",
		}, []string{"reason"}),

		PersistRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mintd_persist_records_written_total",
			Help: "Settlement records written to the journal",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mintd_persist_batch_size",
			Help:    "Records per journal write batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mintd_persist_batch_duration_seconds",
			Help:    "Time to write one journal batch",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mintd_persist_errors_total",
			Help: "Journal write errors",
		}, []string{"kind"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mintd_persist_retries_total",
			Help: "Journal write retries",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mintd_persist_backpressure_total",
			Help: "Blocking sends that stalled on a full persist channel",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mintd_channel_size",
			Help: "Current channel occupancy",
		}, []string{"channel"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mintd_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mintd_channel_utilization",
			Help: "Channel occupancy as a fraction of capacity",
		}, []string{"channel"}),

		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mintd_api_requests_total",
			Help: "HTTP API requests",
		}, []string{"endpoint", "code"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mintd_api_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}

// GaugeBig sets a gauge from a big.Int. Large balances lose precision
// in the float conversion; gauges are for dashboards, the books stay
// exact.
func GaugeBig(g prometheus.Gauge, v *big.Int) {
	if v == nil {
		g.Set(0)
		return
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	g.Set(f)
}

// AddBig adds a big.Int to a counter, clamping at zero.
func AddBig(c prometheus.Counter, v *big.Int) {
	if v == nil || v.Sign() <= 0 {
		return
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	c.Add(f)
}
