package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pool engine.
type Metrics struct {
	// --- Engine ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	StateHashDur     prometheus.Histogram
	PoolSequence     *prometheus.GaugeVec

	// --- Curve ---
	TradeVolume       *prometheus.CounterVec
	PoolRegime        *prometheus.GaugeVec
	RegimeTransitions *prometheus.CounterVec
	MarketPrice       *prometheus.GaugeVec
	TotalShares       *prometheus.GaugeVec

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter
	PriceSequenceGap      *prometheus.CounterVec
	PriceStale            *prometheus.CounterVec

	// --- Channels ---
	PublishDrops prometheus.Counter
	ChannelSize  *prometheus.GaugeVec

	// --- Persistence ---
	PersistDuration *prometheus.HistogramVec
	PersistErrors   *prometheus.CounterVec
	StoreCacheHits  *prometheus.CounterVec

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on reg. Pass
// prometheus.DefaultRegisterer in the daemon and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Engine
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmm_commands_applied_total",
			Help: "Commands successfully applied by the engine",
		}, []string{"command_type"}),

		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmm_commands_rejected_total",
			Help: "Commands rejected (curve error, slippage, stale price, store)",
		}, []string{"command_type", "reason"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pmm_command_apply_duration_seconds",
			Help:    "Time to apply and persist a single command",
			Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"command_type"}),

		StateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pmm_state_hash_duration_seconds",
			Help:    "Time to compute the pool state hash",
			Buckets: latencyBuckets,
		}),

		PoolSequence: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pmm_pool_sequence",
			Help: "Current per-pool command sequence",
		}, []string{"pool_id"}),

		// Curve
		TradeVolume: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmm_trade_volume_total",
			Help: "Token units moved by trades, by side and token",
		}, []string{"side", "token"}),

		PoolRegime: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pmm_pool_regime",
			Help: "Pool regime storage byte (0 balanced, 1 quote surplus, 2 base surplus)",
		}, []string{"pool_id"}),

		RegimeTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmm_regime_transitions_total",
			Help: "Regime changes caused by commands",
		}, []string{"from", "to"}),

		MarketPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pmm_market_price",
			Help: "Last applied market price (float approximation)",
		}, []string{"pool_id"}),

		TotalShares: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pmm_total_shares",
			Help: "Outstanding liquidity shares",
		}, []string{"pool_id"}),

		// Idempotency & Ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmm_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/store)",
		}, []string{"command_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "pmm_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "pmm_dedup_tier2_errors_total",
			Help: "Store dedup lookups that failed",
		}),

		PriceSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmm_price_sequence_gap_total",
			Help: "Price feed sequence gaps (tolerated)",
		}, []string{"pool_id"}),

		PriceStale: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmm_price_stale_total",
			Help: "Price updates rejected as stale",
		}, []string{"pool_id"}),

		// Channels
		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "pmm_publish_drops_total",
			Help: "Outcomes dropped due to full publish channel",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pmm_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		// Persistence
		PersistDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pmm_persist_duration_seconds",
			Help:    "Store write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"store"}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmm_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"store", "error_type"}),

		StoreCacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmm_store_cache_total",
			Help: "Pool cache lookups by result",
		}, []string{"result"}),

		// Ingestion
		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmm_ingest_messages_total",
			Help: "NATS messages handled, by subject kind and result",
		}, []string{"kind", "result"}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmm_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pmm_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelSize records the occupancy of a named channel.
func (m *Metrics) SetChannelSize(name string, size int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
}
