package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for InsureLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreSequence       prometheus.Gauge
	CoreConflictRetry  prometheus.Counter

	// --- Insurance ---
	PoolPremiumCollected *prometheus.GaugeVec
	PoolClaimsPaid       *prometheus.GaugeVec
	PoliciesPurchased    *prometheus.CounterVec
	PoliciesTerminated   *prometheus.CounterVec
	RefundsPaid          *prometheus.CounterVec
	GovernanceVotes      *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupEvictions        prometheus.Counter
	DedupTier2Errors      prometheus.Counter

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge
	CheckpointLastSeq      prometheus.Gauge

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionSequence  prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Passing a
// fresh prometheus.NewRegistry() keeps tests isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.05,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insure_core_events_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insure_core_events_rejected_total",
			Help: "Commands rejected (dedup, validation, domain errors)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "insure_core_event_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insure_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "insure_core_sequence",
			Help: "Current global sequence number",
		}),

		CoreConflictRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "insure_core_store_conflict_retries_total",
			Help: "Commands retried after a store transaction conflict",
		}),

		// Insurance
		PoolPremiumCollected: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "insure_pool_premium_collected",
			Help: "Pool total_premium_collected",
		}, []string{"pool"}),

		PoolClaimsPaid: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "insure_pool_claims_paid",
			Help: "Pool total_claims_paid",
		}, []string{"pool"}),

		PoliciesPurchased: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insure_policies_purchased_total",
			Help: "Policies opened",
		}, []string{"pool"}),

		PoliciesTerminated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insure_policies_terminated_total",
			Help: "Policies terminated, by reason",
		}, []string{"reason"}),

		RefundsPaid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insure_refunds_paid_total",
			Help: "Pro-rata refund amount paid out",
		}, []string{"pool"}),

		GovernanceVotes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insure_governance_votes_total",
			Help: "Votes submitted, by side",
		}, []string{"side"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "insure_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "insure_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "insure_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insure_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "insure_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "insure_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insure_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "insure_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "insure_dedup_lru_evictions_total",
			Help: "Keys evicted from the dedup LRU",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "insure_dedup_tier2_errors_total",
			Help: "Postgres dedup lookup failures",
		}),

		// Ingestion
		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insure_ingest_messages_total",
			Help: "Inbound command messages, by source and outcome",
		}, []string{"source", "outcome"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "insure_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "insure_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "insure_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "insure_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insure_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "insure_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "insure_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		CheckpointLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "insure_checkpoint_last_sequence",
			Help: "Sequence of the last saved checkpoint",
		}),

		// Projections
		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "insure_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		ProjectionSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "insure_projection_sequence",
			Help: "Last sequence applied to projections",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insure_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "insure_query_duration_seconds",
			Help:    "Query latency",
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
