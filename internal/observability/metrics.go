package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the fee router.
type Metrics struct {
	// --- Crank processing ---
	PagesApplied      *prometheus.CounterVec
	PagesRejected     *prometheus.CounterVec
	PageDuration      *prometheus.HistogramVec
	CrankCASConflicts prometheus.Counter
	ProgressCursor    *prometheus.GaugeVec

	// --- Distribution outcomes ---
	FeesClaimed        *prometheus.CounterVec
	InvestorPayouts    *prometheus.CounterVec
	InvestorPayoutSum  *prometheus.CounterVec
	CreatorRemainders  *prometheus.CounterVec
	DustWithheld       *prometheus.CounterVec
	DaysClosed         *prometheus.CounterVec
	BaseFeeViolations  *prometheus.CounterVec
	WindowRejections   *prometheus.CounterVec
	SequenceRejections *prometheus.CounterVec

	// --- Persistence ---
	PersistTransfersWritten prometheus.Counter
	PersistBatchDur         prometheus.Histogram
	PersistBatchSize        prometheus.Histogram
	PersistErrors           *prometheus.CounterVec
	PersistRetry            prometheus.Counter

	// --- Events ---
	EventsPublished *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec

	// --- HTTP API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
	APIErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	pageBuckets := []float64{
		0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
	}

	return &Metrics{
		// Crank processing
		PagesApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_crank_pages_applied_total",
			Help: "Crank pages successfully committed",
		}, []string{"vault"}),

		PagesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_crank_pages_rejected_total",
			Help: "Crank pages rejected (sequence, window, safety, validation)",
		}, []string{"vault", "reason"}),

		PageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fee_crank_page_duration_seconds",
			Help:    "End-to-end time to process one crank page",
			Buckets: pageBuckets,
		}, []string{"vault"}),

		CrankCASConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fee_crank_cas_conflicts_total",
			Help: "Progress commits lost to a concurrent writer",
		}),

		ProgressCursor: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fee_progress_cursor",
			Help: "Current pagination cursor per vault",
		}, []string{"vault"}),

		// Distribution outcomes
		FeesClaimed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_quote_claimed_lamports_total",
			Help: "Quote fees claimed from honorary positions",
		}, []string{"vault"}),

		InvestorPayouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_investor_payouts_total",
			Help: "Individual investor payout transfers executed",
		}, []string{"vault"}),

		InvestorPayoutSum: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_investor_paid_lamports_total",
			Help: "Total lamports paid to investors",
		}, []string{"vault"}),

		CreatorRemainders: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_creator_paid_lamports_total",
			Help: "Total lamports routed to creators at day close",
		}, []string{"vault"}),

		DustWithheld: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_dust_withheld_lamports_total",
			Help: "Sub-threshold payouts withheld and folded into the remainder",
		}, []string{"vault"}),

		DaysClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_distribution_days_closed_total",
			Help: "Completed 24h distribution cycles",
		}, []string{"vault"}),

		BaseFeeViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_base_fee_violations_total",
			Help: "Claims aborted because base-denominated fees were present",
		}, []string{"vault"}),

		WindowRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_window_rejections_total",
			Help: "Cranks rejected inside the 24h window",
		}, []string{"vault"}),

		SequenceRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_sequence_rejections_total",
			Help: "Pages rejected for cursor mismatch",
		}, []string{"vault"}),

		// Persistence
		PersistTransfersWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fee_persist_transfers_written_total",
			Help: "Transfer rows written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fee_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fee_persist_batch_size",
			Help:    "Transfers per committed batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fee_persist_retry_total",
			Help: "Persistence retries",
		}),

		// Events
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_events_published_total",
			Help: "Domain events published to JetStream",
		}, []string{"event_type"}),

		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_publish_errors_total",
			Help: "Event publish failures",
		}, []string{"event_type"}),

		// HTTP API
		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_api_requests_total",
			Help: "API requests",
		}, []string{"endpoint", "status"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fee_api_request_duration_seconds",
			Help:    "API request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		APIErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_api_errors_total",
			Help: "API errors",
		}, []string{"endpoint", "code"}),
	}
}
