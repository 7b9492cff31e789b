// Package metrics holds the Prometheus metrics of the coordinator and of the
// devnet.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Payment metrics
	Quotes          *prometheus.CounterVec
	Payments        *prometheus.CounterVec
	PaymentLatency  prometheus.Histogram
	BroadcastRetry  prometheus.Counter
	ReceiptsIssued  *prometheus.CounterVec
	ReceiptsRefused *prometheus.CounterVec

	// Session metrics
	ProgramsStored prometheus.Counter
	ValuesStored   prometheus.Counter
	Submissions    *prometheus.CounterVec
	Events         *prometheus.CounterVec
	Streams        prometheus.Gauge

	// Devnet metrics
	Computations *prometheus.CounterVec
	Blocks       prometheus.Counter
	Requests     *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Get returns the registered metrics (singleton pattern)
func Get() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			Quotes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "secretcompute",
					Subsystem: "payment",
					Name:      "quotes_total",
					Help:      "Quotes requested, by operation kind",
				},
				[]string{"operation"},
			),
			Payments: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "secretcompute",
					Subsystem: "payment",
					Name:      "payments_total",
					Help:      "Payment attempts, by outcome",
				},
				[]string{"outcome"},
			),
			PaymentLatency: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "secretcompute",
					Subsystem: "payment",
					Name:      "payment_seconds",
					Help:      "Time from quote to receipt",
					Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
				},
			),
			BroadcastRetry: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "secretcompute",
					Subsystem: "payment",
					Name:      "broadcast_retries_total",
					Help:      "Resubmissions of an already signed transaction",
				},
			),
			ReceiptsIssued: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "secretcompute",
					Subsystem: "cluster",
					Name:      "receipts_issued_total",
					Help:      "Receipts issued, by operation kind",
				},
				[]string{"operation"},
			),
			ReceiptsRefused: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "secretcompute",
					Subsystem: "cluster",
					Name:      "receipts_refused_total",
					Help:      "Receipts refused when redeemed for an action, by reason",
				},
				[]string{"reason"},
			),
			ProgramsStored: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "secretcompute",
					Subsystem: "session",
					Name:      "programs_stored_total",
					Help:      "Programs uploaded",
				},
			),
			ValuesStored: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "secretcompute",
					Subsystem: "session",
					Name:      "values_stored_total",
					Help:      "Named values stored",
				},
			),
			Submissions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "secretcompute",
					Subsystem: "session",
					Name:      "submissions_total",
					Help:      "Compute submissions, by outcome",
				},
				[]string{"outcome"},
			),
			Events: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "secretcompute",
					Subsystem: "session",
					Name:      "events_total",
					Help:      "Compute events received, by kind",
				},
				[]string{"kind"},
			),
			Streams: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "secretcompute",
					Subsystem: "session",
					Name:      "open_streams",
					Help:      "Open event streams",
				},
			),
			Computations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "secretcompute",
					Subsystem: "devnet",
					Name:      "computations_total",
					Help:      "Computations run by the devnet cluster, by outcome",
				},
				[]string{"outcome"},
			),
			Blocks: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "secretcompute",
					Subsystem: "devnet",
					Name:      "blocks_total",
					Help:      "Blocks committed by the devnet ledger",
				},
			),
			Requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "secretcompute",
					Subsystem: "devnet",
					Name:      "http_requests_total",
					Help:      "HTTP requests served, by route and status code",
				},
				[]string{"route", "code"},
			),
		}
	})
	return metrics
}
