package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	TGIncomingUpdates  *prometheus.CounterVec
	TGOutgoingMessages *prometheus.CounterVec
	RouterDispatches   *prometheus.CounterVec
	RegistrarRequests  *prometheus.CounterVec
	RegistrarLatency   *prometheus.HistogramVec
	ChainRequests      *prometheus.CounterVec
	ChainLatency       *prometheus.HistogramVec
	OrderTransitions   *prometheus.CounterVec
	PaymentsDetected   *prometheus.CounterVec
	ActiveWatches      prometheus.Gauge
	Errors             *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			TGIncomingUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tg_incoming_updates_total",
				Help:      "Total incoming Telegram updates processed.",
			}, []string{"type"}),
			TGOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tg_outgoing_messages_total",
				Help:      "Total outgoing Telegram messages sent.",
			}, []string{"type"}),
			RouterDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "router_dispatches_total",
				Help:      "Total router dispatches by resolved prefix and outcome.",
			}, []string{"prefix", "status"}),
			RegistrarRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registrar_requests_total",
				Help:      "Total registrar API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			RegistrarLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "registrar_request_duration_seconds",
				Help:      "Latency distribution for registrar API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			ChainRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chain_requests_total",
				Help:      "Total chain-data API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			ChainLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chain_request_duration_seconds",
				Help:      "Latency distribution for chain-data API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_transitions_total",
				Help:      "Total order step transitions by target step and outcome.",
			}, []string{"step", "status"}),
			PaymentsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payments_detected_total",
				Help:      "Total crypto payments matched against active watches.",
			}, []string{"currency"}),
			ActiveWatches: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "payment_watches_active",
				Help:      "Number of payment watches currently being polled.",
			}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.TGIncomingUpdates,
			metricsInstance.TGOutgoingMessages,
			metricsInstance.RouterDispatches,
			metricsInstance.RegistrarRequests,
			metricsInstance.RegistrarLatency,
			metricsInstance.ChainRequests,
			metricsInstance.ChainLatency,
			metricsInstance.OrderTransitions,
			metricsInstance.PaymentsDetected,
			metricsInstance.ActiveWatches,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
