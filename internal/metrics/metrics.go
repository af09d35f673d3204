// Package metrics exposes Babble's Prometheus collectors, the direct
// analogue of the teacher's monitoring.MetricsCollector.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles every gauge/counter/histogram Babble registers. The
// server updates SessionsActive and the executor updates
// CommandsDispatched and DispatchDuration; QueueDepth, RegistrySize and
// CommandsRejected are registered but nothing updates them.
type Collector struct {
	QueueDepth        *prometheus.GaugeVec
	RegistrySize      prometheus.Gauge
	SessionsActive    prometheus.Gauge
	CommandsDispatched *prometheus.CounterVec
	CommandsRejected  *prometheus.CounterVec
	DispatchDuration  *prometheus.HistogramVec
}

// New registers and returns a Collector on reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "babble",
			Name:      "queue_depth",
			Help:      "Current number of commands queued per shard.",
		}, []string{"shard"}),

		RegistrySize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "babble",
			Name:      "registry_clients",
			Help:      "Number of clients currently registered.",
		}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "babble",
			Name:      "sessions_active",
			Help:      "Number of open TCP sessions.",
		}),

		CommandsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "babble",
			Name:      "commands_dispatched_total",
			Help:      "Commands dispatched to business logic, by command name.",
		}, []string{"command"}),

		CommandsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "babble",
			Name:      "commands_rejected_total",
			Help:      "Commands rejected before dispatch, by reason.",
		}, []string{"reason"}),

		DispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "babble",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent executing a dispatched command, by command name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
	}
}

// Handler returns the HTTP handler serving /metrics in Prometheus
// exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
