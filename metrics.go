package ehreceiver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsSet groups promauto-built collectors in a struct, scoped to a
// registerer so that multiple receivers in the same process (one per
// partition, typically) don't collide on the default global registry.
type metricsSet struct {
	prefetchBufferSize prometheus.Gauge
	pendingQueueDepth  prometheus.Gauge
	outstandingCredit  prometheus.Gauge
	linkStateTransitions *prometheus.CounterVec
	receiveLatency     prometheus.Histogram
	tokenRefreshFailures prometheus.Counter
}

func newMetricsSet(reg prometheus.Registerer, entityPath string) *metricsSet {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"entity_path": entityPath}
	return &metricsSet{
		prefetchBufferSize: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "ehreceiver_prefetch_buffer_size",
			Help:        "Number of decoded messages buffered ahead of caller demand.",
			ConstLabels: labels,
		}),
		pendingQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "ehreceiver_pending_queue_depth",
			Help:        "Number of outstanding receive requests.",
			ConstLabels: labels,
		}),
		outstandingCredit: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "ehreceiver_outstanding_credit",
			Help:        "AMQP credit currently issued to the peer and not yet consumed.",
			ConstLabels: labels,
		}),
		linkStateTransitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name:        "ehreceiver_link_state_transitions_total",
			Help:        "Count of link state transitions by destination state.",
			ConstLabels: labels,
		}, []string{"state"}),
		receiveLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "ehreceiver_receive_latency_seconds",
			Help:        "Time from a receive() call to its future completing.",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 16),
			ConstLabels: labels,
		}),
		tokenRefreshFailures: factory.NewCounter(prometheus.CounterOpts{
			Name:        "ehreceiver_token_refresh_failures_total",
			Help:        "Count of failed periodic CBS token refreshes (token fetch or send).",
			ConstLabels: labels,
		}),
	}
}
