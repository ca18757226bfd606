package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mqtt2prom"

// BridgeMetrics are the bridge's own metrics. A nil *BridgeMetrics is valid
// and records nothing.
type BridgeMetrics struct {
	messagesReceived   *prometheus.CounterVec
	messagesSuppressed prometheus.Counter
	rewrites           *prometheus.CounterVec
	unmatched          prometheus.Counter
	dispatchDuration   prometheus.Histogram
	metricFamilies     prometheus.GaugeFunc
	transportConnected prometheus.Gauge
}

// NewBridgeMetrics creates and registers the bridge metrics. The
// metric_families gauge reports cache.Len(). A nil registry returns nil.
func NewBridgeMetrics(registry *Registry, cache *GaugeCache) (*BridgeMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &BridgeMetrics{
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Messages received from the transport",
		}, []string{"retained"}),

		messagesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "suppressed_total",
			Help:      "Retained messages ignored while waiting for the first live message",
		}),

		rewrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrites_total",
			Help:      "Matching rewrite rule applications by outcome",
		}, []string{"outcome"}),

		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "unmatched_total",
			Help:      "Messages no rewrite rule matched",
		}),

		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent applying rewrite rules to a message",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		transportConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connected",
			Help:      "Transport connection status (0=disconnected, 1=connected)",
		}),
	}
	m.metricFamilies = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "metric_families",
		Help:      "Metrics created from rewrite rules",
	}, func() float64 {
		if cache == nil {
			return 0
		}
		return float64(cache.Len())
	})

	collectors := map[string]prometheus.Collector{
		"mqtt2prom_messages_received_total":   m.messagesReceived,
		"mqtt2prom_messages_suppressed_total": m.messagesSuppressed,
		"mqtt2prom_rewrites_total":            m.rewrites,
		"mqtt2prom_messages_unmatched_total":  m.unmatched,
		"mqtt2prom_dispatch_duration_seconds": m.dispatchDuration,
		"mqtt2prom_metric_families":           m.metricFamilies,
		"mqtt2prom_transport_connected":       m.transportConnected,
	}
	for name, c := range collectors {
		if err := registry.Register(name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MessageReceived counts a message handed over by the transport.
func (m *BridgeMetrics) MessageReceived(retained bool) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(strconv.FormatBool(retained)).Inc()
}

// MessageSuppressed counts a retained message dropped during startup.
func (m *BridgeMetrics) MessageSuppressed() {
	if m == nil {
		return
	}
	m.messagesSuppressed.Inc()
}

// RewriteOutcome counts one matching rule by its outcome.
func (m *BridgeMetrics) RewriteOutcome(outcome string) {
	if m == nil {
		return
	}
	m.rewrites.WithLabelValues(outcome).Inc()
}

// Unmatched counts a message no rule matched.
func (m *BridgeMetrics) Unmatched() {
	if m == nil {
		return
	}
	m.unmatched.Inc()
}

// DispatchDuration observes the time taken to dispatch one message.
func (m *BridgeMetrics) DispatchDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.Observe(d.Seconds())
}

// SetTransportConnected updates the transport connection gauge.
func (m *BridgeMetrics) SetTransportConnected(connected bool) {
	if m == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	m.transportConnected.Set(value)
}
