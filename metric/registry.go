// Package metric owns the Prometheus registry the bridge writes into: the
// cache of dynamically created gauges, the bridge's own metrics, the text
// snapshot of the registry and the HTTP scrape server.
package metric

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"

	"github.com/slybit/mqtt2prom/errors"
)

// Registry wraps a Prometheus registry and tracks collectors by name.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRuntimeCollectors adds the Go runtime and process collectors.
func WithRuntimeCollectors() RegistryOption {
	return func(r *Registry) {
		r.prometheusRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		registeredMetrics:  make(map[string]prometheus.Collector),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Register adds a collector under name.
func (r *Registry) Register(name string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registeredMetrics[name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: metric %s already registered", errors.ErrRegistrationFailed, name),
			"Registry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrRegistrationFailed, err),
				"Registry", "Register", fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrRegistrationFailed, err),
			"Registry", "Register", fmt.Sprintf("register metric %s", name))
	}

	r.registeredMetrics[name] = collector
	return nil
}

// Snapshot renders every metric family in the Prometheus text exposition
// format.
func (r *Registry) Snapshot() (string, error) {
	families, err := r.prometheusRegistry.Gather()
	if err != nil {
		return "", errors.WrapTransient(err, "Registry", "Snapshot", "gather metrics")
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", errors.Wrap(err, "Registry", "Snapshot", "encode metric family")
		}
	}
	return buf.String(), nil
}
