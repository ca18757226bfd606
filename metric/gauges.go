package metric

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/slybit/mqtt2prom/errors"
)

// GaugeCache maps sanitized metric names to gauges created on first use.
// Entries live for the life of the process. The label set of a name is
// fixed by whichever caller creates it first.
type GaugeCache struct {
	registry *Registry
	mu       sync.RWMutex
	gauges   map[string]*prometheus.GaugeVec
}

// NewGaugeCache creates a cache that registers gauges in registry.
func NewGaugeCache(registry *Registry) *GaugeCache {
	return &GaugeCache{
		registry: registry,
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
}

// GetOrCreate returns the gauge for name, creating and registering it with
// labelNames (help text = name) when unseen. A failed registration is not
// cached.
func (c *GaugeCache) GetOrCreate(name string, labelNames []string) (*prometheus.GaugeVec, error) {
	c.mu.RLock()
	vec, ok := c.gauges[name]
	c.mu.RUnlock()
	if ok {
		return vec, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if vec, ok := c.gauges[name]; ok {
		return vec, nil
	}

	names := append([]string(nil), labelNames...)
	sort.Strings(names)
	vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, names)
	if err := c.registry.Register(name, vec); err != nil {
		return nil, err
	}
	c.gauges[name] = vec
	return vec, nil
}

// Record sets the gauge name{labels} to value.
func (c *GaugeCache) Record(name string, labelNames []string, labels map[string]string, value float64) error {
	vec, err := c.GetOrCreate(name, labelNames)
	if err != nil {
		return err
	}

	gauge, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrLabelMismatch, err),
			"GaugeCache", "Record", fmt.Sprintf("select series of %s", name))
	}
	gauge.Set(value)
	return nil
}

// Names returns the cached metric names in sorted order.
func (c *GaugeCache) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.gauges))
	for name := range c.gauges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of cached metrics.
func (c *GaugeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.gauges)
}
