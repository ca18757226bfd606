package metric

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slybit/mqtt2prom/errors"
)

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()
	require.NotNil(t, registry.PrometheusRegistry())

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.Empty(t, families, "a bare registry exports nothing")
}

func TestNewRegistry_RuntimeCollectors(t *testing.T) {
	registry := NewRegistry(WithRuntimeCollectors())

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["go_goroutines"], "go collector should be registered")
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "A test gauge"})

	require.NoError(t, registry.Register("test_gauge", gauge))

	err := registry.Register("test_gauge", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrRegistrationFailed)
}

func TestRegistry_RegisterPrometheusConflict(t *testing.T) {
	registry := NewRegistry()
	first := prometheus.NewGauge(prometheus.GaugeOpts{Name: "conflict", Help: "first"})
	second := prometheus.NewGauge(prometheus.GaugeOpts{Name: "conflict", Help: "first"})

	require.NoError(t, registry.Register("a", first))
	err := registry.Register("b", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	var are prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, err, &are)
}

func TestRegistry_Snapshot(t *testing.T) {
	registry := NewRegistry()
	cache := NewGaugeCache(registry)
	require.NoError(t, cache.Record("temp_celsius", []string{"room"}, map[string]string{"room": "kitchen"}, 23.5))

	text, err := registry.Snapshot()
	require.NoError(t, err)

	assert.Contains(t, text, "# HELP temp_celsius temp_celsius\n")
	assert.Contains(t, text, "# TYPE temp_celsius gauge\n")
	assert.Contains(t, text, `temp_celsius{room="kitchen"} 23.5`)
}

func TestRegistry_SnapshotEmpty(t *testing.T) {
	text, err := NewRegistry().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "", strings.TrimSpace(text))
}
