package metric

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slybit/mqtt2prom/health"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "/metrics"},
		{"/", "/metrics"},
		{"metrics", "/metrics"},
		{"/custom", "/custom"},
		{" prom/x ", "/prom/x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePath(tt.in), "input %q", tt.in)
	}
}

func newTestServer(t *testing.T, monitor *health.Monitor) (*httptest.Server, *GaugeCache) {
	t.Helper()
	registry := NewRegistry()
	cache := NewGaugeCache(registry)
	require.NoError(t, cache.Record("temp_celsius", []string{"room"}, map[string]string{"room": "kitchen"}, 23.5))

	srv := NewServer(0, "prom", registry, monitor, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, cache
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Metrics(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	code, body := get(t, ts.URL+"/prom")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `temp_celsius{room="kitchen"} 23.5`)
}

func TestServer_Index(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	code, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `href="/prom"`)

	code, _ = get(t, ts.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_Health(t *testing.T) {
	monitor := health.NewMonitor()
	monitor.UpdateHealthy("transport", "connected")
	ts, _ := newTestServer(t, monitor)

	code, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)

	var status health.Status
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.True(t, status.Healthy)
	require.Len(t, status.SubStatuses, 1)
	assert.Equal(t, "transport", status.SubStatuses[0].Component)

	monitor.UpdateUnhealthy("transport", "connection lost")
	code, _ = get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer(freePort(t), "", NewRegistry(), nil, nil)

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	assert.Error(t, srv.Start(), "second start fails while running")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.NoError(t, srv.Stop(ctx), "stop is idempotent")
}

func TestServer_StopBeforeStart(t *testing.T) {
	srv := NewServer(freePort(t), "", NewRegistry(), nil, nil)
	require.NoError(t, srv.Stop(context.Background()))

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start served after Stop")
	}
	assert.Empty(t, srv.Addr())
}

func TestServer_StartBindFailure(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close()

	srv := NewServer(l.Addr().(*net.TCPAddr).Port, "", NewRegistry(), nil, nil)
	assert.Error(t, srv.Start())
}
