package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/slybit/mqtt2prom/bridge"
	"github.com/slybit/mqtt2prom/config"
)

func examplePath(t *testing.T) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("..", "..", "configs", "example.yaml"))
	require.NoError(t, err)
	return path
}

func TestParseFlags(t *testing.T) {
	t.Setenv("MQTT2PROM_LOG_LEVEL", "warn")
	t.Setenv("MQTT2PROM_SHUTDOWN_TIMEOUT", "3s")

	cfg, _, err := parseFlags([]string{"-c", "my.yaml", "--log-format=text", "--validate"})
	require.NoError(t, err)

	assert.Equal(t, "my.yaml", cfg.ConfigPath)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.Validate)
	assert.False(t, cfg.ShowVersion)
}

func TestParseFlags_Unknown(t *testing.T) {
	_, _, err := parseFlags([]string{"--bogus"})
	assert.Error(t, err)
}

func TestValidateFlags(t *testing.T) {
	valid := CLIConfig{
		ConfigPath:      examplePath(t),
		LogLevel:        "info",
		LogFormat:       "json",
		ShutdownTimeout: time.Second,
	}
	require.NoError(t, validateFlags(&valid))

	tests := []struct {
		name   string
		mutate func(*CLIConfig)
	}{
		{"missing config", func(c *CLIConfig) { c.ConfigPath = "/nonexistent.yaml" }},
		{"bad level", func(c *CLIConfig) { c.LogLevel = "trace" }},
		{"bad format", func(c *CLIConfig) { c.LogFormat = "xml" }},
		{"zero timeout", func(c *CLIConfig) { c.ShutdownTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, validateFlags(&c))
		})
	}

	version := CLIConfig{ShowVersion: true}
	assert.NoError(t, validateFlags(&version))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "topic", "a/b")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, appName, entry["service"])
	assert.Equal(t, Version, entry["version"])
	assert.Equal(t, "a/b", entry["topic"])
}

func TestUnmatchedLimit(t *testing.T) {
	assert.Equal(t, rate.Inf, unmatchedLimit(0))
	assert.Equal(t, rate.Limit(2), unmatchedLimit(2))
}

func TestPrintDetailedHelp(t *testing.T) {
	_, fs, err := parseFlags(nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	printDetailedHelp(&buf, fs)
	assert.Contains(t, buf.String(), "-log-format")
	assert.Contains(t, buf.String(), "MQTT2PROM_MQTT_URL")
}

func TestBuild_ExampleConfig(t *testing.T) {
	cfg, err := loadConfig(examplePath(t))
	require.NoError(t, err)

	a, err := build(cfg, newLogger(io.Discard, "info", "json"))
	require.NoError(t, err)
	assert.Equal(t, len(cfg.Rewrites), a.dispatcher.Len())

	cfg.Transport = config.TransportNATS
	a, err = build(cfg, newLogger(io.Discard, "info", "json"))
	require.NoError(t, err)
	assert.NotNil(t, a.input)
}

// feedInput publishes fixed messages and then idles until cancelled.
type feedInput struct {
	out  chan<- bridge.Message
	msgs []bridge.Message
}

func (f *feedInput) Run(ctx context.Context) error {
	for _, msg := range f.msgs {
		bridge.Deliver(ctx, f.out, msg)
	}
	<-ctx.Done()
	return nil
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestApp_RunEndToEnd(t *testing.T) {
	cfg, err := loadConfig(examplePath(t))
	require.NoError(t, err)
	cfg.Prometheus.Port = freePort(t)

	a, err := build(cfg, newLogger(io.Discard, "info", "json"))
	require.NoError(t, err)
	a.input = &feedInput{out: a.queue, msgs: []bridge.Message{
		{Topic: "sensors/hall/temp", Payload: []byte("18"), Retained: true},
		{Topic: "sensors/kitchen/temp", Payload: []byte("23.5")},
		{Topic: "zigbee2mqtt/plug", Payload: []byte(`{"linkquality": 87, "battery": 99}`)},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx, time.Second) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/metrics", cfg.Prometheus.Port)
	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return strings.Contains(body, `zigbee_battery_percent{device="plug"} 99`)
	}, 5*time.Second, 20*time.Millisecond)

	assert.Contains(t, body, `temp_celsius{room="kitchen"} 23.5`)
	assert.Contains(t, body, `zigbee_linkquality{device="plug"} 87`)
	assert.NotContains(t, body, `room="hall"`, "retained startup message is suppressed")
	assert.Contains(t, body, "mqtt2prom_messages_suppressed_total 1")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}
