package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slybit/mqtt2prom/errors"
	"github.com/slybit/mqtt2prom/rewrite"
)

func validConfig() *Config {
	cfg := Defaults()
	cfg.Rewrites = []RewriteConfig{{
		Regex:  "sensors/(.*)/temp",
		Name:   "temp_celsius",
		Labels: map[string]any{"room": "{{T.1}}"},
		Value:  "{{M}}",
	}}
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown transport", func(c *Config) { c.Transport = "kafka" }},
		{"missing mqtt url", func(c *Config) { c.MQTT.URL = "" }},
		{"missing nats url", func(c *Config) { c.Transport = TransportNATS; c.NATS.URL = "" }},
		{"qos", func(c *Config) { c.MQTT.QoS = 5 }},
		{"cert without key", func(c *Config) { c.MQTT.TLS.CertFile = "client.pem" }},
		{"no topics", func(c *Config) { c.Topics = nil }},
		{"blank topic", func(c *Config) { c.Topics = []string{" "} }},
		{"port", func(c *Config) { c.Prometheus.Port = 0 }},
		{"negative log rate", func(c *Config) { c.Log.UnmatchedPerSecond = -1 }},
		{"bad regex", func(c *Config) { c.Rewrites[0].Regex = "(" }},
		{"bad template", func(c *Config) { c.Rewrites[0].Name = "{{#section}}" }},
		{"bad label template", func(c *Config) { c.Rewrites[0].Labels["room"] = "{{T.1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConfig_Rules(t *testing.T) {
	cfg := validConfig()
	cfg.Rewrites = append(cfg.Rewrites, RewriteConfig{
		Regex:    "^lights/(.*)$",
		Name:     "light_on",
		Labels:   map[string]any{"floor": float64(1), "lit": true},
		Value:    float64(1),
		Continue: true,
	}, RewriteConfig{Regex: "^bare$"})

	rules, err := cfg.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 3)

	ctx := rewrite.RenderContext(rewrite.Number(23.5), rewrite.Object(map[string]rewrite.Value{"1": rewrite.String("kitchen")}))

	first := rules[0]
	assert.Equal(t, "sensors/(.*)/temp", first.Pattern.String())
	assert.Equal(t, "temp_celsius", first.Name.String(ctx))
	assert.Equal(t, "kitchen", first.Labels["room"].String(ctx))
	assert.Equal(t, "23.5", first.Value.String(ctx))
	assert.False(t, first.Continue)

	second := rules[1]
	assert.True(t, second.Value.IsLiteral())
	assert.Equal(t, rewrite.Number(1), second.Value.Render(ctx))
	assert.Equal(t, "1", second.Labels["floor"].String(ctx))
	assert.Equal(t, "true", second.Labels["lit"].String(ctx))
	assert.True(t, second.Continue)

	bare := rules[2]
	assert.Equal(t, "", bare.Name.String(ctx))
	assert.Equal(t, rewrite.Null(), bare.Value.Render(ctx))
	assert.Equal(t, 0.0, bare.Value.Render(ctx).ToNumber())
	assert.Empty(t, bare.Labels)
}

func TestConfig_RulesFromYAML(t *testing.T) {
	cfg, err := newTestLoader(nil).LoadFile(writeFile(t, "config.yaml", exampleYAML))
	require.NoError(t, err)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, []string{"floor", "lamp"}, rules[1].LabelNames())
	assert.Equal(t, rewrite.Number(1), rules[1].Value.Render(rewrite.Undefined()))
}

func TestConfig_LabelConflicts(t *testing.T) {
	cfg := validConfig()
	cfg.Rewrites = append(cfg.Rewrites,
		RewriteConfig{Regex: "a", Name: "temp_celsius", Labels: map[string]any{"room": "x"}},
		RewriteConfig{Regex: "b", Name: "temp-celsius", Labels: map[string]any{"floor": "x"}},
		RewriteConfig{Regex: "c", Name: "{{T.1}}", Labels: map[string]any{"any": "x"}},
	)

	conflicts := cfg.LabelConflicts()
	require.Len(t, conflicts, 1)
	assert.Contains(t, conflicts[0], "metric temp_celsius")
	assert.Contains(t, conflicts[0], "rewrites[2]")
	assert.Contains(t, conflicts[0], "rewrites[0]")

	assert.Empty(t, validConfig().LabelConflicts())
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.MQTT.Password = "hunter2"
	cfg.NATS.Token = "tok"

	out := cfg.String()
	assert.False(t, strings.Contains(out, "hunter2"))
	assert.False(t, strings.Contains(out, `"tok"`))
	assert.Contains(t, out, "******")
	assert.Equal(t, "hunter2", cfg.MQTT.Password, "source config is untouched")
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": ["{[", {"b": 1}]}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": [1]}}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": [1]`)))
	assert.Error(t, validateJSONDepth([]byte(strings.Repeat("[", maxJSONDepth+1)+strings.Repeat("]", maxJSONDepth+1))))
}

func TestValidateConfigPath(t *testing.T) {
	assert.Error(t, validateConfigPath(""))
	assert.Error(t, validateConfigPath("../outside.yaml"))
	assert.Error(t, validateConfigPath("config.ini"))
	assert.NoError(t, validateConfigPath("config.yaml"))
	assert.NoError(t, validateConfigPath("/etc/mqtt2prom/config.yml"))
}
