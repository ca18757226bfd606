package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/slybit/mqtt2prom/errors"
	"github.com/slybit/mqtt2prom/rewrite"
)

// Transport names.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

// Config represents the complete application configuration
type Config struct {
	Transport  string           `json:"transport"`
	MQTT       MQTTConfig       `json:"mqtt"`
	NATS       NATSConfig       `json:"nats"`
	Topics     []string         `json:"topics"`
	Retained   bool             `json:"retained"`
	Prometheus PrometheusConfig `json:"prometheus"`
	Log        LogConfig        `json:"log"`
	Rewrites   []RewriteConfig  `json:"rewrites"`
}

// MQTTConfig defines the MQTT broker connection.
type MQTTConfig struct {
	URL            string        `json:"url"`
	ClientID       string        `json:"client_id,omitempty"`
	Username       string        `json:"username,omitempty"`
	Password       string        `json:"password,omitempty"`
	QoS            int           `json:"qos"`
	CleanSession   bool          `json:"clean_session"`
	KeepAlive      time.Duration `json:"keep_alive"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	TLS            TLSConfig     `json:"tls"`
}

// TLSConfig holds client certificate settings for mqtts:// and ssl:// brokers.
type TLSConfig struct {
	CAFile             string `json:"ca_file,omitempty"`
	CertFile           string `json:"cert_file,omitempty"`
	KeyFile            string `json:"key_file,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
}

// Enabled reports whether any TLS setting is present.
func (t TLSConfig) Enabled() bool {
	return t.CAFile != "" || t.CertFile != "" || t.InsecureSkipVerify
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URL           string        `json:"url"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	MaxReconnects int           `json:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait"`
	// Stream enables last-per-subject replay from a JetStream stream.
	Stream string `json:"stream,omitempty"`
}

// PrometheusConfig configures the scrape endpoint.
type PrometheusConfig struct {
	Path           string `json:"path"`
	Port           int    `json:"port"`
	SelfMetrics    bool   `json:"self_metrics"`
	RuntimeMetrics bool   `json:"runtime_metrics"`
}

// LogConfig configures log volume.
type LogConfig struct {
	// UnmatchedPerSecond limits "no rule matched" warnings; 0 logs them all.
	UnmatchedPerSecond float64 `json:"unmatched_per_second"`
}

// RewriteConfig is one rewrite rule as written in the configuration file.
// String fields are templates; other scalars are used as they are.
type RewriteConfig struct {
	Regex    string         `json:"regex"`
	Name     any            `json:"name,omitempty"`
	Labels   map[string]any `json:"labels,omitempty"`
	Value    any            `json:"value,omitempty"`
	Continue bool           `json:"continue,omitempty"`
}

// Validate checks the configuration and compiles its rules.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportMQTT:
		if c.MQTT.URL == "" {
			return invalid("mqtt.url is required")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return invalid(fmt.Sprintf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
		}
		if (c.MQTT.TLS.CertFile == "") != (c.MQTT.TLS.KeyFile == "") {
			return invalid("mqtt.tls.cert_file and mqtt.tls.key_file must be set together")
		}
	case TransportNATS:
		if c.NATS.URL == "" {
			return invalid("nats.url is required")
		}
	default:
		return invalid(fmt.Sprintf("transport must be %q or %q, got %q", TransportMQTT, TransportNATS, c.Transport))
	}

	if len(c.Topics) == 0 {
		return invalid("at least one topic is required")
	}
	for i, topic := range c.Topics {
		if strings.TrimSpace(topic) == "" {
			return invalid(fmt.Sprintf("topics[%d] is empty", i))
		}
	}

	if c.Prometheus.Port < 1 || c.Prometheus.Port > 65535 {
		return invalid(fmt.Sprintf("prometheus.port out of range: %d", c.Prometheus.Port))
	}
	if c.Log.UnmatchedPerSecond < 0 {
		return invalid("log.unmatched_per_second must not be negative")
	}

	_, err := c.Rules()
	return err
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg),
		"Config", "Validate", "config validation")
}

// Rules compiles the rewrite rules in configuration order.
func (c *Config) Rules() ([]rewrite.Rule, error) {
	rules := make([]rewrite.Rule, 0, len(c.Rewrites))
	for i, rc := range c.Rewrites {
		rule, err := rc.compile()
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: rewrites[%d]: %w", errors.ErrInvalidConfig, i, err),
				"Config", "Rules", "compile rewrite rule")
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (rc RewriteConfig) compile() (rewrite.Rule, error) {
	if rc.Regex == "" {
		return rewrite.Rule{}, fmt.Errorf("%w: regex is required", errors.ErrInvalidPattern)
	}
	pattern, err := regexp.Compile(rc.Regex)
	if err != nil {
		return rewrite.Rule{}, fmt.Errorf("%w: %w", errors.ErrInvalidPattern, err)
	}

	name, err := compileTemplate(rc.Name)
	if err != nil {
		return rewrite.Rule{}, fmt.Errorf("name: %w", err)
	}
	value, err := compileTemplate(rc.Value)
	if err != nil {
		return rewrite.Rule{}, fmt.Errorf("value: %w", err)
	}

	labels := make(map[string]rewrite.Template, len(rc.Labels))
	for key, raw := range rc.Labels {
		tmpl, err := compileTemplate(raw)
		if err != nil {
			return rewrite.Rule{}, fmt.Errorf("labels.%s: %w", key, err)
		}
		labels[key] = tmpl
	}

	return rewrite.Rule{
		Pattern:  pattern,
		Name:     name,
		Labels:   labels,
		Value:    value,
		Continue: rc.Continue,
	}, nil
}

// compileTemplate compiles strings and passes other scalars through. A missing
// or null field is the null literal: an empty name, or a value of 0.
func compileTemplate(raw any) (rewrite.Template, error) {
	switch v := raw.(type) {
	case nil:
		return rewrite.Literal(rewrite.Null()), nil
	case string:
		return rewrite.Compile(v)
	default:
		return rewrite.Literal(rewrite.FromAny(v)), nil
	}
}

// LabelConflicts reports rules that share a fixed metric name but declare
// different label keys. Only the first of them to fire defines the metric;
// the others will fail to record.
func (c *Config) LabelConflicts() []string {
	type first struct {
		rule   int
		labels []string
	}
	seen := map[string]first{}

	var conflicts []string
	for i, rc := range c.Rewrites {
		name, err := compileTemplate(rc.Name)
		if err != nil {
			continue
		}
		text, ok := name.Static()
		if !ok {
			continue
		}
		text = rewrite.Sanitize(text)

		labels := make([]string, 0, len(rc.Labels))
		for key := range rc.Labels {
			labels = append(labels, key)
		}
		sort.Strings(labels)

		prev, exists := seen[text]
		if !exists {
			seen[text] = first{rule: i, labels: labels}
			continue
		}
		if strings.Join(prev.labels, ",") != strings.Join(labels, ",") {
			conflicts = append(conflicts, fmt.Sprintf(
				"metric %s: rewrites[%d] labels %v differ from rewrites[%d] labels %v",
				text, i, labels, prev.rule, prev.labels))
		}
	}
	return conflicts
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := *c
	masked.MQTT.Password = mask(masked.MQTT.Password)
	masked.NATS.Password = mask(masked.NATS.Password)
	masked.NATS.Token = mask(masked.NATS.Token)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "******"
}
