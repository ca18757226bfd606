package config

import (
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/slybit/mqtt2prom/errors"
	"github.com/slybit/mqtt2prom/metric"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "MQTT2PROM"

//go:embed schema.json
var schemaJSON []byte

var configSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	getenv     func(string) string
}

// NewLoader creates a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  DefaultEnvPrefix,
		getenv:     os.Getenv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment variable prefix.
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Defaults())
	if err != nil {
		return nil, errors.Wrap(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, err
		}
		merged = deepMergeMaps(merged, raw)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Loader", "Load", "decode configuration")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.Prometheus.Path = metric.NormalizePath(cfg.Prometheus.Path)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Defaults returns the configuration used for every field a file omits.
func Defaults() *Config {
	return &Config{
		Transport: TransportMQTT,
		MQTT: MQTTConfig{
			URL:            "mqtt://localhost:1883",
			CleanSession:   true,
			KeepAlive:      30 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Topics: []string{"#"},
		Prometheus: PrometheusConfig{
			Path:        metric.DefaultPath,
			Port:        metric.DefaultPort,
			SelfMetrics: true,
		},
		Log: LogConfig{UnmatchedPerSecond: 1},
	}
}

// loadRaw reads one layer into a generic map, checks it against the schema
// and converts duration strings.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrConfigNotFound, err),
				"Loader", "loadRaw", fmt.Sprintf("read %s", path))
		}
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Loader", "loadRaw", fmt.Sprintf("read %s", path))
	}

	raw, err := decode(path, data)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s: %w", errors.ErrInvalidConfig, path, err),
			"Loader", "loadRaw", "parse configuration")
	}

	if l.validation {
		if err := validateSchema(raw); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %s: %w", errors.ErrInvalidConfig, path, err),
				"Loader", "loadRaw", "schema validation")
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s: %w", errors.ErrInvalidConfig, path, err),
			"Loader", "loadRaw", "parse durations")
	}
	return raw, nil
}

func decode(path string, data []byte) (map[string]any, error) {
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		m, ok := normalize(doc).(map[string]any)
		if doc != nil && !ok {
			return nil, fmt.Errorf("top level must be a mapping")
		}
		raw = m
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// normalize turns YAML maps with non-string keys into JSON-compatible maps.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = normalize(item)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, item := range t {
			m[fmt.Sprint(k)] = normalize(item)
		}
		return m
	case []any:
		for i, item := range t {
			t[i] = normalize(item)
		}
		return t
	default:
		return v
	}
}

func validateSchema(raw map[string]any) error {
	schema, err := configSchema()
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// parseDurations converts duration fields to nanoseconds for JSON decoding.
// Strings use time.ParseDuration syntax; bare numbers are seconds.
func parseDurations(raw map[string]any) error {
	fields := map[string][]string{
		"mqtt": {"keep_alive", "connect_timeout"},
		"nats": {"reconnect_wait"},
	}
	for section, keys := range fields {
		m, ok := raw[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			switch v := m[key].(type) {
			case string:
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("%s.%s: %w", section, key, err)
				}
				m[key] = d.Nanoseconds()
			case int:
				m[key] = (time.Duration(v) * time.Second).Nanoseconds()
			case float64:
				m[key] = int64(v * float64(time.Second))
			}
		}
	}
	return nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		key    string
		target *string
	}{
		{"_TRANSPORT", &cfg.Transport},
		{"_MQTT_URL", &cfg.MQTT.URL},
		{"_MQTT_USERNAME", &cfg.MQTT.Username},
		{"_MQTT_PASSWORD", &cfg.MQTT.Password},
		{"_MQTT_CLIENT_ID", &cfg.MQTT.ClientID},
		{"_NATS_URL", &cfg.NATS.URL},
		{"_NATS_TOKEN", &cfg.NATS.Token},
		{"_PROMETHEUS_PATH", &cfg.Prometheus.Path},
	}
	for _, s := range strs {
		name := l.envPrefix + s.key
		val := l.getenv(name)
		if val == "" {
			continue
		}
		if err := validateEnvVar(name, val); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
				"Loader", "applyEnvOverrides", "read environment")
		}
		*s.target = val
	}

	name := l.envPrefix + "_PROMETHEUS_PORT"
	if val := l.getenv(name); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s: %w", errors.ErrInvalidConfig, name, err),
				"Loader", "applyEnvOverrides", "read environment")
		}
		cfg.Prometheus.Port = port
	}
	return nil
}
