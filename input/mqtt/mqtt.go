// Package mqtt feeds messages from an MQTT broker into the bridge.
//
// The input subscribes to every configured topic filter on each connect,
// so subscriptions survive reconnects with a clean session. The broker's
// retained flag is passed through unchanged.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/slybit/mqtt2prom/bridge"
	"github.com/slybit/mqtt2prom/config"
	"github.com/slybit/mqtt2prom/errors"
	"github.com/slybit/mqtt2prom/health"
	"github.com/slybit/mqtt2prom/metric"
	"github.com/slybit/mqtt2prom/pkg/retry"
	"github.com/slybit/mqtt2prom/pkg/tlsutil"
)

// HealthComponent is the name the input reports under.
const HealthComponent = "transport"

const disconnectQuiesce = 250 // milliseconds

// Input subscribes to an MQTT broker and delivers messages to the bridge queue.
type Input struct {
	cfg     config.MQTTConfig
	filters map[string]byte
	out     chan<- bridge.Message

	metrics     *metric.BridgeMetrics
	monitor     *health.Monitor
	logger      *slog.Logger
	retryConfig retry.Config

	// ctx of the running input, read by the message handler
	ctx context.Context
}

// Option configures an Input.
type Option func(*Input)

// WithMetrics reports the connection state on m.
func WithMetrics(m *metric.BridgeMetrics) Option {
	return func(in *Input) { in.metrics = m }
}

// WithHealth reports the connection state on monitor.
func WithHealth(monitor *health.Monitor) Option {
	return func(in *Input) { in.monitor = monitor }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Input) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// WithRetry overrides the initial connect retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(in *Input) { in.retryConfig = cfg }
}

// New creates an input subscribing to topics with the configured QoS.
func New(cfg config.MQTTConfig, topics []string, out chan<- bridge.Message, opts ...Option) (*Input, error) {
	if out == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil output channel"), "mqtt", "New", "validate output")
	}
	if len(topics) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "mqtt", "New", "validate topics")
	}
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "mqtt", "New", "validate url")
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: qos %d", errors.ErrInvalidConfig, cfg.QoS), "mqtt", "New", "validate qos")
	}

	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID()
	}

	in := &Input{
		cfg:         cfg,
		filters:     make(map[string]byte, len(topics)),
		out:         out,
		logger:      slog.Default().With("component", "input.mqtt"),
		retryConfig: retry.Connect(),
		ctx:         context.Background(),
	}
	for _, opt := range opts {
		opt(in)
	}
	for _, topic := range topics {
		in.filters[topic] = byte(cfg.QoS)
	}

	in.setConnected(false)
	return in, nil
}

// DefaultClientID returns a random client id of the form mqtt2prom-xxxxxxxx.
func DefaultClientID() string {
	return "mqtt2prom-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ClientID returns the client id used on the broker.
func (in *Input) ClientID() string {
	return in.cfg.ClientID
}

func (in *Input) clientOptions() (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().
		AddBroker(in.cfg.URL).
		SetClientID(in.cfg.ClientID).
		SetCleanSession(in.cfg.CleanSession).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetOnConnectHandler(in.onConnect).
		SetConnectionLostHandler(in.onConnectionLost).
		SetReconnectingHandler(in.onReconnecting)

	if in.cfg.Username != "" {
		opts.SetUsername(in.cfg.Username)
		opts.SetPassword(in.cfg.Password)
	}
	if in.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(in.cfg.KeepAlive)
	}
	if in.cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(in.cfg.ConnectTimeout)
	}

	if in.cfg.TLS.Enabled() || isTLSScheme(in.cfg.URL) {
		tlsConfig, err := tlsutil.LoadClientTLSConfig(tlsutil.ClientConfig{
			CAFile:             in.cfg.TLS.CAFile,
			CertFile:           in.cfg.TLS.CertFile,
			KeyFile:            in.cfg.TLS.KeyFile,
			InsecureSkipVerify: in.cfg.TLS.InsecureSkipVerify,
		})
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts, nil
}

func isTLSScheme(url string) bool {
	for _, scheme := range []string{"mqtts://", "ssl://", "tls://", "tcps://", "wss://"} {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return false
}

// Run connects and delivers messages until ctx is done. The initial
// connection is retried; once connected the client reconnects on its own.
func (in *Input) Run(ctx context.Context) error {
	opts, err := in.clientOptions()
	if err != nil {
		return err
	}
	in.ctx = ctx
	client := paho.NewClient(opts)

	cfg := in.retryConfig
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		in.logger.Warn("MQTT connection failed, retrying",
			"url", in.cfg.URL, "attempt", attempt, "retry_in", delay, "error", err)
	}

	in.logger.Info("Connecting to MQTT broker", "url", in.cfg.URL, "client_id", in.cfg.ClientID)
	err = retry.Do(ctx, cfg, func() error {
		return waitToken(ctx, client.Connect())
	})
	if err != nil {
		// A connect still in flight must not outlive the input.
		client.Disconnect(0)
		if ctx.Err() != nil {
			return nil
		}
		return errors.WrapFatal(err, "mqtt", "Run", "connect")
	}

	<-ctx.Done()
	client.Disconnect(disconnectQuiesce)
	in.setConnected(false)
	in.logger.Info("MQTT disconnected", "url", in.cfg.URL)
	return nil
}

func waitToken(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return errors.WrapTransient(err, "mqtt", "Run", "broker request")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (in *Input) onConnect(client paho.Client) {
	in.logger.Info("MQTT connected", "url", in.cfg.URL)
	in.setConnected(true)

	tok := client.SubscribeMultiple(in.filters, in.onMessage)
	go func() {
		if err := waitToken(in.ctx, tok); err != nil {
			in.logger.Error("MQTT subscribe failed", "topics", in.topics(), "error", err)
			return
		}
		for topic, qos := range in.filters {
			in.logger.Debug("Subscribed to topic", "topic", topic, "qos", qos)
		}
	}()
}

func (in *Input) onConnectionLost(_ paho.Client, err error) {
	in.logger.Warn("MQTT connection lost", "url", in.cfg.URL, "error", err)
	in.setConnected(false)
}

func (in *Input) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	in.logger.Info("MQTT trying to reconnect", "url", in.cfg.URL)
}

func (in *Input) onMessage(_ paho.Client, msg paho.Message) {
	bridge.Deliver(in.ctx, in.out, bridge.Message{
		Topic:    msg.Topic(),
		Payload:  msg.Payload(),
		Retained: msg.Retained(),
	})
}

func (in *Input) topics() []string {
	topics := make([]string, 0, len(in.filters))
	for topic := range in.filters {
		topics = append(topics, topic)
	}
	return topics
}

func (in *Input) setConnected(connected bool) {
	in.metrics.SetTransportConnected(connected)
	if in.monitor == nil {
		return
	}
	if connected {
		in.monitor.UpdateHealthy(HealthComponent, "connected to "+in.cfg.URL)
	} else {
		in.monitor.UpdateUnhealthy(HealthComponent, "not connected to "+in.cfg.URL)
	}
}
