// Package nats feeds messages from NATS subjects into the bridge.
//
// Without a stream every configured topic becomes a core subscription and
// every message is live. With a stream an ordered JetStream consumer replays
// the last stored message per subject, flagged retained, before following
// new messages.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slybit/mqtt2prom/bridge"
	"github.com/slybit/mqtt2prom/config"
	"github.com/slybit/mqtt2prom/errors"
	"github.com/slybit/mqtt2prom/health"
	"github.com/slybit/mqtt2prom/metric"
	"github.com/slybit/mqtt2prom/natsclient"
	"github.com/slybit/mqtt2prom/pkg/retry"
)

// HealthComponent is the name the input reports under.
const HealthComponent = "transport"

// Input subscribes to NATS and delivers messages to the bridge queue.
type Input struct {
	cfg      config.NATSConfig
	subjects []string
	out      chan<- bridge.Message
	client   *natsclient.Client

	metrics     *metric.BridgeMetrics
	monitor     *health.Monitor
	logger      *slog.Logger
	retryConfig retry.Config
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

// New creates an input for topics. Topics use MQTT wildcards and are
// converted to NATS subjects.
func New(cfg config.NATSConfig, topics []string, out chan<- bridge.Message, opts ...Option) (*Input, error) {
	if out == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil output channel"), "nats", "New", "validate output")
	}
	if len(topics) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "nats", "New", "validate topics")
	}

	in := &Input{
		cfg:         cfg,
		out:         out,
		logger:      slog.Default().With("component", "input.nats"),
		retryConfig: retry.Connect(),
	}
	for _, opt := range opts {
		opt(in)
	}
	for _, topic := range topics {
		in.subjects = append(in.subjects, natsclient.SubjectFromTopic(topic))
	}

	client, err := natsclient.NewClient(cfg.URL,
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait),
		natsclient.WithCredentials(cfg.Username, cfg.Password),
		natsclient.WithToken(cfg.Token),
		natsclient.WithName("mqtt2prom"),
		natsclient.WithLogger(in.logger),
		natsclient.WithHealthChangeCallback(in.setConnected),
	)
	if err != nil {
		return nil, err
	}
	in.client = client

	in.setConnected(false)
	return in, nil
}

// Subjects returns the NATS subjects the input subscribes to.
func (in *Input) Subjects() []string {
	return in.subjects
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

// Run connects and delivers messages until ctx is done. The
// initial connection is retried; a cancelled context during that phase is
// not an error.
func (in *Input) Run(ctx context.Context) error {
	cfg := in.retryConfig
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		in.logger.Warn("NATS connection failed, retrying",
			"url", in.cfg.URL, "attempt", attempt, "retry_in", delay, "error", err)
	}

	err := retry.Do(ctx, cfg, func() error {
		return in.client.Connect(ctx)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.WrapFatal(err, "nats", "Run", "connect")
	}

	closeCtx := context.WithoutCancel(ctx)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(closeCtx, 5*time.Second)
		defer cancel()
		if err := in.client.Close(shutdownCtx); err != nil {
			in.logger.Warn("Error closing NATS connection", "error", err)
		}
	}()

	if err := in.subscribe(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func (in *Input) subscribe(ctx context.Context) error {
	handler := func(m natsclient.Msg) {
		bridge.Deliver(ctx, in.out, bridge.Message{
			Topic:    m.Subject,
			Payload:  m.Data,
			Retained: m.Replayed,
		})
	}

	if in.cfg.Stream != "" {
		if err := in.client.ConsumeLastPerSubject(ctx, in.cfg.Stream, in.subjects, handler); err != nil {
			return errors.WrapFatal(err, "nats", "Run", "consume stream "+in.cfg.Stream)
		}
		in.logger.Info("Consuming stream", "stream", in.cfg.Stream, "subjects", in.subjects)
		return nil
	}

	for _, subject := range in.subjects {
		if err := in.client.Subscribe(subject, handler); err != nil {
			return errors.WrapFatal(err, "nats", "Run", "subscribe "+subject)
		}
		in.logger.Info("Subscribed", "subject", subject)
	}
	return nil
}
