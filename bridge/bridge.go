// Package bridge feeds transport messages into the rewrite dispatcher.
//
// Transports deliver Messages onto a channel; Run drains it from a single
// goroutine so every message is dispatched to completion before the next.
// Retained messages the broker replays on connect are ignored until the
// first live message arrives, unless the bridge is told to accept them.
package bridge

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/slybit/mqtt2prom/health"
	"github.com/slybit/mqtt2prom/metric"
	"github.com/slybit/mqtt2prom/rewrite"
)

// DefaultQueueSize is the suggested capacity of the message channel.
const DefaultQueueSize = 1024

// HealthComponent is the name the bridge reports under.
const HealthComponent = "ingress"

// Message is one delivery from a transport.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Dispatcher applies rewrite rules. *rewrite.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(topic, payload string) []rewrite.Outcome
}

const (
	awaitingLive int32 = iota
	live
)

// replayLatch flips from awaitingLive to live on the first non-retained
// message and never flips back.
type replayLatch struct {
	state atomic.Int32
}

// observe records a delivery and reports whether it caused the transition.
func (l *replayLatch) observe(retained bool) bool {
	if retained {
		return false
	}
	return l.state.CompareAndSwap(awaitingLive, live)
}

func (l *replayLatch) live() bool {
	return l.state.Load() == live
}

// Bridge applies the startup replay policy and dispatches messages.
type Bridge struct {
	dispatcher     Dispatcher
	acceptRetained bool
	latch          replayLatch
	metrics        *metric.BridgeMetrics
	monitor        *health.Monitor
	logger         *slog.Logger
	dispatched     atomic.Uint64
	suppressed     atomic.Uint64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithRetained dispatches retained messages received before the first live one.
func WithRetained(accept bool) Option {
	return func(b *Bridge) { b.acceptRetained = accept }
}

// WithMetrics attaches the bridge's self metrics.
func WithMetrics(m *metric.BridgeMetrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithHealth reports the replay state to monitor.
func WithHealth(monitor *health.Monitor) Option {
	return func(b *Bridge) { b.monitor = monitor }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a bridge in front of d.
func New(d Dispatcher, opts ...Option) *Bridge {
	b := &Bridge{
		dispatcher: d,
		logger:     slog.Default().With("component", HealthComponent),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.monitor != nil {
		b.monitor.UpdateDegraded(HealthComponent, "awaiting live messages")
	}
	return b
}

// Handle dispatches msg unless it is a retained message arriving before the
// first live one. It returns the outcomes of the matching rules.
func (b *Bridge) Handle(msg Message) []rewrite.Outcome {
	b.metrics.MessageReceived(msg.Retained)

	if b.latch.observe(msg.Retained) {
		b.logger.Info("First live message received, processing all messages", "topic", msg.Topic)
		if b.monitor != nil {
			b.monitor.UpdateHealthy(HealthComponent, "live")
		}
	}

	if !b.latch.live() && !b.acceptRetained {
		b.suppressed.Add(1)
		b.metrics.MessageSuppressed()
		b.logger.Debug("Ignoring retained message received at startup", "topic", msg.Topic)
		return nil
	}

	b.logger.Debug("Received message", "topic", msg.Topic, "retained", msg.Retained)
	b.dispatched.Add(1)
	return b.dispatcher.Dispatch(msg.Topic, string(msg.Payload))
}

// Run dispatches messages from in until ctx is done or in is closed.
func (b *Bridge) Run(ctx context.Context, in <-chan Message) error {
	b.logger.Debug("Bridge started", "accept_retained", b.acceptRetained)
	defer b.logger.Debug("Bridge stopped",
		"dispatched", b.dispatched.Load(), "suppressed", b.suppressed.Load())

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			b.Handle(msg)
		}
	}
}

// Live reports whether the first live message has been seen.
func (b *Bridge) Live() bool {
	return b.latch.live()
}

// Stats returns how many messages were dispatched and suppressed.
func (b *Bridge) Stats() (dispatched, suppressed uint64) {
	return b.dispatched.Load(), b.suppressed.Load()
}

// Deliver sends msg to out, giving up when ctx is done. Transport inputs
// use it so a full queue applies back-pressure without blocking shutdown.
func Deliver(ctx context.Context, out chan<- Message, msg Message) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
