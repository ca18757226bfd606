package rewrite

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Recorder stores a gauge observation. metric.GaugeCache implements it.
type Recorder interface {
	Record(name string, labelNames []string, labels map[string]string, value float64) error
}

// Stats receives dispatch statistics. metric.BridgeMetrics implements it.
type Stats interface {
	RewriteOutcome(status string)
	Unmatched()
	DispatchDuration(d time.Duration)
}

// Status is the result of applying one matching rule.
type Status int

// Outcome statuses.
const (
	StatusRecorded Status = iota
	StatusEmptyName
	StatusRecordFailed
)

func (s Status) String() string {
	switch s {
	case StatusRecorded:
		return "recorded"
	case StatusEmptyName:
		return "empty_name"
	case StatusRecordFailed:
		return "record_failed"
	default:
		return "unknown"
	}
}

// Outcome describes what one matching rule did with a message.
type Outcome struct {
	Rule   int
	Status Status
	Name   string
	Labels map[string]string
	Value  float64
	// Forced is set when the rendered value was not numeric and 0 was used.
	Forced bool
	Err    error
}

// Recorded reports whether the outcome updated a gauge.
func (o Outcome) Recorded() bool { return o.Status == StatusRecorded }

type compiledRule struct {
	Rule
	labelNames []string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for rule warnings and errors.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithStats attaches dispatch statistics.
func WithStats(stats Stats) Option {
	return func(d *Dispatcher) {
		d.stats = stats
	}
}

// WithUnmatchedLogLimit bounds how often "no rule matched" is logged.
// rate.Inf logs every occurrence.
func WithUnmatchedLogLimit(limit rate.Limit, burst int) Option {
	return func(d *Dispatcher) {
		if burst < 1 {
			burst = 1
		}
		d.unmatchedLog = rate.NewLimiter(limit, burst)
	}
}

// Dispatcher applies an ordered rule list to messages. It holds no locks;
// callers serialize Dispatch.
type Dispatcher struct {
	rules        []compiledRule
	recorder     Recorder
	stats        Stats
	logger       *slog.Logger
	unmatchedLog *rate.Limiter
}

// NewDispatcher creates a dispatcher over rules, recording into recorder.
func NewDispatcher(rules []Rule, recorder Recorder, opts ...Option) (*Dispatcher, error) {
	if recorder == nil {
		return nil, fmt.Errorf("rewrite: recorder is required")
	}
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		if r.Pattern == nil {
			return nil, fmt.Errorf("rewrite: rule %d has no pattern", i)
		}
		compiled[i] = compiledRule{Rule: r, labelNames: r.LabelNames()}
	}

	d := &Dispatcher{
		rules:        compiled,
		recorder:     recorder,
		logger:       slog.Default().With("component", "rewrite"),
		unmatchedLog: rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Len returns the number of rules.
func (d *Dispatcher) Len() int { return len(d.rules) }

// Dispatch applies the rules to one message and returns an outcome for every
// rule that matched. Rules are tried in order; a match stops evaluation
// unless that rule sets Continue.
func (d *Dispatcher) Dispatch(topic, payload string) []Outcome {
	start := time.Now()
	msg := Coerce(payload)

	var outcomes []Outcome
	for i := range d.rules {
		r := &d.rules[i]
		captures, ok := Captures(r.Pattern, topic)
		if !ok {
			continue
		}

		out := d.apply(i, r, topic, RenderContext(msg, captures))
		outcomes = append(outcomes, out)
		if d.stats != nil {
			d.stats.RewriteOutcome(out.Status.String())
		}
		if !r.Continue {
			break
		}
	}

	if len(outcomes) == 0 {
		if d.stats != nil {
			d.stats.Unmatched()
		}
		if d.unmatchedLog.Allow() {
			d.logger.Warn("No rewrite rule matched topic", "topic", topic)
		}
	}
	if d.stats != nil {
		d.stats.DispatchDuration(time.Since(start))
	}
	return outcomes
}

func (d *Dispatcher) apply(index int, r *compiledRule, topic string, ctx Value) Outcome {
	out := Outcome{Rule: index, Labels: map[string]string{}}

	out.Name = Sanitize(r.Name.String(ctx))
	if out.Name == "" {
		out.Status = StatusEmptyName
		d.logger.Warn("Rewrite resulted in empty name, no metric updated",
			"topic", topic, "rule", index)
		return out
	}

	for label, tmpl := range r.Labels {
		out.Labels[label] = tmpl.String(ctx)
	}

	// A missing value template renders Undefined, which is forced to 0 below.
	rendered := r.Value.Render(ctx)
	out.Value = rendered.ToNumber()
	if math.IsNaN(out.Value) {
		out.Value = 0
		out.Forced = true
		d.logger.Warn("Rewrite resulted in non-numeric value, recording 0",
			"topic", topic, "rule", index, "metric", out.Name, "value", rendered.String())
	}

	if err := d.recorder.Record(out.Name, r.labelNames, out.Labels, out.Value); err != nil {
		out.Status = StatusRecordFailed
		out.Err = err
		d.logger.Error("Could not record metric",
			"topic", topic, "rule", index, "metric", out.Name, "error", err)
		return out
	}

	out.Status = StatusRecorded
	if d.logger.Enabled(context.Background(), slog.LevelDebug) {
		d.logger.Debug("Recorded metric",
			"topic", topic, "metric", out.Name, "labels", out.Labels, "value", out.Value)
	}
	return out
}
