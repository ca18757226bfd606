// Package main implements the entry point for mqtt2prom, which turns MQTT
// or NATS messages into Prometheus gauges through ordered rewrite rules.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/slybit/mqtt2prom/bridge"
	"github.com/slybit/mqtt2prom/config"
	"github.com/slybit/mqtt2prom/health"
	mqttinput "github.com/slybit/mqtt2prom/input/mqtt"
	natsinput "github.com/slybit/mqtt2prom/input/nats"
	"github.com/slybit/mqtt2prom/metric"
	"github.com/slybit/mqtt2prom/rewrite"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "mqtt2prom"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// input is a transport feeding the bridge queue.
type input interface {
	Run(ctx context.Context) error
}

// app holds the wired components of one process.
type app struct {
	cfg        *config.Config
	bridge     *bridge.Bridge
	queue      chan bridge.Message
	input      input
	server     *metric.Server
	dispatcher *rewrite.Dispatcher
}

func run(args []string) error {
	cliCfg, fs, err := parseFlags(args)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(os.Stdout, fs)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting mqtt2prom",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	for _, name := range cfg.LabelConflicts() {
		slog.Warn("Rules with the same metric name use different labels, the first one recorded wins",
			"name", name)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "rules", len(cfg.Rewrites), "transport", cfg.Transport)
		return nil
	}

	a, err := build(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.run(ctx, cliCfg.ShutdownTimeout)
}

// loadConfig loads configuration from the specified file path
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// build wires the registry, dispatcher, bridge, transport and server.
func build(cfg *config.Config, logger *slog.Logger) (*app, error) {
	var registryOpts []metric.RegistryOption
	if cfg.Prometheus.RuntimeMetrics {
		registryOpts = append(registryOpts, metric.WithRuntimeCollectors())
	}
	registry := metric.NewRegistry(registryOpts...)
	cache := metric.NewGaugeCache(registry)
	monitor := health.NewMonitor()

	var selfMetrics *metric.BridgeMetrics
	if cfg.Prometheus.SelfMetrics {
		m, err := metric.NewBridgeMetrics(registry, cache)
		if err != nil {
			return nil, fmt.Errorf("register self metrics: %w", err)
		}
		selfMetrics = m
	}

	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}

	dispatcherOpts := []rewrite.Option{
		rewrite.WithLogger(logger.With("component", "rewrite")),
		rewrite.WithUnmatchedLogLimit(unmatchedLimit(cfg.Log.UnmatchedPerSecond), 1),
	}
	if selfMetrics != nil {
		dispatcherOpts = append(dispatcherOpts, rewrite.WithStats(selfMetrics))
	}
	dispatcher, err := rewrite.NewDispatcher(rules, cache, dispatcherOpts...)
	if err != nil {
		return nil, err
	}

	queue := make(chan bridge.Message, bridge.DefaultQueueSize)
	b := bridge.New(dispatcher,
		bridge.WithRetained(cfg.Retained),
		bridge.WithMetrics(selfMetrics),
		bridge.WithHealth(monitor),
		bridge.WithLogger(logger.With("component", bridge.HealthComponent)),
	)

	in, err := newInput(cfg, queue, selfMetrics, monitor, logger)
	if err != nil {
		return nil, err
	}

	server := metric.NewServer(cfg.Prometheus.Port, cfg.Prometheus.Path, registry, monitor,
		logger.With("component", "metric.server"))

	return &app{
		cfg:        cfg,
		bridge:     b,
		queue:      queue,
		input:      in,
		server:     server,
		dispatcher: dispatcher,
	}, nil
}

func unmatchedLimit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

func newInput(
	cfg *config.Config,
	queue chan<- bridge.Message,
	metrics *metric.BridgeMetrics,
	monitor *health.Monitor,
	logger *slog.Logger,
) (input, error) {
	switch cfg.Transport {
	case config.TransportNATS:
		return natsinput.New(cfg.NATS, cfg.Topics, queue,
			natsinput.WithMetrics(metrics),
			natsinput.WithHealth(monitor),
			natsinput.WithLogger(logger.With("component", "input.nats")),
		)
	default:
		return mqttinput.New(cfg.MQTT, cfg.Topics, queue,
			mqttinput.WithMetrics(metrics),
			mqttinput.WithHealth(monitor),
			mqttinput.WithLogger(logger.With("component", "input.mqtt")),
		)
	}
}

// run starts the server, the bridge and the transport and blocks until ctx
// is done or one of them fails.
func (a *app) run(ctx context.Context, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Stop(shutdownCtx)
	})
	g.Go(func() error {
		return a.bridge.Run(gctx, a.queue)
	})
	g.Go(func() error {
		return a.input.Run(gctx)
	})

	slog.Info("mqtt2prom started",
		"transport", a.cfg.Transport,
		"topics", a.cfg.Topics,
		"rules", a.dispatcher.Len(),
		"metrics_url", a.server.Address())

	err := g.Wait()
	dispatched, suppressed := a.bridge.Stats()
	slog.Info("mqtt2prom stopped", "dispatched", dispatched, "suppressed", suppressed)
	return err
}
