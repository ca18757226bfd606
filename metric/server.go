package metric

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slybit/mqtt2prom/errors"
	"github.com/slybit/mqtt2prom/health"
)

// Defaults for the scrape endpoint.
const (
	DefaultPort = 6000
	DefaultPath = "/metrics"
)

// Server exposes the registry for scraping.
type Server struct {
	port     int
	path     string
	registry *Registry
	monitor  *health.Monitor
	logger   *slog.Logger

	mu       sync.Mutex // protects server, listener and stopped
	server   *http.Server
	listener net.Listener
	stopped  bool
}

// NewServer creates a scrape server. A zero port or empty path selects the
// defaults; a path without a leading slash gets one. monitor may be nil.
func NewServer(port int, path string, registry *Registry, monitor *health.Monitor, logger *slog.Logger) *Server {
	if port == 0 {
		port = DefaultPort
	}
	path = NormalizePath(path)
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		port:     port,
		path:     path,
		registry: registry,
		monitor:  monitor,
		logger:   logger.With("component", "metrics-server"),
	}
}

// NormalizePath returns path with a leading slash, or DefaultPath when empty.
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || path == "/" {
		return DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// Handler returns the HTTP handler serving metrics, /health and the index.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
		},
	))

	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html>
<head><title>mqtt2prom</title></head>
<body>
<h1>mqtt2prom</h1>
<p><a href="%s">Metrics</a></p>
<p><a href="/health">Health</a></p>
</body>
</html>`, html.EscapeString(s.path))
	})

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := health.NewHealthy("mqtt2prom", "ok")
	if s.monitor != nil {
		status = s.monitor.AggregateHealth("mqtt2prom")
	}

	w.Header().Set("Content-Type", "application/json")
	if status.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Debug("Failed to write health response", "error", err)
	}
}

// Start binds the port and serves until Stop is called. It returns nil after
// a graceful stop, and at once when Stop already ran.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start",
			"cannot start server that is already running")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(fmt.Errorf("nil registry"), "Server", "Start",
			"metrics registry not provided")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("listen on port %d", s.port))
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.server = server
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("Metrics server listening", "address", listener.Addr().String(), "path", s.path)
	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Server", "Start", "serve metrics")
	}
	return nil
}

// Stop shuts the server down, waiting for in-flight scrapes until ctx ends.
// A stopped server cannot be started again.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.stopped = true
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shutdown HTTP server")
	}
	return nil
}

// Addr returns the bound address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Address returns the scrape URL.
func (s *Server) Address() string {
	return fmt.Sprintf("http://localhost:%d%s", s.port, s.path)
}
