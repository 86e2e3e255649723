// Package service hosts a set of apps behind one HTTP server: it launches
// each app, runs its queue and mounts its gateway under /<name>.
package service

import (
	"context"
	"crypto/tls"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandutsar/gradio/app"
	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/gateway"
	gatewayhttp "github.com/sandutsar/gradio/gateway/http"
	"github.com/sandutsar/gradio/health"
	"github.com/sandutsar/gradio/metric"
	"github.com/sandutsar/gradio/queue"
)

// QueueConfig enables a prediction queue per app.
type QueueConfig struct {
	Enabled  bool
	Workers  int
	Capacity int
}

type entry struct {
	app     *app.App
	queue   *queue.Queue
	gateway *gatewayhttp.Gateway
}

// Manager owns the lifecycle of every registered app.
type Manager struct {
	gatewayConfig gateway.Config
	queueConfig   QueueConfig
	registry      *metric.MetricsRegistry
	metrics       *metric.Metrics
	monitor       *health.Monitor
	tlsConfig     *tls.Config
	logger        *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	started bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithQueue gives every app a prediction queue.
func WithQueue(cfg QueueConfig) Option {
	return func(m *Manager) { m.queueConfig = cfg }
}

// WithMetricsRegistry registers queue and HTTP metrics on r.
func WithMetricsRegistry(r *metric.MetricsRegistry) Option {
	return func(m *Manager) {
		m.registry = r
		if r != nil {
			m.metrics = r.CoreMetrics()
		}
	}
}

// WithMonitor reports launch results to mon.
func WithMonitor(mon *health.Monitor) Option {
	return func(m *Manager) { m.monitor = mon }
}

// WithTLS serves HTTPS with cfg. A nil cfg serves plain HTTP.
func WithTLS(cfg *tls.Config) Option {
	return func(m *Manager) { m.tlsConfig = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates an empty manager. gw applies to every mounted app.
func NewManager(gw gateway.Config, opts ...Option) (*Manager, error) {
	if err := gw.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Manager", "NewManager", "gateway config")
	}
	m := &Manager{
		gatewayConfig: gw,
		entries:       make(map[string]*entry),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.monitor == nil {
		m.monitor = health.NewMonitor("gradio")
	}
	m.logger = m.logger.With("component", "service-manager")
	return m, nil
}

// Register adds a. Names must be unique; registration closes once the
// manager has started.
func (m *Manager) Register(a *app.App) error {
	if a == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "Register", "app is required")
	}
	name := a.Name()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Register", "register "+name)
	}
	if _, exists := m.entries[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: app %s already registered", errors.ErrInvalidConfig, name),
			"Manager", "Register", "register "+name)
	}

	e := &entry{app: a}
	gwOpts := []gatewayhttp.Option{gatewayhttp.WithLogger(m.logger), gatewayhttp.WithMetrics(m.metrics)}
	if m.queueConfig.Enabled {
		qOpts := []queue.Option{
			queue.WithWorkers(m.queueConfig.Workers),
			queue.WithCapacity(m.queueConfig.Capacity),
			queue.WithLogger(m.logger),
			queue.WithMetrics(m.metrics),
		}
		if m.registry != nil {
			qOpts = append(qOpts, queue.WithRegistry(m.registry))
		}
		q, err := queue.New(name, gatewayhttp.QueueHandler(a), qOpts...)
		if err != nil {
			return errors.Wrap(err, "Manager", "Register", "create queue for "+name)
		}
		e.queue = q
		gwOpts = append(gwOpts, gatewayhttp.WithQueue(q))
	}

	gw, err := gatewayhttp.NewGateway(a, m.gatewayConfig, gwOpts...)
	if err != nil {
		return errors.Wrap(err, "Manager", "Register", "create gateway for "+name)
	}
	e.gateway = gw

	m.entries[name] = e
	m.order = append(m.order, name)
	m.monitor.Update(name, health.NewDegraded(name, "registered"))
	m.logger.Debug("App registered", "app", name, "queue", e.queue != nil)
	return nil
}

// Get returns the app registered under name.
func (m *Manager) Get(name string) (*app.App, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, false
	}
	return e.app, true
}

// Names returns app names in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// StartAll launches every app and starts its queue. The first launch
// failure is returned and marks that app unhealthy.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "StartAll", "start")
	}
	m.started = true
	entries := make([]*entry, 0, len(m.order))
	for _, name := range m.order {
		entries = append(entries, m.entries[name])
	}
	m.mu.Unlock()

	for _, e := range entries {
		name := e.app.Name()
		start := time.Now()
		if err := e.app.Launch(ctx); err != nil {
			m.monitor.Update(name, health.NewUnhealthy(name, err))
			m.logger.Error("App launch failed", "app", name, "error", err)
			return errors.Wrap(err, "Manager", "StartAll", "launch "+name)
		}
		if e.queue != nil {
			if err := e.queue.Start(ctx); err != nil {
				m.monitor.Update(name, health.NewUnhealthy(name, err))
				return errors.Wrap(err, "Manager", "StartAll", "start queue for "+name)
			}
		}
		m.monitor.Update(name, health.NewHealthy(name, "launched"))
		m.logger.Info("App started", "app", name, "duration_ms", time.Since(start).Milliseconds())
	}
	return nil
}

// StopAll stops queues and closes apps in reverse registration order.
func (m *Manager) StopAll(timeout time.Duration) error {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		entries = append(entries, m.entries[m.order[i]])
	}
	m.mu.Unlock()

	var errs []error
	for _, e := range entries {
		name := e.app.Name()
		if e.queue != nil {
			if err := e.queue.Stop(timeout); err != nil {
				errs = append(errs, errors.Wrap(err, "Manager", "StopAll", "stop queue for "+name))
			}
		}
		if err := e.app.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "Manager", "StopAll", "close "+name))
		}
		m.monitor.Remove(name)
		m.logger.Debug("App stopped", "app", name)
	}
	return stderrors.Join(errs...)
}

// Handler mounts every app gateway under /<name>, the aggregate health
// report under /health and the app list under /.
func (m *Manager) Handler() http.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r := chi.NewRouter()
	r.Get("/", m.handleIndex)
	r.Method(http.MethodGet, "/health", m.monitor.Handler())
	for _, name := range m.order {
		r.Mount("/"+name, m.entries[name].gateway.Handler())
	}
	return r
}

func (m *Manager) handleIndex(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	apps := make([]map[string]any, 0, len(m.order))
	for _, name := range m.order {
		e := m.entries[name]
		apps = append(apps, map[string]any{
			"name":  name,
			"path":  "/" + name,
			"queue": e.queue != nil,
		})
	}
	m.mu.RUnlock()
	writeJSON(w, map[string]any{"apps": apps})
}

// Serve runs an HTTP server for Handler on addr until ctx is cancelled.
func (m *Manager) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		TLSConfig:         m.tlsConfig,
	}

	errCh := make(chan error, 1)
	go func() {
		m.logger.Info("HTTP server listening", "addr", addr, "apps", m.Names(), "tls", m.tlsConfig != nil)
		var err error
		if m.tlsConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.WrapFatal(err, "Manager", "Serve", "listen on "+addr)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "Manager", "Serve", "shutdown")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
