// Package main runs the gradio server: it loads the configuration, builds
// every declared interface and serves them over HTTP until interrupted.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandutsar/gradio/componentregistry"
	"github.com/sandutsar/gradio/config"
	"github.com/sandutsar/gradio/health"
	"github.com/sandutsar/gradio/metric"
	"github.com/sandutsar/gradio/pkg/tlsutil"
	"github.com/sandutsar/gradio/service"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "gradio"
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

	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return err
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		return nil
	}

	logger := setupLogger(stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid", "interfaces", len(cfg.Interfaces))
		return nil
	}

	logger.Info("Starting gradio",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"storage", cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger, cliCfg.ShutdownTimeout)
}

// loadConfig loads the file at path, or the defaults plus the built-in demo
// interfaces when path is empty.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	loader.EnableValidation(false)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if len(cfg.Interfaces) == 0 {
		cfg.Interfaces = defaultInterfaces()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor(appName)

	b, err := openBackend(ctx, cfg, registry, monitor, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.Close(closeCtx); err != nil {
			logger.Warn("Storage backend close failed", "error", err)
		}
	}()

	manager, err := newManager(cfg, b, registry, monitor, logger)
	if err != nil {
		return err
	}

	if err := manager.StartAll(ctx); err != nil {
		_ = manager.StopAll(shutdownTimeout)
		return fmt.Errorf("start apps: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return manager.Serve(gctx, cfg.Server.Addr())
	})

	if cfg.Server.MetricsPort > 0 {
		metricsServer := metric.NewServer(cfg.Server.MetricsPort, cfg.Server.MetricsPath, registry)
		g.Go(metricsServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Stop(stopCtx)
		})
		logger.Info("Metrics available", "address", metricsServer.Address())
	}

	logger.Info("gradio started", "addr", cfg.Server.Addr(), "apps", manager.Names())
	err = g.Wait()
	logger.Info("Shutting down")

	if stopErr := manager.StopAll(shutdownTimeout); stopErr != nil {
		logger.Error("Error stopping apps", "error", stopErr)
		if err == nil {
			err = stopErr
		}
	}
	logger.Info("gradio shutdown complete")
	return err
}

func newManager(cfg *config.Config, b *backend, registry *metric.MetricsRegistry,
	monitor *health.Monitor, logger *slog.Logger,
) (*service.Manager, error) {
	components, err := componentregistry.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("register components: %w", err)
	}

	tlsConfig, err := tlsutil.LoadServerTLSConfig(cfg.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("load TLS config: %w", err)
	}

	manager, err := service.NewManager(cfg.Gateway,
		service.WithQueue(service.QueueConfig{
			Enabled:  cfg.Queue.Enabled,
			Workers:  cfg.Queue.Workers,
			Capacity: cfg.Queue.Capacity,
		}),
		service.WithMetricsRegistry(registry),
		service.WithMonitor(monitor),
		service.WithTLS(tlsConfig),
		service.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	builder := &appBuilder{
		components: components,
		backend:    b,
		registry:   registry,
		metrics:    registry.CoreMetrics(),
		logger:     logger,
	}
	for _, ic := range cfg.Interfaces {
		a, err := builder.build(ic)
		if err != nil {
			_ = manager.StopAll(time.Second)
			return nil, fmt.Errorf("build interface %s: %w", ic.Name, err)
		}
		if err := manager.Register(a); err != nil {
			_ = a.Close()
			_ = manager.StopAll(time.Second)
			return nil, err
		}
	}
	return manager, nil
}
