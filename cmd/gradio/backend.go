package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/sandutsar/gradio/config"
	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/health"
	"github.com/sandutsar/gradio/metric"
	"github.com/sandutsar/gradio/natsclient"
	"github.com/sandutsar/gradio/state"
	"github.com/sandutsar/gradio/storage"
	"github.com/sandutsar/gradio/storage/filelog"
	"github.com/sandutsar/gradio/storage/kvlog"
)

const kvTimeout = 5 * time.Second

// backend hands out the session store, flag log and example table of each
// interface from the configured storage backend.
type backend struct {
	cfg    config.StorageConfig
	memory *state.MemoryStore
	nats   *natsclient.Client
	kv     *natsclient.KVStore
}

func openBackend(ctx context.Context, cfg *config.Config, registry *metric.MetricsRegistry,
	monitor *health.Monitor, logger *slog.Logger,
) (*backend, error) {
	b := &backend{cfg: cfg.Storage}

	if cfg.Storage.Backend != config.StorageNATS {
		ms, err := state.NewMemoryStore(registry)
		if err != nil {
			return nil, errors.Wrap(err, "backend", "open", "create session store")
		}
		b.memory = ms
		monitor.Update("storage", health.NewHealthy("storage", cfg.Storage.Backend))
		return b, nil
	}

	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				monitor.Update("nats", health.NewHealthy("nats", "connected"))
			} else {
				monitor.Update("nats", health.NewUnhealthy("nats", errors.ErrNoConnection))
			}
		}),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "backend", "open", "create NATS client")
	}

	logger.Info("Connecting to NATS", "url", cfg.NATS.URL)
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Connect(connCtx); err != nil {
		return nil, errors.Wrap(err, "backend", "open", "connect to NATS")
	}

	bucket, err := client.CreateKeyValueBucket(connCtx, jetstream.KeyValueConfig{
		Bucket:      cfg.NATS.Bucket,
		Description: "gradio sessions, flags and cached examples",
		History:     1,
	})
	if err != nil {
		_ = client.Close(ctx)
		return nil, errors.Wrap(err, "backend", "open", "open bucket "+cfg.NATS.Bucket)
	}

	b.nats = client
	b.kv = natsclient.NewKVStore(bucket, kvTimeout)
	monitor.Update("nats", health.NewHealthy("nats", "connected"))
	return b, nil
}

func (b *backend) stateStore(iface string) state.Store {
	if b.kv != nil {
		return state.NewKVStore(b.kv, "state."+iface)
	}
	return state.Scoped(b.memory, iface)
}

func (b *backend) flagLog(iface string, inputs, outputs []string) (storage.Log, error) {
	switch {
	case b.kv != nil:
		return kvlog.NewLog(b.kv, "flags."+iface), nil
	case b.cfg.Backend == config.StorageFile:
		return filelog.OpenCSVLog(filepath.Join(b.cfg.FlaggingDir, iface, "log.csv"), inputs, outputs)
	default:
		return storage.NewMemoryLog(), nil
	}
}

func (b *backend) exampleTable(iface string) (storage.Table, error) {
	switch {
	case b.kv != nil:
		return kvlog.NewTable(b.kv, "examples."+iface), nil
	case b.cfg.Backend == config.StorageFile:
		return filelog.OpenJSONTable(filepath.Join(b.cfg.ExamplesDir, iface, "log.jsonl"))
	default:
		return storage.NewMemoryTable(), nil
	}
}

func (b *backend) Close(ctx context.Context) error {
	if b.nats == nil {
		return nil
	}
	return b.nats.Close(ctx)
}
