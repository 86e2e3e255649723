// Package examplecache serves predictions for an interface's bundled
// examples. A computed example is persisted to a storage.Table and fronted
// by an in-memory LRU; later requests for it return the stored outputs
// without running any function.
package examplecache

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/metric"
	"github.com/sandutsar/gradio/pipeline"
	"github.com/sandutsar/gradio/pkg/cache"
	"github.com/sandutsar/gradio/pkg/retry"
	"github.com/sandutsar/gradio/storage"
)

// DefaultLRUSize bounds the in-memory copy of the table.
const DefaultLRUSize = 128

// Cache maps example indices to predictions.
type Cache struct {
	iface    *pipeline.Interface
	examples [][]any
	table    storage.Table
	hot      cache.Cache[storage.Record]
	retry    retry.Config
	logger   *slog.Logger
	metrics  *metric.Metrics
}

type options struct {
	lruSize  int
	registry metric.MetricsRegistrar
	metrics  *metric.Metrics
	logger   *slog.Logger
	retry    retry.Config
}

// Option configures a Cache.
type Option func(*options)

// WithLRUSize sets how many computed examples stay in memory.
func WithLRUSize(n int) Option {
	return func(o *options) { o.lruSize = n }
}

// WithRegistry exports the LRU statistics.
func WithRegistry(registry metric.MetricsRegistrar) Option {
	return func(o *options) { o.registry = registry }
}

// WithMetrics counts hits and computations.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRetry sets the backoff used when persisting computed examples.
func WithRetry(cfg retry.Config) Option {
	return func(o *options) { o.retry = cfg }
}

// New creates a cache over examples, one raw input tuple per example. A nil
// table keeps computed examples in memory only.
func New(iface *pipeline.Interface, examples [][]any, table storage.Table, opts ...Option) (*Cache, error) {
	o := options{lruSize: DefaultLRUSize, logger: slog.Default(), retry: retry.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if iface == nil {
		return nil, errors.NewConfiguration("example cache needs an interface")
	}
	for i, ex := range examples {
		if len(ex) != len(iface.Inputs()) {
			return nil, errors.NewConfiguration("example %d has %d values, interface %q takes %d",
				i, len(ex), iface.Name(), len(iface.Inputs()))
		}
	}
	if table == nil {
		table = storage.NewMemoryTable()
	}

	var cacheOpts []cache.Option[storage.Record]
	if o.registry != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics[storage.Record](o.registry, "examples."+iface.Name()))
	}
	hot, err := cache.NewLRU(o.lruSize, cacheOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "examplecache", "New", "create LRU")
	}

	o.retry.Retryable = errors.IsTransient
	return &Cache{
		iface:    iface,
		examples: examples,
		table:    table,
		hot:      hot,
		retry:    o.retry,
		logger:   o.logger.With("interface", iface.Name(), "component", "examplecache"),
		metrics:  o.metrics,
	}, nil
}

// Len returns the number of examples.
func (c *Cache) Len() int { return len(c.examples) }

// Example returns the raw inputs of example index.
func (c *Cache) Example(index int) ([]any, error) {
	if index < 0 || index >= len(c.examples) {
		return nil, errors.NewInvalidInput(-1, fmt.Sprintf("example %d out of range [0,%d)", index, len(c.examples)),
			errors.ErrUnknownExample)
	}
	return c.examples[index], nil
}

// Compute runs the pipeline on example index without consulting or
// updating the cache.
func (c *Cache) Compute(ctx context.Context, index int) (*pipeline.Prediction, error) {
	raw, err := c.Example(index)
	if err != nil {
		return nil, err
	}
	return c.iface.Process(ctx, "", raw)
}

// GetOrCompute returns the cached prediction for example index, with nil
// durations. On a miss it runs the pipeline, persists the outputs and
// returns the fresh durations. Concurrent misses for the same index may
// each compute; the last write wins.
func (c *Cache) GetOrCompute(ctx context.Context, index int) (*pipeline.Prediction, error) {
	if _, err := c.Example(index); err != nil {
		return nil, err
	}

	rec, err := c.lookup(ctx, index)
	switch {
	case err == nil:
		c.observe(true)
		return c.fromRecord(rec), nil
	case !stderrors.Is(err, errors.ErrCacheMiss):
		return nil, err
	}

	pred, err := c.Compute(ctx, index)
	if err != nil {
		return nil, err
	}
	if err := c.store(ctx, index, pred); err != nil {
		return nil, err
	}
	c.observe(false)
	return pred, nil
}

// Precompute fills the cache with every example, stopping at the first
// failure.
func (c *Cache) Precompute(ctx context.Context) error {
	for i := range c.examples {
		if _, err := c.GetOrCompute(ctx, i); err != nil {
			return errors.Wrap(err, "examplecache", "Precompute", "cache example "+strconv.Itoa(i))
		}
	}
	c.logger.Info("Examples cached", "count", len(c.examples))
	return nil
}

// Close closes the backing table.
func (c *Cache) Close() error {
	_ = c.hot.Close()
	return c.table.Close()
}

func (c *Cache) lookup(ctx context.Context, index int) (storage.Record, error) {
	key := strconv.Itoa(index)
	if rec, ok := c.hot.Get(key); ok {
		return rec, nil
	}
	rec, err := c.table.Load(ctx, index)
	if stderrors.Is(err, errors.ErrRecordNotFound) {
		return storage.Record{}, errors.ErrCacheMiss
	}
	if err != nil {
		return storage.Record{}, errors.Wrap(err, "examplecache", "GetOrCompute", "load cached example")
	}
	if _, err := c.hot.Set(key, rec); err != nil {
		c.logger.Warn("Failed to warm example LRU", "index", index, "error", err)
	}
	return rec, nil
}

func (c *Cache) store(ctx context.Context, index int, pred *pipeline.Prediction) error {
	outputs := append([]any(nil), pred.Outputs...)
	if _, stateOut := c.iface.StateIndices(); stateOut >= 0 {
		outputs[stateOut] = pred.State
	}
	rec := storage.Record{Index: index, Inputs: c.examples[index], Outputs: outputs}

	err := retry.Do(ctx, c.retry, func() error {
		return c.table.Store(ctx, index, rec)
	})
	if err != nil {
		return errors.Wrap(err, "examplecache", "GetOrCompute", "persist example")
	}
	if _, err := c.hot.Set(strconv.Itoa(index), rec); err != nil {
		c.logger.Warn("Failed to warm example LRU", "index", index, "error", err)
	}
	return nil
}

func (c *Cache) fromRecord(rec storage.Record) *pipeline.Prediction {
	pred := &pipeline.Prediction{Outputs: append([]any(nil), rec.Outputs...)}
	if _, stateOut := c.iface.StateIndices(); stateOut >= 0 && stateOut < len(pred.Outputs) {
		pred.State = pred.Outputs[stateOut]
		pred.Outputs[stateOut] = nil
	}
	return pred
}

func (c *Cache) observe(hit bool) {
	if c.metrics != nil {
		c.metrics.RecordExampleLookup(c.iface.Name(), hit)
	}
}
