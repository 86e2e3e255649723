package cache

import (
	"github.com/sandutsar/gradio/metric"
)

// Option configures a cache.
type Option[V any] func(*cacheOptions[V])

type cacheOptions[V any] struct {
	metricsReg    metric.MetricsRegistrar
	metricsPrefix string
	evictCallback EvictCallback[V]
}

// WithMetrics exports cache statistics under prefix. Both arguments must be
// set for metrics to be enabled.
func WithMetrics[V any](registry metric.MetricsRegistrar, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback registers a callback for evicted and deleted entries.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
