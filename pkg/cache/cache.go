// Package cache provides small generic in-process caches. The state store
// keeps sessions in an unbounded simple cache; the example cache fronts its
// persisted log with a bounded LRU.
package cache

import (
	"github.com/sandutsar/gradio/errors"
)

// Cache is a concurrency-safe string-keyed cache.
type Cache[V any] interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (V, bool)

	// Set stores value under key. It reports whether a new entry was created.
	Set(key string, value V) (bool, error)

	// Delete removes key. It reports whether the key was present.
	Delete(key string) (bool, error)

	Clear() error
	Size() int
	Keys() []string
	Stats() *Statistics
	Close() error
}

// EvictCallback is invoked when an entry is evicted or removed.
type EvictCallback[V any] func(key string, value V)

// NewSimple creates a cache with no eviction.
func NewSimple[V any](options ...Option[V]) (Cache[V], error) {
	return newSimpleCache(applyOptions(options...))
}

// NewLRU creates a cache that evicts the least recently used entry once it
// holds more than maxSize entries.
func NewLRU[V any](maxSize int, options ...Option[V]) (Cache[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewLRU", "validate max size")
	}
	return newLRUCache(maxSize, applyOptions(options...))
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidInput, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}

// observer fans cache events out to the statistics and, when enabled, to
// Prometheus.
type observer struct {
	stats   *Statistics
	metrics *cacheMetrics
}

func newObserver[V any](opts *cacheOptions[V], method string) (observer, error) {
	o := observer{stats: NewStatistics()}
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		m, err := newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return o, errors.WrapTransient(err, "cache", method, "metrics registration")
		}
		o.metrics = m
	}
	return o, nil
}

func (o observer) hit() {
	o.stats.Hit()
	if o.metrics != nil {
		o.metrics.hits.Inc()
	}
}

func (o observer) miss() {
	o.stats.Miss()
	if o.metrics != nil {
		o.metrics.misses.Inc()
	}
}

func (o observer) set(size int) {
	o.stats.Set()
	o.stats.UpdateSize(int64(size))
	if o.metrics != nil {
		o.metrics.sets.Inc()
		o.metrics.size.Set(float64(size))
	}
}

func (o observer) deleted(size int) {
	o.stats.Delete()
	o.stats.UpdateSize(int64(size))
	if o.metrics != nil {
		o.metrics.deletes.Inc()
		o.metrics.size.Set(float64(size))
	}
}

func (o observer) evicted() {
	o.stats.Eviction()
	if o.metrics != nil {
		o.metrics.evictions.Inc()
	}
}
