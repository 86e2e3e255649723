package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sandutsar/gradio/metric"
)

type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	deletes   prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

func newCacheMetrics(registry metric.MetricsRegistrar, prefix string) (*cacheMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "gradio",
			Subsystem:   "cache",
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"cache": prefix},
		})
	}

	m := &cacheMetrics{
		hits:      counter("hits_total", "Cache hits"),
		misses:    counter("misses_total", "Cache misses"),
		sets:      counter("sets_total", "Cache writes"),
		deletes:   counter("deletes_total", "Cache deletes"),
		evictions: counter("evictions_total", "Cache evictions"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "gradio",
			Subsystem:   "cache",
			Name:        "size",
			Help:        "Entries currently cached",
			ConstLabels: prometheus.Labels{"cache": prefix},
		}),
	}

	for name, c := range map[string]prometheus.Counter{
		"cache_hits":      m.hits,
		"cache_misses":    m.misses,
		"cache_sets":      m.sets,
		"cache_deletes":   m.deletes,
		"cache_evictions": m.evictions,
	} {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}
	return m, nil
}
