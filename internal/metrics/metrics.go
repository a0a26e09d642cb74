// Package metrics defines the Prometheus collectors the chunk cache
// publishes (spec §4.F's CacheStats, extended with counters per
// SPEC_FULL.md §3). A Collectors value is optional: the cache works with a
// nil *Collectors, it just doesn't record anything.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups the counters and gauges the chunk cache updates.
type Collectors struct {
	Hits       prometheus.Counter
	Misses     prometheus.Counter
	Evictions  prometheus.Counter
	Flushes    prometheus.Counter
	TotalBytes prometheus.Gauge
}

// New constructs a Collectors registered under the given namespace/subsystem.
// Register them with a prometheus.Registerer separately; New only builds
// the metric objects.
func New(namespace, subsystem string) *Collectors {
	return &Collectors{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "chunk_cache_hits_total",
			Help: "Chunk reads served from cache.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "chunk_cache_misses_total",
			Help: "Chunk reads that required loading from storage.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "chunk_cache_evictions_total",
			Help: "Cache entries evicted to make room.",
		}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "chunk_cache_flushes_total",
			Help: "Dirty chunks written back to storage.",
		}),
		TotalBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "chunk_cache_bytes",
			Help: "Bytes currently held in the chunk cache.",
		}),
	}
}

// Describe and Collect implement prometheus.Collector by delegating to each
// metric, so a *Collectors can be registered directly with a registry.
func (c *Collectors) Describe(ch chan<- *prometheus.Desc) {
	if c == nil {
		return
	}
	for _, m := range c.all() {
		m.Describe(ch)
	}
}

func (c *Collectors) Collect(ch chan<- prometheus.Metric) {
	if c == nil {
		return
	}
	for _, m := range c.all() {
		m.Collect(ch)
	}
}

func (c *Collectors) all() []prometheus.Collector {
	return []prometheus.Collector{c.Hits, c.Misses, c.Evictions, c.Flushes, c.TotalBytes}
}

func (c *Collectors) incHit() {
	if c != nil {
		c.Hits.Inc()
	}
}

func (c *Collectors) incMiss() {
	if c != nil {
		c.Misses.Inc()
	}
}

func (c *Collectors) incEviction() {
	if c != nil {
		c.Evictions.Inc()
	}
}

func (c *Collectors) incFlush() {
	if c != nil {
		c.Flushes.Inc()
	}
}

func (c *Collectors) setBytes(n float64) {
	if c != nil {
		c.TotalBytes.Set(n)
	}
}

// RecordHit, RecordMiss, RecordEviction, RecordFlush, and SetBytes are the
// nil-safe entry points the cache package calls; c may be nil.
func (c *Collectors) RecordHit()            { c.incHit() }
func (c *Collectors) RecordMiss()           { c.incMiss() }
func (c *Collectors) RecordEviction()       { c.incEviction() }
func (c *Collectors) RecordFlush()          { c.incFlush() }
func (c *Collectors) SetBytes(n int64)      { c.setBytes(float64(n)) }
