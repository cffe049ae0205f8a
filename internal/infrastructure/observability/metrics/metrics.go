// Package metrics exports Prometheus instrumentation for the resolver,
// the cache tiers, and the refresh scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every collector the subsystem emits. All Prometheus
// metric types are goroutine-safe.
type Registry struct {
	reg *prometheus.Registry

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions prometheus.Counter
	cacheEntries   *prometheus.GaugeVec

	resolves        *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec

	refreshes       *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	lockContention  *prometheus.CounterVec
	lockLeaks       prometheus.Counter
	changelogDrops  prometheus.Counter
}

// New constructs the metric registry. A nil registerer falls back to a
// fresh prometheus.Registry so tests never collide on duplicate names.
func New(reg *prometheus.Registry) *Registry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Registry{
		reg: reg,
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treeline",
			Name:      "cache_hits_total",
			Help:      "Cache hits by tier",
		}, []string{"tier"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treeline",
			Name:      "cache_misses_total",
			Help:      "Cache misses by tier",
		}, []string{"tier"}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "treeline",
			Name:      "cache_evictions_total",
			Help:      "LRU evictions from the local tier",
		}),
		cacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "treeline",
			Name:      "cache_entries",
			Help:      "Resident entries by tier",
		}, []string{"tier"}),
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treeline",
			Name:      "resolve_total",
			Help:      "Resolve calls by serving tier",
		}, []string{"served_from"}),
		resolveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "treeline",
			Name:      "resolve_duration_seconds",
			Help:      "Resolve latency by serving tier",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"served_from"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treeline",
			Name:      "refresh_total",
			Help:      "Refresh evaluations by view and terminal status",
		}, []string{"view", "status"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "treeline",
			Name:      "refresh_duration_seconds",
			Help:      "Snapshot refresh wall time by view and strategy",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"view", "strategy"}),
		lockContention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treeline",
			Name:      "lock_contention_total",
			Help:      "Refresh lock attempts that found the lock held",
		}, []string{"view"}),
		lockLeaks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "treeline",
			Name:      "lock_leaks_total",
			Help:      "Locks detected held beyond the leak threshold",
		}),
		changelogDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "treeline",
			Name:      "changelog_dropped_total",
			Help:      "Changelog appends dropped after retry exhaustion",
		}),
	}

	reg.MustRegister(
		m.cacheHits, m.cacheMisses, m.cacheEvictions, m.cacheEntries,
		m.resolves, m.resolveDuration,
		m.refreshes, m.refreshDuration,
		m.lockContention, m.lockLeaks, m.changelogDrops,
	)

	return m
}

// Registerer exposes the underlying registry for the /metrics handler.
func (m *Registry) Registerer() *prometheus.Registry { return m.reg }

func (m *Registry) CacheHit(tier string)  { m.cacheHits.WithLabelValues(tier).Inc() }
func (m *Registry) CacheMiss(tier string) { m.cacheMisses.WithLabelValues(tier).Inc() }
func (m *Registry) CacheEviction()        { m.cacheEvictions.Inc() }

// CacheSize updates the resident-entry gauge for a tier.
func (m *Registry) CacheSize(tier string, entries int) {
	m.cacheEntries.WithLabelValues(tier).Set(float64(entries))
}

// Resolve records one resolve call and its latency.
func (m *Registry) Resolve(servedFrom string, seconds float64) {
	m.resolves.WithLabelValues(servedFrom).Inc()
	m.resolveDuration.WithLabelValues(servedFrom).Observe(seconds)
}

// RefreshOutcome records the terminal status of one evaluation.
func (m *Registry) RefreshOutcome(view, status string) {
	m.refreshes.WithLabelValues(view, status).Inc()
}

// RefreshDuration records wall time for an executed refresh.
func (m *Registry) RefreshDuration(view, strategy string, seconds float64) {
	m.refreshDuration.WithLabelValues(view, strategy).Observe(seconds)
}

func (m *Registry) LockContention(view string) { m.lockContention.WithLabelValues(view).Inc() }
func (m *Registry) LockLeak()                  { m.lockLeaks.Inc() }
func (m *Registry) ChangelogDrop()             { m.changelogDrops.Inc() }
