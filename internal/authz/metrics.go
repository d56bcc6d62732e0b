package authz

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics observes the resolution cache and the underlying batched reads.
type Metrics struct {
	hits            prometheus.Counter
	misses          prometheus.Counter
	resolveDuration prometheus.Histogram
	denialsByKind   *prometheus.CounterVec
}

// NewMetrics registers the authz collectors on the given registerer. Passing
// nil uses the default registerer. Registration is tolerant of duplicates so
// tests can build multiple caches against one registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealerdesk_authz_cache_hits_total",
			Help: "Number of resolution cache hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealerdesk_authz_cache_miss_total",
			Help: "Number of resolution cache misses.",
		}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealerdesk_authz_resolve_duration_seconds",
			Help:    "Duration of effective permission set resolutions.",
			Buckets: prometheus.DefBuckets,
		}),
		denialsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealerdesk_authz_error_denials_total",
			Help: "Guard denials caused by resolution errors, by error kind.",
		}, []string{"kind"}),
	}
	m.hits = registerCounter(reg, m.hits)
	m.misses = registerCounter(reg, m.misses)
	m.resolveDuration = registerHistogram(reg, m.resolveDuration)
	m.denialsByKind = registerCounterVec(reg, m.denialsByKind)
	return m
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter) prometheus.Counter {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
	}
	return c
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram) prometheus.Histogram {
	if err := reg.Register(h); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(prometheus.Histogram); ok {
				return existing
			}
		}
	}
	return h
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) observeResolve(d time.Duration) {
	if m != nil {
		m.resolveDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) errorDenial(kind string) {
	if m != nil {
		m.denialsByKind.WithLabelValues(kind).Inc()
	}
}
