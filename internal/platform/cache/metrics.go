package cache

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsMu    sync.Mutex
	hitCounter   *prometheus.CounterVec
	missCounter  *prometheus.CounterVec
	metricsSetUp bool
)

// SetupMetrics registers cache hit and miss counters once. Later calls are
// ignored.
func SetupMetrics(reg prometheus.Registerer) error {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if metricsSetUp {
		return nil
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	hits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_cache_hits_total",
		Help: "Number of versioned cache hits.",
	}, []string{"namespace"})
	misses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_cache_miss_total",
		Help: "Number of versioned cache misses.",
	}, []string{"namespace"})
	var err error
	if hits, err = register(reg, hits); err != nil {
		return err
	}
	if misses, err = register(reg, misses); err != nil {
		return err
	}
	hitCounter, missCounter, metricsSetUp = hits, misses, true
	return nil
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func recordHit(namespace string) {
	metricsMu.Lock()
	c := hitCounter
	metricsMu.Unlock()
	if c != nil {
		c.WithLabelValues(namespace).Inc()
	}
}

func recordMiss(namespace string) {
	metricsMu.Lock()
	c := missCounter
	metricsMu.Unlock()
	if c != nil {
		c.WithLabelValues(namespace).Inc()
	}
}
