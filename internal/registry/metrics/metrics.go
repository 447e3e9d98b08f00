package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the registry's Prometheus metrics.
type Metrics struct {
	ProfilesCreated prometheus.Counter
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
}

// New creates and registers the registry metrics.
func New() *Metrics {
	return &Metrics{
		ProfilesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grantflow_profiles_created_total",
			Help: "Total number of profiles created",
		}),
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_profile_cache_hits_total",
			Help: "Profile cache hits by lookup kind",
		}, []string{"lookup"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_profile_cache_misses_total",
			Help: "Profile cache misses by lookup kind",
		}, []string{"lookup"}),
	}
}

// IncrementProfilesCreated increments the profiles created counter by 1.
func (m *Metrics) IncrementProfilesCreated() {
	m.ProfilesCreated.Inc()
}
