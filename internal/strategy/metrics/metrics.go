package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the strategy-layer Prometheus metrics, labeled by strategy
// kind so additional variants share the series.
type Metrics struct {
	Registrations *prometheus.CounterVec
	Reviews       *prometheus.CounterVec
	Allocations   *prometheus.CounterVec
	Distributions *prometheus.CounterVec
}

// New creates and registers the strategy metrics.
func New() *Metrics {
	return &Metrics{
		Registrations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_recipient_registrations_total",
			Help: "Total recipient registrations by strategy kind",
		}, []string{"kind"}),
		Reviews: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_recipient_reviews_total",
			Help: "Total recipient review decisions by strategy kind and status",
		}, []string{"kind", "status"}),
		Allocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_allocations_total",
			Help: "Total successful allocations by strategy kind",
		}, []string{"kind"}),
		Distributions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_milestone_distributions_total",
			Help: "Total milestone distributions by strategy kind",
		}, []string{"kind"}),
	}
}
