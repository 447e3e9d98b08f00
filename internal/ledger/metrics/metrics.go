package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger's Prometheus metrics.
type Metrics struct {
	PoolsCreated  prometheus.Counter
	FundsCredited prometheus.Counter
	FeesCollected prometheus.Counter
	FundsDebited  prometheus.Counter
}

// New creates and registers the ledger metrics.
func New() *Metrics {
	return &Metrics{
		PoolsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grantflow_pools_created_total",
			Help: "Total number of pools created",
		}),
		FundsCredited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grantflow_pool_credits_total",
			Help: "Total net amount credited to pools",
		}),
		FeesCollected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grantflow_fees_collected_total",
			Help: "Total fees transferred to the treasury",
		}),
		FundsDebited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grantflow_pool_debits_total",
			Help: "Total amount debited from pools",
		}),
	}
}
