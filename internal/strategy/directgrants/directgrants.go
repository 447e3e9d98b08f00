// Package directgrants is the direct-grants-lite allocation strategy:
// recipients register inside a fixed window, pool managers review them, and
// accepted recipients are paid by direct allocation or milestone plan.
package directgrants

import (
	"log/slog"

	"grantflow/internal/events"
	"grantflow/internal/strategy/directgrants/service"
	"grantflow/internal/strategy/metrics"
)

// Kind is the catalog name of this strategy implementation.
const Kind = service.Kind

// Service implements the strategy capability set for this variant.
type Service = service.Service

// InstanceStore is the persistence contract the strategy runs on.
type InstanceStore = service.InstanceStore

// NewService constructs the strategy with required dependencies.
func NewService(instances InstanceStore, ledger service.Ledger, reg service.Registry, publisher *events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	return service.New(instances, ledger, reg, publisher,
		service.WithMetrics(m),
		service.WithLogger(logger),
	)
}
