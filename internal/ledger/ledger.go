package ledger

import (
	"log/slog"

	"grantflow/internal/events"
	"grantflow/internal/ledger/metrics"
	"grantflow/internal/ledger/service"
	"grantflow/internal/token"
)

// Service exposes pool creation, funding, and the strategy debit primitive.
type Service = service.Service

// PoolStore is the persistence contract the ledger runs on.
type PoolStore = service.PoolStore

// FeeConfig is the funding fee policy, fixed at construction.
type FeeConfig = service.FeeConfig

// NewService constructs the pool ledger with required dependencies.
func NewService(pools PoolStore, reg service.Registry, bank token.Bank, fees FeeConfig, publisher *events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	return service.New(pools, reg, bank, fees, publisher,
		service.WithMetrics(m),
		service.WithLogger(logger),
	)
}
