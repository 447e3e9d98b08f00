package registry

import (
	"log/slog"

	"grantflow/internal/events"
	"grantflow/internal/registry/metrics"
	"grantflow/internal/registry/service"
)

// Service exposes profile creation, membership, and ownership checks.
type Service = service.Service

// ProfileStore is the persistence contract the registry runs on.
type ProfileStore = service.ProfileStore

// NewService constructs the identity registry with required dependencies.
func NewService(profiles ProfileStore, publisher *events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	return service.New(profiles, publisher,
		service.WithMetrics(m),
		service.WithLogger(logger),
	)
}
