// Package httptransport is the thin JSON layer over the orchestrator. It
// decodes and validates requests at the trust boundary, delegates to the
// engine, and translates coded errors into HTTP responses. No business logic
// lives here.
package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ledgermodels "grantflow/internal/ledger/models"
	"grantflow/internal/platform/metrics"
	"grantflow/internal/platform/middleware"
	registrymodels "grantflow/internal/registry/models"
	"grantflow/internal/strategy"
	"grantflow/pkg/domain"
)

// Service is the orchestrator surface the handlers delegate to.
type Service interface {
	CreateProfile(ctx context.Context, nonce uint64, name string, metadata domain.Metadata, owner domain.Address, members []domain.Address) (*registrymodels.Profile, error)
	UpdateProfileMembers(ctx context.Context, profileID domain.ProfileID, add, remove []domain.Address) (*registrymodels.Profile, error)
	GetProfileByID(ctx context.Context, profileID domain.ProfileID) (*registrymodels.Profile, error)
	GetProfileByAnchor(ctx context.Context, anchor domain.Address) (*registrymodels.Profile, error)
	ExpectedNonce(ctx context.Context, owner domain.Address) (uint64, error)

	CreatePoolWithCustomStrategy(ctx context.Context, profileID domain.ProfileID, kind string, strategyConfig json.RawMessage, tokenAddr domain.Address, initAmount int64, metadata domain.Metadata, managers []domain.Address) (*ledgermodels.Pool, error)
	FundPool(ctx context.Context, poolID domain.PoolID, amount int64) (int64, error)
	GetPool(ctx context.Context, poolID domain.PoolID) (*ledgermodels.Pool, error)

	RegisterRecipient(ctx context.Context, poolID domain.PoolID, data strategy.RegistrationData) (domain.Address, error)
	ReviewRecipients(ctx context.Context, poolID domain.PoolID, updates []strategy.StatusUpdate, expectedCounter uint64) ([]strategy.ReviewResult, error)
	GetRecipient(ctx context.Context, poolID domain.PoolID, recipientID domain.Address) (*strategy.Recipient, error)
	Allocate(ctx context.Context, poolID domain.PoolID, allocations []strategy.Allocation) error
	SetMilestones(ctx context.Context, poolID domain.PoolID, recipientID domain.Address, plan []strategy.MilestoneDraft) error
	ReviewMilestone(ctx context.Context, poolID domain.PoolID, recipientID domain.Address, index int, status strategy.MilestoneStatus) error
	DistributeMilestone(ctx context.Context, poolID domain.PoolID, recipientID domain.Address, index int) error
}

// Handler handles the engine's HTTP endpoints.
type Handler struct {
	engine    Service
	logger    *slog.Logger
	metrics   *metrics.Metrics
	validator *middleware.Validator
}

// New creates the HTTP handler.
func New(engine Service, logger *slog.Logger, m *metrics.Metrics, validator *middleware.Validator) *Handler {
	return &Handler{
		engine:    engine,
		logger:    logger,
		metrics:   m,
		validator: validator,
	}
}

// Router builds the full route tree: public health and metrics endpoints,
// and the authenticated engine API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.Latency(h.metrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))

		r.Post("/profiles", h.handleCreateProfile)
		r.Get("/profiles/{profileID}", h.handleGetProfile)
		r.Get("/profiles/anchor/{anchor}", h.handleGetProfileByAnchor)
		r.Post("/profiles/{profileID}/members", h.handleUpdateMembers)
		r.Get("/nonces/{owner}", h.handleExpectedNonce)

		r.Post("/pools", h.handleCreatePool)
		r.Get("/pools/{poolID}", h.handleGetPool)
		r.Post("/pools/{poolID}/fund", h.handleFundPool)

		r.Post("/pools/{poolID}/recipients", h.handleRegisterRecipient)
		r.Post("/pools/{poolID}/recipients/review", h.handleReviewRecipients)
		r.Get("/pools/{poolID}/recipients/{recipientID}", h.handleGetRecipient)
		r.Post("/pools/{poolID}/allocations", h.handleAllocate)

		r.Put("/pools/{poolID}/recipients/{recipientID}/milestones", h.handleSetMilestones)
		r.Post("/pools/{poolID}/recipients/{recipientID}/milestones/{index}/review", h.handleReviewMilestone)
		r.Post("/pools/{poolID}/recipients/{recipientID}/milestones/{index}/distribute", h.handleDistributeMilestone)
	})

	return r
}
