// Package orchestrator is the single entry point callers go through. It
// composes the identity registry, the pool ledger, and the strategy catalog:
// it routes each pool-scoped call to the pool's bound strategy and enforces
// the manager role before strategy-administrative operations. Strategies
// reach the ledger's debit primitive only by being invoked from here.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"

	"grantflow/internal/ledger"
	ledgermodels "grantflow/internal/ledger/models"
	"grantflow/internal/registry"
	registrymodels "grantflow/internal/registry/models"
	"grantflow/internal/strategy"
	"grantflow/pkg/domain"
	dErrors "grantflow/pkg/domain-errors"
	"grantflow/pkg/requestcontext"
)

type Service struct {
	registry   *registry.Service
	ledger     *ledger.Service
	strategies *strategy.Catalog
	logger     *slog.Logger
}

// Option configures optional service dependencies.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(reg *registry.Service, led *ledger.Service, catalog *strategy.Catalog, opts ...Option) *Service {
	s := &Service{
		registry:   reg,
		ledger:     led,
		strategies: catalog,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identity operations delegate straight to the registry.

func (s *Service) CreateProfile(ctx context.Context, nonce uint64, name string, metadata domain.Metadata, owner domain.Address, members []domain.Address) (*registrymodels.Profile, error) {
	return s.registry.CreateProfile(ctx, nonce, name, metadata, owner, members)
}

func (s *Service) UpdateProfileMembers(ctx context.Context, profileID domain.ProfileID, add, remove []domain.Address) (*registrymodels.Profile, error) {
	return s.registry.UpdateProfileMembers(ctx, profileID, add, remove)
}

func (s *Service) GetProfileByID(ctx context.Context, profileID domain.ProfileID) (*registrymodels.Profile, error) {
	return s.registry.GetProfileByID(ctx, profileID)
}

func (s *Service) GetProfileByAnchor(ctx context.Context, anchor domain.Address) (*registrymodels.Profile, error) {
	return s.registry.GetProfileByAnchor(ctx, anchor)
}

func (s *Service) ExpectedNonce(ctx context.Context, owner domain.Address) (uint64, error) {
	return s.registry.ExpectedNonce(ctx, owner)
}

// CreatePoolWithCustomStrategy reserves a pool id, initializes the chosen
// strategy against it, then creates the pool bound to that instance. The
// strategy is initialized first so the pool never exists without its
// governing state machine.
func (s *Service) CreatePoolWithCustomStrategy(ctx context.Context, profileID domain.ProfileID, kind string, strategyConfig json.RawMessage, tokenAddr domain.Address, initAmount int64, metadata domain.Metadata, managers []domain.Address) (*ledgermodels.Pool, error) {
	poolID, err := s.ledger.ReservePoolID(ctx)
	if err != nil {
		return nil, err
	}
	strategyID := domain.BindStrategyID(kind, poolID)

	strat, err := s.strategies.Resolve(strategyID)
	if err != nil {
		return nil, err
	}
	if err := strat.Initialize(ctx, poolID, strategyID, strategyConfig); err != nil {
		return nil, err
	}

	return s.ledger.CreatePool(ctx, poolID, profileID, strategyID, tokenAddr, initAmount, metadata, managers)
}

func (s *Service) FundPool(ctx context.Context, poolID domain.PoolID, amount int64) (int64, error) {
	return s.ledger.FundPool(ctx, poolID, amount)
}

func (s *Service) GetPool(ctx context.Context, poolID domain.PoolID) (*ledgermodels.Pool, error) {
	return s.ledger.GetPool(ctx, poolID)
}

// RegisterRecipient routes to the pool's bound strategy. Registration is
// open to any caller; the strategy applies its own identity rules.
func (s *Service) RegisterRecipient(ctx context.Context, poolID domain.PoolID, data strategy.RegistrationData) (domain.Address, error) {
	strat, _, err := s.resolve(ctx, poolID)
	if err != nil {
		return "", err
	}
	return strat.RegisterRecipient(ctx, poolID, data)
}

// ReviewRecipients requires the manager role on the pool.
func (s *Service) ReviewRecipients(ctx context.Context, poolID domain.PoolID, updates []strategy.StatusUpdate, expectedCounter uint64) ([]strategy.ReviewResult, error) {
	strat, err := s.resolveManaged(ctx, poolID)
	if err != nil {
		return nil, err
	}
	return strat.ReviewRecipients(ctx, poolID, updates, expectedCounter)
}

func (s *Service) GetRecipient(ctx context.Context, poolID domain.PoolID, recipientID domain.Address) (*strategy.Recipient, error) {
	strat, _, err := s.resolve(ctx, poolID)
	if err != nil {
		return nil, err
	}
	return strat.GetRecipient(ctx, poolID, recipientID)
}

// Allocate requires the manager role on the pool.
func (s *Service) Allocate(ctx context.Context, poolID domain.PoolID, allocations []strategy.Allocation) error {
	strat, err := s.resolveManaged(ctx, poolID)
	if err != nil {
		return err
	}
	return strat.Allocate(ctx, poolID, allocations)
}

// SetMilestones requires the manager role on the pool.
func (s *Service) SetMilestones(ctx context.Context, poolID domain.PoolID, recipientID domain.Address, plan []strategy.MilestoneDraft) error {
	strat, err := s.resolveManaged(ctx, poolID)
	if err != nil {
		return err
	}
	return strat.SetMilestones(ctx, poolID, recipientID, plan)
}

// ReviewMilestone requires the manager role on the pool.
func (s *Service) ReviewMilestone(ctx context.Context, poolID domain.PoolID, recipientID domain.Address, index int, status strategy.MilestoneStatus) error {
	strat, err := s.resolveManaged(ctx, poolID)
	if err != nil {
		return err
	}
	return strat.ReviewMilestone(ctx, poolID, recipientID, index, status)
}

// DistributeMilestone requires the manager role on the pool.
func (s *Service) DistributeMilestone(ctx context.Context, poolID domain.PoolID, recipientID domain.Address, index int) error {
	strat, err := s.resolveManaged(ctx, poolID)
	if err != nil {
		return err
	}
	return strat.DistributeMilestone(ctx, poolID, recipientID, index)
}

// resolve loads the pool and the implementation behind its bound strategy.
func (s *Service) resolve(ctx context.Context, poolID domain.PoolID) (strategy.Strategy, *ledgermodels.Pool, error) {
	pool, err := s.ledger.GetPool(ctx, poolID)
	if err != nil {
		return nil, nil, err
	}
	strat, err := s.strategies.Resolve(pool.StrategyID)
	if err != nil {
		return nil, nil, err
	}
	return strat, pool, nil
}

// resolveManaged additionally requires the caller to hold the pool's manager
// (or admin) role.
func (s *Service) resolveManaged(ctx context.Context, poolID domain.PoolID) (strategy.Strategy, error) {
	strat, pool, err := s.resolve(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if !pool.IsManager(requestcontext.Caller(ctx)) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller does not hold the pool manager role")
	}
	return strat, nil
}
