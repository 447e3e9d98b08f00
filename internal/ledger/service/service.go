package service

import (
	"context"
	"errors"
	"log/slog"

	"grantflow/internal/events"
	ledgermetrics "grantflow/internal/ledger/metrics"
	"grantflow/internal/ledger/models"
	"grantflow/internal/token"
	"grantflow/pkg/domain"
	dErrors "grantflow/pkg/domain-errors"
	"grantflow/pkg/platform/sentinel"
	"grantflow/pkg/requestcontext"
)

// PoolStore persists pools. Execute must serialize conflicting writes on the
// same pool and abort with no durable effect when either callback errors.
type PoolStore interface {
	Reserve(ctx context.Context) (domain.PoolID, error)
	Create(ctx context.Context, pool *models.Pool) error
	FindByID(ctx context.Context, id domain.PoolID) (*models.Pool, error)
	Execute(ctx context.Context, id domain.PoolID,
		validate func(*models.Pool) error,
		mutate func(*models.Pool) error) (*models.Pool, error)
}

// Registry is the slice of the identity registry the ledger needs: the
// ownership check for pool creation. Back-reference by id, never by shared
// state.
type Registry interface {
	IsOwnerOrMember(ctx context.Context, profileID domain.ProfileID, identity domain.Address) (bool, error)
}

// FeeConfig is the ledger-level fee policy, fixed at construction.
type FeeConfig struct {
	// PercentFeeBps is deducted from every funding amount, in basis points.
	PercentFeeBps int64
	// BaseFee is a flat deduction per funding operation.
	BaseFee int64
	// Treasury receives the deducted fees.
	Treasury domain.Address
	// Escrow is the ledger's custody account: pools' token balances live
	// here until a strategy-authorized debit pays them out.
	Escrow domain.Address
}

// Service is the pool ledger: fund custody, fee accounting, and the single
// fund-movement primitive strategies debit through.
type Service struct {
	pools    PoolStore
	registry Registry
	bank     token.Bank
	fees     FeeConfig
	events   *events.Publisher
	metrics  *ledgermetrics.Metrics
	logger   *slog.Logger
}

// Option configures optional service dependencies.
type Option func(*Service)

func WithMetrics(m *ledgermetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(pools PoolStore, reg Registry, bank token.Bank, fees FeeConfig, publisher *events.Publisher, opts ...Option) *Service {
	s := &Service{
		pools:    pools,
		registry: reg,
		bank:     bank,
		fees:     fees,
		events:   publisher,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReservePoolID hands out the id a new pool will be created under, so the
// strategy can bind to it before the pool record exists.
func (s *Service) ReservePoolID(ctx context.Context) (domain.PoolID, error) {
	id, err := s.pools.Reserve(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve pool id")
	}
	return id, nil
}

// CreatePool binds a reserved id, a profile, and a strategy instance into a
// new pool. The caller must own or be a member of the profile; the caller
// becomes pool admin. initAmount, when nonzero, is funded with normal fee
// semantics.
func (s *Service) CreatePool(ctx context.Context, poolID domain.PoolID, profileID domain.ProfileID, strategyID domain.StrategyID, tokenAddr domain.Address, initAmount int64, metadata domain.Metadata, managers []domain.Address) (*models.Pool, error) {
	caller := requestcontext.Caller(ctx)

	ok, err := s.registry.IsOwnerOrMember(ctx, profileID, caller)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller is neither owner nor member of the pool profile")
	}

	pool, err := models.NewPool(poolID, profileID, strategyID, tokenAddr, metadata, caller, managers, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	if err := s.pools.Create(ctx, pool); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "pool id or strategy already in use")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create pool")
	}

	if err := s.events.Emit(ctx, events.Event{
		Type:      events.TypePoolCreated,
		PoolID:    pool.ID,
		ProfileID: pool.ProfileID.String(),
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record pool creation")
	}
	if s.metrics != nil {
		s.metrics.PoolsCreated.Inc()
	}

	if initAmount != 0 {
		if _, err := s.FundPool(ctx, pool.ID, initAmount); err != nil {
			return nil, err
		}
		return s.GetPool(ctx, pool.ID)
	}
	return pool, nil
}

// FundPool moves gross funds from the caller into custody, deducts the fee
// to the treasury, and credits the net to the pool. Returns the net amount,
// which is the authoritative figure for everything downstream.
func (s *Service) FundPool(ctx context.Context, poolID domain.PoolID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidAmount, "funding amount must be positive")
	}

	pool, err := s.GetPool(ctx, poolID)
	if err != nil {
		return 0, err
	}

	fee := amount*s.fees.PercentFeeBps/10000 + s.fees.BaseFee
	net := amount - fee
	if net <= 0 {
		return 0, dErrors.Newf(dErrors.CodeInvalidAmount, "fee %d consumes the entire amount %d", fee, amount)
	}

	tok, err := s.bank.Token(pool.Token)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInvalidInput, "pool token unavailable")
	}

	caller := requestcontext.Caller(ctx)
	if err := tok.TransferFrom(ctx, s.fees.Escrow, caller, s.fees.Escrow, amount); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeTransferFailed, "funding transfer rejected by token")
	}
	if fee > 0 {
		// Escrow just received the gross amount, so this cannot overdraw.
		if err := tok.Transfer(ctx, s.fees.Escrow, s.fees.Treasury, fee); err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeTransferFailed, "fee transfer rejected by token")
		}
	}

	now := requestcontext.Now(ctx)
	if _, err := s.pools.Execute(ctx, poolID, nil, func(p *models.Pool) error {
		p.ApplyCredit(net, now)
		return nil
	}); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to credit pool")
	}

	if err := s.events.Emit(ctx, events.Event{
		Type:   events.TypePoolFunded,
		PoolID: poolID,
		Amount: net,
	}); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record pool funding")
	}
	if s.metrics != nil {
		s.metrics.FundsCredited.Add(float64(net))
		s.metrics.FeesCollected.Add(float64(fee))
	}
	return net, nil
}

// AuthorizeDebit is the engine's single fund-movement primitive. Only the
// pool's bound strategy may call it (the orchestrator passes the strategy's
// id through). The balance decrement commits before the token transfer and a
// rejected transfer credits it back, so a failure anywhere leaves funds in
// escrow rather than paid out twice: no payout ever moves without its debit
// already durable.
func (s *Service) AuthorizeDebit(ctx context.Context, poolID domain.PoolID, strategyID domain.StrategyID, amount int64, recipientAddress domain.Address) error {
	if recipientAddress.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "debit requires a recipient address")
	}

	pool, err := s.GetPool(ctx, poolID)
	if err != nil {
		return err
	}
	tok, err := s.bank.Token(pool.Token)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "pool token unavailable")
	}

	now := requestcontext.Now(ctx)
	_, err = s.pools.Execute(ctx, poolID,
		func(p *models.Pool) error {
			return p.CanDebit(strategyID, amount)
		},
		func(p *models.Pool) error {
			p.ApplyDebit(amount, now)
			return nil
		},
	)
	if err != nil {
		return wrapPoolErr(err)
	}

	if err := tok.Transfer(ctx, s.fees.Escrow, recipientAddress, amount); err != nil {
		if _, creditErr := s.pools.Execute(ctx, poolID, nil, func(p *models.Pool) error {
			p.ApplyCredit(amount, now)
			return nil
		}); creditErr != nil {
			s.logger.Error("debit reversal failed, pool balance understates escrow holdings",
				"pool_id", poolID, "amount", amount, "error", creditErr)
		}
		return dErrors.Wrap(err, dErrors.CodeTransferFailed, "payout transfer rejected by token")
	}

	if s.metrics != nil {
		s.metrics.FundsDebited.Add(float64(amount))
	}
	return nil
}

// GetPool retrieves a pool. Pure read.
func (s *Service) GetPool(ctx context.Context, poolID domain.PoolID) (*models.Pool, error) {
	pool, err := s.pools.FindByID(ctx, poolID)
	if err != nil {
		return nil, wrapPoolErr(err)
	}
	return pool, nil
}

// IsManager reports whether the identity holds the pool's manager (or
// admin) role. The orchestrator gates strategy-administrative calls on this.
func (s *Service) IsManager(ctx context.Context, poolID domain.PoolID, identity domain.Address) (bool, error) {
	pool, err := s.GetPool(ctx, poolID)
	if err != nil {
		return false, err
	}
	return pool.IsManager(identity), nil
}

func wrapPoolErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "pool not found")
	}
	if dErrors.CodeOf(err) != dErrors.CodeInternal {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "pool store failure")
}
