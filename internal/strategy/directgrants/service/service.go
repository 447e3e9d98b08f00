// Package service implements the direct-grants-lite allocation strategy:
// windowed registration, manager review against a registration counter, and
// payouts either as direct allocations or through a milestone plan.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"grantflow/internal/events"
	"grantflow/internal/strategy"
	"grantflow/internal/strategy/directgrants/models"
	strategymetrics "grantflow/internal/strategy/metrics"
	"grantflow/pkg/domain"
	dErrors "grantflow/pkg/domain-errors"
	"grantflow/pkg/platform/sentinel"
	"grantflow/pkg/requestcontext"
)

// Kind is the catalog name of this strategy implementation.
const Kind = "direct-grants-lite"

// InstanceStore persists per-pool strategy state. Execute must serialize
// conflicting writes on the same instance and abort with no durable effect
// when either callback errors.
type InstanceStore interface {
	Create(ctx context.Context, inst *models.Instance) error
	FindByPool(ctx context.Context, poolID domain.PoolID) (*models.Instance, error)
	Execute(ctx context.Context, poolID domain.PoolID,
		validate func(*models.Instance) error,
		mutate func(*models.Instance) error) (*models.Instance, error)
}

// Ledger is the slice of the pool ledger a strategy may use: the single
// fund-movement primitive, invoked with this strategy's bound id.
type Ledger interface {
	AuthorizeDebit(ctx context.Context, poolID domain.PoolID, strategyID domain.StrategyID, amount int64, recipientAddress domain.Address) error
}

// Registry resolves anchor-based recipient identity.
type Registry interface {
	ResolveAnchor(ctx context.Context, anchor domain.Address) (domain.ProfileID, error)
	IsOwnerOrMember(ctx context.Context, profileID domain.ProfileID, identity domain.Address) (bool, error)
}

// Service implements strategy.Strategy for the direct-grants-lite variant.
// One Service handles every pool bound to this kind; per-pool state lives in
// the instance store.
type Service struct {
	instances InstanceStore
	ledger    Ledger
	registry  Registry
	events    *events.Publisher
	metrics   *strategymetrics.Metrics
	logger    *slog.Logger
}

// Option configures optional service dependencies.
type Option func(*Service)

func WithMetrics(m *strategymetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(instances InstanceStore, ledger Ledger, reg Registry, publisher *events.Publisher, opts ...Option) *Service {
	s := &Service{
		instances: instances,
		ledger:    ledger,
		registry:  reg,
		events:    publisher,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Kind() string { return Kind }

// Initialize creates the per-pool instance from the creator's config blob.
func (s *Service) Initialize(ctx context.Context, poolID domain.PoolID, id domain.StrategyID, config json.RawMessage) error {
	cfg, err := models.ParseConfig(config)
	if err != nil {
		return err
	}

	inst := models.NewInstance(poolID, id, cfg, requestcontext.Now(ctx))
	if err := s.instances.Create(ctx, inst); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "pool already has a strategy instance")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create strategy instance")
	}
	return nil
}

// RegisterRecipient records a payout target inside the registration window.
// In anchor mode the recipient id is the submitter's profile anchor and the
// caller must control that profile; otherwise the id is the payout address
// itself.
func (s *Service) RegisterRecipient(ctx context.Context, poolID domain.PoolID, data strategy.RegistrationData) (domain.Address, error) {
	if data.RecipientAddress.IsZero() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "registration requires a payout address")
	}

	inst, err := s.instances.FindByPool(ctx, poolID)
	if err != nil {
		return "", wrapInstanceErr(err)
	}

	if inst.Config.MetadataRequired && data.Metadata.IsZero() {
		return "", dErrors.New(dErrors.CodeMissingMetadata, "registration metadata is required for this pool")
	}

	recipientID := data.RecipientAddress
	if inst.Config.UseRegistryAnchor {
		recipientID, err = s.resolveAnchorIdentity(ctx, data.Anchor)
		if err != nil {
			return "", err
		}
	}

	now := requestcontext.Now(ctx)
	_, err = s.instances.Execute(ctx, poolID,
		func(cur *models.Instance) error {
			return cur.CanRegister(now)
		},
		func(cur *models.Instance) error {
			cur.ApplyRegistration(recipientID, data.RecipientAddress, data.Metadata, now)
			return nil
		},
	)
	if err != nil {
		return "", wrapInstanceErr(err)
	}

	if err := s.events.Emit(ctx, events.Event{
		Type:        events.TypeRegistered,
		PoolID:      poolID,
		RecipientID: recipientID,
	}); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to record registration")
	}
	if s.metrics != nil {
		s.metrics.Registrations.WithLabelValues(Kind).Inc()
	}
	return recipientID, nil
}

func (s *Service) resolveAnchorIdentity(ctx context.Context, anchor domain.Address) (domain.Address, error) {
	if anchor.IsZero() {
		return "", dErrors.New(dErrors.CodeAnchorRequired, "this pool requires a registered profile anchor")
	}
	profileID, err := s.registry.ResolveAnchor(ctx, anchor)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return "", dErrors.New(dErrors.CodeAnchorRequired, "anchor does not resolve to a registered profile")
		}
		return "", err
	}
	ok, err := s.registry.IsOwnerOrMember(ctx, profileID, requestcontext.Caller(ctx))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", dErrors.New(dErrors.CodeUnauthorized, "caller does not control the anchored profile")
	}
	return anchor, nil
}

// ReviewRecipients applies a batch of Pending to terminal transitions. The
// batch commits partially: each entry succeeds or fails on its own, and the
// per-entry outcome is reported back. The whole batch is rejected as stale
// when the expected counter does not match the instance's.
func (s *Service) ReviewRecipients(ctx context.Context, poolID domain.PoolID, updates []strategy.StatusUpdate, expectedCounter uint64) ([]strategy.ReviewResult, error) {
	if len(updates) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "review batch is empty")
	}

	now := requestcontext.Now(ctx)
	results := make([]strategy.ReviewResult, len(updates))

	_, err := s.instances.Execute(ctx, poolID,
		func(cur *models.Instance) error {
			return cur.CheckCounter(expectedCounter)
		},
		func(cur *models.Instance) error {
			for idx, u := range updates {
				results[idx] = strategy.ReviewResult{RecipientID: u.RecipientID, Status: u.Status}
				if err := cur.ApplyReview(u, now); err != nil {
					results[idx].Err = err
				}
			}
			return nil
		},
	)
	if err != nil {
		return nil, wrapInstanceErr(err)
	}

	for _, r := range results {
		if r.Err != nil {
			continue
		}
		if err := s.events.Emit(ctx, events.Event{
			Type:        events.TypeRecipientStatusUpdated,
			PoolID:      poolID,
			RecipientID: r.RecipientID,
			Status:      string(r.Status),
		}); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record review decision")
		}
		if s.metrics != nil {
			s.metrics.Reviews.WithLabelValues(Kind, string(r.Status)).Inc()
		}
	}
	return results, nil
}

// GetRecipient retrieves a registration record. Pure read.
func (s *Service) GetRecipient(ctx context.Context, poolID domain.PoolID, recipientID domain.Address) (*strategy.Recipient, error) {
	inst, err := s.instances.FindByPool(ctx, poolID)
	if err != nil {
		return nil, wrapInstanceErr(err)
	}
	return inst.Recipient(recipientID)
}

// Allocate debits the pool to accepted recipients. Entries apply one at a
// time: the entry's bookkeeping commits first, then its debit moves the
// funds, and a rejected debit backs the bookkeeping out. A failed entry can
// therefore be retried without paying twice, because no funds ever move
// before the bookkeeping is durable. A failing entry stops the batch;
// entries already paid stay paid.
func (s *Service) Allocate(ctx context.Context, poolID domain.PoolID, allocations []strategy.Allocation) error {
	if len(allocations) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "allocation batch is empty")
	}

	now := requestcontext.Now(ctx)
	for _, a := range allocations {
		var (
			payee domain.Address
			id    domain.StrategyID
		)
		_, err := s.instances.Execute(ctx, poolID,
			func(cur *models.Instance) error {
				return cur.CanAllocate(a.RecipientID, a.Amount, now)
			},
			func(cur *models.Instance) error {
				recipient, err := cur.Recipient(a.RecipientID)
				if err != nil {
					return err
				}
				payee = recipient.Address
				id = cur.ID
				cur.ApplyAllocation(a.RecipientID, a.Amount, now)
				return nil
			},
		)
		if err != nil {
			return wrapInstanceErr(err)
		}

		if err := s.ledger.AuthorizeDebit(ctx, poolID, id, a.Amount, payee); err != nil {
			if _, revertErr := s.instances.Execute(ctx, poolID, nil, func(cur *models.Instance) error {
				cur.RevertAllocation(a.RecipientID, a.Amount, now)
				return nil
			}); revertErr != nil {
				s.logger.Error("allocation reversal failed, recipient total overstates paid funds",
					"pool_id", poolID, "recipient_id", a.RecipientID, "amount", a.Amount, "error", revertErr)
			}
			return err
		}

		if err := s.events.Emit(ctx, events.Event{
			Type:        events.TypeAllocated,
			PoolID:      poolID,
			RecipientID: a.RecipientID,
			Amount:      a.Amount,
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record allocation")
		}
		if s.metrics != nil {
			s.metrics.Allocations.WithLabelValues(Kind).Inc()
		}
	}
	return nil
}

// SetMilestones replaces an accepted recipient's milestone plan.
func (s *Service) SetMilestones(ctx context.Context, poolID domain.PoolID, recipientID domain.Address, plan []strategy.MilestoneDraft) error {
	now := requestcontext.Now(ctx)
	_, err := s.instances.Execute(ctx, poolID, nil,
		func(cur *models.Instance) error {
			return cur.ApplyMilestonePlan(recipientID, plan, now)
		},
	)
	if err != nil {
		return wrapInstanceErr(err)
	}

	if err := s.events.Emit(ctx, events.Event{
		Type:        events.TypeMilestonesSet,
		PoolID:      poolID,
		RecipientID: recipientID,
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record milestone plan")
	}
	return nil
}

// ReviewMilestone decides one pending milestone.
func (s *Service) ReviewMilestone(ctx context.Context, poolID domain.PoolID, recipientID domain.Address, index int, status strategy.MilestoneStatus) error {
	now := requestcontext.Now(ctx)
	_, err := s.instances.Execute(ctx, poolID, nil,
		func(cur *models.Instance) error {
			return cur.ApplyMilestoneReview(recipientID, index, status, now)
		},
	)
	if err != nil {
		return wrapInstanceErr(err)
	}

	if err := s.events.Emit(ctx, events.Event{
		Type:        events.TypeMilestoneStatusUpdated,
		PoolID:      poolID,
		RecipientID: recipientID,
		Milestone:   index,
		Status:      string(status),
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record milestone decision")
	}
	return nil
}

// DistributeMilestone pays an accepted milestone's share of the recipient's
// total allocation. The Distributed flip commits before the ledger debit, so
// a failure between the two can only underpay, never pay twice: a retry
// finds the milestone already distributed. A debit the ledger rejects flips
// the milestone back to Accepted.
func (s *Service) DistributeMilestone(ctx context.Context, poolID domain.PoolID, recipientID domain.Address, index int) error {
	now := requestcontext.Now(ctx)

	var (
		paid  int64
		payee domain.Address
		id    domain.StrategyID
	)
	_, err := s.instances.Execute(ctx, poolID, nil,
		func(cur *models.Instance) error {
			amount, err := cur.CanDistribute(recipientID, index)
			if err != nil {
				return err
			}
			recipient, err := cur.Recipient(recipientID)
			if err != nil {
				return err
			}
			cur.ApplyDistributed(recipientID, index, now)
			paid = amount
			payee = recipient.Address
			id = cur.ID
			return nil
		},
	)
	if err != nil {
		return wrapInstanceErr(err)
	}

	if err := s.ledger.AuthorizeDebit(ctx, poolID, id, paid, payee); err != nil {
		if _, revertErr := s.instances.Execute(ctx, poolID, nil, func(cur *models.Instance) error {
			cur.RevertDistributed(recipientID, index, now)
			return nil
		}); revertErr != nil {
			s.logger.Error("distribution reversal failed, milestone reads distributed without payout",
				"pool_id", poolID, "recipient_id", recipientID, "milestone", index, "error", revertErr)
		}
		return err
	}

	if err := s.events.Emit(ctx, events.Event{
		Type:        events.TypeMilestoneDistributed,
		PoolID:      poolID,
		RecipientID: recipientID,
		Milestone:   index,
		Amount:      paid,
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record distribution")
	}
	if s.metrics != nil {
		s.metrics.Distributions.WithLabelValues(Kind).Inc()
	}
	return nil
}

func wrapInstanceErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "no strategy instance for this pool")
	}
	if dErrors.CodeOf(err) != dErrors.CodeInternal {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "strategy store failure")
}
