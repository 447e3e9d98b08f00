package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantflow/internal/events"
	"grantflow/internal/strategy"
	"grantflow/internal/strategy/directgrants/models"
	"grantflow/internal/strategy/directgrants/store"
	"grantflow/pkg/domain"
	dErrors "grantflow/pkg/domain-errors"
	"grantflow/pkg/testutil"
)

type debit struct {
	poolID     domain.PoolID
	strategyID domain.StrategyID
	amount     int64
	recipient  domain.Address
}

type fakeLedger struct {
	debits   []debit
	failWith error
}

func (f *fakeLedger) AuthorizeDebit(_ context.Context, poolID domain.PoolID, strategyID domain.StrategyID, amount int64, recipient domain.Address) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.debits = append(f.debits, debit{poolID, strategyID, amount, recipient})
	return nil
}

// failingInstances wraps the in-memory store and fails the next n Execute
// calls the way a failed transaction commit does: the callbacks run against
// the current state, nothing is persisted, and the caller sees an error.
type failingInstances struct {
	*store.InMemory
	failCommits int
}

func (s *failingInstances) Execute(ctx context.Context, poolID domain.PoolID,
	validate func(*models.Instance) error,
	mutate func(*models.Instance) error) (*models.Instance, error) {
	if s.failCommits == 0 {
		return s.InMemory.Execute(ctx, poolID, validate, mutate)
	}
	s.failCommits--

	working, err := s.FindByPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if validate != nil {
		if err := validate(working); err != nil {
			return nil, err
		}
	}
	if err := mutate(working); err != nil {
		return nil, err
	}
	return nil, errors.New("commit failed")
}

type fakeRegistry struct {
	anchors map[domain.Address]domain.ProfileID
	members map[domain.ProfileID]map[domain.Address]bool
}

func (f *fakeRegistry) ResolveAnchor(_ context.Context, anchor domain.Address) (domain.ProfileID, error) {
	id, ok := f.anchors[anchor]
	if !ok {
		return domain.ProfileID{}, dErrors.New(dErrors.CodeNotFound, "profile not found")
	}
	return id, nil
}

func (f *fakeRegistry) IsOwnerOrMember(_ context.Context, profileID domain.ProfileID, identity domain.Address) (bool, error) {
	return f.members[profileID][identity], nil
}

type fixture struct {
	svc       *Service
	instances *failingInstances
	ledger    *fakeLedger
	registry  *fakeRegistry
	events    *events.InMemoryStore
	poolID    domain.PoolID
	id        domain.StrategyID
	base      time.Time
	bob       domain.Address
	manager   domain.Address
}

func configJSON(t *testing.T, cfg models.Config) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return raw
}

// newFixture builds an initialized instance with registration open from
// base+30m through base+60m.
func newFixture(t *testing.T, mutate func(*models.Config)) *fixture {
	t.Helper()

	f := &fixture{
		ledger:   &fakeLedger{},
		registry: &fakeRegistry{anchors: map[domain.Address]domain.ProfileID{}, members: map[domain.ProfileID]map[domain.Address]bool{}},
		events:   events.NewInMemoryStore(),
		poolID:   1,
		base:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		bob:      testutil.Addr(2),
		manager:  testutil.Addr(3),
	}
	f.id = domain.BindStrategyID(Kind, f.poolID)

	f.instances = &failingInstances{InMemory: store.NewInMemory()}
	pub := events.NewPublisher(f.events, slog.Default())
	f.svc = New(f.instances, f.ledger, f.registry, pub)

	cfg := models.Config{
		RegistrationStart: f.base.Add(30 * time.Minute),
		RegistrationEnd:   f.base.Add(60 * time.Minute),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, f.svc.Initialize(testutil.Ctx(f.manager, f.base), f.poolID, f.id, configJSON(t, cfg)))
	return f
}

// at builds a caller context at an offset from the fixture base time.
func (f *fixture) at(caller domain.Address, offset time.Duration) context.Context {
	return testutil.Ctx(caller, f.base.Add(offset))
}

func (f *fixture) register(t *testing.T, caller domain.Address, offset time.Duration) domain.Address {
	t.Helper()
	id, err := f.svc.RegisterRecipient(f.at(caller, offset), f.poolID, strategy.RegistrationData{
		RecipientAddress: caller,
		Metadata:         domain.Metadata{Protocol: 1, Pointer: "ipfs://Qm"},
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) accept(t *testing.T, recipientID domain.Address, counter uint64) {
	t.Helper()
	results, err := f.svc.ReviewRecipients(f.at(f.manager, 45*time.Minute),
		f.poolID, []strategy.StatusUpdate{{RecipientID: recipientID, Status: strategy.StatusAccepted}}, counter)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
}

func TestInitialize(t *testing.T) {
	t.Run("rejects a config without a registration window", func(t *testing.T) {
		f := newFixture(t, nil)
		err := f.svc.Initialize(testutil.Ctx(f.manager, f.base), 2, domain.BindStrategyID(Kind, 2), nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects a second instance for the same pool", func(t *testing.T) {
		f := newFixture(t, nil)
		cfg := configJSON(t, models.Config{
			RegistrationStart: f.base,
			RegistrationEnd:   f.base.Add(time.Hour),
		})
		err := f.svc.Initialize(testutil.Ctx(f.manager, f.base), f.poolID, f.id, cfg)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func TestRegisterRecipient(t *testing.T) {
	t.Run("accepts at exactly the window start", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.register(t, f.bob, 30*time.Minute)
		assert.Equal(t, f.bob, id)

		registered := f.events.ByType(events.TypeRegistered)
		require.Len(t, registered, 1)
		assert.Equal(t, f.bob, registered[0].RecipientID)
	})

	t.Run("accepts at exactly the window end", func(t *testing.T) {
		f := newFixture(t, nil)
		f.register(t, f.bob, 60*time.Minute)
	})

	t.Run("rejects one second past the window end", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.RegisterRecipient(f.at(f.bob, 60*time.Minute+time.Second), f.poolID,
			strategy.RegistrationData{RecipientAddress: f.bob})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeRegistrationClosed))
	})

	t.Run("rejects before the window opens", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.RegisterRecipient(f.at(f.bob, 10*time.Minute), f.poolID,
			strategy.RegistrationData{RecipientAddress: f.bob})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeRegistrationClosed))
	})

	t.Run("requires metadata when configured", func(t *testing.T) {
		f := newFixture(t, func(c *models.Config) { c.MetadataRequired = true })
		_, err := f.svc.RegisterRecipient(f.at(f.bob, 45*time.Minute), f.poolID,
			strategy.RegistrationData{RecipientAddress: f.bob})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeMissingMetadata))
	})

	t.Run("re-registration keeps an accepted status", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.register(t, f.bob, 31*time.Minute)
		f.accept(t, id, 1)

		newPayout := testutil.Addr(7)
		_, err := f.svc.RegisterRecipient(f.at(f.bob, 45*time.Minute), f.poolID,
			strategy.RegistrationData{RecipientAddress: newPayout})
		require.NoError(t, err)

		// Same caller, different payout address: in address mode this is a
		// distinct recipient id. Re-register the original id instead.
		_, err = f.svc.RegisterRecipient(f.at(f.bob, 46*time.Minute), f.poolID,
			strategy.RegistrationData{RecipientAddress: f.bob, Metadata: domain.Metadata{Protocol: 2, Pointer: "ar://x"}})
		require.NoError(t, err)

		r, err := f.svc.GetRecipient(f.at(f.bob, 46*time.Minute), f.poolID, id)
		require.NoError(t, err)
		assert.Equal(t, strategy.StatusAccepted, r.Status, "re-registration must not reset an accepted recipient")
		assert.Equal(t, uint64(2), r.Metadata.Protocol)
	})
}

func TestRegisterRecipientAnchorMode(t *testing.T) {
	anchored := func(t *testing.T) (*fixture, domain.Address) {
		f := newFixture(t, func(c *models.Config) { c.UseRegistryAnchor = true })
		profileID := domain.DeriveProfileID(f.bob, 0, "bob")
		anchor := domain.DeriveAnchor(profileID)
		f.registry.anchors[anchor] = profileID
		f.registry.members[profileID] = map[domain.Address]bool{f.bob: true}
		return f, anchor
	}

	t.Run("resolves the recipient id to the profile anchor", func(t *testing.T) {
		f, anchor := anchored(t)

		id, err := f.svc.RegisterRecipient(f.at(f.bob, 45*time.Minute), f.poolID,
			strategy.RegistrationData{Anchor: anchor, RecipientAddress: f.bob})
		require.NoError(t, err)
		assert.Equal(t, anchor, id)
	})

	t.Run("fails without an anchor", func(t *testing.T) {
		f, _ := anchored(t)

		_, err := f.svc.RegisterRecipient(f.at(f.bob, 45*time.Minute), f.poolID,
			strategy.RegistrationData{RecipientAddress: f.bob})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAnchorRequired))
	})

	t.Run("fails when the anchor resolves to no profile", func(t *testing.T) {
		f, _ := anchored(t)

		_, err := f.svc.RegisterRecipient(f.at(f.bob, 45*time.Minute), f.poolID,
			strategy.RegistrationData{Anchor: testutil.Addr(9), RecipientAddress: f.bob})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAnchorRequired))
	})

	t.Run("rejects a caller who does not control the anchored profile", func(t *testing.T) {
		f, anchor := anchored(t)

		mallory := testutil.Addr(9)
		_, err := f.svc.RegisterRecipient(f.at(mallory, 45*time.Minute), f.poolID,
			strategy.RegistrationData{Anchor: anchor, RecipientAddress: mallory})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func TestReviewRecipients(t *testing.T) {
	t.Run("rejects a stale counter", func(t *testing.T) {
		f := newFixture(t, nil)
		f.register(t, f.bob, 31*time.Minute)

		_, err := f.svc.ReviewRecipients(f.at(f.manager, 45*time.Minute), f.poolID,
			[]strategy.StatusUpdate{{RecipientID: f.bob, Status: strategy.StatusAccepted}}, 0)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeStaleReview))
	})

	t.Run("terminal statuses are immutable, batch continues per entry", func(t *testing.T) {
		f := newFixture(t, nil)
		carol := testutil.Addr(4)
		f.register(t, f.bob, 31*time.Minute)
		f.register(t, carol, 32*time.Minute)
		f.accept(t, f.bob, 2)

		results, err := f.svc.ReviewRecipients(f.at(f.manager, 50*time.Minute), f.poolID,
			[]strategy.StatusUpdate{
				{RecipientID: f.bob, Status: strategy.StatusRejected},
				{RecipientID: carol, Status: strategy.StatusRejected},
			}, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)

		require.Error(t, results[0].Err)
		assert.True(t, dErrors.HasCode(results[0].Err, dErrors.CodeInvalidTransition))
		require.NoError(t, results[1].Err)

		bob, err := f.svc.GetRecipient(f.at(f.manager, 50*time.Minute), f.poolID, f.bob)
		require.NoError(t, err)
		assert.Equal(t, strategy.StatusAccepted, bob.Status, "failed entry must leave the record unchanged")

		// One event for the original accept, one for carol's reject.
		assert.Len(t, f.events.ByType(events.TypeRecipientStatusUpdated), 2)
	})

	t.Run("reports unknown recipients per entry", func(t *testing.T) {
		f := newFixture(t, nil)
		f.register(t, f.bob, 31*time.Minute)

		results, err := f.svc.ReviewRecipients(f.at(f.manager, 45*time.Minute), f.poolID,
			[]strategy.StatusUpdate{{RecipientID: testutil.Addr(9), Status: strategy.StatusAccepted}}, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, dErrors.HasCode(results[0].Err, dErrors.CodeNotFound))
	})
}

func TestAllocate(t *testing.T) {
	accepted := func(t *testing.T) (*fixture, domain.Address) {
		f := newFixture(t, nil)
		id := f.register(t, f.bob, 31*time.Minute)
		f.accept(t, id, 1)
		return f, id
	}

	t.Run("debits the ledger and records the allocation", func(t *testing.T) {
		f, id := accepted(t)

		require.NoError(t, f.svc.Allocate(f.at(f.manager, 91*time.Minute), f.poolID,
			[]strategy.Allocation{{RecipientID: id, Amount: 1000}}))

		require.Len(t, f.ledger.debits, 1)
		assert.Equal(t, debit{f.poolID, f.id, 1000, f.bob}, f.ledger.debits[0])

		r, err := f.svc.GetRecipient(f.at(f.manager, 91*time.Minute), f.poolID, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), r.TotalAllocated)

		allocated := f.events.ByType(events.TypeAllocated)
		require.Len(t, allocated, 1)
		assert.Equal(t, int64(1000), allocated[0].Amount)
	})

	t.Run("rejects a recipient that is not accepted", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.register(t, f.bob, 31*time.Minute)

		err := f.svc.Allocate(f.at(f.manager, 45*time.Minute), f.poolID,
			[]strategy.Allocation{{RecipientID: id, Amount: 1000}})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeRecipientNotAccepted))
		assert.Empty(t, f.ledger.debits)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		f, id := accepted(t)

		err := f.svc.Allocate(f.at(f.manager, 91*time.Minute), f.poolID,
			[]strategy.Allocation{{RecipientID: id, Amount: 0}})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidAmount))
	})

	t.Run("a failed debit leaves no bookkeeping and no event", func(t *testing.T) {
		f, id := accepted(t)
		f.ledger.failWith = dErrors.New(dErrors.CodeInsufficientFunds, "debit exceeds pool balance")

		err := f.svc.Allocate(f.at(f.manager, 91*time.Minute), f.poolID,
			[]strategy.Allocation{{RecipientID: id, Amount: 1000}})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientFunds))

		r, err := f.svc.GetRecipient(f.at(f.manager, 91*time.Minute), f.poolID, id)
		require.NoError(t, err)
		assert.Zero(t, r.TotalAllocated)
		assert.Empty(t, f.events.ByType(events.TypeAllocated))
	})

	t.Run("a failed instance commit moves no funds and a retry pays once", func(t *testing.T) {
		f, id := accepted(t)
		ctx := f.at(f.manager, 91*time.Minute)

		f.instances.failCommits = 1
		err := f.svc.Allocate(ctx, f.poolID, []strategy.Allocation{{RecipientID: id, Amount: 1000}})
		require.Error(t, err)
		assert.Empty(t, f.ledger.debits, "no debit may run before the bookkeeping is durable")

		require.NoError(t, f.svc.Allocate(ctx, f.poolID, []strategy.Allocation{{RecipientID: id, Amount: 1000}}))
		require.Len(t, f.ledger.debits, 1)

		r, err := f.svc.GetRecipient(ctx, f.poolID, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), r.TotalAllocated)
	})

	t.Run("honors a configured allocation window", func(t *testing.T) {
		f := newFixture(t, func(c *models.Config) {
			c.AllocationStart = time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC)
		})
		id := f.register(t, f.bob, 31*time.Minute)
		f.accept(t, id, 1)

		err := f.svc.Allocate(f.at(f.manager, 45*time.Minute), f.poolID,
			[]strategy.Allocation{{RecipientID: id, Amount: 100}})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAllocationClosed))

		require.NoError(t, f.svc.Allocate(f.at(f.manager, 95*time.Minute), f.poolID,
			[]strategy.Allocation{{RecipientID: id, Amount: 100}}))
	})
}

func TestMilestones(t *testing.T) {
	allocated := func(t *testing.T) (*fixture, domain.Address) {
		f := newFixture(t, nil)
		id := f.register(t, f.bob, 31*time.Minute)
		f.accept(t, id, 1)
		require.NoError(t, f.svc.Allocate(f.at(f.manager, 91*time.Minute), f.poolID,
			[]strategy.Allocation{{RecipientID: id, Amount: 10_000}}))
		return f, id
	}

	plan := []strategy.MilestoneDraft{
		{PercentageBps: 4000},
		{PercentageBps: 6000},
	}

	t.Run("rejects a plan summing above the whole allocation", func(t *testing.T) {
		f, id := allocated(t)

		err := f.svc.SetMilestones(f.at(f.manager, 92*time.Minute), f.poolID, id,
			[]strategy.MilestoneDraft{{PercentageBps: 7000}, {PercentageBps: 4000}})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidMilestonePlan))
	})

	t.Run("distributes an accepted milestone exactly once", func(t *testing.T) {
		f, id := allocated(t)
		ctx := f.at(f.manager, 92*time.Minute)

		require.NoError(t, f.svc.SetMilestones(ctx, f.poolID, id, plan))
		require.NoError(t, f.svc.ReviewMilestone(ctx, f.poolID, id, 0, strategy.MilestoneAccepted))
		require.NoError(t, f.svc.DistributeMilestone(ctx, f.poolID, id, 0))

		// 40% of the 10000 allocated, on top of the allocation debit itself.
		require.Len(t, f.ledger.debits, 2)
		assert.Equal(t, int64(4000), f.ledger.debits[1].amount)

		err := f.svc.DistributeMilestone(ctx, f.poolID, id, 0)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeMilestoneNotAccepted))

		distributed := f.events.ByType(events.TypeMilestoneDistributed)
		require.Len(t, distributed, 1)
		assert.Equal(t, int64(4000), distributed[0].Amount)
	})

	t.Run("a failed instance commit moves no funds and a retry pays once", func(t *testing.T) {
		f, id := allocated(t)
		ctx := f.at(f.manager, 92*time.Minute)

		require.NoError(t, f.svc.SetMilestones(ctx, f.poolID, id, plan))
		require.NoError(t, f.svc.ReviewMilestone(ctx, f.poolID, id, 0, strategy.MilestoneAccepted))

		f.instances.failCommits = 1
		err := f.svc.DistributeMilestone(ctx, f.poolID, id, 0)
		require.Error(t, err)
		require.Len(t, f.ledger.debits, 1, "no payout may run before the milestone flip is durable")

		require.NoError(t, f.svc.DistributeMilestone(ctx, f.poolID, id, 0))
		require.Len(t, f.ledger.debits, 2)
		assert.Equal(t, int64(4000), f.ledger.debits[1].amount)

		err = f.svc.DistributeMilestone(ctx, f.poolID, id, 0)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeMilestoneNotAccepted))
		require.Len(t, f.ledger.debits, 2, "a retry of a paid milestone must not debit again")
	})

	t.Run("a rejected debit returns the milestone to accepted", func(t *testing.T) {
		f, id := allocated(t)
		ctx := f.at(f.manager, 92*time.Minute)

		require.NoError(t, f.svc.SetMilestones(ctx, f.poolID, id, plan))
		require.NoError(t, f.svc.ReviewMilestone(ctx, f.poolID, id, 0, strategy.MilestoneAccepted))

		f.ledger.failWith = dErrors.New(dErrors.CodeInsufficientFunds, "debit exceeds pool balance")
		err := f.svc.DistributeMilestone(ctx, f.poolID, id, 0)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientFunds))
		assert.Empty(t, f.events.ByType(events.TypeMilestoneDistributed))

		f.ledger.failWith = nil
		require.NoError(t, f.svc.DistributeMilestone(ctx, f.poolID, id, 0))
		require.Len(t, f.ledger.debits, 2)
	})

	t.Run("a pending milestone cannot distribute", func(t *testing.T) {
		f, id := allocated(t)
		ctx := f.at(f.manager, 92*time.Minute)

		require.NoError(t, f.svc.SetMilestones(ctx, f.poolID, id, plan))
		err := f.svc.DistributeMilestone(ctx, f.poolID, id, 1)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeMilestoneNotAccepted))
	})

	t.Run("a rejected milestone cannot distribute", func(t *testing.T) {
		f, id := allocated(t)
		ctx := f.at(f.manager, 92*time.Minute)

		require.NoError(t, f.svc.SetMilestones(ctx, f.poolID, id, plan))
		require.NoError(t, f.svc.ReviewMilestone(ctx, f.poolID, id, 1, strategy.MilestoneRejected))

		err := f.svc.DistributeMilestone(ctx, f.poolID, id, 1)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeMilestoneNotAccepted))
	})

	t.Run("the plan freezes once a milestone distributes", func(t *testing.T) {
		f, id := allocated(t)
		ctx := f.at(f.manager, 92*time.Minute)

		require.NoError(t, f.svc.SetMilestones(ctx, f.poolID, id, plan))
		require.NoError(t, f.svc.ReviewMilestone(ctx, f.poolID, id, 0, strategy.MilestoneAccepted))
		require.NoError(t, f.svc.DistributeMilestone(ctx, f.poolID, id, 0))

		err := f.svc.SetMilestones(ctx, f.poolID, id, plan)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidMilestonePlan))
	})
}
