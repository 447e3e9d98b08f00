package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantflow/internal/events"
	"grantflow/internal/ledger/models"
	"grantflow/internal/ledger/store"
	"grantflow/internal/token"
	"grantflow/pkg/domain"
	dErrors "grantflow/pkg/domain-errors"
	"grantflow/pkg/testutil"
)

type fakeRegistry struct {
	allowed map[domain.Address]bool
}

func (f *fakeRegistry) IsOwnerOrMember(_ context.Context, _ domain.ProfileID, identity domain.Address) (bool, error) {
	return f.allowed[identity], nil
}

// failingPools wraps the in-memory store and fails the next n Execute calls
// the way a failed transaction commit does: the callbacks run against the
// current state, nothing is persisted, and the caller sees an error.
type failingPools struct {
	*store.InMemory
	failCommits int
}

func (s *failingPools) Execute(ctx context.Context, id domain.PoolID,
	validate func(*models.Pool) error,
	mutate func(*models.Pool) error) (*models.Pool, error) {
	if s.failCommits == 0 {
		return s.InMemory.Execute(ctx, id, validate, mutate)
	}
	s.failCommits--

	working, err := s.FindByID(ctx, id)
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

type fixture struct {
	svc       *Service
	pools     *failingPools
	bank      *token.MemoryBank
	events    *events.InMemoryStore
	alice     domain.Address
	asset     domain.Address
	treasury  domain.Address
	escrow    domain.Address
	profileID domain.ProfileID
	strategy  domain.StrategyID
	now       time.Time
}

func newFixture(t *testing.T, fees FeeConfig) *fixture {
	t.Helper()

	f := &fixture{
		bank:     token.NewMemoryBank(),
		events:   events.NewInMemoryStore(),
		alice:    testutil.Addr(1),
		asset:    testutil.Addr(8),
		strategy: domain.StrategyID("direct-grants-1"),
		now:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.profileID = domain.DeriveProfileID(f.alice, 0, "org")
	if fees.Treasury.IsZero() {
		fees.Treasury = testutil.Addr(20)
	}
	if fees.Escrow.IsZero() {
		fees.Escrow = testutil.Addr(21)
	}
	f.treasury = fees.Treasury
	f.escrow = fees.Escrow

	f.pools = &failingPools{InMemory: store.NewInMemory()}
	pub := events.NewPublisher(f.events, slog.Default())
	reg := &fakeRegistry{allowed: map[domain.Address]bool{f.alice: true}}
	f.svc = New(f.pools, reg, f.bank, fees, pub)
	return f
}

func (f *fixture) ctx() context.Context {
	return testutil.Ctx(f.alice, f.now)
}

// fund mints and approves so alice can move amount into custody.
func (f *fixture) allow(t *testing.T, amount int64) {
	t.Helper()
	f.bank.Mint(f.asset, f.alice, amount)
	tok, err := f.bank.Token(f.asset)
	require.NoError(t, err)
	require.NoError(t, tok.Approve(context.Background(), f.alice, f.escrow, amount))
}

func (f *fixture) createPool(t *testing.T) domain.PoolID {
	t.Helper()
	id, err := f.svc.ReservePoolID(f.ctx())
	require.NoError(t, err)
	_, err = f.svc.CreatePool(f.ctx(), id, f.profileID, f.strategy, f.asset, 0, domain.Metadata{}, nil)
	require.NoError(t, err)
	return id
}

func (f *fixture) balance(t *testing.T, holder domain.Address) int64 {
	t.Helper()
	tok, err := f.bank.Token(f.asset)
	require.NoError(t, err)
	bal, err := tok.BalanceOf(context.Background(), holder)
	require.NoError(t, err)
	return bal
}

func TestCreatePool(t *testing.T) {
	fees := FeeConfig{PercentFeeBps: 100, BaseFee: 5}

	t.Run("creates a pool and emits PoolCreated", func(t *testing.T) {
		f := newFixture(t, fees)

		id, err := f.svc.ReservePoolID(f.ctx())
		require.NoError(t, err)

		pool, err := f.svc.CreatePool(f.ctx(), id, f.profileID, f.strategy, f.asset, 0, domain.Metadata{}, nil)
		require.NoError(t, err)
		assert.Equal(t, id, pool.ID)
		assert.Equal(t, f.alice, pool.Admin)
		assert.Zero(t, pool.Balance)

		created := f.events.ByType(events.TypePoolCreated)
		require.Len(t, created, 1)
		assert.Equal(t, id, created[0].PoolID)
	})

	t.Run("creation with initial funding credits the net", func(t *testing.T) {
		f := newFixture(t, fees)
		f.allow(t, 10_000)

		id, err := f.svc.ReservePoolID(f.ctx())
		require.NoError(t, err)

		pool, err := f.svc.CreatePool(f.ctx(), id, f.profileID, f.strategy, f.asset, 10_000, domain.Metadata{}, nil)
		require.NoError(t, err)
		// fee = 1% of 10000 + 5 base
		assert.Equal(t, int64(9_895), pool.Balance)
	})

	t.Run("outsider cannot create a pool on the profile", func(t *testing.T) {
		f := newFixture(t, fees)

		id, err := f.svc.ReservePoolID(f.ctx())
		require.NoError(t, err)

		mallory := testutil.Addr(9)
		_, err = f.svc.CreatePool(testutil.Ctx(mallory, f.now), id, f.profileID, f.strategy, f.asset, 0, domain.Metadata{}, nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func TestFundPool(t *testing.T) {
	fees := FeeConfig{PercentFeeBps: 100, BaseFee: 5}

	t.Run("splits gross into net credit and treasury fee", func(t *testing.T) {
		f := newFixture(t, fees)
		id := f.createPool(t)
		f.allow(t, 10_000)

		net, err := f.svc.FundPool(f.ctx(), id, 10_000)
		require.NoError(t, err)
		assert.Equal(t, int64(9_895), net)

		pool, err := f.svc.GetPool(f.ctx(), id)
		require.NoError(t, err)
		assert.Equal(t, net, pool.Balance)

		assert.Equal(t, int64(105), f.balance(t, f.treasury))
		assert.Equal(t, net, f.balance(t, f.escrow))
		assert.Equal(t, int64(0), f.balance(t, f.alice))

		funded := f.events.ByType(events.TypePoolFunded)
		require.Len(t, funded, 1)
		assert.Equal(t, net, funded[0].Amount)
	})

	t.Run("zero fee config credits the full amount", func(t *testing.T) {
		f := newFixture(t, FeeConfig{})
		id := f.createPool(t)
		f.allow(t, 7_000)

		net, err := f.svc.FundPool(f.ctx(), id, 7_000)
		require.NoError(t, err)
		assert.Equal(t, int64(7_000), net)
		assert.Equal(t, int64(0), f.balance(t, f.treasury))
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		f := newFixture(t, fees)
		id := f.createPool(t)

		for _, amount := range []int64{0, -5} {
			_, err := f.svc.FundPool(f.ctx(), id, amount)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidAmount))
		}
	})

	t.Run("rejects an amount the fee would consume", func(t *testing.T) {
		f := newFixture(t, fees)
		id := f.createPool(t)
		f.allow(t, 5)

		_, err := f.svc.FundPool(f.ctx(), id, 5)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidAmount))
	})

	t.Run("fails without an allowance and leaves balances untouched", func(t *testing.T) {
		f := newFixture(t, fees)
		id := f.createPool(t)
		f.bank.Mint(f.asset, f.alice, 10_000)

		_, err := f.svc.FundPool(f.ctx(), id, 10_000)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTransferFailed))

		pool, err := f.svc.GetPool(f.ctx(), id)
		require.NoError(t, err)
		assert.Zero(t, pool.Balance)
		assert.Equal(t, int64(10_000), f.balance(t, f.alice))
	})
}

func TestAuthorizeDebit(t *testing.T) {
	fees := FeeConfig{PercentFeeBps: 100, BaseFee: 5}
	recipient := testutil.Addr(5)

	funded := func(t *testing.T) (*fixture, domain.PoolID, int64) {
		f := newFixture(t, fees)
		id := f.createPool(t)
		f.allow(t, 10_000)
		net, err := f.svc.FundPool(f.ctx(), id, 10_000)
		require.NoError(t, err)
		return f, id, net
	}

	t.Run("pays the recipient and decrements the balance together", func(t *testing.T) {
		f, id, net := funded(t)

		require.NoError(t, f.svc.AuthorizeDebit(f.ctx(), id, f.strategy, 1_000, recipient))

		pool, err := f.svc.GetPool(f.ctx(), id)
		require.NoError(t, err)
		assert.Equal(t, net-1_000, pool.Balance)
		assert.Equal(t, int64(1_000), f.balance(t, recipient))
		assert.Equal(t, net-1_000, f.balance(t, f.escrow))
	})

	t.Run("only the bound strategy may debit", func(t *testing.T) {
		f, id, net := funded(t)

		err := f.svc.AuthorizeDebit(f.ctx(), id, domain.StrategyID("other"), 1_000, recipient)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

		pool, err := f.svc.GetPool(f.ctx(), id)
		require.NoError(t, err)
		assert.Equal(t, net, pool.Balance)
	})

	t.Run("rejects a debit beyond the balance", func(t *testing.T) {
		f, id, net := funded(t)

		err := f.svc.AuthorizeDebit(f.ctx(), id, f.strategy, net+1, recipient)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientFunds))
	})

	t.Run("rejects a zero recipient", func(t *testing.T) {
		f, id, _ := funded(t)

		err := f.svc.AuthorizeDebit(f.ctx(), id, f.strategy, 100, domain.ZeroAddress)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("a failed balance commit moves no tokens and a retry pays once", func(t *testing.T) {
		f, id, net := funded(t)

		f.pools.failCommits = 1
		err := f.svc.AuthorizeDebit(f.ctx(), id, f.strategy, 1_000, recipient)
		require.Error(t, err)
		assert.Zero(t, f.balance(t, recipient), "no transfer may run before the debit is durable")
		assert.Equal(t, net, f.balance(t, f.escrow))

		pool, err := f.svc.GetPool(f.ctx(), id)
		require.NoError(t, err)
		assert.Equal(t, net, pool.Balance)

		require.NoError(t, f.svc.AuthorizeDebit(f.ctx(), id, f.strategy, 1_000, recipient))
		assert.Equal(t, int64(1_000), f.balance(t, recipient))
	})

	t.Run("a rejected transfer credits the debit back", func(t *testing.T) {
		// Credit the pool without backing tokens in escrow so the payout
		// transfer itself is the step that fails.
		f := newFixture(t, FeeConfig{})
		id := f.createPool(t)
		_, err := f.pools.Execute(context.Background(), id, nil, func(p *models.Pool) error {
			p.ApplyCredit(500, f.now)
			return nil
		})
		require.NoError(t, err)

		err = f.svc.AuthorizeDebit(f.ctx(), id, f.strategy, 500, recipient)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTransferFailed))
		assert.Zero(t, f.balance(t, recipient))

		pool, err := f.svc.GetPool(f.ctx(), id)
		require.NoError(t, err)
		assert.Equal(t, int64(500), pool.Balance, "the failed payout must restore the balance")
	})

	t.Run("token units are conserved across fund and debit", func(t *testing.T) {
		f, id, _ := funded(t)
		require.NoError(t, f.svc.AuthorizeDebit(f.ctx(), id, f.strategy, 2_500, recipient))

		total := f.balance(t, f.alice) + f.balance(t, f.escrow) +
			f.balance(t, f.treasury) + f.balance(t, recipient)
		assert.Equal(t, int64(10_000), total)
	})
}
