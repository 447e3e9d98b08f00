//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"grantflow/internal/registry/models"
	"grantflow/pkg/domain"
	"grantflow/pkg/platform/sentinel"
	"grantflow/pkg/testutil"
	"grantflow/pkg/testutil/containers"
)

type PostgresProfileSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *Postgres
	ctx   context.Context
}

func TestPostgresProfileSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresProfileSuite))
}

func (s *PostgresProfileSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = NewPostgres(s.pg.DB)
	s.Require().NoError(s.store.Migrate(s.ctx))
}

func (s *PostgresProfileSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(s.ctx, "profiles", "profile_nonces"))
}

func (s *PostgresProfileSuite) newProfile(owner domain.Address, nonce uint64, name string) *models.Profile {
	p, err := models.NewProfile(owner, nonce, name, domain.Metadata{Protocol: 1, Pointer: "ipfs://Qm"}, nil, time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(err)
	return p
}

func (s *PostgresProfileSuite) TestRoundTrip() {
	owner := testutil.Addr(1)
	member := testutil.Addr(2)

	p := s.newProfile(owner, 0, "alice")
	p.Members = []domain.Address{member}
	s.Require().NoError(s.store.CreateWithNonce(s.ctx, p))

	byID, err := s.store.FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(p.Name, byID.Name)
	s.Equal(p.Metadata, byID.Metadata)
	s.Equal([]domain.Address{member}, byID.Members)

	byAnchor, err := s.store.FindByAnchor(s.ctx, p.Anchor)
	s.Require().NoError(err)
	s.Equal(p.ID, byAnchor.ID)

	_, err = s.store.FindByID(s.ctx, domain.DeriveProfileID(owner, 9, "ghost"))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresProfileSuite) TestNonceGuard() {
	owner := testutil.Addr(3)

	s.Run("rejects out-of-order nonce", func() {
		err := s.store.CreateWithNonce(s.ctx, s.newProfile(owner, 5, "early"))
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("advances the counter in the same transaction", func() {
		s.Require().NoError(s.store.CreateWithNonce(s.ctx, s.newProfile(owner, 0, "first")))

		next, err := s.store.ExpectedNonce(s.ctx, owner)
		s.Require().NoError(err)
		s.Equal(uint64(1), next)

		err = s.store.CreateWithNonce(s.ctx, s.newProfile(owner, 0, "replay"))
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})
}

func (s *PostgresProfileSuite) TestExecute() {
	owner := testutil.Addr(4)
	member := testutil.Addr(5)

	p := s.newProfile(owner, 0, "team")
	s.Require().NoError(s.store.CreateWithNonce(s.ctx, p))

	s.Run("commits a validated mutation", func() {
		now := time.Now().UTC().Truncate(time.Microsecond)
		_, err := s.store.Execute(s.ctx, p.ID,
			func(cur *models.Profile) error { return cur.CanUpdateMembers(owner) },
			func(cur *models.Profile) error {
				cur.ApplyMemberUpdate([]domain.Address{member}, nil, now)
				return nil
			},
		)
		s.Require().NoError(err)

		found, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.True(found.IsOwnerOrMember(member))
	})

	s.Run("rolls back when the mutation fails", func() {
		_, err := s.store.Execute(s.ctx, p.ID,
			nil,
			func(cur *models.Profile) error {
				cur.ApplyMemberUpdate(nil, []domain.Address{member}, time.Now())
				return sentinel.ErrInvalidState
			},
		)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)

		found, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.True(found.IsOwnerOrMember(member))
	})
}
