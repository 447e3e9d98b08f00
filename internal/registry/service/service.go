package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"grantflow/internal/events"
	registrymetrics "grantflow/internal/registry/metrics"
	"grantflow/internal/registry/models"
	"grantflow/pkg/domain"
	dErrors "grantflow/pkg/domain-errors"
	"grantflow/pkg/platform/sentinel"
	"grantflow/pkg/requestcontext"
)

// ProfileStore persists profiles and the per-owner nonce counters.
// Implementations must make CreateWithNonce atomic: the nonce check, the
// insert, and the counter advance commit together or not at all.
type ProfileStore interface {
	// CreateWithNonce inserts the profile if profile.Nonce matches the
	// owner's expected nonce, advancing the counter. Returns
	// sentinel.ErrInvalidState on a nonce mismatch and sentinel.ErrConflict
	// when the id already exists.
	CreateWithNonce(ctx context.Context, profile *models.Profile) error
	FindByID(ctx context.Context, id domain.ProfileID) (*models.Profile, error)
	FindByAnchor(ctx context.Context, anchor domain.Address) (*models.Profile, error)
	ExpectedNonce(ctx context.Context, owner domain.Address) (uint64, error)
	// Execute runs validate-then-mutate while holding the profile's write
	// lock (mutex or FOR UPDATE). Either callback returning an error aborts
	// with no durable effect.
	Execute(ctx context.Context, id domain.ProfileID,
		validate func(*models.Profile) error,
		mutate func(*models.Profile) error) (*models.Profile, error)
}

// Service orchestrates the identity registry: profile creation, membership,
// and the ownership checks the ledger and strategies depend on.
type Service struct {
	profiles ProfileStore
	events   *events.Publisher
	metrics  *registrymetrics.Metrics
	logger   *slog.Logger
}

// Option configures optional service dependencies.
type Option func(*Service)

func WithMetrics(m *registrymetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(profiles ProfileStore, publisher *events.Publisher, opts ...Option) *Service {
	s := &Service{
		profiles: profiles,
		events:   publisher,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateProfile registers a permanent identity. The nonce must match the
// owner's current expected counter; this is what makes profile creation
// replay-safe and id derivation collision-free.
func (s *Service) CreateProfile(ctx context.Context, nonce uint64, name string, metadata domain.Metadata, owner domain.Address, members []domain.Address) (*models.Profile, error) {
	caller := requestcontext.Caller(ctx)
	if owner.IsZero() {
		owner = caller
	}
	if owner != caller {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "profile owner must equal the creator")
	}

	profile, err := models.NewProfile(owner, nonce, strings.TrimSpace(name), metadata, members, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	if err := s.profiles.CreateWithNonce(ctx, profile); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrInvalidState):
			expected, nerr := s.profiles.ExpectedNonce(ctx, owner)
			if nerr != nil {
				return nil, dErrors.Wrap(nerr, dErrors.CodeInternal, "failed to read expected nonce")
			}
			return nil, dErrors.Newf(dErrors.CodeInvalidNonce, "nonce %d does not match expected %d", nonce, expected)
		case errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.New(dErrors.CodeConflict, "profile id already exists")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create profile")
		}
	}

	if err := s.events.Emit(ctx, events.Event{
		Type:      events.TypeProfileCreated,
		ProfileID: profile.ID.String(),
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record profile creation")
	}

	if s.metrics != nil {
		s.metrics.IncrementProfilesCreated()
	}
	return profile, nil
}

// UpdateProfileMembers mutates the member set. Only the owner or an existing
// member may do so.
func (s *Service) UpdateProfileMembers(ctx context.Context, profileID domain.ProfileID, add, remove []domain.Address) (*models.Profile, error) {
	caller := requestcontext.Caller(ctx)
	now := requestcontext.Now(ctx)

	for _, a := range add {
		if a.IsZero() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "cannot add the zero address as a member")
		}
	}

	profile, err := s.profiles.Execute(ctx, profileID,
		func(p *models.Profile) error {
			return p.CanUpdateMembers(caller)
		},
		func(p *models.Profile) error {
			p.ApplyMemberUpdate(add, remove, now)
			return nil
		},
	)
	if err != nil {
		return nil, wrapProfileErr(err)
	}

	if err := s.events.Emit(ctx, events.Event{
		Type:      events.TypeProfileMembersUpdated,
		ProfileID: profile.ID.String(),
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record member update")
	}
	return profile, nil
}

// GetProfileByID retrieves a profile. Pure read.
func (s *Service) GetProfileByID(ctx context.Context, profileID domain.ProfileID) (*models.Profile, error) {
	profile, err := s.profiles.FindByID(ctx, profileID)
	if err != nil {
		return nil, wrapProfileErr(err)
	}
	return profile, nil
}

// GetProfileByAnchor resolves a profile from its anchor. Strategies use this
// for anchor-based recipient identity.
func (s *Service) GetProfileByAnchor(ctx context.Context, anchor domain.Address) (*models.Profile, error) {
	profile, err := s.profiles.FindByAnchor(ctx, anchor)
	if err != nil {
		return nil, wrapProfileErr(err)
	}
	return profile, nil
}

// ResolveAnchor maps an anchor to its profile id without exposing the
// profile record. NotFound when the anchor is unknown.
func (s *Service) ResolveAnchor(ctx context.Context, anchor domain.Address) (domain.ProfileID, error) {
	profile, err := s.profiles.FindByAnchor(ctx, anchor)
	if err != nil {
		return domain.ProfileID{}, wrapProfileErr(err)
	}
	return profile.ID, nil
}

// IsOwnerOrMember reports whether identity controls the profile. This is the
// only membership question the registry answers to other components.
func (s *Service) IsOwnerOrMember(ctx context.Context, profileID domain.ProfileID, identity domain.Address) (bool, error) {
	profile, err := s.profiles.FindByID(ctx, profileID)
	if err != nil {
		return false, wrapProfileErr(err)
	}
	return profile.IsOwnerOrMember(identity), nil
}

// ExpectedNonce exposes the owner's next nonce so callers can build a valid
// creation request without trial and error.
func (s *Service) ExpectedNonce(ctx context.Context, owner domain.Address) (uint64, error) {
	return s.profiles.ExpectedNonce(ctx, owner)
}

func wrapProfileErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "profile not found")
	}
	if dErrors.CodeOf(err) != dErrors.CodeInternal {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "profile store failure")
}
