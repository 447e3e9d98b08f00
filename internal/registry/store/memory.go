// Package store provides profile persistence: an in-memory implementation
// for tests and single-node use, a PostgreSQL implementation for durable
// deployments, and a Redis read-through cache that wraps either.
package store

import (
	"context"
	"sync"

	"grantflow/internal/registry/models"
	"grantflow/pkg/domain"
	"grantflow/pkg/platform/sentinel"
)

// InMemory keeps profiles and nonce counters behind one mutex so the
// nonce-check/insert/advance sequence commits atomically.
type InMemory struct {
	mu       sync.RWMutex
	profiles map[domain.ProfileID]*models.Profile
	byAnchor map[domain.Address]domain.ProfileID
	nonces   map[domain.Address]uint64
}

func NewInMemory() *InMemory {
	return &InMemory{
		profiles: make(map[domain.ProfileID]*models.Profile),
		byAnchor: make(map[domain.Address]domain.ProfileID),
		nonces:   make(map[domain.Address]uint64),
	}
}

func (s *InMemory) CreateWithNonce(_ context.Context, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nonces[profile.Owner] != profile.Nonce {
		return sentinel.ErrInvalidState
	}
	if _, exists := s.profiles[profile.ID]; exists {
		return sentinel.ErrConflict
	}

	s.profiles[profile.ID] = clone(profile)
	s.byAnchor[profile.Anchor] = profile.ID
	s.nonces[profile.Owner] = profile.Nonce + 1
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.ProfileID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[id]; ok {
		return clone(p), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindByAnchor(_ context.Context, anchor domain.Address) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byAnchor[anchor]; ok {
		return clone(s.profiles[id]), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ExpectedNonce(_ context.Context, owner domain.Address) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonces[owner], nil
}

// Execute holds the write lock across validate and mutate so concurrent
// updates to the same profile serialize.
func (s *InMemory) Execute(_ context.Context, id domain.ProfileID,
	validate func(*models.Profile) error,
	mutate func(*models.Profile) error) (*models.Profile, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.profiles[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	working := clone(current)
	if validate != nil {
		if err := validate(working); err != nil {
			return nil, err
		}
	}
	if err := mutate(working); err != nil {
		return nil, err
	}

	s.profiles[id] = working
	return clone(working), nil
}

func clone(p *models.Profile) *models.Profile {
	cp := *p
	cp.Members = append([]domain.Address(nil), p.Members...)
	return &cp
}
