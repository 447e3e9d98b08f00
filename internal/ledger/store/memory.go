// Package store provides pool persistence with in-memory and PostgreSQL
// implementations. Both serialize conflicting writes per pool: the in-memory
// store with a mutex held across validate-and-mutate, Postgres with a
// SELECT ... FOR UPDATE transaction.
package store

import (
	"context"
	"sync"

	"grantflow/internal/ledger/models"
	"grantflow/pkg/domain"
	"grantflow/pkg/platform/sentinel"
)

type InMemory struct {
	mu    sync.RWMutex
	pools map[domain.PoolID]*models.Pool
	next  uint64
}

func NewInMemory() *InMemory {
	return &InMemory{pools: make(map[domain.PoolID]*models.Pool)}
}

// Reserve hands out the next sequential pool id. Reserving before creating
// lets the strategy bind to its pool id before the pool record exists.
func (s *InMemory) Reserve(_ context.Context) (domain.PoolID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return domain.PoolID(s.next), nil
}

func (s *InMemory) Create(_ context.Context, pool *models.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pools[pool.ID]; exists {
		return sentinel.ErrConflict
	}
	s.pools[pool.ID] = clone(pool)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.PoolID) (*models.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.pools[id]; ok {
		return clone(p), nil
	}
	return nil, sentinel.ErrNotFound
}

// Execute holds the write lock across validate and mutate and publishes the
// mutated pool only when both succeed.
func (s *InMemory) Execute(_ context.Context, id domain.PoolID,
	validate func(*models.Pool) error,
	mutate func(*models.Pool) error) (*models.Pool, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.pools[id]
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

	s.pools[id] = working
	return clone(working), nil
}

func clone(p *models.Pool) *models.Pool {
	cp := *p
	cp.Managers = append([]domain.Address(nil), p.Managers...)
	return &cp
}
