// Package store persists direct-grants instances with in-memory and
// PostgreSQL implementations. The instance is one aggregate: Execute locks
// it whole, so recipient transitions, counter advances, and milestone
// updates serialize per pool.
package store

import (
	"context"
	"sync"

	"grantflow/internal/strategy"
	"grantflow/internal/strategy/directgrants/models"
	"grantflow/pkg/domain"
	"grantflow/pkg/platform/sentinel"
)

type InMemory struct {
	mu        sync.RWMutex
	instances map[domain.PoolID]*models.Instance
}

func NewInMemory() *InMemory {
	return &InMemory{instances: make(map[domain.PoolID]*models.Instance)}
}

func (s *InMemory) Create(_ context.Context, inst *models.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[inst.PoolID]; exists {
		return sentinel.ErrConflict
	}
	s.instances[inst.PoolID] = clone(inst)
	return nil
}

func (s *InMemory) FindByPool(_ context.Context, poolID domain.PoolID) (*models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if inst, ok := s.instances[poolID]; ok {
		return clone(inst), nil
	}
	return nil, sentinel.ErrNotFound
}

// Execute holds the write lock across validate and mutate and publishes the
// mutated instance only when both succeed.
func (s *InMemory) Execute(_ context.Context, poolID domain.PoolID,
	validate func(*models.Instance) error,
	mutate func(*models.Instance) error) (*models.Instance, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[poolID]
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

	s.instances[poolID] = working
	return clone(working), nil
}

func clone(inst *models.Instance) *models.Instance {
	cp := *inst
	cp.Recipients = make(map[domain.Address]*strategy.Recipient, len(inst.Recipients))
	for id, r := range inst.Recipients {
		rc := *r
		rc.Milestones = append([]strategy.Milestone(nil), r.Milestones...)
		cp.Recipients[id] = &rc
	}
	return &cp
}
