// Package memstore is the in-memory Store used by tests and single-node
// deployments. The production deployment swaps in a redis-backed adapter
// with the same get/update/delete-by-id surface.
package memstore

import (
	"context"
	"sync"

	"github.com/telegate/teleop/internal/core"
	"github.com/telegate/teleop/internal/domain"
)

type Store struct {
	mu       sync.RWMutex
	services map[string]domain.Service
}

func New() *Store {
	return &Store{services: make(map[string]domain.Service)}
}

func (s *Store) GetService(ctx context.Context, id string) (*domain.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	c := svc
	return &c, nil
}

func (s *Store) UpdateService(ctx context.Context, id string, svc *domain.Service) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[id] = *svc
	return nil
}

func (s *Store) DeleteService(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.services, id)
	return nil
}

func (s *Store) ListServices(ctx context.Context) ([]*domain.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Service, 0, len(s.services))
	for _, svc := range s.services {
		c := svc
		out = append(out, &c)
	}
	return out, nil
}
