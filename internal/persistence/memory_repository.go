package persistence

import (
	"fmt"
	"sync"
	"time"

	"zrx-ladder-bot/internal/models"
)

// MemoryRepository keeps documents in a map. Stored values are deep copies.
type MemoryRepository struct {
	mu   sync.Mutex
	docs map[string]*models.Strategy
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]*models.Strategy)}
}

func (r *MemoryRepository) Get(key string) (*models.Strategy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.docs[key]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (r *MemoryRepository) Create(s *models.Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[s.InstanceKey]; ok {
		return fmt.Errorf("%w: %s", ErrStrategyExists, s.InstanceKey)
	}
	s.Version = 1
	s.UpdatedAt = time.Now()
	r.docs[s.InstanceKey] = s.Clone()
	return nil
}

func (r *MemoryRepository) Save(s *models.Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.docs[s.InstanceKey]
	if !ok || stored.Version != s.Version {
		return fmt.Errorf("%w: %s", ErrStaleStrategy, s.InstanceKey)
	}
	s.Version++
	s.UpdatedAt = time.Now()
	r.docs[s.InstanceKey] = s.Clone()
	return nil
}

func (r *MemoryRepository) Close() error { return nil }
