package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSessionNotFound is returned when no session exists for the given id.
var ErrSessionNotFound = errors.New("session not found")

// Repository persists session records so multiple manager processes
// observe consistent state and persistent sessions survive restarts.
type Repository interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Record, error)
}

// MemoryRepository is the process-local repository used in tests and
// single-process deployments.
type MemoryRepository struct {
	mu   sync.RWMutex
	recs map[string]Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{recs: make(map[string]Record)}
}

func (r *MemoryRepository) Put(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[rec.ID] = rec
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return &rec, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recs, id)
	return nil
}

func (r *MemoryRepository) List(_ context.Context) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	recs := make([]Record, 0, len(r.recs))
	for _, rec := range r.recs {
		recs = append(recs, rec)
	}
	return recs, nil
}
