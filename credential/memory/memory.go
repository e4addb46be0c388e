// Package memory provides a thread-safe in-memory implementation of
// credential.Repository. Suitable for testing and single-process use.
package memory

import (
	"context"
	"sync"

	"github.com/forolabs/peticionador/credential"
)

// Repository is a thread-safe in-memory credential.Repository.
type Repository struct {
	mu   sync.RWMutex
	data map[string]*credential.StoredCredential
}

var _ credential.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]*credential.StoredCredential)}
}

func clone(c *credential.StoredCredential) *credential.StoredCredential {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

func (r *Repository) Put(_ context.Context, cred *credential.StoredCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[cred.ID] = clone(cred)
	return nil
}

func (r *Repository) Get(_ context.Context, id string) (*credential.StoredCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cred, ok := r.data[id]
	if !ok {
		return nil, credential.ErrNotFound
	}
	return clone(cred), nil
}

func (r *Repository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[id]; !ok {
		return credential.ErrNotFound
	}
	delete(r.data, id)
	return nil
}

func (r *Repository) ListByUser(_ context.Context, userID string) ([]*credential.StoredCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*credential.StoredCredential
	for _, cred := range r.data {
		if cred.UserID == userID {
			out = append(out, clone(cred))
		}
	}
	return out, nil
}
