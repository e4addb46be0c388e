package credential

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no credential exists for the given id.
var ErrNotFound = errors.New("credential not found")

// Repository abstracts credential persistence. Implementations must be safe
// for concurrent use; the worker and the control API share one instance and
// no module-level state exists.
type Repository interface {
	Put(ctx context.Context, cred *StoredCredential) error
	Get(ctx context.Context, id string) (*StoredCredential, error)
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]*StoredCredential, error)
}
