// Package bbolt provides a BBolt-backed credential repository.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/forolabs/peticionador/credential"
)

var bucketCredentials = []byte("credentials")

// Store implements credential.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ credential.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(_ context.Context, cred *credential.StoredCredential) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketCredentials)
		if err != nil {
			return err
		}
		data, err := json.Marshal(cred)
		if err != nil {
			return err
		}
		return b.Put([]byte(cred.ID), data)
	})
}

func (s *Store) Get(_ context.Context, id string) (*credential.StoredCredential, error) {
	var cred credential.StoredCredential
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		if b == nil {
			return fmt.Errorf("%s: %w", id, credential.ErrNotFound)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s: %w", id, credential.ErrNotFound)
		}
		return json.Unmarshal(data, &cred)
	})
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		if b == nil || b.Get([]byte(id)) == nil {
			return fmt.Errorf("%s: %w", id, credential.ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

func (s *Store) ListByUser(_ context.Context, userID string) ([]*credential.StoredCredential, error) {
	var out []*credential.StoredCredential
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, data []byte) error {
			var cred credential.StoredCredential
			if err := json.Unmarshal(data, &cred); err != nil {
				return err
			}
			if cred.UserID == userID {
				out = append(out, &cred)
			}
			return nil
		})
	})
	return out, err
}
