// Package postgres implements credential.Repository backed by PostgreSQL.
//
// Encrypted payload fields are stored as individual TEXT columns; the
// single-shape invariant is enforced by the service layer before writes,
// so the table stays schema-flexible across auth types.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forolabs/peticionador/credential"
)

// Store implements credential.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ credential.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewRepository(pool), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const upsertSQL = `
INSERT INTO credentials (
    id, user_id, tribunal, tribunal_url, auth_type, name,
    login, encrypted_password,
    encrypted_cert_file, encrypted_cert_pass,
    token_serial, encrypted_pin,
    cloud_provider, encrypted_cloud_id,
    created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    tribunal = EXCLUDED.tribunal,
    tribunal_url = EXCLUDED.tribunal_url,
    auth_type = EXCLUDED.auth_type,
    name = EXCLUDED.name,
    login = EXCLUDED.login,
    encrypted_password = EXCLUDED.encrypted_password,
    encrypted_cert_file = EXCLUDED.encrypted_cert_file,
    encrypted_cert_pass = EXCLUDED.encrypted_cert_pass,
    token_serial = EXCLUDED.token_serial,
    encrypted_pin = EXCLUDED.encrypted_pin,
    cloud_provider = EXCLUDED.cloud_provider,
    encrypted_cloud_id = EXCLUDED.encrypted_cloud_id,
    updated_at = EXCLUDED.updated_at`

const selectCols = `
    id, user_id, tribunal, tribunal_url, auth_type, name,
    login, encrypted_password,
    encrypted_cert_file, encrypted_cert_pass,
    token_serial, encrypted_pin,
    cloud_provider, encrypted_cloud_id,
    created_at, updated_at`

func (s *Store) Put(ctx context.Context, c *credential.StoredCredential) error {
	_, err := s.pool.Exec(ctx, upsertSQL,
		c.ID, c.UserID, c.Tribunal, c.TribunalURL, string(c.AuthType), c.Name,
		c.Login, c.EncryptedPassword,
		c.EncryptedCertFile, c.EncryptedCertPass,
		c.TokenSerial, c.EncryptedPIN,
		c.CloudProvider, c.EncryptedCloudID,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting credential: %w", err)
	}
	return nil
}

func scanCredential(row pgx.Row) (*credential.StoredCredential, error) {
	var c credential.StoredCredential
	var authType string
	err := row.Scan(
		&c.ID, &c.UserID, &c.Tribunal, &c.TribunalURL, &authType, &c.Name,
		&c.Login, &c.EncryptedPassword,
		&c.EncryptedCertFile, &c.EncryptedCertPass,
		&c.TokenSerial, &c.EncryptedPIN,
		&c.CloudProvider, &c.EncryptedCloudID,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.AuthType = credential.AuthType(authType)
	return &c, nil
}

func (s *Store) Get(ctx context.Context, id string) (*credential.StoredCredential, error) {
	row := s.pool.QueryRow(ctx, "SELECT"+selectCols+" FROM credentials WHERE id = $1", id)
	c, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, credential.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return c, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM credentials WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", id, credential.ErrNotFound)
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]*credential.StoredCredential, error) {
	rows, err := s.pool.Query(ctx, "SELECT"+selectCols+" FROM credentials WHERE user_id = $1 ORDER BY created_at", userID)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var out []*credential.StoredCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
