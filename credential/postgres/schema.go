package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS credentials (
    id                  TEXT PRIMARY KEY,
    user_id             TEXT NOT NULL,
    tribunal            TEXT NOT NULL,
    tribunal_url        TEXT NOT NULL,
    auth_type           TEXT NOT NULL,
    name                TEXT NOT NULL,
    login               TEXT NOT NULL DEFAULT '',
    encrypted_password  TEXT NOT NULL DEFAULT '',
    encrypted_cert_file TEXT NOT NULL DEFAULT '',
    encrypted_cert_pass TEXT NOT NULL DEFAULT '',
    token_serial        TEXT NOT NULL DEFAULT '',
    encrypted_pin       TEXT NOT NULL DEFAULT '',
    cloud_provider      TEXT NOT NULL DEFAULT '',
    encrypted_cloud_id  TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credentials_user ON credentials (user_id);`

// EnsureSchema creates the credentials table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensuring credentials schema: %w", err)
	}
	return nil
}
