package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forolabs/peticionador/credential"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dsn := os.Getenv("PETICIONADOR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PETICIONADOR_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("could not connect to postgres: %v", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("could not ensure schema: %v", err)
	}

	pool.Exec(ctx, "DELETE FROM credentials") //nolint:errcheck

	return NewRepository(pool), func() {
		pool.Exec(ctx, "DELETE FROM credentials") //nolint:errcheck
		pool.Close()
	}
}

func TestPutGetDelete(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	cred := &credential.StoredCredential{
		ID:                "cred-1",
		UserID:            "user-1",
		Tribunal:          "eproc",
		TribunalURL:       "https://eproc.example.jus.br",
		AuthType:          credential.AuthPassword,
		Name:              "login principal",
		Login:             "12345678901",
		EncryptedPassword: "salt:iv:tag:ct",
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	require.NoError(t, store.Put(ctx, cred))

	got, err := store.Get(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, cred, got)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, credential.ErrNotFound)

	list, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.Delete(ctx, "cred-1"))
	assert.ErrorIs(t, store.Delete(ctx, "cred-1"), credential.ErrNotFound)
}
