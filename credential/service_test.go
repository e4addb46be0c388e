package credential_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forolabs/peticionador/credential"
	"github.com/forolabs/peticionador/credential/memory"
	"github.com/forolabs/peticionador/internal/util"
	"github.com/forolabs/peticionador/vault"
)

func newService(t *testing.T) *credential.Service {
	t.Helper()
	v, err := vault.New("test-master-key", vault.WithKDFParams(util.Argon2idParams{
		Time: 1, MemoryKiB: 8 * 1024, Parallelism: 1, KeyLen: 32,
	}))
	require.NoError(t, err)
	return credential.NewService(memory.NewRepository(), v)
}

func TestNeedsUserInteraction(t *testing.T) {
	assert.False(t, credential.NeedsUserInteraction(credential.AuthPassword))
	assert.False(t, credential.NeedsUserInteraction(credential.AuthCertA1))
	assert.True(t, credential.NeedsUserInteraction(credential.AuthCertA3Token))
	assert.True(t, credential.NeedsUserInteraction(credential.AuthCertA3Cloud))
}

func TestDecryptUnknownID(t *testing.T) {
	svc := newService(t)

	dec, err := svc.Decrypt(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, dec)
}

func TestCredentialShapes(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	t.Run("Password", func(t *testing.T) {
		stored, err := svc.Store(ctx, credential.CreateInput{
			UserID:      "user-1",
			Tribunal:    "eproc",
			TribunalURL: "https://eproc.example.jus.br",
			AuthType:    credential.AuthPassword,
			Name:        "principal",
			Login:       "12345678901",
			Password:    "s3nh4",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, stored.EncryptedPassword)
		assert.NotEqual(t, "s3nh4", stored.EncryptedPassword)
		assert.Empty(t, stored.EncryptedCertFile)
		assert.Empty(t, stored.EncryptedCertPass)
		assert.Empty(t, stored.EncryptedPIN)
		assert.Empty(t, stored.EncryptedCloudID)

		dec, err := svc.Decrypt(ctx, stored.ID)
		require.NoError(t, err)
		require.NotNil(t, dec)
		defer dec.Destroy()

		assert.Equal(t, "12345678901", dec.Login)
		require.NotNil(t, dec.Password)
		pw, err := credential.OpenSecret(dec.Password)
		require.NoError(t, err)
		assert.Equal(t, "s3nh4", pw)

		assert.Nil(t, dec.CertFile)
		assert.Nil(t, dec.CertPassword)
		assert.Nil(t, dec.TokenPIN)
		assert.Empty(t, dec.TokenSerial)
		assert.Empty(t, dec.CloudProvider)
		assert.Empty(t, dec.CloudID)
	})

	t.Run("CertificateA1", func(t *testing.T) {
		certBytes := []byte{0x30, 0x82, 0x04, 0xa6, 0x01, 0x02}
		stored, err := svc.Store(ctx, credential.CreateInput{
			UserID:       "user-1",
			Tribunal:     "pje",
			TribunalURL:  "https://pje.example.jus.br",
			AuthType:     credential.AuthCertA1,
			Name:         "cert a1",
			CertFile:     certBytes,
			CertPassword: "certpass",
		})
		require.NoError(t, err)
		assert.Empty(t, stored.EncryptedPassword)
		assert.NotEmpty(t, stored.EncryptedCertFile)
		assert.NotEmpty(t, stored.EncryptedCertPass)

		dec, err := svc.Decrypt(ctx, stored.ID)
		require.NoError(t, err)
		require.NotNil(t, dec)
		defer dec.Destroy()

		assert.Equal(t, certBytes, dec.CertFile)
		pass, err := credential.OpenSecret(dec.CertPassword)
		require.NoError(t, err)
		assert.Equal(t, "certpass", pass)

		assert.Nil(t, dec.Password)
		assert.Empty(t, dec.Login)
	})

	t.Run("CertificateA3Physical", func(t *testing.T) {
		stored, err := svc.Store(ctx, credential.CreateInput{
			UserID:      "user-1",
			Tribunal:    "esaj",
			TribunalURL: "https://esaj.example.jus.br",
			AuthType:    credential.AuthCertA3Token,
			Name:        "token fisico",
			TokenSerial: "SN-0042",
			TokenPIN:    "1234",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, stored.EncryptedPIN)
		assert.Empty(t, stored.EncryptedPassword)

		dec, err := svc.Decrypt(ctx, stored.ID)
		require.NoError(t, err)
		require.NotNil(t, dec)
		defer dec.Destroy()

		assert.Equal(t, "SN-0042", dec.TokenSerial)
		pin, err := credential.OpenSecret(dec.TokenPIN)
		require.NoError(t, err)
		assert.Equal(t, "1234", pin)
		assert.Nil(t, dec.Password)
		assert.Nil(t, dec.CertFile)
	})

	t.Run("CertificateA3Cloud", func(t *testing.T) {
		stored, err := svc.Store(ctx, credential.CreateInput{
			UserID:        "user-1",
			Tribunal:      "eproc",
			TribunalURL:   "https://eproc.example.jus.br",
			AuthType:      credential.AuthCertA3Cloud,
			Name:          "cert nuvem",
			CloudProvider: "neoid",
			CloudID:       "cloud-user-9",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, stored.EncryptedCloudID)
		assert.Empty(t, stored.EncryptedPIN)

		dec, err := svc.Decrypt(ctx, stored.ID)
		require.NoError(t, err)
		require.NotNil(t, dec)
		defer dec.Destroy()

		assert.Equal(t, "neoid", dec.CloudProvider)
		assert.Equal(t, "cloud-user-9", dec.CloudID)
		assert.Nil(t, dec.Password)
		assert.Nil(t, dec.TokenPIN)
		assert.Empty(t, dec.TokenSerial)
	})
}

func TestValidateRejectsMixedShapes(t *testing.T) {
	cred := &credential.StoredCredential{
		ID:                "x",
		AuthType:          credential.AuthPassword,
		Login:             "login",
		EncryptedPassword: "blob",
		EncryptedPIN:      "blob", // wrong shape for password
	}
	assert.Error(t, cred.Validate())

	cred.EncryptedPIN = ""
	assert.NoError(t, cred.Validate())
}

func TestDestroyWipes(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	stored, err := svc.Store(ctx, credential.CreateInput{
		UserID:       "user-1",
		Tribunal:     "pje",
		TribunalURL:  "https://pje.example.jus.br",
		AuthType:     credential.AuthCertA1,
		Name:         "cert",
		CertFile:     []byte{1, 2, 3, 4},
		CertPassword: "pass",
	})
	require.NoError(t, err)

	dec, err := svc.Decrypt(ctx, stored.ID)
	require.NoError(t, err)
	dec.Destroy()

	assert.Nil(t, dec.CertFile)
	assert.Nil(t, dec.CertPassword)
}
