package tribunal

import (
	"fmt"
	"os"

	"github.com/forolabs/peticionador/credential"
)

// AuthFromCredential opens the decrypted credential's enclaves into an
// Auth value. For certificate_a1 it provisions the certificate as a scoped
// temporary file; the returned cleanup removes it and must run on every
// exit path. The caller still owns and destroys the credential.
func AuthFromCredential(cred *credential.DecryptedCredential) (Auth, func(), error) {
	noop := func() {}

	password, err := credential.OpenSecret(cred.Password)
	if err != nil {
		return Auth{}, noop, err
	}
	certPassword, err := credential.OpenSecret(cred.CertPassword)
	if err != nil {
		return Auth{}, noop, err
	}
	pin, err := credential.OpenSecret(cred.TokenPIN)
	if err != nil {
		return Auth{}, noop, err
	}

	auth := Auth{
		Type:          cred.AuthType,
		Login:         cred.Login,
		Password:      password,
		CertPassword:  certPassword,
		TokenPIN:      pin,
		CloudProvider: cred.CloudProvider,
		CloudID:       cred.CloudID,
	}

	if cred.AuthType != credential.AuthCertA1 {
		return auth, noop, nil
	}

	f, err := os.CreateTemp("", "peticionador-cert-*.pfx")
	if err != nil {
		return Auth{}, noop, fmt.Errorf("provisioning certificate file: %w", err)
	}
	path := f.Name()
	if err := os.Chmod(path, 0o600); err != nil {
		f.Close()
		os.Remove(path)
		return Auth{}, noop, fmt.Errorf("restricting certificate file: %w", err)
	}
	if _, err := f.Write(cred.CertFile); err != nil {
		f.Close()
		os.Remove(path)
		return Auth{}, noop, fmt.Errorf("writing certificate file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return Auth{}, noop, fmt.Errorf("writing certificate file: %w", err)
	}
	auth.CertPath = path
	return auth, func() { os.Remove(path) }, nil
}
