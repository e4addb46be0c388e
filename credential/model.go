// Package credential defines stored and decrypted credential models for
// tribunal authentication and the service that moves between them through
// the vault.
package credential

import (
	"fmt"
	"time"

	"github.com/awnumar/memguard"

	"github.com/forolabs/peticionador/internal/util"
)

// AuthType identifies how a credential authenticates against a tribunal.
type AuthType string

const (
	AuthPassword     AuthType = "password"
	AuthCertA1       AuthType = "certificate_a1"
	AuthCertA3Token  AuthType = "certificate_a3_physical"
	AuthCertA3Cloud  AuthType = "certificate_a3_cloud"
)

// Valid reports whether t is a known auth type.
func (t AuthType) Valid() bool {
	switch t {
	case AuthPassword, AuthCertA1, AuthCertA3Token, AuthCertA3Cloud:
		return true
	}
	return false
}

// NeedsUserInteraction reports whether authenticating with this type
// requires an out-of-band human action (token PIN entry or mobile-app
// approval). Jobs carrying such credentials cannot run unattended.
func NeedsUserInteraction(t AuthType) bool {
	return t == AuthCertA3Token || t == AuthCertA3Cloud
}

// StoredCredential is the at-rest form of a credential. Exactly the
// encrypted fields relevant to AuthType are populated; all others stay
// empty. Encrypted fields hold vault blobs, never plaintext.
type StoredCredential struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	Tribunal    string   `json:"tribunal"`
	TribunalURL string   `json:"tribunal_url"`
	AuthType    AuthType `json:"auth_type"`
	Name        string   `json:"name"`

	// password
	Login             string `json:"login,omitempty"`
	EncryptedPassword string `json:"encrypted_password,omitempty"`

	// certificate_a1
	EncryptedCertFile string `json:"encrypted_cert_file,omitempty"`
	EncryptedCertPass string `json:"encrypted_cert_pass,omitempty"`

	// certificate_a3_physical
	TokenSerial  string `json:"token_serial,omitempty"`
	EncryptedPIN string `json:"encrypted_pin,omitempty"`

	// certificate_a3_cloud
	CloudProvider    string `json:"cloud_provider,omitempty"`
	EncryptedCloudID string `json:"encrypted_cloud_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the single-shape invariant: the encrypted payload fields
// populated must be exactly those of the credential's auth type.
func (c *StoredCredential) Validate() error {
	if !c.AuthType.Valid() {
		return fmt.Errorf("unknown auth type %q", c.AuthType)
	}

	type shape struct {
		name    string
		present bool
		allowed bool
	}
	shapes := []shape{
		{"encrypted_password", c.EncryptedPassword != "", c.AuthType == AuthPassword},
		{"encrypted_cert_file", c.EncryptedCertFile != "", c.AuthType == AuthCertA1},
		{"encrypted_cert_pass", c.EncryptedCertPass != "", c.AuthType == AuthCertA1},
		{"encrypted_pin", c.EncryptedPIN != "", c.AuthType == AuthCertA3Token},
		{"encrypted_cloud_id", c.EncryptedCloudID != "", c.AuthType == AuthCertA3Cloud},
	}
	for _, s := range shapes {
		if s.present && !s.allowed {
			return fmt.Errorf("field %s must not be set for auth type %s", s.name, c.AuthType)
		}
	}

	switch c.AuthType {
	case AuthPassword:
		if c.Login == "" || c.EncryptedPassword == "" {
			return fmt.Errorf("password credential requires login and encrypted_password")
		}
	case AuthCertA1:
		if c.EncryptedCertFile == "" || c.EncryptedCertPass == "" {
			return fmt.Errorf("A1 credential requires encrypted_cert_file and encrypted_cert_pass")
		}
	case AuthCertA3Token:
		if c.TokenSerial == "" {
			return fmt.Errorf("A3 physical credential requires token_serial")
		}
	case AuthCertA3Cloud:
		if c.CloudProvider == "" || c.EncryptedCloudID == "" {
			return fmt.Errorf("A3 cloud credential requires cloud_provider and encrypted_cloud_id")
		}
	}
	return nil
}

// DecryptedCredential is the ephemeral in-memory projection of a
// StoredCredential. Secrets live in memguard enclaves (encrypted while at
// rest in memory) until the moment of use; the certificate file is a plain
// byte slice because it must be written to a scoped temp file anyway.
// Never persist or log this type. Call Destroy when done.
type DecryptedCredential struct {
	ID          string
	UserID      string
	Tribunal    string
	TribunalURL string
	AuthType    AuthType
	Name        string

	// password
	Login    string
	Password *memguard.Enclave

	// certificate_a1
	CertFile     []byte
	CertPassword *memguard.Enclave

	// certificate_a3_physical
	TokenSerial string
	TokenPIN    *memguard.Enclave

	// certificate_a3_cloud
	CloudProvider string
	CloudID       string

	destroyed bool
}

// OpenSecret opens an enclave and returns its contents as a string. The
// backing buffer is destroyed before returning, so the caller gets an
// ordinary string whose lifetime it controls.
func OpenSecret(e *memguard.Enclave) (string, error) {
	if e == nil {
		return "", nil
	}
	buf, err := e.Open()
	if err != nil {
		return "", fmt.Errorf("opening secret enclave: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// Destroy wipes the decrypted material. The credential must not be reused
// afterwards.
func (c *DecryptedCredential) Destroy() {
	if c == nil || c.destroyed {
		return
	}
	c.Password = nil
	c.CertPassword = nil
	c.TokenPIN = nil
	util.WipeBytes(c.CertFile)
	c.CertFile = nil
	c.CloudID = ""
	c.destroyed = true
}
