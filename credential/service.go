package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/forolabs/peticionador/vault"
)

// CreateInput carries the plaintext material for a new credential. The
// service encrypts the secret fields and never stores or logs them.
type CreateInput struct {
	UserID      string
	Tribunal    string
	TribunalURL string
	AuthType    AuthType
	Name        string

	Login    string
	Password string

	CertFile     []byte
	CertPassword string

	TokenSerial string
	TokenPIN    string

	CloudProvider string
	CloudID       string
}

// Service encrypts credentials on the way into the repository and decrypts
// them into ephemeral projections on the way out.
type Service struct {
	repo Repository
	v    *vault.Vault
}

// NewService creates a credential service over the given repository and vault.
func NewService(repo Repository, v *vault.Vault) *Service {
	return &Service{repo: repo, v: v}
}

// Store encrypts the input's secret fields and persists a StoredCredential
// whose payload shape matches the auth type exactly.
func (s *Service) Store(ctx context.Context, in CreateInput) (*StoredCredential, error) {
	if !in.AuthType.Valid() {
		return nil, fmt.Errorf("unknown auth type %q", in.AuthType)
	}

	now := time.Now().UTC()
	cred := &StoredCredential{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		Tribunal:    in.Tribunal,
		TribunalURL: in.TribunalURL,
		AuthType:    in.AuthType,
		Name:        in.Name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var err error
	switch in.AuthType {
	case AuthPassword:
		cred.Login = in.Login
		cred.EncryptedPassword, err = s.v.Encrypt(in.Password)
		if err != nil {
			return nil, fmt.Errorf("encrypting password: %w", err)
		}
	case AuthCertA1:
		cred.EncryptedCertFile, err = s.v.EncryptBytes(in.CertFile)
		if err != nil {
			return nil, fmt.Errorf("encrypting certificate file: %w", err)
		}
		cred.EncryptedCertPass, err = s.v.Encrypt(in.CertPassword)
		if err != nil {
			return nil, fmt.Errorf("encrypting certificate passphrase: %w", err)
		}
	case AuthCertA3Token:
		cred.TokenSerial = in.TokenSerial
		if in.TokenPIN != "" {
			cred.EncryptedPIN, err = s.v.Encrypt(in.TokenPIN)
			if err != nil {
				return nil, fmt.Errorf("encrypting token PIN: %w", err)
			}
		}
	case AuthCertA3Cloud:
		cred.CloudProvider = in.CloudProvider
		cred.EncryptedCloudID, err = s.v.Encrypt(in.CloudID)
		if err != nil {
			return nil, fmt.Errorf("encrypting cloud id: %w", err)
		}
	}

	if err := cred.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Put(ctx, cred); err != nil {
		return nil, fmt.Errorf("storing credential: %w", err)
	}
	return cred, nil
}

// Decrypt loads a credential and projects it into its decrypted form,
// populating exactly the fields relevant to the auth type. An unknown id
// yields (nil, nil) rather than an error so callers can distinguish
// "missing" from "tampered".
func (s *Service) Decrypt(ctx context.Context, id string) (*DecryptedCredential, error) {
	stored, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}

	dec := &DecryptedCredential{
		ID:          stored.ID,
		UserID:      stored.UserID,
		Tribunal:    stored.Tribunal,
		TribunalURL: stored.TribunalURL,
		AuthType:    stored.AuthType,
		Name:        stored.Name,
	}

	switch stored.AuthType {
	case AuthPassword:
		dec.Login = stored.Login
		pw, err := s.v.Decrypt(stored.EncryptedPassword)
		if err != nil {
			return nil, fmt.Errorf("decrypting password for credential %s: %w", stored.ID, err)
		}
		dec.Password = memguard.NewEnclave([]byte(pw))
	case AuthCertA1:
		dec.CertFile, err = s.v.DecryptBytes(stored.EncryptedCertFile)
		if err != nil {
			return nil, fmt.Errorf("decrypting certificate file for credential %s: %w", stored.ID, err)
		}
		pass, err := s.v.Decrypt(stored.EncryptedCertPass)
		if err != nil {
			return nil, fmt.Errorf("decrypting certificate passphrase for credential %s: %w", stored.ID, err)
		}
		dec.CertPassword = memguard.NewEnclave([]byte(pass))
	case AuthCertA3Token:
		dec.TokenSerial = stored.TokenSerial
		if stored.EncryptedPIN != "" {
			pin, err := s.v.Decrypt(stored.EncryptedPIN)
			if err != nil {
				return nil, fmt.Errorf("decrypting token PIN for credential %s: %w", stored.ID, err)
			}
			dec.TokenPIN = memguard.NewEnclave([]byte(pin))
		}
	case AuthCertA3Cloud:
		dec.CloudProvider = stored.CloudProvider
		dec.CloudID, err = s.v.Decrypt(stored.EncryptedCloudID)
		if err != nil {
			return nil, fmt.Errorf("decrypting cloud id for credential %s: %w", stored.ID, err)
		}
	}
	return dec, nil
}

// Delete removes a credential.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// ListByUser returns the stored (still encrypted) credentials of a user.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*StoredCredential, error) {
	return s.repo.ListByUser(ctx, userID)
}
