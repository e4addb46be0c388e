// Package vault provides authenticated encryption for credential material
// at rest. The on-disk format is four colon-joined base64 segments,
// salt:iv:tag:ciphertext, produced by AES-256-GCM under a key derived from
// the configured passphrase with Argon2id. Every call draws a fresh salt
// and IV, so encrypting the same plaintext twice yields different blobs.
// The derived key exists only for the duration of a call and is wiped
// before returning.
package vault

import (
	"fmt"
	"strings"

	"github.com/forolabs/peticionador/internal/util"
)

const (
	saltLen     = 16
	segmentSep  = ":"
	numSegments = 4
)

// Vault encrypts and decrypts credential payloads under a single passphrase.
// The passphrase is NFKD-normalized once at construction.
type Vault struct {
	passphrase string
	kdfParams  util.Argon2idParams
}

// Option configures a Vault.
type Option func(*Vault)

// WithKDFParams overrides the Argon2id parameters. Intended for tests, which
// can shrink the memory cost; production uses the default profile.
func WithKDFParams(params util.Argon2idParams) Option {
	return func(v *Vault) {
		v.kdfParams = params
	}
}

// New creates a Vault keyed by the given passphrase.
func New(passphrase string, opts ...Option) (*Vault, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("vault passphrase must not be empty")
	}
	v := &Vault{
		passphrase: util.Normalize(passphrase),
		kdfParams:  util.DefaultArgon2idParams(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Encrypt seals plaintext into a salt:iv:tag:ciphertext blob.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	salt, err := util.RandomBytes(saltLen)
	if err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	iv, err := util.RandomBytes(util.GCMIVSize)
	if err != nil {
		return "", fmt.Errorf("generating IV: %w", err)
	}

	key, err := util.DeriveArgon2idKey(v.passphrase, salt, v.kdfParams)
	if err != nil {
		return "", fmt.Errorf("deriving encryption key: %w", err)
	}
	defer util.WipeBytes(key)

	ciphertext, tag, err := util.SealAESGCM([]byte(plaintext), key, iv)
	if err != nil {
		return "", fmt.Errorf("encrypting payload: %w", err)
	}

	segments := []string{
		util.B64Encode(salt),
		util.B64Encode(iv),
		util.B64Encode(tag),
		util.B64Encode(ciphertext),
	}
	return strings.Join(segments, segmentSep), nil
}

// Decrypt opens a blob produced by Encrypt. It returns ErrMalformedBlob when
// the segment structure is wrong and ErrDecryptionFailed when the
// authentication tag does not verify; it never returns partial plaintext.
func (v *Vault) Decrypt(blob string) (string, error) {
	segments := strings.Split(blob, segmentSep)
	if len(segments) != numSegments {
		return "", fmt.Errorf("%w: expected %d segments, got %d", ErrMalformedBlob, numSegments, len(segments))
	}

	decoded := make([][]byte, numSegments)
	for i, seg := range segments {
		b, err := util.B64Decode(seg)
		if err != nil {
			return "", fmt.Errorf("%w: segment %d is not valid base64", ErrMalformedBlob, i)
		}
		decoded[i] = b
	}
	salt, iv, tag, ciphertext := decoded[0], decoded[1], decoded[2], decoded[3]

	key, err := util.DeriveArgon2idKey(v.passphrase, salt, v.kdfParams)
	if err != nil {
		return "", fmt.Errorf("deriving decryption key: %w", err)
	}
	defer util.WipeBytes(key)

	plaintext, err := util.OpenAESGCM(ciphertext, tag, key, iv)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// EncryptBytes seals a binary payload, such as an A1 certificate file, by
// base64-encoding it and running it through Encrypt. Thin wrapper, same
// mechanism.
func (v *Vault) EncryptBytes(plaintext []byte) (string, error) {
	return v.Encrypt(util.B64Encode(plaintext))
}

// DecryptBytes opens a blob produced by EncryptBytes.
func (v *Vault) DecryptBytes(blob string) ([]byte, error) {
	s, err := v.Decrypt(blob)
	if err != nil {
		return nil, err
	}
	b, err := util.B64Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not valid base64", ErrMalformedBlob)
	}
	return b, nil
}
