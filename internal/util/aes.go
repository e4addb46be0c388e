package util

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

const (
	AESKeySize = 32
	GCMIVSize  = 12
	GCMTagSize = 16
)

// SealAESGCM encrypts plainText with AES-256-GCM under the given key and IV,
// returning the ciphertext and the authentication tag as separate slices so
// callers can store them as distinct segments.
func SealAESGCM(plainText, rawKey, iv []byte) (cipherText, tag []byte, err error) {
	gcm, err := newGCM(rawKey, len(iv))
	if err != nil {
		return nil, nil, err
	}

	sealed := gcm.Seal(nil, iv, plainText, nil)
	split := len(sealed) - GCMTagSize
	return sealed[:split], sealed[split:], nil
}

// OpenAESGCM decrypts ciphertext produced by SealAESGCM, verifying the
// detached authentication tag. Any tampering with the ciphertext, tag, IV,
// or key makes the open fail; no partial plaintext is ever returned.
func OpenAESGCM(cipherText, tag, rawKey, iv []byte) ([]byte, error) {
	gcm, err := newGCM(rawKey, len(iv))
	if err != nil {
		return nil, err
	}
	if len(tag) != GCMTagSize {
		return nil, fmt.Errorf("invalid GCM tag size: got %d, want %d", len(tag), GCMTagSize)
	}

	sealed := make([]byte, 0, len(cipherText)+len(tag))
	sealed = append(sealed, cipherText...)
	sealed = append(sealed, tag...)

	plainText, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("opening GCM: %w", err)
	}
	return plainText, nil
}

func newGCM(rawKey []byte, ivSize int) (cipher.AEAD, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}
	if ivSize != GCMIVSize {
		return nil, fmt.Errorf("invalid GCM IV size: got %d, want %d", ivSize, GCMIVSize)
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
