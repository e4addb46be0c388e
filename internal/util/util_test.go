package util

import (
	"bytes"
	"testing"
)

func TestSealOpenAESGCM(t *testing.T) {
	key, _ := RandomBytes(AESKeySize)
	iv, _ := RandomBytes(GCMIVSize)
	plainText := []byte("hello world")

	t.Run("RoundTrip", func(t *testing.T) {
		cipherText, tag, err := SealAESGCM(plainText, key, iv)
		if err != nil {
			t.Fatalf("SealAESGCM failed: %v", err)
		}
		if len(tag) != GCMTagSize {
			t.Fatalf("expected %d-byte tag, got %d", GCMTagSize, len(tag))
		}

		decrypted, err := OpenAESGCM(cipherText, tag, key, iv)
		if err != nil {
			t.Fatalf("OpenAESGCM failed: %v", err)
		}
		if !bytes.Equal(plainText, decrypted) {
			t.Errorf("expected %s, got %s", plainText, decrypted)
		}
	})

	t.Run("TamperCipherText", func(t *testing.T) {
		cipherText, tag, _ := SealAESGCM(plainText, key, iv)
		cipherText[0] ^= 0xFF
		if _, err := OpenAESGCM(cipherText, tag, key, iv); err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("TamperTag", func(t *testing.T) {
		cipherText, tag, _ := SealAESGCM(plainText, key, iv)
		tag[len(tag)-1] ^= 0xFF
		if _, err := OpenAESGCM(cipherText, tag, key, iv); err == nil {
			t.Error("expected error with tampered tag, got nil")
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		cipherText, tag, _ := SealAESGCM(plainText, key, iv)
		otherKey, _ := RandomBytes(AESKeySize)
		if _, err := OpenAESGCM(cipherText, tag, otherKey, iv); err == nil {
			t.Error("expected error with wrong key, got nil")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		if _, _, err := SealAESGCM(plainText, []byte("too short"), iv); err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})

	t.Run("RejectBadIVSize", func(t *testing.T) {
		if _, _, err := SealAESGCM(plainText, key, []byte("bad")); err == nil {
			t.Error("expected error with wrong IV size, got nil")
		}
	})
}

func TestDeriveArgon2idKey(t *testing.T) {
	salt, _ := RandomBytes(16)
	params := DefaultArgon2idParams()

	key1, err := DeriveArgon2idKey("passphrase", salt, params)
	if err != nil {
		t.Fatalf("DeriveArgon2idKey failed: %v", err)
	}
	if len(key1) != AESKeySize {
		t.Fatalf("expected %d-byte key, got %d", AESKeySize, len(key1))
	}

	key2, _ := DeriveArgon2idKey("passphrase", salt, params)
	if !bytes.Equal(key1, key2) {
		t.Error("same passphrase and salt must derive the same key")
	}

	otherSalt, _ := RandomBytes(16)
	key3, _ := DeriveArgon2idKey("passphrase", otherSalt, params)
	if bytes.Equal(key1, key3) {
		t.Error("different salts must derive different keys")
	}

	t.Run("RejectBadKeyLen", func(t *testing.T) {
		bad := params
		bad.KeyLen = 16
		if _, err := DeriveArgon2idKey("passphrase", salt, bad); err == nil {
			t.Error("expected error with non-32-byte key length, got nil")
		}
	})

	t.Run("RejectEmptySalt", func(t *testing.T) {
		if _, err := DeriveArgon2idKey("passphrase", nil, params); err == nil {
			t.Error("expected error with empty salt, got nil")
		}
	})
}

func TestNormalize(t *testing.T) {
	// NFKD decomposes the precomposed "é" into "e" + combining accent, so
	// both input forms derive the same key downstream.
	composed := "petição"
	decomposed := "petição"
	if Normalize(composed) != Normalize(decomposed) {
		t.Error("expected NFKD normalization to unify both forms")
	}
}
