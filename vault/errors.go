package vault

import "errors"

var (
	// ErrMalformedBlob indicates the encrypted blob does not have the
	// expected salt:iv:tag:ciphertext segment structure.
	ErrMalformedBlob = errors.New("malformed encrypted blob")
	// ErrDecryptionFailed indicates the authentication tag did not verify:
	// the blob was tampered with or the passphrase is wrong.
	ErrDecryptionFailed = errors.New("decryption failed")
)
