// Package crypto is the concrete backing of the *KMS* collaborator spec.md
// treats as external (encrypt(bytes) -> blob, decrypt(blob) -> bytes). It
// implements envelope encryption with a single process-wide key derived
// from SERVER_ENCRYPTION_KEY, using golang.org/x/crypto/nacl/secretbox —
// grounded on ConfigButler-gitops-reverser's golang.org/x/crypto dependency.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const keySize = 32

// KMS encrypts/decrypts credential blobs at rest (VCS credentials, agent
// credentials). It is a stand-in for the real KMS/Vault integration spec.md
// names as an external collaborator — the interface shape is what matters.
type KMS struct {
	key [keySize]byte
}

// NewFromSecret derives a 32-byte secretbox key from SERVER_ENCRYPTION_KEY
// via SHA-256, so operators can supply a human-typable secret of any length.
func NewFromSecret(secret string) (*KMS, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret must not be empty")
	}
	return &KMS{key: sha256.Sum256([]byte(secret))}, nil
}

// Encrypt returns a nonce-prefixed, authenticated ciphertext blob.
func (k *KMS) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &k.key), nil
}

// Decrypt reverses Encrypt, failing if the blob was tampered with or the
// key does not match.
func (k *KMS) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < 24 {
		return nil, fmt.Errorf("ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], blob[:24])

	plaintext, ok := secretbox.Open(nil, blob[24:], &nonce, &k.key)
	if !ok {
		return nil, fmt.Errorf("failed to decrypt: authentication failed")
	}
	return plaintext, nil
}
