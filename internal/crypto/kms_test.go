package crypto

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	k, err := NewFromSecret("test-secret")
	if err != nil {
		t.Fatalf("NewFromSecret: %v", err)
	}

	plaintext := []byte("super-secret-vcs-token")
	blob, err := k.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if string(blob) == string(plaintext) {
		t.Fatalf("ciphertext must not equal plaintext")
	}

	decrypted, err := k.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Fatalf("got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	k1, _ := NewFromSecret("key-one")
	k2, _ := NewFromSecret("key-two")

	blob, err := k1.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := k2.Decrypt(blob); err == nil {
		t.Fatalf("expected decryption with wrong key to fail")
	}
}

func TestDecryptTruncatedBlobFails(t *testing.T) {
	k, _ := NewFromSecret("key")
	if _, err := k.Decrypt([]byte("short")); err == nil {
		t.Fatalf("expected short ciphertext to fail")
	}
}
