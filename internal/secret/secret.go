// Package secret encrypts account credentials at rest.
//
// A random 256-bit key lives in a key file next to the data; values are
// AES-GCM sealed and stored base64-encoded with a short prefix so encrypted
// and legacy plaintext values can be told apart. Decrypt falls back to the
// raw input on failure, which lets a store written before encryption was
// enabled migrate transparently on its next write.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	keySize = 32
	prefix  = "enc:v1:"
)

// Cipher seals and opens credential strings with a file-backed key.
type Cipher struct {
	aead cipher.AEAD
}

// LoadOrCreate reads the key file, generating a fresh key when the file is
// missing or unusable. Regenerating on a corrupt key matches the recovery
// stance of the rest of the system: never wedge startup over bad state.
func LoadOrCreate(path string) (*Cipher, error) {
	key, err := os.ReadFile(path)
	if err != nil || len(key) != keySize {
		key = make([]byte, keySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, key, 0o600); err != nil {
			return nil, fmt.Errorf("write key file: %w", err)
		}
	}
	return New(key)
}

// New builds a Cipher from a raw 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals a plaintext credential. Empty input stays empty, and an
// already-encrypted value is returned unchanged so re-saving a table never
// double-wraps credentials.
func (c *Cipher) Encrypt(plain string) (string, error) {
	if plain == "" || strings.HasPrefix(plain, prefix) {
		return plain, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return prefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a sealed credential. Values without the encryption prefix,
// or that fail to open (key rotated out from under the store), are returned
// as-is so operators can recover manually.
func (c *Cipher) Decrypt(stored string) string {
	if !strings.HasPrefix(stored, prefix) {
		return stored
	}
	raw, err := base64.RawStdEncoding.DecodeString(stored[len(prefix):])
	if err != nil || len(raw) < c.aead.NonceSize() {
		return stored
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return stored
	}
	return string(plain)
}

// IsEncrypted reports whether a stored value carries the encryption prefix.
func IsEncrypted(stored string) bool { return strings.HasPrefix(stored, prefix) }
