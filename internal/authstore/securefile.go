package authstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const saltFile = ".salt"

// Argon2id parameters for the storage key derivation.
const (
	kdfTime    = 3
	kdfMemory  = 64 * 1024
	kdfThreads = 4
)

// SecureFile is the preferred backend: blobs encrypted at rest with a key
// derived from a device passphrase.
type SecureFile struct {
	dir  string
	aead cipher.AEAD
}

var _ Backend = (*SecureFile)(nil)

// NewSecureFile opens (or initializes) an encrypted blob directory. The salt
// is created on first use and kept alongside the blobs.
func NewSecureFile(dir, passphrase string) (*SecureFile, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("securefile: passphrase is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("securefile: create dir: %w", err)
	}

	saltPath := filepath.Join(dir, saltFile)
	salt, err := os.ReadFile(saltPath)
	if os.IsNotExist(err) {
		salt = make([]byte, 16)
		if _, rerr := rand.Read(salt); rerr != nil {
			return nil, fmt.Errorf("securefile: generate salt: %w", rerr)
		}
		if werr := os.WriteFile(saltPath, salt, 0o600); werr != nil {
			return nil, fmt.Errorf("securefile: write salt: %w", werr)
		}
	} else if err != nil {
		return nil, fmt.Errorf("securefile: read salt: %w", err)
	}

	key := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("securefile: init cipher: %w", err)
	}

	return &SecureFile{dir: dir, aead: aead}, nil
}

func (s *SecureFile) path(key string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(key))
	return filepath.Join(s.dir, name)
}

// Get reads and decrypts the blob for key.
func (s *SecureFile) Get(_ context.Context, key string) (string, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("securefile: read %s: %w", key, err)
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("securefile: blob for %s is truncated", key)
	}

	plain, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(key))
	if err != nil {
		return "", fmt.Errorf("securefile: decrypt %s: %w", key, err)
	}
	return string(plain), nil
}

// Set encrypts and writes the blob, atomically replacing any previous value.
func (s *SecureFile) Set(_ context.Context, key, value string) error {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("securefile: generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(value), []byte(key))

	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("securefile: write %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("securefile: commit %s: %w", key, err)
	}
	return nil
}

// Delete removes the blob. Absence is not an error.
func (s *SecureFile) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("securefile: delete %s: %w", key, err)
	}
	return nil
}

// Keys lists stored keys matching prefix.
func (s *SecureFile) Keys(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("securefile: list keys: %w", err)
	}

	var keys []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == saltFile || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(e.Name())
		if err != nil {
			continue
		}
		if key := string(raw); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
