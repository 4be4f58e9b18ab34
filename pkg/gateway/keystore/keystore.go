// Package keystore persists user-provided provider API keys to a local JSON
// file. When a master key is configured each value is sealed with AES-256-GCM
// before it hits disk; without one values are stored in plaintext so local
// development works without extra setup.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Well-known key names, matching the fields clients send over the live socket.
const (
	KeyAssemblyAI = "assemblyai_api_key"
	KeyGoogle     = "google_api_key"
	KeyMurf       = "murf_api_key"
)

type Store struct {
	path string

	mu   sync.Mutex
	aead cipher.AEAD // nil => plaintext storage
}

// New opens a store backed by path. masterKey may be empty; any non-empty
// value is accepted and stretched to a 256-bit AES key.
func New(path, masterKey string) (*Store, error) {
	s := &Store{path: path}
	if masterKey != "" {
		sum := sha256.Sum256([]byte(masterKey))
		block, err := aes.NewCipher(sum[:])
		if err != nil {
			return nil, fmt.Errorf("keystore: derive cipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("keystore: init gcm: %w", err)
		}
		s.aead = aead
	}
	return s, nil
}

// Sealed reports whether values are encrypted at rest.
func (s *Store) Sealed() bool {
	return s != nil && s.aead != nil
}

// Load reads all stored keys. A missing file is an empty store, not an error.
func (s *Store) Load() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("keystore: read %s: %w", s.path, err)
	}

	var stored map[string]string
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("keystore: parse %s: %w", s.path, err)
	}

	out := make(map[string]string, len(stored))
	for name, value := range stored {
		out[name] = s.open(value)
	}
	return out, nil
}

// Set stores one key, preserving the others.
func (s *Store) Set(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.loadLocked()
	if err != nil {
		return err
	}
	keys[name] = value
	return s.saveLocked(keys)
}

// SetAll replaces or adds each provided key, preserving keys not mentioned.
func (s *Store) SetAll(updates map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.loadLocked()
	if err != nil {
		return err
	}
	for name, value := range updates {
		if value == "" {
			continue
		}
		keys[name] = value
	}
	return s.saveLocked(keys)
}

func (s *Store) saveLocked(keys map[string]string) error {
	stored := make(map[string]string, len(keys))
	for name, value := range keys {
		sealed, err := s.seal(value)
		if err != nil {
			return err
		}
		stored[name] = sealed
	}

	raw, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("keystore: encode: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("keystore: write %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) seal(plaintext string) (string, error) {
	if s.aead == nil {
		return plaintext, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("keystore: nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// open decrypts a stored value. Values that do not decode or authenticate are
// returned as-is: they were written before sealing was enabled, or by hand.
func (s *Store) open(stored string) string {
	if s.aead == nil {
		return stored
	}
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil || len(raw) < s.aead.NonceSize() {
		return stored
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return stored
	}
	return string(plaintext)
}
