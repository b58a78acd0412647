// Package secrets loads credentials and other sensitive values from a JSON
// document kept outside the workspace, optionally encrypted at rest. Lookups
// are fail-fast: a missing secret is always an error, never a default.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

// ErrNotFound is returned when a requested secret path does not exist.
var ErrNotFound = errors.New("secret not found")

// Backend resolves dotted secret paths such as "redis.password".
type Backend interface {
	Get(path string) (string, error)
}

// FileBackend reads secrets from a single JSON file. When a passphrase is
// configured the file must be AES-256-GCM encrypted with a PBKDF2-derived
// key and a 32-byte salt prefix, as produced by Encrypt.
type FileBackend struct {
	path       string
	passphrase string
	values     map[string]interface{}
	ready      bool
}

// NewFileBackend creates a backend for the given file. Call Init before Get.
func NewFileBackend(path, passphrase string) *FileBackend {
	return &FileBackend{path: path, passphrase: passphrase}
}

// Init loads the secrets file, decrypting it first when a passphrase is
// configured. Missing files, loose permissions, a wrong passphrase, and
// tampered ciphertext are all errors; callers should treat any of them as
// fatal.
func (b *FileBackend) Init() error {
	info, err := os.Stat(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("secrets file not found: %s", b.path)
		}
		return fmt.Errorf("failed to stat secrets file: %w", err)
	}

	mode := info.Mode().Perm()
	if mode&0o004 != 0 {
		return fmt.Errorf("secrets file %s is world-readable, fix with chmod 600", b.path)
	}
	if mode&0o040 != 0 {
		log.Warn().Str("path", b.path).Msg("Secrets file is group-readable, chmod 600 recommended")
	}

	data, err := os.ReadFile(b.path)
	if err != nil {
		return fmt.Errorf("failed to read secrets file: %w", err)
	}

	if b.passphrase != "" {
		data, err = decryptWithPassphrase(data, b.passphrase)
		if err != nil {
			return fmt.Errorf("failed to decrypt secrets file: %w", err)
		}
	}

	var values map[string]interface{}
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse secrets file: %w", err)
	}

	b.values = values
	b.ready = true
	log.Info().
		Str("path", b.path).
		Bool("encrypted", b.passphrase != "").
		Msg("Secrets backend initialized")
	return nil
}

// Ready reports whether Init completed successfully.
func (b *FileBackend) Ready() bool {
	return b != nil && b.ready
}

// Get resolves a dotted path like "providers.api_key" to a string value.
func (b *FileBackend) Get(path string) (string, error) {
	if !b.ready {
		return "", errors.New("secrets backend not initialized")
	}

	var node interface{} = b.values
	for _, part := range strings.Split(path, ".") {
		m, ok := node.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		node, ok = m[part]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
	}

	value, ok := node.(string)
	if !ok {
		return "", fmt.Errorf("secret at %s is not a string", path)
	}
	return value, nil
}

// Require verifies that every listed path resolves to a non-empty string.
// Intended for startup validation so misconfiguration fails before serving.
func (b *FileBackend) Require(paths ...string) error {
	var missing []string
	for _, p := range paths {
		v, err := b.Get(p)
		if err != nil || v == "" {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required secrets: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Encrypt seals plaintext with AES-256-GCM using a key derived from the
// passphrase via PBKDF2 (SHA-256, 100k iterations). The random 32-byte salt
// is prepended to the returned ciphertext.
func Encrypt(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(passphrase), salt, 100000, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	// Prepend salt to ciphertext
	result := make([]byte, len(salt)+len(ciphertext))
	copy(result, salt)
	copy(result[len(salt):], ciphertext)

	return result, nil
}

func decryptWithPassphrase(ciphertext []byte, passphrase string) ([]byte, error) {
	if len(ciphertext) < 32 {
		return nil, fmt.Errorf("ciphertext too short")
	}

	// Extract salt
	salt := ciphertext[:32]
	ciphertext = ciphertext[32:]

	key := pbkdf2.Key([]byte(passphrase), salt, 100000, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: wrong passphrase or corrupted file")
	}

	return plaintext, nil
}
