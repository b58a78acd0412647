package secrets

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testValues = map[string]interface{}{
	"redis": map[string]interface{}{
		"password": "s3cret",
	},
	"providers": map[string]interface{}{
		"api_key": "sk-test-123",
	},
	"port": float64(6379),
}

func writeSecretsFile(t *testing.T, passphrase string, perm os.FileMode) string {
	t.Helper()

	data, err := json.Marshal(testValues)
	require.NoError(t, err)

	if passphrase != "" {
		data, err = Encrypt(data, passphrase)
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "secrets.json")
	require.NoError(t, os.WriteFile(path, data, perm))
	return path
}

func TestFileBackendPlaintext(t *testing.T) {
	path := writeSecretsFile(t, "", 0600)

	b := NewFileBackend(path, "")
	require.NoError(t, b.Init())
	assert.True(t, b.Ready())

	v, err := b.Get("redis.password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	v, err = b.Get("providers.api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", v)
}

func TestFileBackendEncrypted(t *testing.T) {
	path := writeSecretsFile(t, "hunter2", 0600)

	b := NewFileBackend(path, "hunter2")
	require.NoError(t, b.Init())

	v, err := b.Get("redis.password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)
}

func TestFileBackendWrongPassphrase(t *testing.T) {
	path := writeSecretsFile(t, "hunter2", 0600)

	b := NewFileBackend(path, "wrong")
	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decrypt")
	assert.False(t, b.Ready())
}

func TestFileBackendTamperedCiphertext(t *testing.T) {
	path := writeSecretsFile(t, "hunter2", 0600)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0600))

	b := NewFileBackend(path, "hunter2")
	require.Error(t, b.Init())
}

func TestFileBackendTruncatedCiphertext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0600))

	b := NewFileBackend(path, "hunter2")
	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ciphertext too short")
}

func TestFileBackendMissingFile(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "nope.json"), "")
	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secrets file not found")
}

func TestFileBackendWorldReadable(t *testing.T) {
	path := writeSecretsFile(t, "", 0644)

	b := NewFileBackend(path, "")
	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "world-readable")
}

func TestFileBackendGroupReadableAllowed(t *testing.T) {
	path := writeSecretsFile(t, "", 0640)

	b := NewFileBackend(path, "")
	require.NoError(t, b.Init())
}

func TestGetBeforeInit(t *testing.T) {
	b := NewFileBackend("unused", "")
	_, err := b.Get("redis.password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestGetMissingPath(t *testing.T) {
	path := writeSecretsFile(t, "", 0600)
	b := NewFileBackend(path, "")
	require.NoError(t, b.Init())

	_, err := b.Get("redis.missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = b.Get("redis.password.deeper")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetNonString(t *testing.T) {
	path := writeSecretsFile(t, "", 0600)
	b := NewFileBackend(path, "")
	require.NoError(t, b.Init())

	_, err := b.Get("port")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a string")
}

func TestRequire(t *testing.T) {
	path := writeSecretsFile(t, "", 0600)
	b := NewFileBackend(path, "")
	require.NoError(t, b.Init())

	assert.NoError(t, b.Require("redis.password", "providers.api_key"))

	err := b.Require("redis.password", "redis.missing", "other.key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.missing")
	assert.Contains(t, err.Error(), "other.key")
	assert.NotContains(t, err.Error(), "redis.password")
}

func TestEncryptProducesFreshSalt(t *testing.T) {
	a, err := Encrypt([]byte("{}"), "pw")
	require.NoError(t, err)
	b, err := Encrypt([]byte("{}"), "pw")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a[:32], b[:32])
}
