package cryptoutil

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESGCMEncryptor_EncryptDecrypt(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	enc, err := NewAESGCMEncryptor(key)
	require.NoError(t, err)

	plaintext := []byte(`{"webhook_url":"https://hooks.example.com/T000/B000"}`)
	ciphertext, err := enc.Encrypt(plaintext)
	require.NoError(t, err)

	// iv:authTag:ciphertext, all hex
	parts := strings.Split(ciphertext, ":")
	require.Len(t, parts, 3)
	iv, err := hex.DecodeString(parts[0])
	require.NoError(t, err)
	assert.Len(t, iv, 12)
	tag, err := hex.DecodeString(parts[1])
	require.NoError(t, err)
	assert.Len(t, tag, 16)

	decrypted, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestAESGCMEncryptor_UniqueIVs(t *testing.T) {
	key := make([]byte, 32)
	enc, err := NewAESGCMEncryptor(key)
	require.NoError(t, err)

	a, err := enc.Encrypt([]byte("same input"))
	require.NoError(t, err)
	b, err := enc.Encrypt([]byte("same input"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestAESGCMEncryptor_BackwardCompatibilityWithNoop(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	enc, err := NewAESGCMEncryptor(key)
	require.NoError(t, err)

	// Simulate a config that was encrypted with NoopEncryptor
	plaintext := []byte("legacy config value")
	noopCiphertext := noopPrefix + base64.StdEncoding.EncodeToString(plaintext)

	decrypted, err := enc.Decrypt(noopCiphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestAESGCMEncryptor_InvalidKey(t *testing.T) {
	// Key too short
	_, err := NewAESGCMEncryptor([]byte("short"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be 32 bytes")

	// Key too long
	_, err = NewAESGCMEncryptor(make([]byte, 64))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be 32 bytes")
}

func TestAESGCMEncryptor_InvalidCiphertext(t *testing.T) {
	key := make([]byte, 32)
	enc, err := NewAESGCMEncryptor(key)
	require.NoError(t, err)

	// Wrong part count
	_, err = enc.Decrypt("deadbeef")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed ciphertext")

	// Invalid hex
	_, err = enc.Decrypt("zz:zz:zz")
	require.Error(t, err)

	// Wrong tag length
	_, err = enc.Decrypt("00112233445566778899aabb:00:00")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth tag")

	// Tampered ciphertext fails authentication
	good, err := enc.Encrypt([]byte("payload"))
	require.NoError(t, err)
	parts := strings.Split(good, ":")
	tampered := parts[0] + ":" + parts[1] + ":" + strings.Repeat("00", len(parts[2])/2)
	_, err = enc.Decrypt(tampered)
	require.Error(t, err)
}

func TestNoopEncryptor_EncryptDecrypt(t *testing.T) {
	enc := NoopEncryptor{}

	plaintext := []byte("test value")
	ciphertext, err := enc.Encrypt(plaintext)
	require.NoError(t, err)

	// Verify it has the noop prefix
	assert.Contains(t, ciphertext, "noop:")

	// Decrypt and verify
	decrypted, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestNoopEncryptor_InvalidCiphertext(t *testing.T) {
	enc := NoopEncryptor{}

	// Missing noop prefix
	_, err := enc.Decrypt("00:11:22")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid noop ciphertext")
}
