package crypto_util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESGCM(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	plaintext := []byte("wallet private key material")

	ciphertext, err := EncryptAESGCM(key, plaintext)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(ciphertext, plaintext))

	decrypted, err := DecryptAESGCM(key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	ciphertext[len(ciphertext)-1] ^= 0xff
	_, err = DecryptAESGCM(key, ciphertext)
	assert.Error(t, err)
}

func TestAESGCM_InvalidInput(t *testing.T) {
	_, err := EncryptAESGCM([]byte("shortkey"), []byte("x"))
	assert.Error(t, err)

	_, err = DecryptAESGCM([]byte("0123456789abcdef"), []byte{1, 2})
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey([]byte("root"), []byte("key-1"), []byte("wallet"), 32)
	require.NoError(t, err)
	b, err := DeriveKey([]byte("root"), []byte("key-1"), []byte("wallet"), 32)
	require.NoError(t, err)
	c, err := DeriveKey([]byte("root"), []byte("key-2"), []byte("wallet"), 32)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
