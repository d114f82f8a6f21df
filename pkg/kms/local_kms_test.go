package kms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalKMS_EncryptDecrypt(t *testing.T) {
	kms := NewLocalKMS(nil)

	keyID, err := kms.CreateKey(KeyTypeAES)
	require.NoError(t, err)

	ciphertext, err := kms.Encrypt(keyID, []byte("secret"))
	require.NoError(t, err)

	plaintext, err := kms.Decrypt(keyID, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), plaintext)

	meta, err := kms.Describe(keyID)
	require.NoError(t, err)
	assert.True(t, meta.Enabled)
	assert.Equal(t, KeyTypeAES, meta.Type)
}

func TestLocalKMS_UnsupportedAndMissing(t *testing.T) {
	kms := NewLocalKMS(nil)

	_, err := kms.CreateKey("RSA")
	assert.ErrorIs(t, err, ErrUnsupportedOp)

	_, err = kms.Encrypt("missing", []byte("x"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestLocalKMS_Disable(t *testing.T) {
	kms := NewLocalKMS(nil)
	keyID, err := kms.CreateKey(KeyTypeAES)
	require.NoError(t, err)

	require.NoError(t, kms.DisableKey(keyID))
	_, err = kms.Encrypt(keyID, []byte("x"))
	assert.ErrorIs(t, err, ErrKeyDisabled)
}

func TestLocalKMS_RootSecretSurvivesRestart(t *testing.T) {
	secret := []byte("root-secret-for-tests")
	first := NewLocalKMS(secret)
	keyID, err := first.CreateKey(KeyTypeAES)
	require.NoError(t, err)
	ciphertext, err := first.Encrypt(keyID, []byte("wrapped key"))
	require.NoError(t, err)

	restarted := NewLocalKMS(secret)
	plaintext, err := restarted.Decrypt(keyID, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("wrapped key"), plaintext)

	other := NewLocalKMS([]byte("different"))
	_, err = other.Decrypt(keyID, ciphertext)
	assert.Error(t, err)
}
