package kms

import "errors"

type KeyType string

const KeyTypeAES KeyType = "AES"

// KeyMetadata never carries key material.
type KeyMetadata struct {
	KeyID     string  `json:"key_id"`
	Type      KeyType `json:"type"`
	CreatedAt int64   `json:"created_at"`
	Enabled   bool    `json:"enabled"`
}

// KeyManager wraps data keys under master keys that never leave the manager.
type KeyManager interface {
	CreateKey(kType KeyType) (string, error)
	Describe(keyID string) (KeyMetadata, error)
	Encrypt(keyID string, plaintext []byte) ([]byte, error)
	Decrypt(keyID string, ciphertext []byte) ([]byte, error)
	DisableKey(keyID string) error
}

var (
	ErrKeyNotFound   = errors.New("kms: key not found")
	ErrKeyDisabled   = errors.New("kms: key disabled")
	ErrUnsupportedOp = errors.New("kms: unsupported key type")
)
