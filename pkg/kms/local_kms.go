package kms

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"wallet-safety/pkg/crypto_util"
)

type keyEntry struct {
	meta     KeyMetadata
	material []byte
}

// LocalKMS keeps AES-256 master keys in process memory. With a root secret
// the material of every key is derived from (secret, keyID), so a restart
// with the same secret can still open ciphertexts produced before it.
type LocalKMS struct {
	mu     sync.RWMutex
	keys   map[string]*keyEntry
	secret []byte
}

func NewLocalKMS(rootSecret []byte) *LocalKMS {
	return &LocalKMS{
		keys:   make(map[string]*keyEntry),
		secret: rootSecret,
	}
}

func (k *LocalKMS) CreateKey(kType KeyType) (string, error) {
	if kType != KeyTypeAES {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedOp, kType)
	}

	keyID := uuid.NewString()
	material, err := k.material(keyID)
	if err != nil {
		return "", fmt.Errorf("create key material: %w", err)
	}

	k.mu.Lock()
	k.keys[keyID] = &keyEntry{
		meta: KeyMetadata{
			KeyID:     keyID,
			Type:      kType,
			CreatedAt: time.Now().Unix(),
			Enabled:   true,
		},
		material: material,
	}
	k.mu.Unlock()
	return keyID, nil
}

func (k *LocalKMS) material(keyID string) ([]byte, error) {
	if len(k.secret) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	return crypto_util.DeriveKey(k.secret, []byte(keyID), []byte("wallet-safety/kms/aes"), 32)
}

// lookup returns the entry for keyID, re-deriving it when the process has
// restarted and a root secret is configured.
func (k *LocalKMS) lookup(keyID string) (*keyEntry, error) {
	k.mu.RLock()
	entry, ok := k.keys[keyID]
	k.mu.RUnlock()
	if ok {
		if !entry.meta.Enabled {
			return nil, ErrKeyDisabled
		}
		return entry, nil
	}
	if len(k.secret) == 0 {
		return nil, ErrKeyNotFound
	}
	if _, err := uuid.Parse(keyID); err != nil {
		return nil, ErrKeyNotFound
	}
	material, err := k.material(keyID)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if existing, ok := k.keys[keyID]; ok {
		if !existing.meta.Enabled {
			return nil, ErrKeyDisabled
		}
		return existing, nil
	}
	entry = &keyEntry{
		meta:     KeyMetadata{KeyID: keyID, Type: KeyTypeAES, Enabled: true},
		material: material,
	}
	k.keys[keyID] = entry
	return entry, nil
}

func (k *LocalKMS) Describe(keyID string) (KeyMetadata, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	entry, ok := k.keys[keyID]
	if !ok {
		return KeyMetadata{}, ErrKeyNotFound
	}
	return entry.meta, nil
}

func (k *LocalKMS) Encrypt(keyID string, plaintext []byte) ([]byte, error) {
	entry, err := k.lookup(keyID)
	if err != nil {
		return nil, err
	}
	return crypto_util.EncryptAESGCM(entry.material, plaintext)
}

func (k *LocalKMS) Decrypt(keyID string, ciphertext []byte) ([]byte, error) {
	entry, err := k.lookup(keyID)
	if err != nil {
		return nil, err
	}
	return crypto_util.DecryptAESGCM(entry.material, ciphertext)
}

// DisableKey is permanent for the lifetime of the process.
func (k *LocalKMS) DisableKey(keyID string) error {
	if _, err := k.lookup(keyID); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	entry := k.keys[keyID]
	entry.meta.Enabled = false
	for i := range entry.material {
		entry.material[i] = 0
	}
	return nil
}
