package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"wallet-safety/internal/model"
	"wallet-safety/pkg/errno"
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetByID(ctx context.Context, id uint64) (*model.Wallet, error) {
	var w model.Wallet
	err := r.db.WithContext(ctx).First(&w, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errno.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet %d: %w", id, err)
	}
	return &w, nil
}

func (r *WalletRepository) SetActive(ctx context.Context, id uint64, active bool) error {
	res := r.db.WithContext(ctx).Model(&model.Wallet{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("set wallet %d active=%t: %w", id, active, res.Error)
	}
	if res.RowsAffected == 0 {
		return errno.ErrWalletNotFound
	}
	return nil
}

// UpdateKey swaps the wallet's address and wrapped key in one statement.
func (r *WalletRepository) UpdateKey(ctx context.Context, id uint64, address string, encryptedKey []byte, keyID string) error {
	res := r.db.WithContext(ctx).Model(&model.Wallet{}).Where("id = ?", id).Updates(map[string]interface{}{
		"address":       address,
		"encrypted_key": encryptedKey,
		"key_id":        keyID,
	})
	if res.Error != nil {
		return fmt.Errorf("update wallet %d key: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return errno.ErrWalletNotFound
	}
	return nil
}

// Addresses lists the addresses of every wallet on network.
func (r *WalletRepository) Addresses(ctx context.Context, network string) ([]string, error) {
	var out []string
	err := r.db.WithContext(ctx).Model(&model.Wallet{}).Where("network = ?", network).Pluck("address", &out).Error
	if err != nil {
		return nil, fmt.Errorf("list %s wallet addresses: %w", network, err)
	}
	return out, nil
}
