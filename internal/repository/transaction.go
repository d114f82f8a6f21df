package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"wallet-safety/internal/model"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *model.Transaction) error {
	if tx.Status == "" {
		tx.Status = model.TxStatusPending
	}
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("create transaction %s: %w", tx.TxHash, err)
	}
	return nil
}

func (r *TransactionRepository) CountPendingByWallet(ctx context.Context, walletID uint64) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("wallet_id = ? AND status = ?", walletID, model.TxStatusPending).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count pending for wallet %d: %w", walletID, err)
	}
	return int(n), nil
}

// UpdateStatus moves a PENDING transaction to status. It reports whether a row changed,
// so replays of the same block are no-ops.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, txHash, status string, blockNumber uint64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("tx_hash = ? AND status = ?", txHash, model.TxStatusPending).
		Updates(map[string]interface{}{"status": status, "block_number": blockNumber})
	if res.Error != nil {
		return false, fmt.Errorf("update transaction %s: %w", txHash, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *TransactionRepository) ListByWallet(ctx context.Context, walletID uint64, limit int) ([]model.Transaction, error) {
	var out []model.Transaction
	err := r.db.WithContext(ctx).Where("wallet_id = ?", walletID).Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// AutoMigrate creates the engine's tables; production schemas are managed externally.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Wallet{}, &model.Transaction{}, &model.Guardian{})
}
