package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TxStatusPending   = "PENDING"
	TxStatusConfirmed = "CONFIRMED"
	TxStatusFailed    = "FAILED"
)

// Wallet is a custodial wallet. EncryptedKey is wrapped by the KMS key KeyID.
type Wallet struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       uint64    `gorm:"not null;index" json:"user_id"`
	Network      string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_network_address" json:"network"`
	Address      string    `gorm:"type:varchar(42);not null;uniqueIndex:idx_network_address" json:"address"`
	EncryptedKey []byte    `gorm:"type:bytea;not null" json:"-"`
	KeyID        string    `gorm:"type:varchar(64);not null" json:"key_id"`
	IsActive     bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Transaction is an outbound transaction sent from a platform wallet.
type Transaction struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	WalletID    uint64          `gorm:"not null;index:idx_wallet_status" json:"wallet_id"`
	Network     string          `gorm:"type:varchar(20);not null" json:"network"`
	TxHash      string          `gorm:"type:varchar(66);uniqueIndex;not null" json:"tx_hash"`
	FromAddress string          `gorm:"type:varchar(42);not null" json:"from_address"`
	ToAddress   string          `gorm:"type:varchar(42);not null" json:"to_address"`
	Amount      decimal.Decimal `gorm:"type:decimal(78,0);not null" json:"amount"` // wei
	Status      string          `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_wallet_status" json:"status"`
	BlockNumber uint64          `json:"block_number"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Guardian is a trusted party entitled to approve recoveries for a wallet.
type Guardian struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	WalletID  uint64    `gorm:"not null;uniqueIndex:idx_wallet_guardian" json:"wallet_id"`
	Address   string    `gorm:"type:varchar(42);not null;uniqueIndex:idx_wallet_guardian" json:"address"`
	Name      string    `gorm:"type:varchar(64)" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

func (Transaction) TableName() string {
	return "wallet_transactions"
}

func (Guardian) TableName() string {
	return "wallet_guardians"
}
