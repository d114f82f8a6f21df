package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"wallet-safety/internal/model"
)

// GuardianRepository is the guardian directory.
type GuardianRepository struct {
	db *gorm.DB
}

func NewGuardianRepository(db *gorm.DB) *GuardianRepository {
	return &GuardianRepository{db: db}
}

// Guardians returns the lower-cased guardian addresses of a wallet.
func (r *GuardianRepository) Guardians(ctx context.Context, walletID uint64) ([]string, error) {
	var addrs []string
	err := r.db.WithContext(ctx).Model(&model.Guardian{}).Where("wallet_id = ?", walletID).Pluck("address", &addrs).Error
	if err != nil {
		return nil, fmt.Errorf("list guardians for wallet %d: %w", walletID, err)
	}
	for i := range addrs {
		addrs[i] = strings.ToLower(addrs[i])
	}
	return addrs, nil
}

func (r *GuardianRepository) Add(ctx context.Context, g *model.Guardian) error {
	g.Address = strings.ToLower(g.Address)
	return r.db.WithContext(ctx).Create(g).Error
}
