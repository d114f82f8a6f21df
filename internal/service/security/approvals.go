package security

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"wallet-safety/pkg/cache"
	"wallet-safety/pkg/errno"
)

func approvalKey(walletID uint64, hash common.Hash) string {
	return fmt.Sprintf("security:approvals:%d:%s", walletID, hash.Hex())
}

// AddGuardianApproval records guardian's approval of the transaction with
// the given intent hash and returns the distinct approval count. Approving
// twice is a no-op.
func (v *Validator) AddGuardianApproval(ctx context.Context, walletID uint64, hash common.Hash, guardian string) (int, error) {
	if !common.IsHexAddress(guardian) {
		return 0, errno.ErrInvalidAddress
	}
	guardian = strings.ToLower(common.HexToAddress(guardian).Hex())

	unlock, err := v.deps.Locker.Lock(ctx, approvalKey(walletID, hash))
	if err != nil {
		return 0, err
	}
	defer unlock()

	approvals, err := v.approvals(ctx, walletID, hash)
	if err != nil {
		return 0, err
	}
	for _, g := range approvals {
		if g == guardian {
			return len(approvals), nil
		}
	}
	approvals = append(approvals, guardian)
	if err := v.deps.Cache.Set(ctx, approvalKey(walletID, hash), approvals, v.opts.ApprovalTTL); err != nil {
		return 0, err
	}
	v.log.Info("Guardian approval recorded",
		zap.Uint64("wallet_id", walletID),
		zap.String("tx_hash", hash.Hex()),
		zap.String("guardian", guardian),
		zap.Int("approvals", len(approvals)))
	return len(approvals), nil
}

func (v *Validator) GuardianApprovalCount(ctx context.Context, walletID uint64, hash common.Hash) (int, error) {
	approvals, err := v.approvals(ctx, walletID, hash)
	return len(approvals), err
}

func (v *Validator) approvals(ctx context.Context, walletID uint64, hash common.Hash) ([]string, error) {
	if v.deps.Cache == nil {
		return nil, errors.New("approval store not configured")
	}
	var approvals []string
	err := v.deps.Cache.Get(ctx, approvalKey(walletID, hash), &approvals)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	return approvals, err
}
