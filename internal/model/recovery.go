package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type RecoveryType string

const (
	RecoveryGuardianTransfer  RecoveryType = "GUARDIAN_TRANSFER"
	RecoverySocialRecovery    RecoveryType = "SOCIAL_RECOVERY"
	RecoveryEmergencyFreeze   RecoveryType = "EMERGENCY_FREEZE"
	RecoveryMasterKeyRecovery RecoveryType = "MASTER_KEY_RECOVERY"
)

func (t RecoveryType) Valid() bool {
	switch t {
	case RecoveryGuardianTransfer, RecoverySocialRecovery, RecoveryEmergencyFreeze, RecoveryMasterKeyRecovery:
		return true
	}
	return false
}

type RecoveryStatus string

const (
	RecoveryPending           RecoveryStatus = "PENDING"
	RecoveryAwaitingApprovals RecoveryStatus = "AWAITING_APPROVALS"
	RecoveryInProgress        RecoveryStatus = "IN_PROGRESS"
	RecoveryCompleted         RecoveryStatus = "COMPLETED"
	RecoveryFailed            RecoveryStatus = "FAILED"
	RecoveryExpired           RecoveryStatus = "EXPIRED"
	RecoveryCancelled         RecoveryStatus = "CANCELLED"
)

// recoveryTransitions lists every allowed edge; terminal states have none.
var recoveryTransitions = map[RecoveryStatus][]RecoveryStatus{
	RecoveryPending:           {RecoveryAwaitingApprovals, RecoveryInProgress, RecoveryExpired, RecoveryCancelled, RecoveryFailed},
	RecoveryAwaitingApprovals: {RecoveryInProgress, RecoveryExpired, RecoveryCancelled},
	RecoveryInProgress:        {RecoveryCompleted, RecoveryFailed},
}

func (s RecoveryStatus) Terminal() bool {
	return len(recoveryTransitions[s]) == 0
}

// Approvable reports whether guardians may still approve or the user cancel.
func (s RecoveryStatus) Approvable() bool {
	return s == RecoveryPending || s == RecoveryAwaitingApprovals
}

func (s RecoveryStatus) CanTransition(to RecoveryStatus) bool {
	for _, next := range recoveryTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type RecoveryRequest struct {
	ID            string          `json:"id"`
	WalletID      uint64          `json:"wallet_id"`
	UserID        uint64          `json:"user_id"`
	Type          RecoveryType    `json:"type"`
	Status        RecoveryStatus  `json:"status"`
	NewAddress    *common.Address `json:"new_address,omitempty"`
	Approvals     []string        `json:"approvals"`
	TxHash        string          `json:"tx_hash,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// AddApproval adds guardian with set semantics and reports whether it was new.
func (r *RecoveryRequest) AddApproval(guardian string) bool {
	for _, g := range r.Approvals {
		if g == guardian {
			return false
		}
	}
	r.Approvals = append(r.Approvals, guardian)
	return true
}

func (r *RecoveryRequest) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// FreezeRecord outlives the request that created it.
type FreezeRecord struct {
	WalletID   uint64    `json:"wallet_id"`
	RequestID  string    `json:"request_id"`
	FrozenAt   time.Time `json:"frozen_at"`
	UnfreezeAt time.Time `json:"unfreeze_at"`
}
