package model

import "time"

type AlertType string

const (
	AlertBlockDelay         AlertType = "BLOCK_DELAY"
	AlertLargeTransaction   AlertType = "LARGE_TRANSACTION"
	AlertHighGasPrice       AlertType = "HIGH_GAS_PRICE"
	AlertHighCongestion     AlertType = "HIGH_CONGESTION"
	AlertBlacklistedAddress AlertType = "BLACKLISTED_ADDRESS"
	AlertSecurityBreach     AlertType = "SECURITY_BREACH"
	AlertRecoveryInitiated  AlertType = "RECOVERY_INITIATED"
	AlertRecoveryCompleted  AlertType = "RECOVERY_COMPLETED"
	AlertRecoveryFailed     AlertType = "RECOVERY_FAILED"
	AlertRecoveryCancelled  AlertType = "RECOVERY_CANCELLED"
	AlertWalletFrozen       AlertType = "WALLET_FROZEN"
	AlertWalletUnfrozen     AlertType = "WALLET_UNFROZEN"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

type Alert struct {
	ID        string            `json:"id"`
	Type      AlertType         `json:"type"`
	Severity  Severity          `json:"severity"`
	Network   string            `json:"network,omitempty"`
	Message   string            `json:"message"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
