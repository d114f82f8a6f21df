package model

import (
	"fmt"
	"math/big"
	"time"

	"wallet-safety/pkg/config"
	"wallet-safety/pkg/units"
)

// SecurityLimits are the per-network risk limits enforced by the validator.
type SecurityLimits struct {
	MaxGasPrice            *big.Int      `json:"max_gas_price"`
	MaxTransactionValue    *big.Int      `json:"max_transaction_value"`
	MinConfirmations       uint64        `json:"min_confirmations"`
	MaxPendingTransactions int           `json:"max_pending_transactions"`
	CooldownPeriod         time.Duration `json:"cooldown_period"`
	RequiredGuardians      int           `json:"required_guardians"`
}

// GuardianThreshold is the value above which guardian approvals are required.
func (l SecurityLimits) GuardianThreshold() *big.Int {
	return new(big.Int).Div(l.MaxTransactionValue, big.NewInt(2))
}

type GasPolicy struct {
	EIP1559         bool     `json:"eip1559"`
	DefaultGasLimit uint64   `json:"default_gas_limit"`
	MinGasLimit     uint64   `json:"min_gas_limit"`
	MaxGasLimit     uint64   `json:"max_gas_limit"`
	BufferPercent   int64    `json:"buffer_percent"`
	MaxGasPrice     *big.Int `json:"max_gas_price"`
	MaxPriorityFee  *big.Int `json:"max_priority_fee"`
}

type MonitorPolicy struct {
	PendingTxThreshold        int           `json:"pending_tx_threshold"`
	BlockDelayThreshold       time.Duration `json:"block_delay_threshold"`
	LargeTransactionThreshold *big.Int      `json:"large_transaction_threshold"`
	GasAlertThreshold         *big.Int      `json:"gas_alert_threshold"`
}

// NetworkPolicy is the wei-denominated form of config.NetworkConfig.
type NetworkPolicy struct {
	Name     string         `json:"name"`
	ChainID  *big.Int       `json:"chain_id"`
	Symbol   string         `json:"symbol"`
	Decimals int32          `json:"decimals"`
	RPCURL   string         `json:"rpc_url"`
	Limits   SecurityLimits `json:"limits"`
	Gas      GasPolicy      `json:"gas"`
	Monitor  MonitorPolicy  `json:"monitor"`
}

func NewNetworkPolicy(name string, c config.NetworkConfig) (NetworkPolicy, error) {
	maxGas, err := units.GweiToWei(c.MaxGasPriceGwei)
	if err != nil {
		return NetworkPolicy{}, fmt.Errorf("%s max_gas_price_gwei: %w", name, err)
	}
	maxPrio, err := units.GweiToWei(c.MaxPriorityFeeGwei)
	if err != nil {
		return NetworkPolicy{}, fmt.Errorf("%s max_priority_fee_gwei: %w", name, err)
	}
	maxValue, err := units.ToWei(c.MaxTransactionValue, c.Decimals)
	if err != nil {
		return NetworkPolicy{}, fmt.Errorf("%s max_transaction_value: %w", name, err)
	}
	large, err := units.ToWei(c.LargeTransactionThreshold, c.Decimals)
	if err != nil {
		return NetworkPolicy{}, fmt.Errorf("%s large_transaction_threshold: %w", name, err)
	}
	gasAlert, err := units.GweiToWei(c.GasAlertThresholdGwei)
	if err != nil {
		return NetworkPolicy{}, fmt.Errorf("%s gas_alert_threshold_gwei: %w", name, err)
	}
	if c.MinGasLimit > c.MaxGasLimit {
		return NetworkPolicy{}, fmt.Errorf("%s: min_gas_limit %d above max_gas_limit %d", name, c.MinGasLimit, c.MaxGasLimit)
	}

	return NetworkPolicy{
		Name:     name,
		ChainID:  big.NewInt(c.ChainID),
		Symbol:   c.Symbol,
		Decimals: c.Decimals,
		RPCURL:   c.RPCURL,
		Limits: SecurityLimits{
			MaxGasPrice:            maxGas,
			MaxTransactionValue:    maxValue,
			MinConfirmations:       c.MinConfirmations,
			MaxPendingTransactions: c.MaxPendingTransactions,
			CooldownPeriod:         c.Cooldown,
			RequiredGuardians:      c.RequiredGuardians,
		},
		Gas: GasPolicy{
			EIP1559:         c.EIP1559,
			DefaultGasLimit: c.DefaultGasLimit,
			MinGasLimit:     c.MinGasLimit,
			MaxGasLimit:     c.MaxGasLimit,
			BufferPercent:   c.GasBufferPercent,
			MaxGasPrice:     maxGas,
			MaxPriorityFee:  maxPrio,
		},
		Monitor: MonitorPolicy{
			PendingTxThreshold:        c.PendingTxThreshold,
			BlockDelayThreshold:       c.BlockDelayThreshold,
			LargeTransactionThreshold: large,
			GasAlertThreshold:         gasAlert,
		},
	}, nil
}

// NetworkPolicies converts every configured network.
func NetworkPolicies(networks map[string]config.NetworkConfig) (map[string]NetworkPolicy, error) {
	out := make(map[string]NetworkPolicy, len(networks))
	for name, c := range networks {
		p, err := NewNetworkPolicy(name, c)
		if err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}
