package model

import (
	"math/big"
	"time"
)

type CongestionLevel string

const (
	CongestionLow    CongestionLevel = "LOW"
	CongestionMedium CongestionLevel = "MEDIUM"
	CongestionHigh   CongestionLevel = "HIGH"
)

// Gauge maps the level onto 0..2 for metrics.
func (c CongestionLevel) Gauge() float64 {
	switch c {
	case CongestionMedium:
		return 1
	case CongestionHigh:
		return 2
	default:
		return 0
	}
}

// NetworkState is owned by the network monitor; everyone else reads copies.
type NetworkState struct {
	Network         string          `json:"network"`
	BlockNumber     uint64          `json:"block_number"`
	GasPrice        *big.Int        `json:"gas_price,omitempty"`
	SafeGasPrice    *big.Int        `json:"safe_gas_price,omitempty"`
	ProposeGasPrice *big.Int        `json:"propose_gas_price,omitempty"`
	FastGasPrice    *big.Int        `json:"fast_gas_price,omitempty"`
	BaseFee         *big.Int        `json:"base_fee,omitempty"`
	PendingTxCount  int             `json:"pending_tx_count"`
	Congestion      CongestionLevel `json:"congestion"`
	LastBlockAt     time.Time       `json:"last_block_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s NetworkState) Clone() NetworkState {
	out := s
	out.GasPrice = copyInt(s.GasPrice)
	out.SafeGasPrice = copyInt(s.SafeGasPrice)
	out.ProposeGasPrice = copyInt(s.ProposeGasPrice)
	out.FastGasPrice = copyInt(s.FastGasPrice)
	out.BaseFee = copyInt(s.BaseFee)
	return out
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
