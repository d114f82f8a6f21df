package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxRequest is the minimum needed to estimate a transaction's gas.
type TxRequest struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Value *big.Int        `json:"value,omitempty"`
	Data  []byte          `json:"data,omitempty"`
}

type GasEstimate struct {
	Network              string          `json:"network"`
	GasPrice             *big.Int        `json:"gas_price"`
	RawGasPrice          *big.Int        `json:"raw_gas_price"`
	MaxFeePerGas         *big.Int        `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas *big.Int        `json:"max_priority_fee_per_gas,omitempty"`
	GasLimit             uint64          `json:"gas_limit"`
	TotalCost            *big.Int        `json:"total_cost"`
	IsWithinLimits       bool            `json:"is_within_limits"`
	Congestion           CongestionLevel `json:"congestion"`
	Timestamp            time.Time       `json:"timestamp"`
}

type GasSample struct {
	GasPrice  *big.Int  `json:"gas_price"`
	Timestamp time.Time `json:"timestamp"`
}

// GasStats summarises a window of gas samples. All values are zero for an empty window.
type GasStats struct {
	Average *big.Int `json:"average"`
	Median  *big.Int `json:"median"`
	Min     *big.Int `json:"min"`
	Max     *big.Int `json:"max"`
	Samples int      `json:"samples"`
}
