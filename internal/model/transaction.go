package model

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type TxType string

const (
	TxTypeTransfer TxType = "TRANSFER"
	TxTypeContract TxType = "CONTRACT_CALL"
	TxTypeRecovery TxType = "RECOVERY_TRANSFER"
)

// TransactionCandidate is an outbound transaction awaiting a safety verdict.
type TransactionCandidate struct {
	Network  string         `json:"network"`
	WalletID uint64         `json:"wallet_id"`
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Value    *big.Int       `json:"value"`
	Data     []byte         `json:"data,omitempty"`
	GasPrice *big.Int       `json:"gas_price,omitempty"`
	// Hash is the broadcast hash once known; guardian approvals use IntentHash before that.
	Hash common.Hash `json:"hash,omitempty"`
}

// IntentHash identifies the transaction for guardian approvals. Without a
// broadcast hash it is keccak256(network, wallet, to, value, data).
func (c TransactionCandidate) IntentHash() common.Hash {
	if c.Hash != (common.Hash{}) {
		return c.Hash
	}
	value := c.Value
	if value == nil {
		value = new(big.Int)
	}
	return crypto.Keccak256Hash(
		[]byte(strings.ToLower(c.Network)),
		new(big.Int).SetUint64(c.WalletID).Bytes(),
		c.To.Bytes(),
		common.LeftPadBytes(value.Bytes(), 32),
		c.Data,
	)
}

func (c TransactionCandidate) ValueOrZero() *big.Int {
	if c.Value == nil {
		return new(big.Int)
	}
	return c.Value
}

// TxRecord is the compact per-wallet history entry used by cooldown and pattern checks.
type TxRecord struct {
	Hash      common.Hash    `json:"hash"`
	To        common.Address `json:"to"`
	Value     *big.Int       `json:"value"`
	Timestamp time.Time      `json:"timestamp"`
	Network   string         `json:"network"`
}
