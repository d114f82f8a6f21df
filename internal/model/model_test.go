package model

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-safety/pkg/config"
)

func TestIntentHashDeterministic(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	a := TransactionCandidate{Network: "bsc", WalletID: 7, To: to, Value: big.NewInt(60)}
	b := a
	assert.Equal(t, a.IntentHash(), b.IntentHash())

	b.Value = big.NewInt(61)
	assert.NotEqual(t, a.IntentHash(), b.IntentHash())

	a.Hash = common.HexToHash("0x01")
	assert.Equal(t, common.HexToHash("0x01"), a.IntentHash())
}

func TestRecoveryTransitions(t *testing.T) {
	assert.True(t, RecoveryPending.CanTransition(RecoveryAwaitingApprovals))
	assert.True(t, RecoveryAwaitingApprovals.CanTransition(RecoveryInProgress))
	assert.True(t, RecoveryInProgress.CanTransition(RecoveryCompleted))
	assert.False(t, RecoveryAwaitingApprovals.CanTransition(RecoveryCompleted))
	assert.False(t, RecoveryInProgress.CanTransition(RecoveryCancelled))

	for _, s := range []RecoveryStatus{RecoveryCompleted, RecoveryFailed, RecoveryExpired, RecoveryCancelled} {
		assert.True(t, s.Terminal(), s)
		assert.False(t, s.CanTransition(RecoveryPending), s)
	}
}

func TestAddApprovalIsSet(t *testing.T) {
	r := &RecoveryRequest{}
	assert.True(t, r.AddApproval("0xg1"))
	assert.False(t, r.AddApproval("0xg1"))
	assert.True(t, r.AddApproval("0xg2"))
	assert.Len(t, r.Approvals, 2)
}

func TestNetworkPolicyFromDefaults(t *testing.T) {
	policies, err := NetworkPolicies(config.DefaultNetworks())
	require.NoError(t, err)

	bsc := policies["bsc"]
	hundredBNB, _ := new(big.Int).SetString("100000000000000000000", 10)
	assert.Equal(t, 0, bsc.Limits.MaxTransactionValue.Cmp(hundredBNB))
	assert.Equal(t, "50000000000000000000", bsc.Limits.GuardianThreshold().String())
	assert.Equal(t, "20000000000", bsc.Gas.MaxGasPrice.String())

	_, err = NewNetworkPolicy("bad", config.NetworkConfig{MaxGasPriceGwei: "x"})
	assert.Error(t, err)
}
