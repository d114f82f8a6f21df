package recovery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"wallet-safety/internal/chain"
	"wallet-safety/internal/model"
	"wallet-safety/internal/service/security"
	"wallet-safety/pkg/errno"
	"wallet-safety/pkg/kms"
	"wallet-safety/pkg/logger"
)

// Executor performs the side effects of one recovery type. The coordinator
// owns the state machine; executors only act and report.
type Executor interface {
	Execute(ctx context.Context, req *model.RecoveryRequest, w *model.Wallet) error
}

// Gate is the transaction safety gate recovery transfers must pass.
type Gate interface {
	ValidateMainnetTransaction(ctx context.Context, network string, walletID uint64, cand model.TransactionCandidate, txType model.TxType) security.Result
	AddGuardianApproval(ctx context.Context, walletID uint64, hash common.Hash, guardian string) (int, error)
	RecordTransaction(ctx context.Context, walletID uint64, cand model.TransactionCandidate, network string) error
}

type TxStore interface {
	Create(ctx context.Context, tx *model.Transaction) error
	UpdateStatus(ctx context.Context, txHash, status string, blockNumber uint64) (bool, error)
}

var (
	errInsufficientBalance = errors.New("balance does not cover the transfer fee")
	errTxReverted          = errors.New("recovery transfer reverted")
	errKeyMismatch         = errors.New("stored key does not match wallet address")
)

// TransferExecutor moves a wallet's whole native balance, less the fee, to
// the request's new address and deactivates the source once the transfer
// has enough confirmations.
type TransferExecutor struct {
	Providers     map[string]chain.Provider
	Gate          Gate
	Keys          kms.KeyManager
	Wallets       Wallets
	Transactions  TxStore
	Confirmations uint64
	Poll          time.Duration
	Timeout       time.Duration
}

func (e *TransferExecutor) Execute(ctx context.Context, req *model.RecoveryRequest, w *model.Wallet) error {
	if req.NewAddress == nil || *req.NewAddress == (common.Address{}) {
		return errno.ErrInvalidAddress
	}
	from := common.HexToAddress(w.Address)
	to := *req.NewAddress
	if to == from {
		return errno.ErrInvalidAddress
	}
	p, ok := e.Providers[w.Network]
	if !ok {
		return errno.ErrNetworkNotSupported
	}

	balance, err := p.BalanceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	fee, err := p.FeeData(ctx)
	if err != nil {
		return fmt.Errorf("fee data: %w", err)
	}
	price := fee.GasPrice
	dynamic := fee.BaseFee != nil && fee.MaxFeePerGas != nil
	if dynamic {
		price = fee.MaxFeePerGas
	}
	if price == nil {
		return errors.New("provider returned no gas price")
	}
	cost := new(big.Int).Mul(price, new(big.Int).SetUint64(params.TxGas))
	value := new(big.Int).Sub(balance, cost)
	if value.Sign() <= 0 {
		return errInsufficientBalance
	}

	cand := model.TransactionCandidate{
		Network:  w.Network,
		WalletID: w.ID,
		From:     from,
		To:       to,
		Value:    value,
		GasPrice: price,
	}
	// The guardians that approved the recovery approve its transfer.
	intent := cand.IntentHash()
	for _, g := range req.Approvals {
		if _, err := e.Gate.AddGuardianApproval(ctx, w.ID, intent, g); err != nil {
			return fmt.Errorf("guardian approval: %w", err)
		}
	}
	if res := e.Gate.ValidateMainnetTransaction(ctx, w.Network, w.ID, cand, model.TxTypeRecovery); !res.IsValid {
		return fmt.Errorf("recovery transfer rejected: %w", res.Err)
	}

	signed, err := e.sign(ctx, p, w, from, to, value, fee, dynamic)
	if err != nil {
		return err
	}
	cand.Hash = signed.Hash()
	req.TxHash = signed.Hash().Hex()

	sendErr := p.SendTransaction(ctx, signed)
	if err := e.Gate.RecordTransaction(ctx, w.ID, cand, w.Network); err != nil {
		logger.Warn("Recovery transfer not recorded", zap.String("tx_hash", req.TxHash), zap.Error(err))
	}
	if sendErr != nil {
		return fmt.Errorf("send: %w", sendErr)
	}
	if err := e.Transactions.Create(ctx, &model.Transaction{
		WalletID:    w.ID,
		Network:     w.Network,
		TxHash:      req.TxHash,
		FromAddress: from.Hex(),
		ToAddress:   to.Hex(),
		Amount:      decimal.NewFromBigInt(value, 0),
		Status:      model.TxStatusPending,
	}); err != nil {
		logger.Warn("Recovery transfer row not stored", zap.String("tx_hash", req.TxHash), zap.Error(err))
	}
	logger.Info("Recovery transfer sent",
		zap.String("request_id", req.ID),
		zap.String("tx_hash", req.TxHash),
		zap.String("to", to.Hex()),
		zap.String("value", value.String()))

	receipt, err := e.waitConfirmed(ctx, p, signed.Hash())
	if receipt != nil {
		status := model.TxStatusConfirmed
		if receipt.Status != types.ReceiptStatusSuccessful {
			status = model.TxStatusFailed
		}
		if _, uerr := e.Transactions.UpdateStatus(ctx, req.TxHash, status, receipt.BlockNumber.Uint64()); uerr != nil {
			logger.Warn("Recovery transfer status not stored", zap.String("tx_hash", req.TxHash), zap.Error(uerr))
		}
	}
	if err != nil {
		return err
	}
	return e.Wallets.SetActive(ctx, w.ID, false)
}

func (e *TransferExecutor) sign(ctx context.Context, p chain.Provider, w *model.Wallet, from, to common.Address, value *big.Int, fee *chain.FeeData, dynamic bool) (*types.Transaction, error) {
	raw, err := e.Keys.Decrypt(w.KeyID, w.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("unwrap key: %w", err)
	}
	defer clear(raw)
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	if crypto.PubkeyToAddress(priv.PublicKey) != from {
		return nil, errKeyMismatch
	}

	nonce, err := p.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	chainID, err := p.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}

	var tx *types.Transaction
	if dynamic {
		tip := fee.MaxPriorityFeePerGas
		if tip == nil || tip.Cmp(fee.MaxFeePerGas) > 0 {
			tip = fee.MaxFeePerGas
		}
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: fee.MaxFeePerGas,
			Gas:       params.TxGas,
			To:        &to,
			Value:     value,
		})
	} else {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fee.GasPrice,
			Gas:      params.TxGas,
			To:       &to,
			Value:    value,
		})
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), priv)
}

// waitConfirmed polls until hash has e.Confirmations confirmations. A
// reverted receipt is returned together with errTxReverted.
func (e *TransferExecutor) waitConfirmed(ctx context.Context, p chain.Provider, hash common.Hash) (*types.Receipt, error) {
	need := e.Confirmations
	if need == 0 {
		need = 1
	}
	poll := e.Poll
	if poll <= 0 {
		poll = 5 * time.Second
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	for {
		receipt, err := p.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt.Status != types.ReceiptStatusSuccessful:
			return receipt, errTxReverted
		case err == nil:
			head, herr := p.BlockNumber(ctx)
			if herr == nil && head+1 >= receipt.BlockNumber.Uint64()+need {
				return receipt, nil
			}
		case !errors.Is(err, ethereum.NotFound):
			logger.Warn("Receipt lookup failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %d confirmations: %w", need, ctx.Err())
		case <-time.After(poll):
		}
	}
}

// SocialRecoveryExecutor replaces the wallet's key pair with a fresh one
// wrapped under the same master key. The wallet stays active.
type SocialRecoveryExecutor struct {
	Keys    kms.KeyManager
	Wallets Wallets
}

func (e *SocialRecoveryExecutor) Execute(ctx context.Context, req *model.RecoveryRequest, w *model.Wallet) error {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	raw := crypto.FromECDSA(priv)
	defer clear(raw)

	wrapped, err := e.Keys.Encrypt(w.KeyID, raw)
	if err != nil {
		return fmt.Errorf("wrap key: %w", err)
	}
	address := crypto.PubkeyToAddress(priv.PublicKey).Hex()
	if err := e.Wallets.UpdateKey(ctx, w.ID, address, wrapped, w.KeyID); err != nil {
		return err
	}
	logger.Info("Wallet key replaced",
		zap.String("request_id", req.ID),
		zap.Uint64("wallet_id", w.ID),
		zap.String("old_address", w.Address),
		zap.String("new_address", address))
	return nil
}

// MasterKeyExecutor re-wraps the wallet's private key under a newly created
// master key. The old master key is left enabled because other wallets may
// still be wrapped by it.
type MasterKeyExecutor struct {
	Keys    kms.KeyManager
	Wallets Wallets
}

func (e *MasterKeyExecutor) Execute(ctx context.Context, req *model.RecoveryRequest, w *model.Wallet) error {
	raw, err := e.Keys.Decrypt(w.KeyID, w.EncryptedKey)
	if err != nil {
		return fmt.Errorf("unwrap key: %w", err)
	}
	defer clear(raw)

	keyID, err := e.Keys.CreateKey(kms.KeyTypeAES)
	if err != nil {
		return fmt.Errorf("create master key: %w", err)
	}
	wrapped, err := e.Keys.Encrypt(keyID, raw)
	if err != nil {
		return fmt.Errorf("wrap key: %w", err)
	}
	if err := e.Wallets.UpdateKey(ctx, w.ID, w.Address, wrapped, keyID); err != nil {
		return err
	}
	logger.Info("Wallet master key rotated",
		zap.String("request_id", req.ID),
		zap.Uint64("wallet_id", w.ID),
		zap.String("old_key_id", w.KeyID),
		zap.String("new_key_id", keyID))
	return nil
}

// Executors builds the standard strategy table.
func Executors(transfer *TransferExecutor, keys kms.KeyManager, wallets Wallets) map[model.RecoveryType]Executor {
	return map[model.RecoveryType]Executor{
		model.RecoveryGuardianTransfer:  transfer,
		model.RecoverySocialRecovery:    &SocialRecoveryExecutor{Keys: keys, Wallets: wallets},
		model.RecoveryMasterKeyRecovery: &MasterKeyExecutor{Keys: keys, Wallets: wallets},
		model.RecoveryEmergencyFreeze:   FreezeExecutor{Wallets: wallets},
	}
}
