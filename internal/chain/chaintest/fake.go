// Package chaintest provides an in-memory chain.Provider for tests.
package chaintest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"wallet-safety/internal/chain"
)

// Provider is a scriptable chain.Provider. Exported fields may be set before
// use; use the methods once the provider is shared with running goroutines.
type Provider struct {
	mu sync.Mutex

	Name          string
	ChainIDValue  *big.Int
	Fee           *chain.FeeData
	FeeErr        error
	GasLimit      uint64
	EstimateErr   error
	SendErr       error
	SubscribeErr  error
	Head          uint64
	MineOnSend    uint64 // blocks mined after each send; 0 leaves the tx unmined
	ReceiptStatus uint64

	balances map[common.Address]*big.Int
	receipts map[common.Hash]*types.Receipt
	blocks   map[uint64]*types.Block
	nonces   map[common.Address]uint64
	sent     []*types.Transaction

	headCh      chan<- *types.Header
	pendingCh   chan<- *types.Transaction
	headSubs    int
	pendingSubs int
	subs        []*Subscription
}

var _ chain.Provider = (*Provider)(nil)

func New(name string, gasPrice *big.Int) *Provider {
	return &Provider{
		Name:          name,
		ChainIDValue:  big.NewInt(1),
		Fee:           &chain.FeeData{GasPrice: gasPrice},
		GasLimit:      21000,
		ReceiptStatus: types.ReceiptStatusSuccessful,
		balances:      make(map[common.Address]*big.Int),
		receipts:      make(map[common.Hash]*types.Receipt),
		blocks:        make(map[uint64]*types.Block),
		nonces:        make(map[common.Address]uint64),
	}
}

func (p *Provider) Network() string { return p.Name }

func (p *Provider) Close() {}

func (p *Provider) SetGasPrice(v *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fd := *p.Fee
	fd.GasPrice = v
	p.Fee = &fd
}

func (p *Provider) SetFeeErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FeeErr = err
}

func (p *Provider) SetBalance(addr common.Address, v *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[addr] = v
}

func (p *Provider) SetBlock(b *types.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocks[b.NumberU64()] = b
}

func (p *Provider) SetReceipt(r *types.Receipt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receipts[r.TxHash] = r
}

func (p *Provider) Sent() []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*types.Transaction(nil), p.sent...)
}

func (p *Provider) ChainID(context.Context) (*big.Int, error) {
	return p.ChainIDValue, nil
}

func (p *Provider) BlockNumber(context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Head, nil
}

func (p *Provider) BlockByNumber(_ context.Context, number *big.Int) (*types.Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.blocks[number.Uint64()]
	if !ok {
		return nil, ethereum.NotFound
	}
	return b, nil
}

func (p *Provider) FeeData(context.Context) (*chain.FeeData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FeeErr != nil {
		return nil, p.FeeErr
	}
	fd := *p.Fee
	return &fd, nil
}

func (p *Provider) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EstimateErr != nil {
		return 0, p.EstimateErr
	}
	return p.GasLimit, nil
}

func (p *Provider) BalanceAt(_ context.Context, account common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (p *Provider) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nonces[account], nil
}

func (p *Provider) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// SendTransaction records tx and, with MineOnSend > 0, mines it in the next
// block and advances the head by MineOnSend blocks.
func (p *Provider) SendTransaction(_ context.Context, tx *types.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SendErr != nil {
		return p.SendErr
	}
	p.sent = append(p.sent, tx)
	if from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		p.nonces[from] = tx.Nonce() + 1
		if bal, ok := p.balances[from]; ok {
			cost := new(big.Int).Add(tx.Value(), new(big.Int).Mul(tx.GasPrice(), new(big.Int).SetUint64(tx.Gas())))
			p.balances[from] = new(big.Int).Sub(bal, cost)
		}
	}
	if p.MineOnSend > 0 {
		block := p.Head + 1
		p.receipts[tx.Hash()] = &types.Receipt{
			TxHash:      tx.Hash(),
			Status:      p.ReceiptStatus,
			BlockNumber: new(big.Int).SetUint64(block),
			GasUsed:     tx.Gas(),
		}
		p.Head += p.MineOnSend
	}
	return nil
}

func (p *Provider) SubscribeNewHeads(_ context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SubscribeErr != nil {
		return nil, p.SubscribeErr
	}
	p.headCh = ch
	p.headSubs++
	return p.newSub(), nil
}

func (p *Provider) SubscribePendingTransactions(_ context.Context, ch chan<- *types.Transaction) (ethereum.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SubscribeErr != nil {
		return nil, p.SubscribeErr
	}
	p.pendingCh = ch
	p.pendingSubs++
	return p.newSub(), nil
}

func (p *Provider) newSub() *Subscription {
	s := &Subscription{errCh: make(chan error, 1)}
	p.subs = append(p.subs, s)
	return s
}

// Subscribed reports how many head and pending subscriptions were opened.
func (p *Provider) Subscribed() (heads, pending int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.headSubs, p.pendingSubs
}

// ActiveSubscriptions counts subscriptions not yet unsubscribed or failed.
func (p *Provider) ActiveSubscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.subs {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// EmitHead delivers h to the head subscriber. It reports false without a subscriber.
func (p *Provider) EmitHead(ctx context.Context, h *types.Header) bool {
	p.mu.Lock()
	ch := p.headCh
	p.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case ch <- h:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Provider) EmitPending(ctx context.Context, tx *types.Transaction) bool {
	p.mu.Lock()
	ch := p.pendingCh
	p.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case ch <- tx:
		return true
	case <-ctx.Done():
		return false
	}
}

// DropSubscriptions fails every open subscription with err, as a disconnect would.
func (p *Provider) DropSubscriptions(err error) {
	p.mu.Lock()
	subs := p.subs
	p.headCh, p.pendingCh = nil, nil
	p.mu.Unlock()
	for _, s := range subs {
		s.fail(err)
	}
}

type Subscription struct {
	mu     sync.Mutex
	errCh  chan error
	closed bool
}

func (s *Subscription) Err() <-chan error { return s.errCh }

func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.errCh)
	}
}

func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.errCh <- err
	close(s.errCh)
}
