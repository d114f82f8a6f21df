package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"wallet-safety/internal/model"
	"wallet-safety/pkg/circuitbreaker"
	"wallet-safety/pkg/logger"
	"wallet-safety/pkg/monitor"
)

// ErrCircuitOpen means the network's RPC endpoint is failing and calls are short-circuited.
var ErrCircuitOpen = circuitbreaker.ErrOpen

// EthProvider implements Provider over a go-ethereum RPC client.
type EthProvider struct {
	network string
	rpc     *rpc.Client
	eth     *ethclient.Client
	geth    *gethclient.Client
	timeout time.Duration
	breaker *circuitbreaker.Breaker
}

// Dial connects to rawURL. Subscriptions need a websocket or IPC endpoint.
func Dial(ctx context.Context, network, rawURL string, timeout time.Duration) (*EthProvider, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rc, err := rpc.DialContext(dialCtx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", network, err)
	}
	return NewEthProvider(network, rc, timeout), nil
}

func NewEthProvider(network string, rc *rpc.Client, timeout time.Duration) *EthProvider {
	log := logger.Named("chain", zap.String("network", network))
	cfg := circuitbreaker.DefaultConfig()
	cfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		log.Warn("RPC circuit breaker state changed",
			zap.String("from", from.String()), zap.String("to", to.String()))
	}
	return &EthProvider{
		network: network,
		rpc:     rc,
		eth:     ethclient.NewClient(rc),
		geth:    gethclient.New(rc),
		timeout: timeout,
		breaker: circuitbreaker.New(network, cfg),
	}
}

// DialAll connects one provider per network policy.
func DialAll(ctx context.Context, policies map[string]model.NetworkPolicy, timeout time.Duration) (map[string]Provider, error) {
	out := make(map[string]Provider, len(policies))
	for name, p := range policies {
		prov, err := Dial(ctx, name, p.RPCURL, timeout)
		if err != nil {
			for _, opened := range out {
				opened.Close()
			}
			return nil, err
		}
		out[name] = prov
	}
	return out, nil
}

func (p *EthProvider) Network() string { return p.network }

func (p *EthProvider) Close() { p.rpc.Close() }

// call runs fn under the per-call timeout and the network's circuit breaker.
func (p *EthProvider) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// NotFound is an answer, not an endpoint failure.
	notFound := false
	err := p.breaker.Execute(func() error {
		err := fn(ctx)
		if errors.Is(err, ethereum.NotFound) {
			notFound = true
			return nil
		}
		return err
	})
	if notFound {
		return ethereum.NotFound
	}
	if err != nil {
		monitor.Engine.RPCFailuresTotal.WithLabelValues(p.network, method).Inc()
	}
	return err
}

func (p *EthProvider) ChainID(ctx context.Context) (id *big.Int, err error) {
	err = p.call(ctx, "chain_id", func(ctx context.Context) error {
		id, err = p.eth.ChainID(ctx)
		return err
	})
	return id, err
}

func (p *EthProvider) BlockNumber(ctx context.Context) (n uint64, err error) {
	err = p.call(ctx, "block_number", func(ctx context.Context) error {
		n, err = p.eth.BlockNumber(ctx)
		return err
	})
	return n, err
}

func (p *EthProvider) BlockByNumber(ctx context.Context, number *big.Int) (b *types.Block, err error) {
	err = p.call(ctx, "block_by_number", func(ctx context.Context) error {
		b, err = p.eth.BlockByNumber(ctx, number)
		return err
	})
	return b, err
}

// FeeData follows the usual wallet convention: maxFee = 2*baseFee + tip.
func (p *EthProvider) FeeData(ctx context.Context) (*FeeData, error) {
	fd := &FeeData{}
	err := p.call(ctx, "fee_data", func(ctx context.Context) error {
		gp, err := p.eth.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		fd.GasPrice = gp

		head, err := p.eth.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		if head.BaseFee == nil {
			return nil
		}
		tip, err := p.eth.SuggestGasTipCap(ctx)
		if err != nil {
			return err
		}
		fd.BaseFee = head.BaseFee
		fd.MaxPriorityFeePerGas = tip
		fd.MaxFeePerGas = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fd, nil
}

func (p *EthProvider) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (g uint64, err error) {
	err = p.call(ctx, "estimate_gas", func(ctx context.Context) error {
		g, err = p.eth.EstimateGas(ctx, msg)
		return err
	})
	return g, err
}

func (p *EthProvider) BalanceAt(ctx context.Context, account common.Address) (bal *big.Int, err error) {
	err = p.call(ctx, "balance_at", func(ctx context.Context) error {
		bal, err = p.eth.BalanceAt(ctx, account, nil)
		return err
	})
	return bal, err
}

func (p *EthProvider) PendingNonceAt(ctx context.Context, account common.Address) (n uint64, err error) {
	err = p.call(ctx, "pending_nonce_at", func(ctx context.Context) error {
		n, err = p.eth.PendingNonceAt(ctx, account)
		return err
	})
	return n, err
}

func (p *EthProvider) TransactionReceipt(ctx context.Context, hash common.Hash) (r *types.Receipt, err error) {
	err = p.call(ctx, "transaction_receipt", func(ctx context.Context) error {
		r, err = p.eth.TransactionReceipt(ctx, hash)
		return err
	})
	return r, err
}

func (p *EthProvider) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return p.call(ctx, "send_transaction", func(ctx context.Context) error {
		return p.eth.SendTransaction(ctx, tx)
	})
}

// Subscriptions live until ctx ends or Unsubscribe; only setup goes through the breaker.
func (p *EthProvider) SubscribeNewHeads(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	if !p.breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	sub, err := p.eth.SubscribeNewHead(ctx, ch)
	p.record(err, "subscribe_heads")
	return sub, err
}

func (p *EthProvider) SubscribePendingTransactions(ctx context.Context, ch chan<- *types.Transaction) (ethereum.Subscription, error) {
	if !p.breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	sub, err := p.geth.SubscribeFullPendingTransactions(ctx, ch)
	p.record(err, "subscribe_pending")
	return sub, err
}

func (p *EthProvider) record(err error, method string) {
	if err != nil {
		p.breaker.RecordFailure()
		monitor.Engine.RPCFailuresTotal.WithLabelValues(p.network, method).Inc()
		return
	}
	p.breaker.RecordSuccess()
}
