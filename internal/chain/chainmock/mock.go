// Package chainmock provides a configurable in-memory chain.Client for
// tests. Operations read exported fields (maps, values and error switches);
// gas estimation can be overridden with EstimateGasFn. Unset state yields
// zero balances and nonces, empty blocks and 50000 gas, while raw calls,
// unknown token metadata and missing receipts return errors, so each test
// only wires what it exercises.
package chainmock

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github/chapool/hot-wallet/internal/chain"
)

type Client struct {
	mu sync.Mutex

	Head      uint64
	Blocks    map[uint64]*chain.Block
	Logs      map[uint64][]chain.TransferLog
	Balances  map[common.Address]*big.Int
	TokenBals map[common.Address]map[common.Address]*big.Int
	Metadata  map[common.Address]chain.TokenMetadata
	Nonces    map[common.Address]uint64
	Receipts  map[common.Hash]*chain.Receipt

	GasPriceWei *big.Int
	ChainIDVal  *big.Int
	Push        bool

	EstimateGasFn  func(msg chain.CallMsg) (uint64, error)
	MetadataErr    error
	SendErr        error
	ReceiptTimeout bool
	FailReceipts   bool

	// Sent collects every broadcast transaction, decoded.
	Sent []*types.Transaction
}

func New() *Client {
	return &Client{
		Blocks:      map[uint64]*chain.Block{},
		Logs:        map[uint64][]chain.TransferLog{},
		Balances:    map[common.Address]*big.Int{},
		TokenBals:   map[common.Address]map[common.Address]*big.Int{},
		Metadata:    map[common.Address]chain.TokenMetadata{},
		Nonces:      map[common.Address]uint64{},
		Receipts:    map[common.Hash]*chain.Receipt{},
		GasPriceWei: big.NewInt(1_000_000_000),
		ChainIDVal:  big.NewInt(1337),
	}
}

func (c *Client) CurrentHead(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Head, nil
}

func (c *Client) BlockByNumber(_ context.Context, number uint64) (*chain.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if block, ok := c.Blocks[number]; ok {
		return block, nil
	}
	return &chain.Block{Number: number}, nil
}

func (c *Client) TransferLogs(_ context.Context, fromBlock, toBlock uint64, _ []common.Address) ([]chain.TransferLog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var logs []chain.TransferLog
	for n := fromBlock; n <= toBlock; n++ {
		logs = append(logs, c.Logs[n]...)
	}
	return logs, nil
}

func (c *Client) Call(context.Context, common.Address, []byte) ([]byte, error) {
	return nil, errors.New("chainmock: raw calls not configured")
}

func (c *Client) TokenMetadata(_ context.Context, token common.Address) (chain.TokenMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.MetadataErr != nil {
		return chain.TokenMetadata{}, c.MetadataErr
	}
	if meta, ok := c.Metadata[token]; ok {
		return meta, nil
	}
	return chain.TokenMetadata{}, errors.New("chainmock: unknown token")
}

func (c *Client) Balance(_ context.Context, address common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if balance, ok := c.Balances[address]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

func (c *Client) TokenBalance(_ context.Context, token, address common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if balances, ok := c.TokenBals[token]; ok {
		if balance, ok := balances[address]; ok {
			return new(big.Int).Set(balance), nil
		}
	}
	return big.NewInt(0), nil
}

func (c *Client) EstimateGas(_ context.Context, msg chain.CallMsg) (uint64, error) {
	if c.EstimateGasFn != nil {
		return c.EstimateGasFn(msg)
	}
	return 50_000, nil
}

func (c *Client) GasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.GasPriceWei), nil
}

func (c *Client) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.ChainIDVal), nil
}

func (c *Client) Nonce(_ context.Context, address common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Nonces[address], nil
}

func (c *Client) SendRawTransaction(_ context.Context, signed []byte) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return common.Hash{}, c.SendErr
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed); err != nil {
		return common.Hash{}, errors.Wrap(err, "chainmock: bad raw transaction")
	}
	c.Sent = append(c.Sent, tx)
	if _, ok := c.Receipts[tx.Hash()]; !ok {
		status := chain.ReceiptStatusSuccessful
		if c.FailReceipts {
			status = 0
		}
		c.Receipts[tx.Hash()] = &chain.Receipt{TxHash: tx.Hash(), Status: status}
	}
	return tx.Hash(), nil
}

func (c *Client) WaitForReceipt(_ context.Context, txHash common.Hash, _ time.Duration) (*chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReceiptTimeout {
		return nil, errors.New("chainmock: receipt timeout")
	}
	if receipt, ok := c.Receipts[txHash]; ok {
		return receipt, nil
	}
	return nil, errors.New("chainmock: no receipt")
}

func (c *Client) SubscribeHeads(context.Context) (<-chan uint64, func(), error) {
	if !c.Push {
		return nil, nil, chain.ErrPushUnsupported
	}
	heads := make(chan uint64)
	return heads, func() {}, nil
}

func (c *Client) PrefersPush() bool { return c.Push }

func (c *Client) Close() {}

// LastSent returns the most recently broadcast transaction, or nil.
func (c *Client) LastSent() *types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Sent) == 0 {
		return nil
	}
	return c.Sent[len(c.Sent)-1]
}
