package chain

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	receiptPollInterval = 3 * time.Second
	headChannelBuffer   = 16
	minTransferTopics   = 3 // signature + indexed from + indexed to
)

// ErrPushUnsupported is returned by SubscribeHeads on a polling transport.
var ErrPushUnsupported = errors.New("chain: transport does not support subscriptions")

// ethClient implements Client over go-ethereum's ethclient, for both HTTP
// and WS endpoints.
type ethClient struct {
	client      *ethclient.Client
	prefersPush bool
	chainID     *big.Int
}

// Dial connects to an EVM JSON-RPC endpoint. A ws:// or wss:// URL selects
// the streaming transport. The chain id is resolved once at dial time; it is
// also reused to recover transaction senders.
func Dial(ctx context.Context, url string) (Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", url)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to query chain id")
	}

	prefersPush := strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://")

	log.Info().
		Str("chain_id", chainID.String()).
		Bool("prefers_push", prefersPush).
		Msg("Connected to chain endpoint")

	return &ethClient{
		client:      client,
		prefersPush: prefersPush,
		chainID:     chainID,
	}, nil
}

func (c *ethClient) CurrentHead(ctx context.Context) (uint64, error) {
	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get latest block number")
	}
	return head, nil
}

func (c *ethClient) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	block, err := c.client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get block %d", number)
	}

	signer := types.LatestSignerForChainID(c.chainID)
	transactions := make([]Transaction, 0, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		from, err := types.Sender(signer, tx)
		if err != nil {
			// Unrecoverable sender means a tx type we cannot attribute;
			// it can never be a user deposit we act on.
			log.Warn().
				Str("tx_hash", tx.Hash().Hex()).
				Err(err).
				Msg("Failed to recover transaction sender, skipping")
			continue
		}
		transactions = append(transactions, Transaction{
			Hash:  tx.Hash(),
			From:  from,
			To:    tx.To(),
			Value: tx.Value(),
		})
	}

	return &Block{
		Number:       block.NumberU64(),
		Transactions: transactions,
	}, nil
}

func (c *ethClient) TransferLogs(ctx context.Context, fromBlock, toBlock uint64, tokens []common.Address) ([]TransferLog, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: tokens,
		Topics:    [][]common.Hash{{TransferTopic}},
	}

	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to filter transfer logs")
	}

	transfers := make([]TransferLog, 0, len(logs))
	for _, logEntry := range logs {
		if len(logEntry.Topics) < minTransferTopics {
			continue // not the standard indexed Transfer layout
		}
		transfers = append(transfers, TransferLog{
			Token:    logEntry.Address,
			From:     common.BytesToAddress(logEntry.Topics[1].Bytes()),
			To:       common.BytesToAddress(logEntry.Topics[2].Bytes()),
			Value:    new(big.Int).SetBytes(logEntry.Data),
			TxHash:   logEntry.TxHash,
			LogIndex: logEntry.Index,
		})
	}

	return transfers, nil
}

func (c *ethClient) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	output, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "contract call failed")
	}
	return output, nil
}

func (c *ethClient) TokenMetadata(ctx context.Context, token common.Address) (TokenMetadata, error) {
	var meta TokenMetadata

	symbolData, _ := erc20ABI.Pack("symbol")
	output, err := c.Call(ctx, token, symbolData)
	if err != nil {
		return meta, errors.Wrap(err, "symbol() call failed")
	}
	if meta.Symbol, err = unpackString("symbol", output); err != nil {
		return meta, err
	}

	decimalsData, _ := erc20ABI.Pack("decimals")
	output, err = c.Call(ctx, token, decimalsData)
	if err != nil {
		return meta, errors.Wrap(err, "decimals() call failed")
	}
	if meta.Decimals, err = unpackUint8("decimals", output); err != nil {
		return meta, err
	}

	nameData, _ := erc20ABI.Pack("name")
	output, err = c.Call(ctx, token, nameData)
	if err != nil {
		return meta, errors.Wrap(err, "name() call failed")
	}
	if meta.Name, err = unpackString("name", output); err != nil {
		return meta, err
	}

	return meta, nil
}

func (c *ethClient) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	balance, err := c.client.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get balance")
	}
	return balance, nil
}

func (c *ethClient) TokenBalance(ctx context.Context, token, address common.Address) (*big.Int, error) {
	data, err := PackBalanceOf(address)
	if err != nil {
		return nil, err
	}
	output, err := c.Call(ctx, token, data)
	if err != nil {
		return nil, errors.Wrap(err, "balanceOf call failed")
	}
	return new(big.Int).SetBytes(output), nil
}

func (c *ethClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  msg.From,
		To:    msg.To,
		Value: msg.Value,
		Data:  msg.Data,
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to estimate gas")
	}
	return gas, nil
}

func (c *ethClient) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get gas price")
	}
	return price, nil
}

func (c *ethClient) ChainID(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *ethClient) Nonce(ctx context.Context, address common.Address) (uint64, error) {
	// Deliberately the latest (not pending) count: every broadcast re-reads
	// the chain, there is no in-process nonce cache.
	nonce, err := c.client.NonceAt(ctx, address, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get nonce")
	}
	return nonce, nil
}

func (c *ethClient) SendRawTransaction(ctx context.Context, signed []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed); err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to decode signed transaction")
	}
	if err := c.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to send transaction")
	}
	return tx.Hash(), nil
}

func (c *ethClient) WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*Receipt, error) {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(deadline, txHash)
		if err == nil {
			return &Receipt{TxHash: txHash, Status: receipt.Status}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			log.Warn().
				Str("tx_hash", txHash.Hex()).
				Err(err).
				Msg("Receipt poll failed, retrying")
		}

		select {
		case <-deadline.Done():
			return nil, errors.Wrapf(deadline.Err(), "timed out waiting for receipt of %s", txHash.Hex())
		case <-ticker.C:
		}
	}
}

func (c *ethClient) SubscribeHeads(ctx context.Context) (<-chan uint64, func(), error) {
	if !c.prefersPush {
		return nil, nil, ErrPushUnsupported
	}

	headers := make(chan *types.Header, headChannelBuffer)
	sub, err := c.client.SubscribeNewHead(ctx, headers)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to subscribe to new heads")
	}

	numbers := make(chan uint64, headChannelBuffer)
	go func() {
		defer close(numbers)
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				if err != nil {
					log.Warn().Err(err).Msg("Head subscription closed")
				}
				return
			case header := <-headers:
				if header == nil {
					continue
				}
				select {
				case numbers <- header.Number.Uint64():
				default:
					// Monitor catches up from the cursor anyway; a dropped
					// head only delays the next tick.
				}
			}
		}
	}()

	return numbers, sub.Unsubscribe, nil
}

func (c *ethClient) PrefersPush() bool {
	return c.prefersPush
}

func (c *ethClient) Close() {
	c.client.Close()
}
