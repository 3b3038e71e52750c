package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Block is the slice of a chain block the monitor needs.
type Block struct {
	Number       uint64
	Transactions []Transaction
}

// Transaction is one native transfer candidate. To is nil for contract
// creation.
type Transaction struct {
	Hash  common.Hash
	From  common.Address
	To    *common.Address
	Value *big.Int
}

// TransferLog is one decoded ERC20 Transfer event.
type TransferLog struct {
	Token    common.Address
	From     common.Address
	To       common.Address
	Value    *big.Int
	TxHash   common.Hash
	LogIndex uint
}

// Receipt is the slice of a transaction receipt the sweeper needs.
type Receipt struct {
	TxHash common.Hash
	Status uint64
}

// ReceiptStatusSuccessful mirrors the EVM receipt status for an included,
// non-reverted transaction.
const ReceiptStatusSuccessful uint64 = 1

// TokenMetadata is the result of the symbol/decimals/name calls.
type TokenMetadata struct {
	Symbol   string
	Decimals uint8
	Name     string
}

// CallMsg describes a read-only call or a gas estimation request.
type CallMsg struct {
	From  common.Address
	To    *common.Address
	Value *big.Int
	Data  []byte
}

// Client is a uniform capability over one EVM JSON-RPC endpoint, reached
// through either a polling (HTTP) or streaming (WS) transport. The monitor
// selects its cadence with PrefersPush; everything else is
// transport-agnostic.
type Client interface {
	// CurrentHead returns the latest block number.
	CurrentHead(ctx context.Context) (uint64, error)

	// BlockByNumber fetches a block with its full transactions.
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)

	// TransferLogs fetches ERC20 Transfer events in [fromBlock, toBlock],
	// optionally restricted to the given token contracts (nil means all).
	TransferLogs(ctx context.Context, fromBlock, toBlock uint64, tokens []common.Address) ([]TransferLog, error)

	// Call executes a read-only contract call.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// TokenMetadata issues the symbol/decimals/name calls against a token
	// contract.
	TokenMetadata(ctx context.Context, token common.Address) (TokenMetadata, error)

	// Balance returns the native balance of an address.
	Balance(ctx context.Context, address common.Address) (*big.Int, error)

	// TokenBalance returns the ERC20 balance of an address.
	TokenBalance(ctx context.Context, token, address common.Address) (*big.Int, error)

	// EstimateGas estimates gas for the given call.
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)

	// GasPrice returns the node's suggested gas price.
	GasPrice(ctx context.Context) (*big.Int, error)

	// ChainID returns the chain id of the connected network.
	ChainID(ctx context.Context) (*big.Int, error)

	// Nonce returns the transaction count of an address at the latest block.
	Nonce(ctx context.Context, address common.Address) (uint64, error)

	// SendRawTransaction broadcasts a signed, RLP-encoded transaction.
	SendRawTransaction(ctx context.Context, signed []byte) (common.Hash, error)

	// WaitForReceipt polls until the transaction is included or the timeout
	// elapses.
	WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*Receipt, error)

	// SubscribeHeads delivers new head block numbers on the returned channel.
	// Only available when PrefersPush is true; the stop function releases the
	// subscription.
	SubscribeHeads(ctx context.Context) (<-chan uint64, func(), error)

	// PrefersPush reports whether the underlying transport supports
	// subscriptions.
	PrefersPush() bool

	// Close releases the underlying connection.
	Close()
}
