package chain_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/chapool/hot-wallet/internal/chain"
)

func TestTransferTopic(t *testing.T) {
	// Keccak-256 of "Transfer(address,address,uint256)".
	assert.Equal(t,
		"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
		chain.TransferTopic.Hex(),
	)
}

func TestPackTransfer(t *testing.T) {
	to := common.HexToAddress("0x7EA0000000000000000000000000000000000001")

	data, err := chain.PackTransfer(to, big.NewInt(1_000_000))
	require.NoError(t, err)

	// 4-byte selector + two 32-byte words.
	require.Len(t, data, 4+32+32)
	assert.Equal(t, common.FromHex("a9059cbb"), data[:4])
	assert.Equal(t, to.Bytes(), data[4+12:4+32])
	assert.Equal(t, big.NewInt(1_000_000), new(big.Int).SetBytes(data[4+32:]))
}

func TestPackBalanceOf(t *testing.T) {
	account := common.HexToAddress("0xA000000000000000000000000000000000000001")

	data, err := chain.PackBalanceOf(account)
	require.NoError(t, err)

	require.Len(t, data, 4+32)
	assert.Equal(t, common.FromHex("70a08231"), data[:4])
	assert.Equal(t, account.Bytes(), data[4+12:])
}
