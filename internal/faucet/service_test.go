package faucet_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/chapool/hot-wallet/internal/chain/chainmock"
	"github/chapool/hot-wallet/internal/faucet"
	"github/chapool/hot-wallet/internal/wallet/hd"
)

const faucetMnemonic = "test test test test test test test test test test test junk"

var target = common.HexToAddress("0xA000000000000000000000000000000000000001")

func TestAddressMatchesDerivationAtZero(t *testing.T) {
	client := chainmock.New()

	svc, err := faucet.New(client, faucetMnemonic, big.NewInt(1))
	require.NoError(t, err)

	expected, err := hd.DeriveAddress(faucetMnemonic, 0)
	require.NoError(t, err)
	assert.Equal(t, expected, svc.Address())
}

func TestFundSendsExistentialDeposit(t *testing.T) {
	client := chainmock.New()
	amount := big.NewInt(10_000_000_000_000_000)

	svc, err := faucet.New(client, faucetMnemonic, amount)
	require.NoError(t, err)

	client.Balances[svc.Address()] = new(big.Int).Mul(amount, big.NewInt(100))

	txHash, err := svc.Fund(context.Background(), target)
	require.NoError(t, err)

	sent := client.LastSent()
	require.NotNil(t, sent)
	assert.Equal(t, sent.Hash(), txHash)
	assert.Equal(t, target, *sent.To())
	assert.Equal(t, amount, sent.Value())
	assert.Equal(t, uint64(21000), sent.Gas())
}

func TestFundFailsOnInsufficientBalance(t *testing.T) {
	client := chainmock.New()
	amount := big.NewInt(10_000_000_000_000_000)

	svc, err := faucet.New(client, faucetMnemonic, amount)
	require.NoError(t, err)

	client.Balances[svc.Address()] = big.NewInt(1)

	_, err = svc.Fund(context.Background(), target)
	assert.Error(t, err)
	assert.Nil(t, client.LastSent())
}

func TestFundFailsOnBroadcastError(t *testing.T) {
	client := chainmock.New()
	amount := big.NewInt(100)

	svc, err := faucet.New(client, faucetMnemonic, amount)
	require.NoError(t, err)

	client.Balances[svc.Address()] = big.NewInt(1_000_000)
	client.SendErr = errors.New("connection refused")

	_, err = svc.Fund(context.Background(), target)
	assert.Error(t, err)
}
