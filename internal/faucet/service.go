package faucet

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github/chapool/hot-wallet/internal/chain"
	"github/chapool/hot-wallet/internal/metrics"
	"github/chapool/hot-wallet/internal/wallet/hd"
)

const (
	transferGasLimit   uint64 = 21000
	receiptWaitTimeout        = 2 * time.Minute
)

// Service pre-funds newly issued addresses with the existential deposit so
// they can pay gas for token sweeps. The signer is always the faucet
// mnemonic at index 0.
type Service struct {
	client  chain.Client
	key     *ecdsa.PrivateKey
	address common.Address
	amount  *big.Int
}

// New derives the faucet signer and returns the service.
func New(client chain.Client, faucetMnemonic string, existentialDeposit *big.Int) (*Service, error) {
	key, err := hd.DeriveKey(faucetMnemonic, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive faucet key")
	}

	return &Service{
		client:  client,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		amount:  new(big.Int).Set(existentialDeposit),
	}, nil
}

// Address returns the faucet's own address, derived at index 0.
func (s *Service) Address() common.Address {
	return s.address
}

// Fund sends the existential deposit to target and returns the funding
// transaction hash once the transfer is included successfully. Any failure
// propagates to the caller; registration treats it as fatal.
func (s *Service) Fund(ctx context.Context, target common.Address) (common.Hash, error) {
	hash, err := s.fund(ctx, target)
	if err != nil {
		metrics.FaucetFundings.WithLabelValues("failed").Inc()
		return common.Hash{}, err
	}
	metrics.FaucetFundings.WithLabelValues("success").Inc()
	return hash, nil
}

func (s *Service) fund(ctx context.Context, target common.Address) (common.Hash, error) {
	balance, err := s.client.Balance(ctx, s.address)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to check faucet balance")
	}
	if balance.Cmp(s.amount) < 0 {
		return common.Hash{}, errors.Errorf(
			"faucet balance %s below existential deposit %s", balance, s.amount)
	}

	gasPrice, err := s.client.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to get gas price")
	}
	nonce, err := s.client.Nonce(ctx, s.address)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to get faucet nonce")
	}
	chainID, err := s.client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to get chain id")
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      transferGasLimit,
		To:       &target,
		Value:    new(big.Int).Set(s.amount),
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to sign funding transaction")
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to encode funding transaction")
	}

	txHash, err := s.client.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to broadcast funding transaction")
	}

	log.Info().
		Str("address", target.Hex()).
		Str("tx_hash", txHash.Hex()).
		Str("amount", s.amount.String()).
		Msg("Funding new address")

	receipt, err := s.client.WaitForReceipt(ctx, txHash, receiptWaitTimeout)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "funding transaction not confirmed")
	}
	if receipt.Status != chain.ReceiptStatusSuccessful {
		return common.Hash{}, errors.Errorf("funding transaction %s reverted", txHash.Hex())
	}

	return txHash, nil
}
