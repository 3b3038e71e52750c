package sweeper

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github/chapool/hot-wallet/internal/chain"
	"github/chapool/hot-wallet/internal/metrics"
	"github/chapool/hot-wallet/internal/notify"
	"github/chapool/hot-wallet/internal/store"
	"github/chapool/hot-wallet/internal/wallet/hd"
)

const (
	nativeTransferGasLimit uint64 = 21000
	// Estimated gas is padded by 20% before broadcast.
	gasMarginNumerator   uint64 = 12
	gasMarginDenominator uint64 = 10
	receiptWaitTimeout          = 2 * time.Minute
)

// Service drains detected deposits to the treasury. Each attempt re-reads
// gas price and nonce from the chain; a failed or timed-out attempt leaves
// the deposit detected and it is retried on the next cycle. At most one
// transaction per source address is in flight at any time.
type Service struct {
	store    *store.Store
	client   chain.Client
	sink     notify.Sink
	mnemonic string
	treasury common.Address
	interval time.Duration
	wake     <-chan struct{}

	sweeping sync.Map
}

// New creates the sweeper. wake may be nil; when set, a signal triggers an
// immediate cycle in addition to the timer.
func New(
	st *store.Store,
	client chain.Client,
	sink notify.Sink,
	mnemonic string,
	treasury common.Address,
	interval time.Duration,
	wake <-chan struct{},
) *Service {
	return &Service{
		store:    st,
		client:   client,
		sink:     sink,
		mnemonic: mnemonic,
		treasury: treasury,
		interval: interval,
		wake:     wake,
	}
}

// Run drives sweep cycles until ctx is cancelled. Chain errors are absorbed
// per deposit; store failures and local key, signing or encoding failures
// are returned.
func (s *Service) Run(ctx context.Context) error {
	log.Info().Dur("interval", s.interval).Msg("Starting sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.Cycle(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Sweeper stopped")
			return nil
		case <-ticker.C:
			if err := s.Cycle(ctx); err != nil {
				return err
			}
		case <-s.wake:
			if err := s.Cycle(ctx); err != nil {
				return err
			}
		}
	}
}

// Cycle attempts every pending deposit once.
func (s *Service) Cycle(ctx context.Context) error {
	pending, err := s.store.PendingDeposits()
	if err != nil {
		return errors.Wrap(err, "failed to load pending deposits")
	}

	for _, deposit := range pending {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.sweep(ctx, deposit); err != nil {
			return err
		}
	}

	return nil
}

// sweep runs one attempt for one deposit. Chain-side failures are logged and
// absorbed (the deposit stays detected); store, key-derivation, amount
// parsing, call-data packing, signing and encoding failures are returned.
func (s *Service) sweep(ctx context.Context, deposit store.Deposit) error {
	if _, busy := s.sweeping.LoadOrStore(deposit.Address, struct{}{}); busy {
		log.Debug().Str("address", deposit.Address).Msg("Address already sweeping, skipping")
		return nil
	}
	defer s.sweeping.Delete(deposit.Address)

	metrics.SweepAttempts.Inc()

	index := hd.IndexForAccount(deposit.AccountID)
	privateKey, err := hd.DeriveKey(s.mnemonic, index)
	if err != nil {
		return errors.Wrapf(err, "failed to derive signer for account %s", deposit.AccountID)
	}

	from := common.HexToAddress(deposit.Address)

	gasPrice, err := s.client.GasPrice(ctx)
	if err != nil {
		log.Warn().Err(err).Str("address", deposit.Address).Msg("Failed to get gas price")
		return nil
	}
	nonce, err := s.client.Nonce(ctx, from)
	if err != nil {
		log.Warn().Err(err).Str("address", deposit.Address).Msg("Failed to get nonce")
		return nil
	}
	chainID, err := s.client.ChainID(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to get chain id")
		return nil
	}

	var tx *types.Transaction
	if deposit.Key.Kind.IsNative() {
		tx, err = s.buildNativeSweep(ctx, deposit, from, nonce, gasPrice)
	} else {
		tx, err = s.buildTokenSweep(ctx, deposit, from, nonce, gasPrice)
	}
	if err != nil {
		return err
	}
	if tx == nil {
		return nil // not sweepable right now, retried next cycle
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), privateKey)
	if err != nil {
		return errors.Wrap(err, "failed to sign sweep transaction")
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "failed to encode sweep transaction")
	}

	txHash, err := s.client.SendRawTransaction(ctx, raw)
	if err != nil {
		log.Warn().
			Err(err).
			Str("address", deposit.Address).
			Str("tx_hash", signed.Hash().Hex()).
			Msg("Sweep broadcast failed")
		return nil
	}

	log.Info().
		Str("address", deposit.Address).
		Str("tx_hash", txHash.Hex()).
		Str("deposit_tx", deposit.Key.TxHash).
		Msg("Sweep broadcast")

	receipt, err := s.client.WaitForReceipt(ctx, txHash, receiptWaitTimeout)
	if err != nil {
		metrics.SweepsCompleted.WithLabelValues("timeout").Inc()
		log.Warn().
			Err(err).
			Str("tx_hash", txHash.Hex()).
			Msg("Sweep receipt wait failed, will retry")
		return nil
	}
	if receipt.Status != chain.ReceiptStatusSuccessful {
		metrics.SweepsCompleted.WithLabelValues("reverted").Inc()
		log.Error().
			Str("tx_hash", txHash.Hex()).
			Str("address", deposit.Address).
			Msg("Sweep transaction reverted, deposit stays pending")
		return nil
	}

	if err := s.store.MarkSwept(deposit.Key); err != nil {
		if errors.Is(err, store.ErrNotPending) {
			log.Warn().Str("deposit_tx", deposit.Key.TxHash).Msg("Deposit already terminal")
			return nil
		}
		return errors.Wrap(err, "failed to mark deposit swept")
	}

	metrics.SweepsCompleted.WithLabelValues("success").Inc()
	log.Info().
		Str("account_id", deposit.AccountID).
		Str("address", deposit.Address).
		Str("tx_hash", txHash.Hex()).
		Str("amount", deposit.Amount).
		Msg("Deposit swept")

	deposit.State = store.StateSwept
	s.sink.DepositSwept(deposit, s.tokenMeta(deposit))
	return nil
}

// buildNativeSweep drains the full native balance minus the exact transfer
// fee. Requires balance strictly above the fee; otherwise the attempt is
// abandoned until the balance grows. The swept value may exceed the recorded
// deposit amount when earlier deposits already sit on the same address.
func (s *Service) buildNativeSweep(ctx context.Context, deposit store.Deposit, from common.Address, nonce uint64, gasPrice *big.Int) (*types.Transaction, error) {
	balance, err := s.client.Balance(ctx, from)
	if err != nil {
		log.Warn().Err(err).Str("address", deposit.Address).Msg("Failed to get balance")
		return nil, nil
	}

	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(nativeTransferGasLimit))
	if balance.Cmp(fee) <= 0 {
		log.Debug().
			Str("address", deposit.Address).
			Str("balance", balance.String()).
			Str("fee", fee.String()).
			Msg("Balance does not cover sweep fee, retrying later")
		return nil, nil
	}

	value := new(big.Int).Sub(balance, fee)
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      nativeTransferGasLimit,
		To:       &s.treasury,
		Value:    value,
	}), nil
}

// buildTokenSweep moves the recorded deposit amount to the treasury. Gas is
// estimated per attempt; estimation failure (typically no native balance to
// pay gas) abandons the attempt until the next cycle.
func (s *Service) buildTokenSweep(ctx context.Context, deposit store.Deposit, from common.Address, nonce uint64, gasPrice *big.Int) (*types.Transaction, error) {
	amount, err := deposit.AmountBig()
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt amount on deposit %s", deposit.Key.String())
	}

	token := common.HexToAddress(string(deposit.Key.Kind))
	data, err := chain.PackTransfer(s.treasury, amount)
	if err != nil {
		return nil, err
	}

	estimated, err := s.client.EstimateGas(ctx, chain.CallMsg{
		From: from,
		To:   &token,
		Data: data,
	})
	if err != nil {
		log.Info().
			Err(err).
			Str("address", deposit.Address).
			Str("token_addr", token.Hex()).
			Msg("Gas estimation failed (address likely unfunded), retrying later")
		return nil, nil
	}

	gasLimit := estimated * gasMarginNumerator / gasMarginDenominator
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &token,
		Value:    big.NewInt(0),
		Data:     data,
	}), nil
}

func (s *Service) tokenMeta(deposit store.Deposit) store.TokenMeta {
	if deposit.Key.Kind.IsNative() {
		return store.TokenMeta{}
	}
	meta, _, err := s.store.GetTokenMeta(string(deposit.Key.Kind))
	if err != nil {
		log.Warn().Err(err).Str("token_addr", string(deposit.Key.Kind)).Msg("Token metadata lookup failed")
	}
	return meta
}
