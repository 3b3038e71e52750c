package monitor

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github/chapool/hot-wallet/internal/chain"
	"github/chapool/hot-wallet/internal/metrics"
	"github/chapool/hot-wallet/internal/notify"
	"github/chapool/hot-wallet/internal/store"
)

const resubscribeDelay = 5 * time.Second

// Service follows the chain tail at a confirmation-depth lag, records
// deposits to managed addresses and emits detection events. The scan cursor
// advances one block at a time; each block's deposits and the cursor update
// commit in one store transaction.
type Service struct {
	store         *store.Store
	client        chain.Client
	sink          notify.Sink
	faucetAddress common.Address
	offset        uint64
	pollInterval  time.Duration
	sweepWake     chan<- struct{}
}

// New creates the monitor. sweepWake may be nil; when set, a non-blocking
// signal is sent after every block that inserted at least one deposit.
func New(
	st *store.Store,
	client chain.Client,
	sink notify.Sink,
	faucetAddress common.Address,
	confirmationOffset uint64,
	pollInterval time.Duration,
	sweepWake chan<- struct{},
) *Service {
	return &Service{
		store:         st,
		client:        client,
		sink:          sink,
		faucetAddress: faucetAddress,
		offset:        confirmationOffset,
		pollInterval:  pollInterval,
		sweepWake:     sweepWake,
	}
}

// Run drives the scan loop until ctx is cancelled. Only store failures are
// returned; chain errors put the monitor back to idle until the next tick.
func (s *Service) Run(ctx context.Context) error {
	if err := s.initCursor(ctx); err != nil {
		return err
	}

	if s.client.PrefersPush() {
		return s.runStreaming(ctx)
	}
	return s.runPolling(ctx)
}

func (s *Service) runPolling(ctx context.Context) error {
	log.Info().Dur("interval", s.pollInterval).Msg("Starting monitor in polling mode")

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	if err := s.catchUp(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Monitor stopped")
			return nil
		case <-ticker.C:
			if err := s.catchUp(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Service) runStreaming(ctx context.Context) error {
	log.Info().Msg("Starting monitor in streaming mode")

	for {
		if err := s.catchUp(ctx); err != nil {
			return err
		}

		heads, stop, err := s.client.SubscribeHeads(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Head subscription failed, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(resubscribeDelay):
				continue
			}
		}

		err = s.consumeHeads(ctx, heads)
		stop()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			log.Info().Msg("Monitor stopped")
			return nil
		}

		log.Warn().Msg("Head stream ended, resubscribing")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(resubscribeDelay):
		}
	}
}

func (s *Service) consumeHeads(ctx context.Context, heads <-chan uint64) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case head, ok := <-heads:
			if !ok {
				return nil
			}
			log.Debug().Uint64("block_number", head).Msg("New head received")
			if err := s.catchUp(ctx); err != nil {
				return err
			}
		}
	}
}

// initCursor places a fresh store at the current safe head so history is not
// replayed on first start.
func (s *Service) initCursor(ctx context.Context) error {
	_, found, err := s.store.ScanCursor()
	if err != nil {
		return errors.Wrap(err, "failed to read scan cursor")
	}
	if found {
		return nil
	}

	head, err := s.client.CurrentHead(ctx)
	for err != nil {
		log.Warn().Err(err).Msg("Failed to get head for cursor init, retrying")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(resubscribeDelay):
		}
		head, err = s.client.CurrentHead(ctx)
	}
	start := safeHead(head, s.offset)

	if err := s.store.SetScanCursor(start); err != nil {
		return err
	}

	log.Info().Uint64("block_number", start).Msg("Fresh store, scanning from current safe head")
	return nil
}

// catchUp advances the cursor to the safe head. Returns nil on transient
// chain errors (retry next tick) and an error only on store failures.
func (s *Service) catchUp(ctx context.Context) error {
	head, err := s.client.CurrentHead(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to get chain head")
		return nil
	}

	cursor, _, err := s.store.ScanCursor()
	if err != nil {
		return errors.Wrap(err, "failed to read scan cursor")
	}

	safe := safeHead(head, s.offset)
	if cursor >= safe {
		return nil
	}

	for blockNumber := cursor + 1; blockNumber <= safe; blockNumber++ {
		// Shutdown finishes the in-flight block commit, never interrupts it.
		if ctx.Err() != nil {
			return nil
		}

		done, err := s.processBlock(ctx, blockNumber)
		if err != nil {
			return err
		}
		if !done {
			return nil // transient chain error, resume here next tick
		}
	}

	return nil
}

// processBlock extracts, persists and announces the deposits of one block.
// The bool is false when a transient chain error stopped the scan; the error
// is non-nil only for store failures.
func (s *Service) processBlock(ctx context.Context, blockNumber uint64) (bool, error) {
	block, err := s.client.BlockByNumber(ctx, blockNumber)
	if err != nil {
		log.Warn().Uint64("block_number", blockNumber).Err(err).Msg("Failed to fetch block")
		return false, nil
	}

	candidates := make([]store.Deposit, 0)
	tokenMetas := make(map[store.TokenKind]store.TokenMeta)

	for _, tx := range block.Transactions {
		deposit, ok, err := s.nativeCandidate(tx)
		if err != nil {
			return false, err
		}
		if ok {
			candidates = append(candidates, deposit)
		}
	}

	transfers, err := s.client.TransferLogs(ctx, blockNumber, blockNumber, nil)
	if err != nil {
		log.Warn().Uint64("block_number", blockNumber).Err(err).Msg("Failed to fetch transfer logs")
		return false, nil
	}

	for _, transfer := range transfers {
		deposit, ok, err := s.tokenCandidate(ctx, transfer, tokenMetas)
		if err != nil {
			return false, err
		}
		if ok {
			candidates = append(candidates, deposit)
		}
	}

	inserted, err := s.store.CommitBlock(blockNumber, candidates)
	if err != nil {
		return false, err
	}

	metrics.ScanCursor.Set(float64(blockNumber))

	for _, deposit := range inserted {
		tokenType := "native"
		if !deposit.Key.Kind.IsNative() {
			tokenType = "erc20"
		}
		metrics.DepositsDetected.WithLabelValues(tokenType).Inc()

		log.Info().
			Str("account_id", deposit.AccountID).
			Str("address", deposit.Address).
			Str("tx_hash", deposit.Key.TxHash).
			Str("amount", deposit.Amount).
			Str("token_kind", string(deposit.Key.Kind)).
			Uint64("block_number", blockNumber).
			Msg("Deposit detected")

		s.sink.DepositDetected(deposit, tokenMetas[deposit.Key.Kind])
	}

	if len(inserted) > 0 && s.sweepWake != nil {
		select {
		case s.sweepWake <- struct{}{}:
		default:
		}
	}

	log.Debug().
		Uint64("block_number", blockNumber).
		Int("tx_count", len(block.Transactions)).
		Int("deposit_count", len(inserted)).
		Msg("Block scanned")

	return true, nil
}

// nativeCandidate turns a block transaction into a native deposit when it
// pays a managed address. Faucet fundings and zero-value transfers are
// dropped silently.
func (s *Service) nativeCandidate(tx chain.Transaction) (store.Deposit, bool, error) {
	if tx.To == nil || tx.Value == nil || tx.Value.Sign() <= 0 {
		return store.Deposit{}, false, nil
	}
	if tx.From == s.faucetAddress {
		return store.Deposit{}, false, nil
	}

	accountID, managed, err := s.store.ResolveAddress(tx.To.Hex())
	if err != nil {
		return store.Deposit{}, false, err
	}
	if !managed {
		return store.Deposit{}, false, nil
	}

	return store.Deposit{
		Key: store.DepositKey{
			TxHash:   tx.Hash.Hex(),
			LogIndex: 0,
			Kind:     store.KindNative,
		},
		AccountID:  accountID,
		Address:    strings.ToLower(tx.To.Hex()),
		Amount:     tx.Value.String(),
		State:      store.StateDetected,
		ObservedAt: time.Now().UTC(),
	}, true, nil
}

// tokenCandidate turns a Transfer log into a token deposit when the
// recipient is managed. Metadata is ensured in the cache before detection so
// events always carry a symbol; a failing contract gets a placeholder and
// never blocks detection.
func (s *Service) tokenCandidate(ctx context.Context, transfer chain.TransferLog, tokenMetas map[store.TokenKind]store.TokenMeta) (store.Deposit, bool, error) {
	if transfer.Value == nil || transfer.Value.Sign() <= 0 {
		return store.Deposit{}, false, nil
	}
	if transfer.From == s.faucetAddress {
		return store.Deposit{}, false, nil
	}

	accountID, managed, err := s.store.ResolveAddress(transfer.To.Hex())
	if err != nil {
		return store.Deposit{}, false, err
	}
	if !managed {
		return store.Deposit{}, false, nil
	}

	kind := store.TokenKindFor(transfer.Token.Hex())
	if _, cached := tokenMetas[kind]; !cached {
		meta, err := s.store.GetOrPutTokenMeta(string(kind), func() (store.TokenMeta, error) {
			fetched, fetchErr := s.client.TokenMetadata(ctx, transfer.Token)
			if fetchErr != nil {
				log.Warn().
					Str("token_addr", transfer.Token.Hex()).
					Err(fetchErr).
					Msg("Token metadata fetch failed, caching placeholder")
				return store.TokenMeta{Symbol: "UNKNOWN", Decimals: 18, Name: ""}, nil
			}
			return store.TokenMeta{
				Symbol:   fetched.Symbol,
				Decimals: fetched.Decimals,
				Name:     fetched.Name,
			}, nil
		})
		if err != nil {
			return store.Deposit{}, false, err
		}
		tokenMetas[kind] = meta
	}

	return store.Deposit{
		Key: store.DepositKey{
			TxHash:   transfer.TxHash.Hex(),
			LogIndex: transfer.LogIndex,
			Kind:     kind,
		},
		AccountID:  accountID,
		Address:    strings.ToLower(transfer.To.Hex()),
		Amount:     transfer.Value.String(),
		State:      store.StateDetected,
		ObservedAt: time.Now().UTC(),
	}, true, nil
}

func safeHead(head, offset uint64) uint64 {
	if head < offset {
		return 0
	}
	return head - offset
}
