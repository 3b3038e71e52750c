package sweeper_test

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/chapool/hot-wallet/internal/chain"
	"github/chapool/hot-wallet/internal/chain/chainmock"
	"github/chapool/hot-wallet/internal/store"
	"github/chapool/hot-wallet/internal/sweeper"
)

const testMnemonic = "test test test test test test test test test test test junk"

var (
	treasuryAddr = common.HexToAddress("0x7EA0000000000000000000000000000000000001")
	depositAddr  = common.HexToAddress("0xA000000000000000000000000000000000000001")
	tokenAddr    = common.HexToAddress("0x70B0000000000000000000000000000000000001")
)

type recordingSink struct {
	mu    sync.Mutex
	swept []store.Deposit
}

func (r *recordingSink) DepositDetected(store.Deposit, store.TokenMeta) {}

func (r *recordingSink) DepositSwept(deposit store.Deposit, _ store.TokenMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swept = append(r.swept, deposit)
}

func (r *recordingSink) sweptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.swept)
}

func newFixture(t *testing.T) (*sweeper.Service, *store.Store, *chainmock.Client, *recordingSink) {
	t.Helper()

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	client := chainmock.New()
	sink := &recordingSink{}
	svc := sweeper.New(st, client, sink, testMnemonic, treasuryAddr, time.Second, nil)

	return svc, st, client, sink
}

func seedDeposit(t *testing.T, st *store.Store, kind store.TokenKind, amount string) store.Deposit {
	t.Helper()

	deposit := store.Deposit{
		Key:        store.DepositKey{TxHash: "0x11", LogIndex: 0, Kind: kind},
		AccountID:  "user_A",
		Address:    strings.ToLower(depositAddr.Hex()),
		Amount:     amount,
		State:      store.StateDetected,
		ObservedAt: time.Now().UTC(),
	}
	inserted, err := st.CommitBlockless([]store.Deposit{deposit})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	return deposit
}

func TestNativeSweepDrainsBalanceMinusFee(t *testing.T) {
	svc, st, client, sink := newFixture(t)

	deposit := seedDeposit(t, st, store.KindNative, "1000000000000000000")

	balance := new(big.Int)
	balance.SetString("1010000000000000000", 10) // deposit + earlier faucet funding
	client.Balances[depositAddr] = balance

	require.NoError(t, svc.Cycle(context.Background()))

	sent := client.LastSent()
	require.NotNil(t, sent)
	assert.Equal(t, treasuryAddr, *sent.To())
	assert.Equal(t, uint64(21000), sent.Gas())

	fee := new(big.Int).Mul(client.GasPriceWei, big.NewInt(21000))
	expected := new(big.Int).Sub(balance, fee)
	assert.Equal(t, expected, sent.Value())

	loaded, err := st.GetDeposit(deposit.Key)
	require.NoError(t, err)
	assert.Equal(t, store.StateSwept, loaded.State)
	assert.Equal(t, 1, sink.sweptCount())
}

func TestNativeSweepAbortsWhenBalanceEqualsFee(t *testing.T) {
	svc, st, client, sink := newFixture(t)

	deposit := seedDeposit(t, st, store.KindNative, "100")

	// Exactly the fee: strict inequality required, nothing is broadcast.
	client.Balances[depositAddr] = new(big.Int).Mul(client.GasPriceWei, big.NewInt(21000))

	require.NoError(t, svc.Cycle(context.Background()))

	assert.Nil(t, client.LastSent())
	loaded, err := st.GetDeposit(deposit.Key)
	require.NoError(t, err)
	assert.Equal(t, store.StateDetected, loaded.State)
	assert.Zero(t, sink.sweptCount())
}

func TestTokenSweepTransfersRecordedAmount(t *testing.T) {
	svc, st, client, sink := newFixture(t)

	kind := store.TokenKindFor(tokenAddr.Hex())
	deposit := seedDeposit(t, st, kind, "1000000")

	client.EstimateGasFn = func(msg chain.CallMsg) (uint64, error) {
		require.NotNil(t, msg.To)
		assert.Equal(t, tokenAddr, *msg.To)
		return 60_000, nil
	}

	require.NoError(t, svc.Cycle(context.Background()))

	sent := client.LastSent()
	require.NotNil(t, sent)
	assert.Equal(t, tokenAddr, *sent.To())
	assert.Equal(t, uint64(72_000), sent.Gas()) // 60k with the safety margin
	assert.Zero(t, sent.Value().Sign())

	expectedData, err := chain.PackTransfer(treasuryAddr, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, expectedData, sent.Data())

	loaded, err := st.GetDeposit(deposit.Key)
	require.NoError(t, err)
	assert.Equal(t, store.StateSwept, loaded.State)
	assert.Equal(t, 1, sink.sweptCount())
}

func TestTokenSweepGasStarvedStaysPending(t *testing.T) {
	svc, st, client, sink := newFixture(t)

	kind := store.TokenKindFor(tokenAddr.Hex())
	deposit := seedDeposit(t, st, kind, "500")

	client.EstimateGasFn = func(chain.CallMsg) (uint64, error) {
		return 0, errors.New("insufficient funds for gas")
	}

	require.NoError(t, svc.Cycle(context.Background()))

	assert.Nil(t, client.LastSent())
	loaded, err := st.GetDeposit(deposit.Key)
	require.NoError(t, err)
	assert.Equal(t, store.StateDetected, loaded.State)
	assert.Zero(t, sink.sweptCount())

	// Operator funds the address; the next cycle succeeds.
	client.EstimateGasFn = nil
	require.NoError(t, svc.Cycle(context.Background()))

	loaded, err = st.GetDeposit(deposit.Key)
	require.NoError(t, err)
	assert.Equal(t, store.StateSwept, loaded.State)
	assert.Equal(t, 1, sink.sweptCount())
}

func TestRevertedSweepStaysPending(t *testing.T) {
	svc, st, client, sink := newFixture(t)

	deposit := seedDeposit(t, st, store.KindNative, "5000")
	client.Balances[depositAddr] = big.NewInt(1_000_000_000_000_000)
	client.FailReceipts = true

	require.NoError(t, svc.Cycle(context.Background()))

	require.NotNil(t, client.LastSent())
	loaded, err := st.GetDeposit(deposit.Key)
	require.NoError(t, err)
	assert.Equal(t, store.StateDetected, loaded.State)
	assert.Zero(t, sink.sweptCount())
}

func TestBroadcastFailureStaysPending(t *testing.T) {
	svc, st, client, _ := newFixture(t)

	deposit := seedDeposit(t, st, store.KindNative, "5000")
	client.Balances[depositAddr] = big.NewInt(1_000_000_000_000_000)
	client.SendErr = errors.New("connection refused")

	require.NoError(t, svc.Cycle(context.Background()))

	loaded, err := st.GetDeposit(deposit.Key)
	require.NoError(t, err)
	assert.Equal(t, store.StateDetected, loaded.State)
}
