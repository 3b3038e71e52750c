package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/chapool/hot-wallet/internal/store"
)

type webhookRecorder struct {
	mu       sync.Mutex
	bodies   [][]byte
	failures int // number of requests to reject before accepting
}

func (w *webhookRecorder) handler(_ http.ResponseWriter, r *http.Request) ([]byte, int) {
	body, _ := io.ReadAll(r.Body)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return nil, http.StatusInternalServerError
	}
	w.bodies = append(w.bodies, body)
	return body, http.StatusOK
}

func (w *webhookRecorder) received() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.bodies)
}

func newFixture(t *testing.T, recorder *webhookRecorder) (*Dispatcher, store.Deposit) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, status := recorder.handler(rw, r)
		rw.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	_, err = st.RegisterAccount(store.Account{
		ID:         "user_A",
		WebhookURL: server.URL,
		Address:    "0xaaaa",
		CreatedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)

	dispatcher := NewDispatcher(st)
	dispatcher.baseBackoff = time.Millisecond

	deposit := store.Deposit{
		Key:        store.DepositKey{TxHash: "0x11", LogIndex: 0, Kind: store.KindNative},
		AccountID:  "user_A",
		Address:    "0xaaaa",
		Amount:     "1000000000000000000",
		State:      store.StateDetected,
		ObservedAt: time.Now().UTC(),
	}

	return dispatcher, deposit
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDeliversDetectionEvent(t *testing.T) {
	recorder := &webhookRecorder{}
	dispatcher, deposit := newFixture(t, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = dispatcher.Run(ctx) }()

	dispatcher.DepositDetected(deposit, store.TokenMeta{})

	waitFor(t, func() bool { return recorder.received() == 1 })

	var got map[string]any
	require.NoError(t, json.Unmarshal(recorder.bodies[0], &got))
	assert.Equal(t, "deposit_detected", got["event"])
	assert.Equal(t, "user_A", got["account_id"])
	assert.Equal(t, "0x11", got["tx_hash"])
	assert.Equal(t, "1000000000000000000", got["amount"])
	assert.Equal(t, "native", got["token_type"])
	assert.NotContains(t, got, "token_symbol")
	assert.NotContains(t, got, "original_tx_hash")
}

func TestDeliversTokenSweepEvent(t *testing.T) {
	recorder := &webhookRecorder{}
	dispatcher, deposit := newFixture(t, recorder)

	deposit.Key = store.DepositKey{TxHash: "0x13", LogIndex: 0, Kind: store.TokenKindFor("0xT0K")}
	deposit.Amount = "1000000"
	deposit.State = store.StateSwept

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = dispatcher.Run(ctx) }()

	dispatcher.DepositSwept(deposit, store.TokenMeta{Symbol: "TOK", Decimals: 6})

	waitFor(t, func() bool { return recorder.received() == 1 })

	var got map[string]any
	require.NoError(t, json.Unmarshal(recorder.bodies[0], &got))
	assert.Equal(t, "deposit_swept", got["event"])
	assert.Equal(t, "0x13:0", got["original_tx_hash"])
	assert.Equal(t, "erc20", got["token_type"])
	assert.Equal(t, "TOK", got["token_symbol"])
	assert.Equal(t, "0xt0k", got["token_address"])
	assert.NotContains(t, got, "tx_hash")
}

func TestRetriesFailedDelivery(t *testing.T) {
	recorder := &webhookRecorder{failures: 2}
	dispatcher, deposit := newFixture(t, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = dispatcher.Run(ctx) }()

	dispatcher.DepositDetected(deposit, store.TokenMeta{})

	// Two failures then a success; the event must still arrive.
	waitFor(t, func() bool { return recorder.received() == 1 })
}

func TestUnknownAccountDropsEvent(t *testing.T) {
	recorder := &webhookRecorder{}
	dispatcher, deposit := newFixture(t, recorder)
	deposit.AccountID = "ghost"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = dispatcher.Run(ctx) }()

	dispatcher.DepositDetected(deposit, store.TokenMeta{})

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, recorder.received())
}
