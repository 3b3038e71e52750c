package notify

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github/chapool/hot-wallet/internal/metrics"
	"github/chapool/hot-wallet/internal/store"
)

const (
	defaultQueueSize   = 1024
	defaultMaxAttempts = 5
	defaultBaseBackoff = 500 * time.Millisecond
	requestTimeout     = 10 * time.Second
	drainTimeout       = 5 * time.Second
)

// Sink receives domain events. The monitor and sweeper talk to this
// interface; Dispatcher is the production implementation.
type Sink interface {
	DepositDetected(deposit store.Deposit, meta store.TokenMeta)
	DepositSwept(deposit store.Deposit, meta store.TokenMeta)
}

type delivery struct {
	accountID string
	body      []byte
}

// Dispatcher posts domain events to each account's webhook URL. Delivery is
// at-least-once and best-effort: a bounded retry with exponential backoff,
// then the event is dropped with a log line. Enqueueing never blocks the
// chain loops; when the queue is full the event is dropped immediately.
type Dispatcher struct {
	store  *store.Store
	client *http.Client
	queue  chan delivery

	maxAttempts int
	baseBackoff time.Duration
}

// NewDispatcher creates a dispatcher backed by the given store (webhook URL
// lookups happen at send time, so a re-registered URL takes effect for
// queued events too).
func NewDispatcher(st *store.Store) *Dispatcher {
	return &Dispatcher{
		store:       st,
		client:      &http.Client{Timeout: requestTimeout},
		queue:       make(chan delivery, defaultQueueSize),
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
	}
}

// DepositDetected enqueues a detection event.
func (d *Dispatcher) DepositDetected(deposit store.Deposit, meta store.TokenMeta) {
	body, err := detectedPayload(deposit, meta)
	if err != nil {
		log.Error().Err(err).Str("account_id", deposit.AccountID).Msg("Failed to encode detection event")
		return
	}
	d.enqueue(delivery{accountID: deposit.AccountID, body: body})
}

// DepositSwept enqueues a sweep event.
func (d *Dispatcher) DepositSwept(deposit store.Deposit, meta store.TokenMeta) {
	body, err := sweptPayload(deposit, meta)
	if err != nil {
		log.Error().Err(err).Str("account_id", deposit.AccountID).Msg("Failed to encode sweep event")
		return
	}
	d.enqueue(delivery{accountID: deposit.AccountID, body: body})
}

func (d *Dispatcher) enqueue(item delivery) {
	select {
	case d.queue <- item:
	default:
		metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
		log.Warn().
			Str("account_id", item.accountID).
			Msg("Notification queue full, dropping event")
	}
}

// Run consumes the queue until ctx is cancelled, then drains what is already
// queued within a bounded timeout.
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Info().Msg("Starting notification dispatcher")

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case item := <-d.queue:
			d.deliver(ctx, item)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case item := <-d.queue:
			d.deliver(ctx, item)
		default:
			return
		}
		if ctx.Err() != nil {
			log.Warn().Int("remaining", len(d.queue)).Msg("Drain timeout, abandoning queued notifications")
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, item delivery) {
	account, err := d.store.GetAccount(item.accountID)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		log.Error().
			Err(err).
			Str("account_id", item.accountID).
			Msg("No webhook URL for account, dropping event")
		return
	}

	backoff := d.baseBackoff
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err := d.post(ctx, account.WebhookURL, item.body)
		if err == nil {
			metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
			log.Debug().
				Str("account_id", item.accountID).
				Str("webhook_url", account.WebhookURL).
				Msg("Webhook delivered")
			return
		}

		log.Warn().
			Err(err).
			Str("account_id", item.accountID).
			Str("webhook_url", account.WebhookURL).
			Int("attempt", attempt).
			Msg("Webhook delivery failed")

		if attempt == d.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
			return
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
