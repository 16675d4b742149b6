// Package outbox drains the write-only ledger.OutboxNotification queue to
// an external notification gateway. Spec §1 models actual email/push/SMS
// delivery as out of scope ("modelled as a write-only outbox the core
// appends to"); this worker only needs to get a notification to a single
// HTTP sink, the same shape as the teacher's internal/callbacks webhook
// queue worker, generalized from CallbacksConfig's payment/refund URLs to
// one configured gateway endpoint.
package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/httputil"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/rs/zerolog"
)

// Worker polls the ledger for pending outbox notifications and delivers
// each to the configured gateway URL with exponential backoff retry,
// mirroring the teacher's WebhookQueueWorker poll/process/backoff split.
type Worker struct {
	store      ledger.Store
	gatewayURL string
	httpClient *http.Client
	log        zerolog.Logger

	pollInterval    time.Duration
	batchSize       int
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWorker builds a Worker from outbox config. If cfg.GatewayURL is empty
// the worker still runs but every delivery fails fast, matching the
// teacher's NoopNotifier fallback for an unconfigured callback URL.
func NewWorker(cfg config.OutboxConfig, store ledger.Store, log zerolog.Logger) *Worker {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pollInterval := cfg.PollInterval.Duration
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	initialInterval := cfg.InitialInterval.Duration
	if initialInterval <= 0 {
		initialInterval = 1 * time.Second
	}
	maxInterval := cfg.MaxInterval.Duration
	if maxInterval <= 0 {
		maxInterval = 5 * time.Minute
	}
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	return &Worker{
		store:           store,
		gatewayURL:      cfg.GatewayURL,
		httpClient:      httputil.NewClient(timeout),
		log:             log.With().Str("component", "outbox").Logger(),
		pollInterval:    pollInterval,
		batchSize:       batchSize,
		maxAttempts:     maxAttempts,
		initialInterval: initialInterval,
		maxInterval:     maxInterval,
		multiplier:      multiplier,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// Start begins polling in a background goroutine.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the poll loop to exit and blocks until it has.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.log.Info().Dur("poll_interval", w.pollInterval).Msg("outbox.worker_started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	pending, err := w.store.ListPendingOutboxNotifications(ctx, w.batchSize)
	if err != nil {
		w.log.Error().Err(err).Msg("outbox.list_pending_failed")
		return
	}
	for _, n := range pending {
		w.deliver(ctx, n)
	}
}

// deliver attempts delivery of n with exponential backoff between
// attempts, in-process — mirroring RetryableClient.sendWithRetry rather
// than WebhookQueueWorker's cross-poll-cycle scheduling, since
// MarkOutboxFailed is a terminal status in both store backends (no
// next-attempt-at column to resume a partially retried row from). On
// success the row is marked delivered; on exhaustion it is marked failed
// with the final attempt count and error.
func (w *Worker) deliver(ctx context.Context, n *ledger.OutboxNotification) {
	body, err := json.Marshal(n)
	if err != nil {
		w.log.Error().Err(err).Str("outbox_id", n.ID).Msg("outbox.marshal_failed")
		return
	}

	var lastErr error
	interval := w.initialInterval
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, w.httpClient.Timeout)
		externalID, sendErr := w.send(sendCtx, body)
		cancel()

		if sendErr == nil {
			if err := w.store.MarkOutboxDelivered(ctx, n.ID, externalID); err != nil {
				w.log.Error().Err(err).Str("outbox_id", n.ID).Msg("outbox.mark_delivered_failed")
			}
			return
		}

		lastErr = sendErr
		w.log.Warn().Str("outbox_id", n.ID).Int("attempt", attempt).Err(sendErr).
			Msg("outbox.delivery_attempt_failed")

		if attempt >= w.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = w.maxAttempts // stop retrying, fall through to mark-failed below
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * w.multiplier)
		if interval > w.maxInterval {
			interval = w.maxInterval
		}
	}

	if err := w.store.MarkOutboxFailed(ctx, n.ID, lastErr.Error(), w.maxAttempts); err != nil {
		w.log.Error().Err(err).Str("outbox_id", n.ID).Msg("outbox.mark_failed_failed")
		return
	}
	w.log.Error().Str("outbox_id", n.ID).Int("attempts", w.maxAttempts).Err(lastErr).
		Msg("outbox.delivery_exhausted")
}

// send posts body to the gateway and returns the gateway's delivery id
// from the X-Delivery-Id response header, if present.
func (w *Worker) send(ctx context.Context, body []byte) (string, error) {
	if w.gatewayURL == "" {
		return "", fmt.Errorf("outbox: no gateway_url configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return resp.Header.Get("X-Delivery-Id"), nil
}

