// Package webhook implements inbound payment-confirmation ingress (spec
// §4.4): HMAC-signed, freshness-checked, idempotent commit-then-execute
// events from chain watchers, following the teacher's HMAC-SHA256
// computeSignature idiom from internal/paywall/service_test.go (there a
// test helper; here the production verification it was testing).
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cedros-labs/payment-engine/internal/audit"
	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/executor"
	"github.com/cedros-labs/payment-engine/internal/ledger"
)

// ErrInvalidSignature is returned when the HMAC signature does not match.
var ErrInvalidSignature = fmt.Errorf("webhook: invalid signature")

// ErrTimestampOutOfRange is returned when the webhook timestamp is outside
// the configured freshness window.
var ErrTimestampOutOfRange = fmt.Errorf("webhook: timestamp out of range")

// ErrChainMismatch is returned when the event's chain doesn't match the
// quote's funding chain.
var ErrChainMismatch = fmt.Errorf("webhook: chain does not match quote funding chain")

// ErrAmountMismatch is returned when the event's amount is outside the
// configured tolerance of the quote's expected funding amount.
var ErrAmountMismatch = fmt.Errorf("webhook: amount outside tolerance")

// ErrQuoteExpired is returned when the quote has already expired.
var ErrQuoteExpired = fmt.Errorf("webhook: quote expired")

// QuoteCommitter is the narrow quote-engine capability webhook ingress
// needs — declared locally (rather than importing internal/quote
// directly) to keep this package's dependency surface to what it actually
// calls.
type QuoteCommitter interface {
	Commit(ctx context.Context, quoteID string) (*ledger.Quote, error)
}

// ExecutionRouter is the narrow execution-router capability webhook
// ingress needs to spawn the commit-then-execute step (spec §4.4).
type ExecutionRouter interface {
	Execute(ctx context.Context, q *executor.QuoteView) (*ledger.Execution, error)
}

// Event is the inbound payment-confirmation notification body, per spec
// §4.4: `{chain, tx_hash, from, to, asset, amount, memo}` plus the
// transport-level signature/timestamp/quote-id fields a watcher attaches.
type Event struct {
	Chain     chain.Chain
	TxHash    string
	From      string
	To        string
	Asset     string
	Amount    int64
	Memo      string
	QuoteID   string
	Timestamp time.Time
}

// Service verifies and processes inbound webhook events.
type Service struct {
	store           ledger.Store
	audit           *audit.Logger
	quotes          QuoteCommitter
	router          ExecutionRouter
	secrets         map[chain.Chain]string
	freshnessWindow time.Duration
	amountToleranceBps int
}

// NewService builds a webhook Service. secrets maps each chain to its
// configured shared HMAC secret (config.ChainConfig.WebhookSharedSecret).
func NewService(cfg config.WebhookConfig, secrets map[chain.Chain]string, store ledger.Store, quotes QuoteCommitter, router ExecutionRouter) *Service {
	freshness := cfg.FreshnessWindow.Duration
	if freshness <= 0 {
		freshness = 5 * time.Minute
	}
	tolerance := cfg.AmountToleranceBps
	if tolerance <= 0 {
		tolerance = 100 // 1%
	}
	return &Service{
		store:              store,
		audit:              audit.NewLogger(store),
		quotes:             quotes,
		router:             router,
		secrets:            secrets,
		freshnessWindow:    freshness,
		amountToleranceBps: tolerance,
	}
}

// ComputeSignature returns the HMAC-SHA256 hex digest of body under secret,
// the same construction the sender must use for X-Webhook-Signature.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body under the chain's
// configured secret using constant-time comparison.
func (s *Service) VerifySignature(c chain.Chain, body []byte, signature string) error {
	secret, ok := s.secrets[c]
	if !ok || secret == "" {
		return fmt.Errorf("webhook: no shared secret configured for chain %s", c)
	}
	expected := ComputeSignature(body, secret)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// webhookID derives the dedup key from (timestamp, quote_id, tx_hash), per
// spec §4.4.
func webhookID(ts time.Time, quoteID, txHash string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%s:%s", ts.Unix(), quoteID, txHash)
	return hex.EncodeToString(h.Sum(nil))
}

// Accept validates ev (signature already checked by the caller against the
// raw body) and, if it passes every check, commits the quote and spawns
// execution. It is idempotent: a replayed event with an already-seen
// webhook id returns (false, nil) without any side effect, matching spec
// §4.4's "a repeat is accepted and returns success without side effects".
//
// Returns (accepted, err): accepted is true only on the delivery that
// actually drove a Commit, so the HTTP layer can log S1-vs-S2 distinctly
// while always acking 202 either way.
func (s *Service) Accept(ctx context.Context, ev Event) (bool, error) {
	now := time.Now()
	if now.Sub(ev.Timestamp) > s.freshnessWindow || ev.Timestamp.Sub(now) > s.freshnessWindow {
		return false, ErrTimestampOutOfRange
	}

	id := webhookID(ev.Timestamp, ev.QuoteID, ev.TxHash)
	seen, err := s.store.HasWebhookEvent(ctx, id)
	if err != nil {
		return false, fmt.Errorf("check webhook dedup: %w", err)
	}
	if seen {
		_ = s.audit.Append(ctx, "WebhookDuplicate", ev.Chain, ev.QuoteID, "", nil)
		return false, nil
	}

	q, err := s.store.GetQuote(ctx, ev.QuoteID)
	if err != nil {
		return false, fmt.Errorf("get quote: %w", err)
	}
	if ev.Chain != q.FundingChain {
		return false, ErrChainMismatch
	}
	if time.Now().After(q.ExpiresAt) {
		return false, ErrQuoteExpired
	}
	if !withinTolerance(ev.Amount, q.MaxFundingAmount.Atomic, s.amountToleranceBps) {
		return false, ErrAmountMismatch
	}

	if err := s.store.RecordWebhookEvent(ctx, &ledger.WebhookEvent{
		WebhookID: id,
		Chain:     ev.Chain,
		TxHash:    ev.TxHash,
		QuoteID:   ev.QuoteID,
		CreatedAt: now,
	}); err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}

	committed, err := s.quotes.Commit(ctx, ev.QuoteID)
	if err != nil {
		return false, fmt.Errorf("commit quote: %w", err)
	}

	_ = s.audit.Append(ctx, "QuoteCommitted", ev.Chain, ev.QuoteID, "", map[string]interface{}{"tx_hash": ev.TxHash})

	// Execution runs in a spawned task so the webhook handler can ack
	// immediately (spec §4.4's "the acknowledgement carries no execution
	// outcome"). The router's own idempotency check makes a repeated Execute
	// for the same quote safe; nothing here re-runs execution if the process
	// stops between Commit and this goroutine running.
	go s.executeAsync(committed)

	return true, nil
}

func (s *Service) executeAsync(q *ledger.Quote) {
	ctx := context.Background()
	qv := &executor.QuoteView{
		QuoteID:        q.ID,
		ExecutionChain: q.ExecutionChain,
		ExecutionAsset: q.ExecutionAsset,
		ExecutionCost:  q.ExecutionCost,
		PaymentAddress: q.PaymentAddress,
		PaymentMemo:    q.PaymentMemo,
	}
	if _, err := s.router.Execute(ctx, qv); err != nil {
		_ = s.audit.Append(ctx, "ExecutionFailed", q.ExecutionChain, q.ID, "", map[string]interface{}{"error": err.Error()})
	}
}

// withinTolerance reports whether |got-want|/want <= toleranceBps/10000.
func withinTolerance(got, want int64, toleranceBps int) bool {
	if want == 0 {
		return got == 0
	}
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff*10000 <= want*int64(toleranceBps)
}

