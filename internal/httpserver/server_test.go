package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cedros-labs/payment-engine/internal/approval"
	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/executor"
	"github.com/cedros-labs/payment-engine/internal/idempotency"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/cedros-labs/payment-engine/internal/priceoracle"
	"github.com/cedros-labs/payment-engine/internal/quote"
	"github.com/cedros-labs/payment-engine/internal/risk"
	"github.com/cedros-labs/payment-engine/internal/webhook"
)

// stubExecutor is a no-op executor.Executor used to exercise the router
// through the HTTP layer without touching any chain RPC.
type stubExecutor struct {
	balance chain.Amount
}

func (s stubExecutor) Submit(_ context.Context, q *executor.QuoteView) (executor.SubmitResult, error) {
	return executor.SubmitResult{TxHash: "tx_" + q.QuoteID}, nil
}
func (s stubExecutor) ProbeBalance(_ context.Context, _, _ string) (chain.Amount, error) {
	return s.balance, nil
}
func (s stubExecutor) Confirm(_ context.Context, _ string, _ time.Duration) (executor.ConfirmStatus, error) {
	return executor.ConfirmStatusConfirmed, nil
}
func (s stubExecutor) TransferToTreasury(_ context.Context, asset string, amount chain.Amount) (executor.SubmitResult, error) {
	return executor.SubmitResult{TxHash: "settle_" + asset}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Address: ":0"},
		Chains: config.ChainsConfig{
			Solana:  config.ChainConfig{WebhookSharedSecret: "solana-secret", AllowedAssets: []string{"USDC"}},
			Stellar: config.ChainConfig{WebhookSharedSecret: "stellar-secret", AllowedAssets: []string{"USDC-STELLAR"}},
		},
		Quote:    config.QuoteConfig{SlippageBufferBps: 100},
		Approval: config.ApprovalConfig{TTL: config.Duration{Duration: 5 * time.Minute}},
		Risk:     config.RiskConfig{DailyCapSolana: 1_000_000_000, MaxRetries: 1},
		Webhook:  config.WebhookConfig{FreshnessWindow: config.Duration{Duration: 5 * time.Minute}, AmountToleranceBps: 100},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *ledger.MemoryStore) {
	t.Helper()
	cfg := testConfig()
	store := ledger.NewMemoryStore()

	if err := store.UpsertUser(context.Background(), "user_1"); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if err := store.UpsertWallet(context.Background(), &ledger.Wallet{
		UserID: "user_1", Chain: chain.Stellar, Address: "GABCDEF", Verified: true,
	}); err != nil {
		t.Fatalf("upsert wallet: %v", err)
	}

	prices := priceoracle.NewFakeSource()
	prices.Set("USDC-STELLAR", "USDC", priceoracle.Price{Rate: 1.0, PublishedAt: time.Now()})

	dailyCap := risk.NewDailyCapController(cfg.Risk, store)
	quotes := quote.NewService(cfg.Quote, cfg.PriceOracle, cfg.Chains, store, prices, dailyCap)

	breaker := risk.NewManager(config.CircuitBreakerConfig{}, store, zerolog.Nop())
	executors := map[chain.Chain]executor.Executor{
		chain.Stellar: stubExecutor{balance: chain.Amount{Asset: "USDC", Atomic: 1_000_000_000}},
	}
	router := executor.NewRouter(cfg.Risk, store, breaker, zerolog.Nop(), executors)
	approvals := approval.NewService(cfg.Approval, store, router)

	secrets := map[chain.Chain]string{
		chain.Solana:  cfg.Chains.Solana.WebhookSharedSecret,
		chain.Stellar: cfg.Chains.Stellar.WebhookSharedSecret,
	}
	webhooks := webhook.NewService(cfg.Webhook, secrets, store, quotes, router)

	srv := New(cfg, Deps{
		Store:            store,
		Quotes:           quotes,
		Approvals:        approvals,
		Router:           router,
		Webhooks:         webhooks,
		Breaker:          breaker,
		DailyCap:         dailyCap,
		IdempotencyStore: idempotency.NewMemoryStore(),
	}, zerolog.Nop())

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestCreateQuote_Success(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/quote", createQuoteRequest{
		UserID:          "user_1",
		FundingChain:    "solana",
		ExecutionChain:  "stellar",
		FundingAsset:    "USDC",
		ExecutionAsset:  "USDC-STELLAR",
		ExecutionAmount: 1_000_000,
		PaymentAddress:  "treasury-solana",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var q quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if q.QuoteID == "" {
		t.Error("expected a quote_id")
	}
	if q.MaxFundingAmount <= q.ExecutionCost {
		t.Error("expected slippage buffer to inflate max_funding_amount")
	}
}

func TestCreateQuote_RejectsSameChain(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/quote", createQuoteRequest{
		UserID: "user_1", FundingChain: "solana", ExecutionChain: "solana",
		FundingAsset: "USDC", ExecutionAsset: "USDC", ExecutionAmount: 1,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetStatus_NotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status/quote_does_not_exist")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestWebhook_CommitsQuoteAndAcksAccepted(t *testing.T) {
	ts, store := newTestServer(t)

	resp := postJSON(t, ts.URL+"/quote", createQuoteRequest{
		UserID: "user_1", FundingChain: "solana", ExecutionChain: "stellar",
		FundingAsset: "USDC", ExecutionAsset: "USDC-STELLAR", ExecutionAmount: 1_000_000,
		PaymentAddress: "treasury-solana",
	})
	var q quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	resp.Body.Close()

	body, _ := json.Marshal(webhookBody{
		TxHash:  "tx123",
		Asset:   "USDC",
		Amount:  q.MaxFundingAmount,
		QuoteID: q.QuoteID,
	})

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/webhook/solana", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	now := time.Now()
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(now.Unix(), 10))
	req.Header.Set("X-Webhook-Signature", webhook.ComputeSignature(body, "solana-secret"))

	webhookResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook post: %v", err)
	}
	defer webhookResp.Body.Close()

	if webhookResp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", webhookResp.StatusCode)
	}

	committed, err := store.GetQuote(context.Background(), q.QuoteID)
	if err != nil {
		t.Fatalf("get quote: %v", err)
	}
	if committed.Status != ledger.QuoteStatusCommitted && committed.Status != ledger.QuoteStatusExecuted {
		t.Errorf("status = %s, want committed or executed", committed.Status)
	}
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	ts, _ := newTestServer(t)

	body, _ := json.Marshal(webhookBody{TxHash: "tx123", Asset: "USDC", Amount: 1, QuoteID: "quote_x"})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/webhook/solana", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Webhook-Signature", "not-the-right-signature")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
