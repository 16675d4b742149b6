package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/executor"
	"github.com/cedros-labs/payment-engine/internal/ledger"
)

type fakeCommitter struct {
	mu       sync.Mutex
	commits  int
	returned *ledger.Quote
	err      error
}

func (f *fakeCommitter) Commit(_ context.Context, quoteID string) (*ledger.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	if f.err != nil {
		return nil, f.err
	}
	q := *f.returned
	q.Status = ledger.QuoteStatusCommitted
	return &q, nil
}

type fakeRouter struct {
	mu    sync.Mutex
	calls int
	done  chan struct{}
}

func (f *fakeRouter) Execute(_ context.Context, q *executor.QuoteView) (*ledger.Execution, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return &ledger.Execution{ID: "exec_" + q.QuoteID, Status: ledger.ExecutionStatusSuccess}, nil
}

func setupFixture(t *testing.T) (*Service, *ledger.MemoryStore, *fakeCommitter, *fakeRouter, *ledger.Quote) {
	t.Helper()
	store := ledger.NewMemoryStore()
	q := &ledger.Quote{
		ID:               "quote_1",
		UserID:           "user_1",
		FundingChain:     chain.Solana,
		ExecutionChain:   chain.Stellar,
		FundingAsset:     "USDC",
		ExecutionAsset:   "USDC-STELLAR",
		MaxFundingAmount: chain.Amount{Asset: "USDC", Atomic: 100_000_000},
		Status:           ledger.QuoteStatusPending,
		ExpiresAt:        time.Now().Add(time.Hour),
	}
	if err := store.CreateQuote(context.Background(), q); err != nil {
		t.Fatalf("create quote: %v", err)
	}

	committer := &fakeCommitter{returned: q}
	router := &fakeRouter{done: make(chan struct{})}
	secrets := map[chain.Chain]string{chain.Solana: "sol-secret"}
	svc := NewService(config.WebhookConfig{}, secrets, store, committer, router)
	return svc, store, committer, router, q
}

func validEvent(q *ledger.Quote) Event {
	return Event{
		Chain:     chain.Solana,
		TxHash:    "tx123",
		Asset:     "USDC",
		Amount:    q.MaxFundingAmount.Atomic,
		QuoteID:   q.ID,
		Timestamp: time.Now(),
	}
}

func TestService_Accept_HappyPath(t *testing.T) {
	svc, _, committer, router, q := setupFixture(t)

	accepted, err := svc.Accept(context.Background(), validEvent(q))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !accepted {
		t.Error("expected first delivery to be accepted")
	}

	select {
	case <-router.done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for async execution")
	}

	if committer.commits != 1 {
		t.Errorf("commits = %d, want 1", committer.commits)
	}
	if router.calls != 1 {
		t.Errorf("router calls = %d, want 1", router.calls)
	}
}

func TestService_Accept_DuplicateIsNoOp(t *testing.T) {
	svc, _, committer, router, q := setupFixture(t)
	ev := validEvent(q)

	if _, err := svc.Accept(context.Background(), ev); err != nil {
		t.Fatalf("first Accept: %v", err)
	}
	<-router.done

	accepted, err := svc.Accept(context.Background(), ev)
	if err != nil {
		t.Fatalf("second Accept: %v", err)
	}
	if accepted {
		t.Error("expected replayed delivery to be a no-op")
	}
	if committer.commits != 1 {
		t.Errorf("commits = %d, want 1 (no second commit on replay)", committer.commits)
	}
}

func TestService_Accept_RejectsChainMismatch(t *testing.T) {
	svc, _, _, _, q := setupFixture(t)
	ev := validEvent(q)
	ev.Chain = chain.NEAR

	if _, err := svc.Accept(context.Background(), ev); err != ErrChainMismatch {
		t.Errorf("err = %v, want ErrChainMismatch", err)
	}
}

func TestService_Accept_RejectsAmountOutsideTolerance(t *testing.T) {
	svc, _, _, _, q := setupFixture(t)
	ev := validEvent(q)
	ev.Amount = q.MaxFundingAmount.Atomic / 2

	if _, err := svc.Accept(context.Background(), ev); err != ErrAmountMismatch {
		t.Errorf("err = %v, want ErrAmountMismatch", err)
	}
}

func TestService_Accept_RejectsStaleTimestamp(t *testing.T) {
	svc, _, _, _, q := setupFixture(t)
	ev := validEvent(q)
	ev.Timestamp = time.Now().Add(-time.Hour)

	if _, err := svc.Accept(context.Background(), ev); err != ErrTimestampOutOfRange {
		t.Errorf("err = %v, want ErrTimestampOutOfRange", err)
	}
}

func TestService_Accept_RejectsExpiredQuote(t *testing.T) {
	svc, store, _, _, q := setupFixture(t)
	expired := *q
	expired.ID = "quote_expired"
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	if err := store.CreateQuote(context.Background(), &expired); err != nil {
		t.Fatalf("create quote: %v", err)
	}

	ev := validEvent(&expired)
	if _, err := svc.Accept(context.Background(), ev); err != ErrQuoteExpired {
		t.Errorf("err = %v, want ErrQuoteExpired", err)
	}
}

func TestVerifySignature(t *testing.T) {
	svc, _, _, _, _ := setupFixture(t)
	body := []byte(`{"quote_id":"quote_1"}`)
	sig := ComputeSignature(body, "sol-secret")

	if err := svc.VerifySignature(chain.Solana, body, sig); err != nil {
		t.Errorf("VerifySignature: unexpected error: %v", err)
	}
	if err := svc.VerifySignature(chain.Solana, body, "deadbeef"); err != ErrInvalidSignature {
		t.Errorf("VerifySignature(bad sig): err = %v, want ErrInvalidSignature", err)
	}
	if err := svc.VerifySignature(chain.NEAR, body, sig); err == nil {
		t.Error("VerifySignature: expected error for chain with no configured secret")
	}
}

func TestWithinTolerance(t *testing.T) {
	tests := []struct {
		got, want    int64
		toleranceBps int
		want_        bool
	}{
		{got: 100, want: 100, toleranceBps: 100, want_: true},
		{got: 99, want: 100, toleranceBps: 100, want_: true},
		{got: 98, want: 100, toleranceBps: 100, want_: false},
		{got: 0, want: 0, toleranceBps: 100, want_: true},
	}
	for _, tt := range tests {
		if got := withinTolerance(tt.got, tt.want, tt.toleranceBps); got != tt.want_ {
			t.Errorf("withinTolerance(%d, %d, %d) = %v, want %v", tt.got, tt.want, tt.toleranceBps, got, tt.want_)
		}
	}
}
