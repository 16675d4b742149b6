package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
)

func TestValidQuoteTransition(t *testing.T) {
	tests := []struct {
		name string
		from QuoteStatus
		to   QuoteStatus
		want bool
	}{
		{"pending to committed", QuoteStatusPending, QuoteStatusCommitted, true},
		{"pending to expired", QuoteStatusPending, QuoteStatusExpired, true},
		{"pending to executed direct", QuoteStatusPending, QuoteStatusExecuted, false},
		{"committed to executed", QuoteStatusCommitted, QuoteStatusExecuted, true},
		{"committed to failed", QuoteStatusCommitted, QuoteStatusFailed, true},
		{"executed to settled", QuoteStatusExecuted, QuoteStatusSettled, true},
		{"settled is terminal", QuoteStatusSettled, QuoteStatusExecuted, false},
		{"expired is terminal", QuoteStatusExpired, QuoteStatusCommitted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidQuoteTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("ValidQuoteTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestMemoryStore_CreateQuote_DuplicateNonce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	q1 := &Quote{ID: "q1", Nonce: "n1", Status: QuoteStatusPending, ExpiresAt: time.Now().Add(time.Minute)}
	if err := store.CreateQuote(ctx, q1); err != nil {
		t.Fatalf("CreateQuote() error = %v", err)
	}

	q2 := &Quote{ID: "q2", Nonce: "n1", Status: QuoteStatusPending, ExpiresAt: time.Now().Add(time.Minute)}
	if err := store.CreateQuote(ctx, q2); err != ErrAlreadyExists {
		t.Errorf("CreateQuote() duplicate nonce error = %v, want ErrAlreadyExists", err)
	}
}

func TestMemoryStore_TransitionQuote(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	q := &Quote{ID: "q1", Nonce: "n1", Status: QuoteStatusPending, ExpiresAt: time.Now().Add(time.Minute)}
	if err := store.CreateQuote(ctx, q); err != nil {
		t.Fatalf("CreateQuote() error = %v", err)
	}

	if err := store.TransitionQuote(ctx, "q1", QuoteStatusPending, QuoteStatusCommitted); err != nil {
		t.Fatalf("TransitionQuote() error = %v", err)
	}

	got, err := store.GetQuote(ctx, "q1")
	if err != nil {
		t.Fatalf("GetQuote() error = %v", err)
	}
	if got.Status != QuoteStatusCommitted {
		t.Errorf("Status = %v, want %v", got.Status, QuoteStatusCommitted)
	}

	// A second transition from the stale "pending" expectation must fail:
	// this is the race the conditional UPDATE guards against.
	if err := store.TransitionQuote(ctx, "q1", QuoteStatusPending, QuoteStatusCommitted); err != ErrInvalidStateTransition {
		t.Errorf("TransitionQuote() replay error = %v, want ErrInvalidStateTransition", err)
	}
}

func TestMemoryStore_ExpireStaleQuotes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	expired := &Quote{ID: "q1", Nonce: "n1", Status: QuoteStatusPending, ExpiresAt: now.Add(-time.Minute)}
	live := &Quote{ID: "q2", Nonce: "n2", Status: QuoteStatusPending, ExpiresAt: now.Add(time.Minute)}
	settled := &Quote{ID: "q3", Nonce: "n3", Status: QuoteStatusSettled, ExpiresAt: now.Add(-time.Minute)}

	for _, q := range []*Quote{expired, live, settled} {
		if err := store.CreateQuote(ctx, q); err != nil {
			t.Fatalf("CreateQuote(%s) error = %v", q.ID, err)
		}
	}

	ids, err := store.ExpireStaleQuotes(ctx, now)
	if err != nil {
		t.Fatalf("ExpireStaleQuotes() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "q1" {
		t.Errorf("ExpireStaleQuotes() = %v, want [q1]", ids)
	}

	liveAfter, _ := store.GetQuote(ctx, "q2")
	if liveAfter.Status != QuoteStatusPending {
		t.Errorf("live quote status = %v, want unchanged pending", liveAfter.Status)
	}
}

func TestMemoryStore_ConsumeApproval_ExactlyOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := &Approval{ID: "a1", QuoteID: "q1", Nonce: "n1", Status: ApprovalStatusAuthorized, ExpiresAt: time.Now().Add(time.Minute)}
	if err := store.CreateApproval(ctx, a); err != nil {
		t.Fatalf("CreateApproval() error = %v", err)
	}

	if err := store.ConsumeApproval(ctx, "a1"); err != nil {
		t.Fatalf("first ConsumeApproval() error = %v", err)
	}
	if err := store.ConsumeApproval(ctx, "a1"); err != ErrInvalidStateTransition {
		t.Errorf("second ConsumeApproval() error = %v, want ErrInvalidStateTransition", err)
	}
}

func TestMemoryStore_CreateExecution_OnlyOneSuccessPerQuote(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	e1 := &Execution{ID: "e1", QuoteID: "q1", Chain: chain.Solana, Status: ExecutionStatusSuccess, CreatedAt: time.Now()}
	if err := store.CreateExecution(ctx, e1); err != nil {
		t.Fatalf("CreateExecution() error = %v", err)
	}

	e2 := &Execution{ID: "e2", QuoteID: "q1", Chain: chain.Solana, Status: ExecutionStatusSuccess, CreatedAt: time.Now()}
	if err := store.CreateExecution(ctx, e2); err != ErrAlreadyExists {
		t.Errorf("second successful CreateExecution() error = %v, want ErrAlreadyExists", err)
	}
}

func TestMemoryStore_IncrementDailySpending(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	total, err := store.IncrementDailySpending(ctx, chain.Solana, "2026-07-31", 100)
	if err != nil {
		t.Fatalf("IncrementDailySpending() error = %v", err)
	}
	if total != 100 {
		t.Errorf("total = %d, want 100", total)
	}

	total, err = store.IncrementDailySpending(ctx, chain.Solana, "2026-07-31", 50)
	if err != nil {
		t.Fatalf("IncrementDailySpending() error = %v", err)
	}
	if total != 150 {
		t.Errorf("total = %d, want 150", total)
	}

	d, err := store.GetDailySpending(ctx, chain.Solana, "2026-07-31")
	if err != nil {
		t.Fatalf("GetDailySpending() error = %v", err)
	}
	if d.TxCount != 2 {
		t.Errorf("TxCount = %d, want 2", d.TxCount)
	}
}

func TestMemoryStore_WebhookEventDedup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	e := &WebhookEvent{WebhookID: "w1", Chain: chain.Stellar, CreatedAt: time.Now()}
	if err := store.RecordWebhookEvent(ctx, e); err != nil {
		t.Fatalf("RecordWebhookEvent() error = %v", err)
	}
	if err := store.RecordWebhookEvent(ctx, e); err != ErrAlreadyExists {
		t.Errorf("duplicate RecordWebhookEvent() error = %v, want ErrAlreadyExists", err)
	}

	has, err := store.HasWebhookEvent(ctx, "w1")
	if err != nil || !has {
		t.Errorf("HasWebhookEvent() = %v, %v, want true, nil", has, err)
	}
}
