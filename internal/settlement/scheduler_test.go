package settlement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/executor"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/rs/zerolog"
)

type fakeTransferer struct {
	err   error
	calls int
}

func (f *fakeTransferer) TransferToTreasury(_ context.Context, asset string, amount chain.Amount) (executor.SubmitResult, error) {
	f.calls++
	if f.err != nil {
		return executor.SubmitResult{}, f.err
	}
	return executor.SubmitResult{TxHash: "settle-tx", GasCost: chain.Amount{Asset: asset, Atomic: 1}}, nil
}

func seedExecutedQuote(t *testing.T, store *ledger.MemoryStore, id string, amount int64) {
	t.Helper()
	q := &ledger.Quote{
		ID:             id,
		FundingChain:   chain.Solana,
		ExecutionChain: chain.NEAR,
		ExecutionAsset: "USDC-NEAR",
		ExecutionCost:  chain.Amount{Asset: "USDC-NEAR", Atomic: amount},
		Status:         ledger.QuoteStatusPending,
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	if err := store.CreateQuote(context.Background(), q); err != nil {
		t.Fatalf("create quote: %v", err)
	}
	if err := store.TransitionQuote(context.Background(), id, ledger.QuoteStatusPending, ledger.QuoteStatusCommitted); err != nil {
		t.Fatalf("transition to committed: %v", err)
	}
	if err := store.TransitionQuote(context.Background(), id, ledger.QuoteStatusCommitted, ledger.QuoteStatusExecuted); err != nil {
		t.Fatalf("transition to executed: %v", err)
	}
	if err := store.CreateExecution(context.Background(), &ledger.Execution{
		ID: "exec_" + id, QuoteID: id, Chain: chain.NEAR, Status: ledger.ExecutionStatusSuccess,
	}); err != nil {
		t.Fatalf("create execution: %v", err)
	}
}

func TestScheduler_RunOnce_AggregatesAndSettles(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedExecutedQuote(t, store, "q1", 40_000_000)
	seedExecutedQuote(t, store, "q2", 30_000_000)
	seedExecutedQuote(t, store, "q3", 35_000_000)

	transferer := &fakeTransferer{}
	sched := NewScheduler(config.SettlementConfig{FloorAtomic: 1}, store, map[chain.Chain]TreasuryTransferer{chain.NEAR: transferer}, zerolog.Nop())

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if transferer.calls != 1 {
		t.Errorf("transfer calls = %d, want 1 (one aggregate settlement)", transferer.calls)
	}

	for _, id := range []string{"q1", "q2", "q3"} {
		q, err := store.GetQuote(context.Background(), id)
		if err != nil {
			t.Fatalf("GetQuote(%s): %v", id, err)
		}
		if q.Status != ledger.QuoteStatusSettled {
			t.Errorf("quote %s status = %s, want Settled", id, q.Status)
		}
	}
}

func TestScheduler_RunOnce_BelowFloorSkipped(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedExecutedQuote(t, store, "q1", 10)

	transferer := &fakeTransferer{}
	sched := NewScheduler(config.SettlementConfig{FloorAtomic: 1_000_000}, store, map[chain.Chain]TreasuryTransferer{chain.NEAR: transferer}, zerolog.Nop())

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if transferer.calls != 0 {
		t.Errorf("transfer calls = %d, want 0 (below floor)", transferer.calls)
	}
}

func TestScheduler_RunOnce_TransferFailureLeavesQuoteExecuted(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedExecutedQuote(t, store, "q1", 1_000_000)

	transferer := &fakeTransferer{err: fmt.Errorf("rpc down")}
	sched := NewScheduler(config.SettlementConfig{FloorAtomic: 1}, store, map[chain.Chain]TreasuryTransferer{chain.NEAR: transferer}, zerolog.Nop())

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	q, err := store.GetQuote(context.Background(), "q1")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if q.Status != ledger.QuoteStatusExecuted {
		t.Errorf("quote status = %s, want Executed (left for next cycle)", q.Status)
	}
}
