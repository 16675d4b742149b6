package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/cedros-labs/payment-engine/internal/risk"
	"github.com/rs/zerolog"
)

type fakeExecutor struct {
	submitErr  error
	confirmStatus ConfirmStatus
	confirmErr error
	balance    chain.Amount
	submitCalls int
}

func (f *fakeExecutor) Submit(_ context.Context, q *QuoteView) (SubmitResult, error) {
	f.submitCalls++
	if f.submitErr != nil {
		return SubmitResult{}, f.submitErr
	}
	return SubmitResult{TxHash: "tx_" + q.QuoteID, GasCost: chain.Amount{Asset: "SOL", Atomic: 5000}}, nil
}

func (f *fakeExecutor) ProbeBalance(_ context.Context, _, _ string) (chain.Amount, error) {
	return f.balance, nil
}

func (f *fakeExecutor) Confirm(_ context.Context, _ string, _ time.Duration) (ConfirmStatus, error) {
	return f.confirmStatus, f.confirmErr
}

func (f *fakeExecutor) TransferToTreasury(_ context.Context, asset string, amount chain.Amount) (SubmitResult, error) {
	return SubmitResult{TxHash: "treasury_tx", GasCost: chain.Amount{Asset: asset, Atomic: 1000}}, nil
}

func newTestRiskManager() *risk.Manager {
	cfg := config.CircuitBreakerConfig{
		Enabled: true,
		Solana:  config.BreakerServiceConfig{ConsecutiveFailures: 100, MaxRequests: 1, Timeout: config.Duration{Duration: time.Minute}},
		Stellar: config.BreakerServiceConfig{ConsecutiveFailures: 100, MaxRequests: 1, Timeout: config.Duration{Duration: time.Minute}},
		NEAR:    config.BreakerServiceConfig{ConsecutiveFailures: 100, MaxRequests: 1, Timeout: config.Duration{Duration: time.Minute}},
	}
	return risk.NewManager(cfg, ledger.NewMemoryStore(), zerolog.Nop())
}

func TestRouter_Execute_Success(t *testing.T) {
	store := ledger.NewMemoryStore()
	ctx := context.Background()
	q := &ledger.Quote{ID: "q1", UserID: "u1", FundingChain: chain.NEAR, ExecutionChain: chain.Solana, Status: ledger.QuoteStatusCommitted, PaymentAddress: "treasury", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.CreateQuote(ctx, q); err != nil {
		t.Fatalf("CreateQuote() error = %v", err)
	}

	fe := &fakeExecutor{confirmStatus: ConfirmStatusConfirmed}
	router := NewRouter(config.RiskConfig{}, store, newTestRiskManager(), zerolog.Nop(), map[chain.Chain]Executor{chain.Solana: fe})

	exec, err := router.Execute(ctx, &QuoteView{QuoteID: "q1", ExecutionChain: chain.Solana})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if exec.Status != ledger.ExecutionStatusSuccess {
		t.Errorf("Status = %v, want Success", exec.Status)
	}

	got, err := store.GetQuote(ctx, "q1")
	if err != nil {
		t.Fatalf("GetQuote() error = %v", err)
	}
	if got.Status != ledger.QuoteStatusExecuted {
		t.Errorf("quote status = %v, want Executed", got.Status)
	}
}

func TestRouter_Execute_IdempotentReentry(t *testing.T) {
	store := ledger.NewMemoryStore()
	ctx := context.Background()
	q := &ledger.Quote{ID: "q1", UserID: "u1", FundingChain: chain.NEAR, ExecutionChain: chain.Solana, Status: ledger.QuoteStatusCommitted, PaymentAddress: "treasury", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.CreateQuote(ctx, q); err != nil {
		t.Fatalf("CreateQuote() error = %v", err)
	}
	if err := store.CreateExecution(ctx, &ledger.Execution{ID: "exec_q1", QuoteID: "q1", Chain: chain.Solana, Status: ledger.ExecutionStatusSuccess, TxHash: "already_done", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateExecution() error = %v", err)
	}

	fe := &fakeExecutor{confirmStatus: ConfirmStatusConfirmed}
	router := NewRouter(config.RiskConfig{}, store, newTestRiskManager(), zerolog.Nop(), map[chain.Chain]Executor{chain.Solana: fe})

	exec, err := router.Execute(ctx, &QuoteView{QuoteID: "q1", ExecutionChain: chain.Solana})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if exec.TxHash != "already_done" {
		t.Errorf("TxHash = %q, want already_done (no resubmission)", exec.TxHash)
	}
	if fe.submitCalls != 0 {
		t.Errorf("submitCalls = %d, want 0", fe.submitCalls)
	}
}

func TestRouter_Execute_FailsAfterRetriesExhausted(t *testing.T) {
	store := ledger.NewMemoryStore()
	ctx := context.Background()
	q := &ledger.Quote{ID: "q1", UserID: "u1", FundingChain: chain.NEAR, ExecutionChain: chain.Solana, Status: ledger.QuoteStatusCommitted, PaymentAddress: "treasury", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.CreateQuote(ctx, q); err != nil {
		t.Fatalf("CreateQuote() error = %v", err)
	}

	fe := &fakeExecutor{submitErr: fmt.Errorf("rpc timeout")}
	router := NewRouter(config.RiskConfig{MaxRetries: 1, RetryBaseBackoff: config.Duration{Duration: time.Millisecond}}, store, newTestRiskManager(), zerolog.Nop(), map[chain.Chain]Executor{chain.Solana: fe})

	if _, err := router.Execute(ctx, &QuoteView{QuoteID: "q1", ExecutionChain: chain.Solana}); err == nil {
		t.Fatal("Execute() error = nil, want failure")
	}

	got, err := store.GetQuote(ctx, "q1")
	if err != nil {
		t.Fatalf("GetQuote() error = %v", err)
	}
	if got.Status != ledger.QuoteStatusFailed {
		t.Errorf("quote status = %v, want Failed", got.Status)
	}
}

func TestRouter_Execute_ArmsBreakerAfterConsecutiveFailures(t *testing.T) {
	store := ledger.NewMemoryStore()
	ctx := context.Background()
	riskMgr := newTestRiskManager()
	fe := &fakeExecutor{submitErr: fmt.Errorf("rpc timeout")}
	router := NewRouter(config.RiskConfig{MaxRetries: 0, MaxConsecutiveFailures: 2, RetryBaseBackoff: config.Duration{Duration: time.Millisecond}}, store, riskMgr, zerolog.Nop(), map[chain.Chain]Executor{chain.Solana: fe})

	for i := 0; i < 2; i++ {
		qid := fmt.Sprintf("q%d", i)
		q := &ledger.Quote{ID: qid, UserID: "u1", FundingChain: chain.NEAR, ExecutionChain: chain.Solana, Status: ledger.QuoteStatusCommitted, PaymentAddress: "treasury", ExpiresAt: time.Now().Add(time.Hour)}
		if err := store.CreateQuote(ctx, q); err != nil {
			t.Fatalf("CreateQuote() error = %v", err)
		}
		if _, err := router.Execute(ctx, &QuoteView{QuoteID: qid, ExecutionChain: chain.Solana}); err == nil {
			t.Fatalf("Execute() iteration %d error = nil, want failure", i)
		}
	}

	if !riskMgr.IsOpen(chain.Solana) {
		t.Error("IsOpen(Solana) = false, want breaker armed after consecutive failures")
	}
}
