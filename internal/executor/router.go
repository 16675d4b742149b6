package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/cedros-labs/payment-engine/internal/risk"
	"github.com/cedros-labs/payment-engine/internal/rpcutil"
	"github.com/rs/zerolog"
)

// ErrCircuitOpen is returned when the target chain's breaker is tripped.
var ErrCircuitOpen = fmt.Errorf("executor: circuit breaker is open")

// Router dispatches execution to the per-chain Executor registered for
// quote.ExecutionChain, applying idempotency and circuit-breaker checks
// before and during the retry harness (spec §4.3). It also implements
// approval.BalanceProber so the approval service can probe balances through
// the same registered executors.
type Router struct {
	store     ledger.Store
	risk      *risk.Manager
	log       zerolog.Logger
	executors map[chain.Chain]Executor

	maxRetries             int
	baseBackoff            time.Duration
	maxConsecutiveFailures int

	mu                   sync.Mutex
	consecutiveFailures  map[chain.Chain]int
}

// NewRouter builds a Router. executors must have one entry per chain the
// deployment supports; a chain with no registered executor fails every
// operation with a clear error rather than panicking.
func NewRouter(cfg config.RiskConfig, store ledger.Store, riskMgr *risk.Manager, log zerolog.Logger, executors map[chain.Chain]Executor) *Router {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseBackoff := cfg.RetryBaseBackoff.Duration
	if baseBackoff <= 0 {
		baseBackoff = 1 * time.Second
	}
	maxConsecutiveFailures := cfg.MaxConsecutiveFailures
	if maxConsecutiveFailures <= 0 {
		maxConsecutiveFailures = 5
	}
	return &Router{
		store:                store,
		risk:                 riskMgr,
		log:                  log,
		executors:            executors,
		maxRetries:           maxRetries,
		baseBackoff:          baseBackoff,
		maxConsecutiveFailures: maxConsecutiveFailures,
		consecutiveFailures:  make(map[chain.Chain]int),
	}
}

// ProbeBalance implements approval.BalanceProber.
func (r *Router) ProbeBalance(ctx context.Context, c chain.Chain, address, asset string) (chain.Amount, error) {
	ex, ok := r.executors[c]
	if !ok {
		return chain.Amount{}, fmt.Errorf("executor: no executor registered for chain %s", c)
	}
	return ex.ProbeBalance(ctx, address, asset)
}

// Execute runs the full submit+confirm flow for q, idempotently (spec
// §4.3). On success it writes the Success execution row and transitions the
// quote Committed -> Executed; no settlement record is written here (the
// settlement scheduler picks up unsettled executions later). On
// exhausted retries it writes a Failed execution row, transitions the quote
// to Failed, and arms the chain's circuit breaker once the consecutive
// failure count reaches the configured threshold.
func (r *Router) Execute(ctx context.Context, q *QuoteView) (*ledger.Execution, error) {
	if existing, err := r.store.GetSuccessfulExecutionByQuote(ctx, q.QuoteID); err == nil {
		return existing, nil
	} else if err != ledger.ErrNotFound {
		return nil, fmt.Errorf("check existing execution: %w", err)
	}

	if r.risk.IsOpen(q.ExecutionChain) {
		return nil, ErrCircuitOpen
	}

	ex, ok := r.executors[q.ExecutionChain]
	if !ok {
		return nil, fmt.Errorf("executor: no executor registered for chain %s", q.ExecutionChain)
	}

	execID := "exec_" + q.QuoteID
	if err := r.store.CreateExecution(ctx, &ledger.Execution{
		ID: execID, QuoteID: q.QuoteID, Chain: q.ExecutionChain,
		Status: ledger.ExecutionStatusPending, CreatedAt: time.Now(),
	}); err != nil && err != ledger.ErrAlreadyExists {
		return nil, fmt.Errorf("create execution row: %w", err)
	}

	retryCfg := rpcutil.RetryConfig{
		MaxRetries: r.maxRetries,
		BaseDelay:  r.baseBackoff,
		Jitter:     r.baseBackoff / 2,
	}

	result, submitErr := rpcutil.WithRetryCustom(ctx, retryCfg, func() (SubmitResult, error) {
		// Re-check idempotency and breaker state before every attempt —
		// another goroutine or a concurrent process may have already
		// completed this quote, or the breaker may have tripped mid-retry.
		if existing, err := r.store.GetSuccessfulExecutionByQuote(ctx, q.QuoteID); err == nil {
			return SubmitResult{TxHash: existing.TxHash, GasCost: existing.GasCost}, nil
		}
		if r.risk.IsOpen(q.ExecutionChain) {
			return SubmitResult{}, ErrCircuitOpen
		}
		return ex.Submit(ctx, q)
	})

	if submitErr != nil {
		return r.recordFailure(ctx, execID, q, submitErr)
	}

	timeout := time.Duration(q.ExecutionChain.WorstCaseConfirmationTimeout()) * time.Second
	status, confirmErr := ex.Confirm(ctx, result.TxHash, timeout)
	if confirmErr != nil {
		return r.recordFailure(ctx, execID, q, confirmErr)
	}

	switch status {
	case ConfirmStatusConfirmed:
		return r.recordSuccess(ctx, execID, q, result)
	case ConfirmStatusTimeout:
		// Leave the provisional Pending row in place; nothing in this
		// package polls it again. Do not mark Failed and do not resubmit.
		r.log.Warn().Str("quote_id", q.QuoteID).Str("tx_hash", result.TxHash).Msg("executor.confirm_timeout_pending_reconciliation")
		return r.store.GetExecution(ctx, execID)
	default:
		return r.recordFailure(ctx, execID, q, fmt.Errorf("execution failed on chain"))
	}
}

func (r *Router) recordSuccess(ctx context.Context, execID string, q *QuoteView, result SubmitResult) (*ledger.Execution, error) {
	if err := r.store.UpdateExecutionStatus(ctx, execID, ledger.ExecutionStatusSuccess, result.TxHash, ""); err != nil {
		return nil, fmt.Errorf("mark execution success: %w", err)
	}
	if err := r.store.TransitionQuote(ctx, q.QuoteID, ledger.QuoteStatusCommitted, ledger.QuoteStatusExecuted); err != nil {
		r.log.Error().Err(err).Str("quote_id", q.QuoteID).Msg("executor.quote_transition_failed_after_success")
	}
	r.resetFailures(q.ExecutionChain)
	return r.store.GetExecution(ctx, execID)
}

func (r *Router) recordFailure(ctx context.Context, execID string, q *QuoteView, cause error) (*ledger.Execution, error) {
	if err := r.store.UpdateExecutionStatus(ctx, execID, ledger.ExecutionStatusFailed, "", cause.Error()); err != nil {
		r.log.Error().Err(err).Str("quote_id", q.QuoteID).Msg("executor.mark_execution_failed_error")
	}
	if err := r.store.TransitionQuote(ctx, q.QuoteID, ledger.QuoteStatusCommitted, ledger.QuoteStatusFailed); err != nil {
		r.log.Error().Err(err).Str("quote_id", q.QuoteID).Msg("executor.quote_transition_failed_after_failure")
	}
	r.countFailure(q.ExecutionChain)
	return nil, fmt.Errorf("executor: submit failed: %w", cause)
}

func (r *Router) countFailure(c chain.Chain) {
	r.mu.Lock()
	r.consecutiveFailures[c]++
	n := r.consecutiveFailures[c]
	r.mu.Unlock()
	if n >= r.maxConsecutiveFailures {
		r.log.Warn().Str("chain", string(c)).Int("consecutive_failures", n).Msg("executor.arming_circuit_breaker")
		r.risk.TripChain(c, fmt.Sprintf("%d consecutive execution failures", n))
	}
}

func (r *Router) resetFailures(c chain.Chain) {
	r.mu.Lock()
	r.consecutiveFailures[c] = 0
	r.mu.Unlock()
}
