// Package executor implements the execution router and the per-chain
// executor capability (spec §4.3): dispatch-by-chain, idempotency against
// the ledger, circuit-breaker fail-fast, and a reified retry harness built
// on the teacher's internal/rpcutil.WithRetryCustom.
package executor

import (
	"context"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
)

// ConfirmStatus is the outcome of polling a submitted transaction.
type ConfirmStatus string

const (
	ConfirmStatusConfirmed ConfirmStatus = "confirmed"
	ConfirmStatusFailed    ConfirmStatus = "failed"
	ConfirmStatusTimeout   ConfirmStatus = "timeout"
)

// SubmitResult is returned by a successful Executor.Submit.
type SubmitResult struct {
	TxHash  string
	GasCost chain.Amount
}

// Executor is the per-chain capability every chain package
// (solanaexec/stellarexec/nearexec) implements, per spec §4.3.
type Executor interface {
	// Submit constructs, signs and broadcasts the transfer for q. The
	// provisional Pending execution row is written by Router.Execute before
	// it calls Submit, not by the executor.
	Submit(ctx context.Context, q *QuoteView) (SubmitResult, error)
	// ProbeBalance returns address's balance of asset in the chain's
	// smallest integer unit.
	ProbeBalance(ctx context.Context, address, asset string) (chain.Amount, error)
	// Confirm polls txHash until finalized or timeout elapses. Does not
	// resubmit on timeout: a silently-still-queued tx would double-execute.
	Confirm(ctx context.Context, txHash string, timeout time.Duration) (ConfirmStatus, error)
	// TransferToTreasury moves an aggregate amount from this chain's
	// treasury wallet to the configured settlement destination, used by the
	// settlement scheduler (spec §4.6).
	TransferToTreasury(ctx context.Context, asset string, amount chain.Amount) (SubmitResult, error)
}

// QuoteView is the narrow slice of ledger.Quote an executor needs to build
// a transfer. Defined here instead of importing ledger.Quote directly so
// chain packages (solanaexec etc.) don't need to import internal/ledger.
type QuoteView struct {
	QuoteID           string
	ExecutionChain    chain.Chain
	ExecutionAsset    string
	ExecutionCost     chain.Amount
	PaymentAddress    string
	PaymentMemo       string
}
