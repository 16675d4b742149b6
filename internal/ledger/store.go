package ledger

import (
	"context"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
)

// Store is the durable persistence interface for every entity the payment
// engine owns. It generalizes the teacher's storage.Store interface (which
// had one method family per product entity) to the quote/approval/
// execution/settlement entities of spec §3-§4, keeping the same shape:
// narrow, state-specific methods rather than a generic CRUD surface, so
// every state transition the domain allows has its own conditional-update
// method and anything else is a compile error.
type Store interface {
	// Quotes.
	CreateQuote(ctx context.Context, q *Quote) error
	GetQuote(ctx context.Context, id string) (*Quote, error)
	// TransitionQuote performs `UPDATE quotes SET status=$to ... WHERE id=$id
	// AND status=$from`, returning ErrInvalidStateTransition if no row
	// matched — the teacher's conditional-update idiom from
	// postgres_store.go's MarkCartPaid/RecordPayments.
	TransitionQuote(ctx context.Context, id string, from, to QuoteStatus) error
	// ExpireStaleQuotes transitions every Pending/Committed quote whose
	// expires_at has passed into Expired, returning the affected ids.
	ExpireStaleQuotes(ctx context.Context, asOf time.Time) ([]string, error)

	// Approvals.
	CreateApproval(ctx context.Context, a *Approval) error
	GetApproval(ctx context.Context, id string) (*Approval, error)
	ListApprovalsByUser(ctx context.Context, userID string) ([]*Approval, error)
	// SubmitApprovalSignature records the signed message and transitions
	// Created -> SignatureSubmitted conditionally.
	SubmitApprovalSignature(ctx context.Context, id, signature string) error
	// AuthorizeApproval flips SignatureSubmitted -> Authorized. Verification
	// of the signature itself happens in internal/approval, not here.
	AuthorizeApproval(ctx context.Context, id string) error
	// ConsumeApproval atomically flips is_used false->true, returning
	// ErrInvalidStateTransition if already used — the exactly-once guard for
	// spend authorization (spec §4.2 edge case).
	ConsumeApproval(ctx context.Context, id string) error

	// Executions.
	CreateExecution(ctx context.Context, e *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	GetSuccessfulExecutionByQuote(ctx context.Context, quoteID string) (*Execution, error)
	UpdateExecutionStatus(ctx context.Context, id string, status ExecutionStatus, txHash, errMsg string) error
	ListUnsettledExecutions(ctx context.Context, chain chain.Chain) ([]*Execution, error)

	// Settlements.
	CreateSettlement(ctx context.Context, s *Settlement) error
	GetSettlement(ctx context.Context, id string) (*Settlement, error)
	GetSettlementByQuote(ctx context.Context, quoteID string) (*Settlement, error)
	UpdateSettlementStatus(ctx context.Context, id string, status SettlementStatus, txHash string) error

	// Daily spending (risk controller, spec §4.5).
	GetDailySpending(ctx context.Context, chain chain.Chain, date string) (*DailySpending, error)
	// IncrementDailySpending atomically upserts and adds amount to the
	// running total for (chain, date), returning the post-increment total.
	IncrementDailySpending(ctx context.Context, chain chain.Chain, date string, amount int64) (int64, error)

	// Circuit breaker durable state (spec §4.5, operator-visible via admin
	// endpoint).
	GetCircuitBreakerState(ctx context.Context, chain chain.Chain) (*CircuitBreakerState, error)
	SetCircuitBreakerState(ctx context.Context, state *CircuitBreakerState) error

	// Audit log (append-only).
	AppendAuditEvent(ctx context.Context, e *AuditEvent) error

	// Outbox (append-only, consumed by an external delivery worker).
	AppendOutboxNotification(ctx context.Context, n *OutboxNotification) error
	GetOutboxNotification(ctx context.Context, id string) (*OutboxNotification, error)
	ListPendingOutboxNotifications(ctx context.Context, limit int) ([]*OutboxNotification, error)
	MarkOutboxDelivered(ctx context.Context, id, externalID string) error
	MarkOutboxFailed(ctx context.Context, id, errMsg string, retryCount int) error

	// Users and wallets.
	UpsertUser(ctx context.Context, userID string) error
	UpsertWallet(ctx context.Context, w *Wallet) error
	GetWallet(ctx context.Context, userID string, c chain.Chain) (*Wallet, error)

	// Webhook dedup (spec §4.6 idempotent ingress).
	RecordWebhookEvent(ctx context.Context, e *WebhookEvent) error
	HasWebhookEvent(ctx context.Context, webhookID string) (bool, error)

	Close() error
}
