// Package ledger is the durable source of truth for the payment engine: it
// owns every persistent entity (users, wallets, quotes, approvals,
// executions, settlements, daily spending counters, circuit breaker state,
// audit log, outbox) and enforces the state-machine transitions described in
// spec.md §4 via conditional updates, following the teacher's
// internal/storage Postgres idiom (UPDATE ... WHERE status = $expected,
// checked against RowsAffected()).
package ledger

import (
	"errors"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("ledger: not found")

// ErrInvalidStateTransition is returned when a conditional state update
// affects zero rows — the entity was not in the expected state, either
// because it raced with a concurrent writer or was already terminal.
var ErrInvalidStateTransition = errors.New("ledger: invalid state transition")

// ErrAlreadyExists is returned on unique-constraint violations (duplicate
// nonce, duplicate webhook id, duplicate successful execution).
var ErrAlreadyExists = errors.New("ledger: already exists")

// QuoteStatus is the quote lifecycle state, per spec §4.1.
type QuoteStatus string

const (
	QuoteStatusPending   QuoteStatus = "pending"
	QuoteStatusCommitted QuoteStatus = "committed"
	QuoteStatusExecuted  QuoteStatus = "executed"
	QuoteStatusSettled   QuoteStatus = "settled"
	QuoteStatusFailed    QuoteStatus = "failed"
	QuoteStatusExpired   QuoteStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s QuoteStatus) Terminal() bool {
	switch s {
	case QuoteStatusSettled, QuoteStatusFailed, QuoteStatusExpired:
		return true
	default:
		return false
	}
}

// allowedQuoteTransitions encodes spec §4.1's state machine exhaustively.
var allowedQuoteTransitions = map[QuoteStatus]map[QuoteStatus]bool{
	QuoteStatusPending:   {QuoteStatusCommitted: true, QuoteStatusExpired: true},
	QuoteStatusCommitted: {QuoteStatusExecuted: true, QuoteStatusFailed: true, QuoteStatusExpired: true},
	QuoteStatusExecuted:  {QuoteStatusSettled: true, QuoteStatusFailed: true},
}

// ValidQuoteTransition reports whether (from, to) is an allowed transition.
func ValidQuoteTransition(from, to QuoteStatus) bool {
	next, ok := allowedQuoteTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Quote is the primary entity of the payment pipeline (spec §3).
type Quote struct {
	ID               string
	UserID           string
	FundingChain     chain.Chain
	ExecutionChain   chain.Chain
	FundingAsset     string
	ExecutionAsset   string
	MaxFundingAmount chain.Amount
	ExecutionCost    chain.Amount
	ServiceFee       chain.Amount
	SlippageBoundBps int
	PaymentAddress   string
	PaymentMemo      string
	Nonce            string
	Status           QuoteStatus
	ExecutionInstructions []byte
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ApprovalStatus tracks the spending-approval protocol's progress.
type ApprovalStatus string

const (
	ApprovalStatusCreated           ApprovalStatus = "created"
	ApprovalStatusSignatureSubmitted ApprovalStatus = "signature_submitted"
	ApprovalStatusAuthorized        ApprovalStatus = "authorized"
)

// Approval is the spending-approval record (spec §4.2).
type Approval struct {
	ID               string
	QuoteID          string
	UserID           string
	FundingChain     chain.Chain
	ApprovedAmount   chain.Amount
	WalletAddress    string
	TreasuryAddress  string
	Nonce            string
	MessageToSign    string
	Signature        string
	Status           ApprovalStatus
	IsUsed           bool
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ExecutionStatus is the per-attempt execution record status.
type ExecutionStatus string

const (
	ExecutionStatusPending ExecutionStatus = "pending"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

// Execution records one attempt to pay out the execution-chain transfer.
type Execution struct {
	ID          string
	QuoteID     string
	Chain       chain.Chain
	Status      ExecutionStatus
	TxHash      string
	GasCost     chain.Amount
	Error       string
	CreatedAt   time.Time
	ConfirmedAt *time.Time
}

// SettlementStatus tracks treasury-to-treasury refill confirmation.
type SettlementStatus string

const (
	SettlementStatusPending   SettlementStatus = "pending"
	SettlementStatusConfirmed SettlementStatus = "confirmed"
	SettlementStatusFailed    SettlementStatus = "failed"
)

// Settlement is a batch treasury refill closing out a set of executions.
type Settlement struct {
	ID         string
	Chain      chain.Chain
	Asset      string
	Amount     chain.Amount
	TxHash     string
	Status     SettlementStatus
	CreatedAt  time.Time
	VerifiedAt *time.Time
	// ExecutionIDs is the association-table link to the executions this
	// settlement closes out.
	ExecutionIDs []string
}

// DailySpending is the per-chain, per-UTC-day monotonic counter (spec §3).
type DailySpending struct {
	Chain       chain.Chain
	Date        string // YYYY-MM-DD, UTC
	AmountSpent int64
	TxCount     int64
}

// CircuitBreakerState is the durable per-chain kill-switch (spec §3, §4.5).
type CircuitBreakerState struct {
	Chain       chain.Chain
	Active      bool
	Reason      string
	TriggeredAt *time.Time
}

// AuditEvent is an append-only domain-event record (spec §4.7).
type AuditEvent struct {
	ID        string
	Timestamp time.Time
	EventType string
	Chain     chain.Chain
	QuoteID   string
	UserID    string
	Details   map[string]interface{}
}

// OutboxNotification is an append-only, write-only notification record the
// core appends and an external delivery worker consumes (spec §1, §4.7).
type OutboxNotification struct {
	ID         string
	UserID     string
	Channel    string
	Priority   string
	Recipient  string
	Subject    string
	Body       string
	Status     string
	RetryCount int
	LastError  string
	ExternalID string
	CreatedAt  time.Time
}

// User is the registered identity with optional per-chain wallets.
type User struct {
	ID        string
	CreatedAt time.Time
}

// Wallet is a verified (or pending) per-chain wallet address binding.
type Wallet struct {
	UserID     string
	Chain      chain.Chain
	Address    string
	Verified   bool
	VerifiedAt *time.Time
}

// WebhookEvent records a processed inbound webhook id for deduplication.
type WebhookEvent struct {
	WebhookID string
	Chain     chain.Chain
	TxHash    string
	QuoteID   string
	CreatedAt time.Time
}
