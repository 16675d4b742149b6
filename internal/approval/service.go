package approval

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/ledger"
)

// BalanceProber is the narrow executor capability the approval service
// needs to verify a wallet can actually cover the approved amount (spec
// §4.2 "verify the user's on-chain token balance via the corresponding
// executor's balance probe"). internal/executor.Router satisfies this.
type BalanceProber interface {
	ProbeBalance(ctx context.Context, c chain.Chain, address, asset string) (chain.Amount, error)
}

// ErrQuoteNotPending is returned when Create is called against a quote that
// has already left the Pending state.
var ErrQuoteNotPending = fmt.Errorf("approval: quote is not pending")

// ErrWalletMismatch is returned when the wallet address supplied to Create
// is not the user's verified funding-chain wallet.
var ErrWalletMismatch = fmt.Errorf("approval: wallet address is not the user's verified funding-chain wallet")

// ErrAlreadyUsed is returned by Submit when the approval has already been
// consumed.
var ErrAlreadyUsed = fmt.Errorf("approval: already used")

// ErrExpired is returned by Submit when the approval's expiry has passed.
var ErrExpired = fmt.Errorf("approval: expired")

// ErrInsufficientBalance is returned by Submit when the wallet's on-chain
// balance cannot cover the approved amount.
var ErrInsufficientBalance = fmt.Errorf("approval: insufficient on-chain balance")

// Service implements create/submit for the spending-approval protocol.
type Service struct {
	store   ledger.Store
	balance BalanceProber
	ttl     time.Duration
}

// NewService builds an approval Service.
func NewService(cfg config.ApprovalConfig, store ledger.Store, balance BalanceProber) *Service {
	ttl := cfg.TTL.Duration
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{store: store, balance: balance, ttl: ttl}
}

// Create builds and persists a spending-approval challenge for a quote,
// per spec §4.2 "Create".
func (s *Service) Create(ctx context.Context, quoteID, userID, walletAddress string, approvedAmount chain.Amount) (*ledger.Approval, error) {
	q, err := s.store.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("get quote: %w", err)
	}
	if q.UserID != userID {
		return nil, fmt.Errorf("approval: quote does not belong to user")
	}
	if q.Status != ledger.QuoteStatusPending {
		return nil, ErrQuoteNotPending
	}

	wallet, err := s.store.GetWallet(ctx, userID, q.FundingChain)
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	if !wallet.Verified || wallet.Address != walletAddress {
		return nil, ErrWalletMismatch
	}

	nonce, err := randomNonce()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	now := time.Now()
	expiresAt := now.Add(s.ttl)
	a := &ledger.Approval{
		ID:              "appr_" + mustRandomID(),
		QuoteID:         quoteID,
		UserID:          userID,
		FundingChain:    q.FundingChain,
		ApprovedAmount:  approvedAmount,
		WalletAddress:   walletAddress,
		TreasuryAddress: q.PaymentAddress,
		Nonce:           nonce,
		Status:          ledger.ApprovalStatusCreated,
		IsUsed:          false,
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	a.MessageToSign = composeMessage(a)

	if err := s.store.CreateApproval(ctx, a); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}
	return a, nil
}

// Submit verifies a signed approval and flips it to Authorized exactly
// once, per spec §4.2 "Submit".
func (s *Service) Submit(ctx context.Context, approvalID, signature string) (*ledger.Approval, error) {
	a, err := s.store.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	if a.IsUsed {
		return nil, ErrAlreadyUsed
	}
	if time.Now().After(a.ExpiresAt) {
		return nil, ErrExpired
	}

	if err := VerifySignature(a.FundingChain, a.WalletAddress, a.MessageToSign, signature); err != nil {
		return nil, err
	}

	balance, err := s.balance.ProbeBalance(ctx, a.FundingChain, a.WalletAddress, a.ApprovedAmount.Asset)
	if err != nil {
		return nil, fmt.Errorf("probe balance: %w", err)
	}
	if balance.Atomic < a.ApprovedAmount.Atomic {
		return nil, ErrInsufficientBalance
	}

	if err := s.store.SubmitApprovalSignature(ctx, approvalID, signature); err != nil {
		return nil, fmt.Errorf("submit approval signature: %w", err)
	}
	if err := s.store.AuthorizeApproval(ctx, approvalID); err != nil {
		return nil, fmt.Errorf("authorize approval: %w", err)
	}
	// Both calls of a concurrent pair can observe Created above, but
	// SubmitApprovalSignature only updates a row still in Created, so the
	// loser fails there. ConsumeApproval is a further at-most-once guard on
	// is_used.
	if err := s.store.ConsumeApproval(ctx, approvalID); err != nil {
		return nil, fmt.Errorf("approval: %w", err)
	}

	return s.store.GetApproval(ctx, approvalID)
}

// composeMessage builds the canonical message the wallet must sign,
// containing every field spec §4.2 requires: prefix, asset, amount,
// recipient, quote id, nonce, expiry.
func composeMessage(a *ledger.Approval) string {
	return fmt.Sprintf(
		"cedros-payment-engine:approve-spend\nasset=%s\namount=%d\nrecipient=%s\nquote=%s\nnonce=%s\nexpires_at=%d",
		a.ApprovedAmount.Asset, a.ApprovedAmount.Atomic, a.TreasuryAddress, a.QuoteID, a.Nonce, a.ExpiresAt.Unix(),
	)
}

func randomNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func mustRandomID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the system entropy source is broken;
		// there is no safe fallback for an identifier used in replay-safety
		// guarantees.
		panic(fmt.Sprintf("approval: crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}
