package approval

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"testing"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/ledger"
)

type fakeBalanceProber struct {
	balance chain.Amount
}

func (f *fakeBalanceProber) ProbeBalance(_ context.Context, _ chain.Chain, _, _ string) (chain.Amount, error) {
	return f.balance, nil
}

func setupApprovalFixture(t *testing.T) (*Service, *ledger.MemoryStore, ed25519.PublicKey, ed25519.PrivateKey, string) {
	t.Helper()
	store := ledger.NewMemoryStore()
	ctx := context.Background()

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	walletAddr := hex.EncodeToString(pub)

	if err := store.UpsertUser(ctx, "user1"); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	if err := store.UpsertWallet(ctx, &ledger.Wallet{UserID: "user1", Chain: chain.NEAR, Address: walletAddr, Verified: true}); err != nil {
		t.Fatalf("UpsertWallet() error = %v", err)
	}

	q := &ledger.Quote{
		ID: "q1", UserID: "user1", FundingChain: chain.NEAR, ExecutionChain: chain.Solana,
		FundingAsset: "NEAR", ExecutionAsset: "USDC", Nonce: "qn1",
		Status: ledger.QuoteStatusPending, PaymentAddress: "treasury.testnet",
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	if err := store.CreateQuote(ctx, q); err != nil {
		t.Fatalf("CreateQuote() error = %v", err)
	}

	prober := &fakeBalanceProber{balance: chain.Amount{Asset: "NEAR", Atomic: 1_000_000}}
	svc := NewService(config.ApprovalConfig{}, store, prober)
	return svc, store, pub, priv, walletAddr
}

func TestService_CreateAndSubmit(t *testing.T) {
	svc, _, _, priv, walletAddr := setupApprovalFixture(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "q1", "user1", walletAddr, chain.Amount{Asset: "NEAR", Atomic: 500_000})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if a.Status != ledger.ApprovalStatusCreated {
		t.Errorf("Status = %v, want Created", a.Status)
	}

	sig := ed25519.Sign(priv, []byte(a.MessageToSign))
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	authorized, err := svc.Submit(ctx, a.ID, sigB64)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if authorized.Status != ledger.ApprovalStatusAuthorized {
		t.Errorf("Status = %v, want Authorized", authorized.Status)
	}
	if !authorized.IsUsed {
		t.Error("IsUsed = false, want true")
	}
}

func TestService_Submit_RejectsReplay(t *testing.T) {
	svc, _, _, priv, walletAddr := setupApprovalFixture(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "q1", "user1", walletAddr, chain.Amount{Asset: "NEAR", Atomic: 500_000})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	sig := ed25519.Sign(priv, []byte(a.MessageToSign))
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	if _, err := svc.Submit(ctx, a.ID, sigB64); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if _, err := svc.Submit(ctx, a.ID, sigB64); err == nil {
		t.Error("second Submit() error = nil, want rejection of replay")
	}
}

func TestService_Submit_RejectsBadSignature(t *testing.T) {
	svc, _, otherPub, _, walletAddr := setupApprovalFixture(t)
	ctx := context.Background()
	_ = otherPub

	a, err := svc.Create(ctx, "q1", "user1", walletAddr, chain.Amount{Asset: "NEAR", Atomic: 500_000})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, wrongPriv, _ := ed25519.GenerateKey(nil)
	sig := ed25519.Sign(wrongPriv, []byte(a.MessageToSign))
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	if _, err := svc.Submit(ctx, a.ID, sigB64); err == nil {
		t.Error("Submit() with wrong key error = nil, want signature verification failure")
	}
}
