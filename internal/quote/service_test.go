package quote

import (
	"context"
	"testing"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/cedros-labs/payment-engine/internal/priceoracle"
	"github.com/cedros-labs/payment-engine/internal/risk"
)

type fakePriceSource struct {
	price priceoracle.Price
	err   error
}

func (f *fakePriceSource) GetPrice(_ context.Context, base, quote string) (priceoracle.Price, error) {
	if f.err != nil {
		return priceoracle.Price{}, f.err
	}
	p := f.price
	p.Base, p.Quote = base, quote
	return p, nil
}

func setupFixture(t *testing.T) (*Service, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	if err := store.UpsertUser(context.Background(), "user_1"); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if err := store.UpsertWallet(context.Background(), &ledger.Wallet{
		UserID: "user_1", Chain: chain.Stellar, Address: "GABCDEF", Verified: true,
	}); err != nil {
		t.Fatalf("upsert wallet: %v", err)
	}

	prices := &fakePriceSource{price: priceoracle.Price{Rate: 1.0, PublishedAt: time.Now()}}

	chainsCfg := config.ChainsConfig{
		Solana:  config.ChainConfig{AllowedAssets: []string{"USDC"}},
		Stellar: config.ChainConfig{AllowedAssets: []string{"USDC-STELLAR"}},
	}
	quoteCfg := config.QuoteConfig{SlippageBufferBps: 100}
	priceCfg := config.PriceOracleConfig{}

	dailyCap := risk.NewDailyCapController(config.RiskConfig{DailyCapSolana: 1_000_000_000}, store)

	svc := NewService(quoteCfg, priceCfg, chainsCfg, store, prices, dailyCap)
	return svc, store
}

func TestService_Create_Success(t *testing.T) {
	svc, _ := setupFixture(t)

	q, err := svc.Create(context.Background(), CreateRequest{
		UserID:          "user_1",
		FundingChain:    chain.Solana,
		ExecutionChain:  chain.Stellar,
		FundingAsset:    "USDC",
		ExecutionAsset:  "USDC-STELLAR",
		ExecutionAmount: 1_000_000,
		PaymentAddress:  "treasury-solana",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if q.Status != ledger.QuoteStatusPending {
		t.Errorf("status = %s, want Pending", q.Status)
	}
	// 1_000_000 USDC-STELLAR atomic (7 decimals) at rate 1.0 is 100_000
	// USDC atomic (6 decimals) before the slippage buffer.
	if q.MaxFundingAmount.Atomic <= 100_000 {
		t.Errorf("expected slippage buffer to inflate max funding amount above the unbuffered funding cost")
	}
	if q.Nonce == "" {
		t.Error("expected a nonce to be generated")
	}
}

func TestService_Create_RejectsSameChain(t *testing.T) {
	svc, _ := setupFixture(t)
	_, err := svc.Create(context.Background(), CreateRequest{
		UserID: "user_1", FundingChain: chain.Solana, ExecutionChain: chain.Solana,
		FundingAsset: "USDC", ExecutionAsset: "USDC", ExecutionAmount: 1,
	})
	if err != ErrSameChain {
		t.Errorf("err = %v, want ErrSameChain", err)
	}
}

func TestService_Create_RejectsDisallowedAsset(t *testing.T) {
	svc, _ := setupFixture(t)
	_, err := svc.Create(context.Background(), CreateRequest{
		UserID: "user_1", FundingChain: chain.Solana, ExecutionChain: chain.Stellar,
		FundingAsset: "SOL", ExecutionAsset: "USDC-STELLAR", ExecutionAmount: 1,
	})
	if err == nil {
		t.Fatal("expected error for disallowed funding asset")
	}
}

func TestService_Create_RejectsUnverifiedWallet(t *testing.T) {
	svc, store := setupFixture(t)
	if err := store.UpsertUser(context.Background(), "user_2"); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	_, err := svc.Create(context.Background(), CreateRequest{
		UserID: "user_2", FundingChain: chain.Solana, ExecutionChain: chain.Stellar,
		FundingAsset: "USDC", ExecutionAsset: "USDC-STELLAR", ExecutionAmount: 1,
	})
	if err != ErrWalletNotVerified {
		t.Errorf("err = %v, want ErrWalletNotVerified", err)
	}
}

func TestService_Create_RejectsStalePrice(t *testing.T) {
	svc, _ := setupFixture(t)
	svc.prices = &fakePriceSource{price: priceoracle.Price{Rate: 1.0, PublishedAt: time.Now().Add(-time.Hour)}}
	svc.maxPriceAge = 5 * time.Second

	_, err := svc.Create(context.Background(), CreateRequest{
		UserID: "user_1", FundingChain: chain.Solana, ExecutionChain: chain.Stellar,
		FundingAsset: "USDC", ExecutionAsset: "USDC-STELLAR", ExecutionAmount: 1_000_000,
	})
	if err == nil {
		t.Fatal("expected stale-price error")
	}
}

func TestService_CreateAndCommit(t *testing.T) {
	svc, _ := setupFixture(t)

	q, err := svc.Create(context.Background(), CreateRequest{
		UserID: "user_1", FundingChain: chain.Solana, ExecutionChain: chain.Stellar,
		FundingAsset: "USDC", ExecutionAsset: "USDC-STELLAR", ExecutionAmount: 1_000_000,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	committed, err := svc.Commit(context.Background(), q.ID)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if committed.Status != ledger.QuoteStatusCommitted {
		t.Errorf("status = %s, want Committed", committed.Status)
	}

	if _, err := svc.Commit(context.Background(), q.ID); err == nil {
		t.Error("expected second Commit on an already-committed quote to fail")
	}
}

func TestService_ExpireSweep(t *testing.T) {
	svc, store := setupFixture(t)

	q, err := svc.Create(context.Background(), CreateRequest{
		UserID: "user_1", FundingChain: chain.Solana, ExecutionChain: chain.Stellar,
		FundingAsset: "USDC", ExecutionAsset: "USDC-STELLAR", ExecutionAmount: 1_000_000,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ids, err := store.ExpireStaleQuotes(context.Background(), q.ExpiresAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("ExpireStaleQuotes: %v", err)
	}
	if len(ids) != 1 || ids[0] != q.ID {
		t.Errorf("expired ids = %v, want [%s]", ids, q.ID)
	}

	expired, err := store.GetQuote(context.Background(), q.ID)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if expired.Status != ledger.QuoteStatusExpired {
		t.Errorf("status = %s, want Expired", expired.Status)
	}
}
