package risk

import (
	"context"
	"testing"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/ledger"
)

func TestDailyCapController_CheckAndReserve(t *testing.T) {
	store := ledger.NewMemoryStore()
	ctrl := NewDailyCapController(config.RiskConfig{DailyCapSolana: 1000}, store)
	ctx := context.Background()

	if err := ctrl.Check(ctx, chain.Solana, 500); err != nil {
		t.Fatalf("Check() under cap error = %v", err)
	}

	if err := ctrl.Reserve(ctx, chain.Solana, 500); err != nil {
		t.Fatalf("Reserve() under cap error = %v", err)
	}

	if err := ctrl.Check(ctx, chain.Solana, 600); err != ErrDailyCapExceeded {
		t.Errorf("Check() over cap error = %v, want ErrDailyCapExceeded", err)
	}

	if err := ctrl.Reserve(ctx, chain.Solana, 600); err != ErrDailyCapExceeded {
		t.Errorf("Reserve() over cap error = %v, want ErrDailyCapExceeded", err)
	}

	d, err := store.GetDailySpending(ctx, chain.Solana, today())
	if err != nil {
		t.Fatalf("GetDailySpending() error = %v", err)
	}
	if d.AmountSpent != 500 {
		t.Errorf("AmountSpent after rejected reserve = %d, want 500 (rollback applied)", d.AmountSpent)
	}
}

func TestDailyCapController_NoCapConfigured(t *testing.T) {
	store := ledger.NewMemoryStore()
	ctrl := NewDailyCapController(config.RiskConfig{}, store)
	ctx := context.Background()

	if err := ctrl.Check(ctx, chain.NEAR, 1_000_000_000); err != nil {
		t.Errorf("Check() with no cap configured error = %v, want nil", err)
	}
	if err := ctrl.Reserve(ctx, chain.NEAR, 1_000_000_000); err != nil {
		t.Errorf("Reserve() with no cap configured error = %v, want nil", err)
	}
}
