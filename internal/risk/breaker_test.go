package risk

import (
	"context"
	"testing"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/rs/zerolog"
)

func TestManager_TripChain_PersistsDurableState(t *testing.T) {
	store := ledger.NewMemoryStore()
	cfg := config.CircuitBreakerConfig{
		Enabled: true,
		Solana:  config.BreakerServiceConfig{ConsecutiveFailures: 5, MaxRequests: 1, Timeout: config.Duration{Duration: time.Minute}},
	}
	m := NewManager(cfg, store, zerolog.Nop())

	if m.IsOpen(chain.Solana) {
		t.Fatal("IsOpen() = true before any failures, want false")
	}

	m.TripChain(chain.Solana, "5 consecutive execution failures")

	if !m.IsOpen(chain.Solana) {
		t.Error("IsOpen() = false after TripChain, want true")
	}

	state, err := store.GetCircuitBreakerState(context.Background(), chain.Solana)
	if err != nil {
		t.Fatalf("GetCircuitBreakerState() error = %v", err)
	}
	if !state.Active {
		t.Error("durable state Active = false, want true")
	}
}

func TestManager_ResetChain(t *testing.T) {
	store := ledger.NewMemoryStore()
	cfg := config.CircuitBreakerConfig{
		Enabled: true,
		Solana:  config.BreakerServiceConfig{ConsecutiveFailures: 5, MaxRequests: 1, Timeout: config.Duration{Duration: time.Minute}},
	}
	m := NewManager(cfg, store, zerolog.Nop())
	m.TripChain(chain.Solana, "test")

	if err := m.ResetChain(context.Background(), chain.Solana); err != nil {
		t.Fatalf("ResetChain() error = %v", err)
	}
	if m.IsOpen(chain.Solana) {
		t.Error("IsOpen() = true after ResetChain, want false")
	}
}

func TestManager_Disabled_NeverOpen(t *testing.T) {
	store := ledger.NewMemoryStore()
	m := NewManager(config.CircuitBreakerConfig{Enabled: false}, store, zerolog.Nop())
	m.TripChain(chain.Solana, "should not matter")
	if m.IsOpen(chain.Solana) {
		t.Error("IsOpen() = true while breakers disabled, want false")
	}
}
