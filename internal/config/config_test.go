package config

import (
	"os"
	"testing"
)

func validTestEnv(t *testing.T) {
	t.Helper()
	vars := map[string]string{
		"PAYENG_LEDGER_POSTGRES_URL":    "postgres://localhost/payeng",
		"PAYENG_SOLANA_RPC_URL":        "https://api.devnet.solana.com",
		"PAYENG_SOLANA_TREASURY_SECRET": "ref:solana-treasury",
		"PAYENG_SOLANA_TREASURY_ADDRESS": "11111111111111111111111111111111",
		"PAYENG_SOLANA_WEBHOOK_SECRET": "shh-solana",
		"PAYENG_STELLAR_HORIZON_URL":    "https://horizon-testnet.stellar.org",
		"PAYENG_STELLAR_TREASURY_SECRET": "ref:stellar-treasury",
		"PAYENG_STELLAR_TREASURY_ADDRESS": "GABCDEXAMPLE",
		"PAYENG_STELLAR_WEBHOOK_SECRET": "shh-stellar",
		"PAYENG_NEAR_RPC_URL":          "https://rpc.testnet.near.org",
		"PAYENG_NEAR_TREASURY_SECRET":   "ref:near-treasury",
		"PAYENG_NEAR_TREASURY_ADDRESS":  "treasury.testnet",
		"PAYENG_NEAR_WEBHOOK_SECRET":   "shh-near",
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	validTestEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("Server.Address = %q, want :8080", cfg.Server.Address)
	}
	if cfg.Quote.SlippageBufferBps != 100 {
		t.Errorf("Quote.SlippageBufferBps = %d, want 100", cfg.Quote.SlippageBufferBps)
	}
	if cfg.Chains.Solana.RPCURL == "" {
		t.Error("expected Solana RPC URL to be set from env")
	}
}

func TestLoadMissingRequiredFieldFails(t *testing.T) {
	os.Clearenv()
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for missing required ledger/chain config, got nil")
	}
}

func TestDurationEnvOverride(t *testing.T) {
	validTestEnv(t)
	t.Setenv("PAYENG_QUOTE_TTL", "90s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Quote.DefaultTTL.Duration.String() != "1m30s" {
		t.Errorf("Quote.DefaultTTL = %v, want 1m30s", cfg.Quote.DefaultTTL.Duration)
	}
}
