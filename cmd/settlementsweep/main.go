// Command settlementsweep runs one settlement cycle (spec §4.6) and exits,
// for operators who prefer driving the sweep from cron/k8s CronJob instead
// of the continuous loop paymentengined runs in-process.
package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"github.com/stellar/go/keypair"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/executor/nearexec"
	"github.com/cedros-labs/payment-engine/internal/executor/solanaexec"
	"github.com/cedros-labs/payment-engine/internal/executor/stellarexec"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/cedros-labs/payment-engine/internal/logger"
	solanakey "github.com/cedros-labs/payment-engine/internal/solana"
	"github.com/cedros-labs/payment-engine/internal/settlement"
)

func main() {
	configPath := flag.String("config", "configs/local.yaml", "path to config yaml")
	timeout := flag.Duration("timeout", 60*time.Second, "max time to run the sweep before aborting")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("settlementsweep: load config")
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "settlement-sweep",
		Environment: cfg.Logging.Environment,
	})

	store, err := ledger.NewPostgresStore(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("settlementsweep: connect ledger store")
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	transferers, err := buildTransferers(ctx, cfg)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("settlementsweep: build chain executors")
	}

	scheduler := settlement.NewScheduler(cfg.Settlement, store, transferers, appLogger)
	if err := scheduler.RunOnce(ctx); err != nil {
		appLogger.Error().Err(err).Msg("settlementsweep: sweep failed")
		os.Exit(1)
	}
	appLogger.Info().Msg("settlementsweep: sweep complete")
}

func buildTransferers(ctx context.Context, cfg *config.Config) (map[chain.Chain]settlement.TreasuryTransferer, error) {
	solanaTreasury, err := solanakey.ParsePrivateKey(cfg.Chains.Solana.TreasurySecretRef)
	if err != nil {
		return nil, fmt.Errorf("solana treasury key: %w", err)
	}
	solanaEx, err := solanaexec.New(ctx, cfg.Chains.Solana.RPCURL, cfg.Chains.Solana.WSURL, solanaTreasury, cfg.Chains.Solana.SettlementTreasuryAddress)
	if err != nil {
		return nil, fmt.Errorf("solana executor: %w", err)
	}

	stellarTreasury, err := keypair.ParseFull(cfg.Chains.Stellar.TreasurySecretRef)
	if err != nil {
		return nil, fmt.Errorf("stellar treasury key: %w", err)
	}
	stellarEx := stellarexec.New(cfg.Chains.Stellar.RPCURL, stellarTreasury, "Public Global Stellar Network ; September 2015", cfg.Chains.Stellar.SettlementTreasuryAddress)

	nearTreasury, err := parseNEARPrivateKey(cfg.Chains.NEAR.TreasurySecretRef)
	if err != nil {
		return nil, fmt.Errorf("near treasury key: %w", err)
	}
	nearEx := nearexec.New(cfg.Chains.NEAR.RPCURL, cfg.Chains.NEAR.TreasuryAddress, nearTreasury, cfg.Chains.NEAR.SettlementTreasuryAddress)

	return map[chain.Chain]settlement.TreasuryTransferer{
		chain.Solana:  solanaEx,
		chain.Stellar: stellarEx,
		chain.NEAR:    nearEx,
	}, nil
}

func parseNEARPrivateKey(s string) (ed25519.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "ed25519:")
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("near: invalid base58 key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("near: key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}
