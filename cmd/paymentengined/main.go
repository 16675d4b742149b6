// Command paymentengined runs the payment engine's HTTP API: quote
// lifecycle, spending-approval protocol, execution router, risk controller,
// and webhook ingress. Settlement sweeping and outbox delivery run as
// background loops inside the same process; cmd/settlementsweep offers the
// sweep as a standalone one-shot binary for operators who prefer running it
// out of cron instead.
package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stellar/go/keypair"

	"github.com/cedros-labs/payment-engine/internal/approval"
	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/executor"
	"github.com/cedros-labs/payment-engine/internal/executor/nearexec"
	"github.com/cedros-labs/payment-engine/internal/executor/solanaexec"
	"github.com/cedros-labs/payment-engine/internal/executor/stellarexec"
	"github.com/cedros-labs/payment-engine/internal/httpserver"
	"github.com/cedros-labs/payment-engine/internal/idempotency"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/cedros-labs/payment-engine/internal/lifecycle"
	"github.com/cedros-labs/payment-engine/internal/logger"
	"github.com/cedros-labs/payment-engine/internal/metrics"
	"github.com/cedros-labs/payment-engine/internal/outbox"
	"github.com/cedros-labs/payment-engine/internal/priceoracle"
	"github.com/cedros-labs/payment-engine/internal/quote"
	"github.com/cedros-labs/payment-engine/internal/risk"
	"github.com/cedros-labs/payment-engine/internal/settlement"
	solanakey "github.com/cedros-labs/payment-engine/internal/solana"
	"github.com/cedros-labs/payment-engine/internal/treasuryhealth"
	"github.com/cedros-labs/payment-engine/internal/webhook"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/local.yaml", "path to config yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("paymentengined: load config")
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "payment-engine",
		Environment: cfg.Logging.Environment,
	})

	resources := lifecycle.NewManager()
	defer func() {
		if err := resources.Close(); err != nil {
			appLogger.Error().Err(err).Msg("paymentengined: resource cleanup failed")
		}
	}()

	store, err := ledger.NewPostgresStore(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("paymentengined: connect ledger store")
	}
	resources.Register("ledger-store", store)

	registry := prometheus.NewRegistry()
	metricsCollector := metrics.New(registry)

	prices := priceoracle.NewCachedSource(
		priceoracle.NewHTTPSource(cfg.PriceOracle.URL, cfg.PriceOracle.Timeout.Duration),
		cfg.PriceOracle.MaxPriceAge.Duration,
	)

	dailyCap := risk.NewDailyCapController(cfg.Risk, store)
	breaker := risk.NewManager(cfg.CircuitBreaker, store, appLogger)

	quotes := quote.NewService(cfg.Quote, cfg.PriceOracle, cfg.Chains, store, prices, dailyCap)

	executors, transferers, err := buildExecutors(context.Background(), cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("paymentengined: build chain executors")
	}

	router := executor.NewRouter(cfg.Risk, store, breaker, appLogger, executors)
	approvals := approval.NewService(cfg.Approval, store, router)

	secrets := map[chain.Chain]string{
		chain.Solana:  cfg.Chains.Solana.WebhookSharedSecret,
		chain.Stellar: cfg.Chains.Stellar.WebhookSharedSecret,
		chain.NEAR:    cfg.Chains.NEAR.WebhookSharedSecret,
	}
	webhooks := webhook.NewService(cfg.Webhook, secrets, store, quotes, router)

	idempotencyStore := idempotency.NewMemoryStore()
	resources.RegisterFunc("idempotency-store", func() error {
		idempotencyStore.Stop()
		return nil
	})

	treasuryChecker := treasuryhealth.New(5*time.Minute, appLogger)
	treasuryChecker.Register(chain.Solana, executors[chain.Solana], cfg.Chains.Solana.TreasuryAddress, cfg.Chains.Solana.NativeAsset, cfg.Chains.Solana.MinTreasuryBalance)
	treasuryChecker.Register(chain.Stellar, executors[chain.Stellar], cfg.Chains.Stellar.TreasuryAddress, cfg.Chains.Stellar.NativeAsset, cfg.Chains.Stellar.MinTreasuryBalance)
	treasuryChecker.Register(chain.NEAR, executors[chain.NEAR], cfg.Chains.NEAR.TreasuryAddress, cfg.Chains.NEAR.NativeAsset, cfg.Chains.NEAR.MinTreasuryBalance)

	srv := httpserver.New(cfg, httpserver.Deps{
		Store:            store,
		Quotes:           quotes,
		Approvals:        approvals,
		Router:           router,
		Webhooks:         webhooks,
		Breaker:          breaker,
		DailyCap:         dailyCap,
		IdempotencyStore: idempotencyStore,
		Metrics:          metricsCollector,
		TreasuryHealth:   treasuryChecker,
	}, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	treasuryChecker.Start(ctx)

	sweeper := settlement.NewScheduler(cfg.Settlement, store, transferers, appLogger)
	go sweeper.Run(ctx)

	go runExpirySweep(ctx, quotes, cfg.Quote.ExpirySweepInterval.Duration, appLogger)

	outboxWorker := outbox.NewWorker(cfg.Outbox, store, appLogger)
	outboxWorker.Start(ctx)
	resources.RegisterFunc("outbox-worker", func() error {
		outboxWorker.Stop()
		return nil
	})

	go func() {
		appLogger.Info().Str("addr", cfg.Server.Address).Msg("paymentengined: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal().Err(err).Msg("paymentengined: http server failed")
		}
	}()

	quitSig := make(chan os.Signal, 1)
	signal.Notify(quitSig, syscall.SIGINT, syscall.SIGTERM)
	<-quitSig

	appLogger.Info().Msg("paymentengined: shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("paymentengined: graceful shutdown failed")
	}
}

// runExpirySweep periodically moves quotes past their expiry into Expired,
// per spec §4.1's quote-engine sweep.
func runExpirySweep(ctx context.Context, quotes *quote.Service, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := quotes.ExpireSweep(ctx)
			if err != nil {
				log.Error().Err(err).Msg("quote.expiry_sweep_failed")
				continue
			}
			if len(expired) > 0 {
				log.Info().Int("count", len(expired)).Msg("quote.expiry_sweep")
			}
		}
	}
}

// buildExecutors constructs one chain executor per configured chain and
// returns both the executor.Executor map the router dispatches through and
// the narrower settlement.TreasuryTransferer map the settlement scheduler
// aggregates through (the same concrete executors satisfy both).
func buildExecutors(ctx context.Context, cfg *config.Config, log zerolog.Logger) (map[chain.Chain]executor.Executor, map[chain.Chain]settlement.TreasuryTransferer, error) {
	solanaTreasury, err := solanakey.ParsePrivateKey(cfg.Chains.Solana.TreasurySecretRef)
	if err != nil {
		return nil, nil, fmt.Errorf("solana treasury key: %w", err)
	}
	solanaEx, err := solanaexec.New(ctx, cfg.Chains.Solana.RPCURL, cfg.Chains.Solana.WSURL, solanaTreasury, cfg.Chains.Solana.SettlementTreasuryAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("solana executor: %w", err)
	}

	stellarTreasury, err := keypair.ParseFull(cfg.Chains.Stellar.TreasurySecretRef)
	if err != nil {
		return nil, nil, fmt.Errorf("stellar treasury key: %w", err)
	}
	stellarEx := stellarexec.New(cfg.Chains.Stellar.RPCURL, stellarTreasury, "Public Global Stellar Network ; September 2015", cfg.Chains.Stellar.SettlementTreasuryAddress)

	nearTreasury, err := parseNEARPrivateKey(cfg.Chains.NEAR.TreasurySecretRef)
	if err != nil {
		return nil, nil, fmt.Errorf("near treasury key: %w", err)
	}
	nearEx := nearexec.New(cfg.Chains.NEAR.RPCURL, cfg.Chains.NEAR.TreasuryAddress, nearTreasury, cfg.Chains.NEAR.SettlementTreasuryAddress)

	executors := map[chain.Chain]executor.Executor{
		chain.Solana:  solanaEx,
		chain.Stellar: stellarEx,
		chain.NEAR:    nearEx,
	}
	transferers := map[chain.Chain]settlement.TreasuryTransferer{
		chain.Solana:  solanaEx,
		chain.Stellar: stellarEx,
		chain.NEAR:    nearEx,
	}
	return executors, transferers, nil
}

// parseNEARPrivateKey decodes a NEAR CLI-style key, e.g.
// "ed25519:<base58(64-byte seed||pub)>", as exported by near-cli's
// validator_key.json and near login flows.
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
