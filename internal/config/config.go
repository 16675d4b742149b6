package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "development",
		},
		Storage: StorageConfig{
			PostgresPool: PostgresPoolConfig{
				MaxOpenConns:    200,
				MaxIdleConns:    20,
				ConnMaxLifetime: Duration{Duration: 30 * time.Minute},
				AcquireTimeout:  Duration{Duration: 30 * time.Second},
			},
		},
		Chains: ChainsConfig{
			Solana: ChainConfig{
				RPCURL:              "https://api.mainnet-beta.solana.com",
				WSURL:               "wss://api.mainnet-beta.solana.com",
				ConfirmationTimeout: Duration{Duration: 120 * time.Second},
				AllowedAssets:       []string{"USDC", "SOL"},
				NativeAsset:         "SOL",
				MinTreasuryBalance:  5_000_000, // 0.005 SOL in lamports
			},
			Stellar: ChainConfig{
				RPCURL:              "https://horizon.stellar.org",
				ConfirmationTimeout: Duration{Duration: 30 * time.Second},
				AllowedAssets:       []string{"XLM", "USDC"},
				NativeAsset:         "XLM",
				MinTreasuryBalance:  20_000_000, // 2 XLM in stroops, Stellar's minimum account reserve
			},
			NEAR: ChainConfig{
				RPCURL:              "https://rpc.mainnet.near.org",
				ConfirmationTimeout: Duration{Duration: 60 * time.Second},
				AllowedAssets:       []string{"NEAR", "USDC"},
				NativeAsset:         "NEAR",
				MinTreasuryBalance:  1_000_000_000_000_000_000_000, // 0.001 NEAR in yoctoNEAR
			},
		},
		PriceOracle: PriceOracleConfig{
			MaxPriceAge: Duration{Duration: 5 * time.Second},
			Timeout:     Duration{Duration: 3 * time.Second},
		},
		Quote: QuoteConfig{
			DefaultTTL:            Duration{Duration: 10 * time.Minute},
			SlippageBufferBps:     100, // 1%
			VolatilityTTLThreshold: 0.03,
			VolatilityShortenedTTL: Duration{Duration: 2 * time.Minute},
			ExpirySweepInterval:   Duration{Duration: 5 * time.Minute},
		},
		Approval: ApprovalConfig{
			TTL: Duration{Duration: 5 * time.Minute},
		},
		Risk: RiskConfig{
			DailyCapSolana:         1_000_000_000_000, // in the asset's smallest unit, operator-tunable
			DailyCapStellar:        1_000_000_000_000,
			DailyCapNEAR:           1_000_000_000_000,
			MaxRetries:             3,
			RetryBaseBackoff:       Duration{Duration: 1 * time.Second},
			MaxConsecutiveFailures: 5,
		},
		Settlement: SettlementConfig{
			Cadence:     Duration{Duration: 24 * time.Hour},
			FloorAtomic: 1,
		},
		Webhook: WebhookConfig{
			FreshnessWindow:    Duration{Duration: 5 * time.Minute},
			AmountToleranceBps: 100, // ±1%
		},
		Outbox: OutboxConfig{
			Timeout:         Duration{Duration: 10 * time.Second},
			PollInterval:    Duration{Duration: 5 * time.Second},
			BatchSize:       10,
			MaxAttempts:     5,
			InitialInterval: Duration{Duration: 1 * time.Second},
			MaxInterval:     Duration{Duration: 5 * time.Minute},
			Multiplier:      2.0,
		},
		RateLimit: RateLimitConfig{
			GlobalEnabled:    true,
			GlobalLimit:      1000,
			GlobalWindow:     Duration{Duration: 1 * time.Minute},
			PerWalletEnabled: true,
			PerWalletLimit:   60,
			PerWalletWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:     true,
			PerIPLimit:       120,
			PerIPWindow:      Duration{Duration: 1 * time.Minute},
		},
		APIKey: APIKeyConfig{
			Enabled: false,
			Keys:    make(map[string]string),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Solana:  defaultBreaker(),
			Stellar: defaultBreaker(),
			NEAR:    defaultBreaker(),
		},
	}
}

func defaultBreaker() BreakerServiceConfig {
	return BreakerServiceConfig{
		MaxRequests:         3,
		Interval:            Duration{Duration: 60 * time.Second},
		Timeout:             Duration{Duration: 30 * time.Second},
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
