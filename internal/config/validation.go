package config

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Quote.SlippageBufferBps <= 0 {
		c.Quote.SlippageBufferBps = 100
	}
	if c.Webhook.AmountToleranceBps <= 0 {
		c.Webhook.AmountToleranceBps = 100
	}
	if c.Risk.MaxRetries <= 0 {
		c.Risk.MaxRetries = 3
	}
	if c.Risk.MaxConsecutiveFailures <= 0 {
		c.Risk.MaxConsecutiveFailures = 5
	}

	return c.validate()
}

// validate requires the ledger Postgres URL, and for every chain the
// RPC/Horizon URL, treasury secret ref, treasury address and webhook shared
// secret; it also requires a positive price_oracle.max_price_age. It does
// not check the price-source URL, the bind address or the breaker
// thresholds.
func (c *Config) validate() error {
	if c.Storage.PostgresURL == "" {
		return errors.New("config: storage.postgres_url (ledger database) is required")
	}

	for _, pair := range []struct {
		name string
		cfg  ChainConfig
	}{
		{"solana", c.Chains.Solana},
		{"stellar", c.Chains.Stellar},
		{"near", c.Chains.NEAR},
	} {
		if pair.cfg.RPCURL == "" {
			return fmt.Errorf("config: chains.%s.rpc_url is required", pair.name)
		}
		if pair.cfg.TreasurySecretRef == "" {
			return fmt.Errorf("config: chains.%s.treasury_secret_ref is required", pair.name)
		}
		if pair.cfg.TreasuryAddress == "" {
			return fmt.Errorf("config: chains.%s.treasury_address is required", pair.name)
		}
		if pair.cfg.WebhookSharedSecret == "" {
			return fmt.Errorf("config: chains.%s.webhook_shared_secret is required", pair.name)
		}
	}

	if c.PriceOracle.MaxPriceAge.Duration <= 0 {
		return errors.New("config: price_oracle.max_price_age must be positive")
	}

	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database
// connection, following the teacher's idiom exactly (sensible defaults when
// unset, clamp idle <= open).
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 200
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 20
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 30 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
