package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Storage        StorageConfig        `yaml:"storage"`
	Chains         ChainsConfig         `yaml:"chains"`
	PriceOracle    PriceOracleConfig    `yaml:"price_oracle"`
	Quote          QuoteConfig          `yaml:"quote"`
	Approval       ApprovalConfig       `yaml:"approval"`
	Risk           RiskConfig           `yaml:"risk"`
	Settlement     SettlementConfig     `yaml:"settlement"`
	Webhook        WebhookConfig        `yaml:"webhook"`
	Outbox         OutboxConfig         `yaml:"outbox"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	APIKey         APIKeyConfig         `yaml:"api_key"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout         Duration `yaml:"read_timeout"`
	WriteTimeout        Duration `yaml:"write_timeout"`
	IdleTimeout         Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins  []string `yaml:"cors_allowed_origins"`
	RoutePrefix         string   `yaml:"route_prefix"`
	AdminMetricsAPIKey  string   `yaml:"admin_metrics_api_key"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Environment string `yaml:"environment"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AcquireTimeout  Duration `yaml:"acquire_timeout"`
}

// StorageConfig holds ledger storage backend configuration.
type StorageConfig struct {
	PostgresURL  string             `yaml:"postgres_url"`
	PostgresPool PostgresPoolConfig `yaml:"postgres_pool"`
}

// ChainsConfig holds the per-chain configuration map keyed by chain name.
type ChainsConfig struct {
	Solana  ChainConfig `yaml:"solana"`
	Stellar ChainConfig `yaml:"stellar"`
	NEAR    ChainConfig `yaml:"near"`
}

// ChainConfig configures one chain's executor.
type ChainConfig struct {
	RPCURL                   string   `yaml:"rpc_url"`
	WSURL                    string   `yaml:"ws_url"`
	TreasurySecretRef        string   `yaml:"treasury_secret_ref"` // resolved via env/secret-store, never logged
	TreasuryAddress          string   `yaml:"treasury_address"`
	SettlementTreasuryAddress string  `yaml:"settlement_treasury_address"` // destination for periodic treasury-to-treasury aggregation, spec §4.6
	WebhookSharedSecret      string   `yaml:"webhook_shared_secret"`
	ConfirmationTimeout      Duration `yaml:"confirmation_timeout"`
	AllowedAssets            []string `yaml:"allowed_assets"`
	MinTreasuryBalance       int64    `yaml:"min_treasury_balance"` // smallest unit; below this, the treasury health probe reports unhealthy
	NativeAsset              string   `yaml:"native_asset"`         // asset code ProbeBalance is checked against for the health probe
}

// PriceOracleConfig configures the external priceoracle.Source capability.
type PriceOracleConfig struct {
	URL          string   `yaml:"url"`
	MaxPriceAge  Duration `yaml:"max_price_age"` // spec MAX_PRICE_AGE, default 5s
	Timeout      Duration `yaml:"timeout"`
}

// QuoteConfig configures the quote engine.
type QuoteConfig struct {
	DefaultTTL              Duration `yaml:"default_ttl"`
	SlippageBufferBps        int      `yaml:"slippage_buffer_bps"`        // e.g. 100 = 1%
	VolatilityTTLThreshold   float64  `yaml:"volatility_ttl_threshold"`   // (max-min)/min ratio
	VolatilityShortenedTTL   Duration `yaml:"volatility_shortened_ttl"`
	ExpirySweepInterval      Duration `yaml:"expiry_sweep_interval"`
}

// ApprovalConfig configures the spending-approval protocol.
type ApprovalConfig struct {
	TTL Duration `yaml:"ttl"`
}

// RiskConfig configures daily caps and circuit breaker thresholds.
type RiskConfig struct {
	DailyCapSolana          int64  `yaml:"daily_cap_solana"`
	DailyCapStellar         int64  `yaml:"daily_cap_stellar"`
	DailyCapNEAR            int64  `yaml:"daily_cap_near"`
	MaxRetries              int    `yaml:"max_retries"`
	RetryBaseBackoff        Duration `yaml:"retry_base_backoff"`
	MaxConsecutiveFailures  int    `yaml:"max_consecutive_failures"`
}

// SettlementConfig configures the settlement scheduler.
type SettlementConfig struct {
	Cadence    Duration `yaml:"cadence"`
	FloorAtomic int64   `yaml:"floor_atomic"`
}

// WebhookConfig configures inbound webhook ingress.
type WebhookConfig struct {
	FreshnessWindow      Duration `yaml:"freshness_window"`      // |now-timestamp| tolerance, default 5m
	AmountToleranceBps   int      `yaml:"amount_tolerance_bps"`  // default 100 = 1%
}

// OutboxConfig configures the outbox delivery worker that drains
// ledger-appended notifications to the configured notification-gateway
// endpoint (spec §1's write-only-outbox non-goal: actual email/push/SMS
// delivery is out of scope, so this worker delivers to a single generic
// webhook sink rather than per-channel clients).
type OutboxConfig struct {
	GatewayURL      string   `yaml:"gateway_url"`
	Timeout         Duration `yaml:"timeout"`
	PollInterval    Duration `yaml:"poll_interval"`
	BatchSize       int      `yaml:"batch_size"`
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// RateLimitConfig holds rate limiting configuration (ambient, outside core scope).
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	PerWalletEnabled bool     `yaml:"per_wallet_enabled"`
	PerWalletLimit   int      `yaml:"per_wallet_limit"`
	PerWalletWindow  Duration `yaml:"per_wallet_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// APIKeyConfig holds API key authentication configuration for admin endpoints.
type APIKeyConfig struct {
	Enabled bool              `yaml:"enabled"`
	Keys    map[string]string `yaml:"keys"`
}

// CircuitBreakerConfig holds circuit breaker configuration, keyed by chain
// instead of the teacher's external-service keying.
type CircuitBreakerConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Solana  BreakerServiceConfig `yaml:"solana"`
	Stellar BreakerServiceConfig `yaml:"stellar"`
	NEAR    BreakerServiceConfig `yaml:"near"`
}

// BreakerServiceConfig configures a circuit breaker for a specific chain.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
