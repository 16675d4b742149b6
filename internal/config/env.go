package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. All env
// vars use the PAYENG_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Server.Address, "PAYENG_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "PAYENG_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "PAYENG_ADMIN_METRICS_API_KEY")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	setIfEnv(&c.Logging.Level, "PAYENG_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "PAYENG_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "PAYENG_ENVIRONMENT")

	setIfEnv(&c.Storage.PostgresURL, "PAYENG_LEDGER_POSTGRES_URL")

	// Per-chain overrides. Treasury secrets are read from env directly (never
	// logged, never echoed back in /admin responses) following the teacher's
	// pattern of loading server wallet keys from numbered env vars, here one
	// secret ref per chain instead.
	setIfEnv(&c.Chains.Solana.RPCURL, "PAYENG_SOLANA_RPC_URL")
	setIfEnv(&c.Chains.Solana.WSURL, "PAYENG_SOLANA_WS_URL")
	setIfEnv(&c.Chains.Solana.TreasurySecretRef, "PAYENG_SOLANA_TREASURY_SECRET")
	setIfEnv(&c.Chains.Solana.TreasuryAddress, "PAYENG_SOLANA_TREASURY_ADDRESS")
	setIfEnv(&c.Chains.Solana.WebhookSharedSecret, "PAYENG_SOLANA_WEBHOOK_SECRET")

	setIfEnv(&c.Chains.Stellar.RPCURL, "PAYENG_STELLAR_HORIZON_URL")
	setIfEnv(&c.Chains.Stellar.TreasurySecretRef, "PAYENG_STELLAR_TREASURY_SECRET")
	setIfEnv(&c.Chains.Stellar.TreasuryAddress, "PAYENG_STELLAR_TREASURY_ADDRESS")
	setIfEnv(&c.Chains.Stellar.WebhookSharedSecret, "PAYENG_STELLAR_WEBHOOK_SECRET")

	setIfEnv(&c.Chains.NEAR.RPCURL, "PAYENG_NEAR_RPC_URL")
	setIfEnv(&c.Chains.NEAR.TreasurySecretRef, "PAYENG_NEAR_TREASURY_SECRET")
	setIfEnv(&c.Chains.NEAR.TreasuryAddress, "PAYENG_NEAR_TREASURY_ADDRESS")
	setIfEnv(&c.Chains.NEAR.WebhookSharedSecret, "PAYENG_NEAR_WEBHOOK_SECRET")

	setIfEnv(&c.PriceOracle.URL, "PAYENG_PRICE_ORACLE_URL")
	setDurationIfEnv(&c.PriceOracle.MaxPriceAge, "PAYENG_PRICE_MAX_AGE")

	setDurationIfEnv(&c.Quote.DefaultTTL, "PAYENG_QUOTE_TTL")
	setDurationIfEnv(&c.Approval.TTL, "PAYENG_APPROVAL_TTL")

	if v := os.Getenv("PAYENG_DAILY_CAP_SOLANA"); v != "" {
		setInt64IfParseable(&c.Risk.DailyCapSolana, v)
	}
	if v := os.Getenv("PAYENG_DAILY_CAP_STELLAR"); v != "" {
		setInt64IfParseable(&c.Risk.DailyCapStellar, v)
	}
	if v := os.Getenv("PAYENG_DAILY_CAP_NEAR"); v != "" {
		setInt64IfParseable(&c.Risk.DailyCapNEAR, v)
	}

	setDurationIfEnv(&c.Settlement.Cadence, "PAYENG_SETTLEMENT_CADENCE")

	setBoolIfEnv(&c.APIKey.Enabled, "PAYENG_API_KEY_ENABLED")
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "PAYENG_API_KEY_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "PAYENG_API_KEY_")
		if name == "" || name == "ENABLED" {
			continue
		}
		if c.APIKey.Keys == nil {
			c.APIKey.Keys = make(map[string]string)
		}
		c.APIKey.Keys[strings.ToLower(name)] = strings.TrimSpace(parts[1])
	}
}

func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

func setInt64IfParseable(target *int64, v string) {
	var n int64
	if _, err := fmt.Sscan(v, &n); err == nil {
		*target = n
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
