// Package quote implements the quote lifecycle state machine (spec §4.1):
// pricing a quote against the price oracle, persisting it Pending, and
// driving Pending->Committed->Expired transitions. Execute/Settle live in
// internal/executor and internal/settlement respectively, which write the
// remaining transitions through the same ledger.Store.
package quote

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/cedros-labs/payment-engine/internal/money"
	"github.com/cedros-labs/payment-engine/internal/priceoracle"
	"github.com/cedros-labs/payment-engine/internal/risk"
)

// ErrSameChain is returned when funding and execution chain match.
var ErrSameChain = fmt.Errorf("quote: funding_chain and execution_chain must differ")

// ErrAssetNotAllowed is returned when an asset is not on the requested
// chain's configured allowlist.
var ErrAssetNotAllowed = fmt.Errorf("quote: asset not allowed on chain")

// ErrWalletNotVerified is returned when the user has no verified wallet on
// the execution chain.
var ErrWalletNotVerified = fmt.Errorf("quote: user has no verified wallet on execution chain")

// ErrQuoteExpired is returned by Commit when the quote's expiry has passed.
var ErrQuoteExpired = fmt.Errorf("quote: expired")

// Service implements the Create/Commit/ExpireSweep operations of spec §4.1.
type Service struct {
	store       ledger.Store
	prices      priceoracle.Source
	dailyCap    *risk.DailyCapController
	allowedAssets map[chain.Chain]map[string]bool

	defaultTTL            time.Duration
	slippageBufferBps     int
	volatilityThreshold   float64
	volatilityShortenedTTL time.Duration
	maxPriceAge           time.Duration
}

// NewService builds a quote Service from config.
func NewService(cfg config.QuoteConfig, priceCfg config.PriceOracleConfig, chainsCfg config.ChainsConfig, store ledger.Store, prices priceoracle.Source, dailyCap *risk.DailyCapController) *Service {
	ttl := cfg.DefaultTTL.Duration
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	maxPriceAge := priceCfg.MaxPriceAge.Duration
	if maxPriceAge <= 0 {
		maxPriceAge = 5 * time.Second
	}
	slippage := cfg.SlippageBufferBps
	if slippage <= 0 {
		slippage = 100 // 1%
	}

	allowed := map[chain.Chain]map[string]bool{
		chain.Solana:  assetSet(chainsCfg.Solana.AllowedAssets),
		chain.Stellar: assetSet(chainsCfg.Stellar.AllowedAssets),
		chain.NEAR:    assetSet(chainsCfg.NEAR.AllowedAssets),
	}

	return &Service{
		store:                  store,
		prices:                 prices,
		dailyCap:               dailyCap,
		allowedAssets:          allowed,
		defaultTTL:             ttl,
		slippageBufferBps:      slippage,
		volatilityThreshold:    cfg.VolatilityTTLThreshold,
		volatilityShortenedTTL: cfg.VolatilityShortenedTTL.Duration,
		maxPriceAge:            maxPriceAge,
	}
}

func assetSet(codes []string) map[string]bool {
	m := make(map[string]bool, len(codes))
	for _, c := range codes {
		m[c] = true
	}
	return m
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	UserID                string
	FundingChain          chain.Chain
	ExecutionChain        chain.Chain
	FundingAsset          string
	ExecutionAsset        string
	ExecutionAmount       int64 // desired output, atomic units of ExecutionAsset
	PaymentAddress        string
	PaymentMemo           string
	ExecutionInstructions []byte
}

// Create validates and prices a new quote, persisting it Pending, per spec
// §4.1 "Create".
func (s *Service) Create(ctx context.Context, req CreateRequest) (*ledger.Quote, error) {
	if req.FundingChain == req.ExecutionChain {
		return nil, ErrSameChain
	}
	if !req.FundingChain.Valid() || !req.ExecutionChain.Valid() {
		return nil, fmt.Errorf("quote: invalid chain")
	}
	if !s.isAllowed(req.FundingChain, req.FundingAsset) {
		return nil, fmt.Errorf("%w: %s on %s", ErrAssetNotAllowed, req.FundingAsset, req.FundingChain)
	}
	if !s.isAllowed(req.ExecutionChain, req.ExecutionAsset) {
		return nil, fmt.Errorf("%w: %s on %s", ErrAssetNotAllowed, req.ExecutionAsset, req.ExecutionChain)
	}

	wallet, err := s.store.GetWallet(ctx, req.UserID, req.ExecutionChain)
	if err != nil {
		if err == ledger.ErrNotFound {
			return nil, ErrWalletNotVerified
		}
		return nil, fmt.Errorf("get execution-chain wallet: %w", err)
	}
	if !wallet.Verified {
		return nil, ErrWalletNotVerified
	}

	if s.dailyCap != nil {
		if err := s.dailyCap.Check(ctx, req.FundingChain, req.ExecutionAmount); err != nil {
			return nil, err
		}
	}

	price, err := s.prices.GetPrice(ctx, req.ExecutionAsset, req.FundingAsset)
	if err != nil {
		return nil, fmt.Errorf("get price: %w", err)
	}
	if err := priceoracle.CheckFreshness(price, s.maxPriceAge, time.Now()); err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}

	execAsset, err := money.GetAsset(req.ExecutionAsset)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	fundAsset, err := money.GetAsset(req.FundingAsset)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}

	executionCost := chain.Amount{Asset: req.ExecutionAsset, Atomic: req.ExecutionAmount}
	fundingCost := applyRate(executionCost, price.Rate, execAsset.Decimals, fundAsset.Decimals, req.FundingAsset)
	maxFunding := applySlippageBuffer(fundingCost, s.slippageBufferBps)
	serviceFee := chain.Amount{Asset: req.FundingAsset, Atomic: maxFunding.Atomic - fundingCost.Atomic}

	ttl := s.defaultTTL
	// Volatility check: the ratio below is (max funding - funding cost) /
	// funding cost, which equals slippageBufferBps/10000 up to integer
	// rounding. No price movement is measured, so the shortened TTL applies
	// to every quote when the configured buffer exceeds the threshold and
	// to none otherwise.
	volatility := float64(maxFunding.Atomic-fundingCost.Atomic) / float64(fundingCost.Atomic)
	if s.volatilityThreshold > 0 && volatility > s.volatilityThreshold && s.volatilityShortenedTTL > 0 {
		ttl = s.volatilityShortenedTTL
	}

	nonce, err := randomHex(16)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	id, err := randomHex(16)
	if err != nil {
		return nil, fmt.Errorf("generate quote id: %w", err)
	}

	now := time.Now()
	q := &ledger.Quote{
		ID:                    "quote_" + id,
		UserID:                req.UserID,
		FundingChain:          req.FundingChain,
		ExecutionChain:        req.ExecutionChain,
		FundingAsset:          req.FundingAsset,
		ExecutionAsset:        req.ExecutionAsset,
		MaxFundingAmount:      maxFunding,
		ExecutionCost:         executionCost,
		ServiceFee:            serviceFee,
		SlippageBoundBps:      s.slippageBufferBps,
		PaymentAddress:        req.PaymentAddress,
		PaymentMemo:           req.PaymentMemo,
		Nonce:                 nonce,
		Status:                ledger.QuoteStatusPending,
		ExecutionInstructions: req.ExecutionInstructions,
		ExpiresAt:             now.Add(ttl),
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.store.CreateQuote(ctx, q); err != nil {
		return nil, fmt.Errorf("create quote: %w", err)
	}
	return q, nil
}

// Commit transitions a quote Pending -> Committed on a verified inbound
// payment, per spec §4.1 "Commit". The caller (webhook ingress) is
// responsible for verifying the payment itself; Commit only enforces the
// state-machine contract and the daily-cap second checkpoint.
func (s *Service) Commit(ctx context.Context, quoteID string) (*ledger.Quote, error) {
	q, err := s.store.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("get quote: %w", err)
	}
	if time.Now().After(q.ExpiresAt) {
		return nil, ErrQuoteExpired
	}

	if s.dailyCap != nil {
		if err := s.dailyCap.Reserve(ctx, q.FundingChain, q.ExecutionCost.Atomic); err != nil {
			return nil, err
		}
	}

	if err := s.store.TransitionQuote(ctx, quoteID, ledger.QuoteStatusPending, ledger.QuoteStatusCommitted); err != nil {
		return nil, fmt.Errorf("commit quote: %w", err)
	}
	return s.store.GetQuote(ctx, quoteID)
}

// ExpireSweep flips every Pending/Committed quote whose expiry has passed
// to Expired, per spec §4.1 "Expire". Intended to run on a fixed cadence
// (config.QuoteConfig.ExpirySweepInterval).
func (s *Service) ExpireSweep(ctx context.Context) ([]string, error) {
	return s.store.ExpireStaleQuotes(ctx, time.Now())
}

func (s *Service) isAllowed(c chain.Chain, asset string) bool {
	set, ok := s.allowedAssets[c]
	if !ok || len(set) == 0 {
		return true // no allowlist configured for this chain means unrestricted
	}
	return set[asset]
}

// applyRate converts an execution-asset atomic amount into a funding-asset
// atomic amount using rate (funding units per execution unit), scaling for
// each asset's own decimal precision.
func applyRate(executionCost chain.Amount, rate float64, execDecimals, fundDecimals uint8, fundingAsset string) chain.Amount {
	execUnits := float64(executionCost.Atomic) / pow10f(execDecimals)
	fundUnits := execUnits * rate
	return chain.Amount{Asset: fundingAsset, Atomic: int64(fundUnits * pow10f(fundDecimals))}
}

// applySlippageBuffer inflates amount by bufferBps/10000, the upper bound
// the user may actually need to send (spec §4.1's "max_funding_amount").
func applySlippageBuffer(amount chain.Amount, bufferBps int) chain.Amount {
	buffered := amount.Atomic + (amount.Atomic*int64(bufferBps))/10000
	return chain.Amount{Asset: amount.Asset, Atomic: buffered}
}

func pow10f(n uint8) float64 {
	v := 1.0
	for i := uint8(0); i < n; i++ {
		v *= 10
	}
	return v
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
