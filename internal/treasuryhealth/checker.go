// Package treasuryhealth generalizes the teacher's pkg/x402/solana
// WalletHealthChecker (a single-chain, single-role SOL-balance poller) into
// a per-chain treasury balance probe cache feeding GET /admin/treasury
// (spec §6.1): a background loop polls each chain's treasury balance on a
// fixed interval through the same BalanceProber capability the execution
// router dispatches Executor.ProbeBalance calls through, so admin reads
// never block on a live chain RPC round trip.
package treasuryhealth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cedros-labs/payment-engine/internal/chain"
)

// BalanceProber is the narrow executor capability the checker polls
// through, mirroring internal/approval's BalanceProber scoping.
type BalanceProber interface {
	ProbeBalance(ctx context.Context, address, asset string) (chain.Amount, error)
}

// Health is the last-known treasury balance snapshot for one chain.
type Health struct {
	Chain     chain.Chain
	Asset     string
	Balance   chain.Amount
	Healthy   bool
	CheckedAt time.Time
	Err       string
}

type chainTarget struct {
	prober  BalanceProber
	address string
	asset   string
	minimum int64
}

// Checker polls each configured chain's treasury balance on Interval and
// caches the result for Snapshot to read without touching the network.
type Checker struct {
	mu       sync.RWMutex
	targets  map[chain.Chain]chainTarget
	cache    map[chain.Chain]Health
	interval time.Duration
	log      zerolog.Logger
}

// New builds a Checker. Call Register for each chain before Start.
func New(interval time.Duration, log zerolog.Logger) *Checker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		targets:  make(map[chain.Chain]chainTarget),
		cache:    make(map[chain.Chain]Health),
		interval: interval,
		log:      log,
	}
}

// Register adds a chain's treasury address/native asset/minimum-healthy
// balance to the polling set.
func (c *Checker) Register(ch chain.Chain, prober BalanceProber, address, asset string, minimum int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets[ch] = chainTarget{prober: prober, address: address, asset: asset, minimum: minimum}
}

// Start runs an immediate check followed by a periodic loop until ctx is done.
func (c *Checker) Start(ctx context.Context) {
	c.checkAll(ctx)
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.checkAll(ctx)
			}
		}
	}()
}

func (c *Checker) checkAll(ctx context.Context) {
	c.mu.RLock()
	targets := make(map[chain.Chain]chainTarget, len(c.targets))
	for ch, t := range c.targets {
		targets[ch] = t
	}
	c.mu.RUnlock()

	for ch, t := range targets {
		h := Health{Chain: ch, Asset: t.asset, CheckedAt: time.Now()}
		balance, err := t.prober.ProbeBalance(ctx, t.address, t.asset)
		if err != nil {
			h.Err = err.Error()
			c.log.Warn().Err(err).Str("chain", string(ch)).Msg("treasuryhealth.probe_failed")
		} else {
			h.Balance = balance
			h.Healthy = balance.Atomic >= t.minimum
		}

		c.mu.Lock()
		c.cache[ch] = h
		c.mu.Unlock()
	}
}

// Snapshot returns the last cached health reading for ch, if any.
func (c *Checker) Snapshot(ch chain.Chain) (Health, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.cache[ch]
	return h, ok
}
