package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/ledger"
)

// ErrDailyCapExceeded is returned when a spend would push the chain's
// running daily total past its configured cap.
var ErrDailyCapExceeded = fmt.Errorf("risk: daily spending cap exceeded")

// DailyCapController enforces spec §4.5's daily spending cap, checked at
// both quote-create and commit time per the spec's literal wording (a
// quote can be created under one day's cap and straddle midnight before
// commit, so both checkpoints matter).
type DailyCapController struct {
	store ledger.Store
	caps  map[chain.Chain]int64
}

// NewDailyCapController builds a controller from the risk config.
func NewDailyCapController(cfg config.RiskConfig, store ledger.Store) *DailyCapController {
	return &DailyCapController{
		store: store,
		caps: map[chain.Chain]int64{
			chain.Solana:  cfg.DailyCapSolana,
			chain.Stellar: cfg.DailyCapStellar,
			chain.NEAR:    cfg.DailyCapNEAR,
		},
	}
}

// Check reports whether adding amount to today's running total for c would
// exceed the configured cap, without mutating the counter. Call this at
// quote-create time so a quote is never issued against a cap it cannot
// clear.
func (d *DailyCapController) Check(ctx context.Context, c chain.Chain, amount int64) error {
	cap, ok := d.caps[c]
	if !ok || cap <= 0 {
		return nil
	}
	spending, err := d.store.GetDailySpending(ctx, c, today())
	if err != nil {
		return fmt.Errorf("get daily spending: %w", err)
	}
	if spending.AmountSpent+amount > cap {
		return ErrDailyCapExceeded
	}
	return nil
}

// Reserve atomically increments today's running total for c by amount and
// reports ErrDailyCapExceeded if that increment crosses the cap, rolling
// the increment back so a rejected commit never consumes cap headroom.
// Call this at commit time — the second checkpoint required because time
// may have passed (and other commits landed) since the quote was created.
func (d *DailyCapController) Reserve(ctx context.Context, c chain.Chain, amount int64) error {
	cap, ok := d.caps[c]
	if !ok || cap <= 0 {
		return nil
	}
	total, err := d.store.IncrementDailySpending(ctx, c, today(), amount)
	if err != nil {
		return fmt.Errorf("increment daily spending: %w", err)
	}
	if total > cap {
		// Best-effort rollback: the cap was exceeded by this reservation.
		// Record the clawback so a concurrent reader of today's total sees
		// the rejection rather than inflated spend.
		if _, err := d.store.IncrementDailySpending(ctx, c, today(), -amount); err != nil {
			return fmt.Errorf("rollback daily spending after cap rejection: %w", err)
		}
		return ErrDailyCapExceeded
	}
	return nil
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}
