// Package settlement implements the periodic treasury-refill scheduler
// (spec §4.6): aggregates Executed executions per (chain, asset), submits
// one treasury-to-treasury transfer for the group, and on confirmation
// flips every covered quote Executed -> Settled.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/cedros-labs/payment-engine/internal/audit"
	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/executor"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/rs/zerolog"
)

// TreasuryTransferer is the narrow per-chain executor capability the
// scheduler needs, declared locally the same way internal/webhook and
// internal/approval scope their executor dependency.
type TreasuryTransferer interface {
	TransferToTreasury(ctx context.Context, asset string, amount chain.Amount) (executor.SubmitResult, error)
}

// Scheduler runs the settlement cycle on a fixed cadence.
type Scheduler struct {
	store     ledger.Store
	audit     *audit.Logger
	executors map[chain.Chain]TreasuryTransferer
	log       zerolog.Logger
	floor     int64
	cadence   time.Duration
}

// NewScheduler builds a Scheduler from settlement config.
func NewScheduler(cfg config.SettlementConfig, store ledger.Store, executors map[chain.Chain]TreasuryTransferer, log zerolog.Logger) *Scheduler {
	cadence := cfg.Cadence.Duration
	if cadence <= 0 {
		cadence = 24 * time.Hour
	}
	return &Scheduler{
		store:     store,
		audit:     audit.NewLogger(store),
		executors: executors,
		log:       log.With().Str("component", "settlement").Logger(),
		floor:     cfg.FloorAtomic,
		cadence:   cadence,
	}
}

// Run blocks, running RunOnce every cadence until ctx is cancelled.
// cmd/paymentengined starts it as its own goroutine; cmd/settlementsweep
// calls RunOnce directly.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("settlement.run_once_failed")
			}
		}
	}
}

// RunOnce aggregates unsettled executions per (chain, asset) and attempts
// one settlement per group above the configured floor.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	for _, c := range chain.All {
		executions, err := s.store.ListUnsettledExecutions(ctx, c)
		if err != nil {
			return fmt.Errorf("list unsettled executions for %s: %w", c, err)
		}
		if len(executions) == 0 {
			continue
		}

		groups, err := s.groupByAsset(ctx, executions)
		if err != nil {
			return fmt.Errorf("group unsettled executions for %s: %w", c, err)
		}
		for asset, group := range groups {
			if err := s.settleGroup(ctx, c, asset, group); err != nil {
				s.log.Error().Err(err).Str("chain", string(c)).Str("asset", asset).Msg("settlement.group_failed")
			}
		}
	}
	return nil
}

type executionGroup struct {
	executionIDs []string
	quoteIDs     []string
	total        int64
}

// groupByAsset sums each execution's underlying quote.ExecutionCost (the
// amount the treasury actually paid out) per asset — not the execution
// row's GasCost, which tracks network fees, not settlement exposure.
func (s *Scheduler) groupByAsset(ctx context.Context, executions []*ledger.Execution) (map[string]*executionGroup, error) {
	groups := make(map[string]*executionGroup)
	for _, e := range executions {
		q, err := s.store.GetQuote(ctx, e.QuoteID)
		if err != nil {
			return nil, fmt.Errorf("get quote %s: %w", e.QuoteID, err)
		}
		g, ok := groups[q.ExecutionAsset]
		if !ok {
			g = &executionGroup{}
			groups[q.ExecutionAsset] = g
		}
		g.executionIDs = append(g.executionIDs, e.ID)
		g.quoteIDs = append(g.quoteIDs, e.QuoteID)
		g.total += q.ExecutionCost.Atomic
	}
	return groups, nil
}

// settleGroup implements spec §4.6's four-step protocol for a single
// (chain, asset) aggregate.
func (s *Scheduler) settleGroup(ctx context.Context, c chain.Chain, asset string, group *executionGroup) error {
	if group.total < s.floor {
		return nil
	}

	settlementID := "settle_" + string(c) + "_" + asset + "_" + fmt.Sprint(time.Now().UnixNano())
	amount := chain.Amount{Asset: asset, Atomic: group.total}

	st := &ledger.Settlement{
		ID:           settlementID,
		Chain:        c,
		Asset:        asset,
		Amount:       amount,
		Status:       ledger.SettlementStatusPending,
		CreatedAt:    time.Now(),
		ExecutionIDs: group.executionIDs,
	}
	if err := s.store.CreateSettlement(ctx, st); err != nil {
		return fmt.Errorf("create settlement: %w", err)
	}

	transferer, ok := s.executors[c]
	if !ok {
		return s.failSettlement(ctx, c, settlementID, fmt.Errorf("no executor registered for chain %s", c))
	}

	result, err := transferer.TransferToTreasury(ctx, asset, amount)
	if err != nil {
		return s.failSettlement(ctx, c, settlementID, err)
	}

	if err := s.store.UpdateSettlementStatus(ctx, settlementID, ledger.SettlementStatusConfirmed, result.TxHash); err != nil {
		return fmt.Errorf("confirm settlement: %w", err)
	}

	for _, quoteID := range group.quoteIDs {
		if err := s.store.TransitionQuote(ctx, quoteID, ledger.QuoteStatusExecuted, ledger.QuoteStatusSettled); err != nil {
			s.log.Error().Err(err).Str("quote_id", quoteID).Msg("settlement.transition_quote_failed")
		}
	}

	_ = s.audit.Append(ctx, "SettlementConfirmed", c, "", "", map[string]interface{}{"settlement_id": settlementID, "amount": group.total, "asset": asset})

	return nil
}

// failSettlement marks a settlement Failed and emits the audit event and
// high-priority outbox notification spec §4.6 requires. Linked quotes are
// deliberately left Executed so the next cycle retries them.
func (s *Scheduler) failSettlement(ctx context.Context, c chain.Chain, settlementID string, cause error) error {
	if err := s.store.UpdateSettlementStatus(ctx, settlementID, ledger.SettlementStatusFailed, ""); err != nil {
		return fmt.Errorf("mark settlement failed: %w", err)
	}

	_ = s.audit.Append(ctx, "SettlementFailed", c, "", "", map[string]interface{}{"settlement_id": settlementID, "error": cause.Error()})
	_ = s.store.AppendOutboxNotification(ctx, &ledger.OutboxNotification{
		ID:        "outbox_" + settlementID,
		Channel:   "ops-alert",
		Priority:  "high",
		Subject:   "settlement failed",
		Body:      fmt.Sprintf("settlement %s failed: %v", settlementID, cause),
		Status:    "pending",
		CreatedAt: time.Now(),
	})

	return fmt.Errorf("settlement %s failed: %w", settlementID, cause)
}
