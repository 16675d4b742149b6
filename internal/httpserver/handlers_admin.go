package httpserver

import (
	"net/http"
	"time"

	gochi "github.com/go-chi/chi/v5"

	"github.com/cedros-labs/payment-engine/internal/apperrors"
	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/pkg/responders"
)

type treasuryChainView struct {
	Chain              string     `json:"chain"`
	DailyCap           int64      `json:"daily_cap"`
	DailySpent         int64      `json:"daily_spent"`
	DailyTxCount       int64      `json:"daily_tx_count"`
	CircuitBreakerOpen bool       `json:"circuit_breaker_open"`
	BreakerReason      string     `json:"breaker_reason,omitempty"`
	TreasuryAsset      string     `json:"treasury_asset,omitempty"`
	TreasuryBalance    int64      `json:"treasury_balance,omitempty"`
	TreasuryHealthy    bool       `json:"treasury_healthy,omitempty"`
	BalanceCheckedAt   *time.Time `json:"balance_checked_at,omitempty"`
	BalanceCheckError  string     `json:"balance_check_error,omitempty"`
}

func (h handlers) dailyCapFor(c chain.Chain) int64 {
	switch c {
	case chain.Solana:
		return h.cfg.Risk.DailyCapSolana
	case chain.Stellar:
		return h.cfg.Risk.DailyCapStellar
	case chain.NEAR:
		return h.cfg.Risk.DailyCapNEAR
	default:
		return 0
	}
}

func (h handlers) treasuryView(r *http.Request, c chain.Chain) (treasuryChainView, error) {
	today := time.Now().UTC().Format("2006-01-02")
	spending, err := h.store.GetDailySpending(r.Context(), c, today)
	if err != nil {
		return treasuryChainView{}, err
	}

	view := treasuryChainView{
		Chain:        string(c),
		DailyCap:     h.dailyCapFor(c),
		DailySpent:   spending.AmountSpent,
		DailyTxCount: spending.TxCount,
	}
	if h.breaker != nil {
		view.CircuitBreakerOpen = h.breaker.IsOpen(c)
	}
	if state, err := h.store.GetCircuitBreakerState(r.Context(), c); err == nil && state != nil {
		view.BreakerReason = state.Reason
	}
	if h.treasuryHealth != nil {
		if snap, ok := h.treasuryHealth.Snapshot(c); ok {
			view.TreasuryAsset = snap.Asset
			view.TreasuryBalance = snap.Balance.Atomic
			view.TreasuryHealthy = snap.Healthy
			checkedAt := snap.CheckedAt
			view.BalanceCheckedAt = &checkedAt
			view.BalanceCheckError = snap.Err
		}
	}
	return view, nil
}

// adminTreasury returns every chain's balances + daily caps + breaker state,
// per spec §6.1's `GET /admin/treasury`.
func (h handlers) adminTreasury(w http.ResponseWriter, r *http.Request) {
	views := make([]treasuryChainView, 0, len(chain.All))
	for _, c := range chain.All {
		v, err := h.treasuryView(r, c)
		if err != nil {
			apperrors.WriteJSON(w, apperrors.ErrCodeDBError, "failed to load treasury state", nil)
			return
		}
		views = append(views, v)
	}
	responders.JSON(w, http.StatusOK, map[string]interface{}{"chains": views})
}

// adminTreasuryChain is the single-chain variant, `GET /admin/treasury/{chain}`.
func (h handlers) adminTreasuryChain(w http.ResponseWriter, r *http.Request) {
	c, err := chain.Parse(gochi.URLParam(r, "chain"))
	if err != nil {
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidChain, err.Error(), nil)
		return
	}
	v, err := h.treasuryView(r, c)
	if err != nil {
		apperrors.WriteJSON(w, apperrors.ErrCodeDBError, "failed to load treasury state", nil)
		return
	}
	responders.JSON(w, http.StatusOK, v)
}
