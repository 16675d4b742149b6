package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cedros-labs/payment-engine/internal/apperrors"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/cedros-labs/payment-engine/pkg/responders"
)

type settlementView struct {
	Execution  *executionView  `json:"execution,omitempty"`
	Settlement *settlementInfo `json:"settlement,omitempty"`
}

type executionView struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	TxHash string `json:"transaction_hash,omitempty"`
	Error  string `json:"error,omitempty"`
}

type settlementInfo struct {
	ID        string `json:"id"`
	Chain     string `json:"chain"`
	Asset     string `json:"asset"`
	Amount    int64  `json:"amount"`
	TxHash    string `json:"transaction_hash,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// getSettlement returns the execution + settlement records for a quote, per
// spec §6.1's `GET /settlement/{quote_id}`.
func (h handlers) getSettlement(w http.ResponseWriter, r *http.Request) {
	quoteID := chi.URLParam(r, "quote_id")

	resp := settlementView{}

	exec, err := h.store.GetSuccessfulExecutionByQuote(r.Context(), quoteID)
	switch {
	case err == nil:
		resp.Execution = &executionView{ID: exec.ID, Status: string(exec.Status), TxHash: exec.TxHash, Error: exec.Error}
	case errors.Is(err, ledger.ErrNotFound):
		// No successful execution yet.
	default:
		apperrors.WriteJSON(w, apperrors.ErrCodeDBError, "failed to load execution", nil)
		return
	}

	settle, err := h.store.GetSettlementByQuote(r.Context(), quoteID)
	switch {
	case err == nil:
		resp.Settlement = &settlementInfo{
			ID:        settle.ID,
			Chain:     string(settle.Chain),
			Asset:     settle.Asset,
			Amount:    settle.Amount.Atomic,
			TxHash:    settle.TxHash,
			Status:    string(settle.Status),
			CreatedAt: settle.CreatedAt.UTC().Format(httpTimeFormat),
		}
	case errors.Is(err, ledger.ErrNotFound):
		// Not yet settled.
	default:
		apperrors.WriteJSON(w, apperrors.ErrCodeDBError, "failed to load settlement", nil)
		return
	}

	if resp.Execution == nil && resp.Settlement == nil {
		apperrors.WriteJSON(w, apperrors.ErrCodeNotFound, "no execution or settlement found for quote", nil)
		return
	}

	responders.JSON(w, http.StatusOK, resp)
}
