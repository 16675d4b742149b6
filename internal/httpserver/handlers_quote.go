package httpserver

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cedros-labs/payment-engine/internal/apperrors"
	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/cedros-labs/payment-engine/internal/quote"
	"github.com/cedros-labs/payment-engine/internal/risk"
	"github.com/cedros-labs/payment-engine/pkg/responders"
)

// createQuoteRequest is the POST /quote wire body (spec §6.1).
type createQuoteRequest struct {
	UserID                      string `json:"user_id"`
	FundingChain                string `json:"funding_chain"`
	ExecutionChain              string `json:"execution_chain"`
	FundingAsset                string `json:"funding_asset"`
	ExecutionAsset              string `json:"execution_asset"`
	ExecutionAmount             int64  `json:"execution_amount"`
	PaymentAddress              string `json:"payment_address"`
	PaymentMemo                 string `json:"payment_memo"`
	ExecutionInstructionsBase64 string `json:"execution_instructions_base64"`
}

type quoteResponse struct {
	QuoteID          string `json:"quote_id"`
	FundingChain     string `json:"funding_chain"`
	ExecutionChain   string `json:"execution_chain"`
	FundingAsset     string `json:"funding_asset"`
	ExecutionAsset   string `json:"execution_asset"`
	MaxFundingAmount int64  `json:"max_funding_amount"`
	ExecutionCost    int64  `json:"execution_cost"`
	ServiceFee       int64  `json:"service_fee"`
	PaymentAddress   string `json:"payment_address"`
	ExpiresAt        string `json:"expires_at"`
	Nonce            string `json:"nonce"`
}

func toQuoteResponse(q *ledger.Quote) quoteResponse {
	return quoteResponse{
		QuoteID:          q.ID,
		FundingChain:     string(q.FundingChain),
		ExecutionChain:   string(q.ExecutionChain),
		FundingAsset:     q.FundingAsset,
		ExecutionAsset:   q.ExecutionAsset,
		MaxFundingAmount: q.MaxFundingAmount.Atomic,
		ExecutionCost:    q.ExecutionCost.Atomic,
		ServiceFee:       q.ServiceFee.Atomic,
		PaymentAddress:   q.PaymentAddress,
		ExpiresAt:        q.ExpiresAt.UTC().Format(httpTimeFormat),
		Nonce:            q.Nonce,
	}
}

const httpTimeFormat = "2006-01-02T15:04:05Z07:00"

func (h handlers) createQuote(w http.ResponseWriter, r *http.Request) {
	var req createQuoteRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidParameters, "invalid request body", nil)
		return
	}

	fundingChain, err := chain.Parse(req.FundingChain)
	if err != nil {
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidChain, err.Error(), nil)
		return
	}
	executionChain, err := chain.Parse(req.ExecutionChain)
	if err != nil {
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidChain, err.Error(), nil)
		return
	}

	var instructions []byte
	if req.ExecutionInstructionsBase64 != "" {
		instructions, err = base64.StdEncoding.DecodeString(req.ExecutionInstructionsBase64)
		if err != nil {
			apperrors.WriteJSON(w, apperrors.ErrCodeInvalidBase64, "execution_instructions_base64 is not valid base64", nil)
			return
		}
	}

	q, err := h.quotes.Create(r.Context(), quote.CreateRequest{
		UserID:                req.UserID,
		FundingChain:          fundingChain,
		ExecutionChain:        executionChain,
		FundingAsset:          req.FundingAsset,
		ExecutionAsset:        req.ExecutionAsset,
		ExecutionAmount:       req.ExecutionAmount,
		PaymentAddress:        req.PaymentAddress,
		PaymentMemo:           req.PaymentMemo,
		ExecutionInstructions: instructions,
	})
	if err != nil {
		writeQuoteError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, toQuoteResponse(q))
}

type commitQuoteRequest struct {
	QuoteID string `json:"quote_id"`
}

func (h handlers) commitQuote(w http.ResponseWriter, r *http.Request) {
	var req commitQuoteRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidParameters, "invalid request body", nil)
		return
	}
	if req.QuoteID == "" {
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidParameters, "quote_id is required", nil)
		return
	}

	q, err := h.quotes.Commit(r.Context(), req.QuoteID)
	if err != nil {
		writeQuoteError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, toQuoteResponse(q))
}

type statusResponse struct {
	QuoteID         string  `json:"quote_id"`
	Status          string  `json:"status"`
	TransactionHash string  `json:"transaction_hash,omitempty"`
	ExecutedAt      *string `json:"executed_at,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

func (h handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	quoteID := chi.URLParam(r, "quote_id")
	q, err := h.store.GetQuote(r.Context(), quoteID)
	if err != nil {
		writeQuoteError(w, err)
		return
	}

	resp := statusResponse{QuoteID: q.ID, Status: string(q.Status)}

	exec, err := h.store.GetSuccessfulExecutionByQuote(r.Context(), quoteID)
	switch {
	case err == nil:
		resp.TransactionHash = exec.TxHash
		if exec.ConfirmedAt != nil {
			at := exec.ConfirmedAt.UTC().Format(httpTimeFormat)
			resp.ExecutedAt = &at
		}
	case errors.Is(err, ledger.ErrNotFound):
		// No successful execution yet; leave transaction_hash empty.
	default:
		apperrors.WriteJSON(w, apperrors.ErrCodeDBError, "failed to load execution", nil)
		return
	}

	responders.JSON(w, http.StatusOK, resp)
}

// writeQuoteError translates the quote/ledger/risk sentinel errors into the
// wire error taxonomy. The quote and risk packages return plain sentinel
// errors (fmt.Errorf, not *apperrors.AppError) so the HTTP boundary is where
// domain errors become machine-readable codes, per spec §6.1's status table.
func writeQuoteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quote.ErrSameChain):
		apperrors.WriteJSON(w, apperrors.ErrCodeSameChainQuote, err.Error(), nil)
	case errors.Is(err, quote.ErrAssetNotAllowed):
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidAssetName, err.Error(), nil)
	case errors.Is(err, quote.ErrWalletNotVerified):
		apperrors.WriteJSON(w, apperrors.ErrCodeWalletNotVerified, err.Error(), nil)
	case errors.Is(err, quote.ErrQuoteExpired):
		apperrors.WriteJSON(w, apperrors.ErrCodeQuoteExpired, err.Error(), nil)
	case errors.Is(err, risk.ErrDailyCapExceeded):
		apperrors.WriteJSON(w, apperrors.ErrCodeDailyLimitExceeded, err.Error(), nil)
	case errors.Is(err, ledger.ErrNotFound):
		apperrors.WriteJSON(w, apperrors.ErrCodeQuoteNotFound, "quote not found", nil)
	case errors.Is(err, ledger.ErrInvalidStateTransition):
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidStateTransition, err.Error(), nil)
	default:
		apperrors.WriteJSON(w, apperrors.ErrCodeDBError, err.Error(), nil)
	}
}
