package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cedros-labs/payment-engine/internal/apperrors"
	"github.com/cedros-labs/payment-engine/internal/approval"
	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/cedros-labs/payment-engine/pkg/responders"
)

type createApprovalRequest struct {
	QuoteID        string `json:"quote_id"`
	UserID         string `json:"user_id"`
	ApprovedAmount int64  `json:"approved_amount"`
	Asset          string `json:"asset"`
	WalletAddress  string `json:"wallet_address"`
}

type createApprovalResponse struct {
	ApprovalID    string `json:"approval_id"`
	MessageToSign string `json:"message_to_sign"`
	Nonce         string `json:"nonce"`
	ExpiresAt     string `json:"expires_at"`
}

func (h handlers) createApproval(w http.ResponseWriter, r *http.Request) {
	var req createApprovalRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidParameters, "invalid request body", nil)
		return
	}
	if req.QuoteID == "" || req.UserID == "" || req.WalletAddress == "" {
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidParameters, "quote_id, user_id and wallet_address are required", nil)
		return
	}

	a, err := h.approvals.Create(r.Context(), req.QuoteID, req.UserID, req.WalletAddress, chain.Amount{Asset: req.Asset, Atomic: req.ApprovedAmount})
	if err != nil {
		writeApprovalError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, createApprovalResponse{
		ApprovalID:    a.ID,
		MessageToSign: a.MessageToSign,
		Nonce:         a.Nonce,
		ExpiresAt:     a.ExpiresAt.UTC().Format(httpTimeFormat),
	})
}

type submitApprovalRequest struct {
	Signature string `json:"signature"`
}

type submitApprovalResponse struct {
	ApprovalID   string `json:"approval_id"`
	Status       string `json:"status"`
	AuthorizedAt string `json:"authorized_at"`
	Chain        string `json:"chain"`
	Asset        string `json:"asset"`
}

func (h handlers) submitApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req submitApprovalRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidParameters, "invalid request body", nil)
		return
	}
	if req.Signature == "" {
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidParameters, "signature is required", nil)
		return
	}

	a, err := h.approvals.Submit(r.Context(), id, req.Signature)
	if err != nil {
		writeApprovalError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, submitApprovalResponse{
		ApprovalID:   a.ID,
		Status:       string(a.Status),
		AuthorizedAt: a.UpdatedAt.UTC().Format(httpTimeFormat),
		Chain:        string(a.FundingChain),
		Asset:        a.ApprovedAmount.Asset,
	})
}

func toApprovalView(a *ledger.Approval) map[string]interface{} {
	return map[string]interface{}{
		"approval_id":     a.ID,
		"quote_id":        a.QuoteID,
		"user_id":         a.UserID,
		"chain":           string(a.FundingChain),
		"approved_amount": a.ApprovedAmount.Atomic,
		"asset":           a.ApprovedAmount.Asset,
		"wallet_address":  a.WalletAddress,
		"status":          string(a.Status),
		"is_used":         a.IsUsed,
		"expires_at":      a.ExpiresAt.UTC().Format(httpTimeFormat),
		"created_at":      a.CreatedAt.UTC().Format(httpTimeFormat),
	}
}

func (h handlers) getApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.store.GetApproval(r.Context(), id)
	if err != nil {
		writeApprovalError(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, toApprovalView(a))
}

func (h handlers) listApprovalsByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	approvals, err := h.store.ListApprovalsByUser(r.Context(), userID)
	if err != nil {
		apperrors.WriteJSON(w, apperrors.ErrCodeDBError, "failed to list approvals", nil)
		return
	}
	views := make([]map[string]interface{}, 0, len(approvals))
	for _, a := range approvals {
		views = append(views, toApprovalView(a))
	}
	responders.JSON(w, http.StatusOK, map[string]interface{}{"approvals": views})
}

func writeApprovalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		apperrors.WriteJSON(w, apperrors.ErrCodeApprovalNotFound, "approval not found", nil)
	case errors.Is(err, ledger.ErrInvalidStateTransition), errors.Is(err, approval.ErrAlreadyUsed):
		apperrors.WriteJSON(w, apperrors.ErrCodeApprovalAlreadyUsed, err.Error(), nil)
	case errors.Is(err, approval.ErrExpired):
		apperrors.WriteJSON(w, apperrors.ErrCodeApprovalExpired, err.Error(), nil)
	case errors.Is(err, approval.ErrQuoteNotPending), errors.Is(err, approval.ErrWalletMismatch):
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidParameters, err.Error(), nil)
	case errors.Is(err, approval.ErrInsufficientBalance):
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidAmount, err.Error(), nil)
	default:
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidSignature, err.Error(), nil)
	}
}
