package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cedros-labs/payment-engine/internal/apperrors"
	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/webhook"
	"github.com/cedros-labs/payment-engine/pkg/responders"
)

// webhookBody is the inbound payment-confirmation notification shape
// (spec §4.4, §6.1): chain-native watchers post the transfer they observed;
// chain is implied by the URL for the per-chain endpoints and explicit for
// the generic /webhook/payment endpoint.
type webhookBody struct {
	Chain   string `json:"chain"`
	TxHash  string `json:"tx_hash"`
	From    string `json:"from"`
	To      string `json:"to"`
	Asset   string `json:"asset"`
	Amount  int64  `json:"amount"`
	Memo    string `json:"memo"`
	QuoteID string `json:"quote_id"`
}

func (h handlers) webhookSolana(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, chain.Solana)
}

func (h handlers) webhookStellar(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, chain.Stellar)
}

func (h handlers) webhookNEAR(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, chain.NEAR)
}

// webhookPayment is the generic ingress endpoint; the chain is taken from
// the body instead of the URL.
func (h handlers) webhookPayment(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, "")
}

// handleWebhook verifies the HMAC signature over the raw body, parses the
// event, and hands it to webhook.Service.Accept, acking 202 regardless of
// whether this particular delivery drove a state change (spec §4.4).
func (h handlers) handleWebhook(w http.ResponseWriter, r *http.Request, urlChain chain.Chain) {
	signature := r.Header.Get("X-Webhook-Signature")
	if signature == "" {
		apperrors.WriteJSON(w, apperrors.ErrCodeMissingWebhookSignature, "X-Webhook-Signature header is required", nil)
		return
	}
	tsHeader := r.Header.Get("X-Webhook-Timestamp")
	if tsHeader == "" {
		apperrors.WriteJSON(w, apperrors.ErrCodeWebhookTimestampOutOfRange, "X-Webhook-Timestamp header is required", nil)
		return
	}
	tsUnix, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		apperrors.WriteJSON(w, apperrors.ErrCodeWebhookTimestampOutOfRange, "X-Webhook-Timestamp is not a valid unix timestamp", nil)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidParameters, "failed to read request body", nil)
		return
	}
	defer r.Body.Close()

	var b webhookBody
	if err := json.Unmarshal(body, &b); err != nil {
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidParameters, "invalid request body", nil)
		return
	}

	c := urlChain
	if c == "" {
		c, err = chain.Parse(b.Chain)
		if err != nil {
			apperrors.WriteJSON(w, apperrors.ErrCodeInvalidChain, err.Error(), nil)
			return
		}
	}

	if err := h.webhooks.VerifySignature(c, body, signature); err != nil {
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidWebhookSignature, err.Error(), nil)
		return
	}

	accepted, err := h.webhooks.Accept(r.Context(), webhook.Event{
		Chain:     c,
		TxHash:    b.TxHash,
		From:      b.From,
		To:        b.To,
		Asset:     b.Asset,
		Amount:    b.Amount,
		Memo:      b.Memo,
		QuoteID:   b.QuoteID,
		Timestamp: time.Unix(tsUnix, 0),
	})
	if err != nil {
		writeWebhookError(w, err)
		return
	}

	responders.JSON(w, http.StatusAccepted, map[string]interface{}{"accepted": accepted})
}

func writeWebhookError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, webhook.ErrTimestampOutOfRange):
		apperrors.WriteJSON(w, apperrors.ErrCodeWebhookTimestampOutOfRange, err.Error(), nil)
	case errors.Is(err, webhook.ErrChainMismatch):
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidChain, err.Error(), nil)
	case errors.Is(err, webhook.ErrAmountMismatch):
		apperrors.WriteJSON(w, apperrors.ErrCodeInvalidAmount, err.Error(), nil)
	case errors.Is(err, webhook.ErrQuoteExpired):
		apperrors.WriteJSON(w, apperrors.ErrCodeQuoteExpired, err.Error(), nil)
	default:
		apperrors.WriteJSON(w, apperrors.ErrCodeDBError, err.Error(), nil)
	}
}
