package httpserver

import (
	"net/http"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/pkg/responders"
)

// health is a liveness probe with a per-chain breaker summary, per spec
// §6.1's `GET /health`.
func (h handlers) health(w http.ResponseWriter, r *http.Request) {
	breakers := make(map[string]bool, len(chain.All))
	for _, c := range chain.All {
		open := false
		if h.breaker != nil {
			open = h.breaker.IsOpen(c)
		}
		breakers[string(c)] = open
	}
	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"circuit_breakers": breakers,
	})
}
