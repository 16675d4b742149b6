// Package audit centralizes the append-only domain-event writes every
// component of the payment engine produces (spec §4.7): every state
// transition, signature verification, circuit-breaker arm, and webhook
// acceptance funnels through Logger.Append instead of each package hand
// rolling its own ledger.AuditEvent construction and id generation.
package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/ledger"
)

// Logger appends audit events to the ledger store.
type Logger struct {
	store ledger.Store
}

// NewLogger builds a Logger over store.
func NewLogger(store ledger.Store) *Logger {
	return &Logger{store: store}
}

// Append records a domain event and returns the store's error unchanged.
// It does not log the failure itself; the caller decides how loudly to
// report it and whether the state transition it describes proceeds.
func (l *Logger) Append(ctx context.Context, eventType string, c chain.Chain, quoteID, userID string, details map[string]interface{}) error {
	return l.store.AppendAuditEvent(ctx, &ledger.AuditEvent{
		ID:        "audit_" + mustRandomID(),
		Timestamp: time.Now(),
		EventType: eventType,
		Chain:     c,
		QuoteID:   quoteID,
		UserID:    userID,
		Details:   details,
	})
}

func mustRandomID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("audit: crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}
