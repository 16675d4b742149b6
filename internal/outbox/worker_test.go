package outbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/rs/zerolog"
)

func seedNotification(t *testing.T, store *ledger.MemoryStore, id string) {
	t.Helper()
	if err := store.AppendOutboxNotification(context.Background(), &ledger.OutboxNotification{
		ID:        id,
		Channel:   "ops-alert",
		Priority:  "high",
		Subject:   "test",
		Body:      "payload",
		Status:    "pending",
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed notification: %v", err)
	}
}

func TestWorker_ProcessBatch_DeliversAndMarksDelivered(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("X-Delivery-Id", "ext-1")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := ledger.NewMemoryStore()
	seedNotification(t, store, "n1")

	worker := NewWorker(config.OutboxConfig{GatewayURL: srv.URL, MaxAttempts: 3}, store, zerolog.Nop())
	worker.processBatch(context.Background())

	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("gateway hits = %d, want 1", hits)
	}
	n, err := store.GetOutboxNotification(context.Background(), "n1")
	if err != nil {
		t.Fatalf("get notification: %v", err)
	}
	if n.Status != "delivered" {
		t.Errorf("status = %s, want delivered", n.Status)
	}
	if n.ExternalID != "ext-1" {
		t.Errorf("external id = %q, want ext-1", n.ExternalID)
	}
}

func TestWorker_Deliver_ExhaustsRetriesThenMarksFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := ledger.NewMemoryStore()
	seedNotification(t, store, "n1")

	worker := NewWorker(config.OutboxConfig{
		GatewayURL:      srv.URL,
		MaxAttempts:     2,
		InitialInterval: config.Duration{Duration: 5 * time.Millisecond},
		MaxInterval:     config.Duration{Duration: 10 * time.Millisecond},
		Multiplier:      2,
	}, store, zerolog.Nop())

	worker.processBatch(context.Background())

	n, err := store.GetOutboxNotification(context.Background(), "n1")
	if err != nil {
		t.Fatalf("get notification: %v", err)
	}
	if n.Status != "failed" {
		t.Errorf("status = %s, want failed", n.Status)
	}
	if n.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", n.RetryCount)
	}
}

func TestWorker_Deliver_NoGatewayConfigured(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedNotification(t, store, "n1")

	worker := NewWorker(config.OutboxConfig{MaxAttempts: 1}, store, zerolog.Nop())
	worker.processBatch(context.Background())

	n, err := store.GetOutboxNotification(context.Background(), "n1")
	if err != nil {
		t.Fatalf("get notification: %v", err)
	}
	if n.Status != "failed" {
		t.Errorf("status = %s, want failed", n.Status)
	}
}
