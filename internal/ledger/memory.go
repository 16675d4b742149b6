package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
)

// MemoryStore is an in-process Store used by tests and local development,
// following the teacher's storage.MemoryStore: a mutex-guarded map per
// entity, no persistence across restarts.
type MemoryStore struct {
	mu sync.Mutex

	quotes       map[string]*Quote
	approvals    map[string]*Approval
	executions   map[string]*Execution
	settlements  map[string]*Settlement
	settlementExecs map[string][]string // settlementID -> executionIDs
	execToSettlement map[string]string  // executionID -> settlementID
	dailySpending map[string]*DailySpending
	breakers     map[chain.Chain]*CircuitBreakerState
	audit        []*AuditEvent
	outbox       map[string]*OutboxNotification
	users        map[string]*User
	wallets      map[string]*Wallet // key: userID|chain
	webhookEvents map[string]*WebhookEvent
}

// NewMemoryStore returns an empty, ready-to-use MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotes:           make(map[string]*Quote),
		approvals:        make(map[string]*Approval),
		executions:       make(map[string]*Execution),
		settlements:      make(map[string]*Settlement),
		settlementExecs:  make(map[string][]string),
		execToSettlement: make(map[string]string),
		dailySpending:    make(map[string]*DailySpending),
		breakers:         make(map[chain.Chain]*CircuitBreakerState),
		outbox:           make(map[string]*OutboxNotification),
		users:            make(map[string]*User),
		wallets:          make(map[string]*Wallet),
		webhookEvents:    make(map[string]*WebhookEvent),
	}
}

func (m *MemoryStore) Close() error { return nil }

func walletKey(userID string, c chain.Chain) string { return userID + "|" + string(c) }
func dailyKey(c chain.Chain, date string) string     { return string(c) + "|" + date }

// --- Quotes ---

func (m *MemoryStore) CreateQuote(_ context.Context, q *Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.quotes[q.ID]; exists {
		return ErrAlreadyExists
	}
	for _, existing := range m.quotes {
		if existing.Nonce == q.Nonce {
			return ErrAlreadyExists
		}
	}
	cp := *q
	m.quotes[q.ID] = &cp
	return nil
}

func (m *MemoryStore) GetQuote(_ context.Context, id string) (*Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (m *MemoryStore) TransitionQuote(_ context.Context, id string, from, to QuoteStatus) error {
	if !ValidQuoteTransition(from, to) {
		return ErrInvalidStateTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok || q.Status != from {
		return ErrInvalidStateTransition
	}
	q.Status = to
	q.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ExpireStaleQuotes(_ context.Context, asOf time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, q := range m.quotes {
		if (q.Status == QuoteStatusPending || q.Status == QuoteStatusCommitted) && !q.ExpiresAt.After(asOf) {
			q.Status = QuoteStatusExpired
			q.UpdatedAt = asOf
			ids = append(ids, q.ID)
		}
	}
	return ids, nil
}

// --- Approvals ---

func (m *MemoryStore) CreateApproval(_ context.Context, a *Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.approvals[a.ID]; exists {
		return ErrAlreadyExists
	}
	for _, existing := range m.approvals {
		if existing.Nonce == a.Nonce {
			return ErrAlreadyExists
		}
	}
	cp := *a
	m.approvals[a.ID] = &cp
	return nil
}

func (m *MemoryStore) GetApproval(_ context.Context, id string) (*Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ListApprovalsByUser(_ context.Context, userID string) ([]*Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Approval
	for _, a := range m.approvals {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) SubmitApprovalSignature(_ context.Context, id, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok || a.Status != ApprovalStatusCreated {
		return ErrInvalidStateTransition
	}
	a.Signature = signature
	a.Status = ApprovalStatusSignatureSubmitted
	a.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) AuthorizeApproval(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok || a.Status != ApprovalStatusSignatureSubmitted {
		return ErrInvalidStateTransition
	}
	a.Status = ApprovalStatusAuthorized
	a.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ConsumeApproval(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok || a.IsUsed {
		return ErrInvalidStateTransition
	}
	a.IsUsed = true
	a.UpdatedAt = time.Now()
	return nil
}

// --- Executions ---

func (m *MemoryStore) CreateExecution(_ context.Context, e *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[e.ID]; exists {
		return ErrAlreadyExists
	}
	if e.Status == ExecutionStatusSuccess {
		for _, existing := range m.executions {
			if existing.QuoteID == e.QuoteID && existing.Status == ExecutionStatusSuccess {
				return ErrAlreadyExists
			}
		}
	}
	cp := *e
	m.executions[e.ID] = &cp
	return nil
}

func (m *MemoryStore) GetExecution(_ context.Context, id string) (*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) GetSuccessfulExecutionByQuote(_ context.Context, quoteID string) (*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.executions {
		if e.QuoteID == quoteID && e.Status == ExecutionStatusSuccess {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateExecutionStatus(_ context.Context, id string, status ExecutionStatus, txHash, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return ErrNotFound
	}
	if status == ExecutionStatusSuccess {
		for otherID, existing := range m.executions {
			if otherID != id && existing.QuoteID == e.QuoteID && existing.Status == ExecutionStatusSuccess {
				return ErrAlreadyExists
			}
		}
		now := time.Now()
		e.ConfirmedAt = &now
	}
	e.Status = status
	e.TxHash = txHash
	e.Error = errMsg
	return nil
}

func (m *MemoryStore) ListUnsettledExecutions(_ context.Context, c chain.Chain) ([]*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Execution
	for _, e := range m.executions {
		if e.Chain != c || e.Status != ExecutionStatusSuccess {
			continue
		}
		if _, settled := m.execToSettlement[e.ID]; settled {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// --- Settlements ---

func (m *MemoryStore) CreateSettlement(_ context.Context, st *Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	m.settlements[st.ID] = &cp
	m.settlementExecs[st.ID] = append([]string{}, st.ExecutionIDs...)
	for _, execID := range st.ExecutionIDs {
		m.execToSettlement[execID] = st.ID
	}
	return nil
}

func (m *MemoryStore) GetSettlement(_ context.Context, id string) (*Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.settlements[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	cp.ExecutionIDs = append([]string{}, m.settlementExecs[id]...)
	return &cp, nil
}

func (m *MemoryStore) GetSettlementByQuote(_ context.Context, quoteID string) (*Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var execID string
	for _, e := range m.executions {
		if e.QuoteID == quoteID && e.Status == ExecutionStatusSuccess {
			execID = e.ID
			break
		}
	}
	if execID == "" {
		return nil, ErrNotFound
	}
	settlementID, ok := m.execToSettlement[execID]
	if !ok {
		return nil, ErrNotFound
	}
	st := m.settlements[settlementID]
	cp := *st
	cp.ExecutionIDs = append([]string{}, m.settlementExecs[settlementID]...)
	return &cp, nil
}

func (m *MemoryStore) UpdateSettlementStatus(_ context.Context, id string, status SettlementStatus, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.settlements[id]
	if !ok {
		return ErrNotFound
	}
	st.Status = status
	st.TxHash = txHash
	if status == SettlementStatusConfirmed {
		now := time.Now()
		st.VerifiedAt = &now
	}
	return nil
}

// --- Daily spending ---

func (m *MemoryStore) GetDailySpending(_ context.Context, c chain.Chain, date string) (*DailySpending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.dailySpending[dailyKey(c, date)]; ok {
		cp := *d
		return &cp, nil
	}
	return &DailySpending{Chain: c, Date: date}, nil
}

func (m *MemoryStore) IncrementDailySpending(_ context.Context, c chain.Chain, date string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dailyKey(c, date)
	d, ok := m.dailySpending[key]
	if !ok {
		d = &DailySpending{Chain: c, Date: date}
		m.dailySpending[key] = d
	}
	d.AmountSpent += amount
	d.TxCount++
	return d.AmountSpent, nil
}

// --- Circuit breakers ---

func (m *MemoryStore) GetCircuitBreakerState(_ context.Context, c chain.Chain) (*CircuitBreakerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.breakers[c]; ok {
		cp := *st
		return &cp, nil
	}
	return &CircuitBreakerState{Chain: c}, nil
}

func (m *MemoryStore) SetCircuitBreakerState(_ context.Context, state *CircuitBreakerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.breakers[state.Chain] = &cp
	return nil
}

// --- Audit log ---

func (m *MemoryStore) AppendAuditEvent(_ context.Context, e *AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.audit = append(m.audit, &cp)
	return nil
}

// --- Outbox ---

func (m *MemoryStore) AppendOutboxNotification(_ context.Context, n *OutboxNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.outbox[n.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOutboxNotification(_ context.Context, id string) (*OutboxNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.outbox[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *MemoryStore) ListPendingOutboxNotifications(_ context.Context, limit int) ([]*OutboxNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*OutboxNotification
	for _, n := range m.outbox {
		if n.Status == "pending" {
			cp := *n
			out = append(out, &cp)
			if len(out) >= limit && limit > 0 {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkOutboxDelivered(_ context.Context, id, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.outbox[id]
	if !ok {
		return ErrNotFound
	}
	n.Status = "delivered"
	n.ExternalID = externalID
	return nil
}

func (m *MemoryStore) MarkOutboxFailed(_ context.Context, id, errMsg string, retryCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.outbox[id]
	if !ok {
		return ErrNotFound
	}
	n.Status = "failed"
	n.LastError = errMsg
	n.RetryCount = retryCount
	return nil
}

// --- Users and wallets ---

func (m *MemoryStore) UpsertUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		m.users[userID] = &User{ID: userID, CreatedAt: time.Now()}
	}
	return nil
}

func (m *MemoryStore) UpsertWallet(_ context.Context, w *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.wallets[walletKey(w.UserID, w.Chain)] = &cp
	return nil
}

func (m *MemoryStore) GetWallet(_ context.Context, userID string, c chain.Chain) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletKey(userID, c)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

// --- Webhook dedup ---

func (m *MemoryStore) RecordWebhookEvent(_ context.Context, e *WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.webhookEvents[e.WebhookID]; exists {
		return ErrAlreadyExists
	}
	cp := *e
	m.webhookEvents[e.WebhookID] = &cp
	return nil
}

func (m *MemoryStore) HasWebhookEvent(_ context.Context, webhookID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.webhookEvents[webhookID]
	return ok, nil
}
