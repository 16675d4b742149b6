package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/lib/pq"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL, following the teacher's
// storage.PostgresStore: fixed table names, conditional
// UPDATE ... WHERE <expected state> + RowsAffected() for every state
// transition, ON CONFLICT DO NOTHING/UPDATE for idempotent inserts.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresStore opens a connection, applies pool settings and ensures the
// schema exists.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := &PostgresStore{db: db, ownsDB: true}
	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS wallets (
			user_id TEXT NOT NULL,
			chain TEXT NOT NULL,
			address TEXT NOT NULL,
			verified BOOLEAN NOT NULL DEFAULT FALSE,
			verified_at TIMESTAMP,
			PRIMARY KEY (user_id, chain)
		);

		CREATE TABLE IF NOT EXISTS quotes (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			funding_chain TEXT NOT NULL,
			execution_chain TEXT NOT NULL,
			funding_asset TEXT NOT NULL,
			execution_asset TEXT NOT NULL,
			max_funding_amount BIGINT NOT NULL,
			execution_cost BIGINT NOT NULL,
			service_fee BIGINT NOT NULL,
			slippage_bound_bps INTEGER NOT NULL,
			payment_address TEXT NOT NULL,
			payment_memo TEXT,
			nonce TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			execution_instructions JSONB,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_quotes_status_expires ON quotes (status, expires_at);
		CREATE INDEX IF NOT EXISTS idx_quotes_user ON quotes (user_id);

		CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			quote_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			funding_chain TEXT NOT NULL,
			approved_amount BIGINT NOT NULL,
			wallet_address TEXT NOT NULL,
			treasury_address TEXT NOT NULL,
			nonce TEXT NOT NULL UNIQUE,
			message_to_sign TEXT NOT NULL,
			signature TEXT,
			status TEXT NOT NULL,
			is_used BOOLEAN NOT NULL DEFAULT FALSE,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_approvals_user ON approvals (user_id);
		CREATE INDEX IF NOT EXISTS idx_approvals_quote ON approvals (quote_id);

		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			quote_id TEXT NOT NULL,
			chain TEXT NOT NULL,
			status TEXT NOT NULL,
			tx_hash TEXT,
			gas_cost BIGINT NOT NULL DEFAULT 0,
			error TEXT,
			created_at TIMESTAMP NOT NULL,
			confirmed_at TIMESTAMP
		);
		-- At most one successful execution per quote: the exactly-once guard
		-- the execution router relies on when a retry races a confirmation.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_quote_success
			ON executions (quote_id) WHERE status = 'success';

		CREATE TABLE IF NOT EXISTS settlements (
			id TEXT PRIMARY KEY,
			chain TEXT NOT NULL,
			asset TEXT NOT NULL,
			amount BIGINT NOT NULL,
			tx_hash TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			verified_at TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS settlement_executions (
			settlement_id TEXT NOT NULL,
			execution_id TEXT NOT NULL,
			PRIMARY KEY (settlement_id, execution_id)
		);

		CREATE TABLE IF NOT EXISTS daily_spending (
			chain TEXT NOT NULL,
			date TEXT NOT NULL,
			amount_spent BIGINT NOT NULL DEFAULT 0,
			tx_count BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (chain, date)
		);

		CREATE TABLE IF NOT EXISTS circuit_breakers (
			chain TEXT PRIMARY KEY,
			active BOOLEAN NOT NULL DEFAULT FALSE,
			reason TEXT,
			triggered_at TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			event_type TEXT NOT NULL,
			chain TEXT,
			quote_id TEXT,
			user_id TEXT,
			details JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_audit_quote ON audit_log (quote_id);

		CREATE TABLE IF NOT EXISTS outbox_notifications (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			channel TEXT NOT NULL,
			priority TEXT NOT NULL,
			recipient TEXT NOT NULL,
			subject TEXT,
			body TEXT,
			status TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			external_id TEXT,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_notifications (status, created_at);

		CREATE TABLE IF NOT EXISTS webhook_events (
			webhook_id TEXT PRIMARY KEY,
			chain TEXT NOT NULL,
			tx_hash TEXT,
			quote_id TEXT,
			created_at TIMESTAMP NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// --- Quotes ---

func (s *PostgresStore) CreateQuote(ctx context.Context, q *Quote) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	instrJSON, err := json.Marshal(q.ExecutionInstructions)
	if err != nil {
		return fmt.Errorf("marshal execution instructions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quotes (id, user_id, funding_chain, execution_chain, funding_asset,
			execution_asset, max_funding_amount, execution_cost, service_fee,
			slippage_bound_bps, payment_address, payment_memo, nonce, status,
			execution_instructions, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, q.ID, q.UserID, string(q.FundingChain), string(q.ExecutionChain), q.FundingAsset,
		q.ExecutionAsset, q.MaxFundingAmount.Atomic, q.ExecutionCost.Atomic, q.ServiceFee.Atomic,
		q.SlippageBoundBps, q.PaymentAddress, q.PaymentMemo, q.Nonce, string(q.Status),
		instrJSON, q.ExpiresAt.UTC(), q.CreatedAt.UTC(), q.UpdatedAt.UTC())
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *PostgresStore) GetQuote(ctx context.Context, id string) (*Quote, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var q Quote
	var fundingChain, executionChain, status string
	var maxFunding, execCost, fee int64
	var instrJSON []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, funding_chain, execution_chain, funding_asset, execution_asset,
			max_funding_amount, execution_cost, service_fee, slippage_bound_bps,
			payment_address, payment_memo, nonce, status, execution_instructions,
			expires_at, created_at, updated_at
		FROM quotes WHERE id = $1
	`, id).Scan(&q.ID, &q.UserID, &fundingChain, &executionChain, &q.FundingAsset, &q.ExecutionAsset,
		&maxFunding, &execCost, &fee, &q.SlippageBoundBps, &q.PaymentAddress, &q.PaymentMemo,
		&q.Nonce, &status, &instrJSON, &q.ExpiresAt, &q.CreatedAt, &q.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	q.FundingChain = chain.Chain(fundingChain)
	q.ExecutionChain = chain.Chain(executionChain)
	q.Status = QuoteStatus(status)
	q.MaxFundingAmount = chain.Amount{Asset: q.FundingAsset, Atomic: maxFunding}
	q.ExecutionCost = chain.Amount{Asset: q.ExecutionAsset, Atomic: execCost}
	q.ServiceFee = chain.Amount{Asset: q.FundingAsset, Atomic: fee}
	if len(instrJSON) > 0 {
		_ = json.Unmarshal(instrJSON, &q.ExecutionInstructions)
	}
	return &q, nil
}

func (s *PostgresStore) TransitionQuote(ctx context.Context, id string, from, to QuoteStatus) error {
	if !ValidQuoteTransition(from, to) {
		return ErrInvalidStateTransition
	}
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE quotes SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, string(to), id, string(from))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInvalidStateTransition
	}
	return nil
}

func (s *PostgresStore) ExpireStaleQuotes(ctx context.Context, asOf time.Time) ([]string, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		UPDATE quotes SET status = 'expired', updated_at = NOW()
		WHERE status IN ('pending', 'committed') AND expires_at <= $1
		RETURNING id
	`, asOf.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Approvals ---

func (s *PostgresStore) CreateApproval(ctx context.Context, a *Approval) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (id, quote_id, user_id, funding_chain, approved_amount,
			wallet_address, treasury_address, nonce, message_to_sign, signature, status,
			is_used, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, a.ID, a.QuoteID, a.UserID, string(a.FundingChain), a.ApprovedAmount.Atomic,
		a.WalletAddress, a.TreasuryAddress, a.Nonce, a.MessageToSign, a.Signature,
		string(a.Status), a.IsUsed, a.ExpiresAt.UTC(), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *PostgresStore) scanApproval(row interface {
	Scan(dest ...interface{}) error
}) (*Approval, error) {
	var a Approval
	var fundingChain, status string
	var amount int64
	var signature sql.NullString

	err := row.Scan(&a.ID, &a.QuoteID, &a.UserID, &fundingChain, &amount, &a.WalletAddress,
		&a.TreasuryAddress, &a.Nonce, &a.MessageToSign, &signature, &status, &a.IsUsed,
		&a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.FundingChain = chain.Chain(fundingChain)
	a.Status = ApprovalStatus(status)
	a.ApprovedAmount = chain.Amount{Asset: string(a.FundingChain), Atomic: amount}
	a.Signature = signature.String
	return &a, nil
}

const approvalColumns = `id, quote_id, user_id, funding_chain, approved_amount, wallet_address,
	treasury_address, nonce, message_to_sign, signature, status, is_used, expires_at,
	created_at, updated_at`

func (s *PostgresStore) GetApproval(ctx context.Context, id string) (*Approval, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = $1`, id)
	return s.scanApproval(row)
}

func (s *PostgresStore) ListApprovalsByUser(ctx context.Context, userID string) ([]*Approval, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Approval
	for rows.Next() {
		a, err := s.scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SubmitApprovalSignature(ctx context.Context, id, signature string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET signature = $1, status = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, signature, string(ApprovalStatusSignatureSubmitted), id, string(ApprovalStatusCreated))
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}

func (s *PostgresStore) AuthorizeApproval(ctx context.Context, id string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, string(ApprovalStatusAuthorized), id, string(ApprovalStatusSignatureSubmitted))
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}

func (s *PostgresStore) ConsumeApproval(ctx context.Context, id string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET is_used = TRUE, updated_at = NOW()
		WHERE id = $1 AND is_used = FALSE
	`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}

// --- Executions ---

func (s *PostgresStore) CreateExecution(ctx context.Context, e *Execution) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, quote_id, chain, status, tx_hash, gas_cost, error, created_at, confirmed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, e.QuoteID, string(e.Chain), string(e.Status), e.TxHash, e.GasCost.Atomic, e.Error,
		e.CreatedAt.UTC(), nullableTime(e.ConfirmedAt))
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return err
}

const executionColumns = `id, quote_id, chain, status, tx_hash, gas_cost, error, created_at, confirmed_at`

func (s *PostgresStore) scanExecution(row interface {
	Scan(dest ...interface{}) error
}) (*Execution, error) {
	var e Execution
	var c, status string
	var gasCost int64
	var txHash, errMsg sql.NullString
	var confirmedAt sql.NullTime

	err := row.Scan(&e.ID, &e.QuoteID, &c, &status, &txHash, &gasCost, &errMsg, &e.CreatedAt, &confirmedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Chain = chain.Chain(c)
	e.Status = ExecutionStatus(status)
	e.TxHash = txHash.String
	e.Error = errMsg.String
	e.GasCost = chain.Amount{Asset: string(e.Chain), Atomic: gasCost}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		e.ConfirmedAt = &t
	}
	return &e, nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	return s.scanExecution(row)
}

func (s *PostgresStore) GetSuccessfulExecutionByQuote(ctx context.Context, quoteID string) (*Execution, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE quote_id = $1 AND status = 'success'`, quoteID)
	return s.scanExecution(row)
}

func (s *PostgresStore) UpdateExecutionStatus(ctx context.Context, id string, status ExecutionStatus, txHash, errMsg string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var confirmedAt interface{}
	if status == ExecutionStatusSuccess {
		confirmedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = $1, tx_hash = $2, error = $3, confirmed_at = COALESCE($4, confirmed_at)
		WHERE id = $5
	`, string(status), txHash, errMsg, confirmedAt, id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return checkRowsAffected(result)
}

func (s *PostgresStore) ListUnsettledExecutions(ctx context.Context, c chain.Chain) ([]*Execution, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM executions e
		WHERE e.chain = $1 AND e.status = 'success'
		AND NOT EXISTS (
			SELECT 1 FROM settlement_executions se WHERE se.execution_id = e.id
		)
	`, string(c))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		e, err := s.scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Settlements ---

func (s *PostgresStore) CreateSettlement(ctx context.Context, st *Settlement) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO settlements (id, chain, asset, amount, tx_hash, status, created_at, verified_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, st.ID, string(st.Chain), st.Asset, st.Amount.Atomic, st.TxHash, string(st.Status),
		st.CreatedAt.UTC(), nullableTime(st.VerifiedAt))
	if err != nil {
		return err
	}

	for _, execID := range st.ExecutionIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settlement_executions (settlement_id, execution_id) VALUES ($1, $2)
		`, st.ID, execID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) scanSettlement(row interface {
	Scan(dest ...interface{}) error
}) (*Settlement, error) {
	var st Settlement
	var c, status string
	var amount int64
	var txHash sql.NullString
	var verifiedAt sql.NullTime

	err := row.Scan(&st.ID, &c, &st.Asset, &amount, &txHash, &status, &st.CreatedAt, &verifiedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st.Chain = chain.Chain(c)
	st.Status = SettlementStatus(status)
	st.Amount = chain.Amount{Asset: st.Asset, Atomic: amount}
	st.TxHash = txHash.String
	if verifiedAt.Valid {
		t := verifiedAt.Time
		st.VerifiedAt = &t
	}
	return &st, nil
}

const settlementColumns = `id, chain, asset, amount, tx_hash, status, created_at, verified_at`

func (s *PostgresStore) GetSettlement(ctx context.Context, id string) (*Settlement, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = $1`, id)
	st, err := s.scanSettlement(row)
	if err != nil {
		return nil, err
	}
	st.ExecutionIDs, err = s.executionIDsForSettlement(ctx, id)
	return st, err
}

func (s *PostgresStore) GetSettlementByQuote(ctx context.Context, quoteID string) (*Settlement, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var execID string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM executions WHERE quote_id = $1 AND status = 'success'`, quoteID).Scan(&execID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var settlementID string
	err = s.db.QueryRowContext(ctx, `SELECT settlement_id FROM settlement_executions WHERE execution_id = $1`, execID).Scan(&settlementID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = $1`, settlementID)
	st, err := s.scanSettlement(row)
	if err != nil {
		return nil, err
	}
	st.ExecutionIDs, err = s.executionIDsForSettlement(ctx, settlementID)
	return st, err
}

func (s *PostgresStore) executionIDsForSettlement(ctx context.Context, settlementID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT execution_id FROM settlement_executions WHERE settlement_id = $1`, settlementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) UpdateSettlementStatus(ctx context.Context, id string, status SettlementStatus, txHash string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var verifiedAt interface{}
	if status == SettlementStatusConfirmed {
		verifiedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE settlements SET status = $1, tx_hash = $2, verified_at = COALESCE($3, verified_at)
		WHERE id = $4
	`, string(status), txHash, verifiedAt, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}

// --- Daily spending ---

func (s *PostgresStore) GetDailySpending(ctx context.Context, c chain.Chain, date string) (*DailySpending, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var d DailySpending
	d.Chain = c
	d.Date = date
	err := s.db.QueryRowContext(ctx, `
		SELECT amount_spent, tx_count FROM daily_spending WHERE chain = $1 AND date = $2
	`, string(c), date).Scan(&d.AmountSpent, &d.TxCount)
	if err == sql.ErrNoRows {
		return &d, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) IncrementDailySpending(ctx context.Context, c chain.Chain, date string, amount int64) (int64, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var total int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO daily_spending (chain, date, amount_spent, tx_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (chain, date) DO UPDATE SET
			amount_spent = daily_spending.amount_spent + EXCLUDED.amount_spent,
			tx_count = daily_spending.tx_count + 1
		RETURNING amount_spent
	`, string(c), date, amount).Scan(&total)
	return total, err
}

// --- Circuit breakers ---

func (s *PostgresStore) GetCircuitBreakerState(ctx context.Context, c chain.Chain) (*CircuitBreakerState, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var st CircuitBreakerState
	st.Chain = c
	var reason sql.NullString
	var triggeredAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT active, reason, triggered_at FROM circuit_breakers WHERE chain = $1
	`, string(c)).Scan(&st.Active, &reason, &triggeredAt)
	if err == sql.ErrNoRows {
		return &st, nil
	}
	if err != nil {
		return nil, err
	}
	st.Reason = reason.String
	if triggeredAt.Valid {
		t := triggeredAt.Time
		st.TriggeredAt = &t
	}
	return &st, nil
}

func (s *PostgresStore) SetCircuitBreakerState(ctx context.Context, state *CircuitBreakerState) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circuit_breakers (chain, active, reason, triggered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain) DO UPDATE SET
			active = EXCLUDED.active, reason = EXCLUDED.reason, triggered_at = EXCLUDED.triggered_at
	`, string(state.Chain), state.Active, state.Reason, nullableTime(state.TriggeredAt))
	return err
}

// --- Audit log ---

func (s *PostgresStore) AppendAuditEvent(ctx context.Context, e *AuditEvent) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	detailsJSON, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, event_type, chain, quote_id, user_id, details)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.Timestamp.UTC(), e.EventType, string(e.Chain), e.QuoteID, e.UserID, detailsJSON)
	return err
}

// --- Outbox ---

func (s *PostgresStore) AppendOutboxNotification(ctx context.Context, n *OutboxNotification) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox_notifications (id, user_id, channel, priority, recipient, subject,
			body, status, retry_count, last_error, external_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, n.ID, n.UserID, n.Channel, n.Priority, n.Recipient, n.Subject, n.Body, n.Status,
		n.RetryCount, n.LastError, n.ExternalID, n.CreatedAt.UTC())
	return err
}

func (s *PostgresStore) GetOutboxNotification(ctx context.Context, id string) (*OutboxNotification, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var n OutboxNotification
	var lastErr, externalID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, channel, priority, recipient, subject, body, status,
			retry_count, last_error, external_id, created_at
		FROM outbox_notifications WHERE id = $1
	`, id).Scan(&n.ID, &n.UserID, &n.Channel, &n.Priority, &n.Recipient, &n.Subject,
		&n.Body, &n.Status, &n.RetryCount, &lastErr, &externalID, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	n.LastError = lastErr.String
	n.ExternalID = externalID.String
	return &n, nil
}

func (s *PostgresStore) ListPendingOutboxNotifications(ctx context.Context, limit int) ([]*OutboxNotification, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, channel, priority, recipient, subject, body, status,
			retry_count, last_error, external_id, created_at
		FROM outbox_notifications WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OutboxNotification
	for rows.Next() {
		var n OutboxNotification
		var lastErr, externalID sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.Channel, &n.Priority, &n.Recipient, &n.Subject,
			&n.Body, &n.Status, &n.RetryCount, &lastErr, &externalID, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.LastError = lastErr.String
		n.ExternalID = externalID.String
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkOutboxDelivered(ctx context.Context, id, externalID string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE outbox_notifications SET status = 'delivered', external_id = $1 WHERE id = $2
	`, externalID, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}

func (s *PostgresStore) MarkOutboxFailed(ctx context.Context, id, errMsg string, retryCount int) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE outbox_notifications SET status = 'failed', last_error = $1, retry_count = $2 WHERE id = $3
	`, errMsg, retryCount, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}

// --- Users and wallets ---

func (s *PostgresStore) UpsertUser(ctx context.Context, userID string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, created_at) VALUES ($1, NOW()) ON CONFLICT (id) DO NOTHING
	`, userID)
	return err
}

func (s *PostgresStore) UpsertWallet(ctx context.Context, w *Wallet) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, chain, address, verified, verified_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id, chain) DO UPDATE SET
			address = EXCLUDED.address, verified = EXCLUDED.verified, verified_at = EXCLUDED.verified_at
	`, w.UserID, string(w.Chain), w.Address, w.Verified, nullableTime(w.VerifiedAt))
	return err
}

func (s *PostgresStore) GetWallet(ctx context.Context, userID string, c chain.Chain) (*Wallet, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var w Wallet
	w.UserID = userID
	w.Chain = c
	var verifiedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT address, verified, verified_at FROM wallets WHERE user_id = $1 AND chain = $2
	`, userID, string(c)).Scan(&w.Address, &w.Verified, &verifiedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		w.VerifiedAt = &t
	}
	return &w, nil
}

// --- Webhook dedup ---

func (s *PostgresStore) RecordWebhookEvent(ctx context.Context, e *WebhookEvent) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (webhook_id, chain, tx_hash, quote_id, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (webhook_id) DO NOTHING
	`, e.WebhookID, string(e.Chain), e.TxHash, e.QuoteID, e.CreatedAt.UTC())
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) HasWebhookEvent(ctx context.Context, webhookID string) (bool, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM webhook_events WHERE webhook_id = $1`, webhookID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func checkRowsAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInvalidStateTransition
	}
	return nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
