package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the payment engine.
type Metrics struct {
	// Quote lifecycle metrics
	QuotesCreatedTotal    *prometheus.CounterVec
	QuoteTransitionsTotal *prometheus.CounterVec
	QuoteCreateDuration   *prometheus.HistogramVec

	// Approval metrics
	ApprovalsCreatedTotal *prometheus.CounterVec
	ApprovalsUsedTotal    *prometheus.CounterVec
	ApprovalRejectedTotal *prometheus.CounterVec

	// Execution metrics
	ExecutionsTotal      *prometheus.CounterVec
	ExecutionDuration    *prometheus.HistogramVec
	ExecutionRetryTotal  *prometheus.CounterVec
	SettlementDuration   *prometheus.HistogramVec
	SettlementAmountTotal *prometheus.CounterVec

	// Chain RPC metrics
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec
	RPCErrorsTotal  *prometheus.CounterVec

	// Risk control metrics
	CircuitBreakerTripsTotal *prometheus.CounterVec
	CircuitBreakerState      *prometheus.GaugeVec
	DailyCapRejectionsTotal  *prometheus.CounterVec

	// Webhook ingress metrics
	WebhooksTotal       *prometheus.CounterVec
	WebhookDuplicates    *prometheus.CounterVec
	WebhookRejectedTotal *prometheus.CounterVec

	// Outbox metrics
	OutboxWrittenTotal  *prometheus.CounterVec
	OutboxDLQTotal      *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		QuotesCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_quotes_created_total",
				Help: "Total number of quotes created",
			},
			[]string{"funding_chain", "execution_chain"},
		),
		QuoteTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_quote_transitions_total",
				Help: "Total number of quote state transitions",
			},
			[]string{"from", "to"},
		),
		QuoteCreateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payeng_quote_create_duration_seconds",
				Help:    "Time taken to price and persist a new quote",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"funding_chain", "execution_chain"},
		),
		ApprovalsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_approvals_created_total",
				Help: "Total number of spending approvals created",
			},
			[]string{"chain"},
		),
		ApprovalsUsedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_approvals_used_total",
				Help: "Total number of approvals authorized via signature submission",
			},
			[]string{"chain"},
		),
		ApprovalRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_approvals_rejected_total",
				Help: "Total number of rejected approval submissions",
			},
			[]string{"chain", "reason"},
		),
		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_executions_total",
				Help: "Total number of execution attempts by outcome",
			},
			[]string{"chain", "status"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payeng_execution_duration_seconds",
				Help:    "Time from submit to confirmed/failed execution",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"chain"},
		),
		ExecutionRetryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_execution_retries_total",
				Help: "Total number of execution retry attempts",
			},
			[]string{"chain", "attempt"},
		),
		SettlementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payeng_settlement_duration_seconds",
				Help:    "Time from settlement batch write to on-chain confirmation",
				Buckets: []float64{1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"chain"},
		),
		SettlementAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_settlement_amount_atomic_total",
				Help: "Total settled amount in the asset's smallest unit",
			},
			[]string{"chain", "asset"},
		),
		RPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_chain_rpc_calls_total",
				Help: "Total number of RPC calls to a chain client",
			},
			[]string{"chain", "method"},
		),
		RPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payeng_chain_rpc_call_duration_seconds",
				Help:    "Duration of chain RPC calls",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"chain", "method"},
		),
		RPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_chain_rpc_errors_total",
				Help: "Total number of chain RPC errors",
			},
			[]string{"chain", "method"},
		),
		CircuitBreakerTripsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_circuit_breaker_trips_total",
				Help: "Total number of times a chain's circuit breaker armed",
			},
			[]string{"chain", "cause"},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "payeng_circuit_breaker_active",
				Help: "1 if the chain's circuit breaker is currently active",
			},
			[]string{"chain"},
		),
		DailyCapRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_daily_cap_rejections_total",
				Help: "Total number of quote requests rejected for exceeding the daily cap",
			},
			[]string{"chain", "stage"},
		),
		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_webhooks_total",
				Help: "Total number of inbound payment webhooks processed",
			},
			[]string{"chain", "status"},
		),
		WebhookDuplicates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_webhook_duplicates_total",
				Help: "Total number of webhook deliveries recognized as duplicates",
			},
			[]string{"chain"},
		),
		WebhookRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_webhook_rejected_total",
				Help: "Total number of webhook deliveries rejected before processing",
			},
			[]string{"chain", "reason"},
		),
		OutboxWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_outbox_written_total",
				Help: "Total number of outbox notifications appended",
			},
			[]string{"channel", "priority"},
		),
		OutboxDLQTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payeng_outbox_dlq_total",
				Help: "Total number of outbox notifications marked failed after exhausting delivery retries",
			},
			[]string{"channel"},
		),
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payeng_db_query_duration_seconds",
				Help:    "Ledger database query duration",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "payeng_db_connections_active",
				Help: "Number of active ledger database connections",
			},
		),
	}
}

// ObserveQuoteCreated records a quote creation.
func (m *Metrics) ObserveQuoteCreated(fundingChain, executionChain string, duration time.Duration) {
	m.QuotesCreatedTotal.WithLabelValues(fundingChain, executionChain).Inc()
	m.QuoteCreateDuration.WithLabelValues(fundingChain, executionChain).Observe(duration.Seconds())
}

// ObserveQuoteTransition records a quote state machine transition.
func (m *Metrics) ObserveQuoteTransition(from, to string) {
	m.QuoteTransitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveExecution records an execution attempt outcome.
func (m *Metrics) ObserveExecution(chain, status string, duration time.Duration) {
	m.ExecutionsTotal.WithLabelValues(chain, status).Inc()
	m.ExecutionDuration.WithLabelValues(chain).Observe(duration.Seconds())
}

// ObserveExecutionRetry records a retry attempt on the execution harness.
func (m *Metrics) ObserveExecutionRetry(chain string, attempt int) {
	m.ExecutionRetryTotal.WithLabelValues(chain, formatAttempt(attempt)).Inc()
}

// ObserveSettlement records an on-chain settlement confirmation.
func (m *Metrics) ObserveSettlement(chain, asset string, amountAtomic int64, duration time.Duration) {
	m.SettlementDuration.WithLabelValues(chain).Observe(duration.Seconds())
	m.SettlementAmountTotal.WithLabelValues(chain, asset).Add(float64(amountAtomic))
}

// ObserveRPCCall records an RPC call to a chain client.
func (m *Metrics) ObserveRPCCall(chain, method string, duration time.Duration, err error) {
	m.RPCCallsTotal.WithLabelValues(chain, method).Inc()
	m.RPCCallDuration.WithLabelValues(chain, method).Observe(duration.Seconds())
	if err != nil {
		m.RPCErrorsTotal.WithLabelValues(chain, method).Inc()
	}
}

// ObserveCircuitBreakerTrip records a breaker arming event.
func (m *Metrics) ObserveCircuitBreakerTrip(chain, cause string) {
	m.CircuitBreakerTripsTotal.WithLabelValues(chain, cause).Inc()
	m.CircuitBreakerState.WithLabelValues(chain).Set(1)
}

// ObserveCircuitBreakerClear records a breaker disarm.
func (m *Metrics) ObserveCircuitBreakerClear(chain string) {
	m.CircuitBreakerState.WithLabelValues(chain).Set(0)
}

// ObserveDailyCapRejection records a quote rejected for exceeding the daily cap.
func (m *Metrics) ObserveDailyCapRejection(chain, stage string) {
	m.DailyCapRejectionsTotal.WithLabelValues(chain, stage).Inc()
}

// ObserveWebhook records an inbound webhook delivery outcome.
func (m *Metrics) ObserveWebhook(chain, status string) {
	m.WebhooksTotal.WithLabelValues(chain, status).Inc()
}

// ObserveWebhookDuplicate records a deduplicated webhook replay.
func (m *Metrics) ObserveWebhookDuplicate(chain string) {
	m.WebhookDuplicates.WithLabelValues(chain).Inc()
}

// ObserveWebhookRejected records a webhook rejected before processing.
func (m *Metrics) ObserveWebhookRejected(chain, reason string) {
	m.WebhookRejectedTotal.WithLabelValues(chain, reason).Inc()
}

// ObserveOutboxWrite records an outbox notification append.
func (m *Metrics) ObserveOutboxWrite(channel, priority string) {
	m.OutboxWrittenTotal.WithLabelValues(channel, priority).Inc()
}

// ObserveOutboxDLQ records a notification marked failed after exhausting
// delivery retries.
func (m *Metrics) ObserveOutboxDLQ(channel string) {
	m.OutboxDLQTotal.WithLabelValues(channel).Inc()
}

// ObserveDBQuery records a ledger database query.
func (m *Metrics) ObserveDBQuery(operation string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return string(rune('0' + attempt))
	}
	return "5+"
}
