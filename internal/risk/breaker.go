// Package risk implements the settlement control plane's two kill-switches
// (spec §4.5): a per-chain daily spending cap and a per-chain circuit
// breaker that trips on repeated execution failures. It generalizes the
// teacher's internal/circuitbreaker.Manager (keyed by ServiceType, one
// breaker per external dependency) to a breaker keyed by chain.Chain, and
// adds the durable ledger-backed state the admin endpoint exposes.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// BreakerConfig configures a single chain's circuit breaker, mirroring the
// teacher's BreakerConfig shape.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// Manager is a per-chain circuit breaker manager with a durable mirror in
// the ledger so operators can see breaker state without reaching into
// process memory (spec §4.5's "operator-visible" requirement).
type Manager struct {
	store    ledger.Store
	log      zerolog.Logger
	enabled  bool
	mu       sync.Mutex
	breakers map[chain.Chain]*gobreaker.CircuitBreaker
	// forcedOpen tracks chains armed directly by the execution router's own
	// consecutive-failure counter or an admin op (spec §4.5: "Arming is
	// caused by (a) the router's consecutive-failure threshold, or (b) an
	// explicit admin op"), independent of gobreaker's own trip counting.
	forcedOpen map[chain.Chain]bool
}

// NewManager builds a Manager from application config, one gobreaker
// instance per chain.
func NewManager(cfg config.CircuitBreakerConfig, store ledger.Store, log zerolog.Logger) *Manager {
	m := &Manager{
		store:      store,
		log:        log,
		enabled:    cfg.Enabled,
		breakers:   make(map[chain.Chain]*gobreaker.CircuitBreaker),
		forcedOpen: make(map[chain.Chain]bool),
	}
	if !cfg.Enabled {
		return m
	}

	perChain := map[chain.Chain]config.BreakerServiceConfig{
		chain.Solana:  cfg.Solana,
		chain.Stellar: cfg.Stellar,
		chain.NEAR:    cfg.NEAR,
	}
	for c, bc := range perChain {
		c := c
		m.breakers[c] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(c), bc, m.onStateChange))
	}
	return m
}

func (m *Manager) onStateChange(c chain.Chain) func(name string, from, to gobreaker.State) {
	return func(name string, from, to gobreaker.State) {
		m.log.Warn().
			Str("chain", string(c)).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state changed")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		active := to == gobreaker.StateOpen
		reason := ""
		var triggeredAt *time.Time
		if active {
			reason = fmt.Sprintf("tripped: %s -> %s", from.String(), to.String())
			now := time.Now()
			triggeredAt = &now
		}
		if err := m.store.SetCircuitBreakerState(ctx, &ledger.CircuitBreakerState{
			Chain: c, Active: active, Reason: reason, TriggeredAt: triggeredAt,
		}); err != nil {
			m.log.Error().Err(err).Str("chain", string(c)).Msg("failed to persist circuit breaker state")
		}
	}
}

// Execute runs fn under the chain's circuit breaker protection. If breakers
// are disabled or the chain has none configured, fn runs directly.
func (m *Manager) Execute(c chain.Chain, fn func() (interface{}, error)) (interface{}, error) {
	if !m.enabled {
		return fn()
	}
	m.mu.Lock()
	b, ok := m.breakers[c]
	m.mu.Unlock()
	if !ok {
		return fn()
	}
	return b.Execute(fn)
}

// IsOpen reports the breaker's in-memory state for chain c. Admin reads
// should prefer the durable ledger state (Store.GetCircuitBreakerState),
// which survives process restarts; this is for fast-path fail-closed checks
// inside the execution router.
func (m *Manager) IsOpen(c chain.Chain) bool {
	if !m.enabled {
		return false
	}
	m.mu.Lock()
	forced := m.forcedOpen[c]
	b, ok := m.breakers[c]
	m.mu.Unlock()
	if forced {
		return true
	}
	if !ok {
		return false
	}
	return b.State() == gobreaker.StateOpen
}

// TripChain forcibly arms the breaker for c outside of gobreaker's own
// request-counting, and persists the reason durably. Used by the execution
// router when its own consecutive-failure counter (tracked across whole
// retry-exhausted Execute calls, not individual attempts) crosses the
// configured threshold, and by an explicit admin endpoint.
func (m *Manager) TripChain(c chain.Chain, reason string) {
	m.mu.Lock()
	m.forcedOpen[c] = true
	m.mu.Unlock()

	m.log.Warn().Str("chain", string(c)).Str("reason", reason).Msg("circuit breaker force-armed")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now()
	if err := m.store.SetCircuitBreakerState(ctx, &ledger.CircuitBreakerState{
		Chain: c, Active: true, Reason: reason, TriggeredAt: &now,
	}); err != nil {
		m.log.Error().Err(err).Str("chain", string(c)).Msg("failed to persist circuit breaker state")
	}
}

// ResetChain disarms a forced-open breaker (the "disarming is an operator
// action" half of spec §4.5).
func (m *Manager) ResetChain(ctx context.Context, c chain.Chain) error {
	m.mu.Lock()
	m.forcedOpen[c] = false
	m.mu.Unlock()
	return m.store.SetCircuitBreakerState(ctx, &ledger.CircuitBreakerState{Chain: c, Active: false})
}

func toGobreakerSettings(name string, cfg config.BreakerServiceConfig, onChange func(chain.Chain) func(string, gobreaker.State, gobreaker.State)) gobreaker.Settings {
	c := chain.Chain(name)
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval.Duration,
		Timeout:     cfg.Timeout.Duration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				if float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: onChange(c),
	}
}
