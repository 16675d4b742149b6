// Package httpserver wires the quote/approval/execution/settlement services
// to an HTTP API, following the teacher's chi-router, layered-middleware
// server shape (internal/httpserver/server.go in CedrosPay) with the
// paywall/cart/subscription route tree replaced by the payment engine's own
// endpoints (spec §6.1).
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cedros-labs/payment-engine/internal/apikey"
	"github.com/cedros-labs/payment-engine/internal/approval"
	"github.com/cedros-labs/payment-engine/internal/config"
	"github.com/cedros-labs/payment-engine/internal/executor"
	"github.com/cedros-labs/payment-engine/internal/idempotency"
	"github.com/cedros-labs/payment-engine/internal/ledger"
	"github.com/cedros-labs/payment-engine/internal/logger"
	"github.com/cedros-labs/payment-engine/internal/metrics"
	"github.com/cedros-labs/payment-engine/internal/quote"
	"github.com/cedros-labs/payment-engine/internal/ratelimit"
	"github.com/cedros-labs/payment-engine/internal/risk"
	"github.com/cedros-labs/payment-engine/internal/treasuryhealth"
	"github.com/cedros-labs/payment-engine/internal/versioning"
	"github.com/cedros-labs/payment-engine/internal/webhook"
)

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg              *config.Config
	store            ledger.Store
	quotes           *quote.Service
	approvals        *approval.Service
	router           *executor.Router
	webhooks         *webhook.Service
	breaker          *risk.Manager
	dailyCap         *risk.DailyCapController
	idempotencyStore idempotency.Store
	metrics          *metrics.Metrics
	treasuryHealth   *treasuryhealth.Checker
	logger           zerolog.Logger
}

// Deps bundles every service the HTTP layer dispatches to, one field per
// domain module so New's signature stays readable as the engine grows.
type Deps struct {
	Store            ledger.Store
	Quotes           *quote.Service
	Approvals        *approval.Service
	Router           *executor.Router
	Webhooks         *webhook.Service
	Breaker          *risk.Manager
	DailyCap         *risk.DailyCapController
	IdempotencyStore idempotency.Store
	Metrics          *metrics.Metrics
	TreasuryHealth   *treasuryhealth.Checker
}

// New builds the HTTP server with configured router.
func New(cfg *config.Config, deps Deps, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:              cfg,
			store:            deps.Store,
			quotes:           deps.Quotes,
			approvals:        deps.Approvals,
			router:           deps.Router,
			webhooks:         deps.Webhooks,
			breaker:          deps.Breaker,
			dailyCap:         deps.DailyCap,
			idempotencyStore: deps.IdempotencyStore,
			metrics:          deps.Metrics,
			treasuryHealth:   deps.TreasuryHealth,
			logger:           appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, deps, appLogger)

	return s
}

// ConfigureRouter attaches the payment engine's routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, deps Deps, appLogger zerolog.Logger) {
	if router == nil {
		return
	}

	handler := handlers{
		cfg:              cfg,
		store:            deps.Store,
		quotes:           deps.Quotes,
		approvals:        deps.Approvals,
		router:           deps.Router,
		webhooks:         deps.Webhooks,
		breaker:          deps.Breaker,
		dailyCap:         deps.DailyCap,
		idempotencyStore: deps.IdempotencyStore,
		metrics:          deps.Metrics,
		treasuryHealth:   deps.TreasuryHealth,
		logger:           appLogger,
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"Location"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	// Security headers middleware (applied first for all responses).
	router.Use(securityHeadersMiddleware)

	// Structured logging middleware (before RequestID for context propagation).
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	// API version negotiation middleware.
	router.Use(versioning.Negotiation)

	// API key authentication middleware (before rate limiting).
	apiKeyCfg := apikey.Config{
		Enabled: cfg.APIKey.Enabled,
		APIKeys: make(map[string]apikey.Tier),
	}
	for key, tierStr := range cfg.APIKey.Keys {
		apiKeyCfg.APIKeys[key] = apikey.Tier(tierStr)
	}
	router.Use(apikey.Middleware(apiKeyCfg))

	// Rate limiting middleware (applied globally).
	rateLimitCfg := ratelimit.Config{
		GlobalEnabled:    cfg.RateLimit.GlobalEnabled,
		GlobalLimit:      cfg.RateLimit.GlobalLimit,
		GlobalWindow:     cfg.RateLimit.GlobalWindow.Duration,
		GlobalBurst:      cfg.RateLimit.GlobalLimit / 10,
		PerWalletEnabled: cfg.RateLimit.PerWalletEnabled,
		PerWalletLimit:   cfg.RateLimit.PerWalletLimit,
		PerWalletWindow:  cfg.RateLimit.PerWalletWindow.Duration,
		PerWalletBurst:   cfg.RateLimit.PerWalletLimit / 6,
		PerIPEnabled:     cfg.RateLimit.PerIPEnabled,
		PerIPLimit:       cfg.RateLimit.PerIPLimit,
		PerIPWindow:      cfg.RateLimit.PerIPWindow.Duration,
		PerIPBurst:       cfg.RateLimit.PerIPLimit / 6,
		Metrics:          deps.Metrics,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.WalletLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints: liveness, metrics.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/health", handler.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Idempotency middleware for payment-mutating endpoints (spec §6.1's
	// POST /quote, /commit, /approval/create, /approval/{id}/submit).
	idempotencyMW := idempotency.Middleware(deps.IdempotencyStore, 24*time.Hour)

	// Payment processing endpoints: 60s timeout for chain RPC round-trips.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.With(idempotencyMW).Post(prefix+"/quote", handler.createQuote)
		r.With(idempotencyMW).Post(prefix+"/commit", handler.commitQuote)
		r.Get(prefix+"/status/{quote_id}", handler.getStatus)

		r.With(idempotencyMW).Post(prefix+"/approval/create", handler.createApproval)
		r.With(idempotencyMW).Post(prefix+"/approval/{id}/submit", handler.submitApproval)
		r.Get(prefix+"/approval/{id}", handler.getApproval)
		r.Get(prefix+"/approval/user/{user_id}", handler.listApprovalsByUser)

		r.Get(prefix+"/settlement/{quote_id}", handler.getSettlement)

		r.Get(prefix+"/admin/treasury", handler.adminTreasury)
		r.Get(prefix+"/admin/treasury/{chain}", handler.adminTreasuryChain)

		r.Post(prefix+"/webhook/solana", handler.webhookSolana)
		r.Post(prefix+"/webhook/stellar", handler.webhookStellar)
		r.Post(prefix+"/webhook/near", handler.webhookNEAR)
		r.Post(prefix+"/webhook/payment", handler.webhookPayment)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
