// Package http exposes the JSON API: aggregator link and sync endpoints,
// the webhook receiver, recurring template management, health checks and metrics.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"bizxpense/internal/ledger"
	applog "bizxpense/internal/log"
	"bizxpense/internal/middleware/ratelimit"
	"bizxpense/internal/middleware/security"
	"bizxpense/internal/middleware/trace"
	"bizxpense/internal/services"
)

const webhookPath = "/api/plaid/webhook"

// Services are the application services the handlers call into.
type Services struct {
	Store     ledger.Store
	Sync      *services.SyncEngine
	Webhooks  *services.WebhookReceiver
	Accounts  *services.AccountService
	Recurring *services.RecurringService
	Processor *services.RecurringProcessor
}

// Config holds HTTP server settings
type Config struct {
	Addr               string
	RateLimitPerMinute int
	Logger             *applog.Logger
}

type Server struct {
	http.Server
	svc         Services
	logger      *applog.Logger
	rateLimiter *ratelimit.Limiter
	detector    *security.Detector
	tracer      *trace.Middleware
	metrics     appMetrics
	now         func() time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, svc Services) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}

	s := &Server{
		svc:    svc,
		logger: logger.WithComponent(applog.ComponentHTTP),
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
		}),
		detector: security.NewDetector(),
		now:      time.Now,
	}
	s.metrics.started = time.Now()
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST "+webhookPath, s.handleWebhook)
	mux.HandleFunc("POST /api/plaid/sync", authenticated(s.handleSync))
	mux.HandleFunc("POST /api/plaid/link-token", authenticated(s.handleCreateLinkToken))
	mux.HandleFunc("POST /api/plaid/exchange-token", authenticated(s.handleExchangeToken))
	mux.HandleFunc("GET /api/plaid/accounts", authenticated(s.handleListAccounts))
	mux.HandleFunc("DELETE /api/plaid/accounts/{id}", authenticated(s.handleDisconnect))

	mux.HandleFunc("POST /api/recurring-expenses/process", authenticated(s.handleProcessRecurring))
	mux.HandleFunc("GET /api/recurring-expenses", authenticated(s.handleListRecurring))
	mux.HandleFunc("POST /api/recurring-expenses", authenticated(s.handleCreateRecurring))
	mux.HandleFunc("GET /api/recurring-expenses/{id}", authenticated(s.handleGetRecurring))
	mux.HandleFunc("PUT /api/recurring-expenses/{id}", authenticated(s.handleUpdateRecurring))
	mux.HandleFunc("DELETE /api/recurring-expenses/{id}", authenticated(s.handleDeleteRecurring))

	headers := security.NewHeadersMiddleware(security.APIHeadersConfig())
	limit := s.rateLimiter.Middleware(s.detector.ExtractClientIP, rateLimited, func(w http.ResponseWriter, r *http.Request) {
		applog.FromContext(r.Context()).WithComponent(applog.ComponentSecurity).WarnContext(r.Context(), "Rate limit exceeded",
			applog.FieldClientIP, s.detector.ExtractClientIP(r),
			applog.FieldPath, r.URL.Path)
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
	})

	// outermost first
	var handler http.Handler = mux
	handler = limit(handler)
	handler = s.detector.Middleware(handler)
	handler = headers.Middleware(handler)
	handler = applog.RequestIDMiddleware(trace.RequestIDFromRequest)(handler)
	handler = s.tracer.Middleware(handler)
	handler = applog.Middleware(logger)(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// a sync pass may page through the aggregator for a while
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
	return s
}

// rateLimited selects mutating calls other than aggregator webhooks.
func rateLimited(r *http.Request) bool {
	return r.Method != http.MethodGet && r.URL.Path != webhookPath
}

// Shutdown gracefully shuts down the server and its background routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.svc.Store.Ping(ctx); err != nil {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
