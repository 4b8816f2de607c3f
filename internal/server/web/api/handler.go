package api

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/pandeptwidyaop/leadflow/internal/server/audit"
	"github.com/pandeptwidyaop/leadflow/internal/server/config"
	"github.com/pandeptwidyaop/leadflow/internal/server/deletion"
	"github.com/pandeptwidyaop/leadflow/internal/server/health"
	"github.com/pandeptwidyaop/leadflow/internal/server/ingest"
	"github.com/pandeptwidyaop/leadflow/internal/server/pipeline"
	"github.com/pandeptwidyaop/leadflow/internal/server/retry"
	"github.com/pandeptwidyaop/leadflow/internal/server/routing"
	"github.com/pandeptwidyaop/leadflow/internal/server/web/middleware"
	"github.com/pandeptwidyaop/leadflow/internal/version"
	"github.com/pandeptwidyaop/leadflow/pkg/logger"
)

// Services are the pipeline components the handlers drive. They are built by
// the caller because the queue backend needs the processor before the
// dispatcher can exist.
type Services struct {
	Processor  *pipeline.Processor
	Dispatcher pipeline.Dispatcher
	Events     *audit.Fanout
}

// Handler serves the webhook, tenant and worker endpoints.
type Handler struct {
	db         *gorm.DB
	config     *config.Config
	store      *ingest.Store
	dispatcher pipeline.Dispatcher
	processor  *pipeline.Processor
	resolver   *routing.Resolver
	retries    *retry.Manager
	health     *health.Reporter
	deleter    *deletion.Deleter
	events     *audit.Fanout
	authMW     *middleware.AuthMiddleware
	limiter    *middleware.RateLimiter
	sseBroker  *SSEBroker
}

// NewHandler creates the API handler and subscribes the event stream to the
// audit fanout.
func NewHandler(db *gorm.DB, cfg *config.Config, svc Services) *Handler {
	h := &Handler{
		db:         db,
		config:     cfg,
		store:      ingest.NewStore(db),
		dispatcher: svc.Dispatcher,
		processor:  svc.Processor,
		resolver:   routing.NewResolver(db),
		retries:    retry.NewManager(db, svc.Processor, svc.Events, cfg.Retry.BatchLimit),
		health:     health.NewReporter(db, cfg.Health.Window, cfg.Health.DegradedThreshold, cfg.Health.DownThreshold),
		deleter:    deletion.NewDeleter(db, deletionStatusURL(cfg), svc.Events),
		events:     svc.Events,
		authMW:     middleware.NewAuthMiddleware(cfg.Auth.JWTSecret),
		limiter:    middleware.NewRateLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst),
		sseBroker:  NewSSEBroker(cfg.Logging.HTTPLevel),
	}

	svc.Events.Subscribe(func(e audit.Event) {
		if e.TenantID == nil {
			return
		}
		h.sseBroker.Broadcast(SSEEvent{
			Type:     string(e.Type),
			TenantID: *e.TenantID,
			Data:     e,
		})
	})

	return h
}

func deletionStatusURL(cfg *config.Config) string {
	if cfg.Meta.DeletionStatusURL != "" {
		return cfg.Meta.DeletionStatusURL
	}
	return cfg.Server.PublicURL + "/webhooks/meta/deletion/status"
}

// Close stops the event broker and the rate limiter.
func (h *Handler) Close() {
	h.sseBroker.Close()
	h.limiter.Stop()
}

// isAllowedOrigin checks the Origin header against server.allowed_origins.
func (h *Handler) isAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range h.config.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// CORSMiddleware adds CORS headers for allowed origins
func (h *Handler) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if h.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "3600")
			w.Header().Add("Vary", "Origin")
		}

		// Handle preflight OPTIONS request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	tenant := func(fn http.HandlerFunc) http.Handler {
		return h.authMW.Protect(middleware.RequireOrganization(fn))
	}

	// Public routes
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /api/version", h.getVersion)

	// Platform callbacks
	mux.Handle("GET /webhooks/meta", h.limiter.Limit(http.HandlerFunc(h.verifySubscription)))
	mux.Handle("POST /webhooks/meta", h.limiter.Limit(http.HandlerFunc(h.receiveLeads)))
	mux.Handle("POST /webhooks/meta/deletion", h.limiter.Limit(http.HandlerFunc(h.deletionCallback)))
	mux.Handle("GET /webhooks/meta/deletion/status", h.limiter.Limit(http.HandlerFunc(h.deletionStatus)))

	// Tenant routes
	mux.Handle("GET /api/leads/failed", tenant(h.listFailed))
	mux.Handle("POST /api/leads/retry-all", tenant(h.retryAll))
	mux.Handle("POST /api/leads/test", tenant(h.testLead))
	mux.Handle("POST /api/leads/{id}/retry", tenant(h.retryLead))
	mux.Handle("POST /api/leads/{id}/dismiss", tenant(h.dismissLead))
	mux.Handle("GET /api/health/leads", tenant(h.leadHealth))
	mux.Handle("GET /api/events", tenant(h.HandleSSE))

	// Queue worker endpoint for the HTTP push backend
	mux.HandleFunc("POST /internal/queue/jobs", h.receiveJob)
}

// Router wraps the registered routes with the global middleware chain.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = h.CORSMiddleware(handler)
	handler = middleware.SecurityHeaders(handler)
	handler = middleware.HTTPLoggerWithLevel(handler, h.config.Logging.HTTPLevel)
	return handler
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, map[string]interface{}{
		"status":  status,
		"version": version.Version,
		"time":    time.Now().UTC(),
	})
}

func (h *Handler) getVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, version.GetVersion())
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.WarnEvent().Err(err).Msg("Failed to write response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
