package server

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/anzu-ai/anzu/internal/auth"
	"github.com/anzu-ai/anzu/internal/authz"
	"github.com/anzu-ai/anzu/internal/billing"
	"github.com/anzu-ai/anzu/internal/ingest"
	"github.com/anzu-ai/anzu/internal/model"
	"github.com/anzu-ai/anzu/internal/querylog"
	"github.com/anzu-ai/anzu/internal/ratelimit"
	"github.com/anzu-ai/anzu/internal/search"
	"github.com/anzu-ai/anzu/internal/service/chat"
	"github.com/anzu-ai/anzu/internal/signup"
	"github.com/anzu-ai/anzu/internal/storage"
)

// Server is the Anzu HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): BillingSvc, Limiter, AuthLimiter, Broker,
// SignupSvc, Searcher, MCPServer, UIFS, OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	DB       *storage.DB
	JWTMgr   *auth.JWTManager
	ChatSvc  *chat.Service
	Ingest   *ingest.Service
	QueryLog *querylog.Buffer
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	BillingSvc  *billing.Service
	Limiter     *ratelimit.Limiter
	AuthLimiter *ratelimit.MemoryLimiter
	Broker      *Broker
	SignupSvc   *signup.Service
	Searcher    search.Searcher
	Memberships *authz.MembershipCache
	MCPServer   *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	MaxUploadBytes      int64

	// Optional embedded assets.
	UIFS        fs.FS  // Embedded UI filesystem (SPA).
	OpenAPISpec []byte // Embedded OpenAPI YAML.

	// Extension points for embedders. ExtraRoutes registrars run after the
	// built-in routes but before the SPA catch-all; Middlewares wrap the
	// mux inside the built-in chain so auth and logging still apply.
	ExtraRoutes []func(mux *http.ServeMux, requireRole RoleMiddlewareFn)
	Middlewares []func(http.Handler) http.Handler
}

// RoleMiddlewareFn builds RBAC middleware enforcing a minimum role. Passed to
// ExtraRoutes registrars so external routes share the built-in auth chain.
type RoleMiddlewareFn func(model.UserRole) func(http.Handler) http.Handler

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		ChatSvc:             cfg.ChatSvc,
		Ingest:              cfg.Ingest,
		QueryLog:            cfg.QueryLog,
		BillingSvc:          cfg.BillingSvc,
		Broker:              cfg.Broker,
		SignupSvc:           cfg.SignupSvc,
		Searcher:            cfg.Searcher,
		Memberships:         cfg.Memberships,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxUploadBytes:      cfg.MaxUploadBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Tenant-keyed rate limit rules (Redis fixed-window; noop without Redis).
	uploadRL := ratelimit.MiddlewareWithRequestID(cfg.Limiter, ratelimit.Rule{
		Prefix: "upload", Limit: 60, Window: time.Minute,
	}, tenantKeyFunc, reqIDFunc)
	chatRL := ratelimit.MiddlewareWithRequestID(cfg.Limiter, ratelimit.Rule{
		Prefix: "chat", Limit: 120, Window: time.Minute,
	}, userKeyFunc, reqIDFunc)
	searchRL := ratelimit.MiddlewareWithRequestID(cfg.Limiter, ratelimit.Rule{
		Prefix: "search", Limit: 300, Window: time.Minute,
	}, userKeyFunc, reqIDFunc)

	// Unauthenticated endpoints get an in-process IP token bucket so brute
	// force is throttled even with no Redis configured.
	authRL := ratelimit.MemoryMiddleware(cfg.AuthLimiter, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoints (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))
	mux.Handle("POST /auth/refresh", authRL(http.HandlerFunc(h.HandleAuthToken)))
	mux.Handle("POST /auth/signup", authRL(http.HandlerFunc(h.HandleSignup)))
	mux.Handle("GET /auth/verify", authRL(http.HandlerFunc(h.HandleVerifyEmail)))

	viewerUp := requireRole(model.RoleViewer)
	memberUp := requireRole(model.RoleMember)
	adminUp := requireRole(model.RoleAdmin)
	ownerUp := requireRole(model.RoleOwner)
	platformOnly := requireRole(model.RolePlatformAdmin)

	// Tenant self-service.
	mux.Handle("GET /v1/tenant", viewerUp(http.HandlerFunc(h.HandleGetTenant)))
	mux.Handle("PATCH /v1/tenant", ownerUp(http.HandlerFunc(h.HandleUpdateTenant)))
	mux.Handle("GET /v1/usage", viewerUp(http.HandlerFunc(h.HandleUsage)))

	// Cross-tenant administration (platform operators).
	mux.Handle("GET /v1/admin/tenants", platformOnly(http.HandlerFunc(h.HandleListTenants)))

	// User management (admin+).
	mux.Handle("POST /v1/users", adminUp(http.HandlerFunc(h.HandleCreateUser)))
	mux.Handle("GET /v1/users", adminUp(http.HandlerFunc(h.HandleListUsers)))
	mux.Handle("GET /v1/users/{user_id}", adminUp(http.HandlerFunc(h.HandleGetUser)))
	mux.Handle("PATCH /v1/users/{user_id}", adminUp(http.HandlerFunc(h.HandleUpdateUser)))
	mux.Handle("DELETE /v1/users/{user_id}", adminUp(http.HandlerFunc(h.HandleDeleteUser)))

	// API key management (admin+).
	mux.Handle("POST /v1/keys", adminUp(http.HandlerFunc(h.HandleCreateKey)))
	mux.Handle("GET /v1/keys", adminUp(http.HandlerFunc(h.HandleListKeys)))
	mux.Handle("DELETE /v1/keys/{id}", adminUp(http.HandlerFunc(h.HandleRevokeKey)))
	mux.Handle("POST /v1/keys/{id}/rotate", adminUp(http.HandlerFunc(h.HandleRotateKey)))

	// Knowledge base documents.
	mux.Handle("POST /v1/documents", uploadRL(memberUp(http.HandlerFunc(h.HandleUploadDocument))))
	mux.Handle("GET /v1/documents", viewerUp(http.HandlerFunc(h.HandleListDocuments)))
	mux.Handle("GET /v1/documents/{id}", viewerUp(http.HandlerFunc(h.HandleGetDocument)))
	mux.Handle("DELETE /v1/documents/{id}", adminUp(http.HandlerFunc(h.HandleDeleteDocument)))

	// Chat and conversations.
	mux.Handle("POST /v1/chat", chatRL(memberUp(http.HandlerFunc(h.HandleChat))))
	mux.Handle("GET /v1/conversations", viewerUp(http.HandlerFunc(h.HandleListConversations)))
	mux.Handle("GET /v1/conversations/{id}", viewerUp(http.HandlerFunc(h.HandleGetConversation)))
	mux.Handle("DELETE /v1/conversations/{id}", viewerUp(http.HandlerFunc(h.HandleDeleteConversation)))

	// Semantic search.
	mux.Handle("POST /v1/search", searchRL(viewerUp(http.HandlerFunc(h.HandleSearch))))

	// Analytics (admin+).
	mux.Handle("GET /v1/analytics/top-queries", adminUp(http.HandlerFunc(h.HandleTopQueries)))
	mux.Handle("GET /v1/analytics/usage", adminUp(http.HandlerFunc(h.HandleAnalyticsUsage)))

	// Billing (owner+ for sessions, no auth for webhooks).
	mux.Handle("POST /billing/checkout", ownerUp(http.HandlerFunc(h.HandleBillingCheckout)))
	mux.Handle("POST /billing/portal", ownerUp(http.HandlerFunc(h.HandleBillingPortal)))
	mux.Handle("POST /billing/webhooks", http.HandlerFunc(h.HandleBillingWebhook))

	// SSE subscription (viewer+, no rate limit — long-lived connection).
	mux.Handle("GET /v1/subscribe", viewerUp(http.HandlerFunc(h.HandleSubscribe)))

	// MCP StreamableHTTP transport (auth required, viewer+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", viewerUp(mcpHTTP))
	}

	for _, register := range cfg.ExtraRoutes {
		register(mux, requireRole)
	}

	// OpenAPI spec (no auth, no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// SPA: serve the embedded UI at the root path.
	// Registered last so all API routes take priority via the mux's longest-match rule.
	if cfg.UIFS != nil {
		mux.Handle("/", newSPAHandler(cfg.UIFS))
		cfg.Logger.Info("ui enabled, serving SPA at /")
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, cfg.DB, cfg.Memberships, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// tenantKeyFunc keys rate limits by tenant. Platform admins are exempt.
func tenantKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if model.RoleAtLeast(claims.Role, model.RolePlatformAdmin) {
		return ""
	}
	return claims.TenantID.String()
}

// userKeyFunc keys rate limits by tenant+user so one noisy user cannot
// exhaust their tenant's whole budget. Platform admins are exempt.
func userKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if model.RoleAtLeast(claims.Role, model.RolePlatformAdmin) {
		return ""
	}
	return claims.TenantID.String() + ":" + claims.UserID
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
