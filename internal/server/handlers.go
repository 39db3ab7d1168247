package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/anzu-ai/anzu/internal/auth"
	"github.com/anzu-ai/anzu/internal/authz"
	"github.com/anzu-ai/anzu/internal/billing"
	"github.com/anzu-ai/anzu/internal/ingest"
	"github.com/anzu-ai/anzu/internal/model"
	"github.com/anzu-ai/anzu/internal/querylog"
	"github.com/anzu-ai/anzu/internal/search"
	"github.com/anzu-ai/anzu/internal/service/chat"
	"github.com/anzu-ai/anzu/internal/signup"
	"github.com/anzu-ai/anzu/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	jwtMgr              *auth.JWTManager
	chatSvc             *chat.Service
	ingest              *ingest.Service
	queryLog            *querylog.Buffer
	billingSvc          *billing.Service
	broker              *Broker
	signupSvc           *signup.Service
	searcher            search.Searcher
	memberships         *authz.MembershipCache
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	maxUploadBytes      int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): BillingSvc, Broker, SignupSvc, Searcher,
// Memberships, OpenAPISpec.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	ChatSvc             *chat.Service
	Ingest              *ingest.Service
	QueryLog            *querylog.Buffer
	BillingSvc          *billing.Service
	Broker              *Broker
	SignupSvc           *signup.Service
	Searcher            search.Searcher
	Memberships         *authz.MembershipCache
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	MaxUploadBytes      int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		chatSvc:             d.ChatSvc,
		ingest:              d.Ingest,
		queryLog:            d.QueryLog,
		billingSvc:          d.BillingSvc,
		broker:              d.Broker,
		signupSvc:           d.SignupSvc,
		searcher:            d.Searcher,
		memberships:         d.Memberships,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		maxUploadBytes:      d.MaxUploadBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleAuthToken handles POST /auth/token.
// Checks managed api_keys table first, falls back to users.api_key_hash.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	// Phase 1: check managed api_keys table.
	var matched *model.User
	var matchedKeyID *uuid.UUID
	managedKeys, _ := h.db.GetActiveAPIKeysByUserIDGlobal(r.Context(), req.UserID)
	for _, k := range managedKeys {
		valid, verr := auth.VerifyAPIKey(req.APIKey, k.KeyHash)
		if verr != nil || !valid {
			continue
		}
		user, err := h.db.GetUserByUserID(r.Context(), k.TenantID, k.UserID)
		if err != nil {
			continue
		}
		matched = &user
		kid := k.ID
		matchedKeyID = &kid
		break
	}

	// Phase 2: fall back to users.api_key_hash.
	if matched == nil {
		users, err := h.db.GetUsersByUserIDGlobal(r.Context(), req.UserID)
		if err != nil {
			if len(managedKeys) == 0 {
				auth.DummyVerify()
			}
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
			return
		}

		verified := len(managedKeys) > 0
		for i := range users {
			u := &users[i]
			if u.APIKeyHash == nil {
				continue
			}
			valid, verr := auth.VerifyAPIKey(req.APIKey, *u.APIKeyHash)
			verified = true
			if verr != nil || !valid {
				continue
			}
			matched = u
			break
		}
		if !verified {
			auth.DummyVerify()
		}
	}

	if matched == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(*matched)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	if matchedKeyID != nil {
		if err := h.db.TouchAPIKeyLastUsed(r.Context(), *matchedKeyID); err != nil {
			h.logger.Warn("failed to touch api key last_used_at", "key_id", *matchedKeyID, "error", err)
		}
	}

	// Audit: record successful token issuance. Best-effort — failure to
	// audit must not block the token response.
	auditMeta := map[string]any{
		"ip":         r.RemoteAddr,
		"user_agent": r.UserAgent(),
		"token_exp":  expiresAt,
	}
	if matchedKeyID != nil {
		auditMeta["api_key_id"] = matchedKeyID.String()
	}
	if auditErr := h.recordMutationAuditBestEffort(r, matched.TenantID,
		"token_issued", "auth_token", matched.UserID, nil, nil, auditMeta,
	); auditErr != nil {
		h.logger.Error("failed to audit token issuance",
			"user_id", matched.UserID, "tenant_id", matched.TenantID, "error", auditErr)
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleSignup handles POST /auth/signup.
func (h *Handlers) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if h.signupSvc == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "signup is not enabled")
		return
	}

	var req struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		TenantName string `json:"tenant_name"`
	}
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	result, err := h.signupSvc.Signup(r.Context(), signup.SignupInput{
		Email:      req.Email,
		Password:   req.Password,
		TenantName: req.TenantName,
	})
	if err != nil {
		switch {
		case errors.Is(err, signup.ErrInvalidEmail),
			errors.Is(err, signup.ErrWeakPassword),
			errors.Is(err, signup.ErrTenantNameRequire):
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		case errors.Is(err, storage.ErrConflict):
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "a tenant with that name already exists")
		default:
			h.writeInternalError(w, r, "signup failed", err)
		}
		return
	}

	writeJSON(w, r, http.StatusCreated, result)
}

// HandleVerifyEmail handles GET /auth/verify?token=.
func (h *Handlers) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if h.signupSvc == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "signup is not enabled")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "token is required")
		return
	}

	if err := h.signupSvc.Verify(r.Context(), token); err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "invalid or expired verification token")
			return
		}
		h.writeInternalError(w, r, "email verification failed", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "verified"})
}

// HandleSubscribe handles GET /v1/subscribe (SSE).
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable,
			"SSE not available (LISTEN/NOTIFY not configured)")
		return
	}

	// The middleware chain wraps the writer, so Flush and SetWriteDeadline
	// must go through the ResponseController, which follows Unwrap down to
	// the real connection.
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Flush commits the 200 and the stream headers. ErrNotSupported is
	// returned before anything is written, so the error response is clean.
	if err := rc.Flush(); err != nil {
		w.Header().Del("Content-Type")
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	// Disable the server's WriteTimeout for this long-lived connection.
	// Without this, idle SSE connections are killed after WriteTimeout.
	_ = rc.SetWriteDeadline(time.Time{})

	claims := ClaimsFromContext(r.Context())
	ch := h.broker.Subscribe(claims.TenantID)
	defer h.broker.Unsubscribe(claims.TenantID, ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	// Query-log buffer health: dropped rows mean sustained overload.
	bufDepth := 0
	bufStatus := "ok"
	if h.queryLog != nil {
		bufDepth = h.queryLog.Len()
		if h.queryLog.DroppedRows() > 0 {
			bufStatus = "dropping"
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	resp := model.HealthResponse{
		Status:       status,
		Version:      h.version,
		Postgres:     pgStatus,
		BufferDepth:  bufDepth,
		BufferStatus: bufStatus,
		Uptime:       int64(time.Since(h.startedAt).Seconds()),
	}

	if h.searcher != nil {
		if err := h.searcher.Healthy(r.Context()); err == nil {
			resp.Qdrant = "connected"
		} else {
			resp.Qdrant = "disconnected"
		}
	}

	if h.broker != nil {
		resp.SSEBroker = "running"
	}

	writeJSON(w, r, httpStatus, resp)
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// platformTenantSlug is the reserved slug for the operator tenant that
// holds platform_admin users.
const platformTenantSlug = "platform"

// SeedAdmin creates the platform tenant and the initial platform_admin
// user on a fresh install. Safe to call on every startup.
func (h *Handlers) SeedAdmin(ctx context.Context, adminAPIKey string) error {
	tenant, err := h.db.GetTenantBySlug(ctx, platformTenantSlug)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("seed admin: get platform tenant: %w", err)
	}

	if errors.Is(err, storage.ErrNotFound) {
		if adminAPIKey == "" {
			return fmt.Errorf("seed admin: ANZU_ADMIN_API_KEY is empty and no platform tenant exists; set ANZU_ADMIN_API_KEY to bootstrap initial admin access")
		}
		tenant, err = h.db.CreateTenant(ctx, model.Tenant{
			Name: "Platform",
			Slug: platformTenantSlug,
			Plan: "enterprise",
		})
		if err != nil {
			return fmt.Errorf("seed admin: create platform tenant: %w", err)
		}
	}

	if adminAPIKey == "" {
		h.logger.Info("no admin API key configured, skipping admin seed")
		return nil
	}

	if _, err := h.db.GetUserByUserID(ctx, tenant.ID, "admin"); err == nil {
		h.logger.Info("platform admin already exists, skipping admin seed")
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("seed admin: get admin user: %w", err)
	}

	hash, err := auth.HashAPIKey(adminAPIKey)
	if err != nil {
		return fmt.Errorf("seed admin: hash key: %w", err)
	}

	_, err = h.db.CreateUser(ctx, model.User{
		UserID:     "admin",
		TenantID:   tenant.ID,
		Name:       "Platform Admin",
		Role:       model.RolePlatformAdmin,
		APIKeyHash: &hash,
	})
	if err != nil {
		return fmt.Errorf("seed admin: create admin user: %w", err)
	}

	h.logger.Info("seeded initial platform admin user")
	return nil
}

// --- Shared helpers ---

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 1000

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// maxQueryOffset prevents absurdly large offset values that cause expensive sequential scans.
const maxQueryOffset = 100_000

// queryOffset returns a bounded, non-negative offset from query params.
func queryOffset(r *http.Request) int {
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		return 0
	}
	if offset > maxQueryOffset {
		return maxQueryOffset
	}
	return offset
}

// queryLimit returns a bounded limit value from query params.
// Values are clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	limit := queryInt(r, "limit", defaultVal)
	if limit < 1 {
		return 1
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := r.PathValue(key)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%s is required", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %s", key, raw)
	}
	return id, nil
}
