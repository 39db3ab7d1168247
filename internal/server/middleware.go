// Package server implements the HTTP API server for Anzu.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/anzu-ai/anzu/internal/auth"
	"github.com/anzu-ai/anzu/internal/authz"
	"github.com/anzu-ai/anzu/internal/ctxutil"
	"github.com/anzu-ai/anzu/internal/model"
	"github.com/anzu-ai/anzu/internal/storage"
	"github.com/anzu-ai/anzu/internal/telemetry"
)

type contextKey string

const (
	contextKeyRequestID contextKey = "request_id"
	contextKeyTenant    contextKey = "tenant"
)

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// ClaimsFromContext extracts the JWT claims from the context. Claims are
// stored via ctxutil so the mcp package can read them through the same keys.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	return ctxutil.ClaimsFromContext(ctx)
}

// TenantFromContext extracts the caller's tenant row from the context.
// Populated by authMiddleware for every authenticated request.
func TenantFromContext(ctx context.Context) model.Tenant {
	if v, ok := ctx.Value(contextKeyTenant).(model.Tenant); ok {
		return v
	}
	return model.Tenant{}
}

// requestIDMiddleware assigns a unique request ID to each request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), contextKeyRequestID, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// securityHeadersMiddleware sets baseline security headers on every response.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request with structured fields.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", RequestIDFromContext(r.Context()),
		}
		if tid := traceIDFromContext(r.Context()); tid != "" {
			attrs = append(attrs, "trace_id", tid)
		}
		if claims := ClaimsFromContext(r.Context()); claims != nil {
			attrs = append(attrs, "user_id", claims.UserID, "tenant_id", claims.TenantID)
		}

		level := slog.LevelInfo
		if wrapped.statusCode >= 500 {
			level = slog.LevelError
		} else if wrapped.statusCode >= 400 {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "http request", attrs...)
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// SSE needs for Flush and SetWriteDeadline.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

var (
	tracer    = telemetry.Tracer("anzu/http")
	httpMeter = telemetry.Meter("anzu/http")
)

// tracingMiddleware creates an OTEL span for each HTTP request
// and records request count and duration metrics.
func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
				attribute.String("http.request_id", RequestIDFromContext(r.Context())),
			),
		)
		defer span.End()

		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		duration := time.Since(start)
		statusStr := strconv.Itoa(wrapped.statusCode)

		span.SetAttributes(
			attribute.Int("http.status_code", wrapped.statusCode),
		)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
			attribute.String("http.status_code", statusStr),
		}

		if claims := ClaimsFromContext(ctx); claims != nil {
			span.SetAttributes(
				attribute.String("anzu.tenant_id", claims.TenantID.String()),
				attribute.String("anzu.user_id", claims.UserID),
				attribute.String("anzu.role", string(claims.Role)),
			)
			attrs = append(attrs, attribute.String("anzu.tenant_id", claims.TenantID.String()))
		}

		// Record metrics (best-effort, instruments lazily created).
		if counter, err := httpMeter.Int64Counter("http.server.request_count"); err == nil {
			counter.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
		}
		if hist, err := httpMeter.Float64Histogram("http.server.duration",
			otelmetric.WithUnit("ms")); err == nil {
			hist.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(attrs...))
		}
	})
}

// traceIDFromContext extracts the OTEL trace ID from the context, if any.
func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// recoveryMiddleware converts handler panics into 500 responses.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic in handler",
					"panic", rec,
					"path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
					"stack", string(debug.Stack()),
				)
				writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// unauthenticatedPaths are served without a JWT. Everything else requires one.
var unauthenticatedPaths = map[string]bool{
	"/health":           true,
	"/openapi.yaml":     true,
	"/auth/token":       true,
	"/auth/refresh":     true,
	"/auth/signup":      true,
	"/auth/verify":      true,
	"/billing/webhooks": true,
}

// authMiddleware validates JWT tokens and populates context with claims and
// the caller's tenant row. The user's current role is re-read through the
// membership cache so role changes and deletions take effect before the
// token expires, not after.
func authMiddleware(jwtMgr *auth.JWTManager, db *storage.DB, cache *authz.MembershipCache, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unauthenticatedPaths[r.URL.Path] || !isAPIPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid authorization format")
			return
		}

		claims, err := jwtMgr.ValidateToken(parts[1])
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid or expired token")
			return
		}

		user, err := resolveMembership(r.Context(), db, cache, claims)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "user no longer exists")
				return
			}
			// DB trouble: fall back to the role baked into the token rather
			// than failing every request during a blip.
		} else {
			claims.Role = user.Role
		}

		tenant, err := db.GetTenant(r.Context(), claims.TenantID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "tenant no longer exists")
				return
			}
			writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "storage unavailable")
			return
		}

		ctx := ctxutil.WithClaims(r.Context(), claims)
		ctx = context.WithValue(ctx, contextKeyTenant, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveMembership returns the caller's current user row, via the
// membership cache when fresh.
func resolveMembership(ctx context.Context, db *storage.DB, cache *authz.MembershipCache, claims *auth.Claims) (model.User, error) {
	key := authz.Key(claims.TenantID, claims.UserID)
	if cache != nil {
		if u, ok := cache.Get(key); ok {
			return u, nil
		}
	}
	u, err := db.GetUserByUserID(ctx, claims.TenantID, claims.UserID)
	if err != nil {
		return model.User{}, err
	}
	if cache != nil {
		cache.Set(key, u)
	}
	return u, nil
}

// requireRole returns middleware that enforces a minimum role rank.
func requireRole(minRole model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
				return
			}
			if err := authz.RequireRole(claims, minRole); err != nil {
				writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON writes a JSON response with the standard envelope.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Data: data,
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// writeList writes a paginated list response.
func writeList(w http.ResponseWriter, r *http.Request, data any, total, limit, offset, count int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(model.ListResponse{
		Data:    data,
		Total:   &total,
		HasMore: offset+count < total,
		Limit:   limit,
		Offset:  offset,
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// writeError writes a JSON error response with the standard envelope.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{Code: code, Message: message},
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// decodeJSON decodes a JSON request body into target, enforcing the
// configured body size limit.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any, maxBytes int64) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

// handleDecodeError maps a decodeJSON failure to the right status code.
func handleDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodePayloadTooLarge, "request body too large")
		return
	}
	writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
}

func isNotFoundError(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// writeInternalError logs the underlying error and returns a generic 500.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}
