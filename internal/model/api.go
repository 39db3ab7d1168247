package model

import (
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   *int         `json:"total,omitempty"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeQuotaExceeded   = "QUOTA_EXCEEDED"
	ErrCodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	ErrCodeInternalError   = "INTERNAL_ERROR"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeUnavailable     = "UNAVAILABLE"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	UserID string `json:"user_id"`
	APIKey string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateUserRequest is the request body for POST /v1/users.
type CreateUserRequest struct {
	UserID   string         `json:"user_id"`
	Name     string         `json:"name"`
	Role     UserRole       `json:"role"`
	APIKey   string         `json:"api_key"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UpdateUserRequest is the request body for PATCH /v1/users/{user_id}.
type UpdateUserRequest struct {
	Name     *string        `json:"name,omitempty"`
	Role     *UserRole      `json:"role,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UpdateTenantRequest is the request body for PATCH /v1/tenant.
type UpdateTenantRequest struct {
	Name *string `json:"name,omitempty"`
}

// UsageResponse is the response for GET /v1/usage.
// Limits of 0 mean unlimited.
type UsageResponse struct {
	Period        string `json:"period"`
	MessageCount  int    `json:"message_count"`
	MessageLimit  int    `json:"message_limit"`
	DocumentCount int    `json:"document_count"`
	DocumentLimit int    `json:"document_limit"`
	UserCount     int    `json:"user_count"`
	UserLimit     int    `json:"user_limit"`
	Plan          string `json:"plan"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Postgres     string `json:"postgres"`
	Qdrant       string `json:"qdrant,omitempty"`
	BufferDepth  int    `json:"buffer_depth"`
	BufferStatus string `json:"buffer_status"` // "ok", "high", "critical"
	SSEBroker    string `json:"sse_broker,omitempty"`
	Uptime       int64  `json:"uptime_seconds"`
}
