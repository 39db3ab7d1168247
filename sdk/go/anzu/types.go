package anzu

import (
	"time"

	"github.com/google/uuid"
)

// Role is a user's RBAC role within a tenant.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleOwner         Role = "owner"
	RoleAdmin         Role = "admin"
	RoleMember        Role = "member"
	RoleViewer        Role = "viewer"
)

// Tenant is the caller's organization. Limits of 0 mean unlimited.
type Tenant struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	Slug          string     `json:"slug"`
	Plan          string     `json:"plan"`
	Email         string     `json:"email,omitempty"`
	EmailVerified bool       `json:"email_verified"`
	MessageLimit  int        `json:"message_limit"`
	DocumentLimit int        `json:"document_limit"`
	UserLimit     int        `json:"user_limit"`
	SuspendedAt   *time.Time `json:"suspended_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// User is a member of the caller's tenant.
type User struct {
	ID        uuid.UUID      `json:"id"`
	UserID    string         `json:"user_id"`
	TenantID  uuid.UUID      `json:"tenant_id"`
	Name      string         `json:"name"`
	Role      Role           `json:"role"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	LastSeen  *time.Time     `json:"last_seen,omitempty"`
}

// CreateUserRequest is the request body for CreateUser.
type CreateUserRequest struct {
	UserID   string         `json:"user_id"`
	Name     string         `json:"name"`
	Role     Role           `json:"role"`
	APIKey   string         `json:"api_key"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UpdateUserRequest is the request body for UpdateUser. Nil fields are
// left unchanged.
type UpdateUserRequest struct {
	Name     *string        `json:"name,omitempty"`
	Role     *Role          `json:"role,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// APIKey is a managed API key. The raw secret is only visible in
// APIKeyWithRawKey at creation or rotation time.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	Prefix     string     `json:"prefix"`
	UserID     string     `json:"user_id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	Label      string     `json:"label"`
	CreatedBy  string     `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// APIKeyWithRawKey carries the raw key alongside the key record.
type APIKeyWithRawKey struct {
	APIKey
	RawKey string `json:"raw_key"`
}

// CreateKeyRequest is the request body for CreateKey.
type CreateKeyRequest struct {
	UserID    string  `json:"user_id"`
	Label     string  `json:"label"`
	ExpiresAt *string `json:"expires_at,omitempty"` // RFC3339
}

// RotateKeyResponse is the result of rotating an API key.
type RotateKeyResponse struct {
	NewKey       APIKeyWithRawKey `json:"new_key"`
	RevokedKeyID uuid.UUID        `json:"revoked_key_id"`
}

// Document is an uploaded knowledge base document. Status transitions
// pending → processing → ready (or failed, with Error set).
type Document struct {
	ID          uuid.UUID      `json:"id"`
	TenantID    uuid.UUID      `json:"tenant_id"`
	Name        string         `json:"name"`
	Collection  string         `json:"collection,omitempty"`
	ContentType string         `json:"content_type"`
	ContentHash string         `json:"content_hash"`
	SizeBytes   int64          `json:"size_bytes"`
	Status      string         `json:"status"`
	Error       *string        `json:"error,omitempty"`
	ChunkCount  int            `json:"chunk_count"`
	UploadedBy  string         `json:"uploaded_by"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// UploadDocumentRequest is the JSON (inline text) upload body. For file
// uploads use Client.UploadFile instead.
type UploadDocumentRequest struct {
	Name        string         `json:"name"`
	Collection  string         `json:"collection,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Conversation is a chat thread. Conversations are private to the user
// who started them.
type Conversation struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is a single turn in a conversation. Assistant messages carry
// the chunk citations that grounded the answer.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	Citations      []Citation `json:"citations,omitempty"`
	Model          string     `json:"model,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Citation points at a chunk that was retrieved for an assistant answer.
type Citation struct {
	ChunkID      uuid.UUID `json:"chunk_id"`
	DocumentID   uuid.UUID `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Score        float32   `json:"score"`
}

// ChatRequest is the request body for Chat. A nil ConversationID starts
// a new conversation.
type ChatRequest struct {
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	Message        string     `json:"message"`
	Collection     string     `json:"collection,omitempty"`
	TopK           int        `json:"top_k,omitempty"`
}

// ChatResponse is the grounded answer with its citations.
type ChatResponse struct {
	ConversationID uuid.UUID  `json:"conversation_id"`
	Message        Message    `json:"message"`
	Citations      []Citation `json:"citations"`
}

// ChunkMatch is one ranked result of a semantic search.
type ChunkMatch struct {
	ChunkID      uuid.UUID `json:"chunk_id"`
	DocumentID   uuid.UUID `json:"document_id"`
	DocumentName string    `json:"document_name"`
	ChunkIndex   int       `json:"chunk_index"`
	Content      string    `json:"content"`
	Score        float32   `json:"score"`
}

// SearchResponse is the result of a semantic search.
type SearchResponse struct {
	Query   string       `json:"query"`
	Results []ChunkMatch `json:"results"`
}

// ConversationDetail is a conversation plus a page of its messages.
type ConversationDetail struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
	MessageTotal int          `json:"message_total"`
}

// UsageResponse reports the tenant's current-period usage against plan
// limits. Limits of 0 mean unlimited.
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

// QueryCluster is one ranked topic from the query analytics job.
type QueryCluster struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Rank        int       `json:"rank"`
	Label       string    `json:"label"`
	Summary     string    `json:"summary,omitempty"`
	QueryCount  int       `json:"query_count"`
	Examples    []string  `json:"examples"`
	CreatedAt   time.Time `json:"created_at"`
}

// TopQueriesResponse is the most recent analytics window.
type TopQueriesResponse struct {
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	Clusters    []QueryCluster `json:"clusters"`
}

// UsagePoint is one day of activity counts.
type UsagePoint struct {
	Day          time.Time `json:"day"`
	MessageCount int       `json:"message_count"`
	QueryCount   int       `json:"query_count"`
}

// HealthResponse is the server's health status.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Postgres     string `json:"postgres"`
	Qdrant       string `json:"qdrant,omitempty"`
	BufferDepth  int    `json:"buffer_depth"`
	BufferStatus string `json:"buffer_status"`
	SSEBroker    string `json:"sse_broker,omitempty"`
	Uptime       int64  `json:"uptime_seconds"`
}

// Page holds the pagination fields returned by list endpoints.
type Page struct {
	Total   int
	HasMore bool
	Limit   int
	Offset  int
}

// ListOptions control pagination for list endpoints. Zero values use the
// server defaults.
type ListOptions struct {
	Limit  int
	Offset int
}
