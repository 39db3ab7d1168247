package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// MaxMessageLen bounds a single chat message. Oversized messages would
// blow the embedding request and the LLM context window.
const MaxMessageLen = 32 * 1024 // 32 KB

// Conversation groups an ordered exchange of messages for one tenant.
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
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	TenantID       uuid.UUID   `json:"tenant_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	Citations      []Citation  `json:"citations,omitempty"`
	Model          string      `json:"model,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Citation points at a chunk that was retrieved for an assistant answer.
type Citation struct {
	ChunkID      uuid.UUID `json:"chunk_id"`
	DocumentID   uuid.UUID `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Score        float32   `json:"score"`
}

// ChatRequest is the request body for POST /v1/chat.
type ChatRequest struct {
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	Message        string     `json:"message"`
	Collection     string     `json:"collection,omitempty"`
	TopK           int        `json:"top_k,omitempty"`
}

// ChatResponse is the response for POST /v1/chat.
type ChatResponse struct {
	ConversationID uuid.UUID  `json:"conversation_id"`
	Message        Message    `json:"message"`
	Citations      []Citation `json:"citations"`
}

// SearchRequest is the request body for POST /v1/search.
type SearchRequest struct {
	Query      string `json:"query"`
	Collection string `json:"collection,omitempty"`
	TopK       int    `json:"top_k,omitempty"`
}

// SearchResponse is the response for POST /v1/search.
type SearchResponse struct {
	Query   string       `json:"query"`
	Results []ChunkMatch `json:"results"`
}

// ConversationDetail is the response for GET /v1/conversations/{id}:
// the conversation plus a page of its messages.
type ConversationDetail struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
	MessageTotal int          `json:"message_total"`
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

// ValidateChatMessage checks a user message before it enters the
// retrieval and completion pipeline.
func ValidateChatMessage(msg string) error {
	if msg == "" {
		return fmt.Errorf("message is required")
	}
	if len(msg) > MaxMessageLen {
		return fmt.Errorf("message exceeds maximum length of %d bytes", MaxMessageLen)
	}
	return nil
}

// PagedResult wraps paginated query results.
type PagedResult[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
