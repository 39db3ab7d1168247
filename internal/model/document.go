package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus tracks a document through the ingestion pipeline.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentReady      DocumentStatus = "ready"
	DocumentFailed     DocumentStatus = "failed"
)

// Field limits for uploaded documents. These bound the embedding
// pipeline cost and keep Postgres TEXT columns within reason.
const (
	MaxDocumentNameLen = 255
	MaxCollectionLen   = 64
)

// Document represents an uploaded file in a tenant's knowledge base.
// Content itself lives in chunks; the document row carries metadata
// and pipeline state.
type Document struct {
	ID          uuid.UUID      `json:"id"`
	TenantID    uuid.UUID      `json:"tenant_id"`
	Name        string         `json:"name"`
	Collection  string         `json:"collection,omitempty"`
	ContentType string         `json:"content_type"`
	ContentHash string         `json:"content_hash"`
	SizeBytes   int64          `json:"size_bytes"`
	Status      DocumentStatus `json:"status"`
	Error       *string        `json:"error,omitempty"`
	ChunkCount  int            `json:"chunk_count"`
	UploadedBy  string         `json:"uploaded_by"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Chunk is one embedded slice of a document. Embedding is stored as a
// pgvector column and mirrored into the external index via the outbox.
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	DocumentID uuid.UUID `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateDocumentRequest is the JSON request body for POST /v1/documents
// when the client sends raw text instead of a multipart upload.
type CreateDocumentRequest struct {
	Name        string         `json:"name"`
	Collection  string         `json:"collection,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// allowedContentTypes maps accepted upload MIME types to a canonical form.
var allowedContentTypes = map[string]string{
	"text/plain":       "text/plain",
	"text/markdown":    "text/markdown",
	"text/x-markdown":  "text/markdown",
	"text/html":        "text/html",
	"text/csv":         "text/csv",
	"application/json": "application/json",
}

// CanonicalContentType normalizes an upload Content-Type header and
// reports whether the pipeline can extract text from it. Parameters
// (charset etc.) are ignored.
func CanonicalContentType(ct string) (string, bool) {
	base := ct
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = base[:i]
	}
	base = strings.ToLower(strings.TrimSpace(base))
	if base == "" {
		return "text/plain", true
	}
	canonical, ok := allowedContentTypes[base]
	return canonical, ok
}

// ValidateDocumentName checks an uploaded document name.
func ValidateDocumentName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > MaxDocumentNameLen {
		return fmt.Errorf("name must be at most %d characters", MaxDocumentNameLen)
	}
	if strings.ContainsAny(name, "\x00\n\r") {
		return fmt.Errorf("name contains invalid characters")
	}
	return nil
}

// ValidateCollection checks a collection tag. Collections group
// documents within a tenant; an empty collection is the default bucket.
func ValidateCollection(c string) error {
	if c == "" {
		return nil
	}
	if len(c) > MaxCollectionLen {
		return fmt.Errorf("collection must be at most %d characters", MaxCollectionLen)
	}
	for i := 0; i < len(c); i++ {
		ch := c[i]
		if i == 0 {
			if ch < 'a' || ch > 'z' {
				return fmt.Errorf("collection must start with a lowercase letter, got %q", ch)
			}
			continue
		}
		if (ch < 'a' || ch > 'z') && (ch < '0' || ch > '9') && ch != '-' && ch != '_' {
			return fmt.Errorf("collection contains invalid character at position %d: %q", i, ch)
		}
	}
	return nil
}
