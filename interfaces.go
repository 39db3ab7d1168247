package anzu

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// EmbeddingProvider generates vector embeddings from text.
// When provided via WithEmbeddingProvider, replaces auto-detected
// Ollama/OpenAI/noop. Uses []float32 (not pgvector.Vector) to avoid forcing
// the pgvector dependency on external consumers. App.New() wraps it in an
// adapter for internal use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// CompletionClient generates RAG answers and analytics cluster labels.
// When provided via WithCompletionClient, replaces auto-detected
// OpenAI/Ollama/noop.
type CompletionClient interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)

	// Model returns the model identifier recorded on generated messages.
	Model() string
}

// Searcher is a vector search index over a tenant's document chunks.
// When provided via WithSearcher, replaces the Qdrant or pgvector backend
// for retrieval and search. Returns chunk IDs + scores; the App hydrates
// full chunk content from Postgres.
type Searcher interface {
	Search(ctx context.Context, tenantID uuid.UUID, embedding []float32, collection string, limit int) ([]SearchResult, error)
	Healthy(ctx context.Context) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// External routes share the mux, auth chain, and OTEL instrumentation with
// built-in routes. The function is called once during New() after all
// built-in routes are registered, before the SPA catch-all.
type RouteRegistrar func(mux *http.ServeMux, auth AuthHelper)

// AuthHelper provides RBAC middleware for use in RouteRegistrar.
// It wraps the server's role middleware so external routes use the same
// auth chain without depending on internal/server directly.
type AuthHelper interface {
	RequireRole(role Role) func(http.Handler) http.Handler
}

// Middleware wraps the router inside the built-in chain, so request IDs,
// logging, and auth claims are already on the request context when it runs.
// It sees all requests including /health. Multiple middlewares are applied
// in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
