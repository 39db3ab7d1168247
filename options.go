package anzu

import (
	"io/fs"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port              int
	databaseURL       string
	notifyURL         string
	logger            *slog.Logger
	version           string
	embeddingProvider EmbeddingProvider
	completionClient  CompletionClient
	searcher          Searcher
	routeRegistrars   []RouteRegistrar
	middlewares       []Middleware
	extraMigrations   []fs.FS
}

// WithPort overrides the TCP port from config (ANZU_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithNotifyURL overrides the direct Postgres URL used for LISTEN/NOTIFY (NOTIFY_URL env var).
// Set this when using a connection pooler (e.g. PgBouncer) for queries — LISTEN/NOTIFY
// requires a direct (non-pooled) connection.
func WithNotifyURL(url string) Option {
	return func(o *resolvedOptions) { o.notifyURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithEmbeddingProvider replaces the auto-detected embedding provider (Ollama/OpenAI/noop).
// The same provider embeds uploaded chunks, chat queries, and analytics clusters,
// so swapping it mid-deployment invalidates existing embeddings.
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithCompletionClient replaces the auto-detected chat completion client (OpenAI/Ollama/noop)
// used for RAG answers and analytics cluster labels.
func WithCompletionClient(c CompletionClient) Option {
	return func(o *resolvedOptions) { o.completionClient = c }
}

// WithSearcher replaces the configured vector search backend (Qdrant or pgvector).
// Ingestion still writes chunks and embeddings to Postgres; this override only
// applies to retrieval (POST /v1/chat, POST /v1/search, MCP tools).
func WithSearcher(s Searcher) Option {
	return func(o *resolvedOptions) { o.searcher = s }
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Multiple registrars may be registered; all are called in registration order.
func WithExtraRoutes(fn RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrars = append(o.routeRegistrars, fn) }
}

// WithMiddleware registers an HTTP middleware around the router.
// Multiple middlewares may be registered. Applied in registration order:
// the first-registered middleware is outermost (called first by every request).
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run after
// the embedded migrations. Multiple filesystems may be registered; they are
// applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
