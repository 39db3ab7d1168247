// Package anzu is the public API for embedding the Anzu knowledge base server.
//
// Enterprise and plugin consumers import this package to construct and extend
// the server without forking it:
//
//	app, err := anzu.New(
//	    anzu.WithVersion(version),
//	    anzu.WithLogger(logger),
//	    anzu.WithEmbeddingProvider(myProvider),
//	    anzu.WithExtraRoutes(myRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: anzu (root) imports
// internal/*, but internal/* never imports anzu (root). Public types
// (SearchResult, ChatMessage, etc.) are standalone structs with no internal
// imports; conversion adapters live here because this is the only file that
// sees both sides of the boundary.
package anzu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"
	"github.com/redis/go-redis/v9"

	"github.com/anzu-ai/anzu/api"
	"github.com/anzu-ai/anzu/internal/analytics"
	"github.com/anzu-ai/anzu/internal/auth"
	"github.com/anzu-ai/anzu/internal/authz"
	"github.com/anzu-ai/anzu/internal/billing"
	"github.com/anzu-ai/anzu/internal/config"
	"github.com/anzu-ai/anzu/internal/ingest"
	"github.com/anzu-ai/anzu/internal/mcp"
	"github.com/anzu-ai/anzu/internal/model"
	"github.com/anzu-ai/anzu/internal/querylog"
	"github.com/anzu-ai/anzu/internal/ratelimit"
	"github.com/anzu-ai/anzu/internal/search"
	"github.com/anzu-ai/anzu/internal/server"
	"github.com/anzu-ai/anzu/internal/service/chat"
	"github.com/anzu-ai/anzu/internal/service/completion"
	"github.com/anzu-ai/anzu/internal/service/embedding"
	"github.com/anzu-ai/anzu/internal/signup"
	"github.com/anzu-ai/anzu/internal/storage"
	"github.com/anzu-ai/anzu/internal/telemetry"
	"github.com/anzu-ai/anzu/migrations"
	"github.com/anzu-ai/anzu/ui"
)

// Outbox sync cadence for the Qdrant index. Not configurable: two seconds
// keeps index lag well under typical ingestion latency without hammering
// Postgres with poll queries.
const (
	outboxPollInterval = 2 * time.Second
	outboxBatchSize    = 128
)

// Shutdown phase budgets. The caller's ctx deadline still applies on top.
const (
	shutdownHTTPTimeout  = 15 * time.Second
	shutdownDrainTimeout = 10 * time.Second
)

// In-process token bucket for unauthenticated /auth/* endpoints, keyed by IP.
const (
	authRatePerSecond = 1.0
	authBurst         = 10
)

// App is the Anzu server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	ingestSvc    *ingest.Service
	queryBuf     *querylog.Buffer
	analyticsJob *analytics.Job
	outbox       *search.OutboxWorker
	qdrantIndex  *search.QdrantIndex // nil when Qdrant is not configured
	memberships  *authz.MembershipCache
	broker       *server.Broker // nil when no notify connection
	redisClient  *redis.Client  // nil when Redis is not configured
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Anzu server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("anzu starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	// Run embedded migrations, then any extra migration filesystems.
	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	// Verify critical tables exist after migration.
	var schemaOK bool
	if err := db.Pool().QueryRow(context.Background(),
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'tenants')`,
	).Scan(&schemaOK); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("schema verification: %w", err)
	}
	if !schemaOK {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("critical table 'tenants' does not exist after migration — check that the pgvector extension is created (see docker/init.sql)")
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Create embedding provider — external override takes priority over auto-detect.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = &embedderAdapter{p: o.embeddingProvider}
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	// Create chat completion client — external override takes priority.
	var completer completion.Client
	if o.completionClient != nil {
		completer = &completerAdapter{c: o.completionClient}
	} else {
		completer = newCompletionClient(cfg, logger)
	}

	// Initialize the search backend. Qdrant when configured, pgvector otherwise.
	var searcher search.Searcher
	var qdrantIndex *search.QdrantIndex
	var outboxWorker *search.OutboxWorker
	if cfg.QdrantURL != "" {
		var idxErr error
		qdrantIndex, idxErr = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if idxErr != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant: %w", idxErr)
		}
		if err := qdrantIndex.EnsureCollection(context.Background()); err != nil {
			_ = qdrantIndex.Close()
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		searcher = search.NewQdrantSearcher(qdrantIndex, db, logger)
		outboxWorker = search.NewOutboxWorker(db, qdrantIndex, logger, outboxPollInterval, outboxBatchSize)
		logger.Info("search backend: qdrant", "collection", cfg.QdrantCollection)
	} else {
		searcher = search.NewPgSearcher(db)
		logger.Info("search backend: pgvector (no ANZU_QDRANT_URL)")
	}

	// External Searcher override (replaces the backend for retrieval and search).
	if o.searcher != nil {
		searcher = &searcherAdapter{s: o.searcher, db: db}
	}

	// Query log buffer (chat/search analytics rows).
	queryBuf := querylog.NewBuffer(db, logger, cfg.QueryLogBufferSize, cfg.QueryLogFlushEvery)

	// Stripe billing. Disabled mode (no secret key) still enforces plan quotas.
	billingSvc, err := billing.New(db, billing.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		PriceIDPro:    cfg.StripePriceIDPro,
	}, logger)
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("billing: %w", err)
	}

	// RAG chat service.
	chatSvc := chat.New(db, embedder, searcher, completer, billingSvc, queryBuf, logger)

	// Document ingestion pipeline.
	ingestSvc := ingest.New(db, embedder, ingest.Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Workers:      cfg.IngestWorkers,
		BatchSize:    cfg.EmbedBatchSize,
	}, logger)

	// Query analytics aggregation job.
	analyticsJob := analytics.NewJob(db, embedder, completer, logger, cfg.AnalyticsInterval)

	// Membership cache (auth middleware).
	memberships := authz.NewMembershipCache(30 * time.Second)

	// Self-serve signup with email verification.
	signupSvc := signup.New(db, signup.Config{
		SMTPHost: cfg.SMTPHost,
		SMTPPort: cfg.SMTPPort,
		SMTPUser: cfg.SMTPUser,
		SMTPPass: cfg.SMTPPassword,
		SMTPFrom: cfg.SMTPFrom,
		BaseURL:  cfg.BaseURL,
	}, logger)

	// MCP server.
	mcpSrv := mcp.New(db, chatSvc, logger, version)

	// SSE broker.
	var broker *server.Broker
	if db.NotifyConn() != nil {
		broker = server.NewBroker(db, logger)
	} else {
		logger.Info("SSE broker: disabled (no notify connection)")
	}

	// Rate limiters: Redis fixed-window for authenticated routes when
	// configured, plus an in-process IP bucket for /auth/* either way.
	var limiter *ratelimit.Limiter
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("redis: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)
		limiter = ratelimit.New(redisClient, logger)
		logger.Info("rate limiting: redis fixed-window")
	} else {
		logger.Info("rate limiting: disabled (no ANZU_REDIS_URL)")
	}
	authLimiter := ratelimit.NewMemoryLimiter(authRatePerSecond, authBurst)

	// UI filesystem.
	uiFS, err := ui.DistFS()
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("ui: %w", err)
	}
	if uiFS != nil {
		logger.Info("ui: embedded SPA loaded")
	}

	// Adapt route registrars from public anzu.RouteRegistrar to internal server format.
	var extraRoutes []func(*http.ServeMux, server.RoleMiddlewareFn)
	for _, fn := range o.routeRegistrars {
		fn := fn // capture
		extraRoutes = append(extraRoutes, func(mux *http.ServeMux, roleFn server.RoleMiddlewareFn) {
			fn(mux, &authHelperImpl{roleFn: roleFn})
		})
	}

	// Adapt middlewares from anzu.Middleware to func(http.Handler) http.Handler.
	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		mw := mw // capture
		middlewares = append(middlewares, func(h http.Handler) http.Handler { return mw(h) })
	}

	// Create HTTP server.
	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		ChatSvc:             chatSvc,
		Ingest:              ingestSvc,
		QueryLog:            queryBuf,
		Logger:              logger,
		BillingSvc:          billingSvc,
		Limiter:             limiter,
		AuthLimiter:         authLimiter,
		Broker:              broker,
		SignupSvc:           signupSvc,
		Searcher:            searcher,
		Memberships:         memberships,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxUploadBytes:      cfg.MaxUploadBytes,
		UIFS:                uiFS,
		OpenAPISpec:         api.OpenAPISpec,
		ExtraRoutes:         extraRoutes,
		Middlewares:         middlewares,
	})

	// Seed the platform admin user and API key.
	if err := srv.Handlers().SeedAdmin(context.Background(), cfg.AdminAPIKey); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("admin seed: %w", err)
	}

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		ingestSvc:    ingestSvc,
		queryBuf:     queryBuf,
		analyticsJob: analyticsJob,
		outbox:       outboxWorker,
		qdrantIndex:  qdrantIndex,
		memberships:  memberships,
		broker:       broker,
		redisClient:  redisClient,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts all background goroutines and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	// Documents left pending or processing by a previous crash are failed
	// now so clients see a terminal status instead of a stuck spinner.
	if err := a.ingestSvc.RecoverStuck(ctx); err != nil {
		a.logger.Warn("stuck document recovery failed", "error", err)
	}

	// Embed chunks ingested while no embedding provider was available.
	if n, err := a.ingestSvc.BackfillEmbeddings(ctx); err != nil {
		a.logger.Warn("embedding backfill failed", "error", err)
	} else if n > 0 {
		a.logger.Info("embedding backfill complete", "chunks", n)
	}

	// Start background services.
	a.queryBuf.Start(ctx)
	a.analyticsJob.Start(ctx)
	if a.outbox != nil {
		a.outbox.Start(ctx)
	}
	if a.broker != nil {
		go a.broker.Start(ctx)
	}

	// Ingestion worker pool.
	go func() {
		if err := a.ingestSvc.Run(ctx); err != nil {
			a.logger.Error("ingest workers stopped", "error", err)
		}
	}()

	// Start HTTP server.
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Block until signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a graceful shutdown:
// (1) stop accepting HTTP requests and drain in-flight,
// (2) flush the query log buffer to Postgres,
// (3) let the analytics job finish any in-progress aggregation,
// (4) drain remaining outbox entries to Qdrant.
// It then closes the caches, database pool, and OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("anzu shutting down")

	// Phase 1: HTTP drain.
	httpCtx, httpCancel := contextWithOptionalTimeout(ctx, shutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	// Phase 2: query log drain. Unflushed rows only cost analytics accuracy,
	// so a timeout here is logged rather than returned.
	bufCtx, bufCancel := contextWithOptionalTimeout(ctx, shutdownDrainTimeout)
	a.queryBuf.Drain(bufCtx)
	if n := a.queryBuf.Len(); n > 0 {
		a.logger.Warn("query log drain incomplete", "remaining_rows", n)
	}
	bufCancel()

	// Phase 3: analytics drain.
	jobCtx, jobCancel := contextWithOptionalTimeout(ctx, shutdownDrainTimeout)
	a.analyticsJob.Drain(jobCtx)
	jobCancel()

	// Phase 4: outbox drain.
	if a.outbox != nil {
		outboxCtx, outboxCancel := contextWithOptionalTimeout(ctx, shutdownDrainTimeout)
		a.outbox.Drain(outboxCtx)
		outboxCancel()
	}

	// Cleanup.
	a.memberships.Close()
	if a.qdrantIndex != nil {
		_ = a.qdrantIndex.Close()
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("anzu stopped")
	return nil
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// embedderAdapter wraps an anzu.EmbeddingProvider to satisfy embedding.Provider.
// Converts []float32 to pgvector.Vector at the boundary.
type embedderAdapter struct {
	p EmbeddingProvider
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	v, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(v), nil
}

func (a *embedderAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vs, err := a.p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]pgvector.Vector, len(vs))
	for i, v := range vs {
		out[i] = pgvector.NewVector(v)
	}
	return out, nil
}

func (a *embedderAdapter) Dimensions() int {
	return a.p.Dimensions()
}

// completerAdapter wraps an anzu.CompletionClient to satisfy completion.Client.
type completerAdapter struct {
	c CompletionClient
}

func (a *completerAdapter) Complete(ctx context.Context, messages []completion.Message) (string, error) {
	msgs := make([]ChatMessage, len(messages))
	for i, m := range messages {
		msgs[i] = ChatMessage{Role: m.Role, Content: m.Content}
	}
	return a.c.Complete(ctx, msgs)
}

func (a *completerAdapter) Model() string {
	return a.c.Model()
}

// searcherAdapter wraps an anzu.Searcher to satisfy search.Searcher.
// The external index returns chunk IDs + scores; chunk content and document
// names are hydrated from Postgres, which stays the source of truth.
type searcherAdapter struct {
	s  Searcher
	db *storage.DB
}

func (a *searcherAdapter) Search(ctx context.Context, tenantID uuid.UUID, emb []float32, collection string, limit int) ([]model.ChunkMatch, error) {
	results, err := a.s.Search(ctx, tenantID, emb, collection, limit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	hydrated, err := a.db.GetChunkMatchesByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}

	matches := make([]model.ChunkMatch, 0, len(results))
	for _, r := range results {
		m, ok := hydrated[r.ChunkID]
		if !ok {
			continue // chunk deleted since the index query
		}
		m.Score = r.Score
		matches = append(matches, m)
	}
	return matches, nil
}

func (a *searcherAdapter) Healthy(ctx context.Context) error {
	return a.s.Healthy(ctx)
}

// authHelperImpl implements anzu.AuthHelper using an internal server.RoleMiddlewareFn.
// Constructed in the route registrar adapter closure; bridges the public interface
// to the internal RBAC middleware without importing server from external code.
type authHelperImpl struct {
	roleFn server.RoleMiddlewareFn
}

func (a *authHelperImpl) RequireRole(role Role) func(http.Handler) http.Handler {
	return a.roleFn(model.UserRole(role))
}

// ── Provider auto-detection (used when no option override is given) ────────────

func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when ANZU_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaEmbedModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaEmbedModel, dims)
	case "noop":
		logger.Info("embedding provider: noop (semantic retrieval disabled)")
		return embedding.NewNoopProvider(dims)
	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaEmbedModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaEmbedModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		}
		logger.Warn("no embedding provider available, using noop (semantic retrieval disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

func newCompletionClient(cfg config.Config, logger *slog.Logger) completion.Client {
	switch cfg.ChatProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when ANZU_CHAT_PROVIDER=openai")
			return completion.NoopClient{}
		}
		logger.Info("chat provider: openai", "model", cfg.ChatModel)
		return completion.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.ChatModel)
	case "ollama":
		logger.Info("chat provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaChat)
		return completion.NewOllamaClient(cfg.OllamaURL, cfg.OllamaChat)
	case "noop":
		logger.Info("chat provider: noop (canned answers)")
		return completion.NoopClient{}
	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("chat provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaChat)
			return completion.NewOllamaClient(cfg.OllamaURL, cfg.OllamaChat)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("chat provider: openai (auto-detected)", "model", cfg.ChatModel)
			return completion.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.ChatModel)
		}
		logger.Warn("no chat provider available, using noop (canned answers)")
		return completion.NoopClient{}
	}
}

func ollamaReachable(baseURL string) bool {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(c, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
