// Package chat implements the retrieval-augmented chat pipeline.
//
// Both the HTTP API and MCP server delegate to this service, ensuring
// consistent behavior (quota enforcement, retrieval, completion, citation
// tracking, query logging) across all interfaces.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/anzu-ai/anzu/internal/billing"
	"github.com/anzu-ai/anzu/internal/model"
	"github.com/anzu-ai/anzu/internal/querylog"
	"github.com/anzu-ai/anzu/internal/search"
	"github.com/anzu-ai/anzu/internal/service/completion"
	"github.com/anzu-ai/anzu/internal/service/embedding"
	"github.com/anzu-ai/anzu/internal/storage"
	"github.com/anzu-ai/anzu/internal/telemetry"
)

const (
	defaultTopK = 5
	maxTopK     = 20

	// historyMessages bounds how many prior turns are replayed to the
	// completion model. Oldest turns fall out of the context first.
	historyMessages = 10
)

// Service encapsulates the chat and search business logic shared by HTTP
// and MCP handlers.
type Service struct {
	db         *storage.DB
	embedder   embedding.Provider
	searcher   search.Searcher
	completer  completion.Client
	billingSvc *billing.Service
	queryLog   *querylog.Buffer
	logger     *slog.Logger

	embeddingDuration  metric.Float64Histogram
	searchDuration     metric.Float64Histogram
	completionDuration metric.Float64Histogram
}

// New creates a new chat Service. queryLog may be nil to disable query
// logging (analytics aggregation will see no data).
func New(db *storage.DB, embedder embedding.Provider, searcher search.Searcher, completer completion.Client, billingSvc *billing.Service, queryLog *querylog.Buffer, logger *slog.Logger) *Service {
	meter := telemetry.Meter("anzu/chat")
	embDur, _ := meter.Float64Histogram("anzu.embedding.duration",
		metric.WithDescription("Time to generate embeddings (ms)"),
		metric.WithUnit("ms"),
	)
	searchDur, _ := meter.Float64Histogram("anzu.search.duration",
		metric.WithDescription("Time to execute retrieval queries (ms)"),
		metric.WithUnit("ms"),
	)
	complDur, _ := meter.Float64Histogram("anzu.completion.duration",
		metric.WithDescription("Time to generate chat completions (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{
		db:                 db,
		embedder:           embedder,
		searcher:           searcher,
		completer:          completer,
		billingSvc:         billingSvc,
		queryLog:           queryLog,
		logger:             logger,
		embeddingDuration:  embDur,
		searchDuration:     searchDur,
		completionDuration: complDur,
	}
}

// Chat runs one conversational turn: validate, enforce quota, retrieve
// context, generate a grounded answer, and persist both messages with
// citations. The returned response carries the assistant message.
func (s *Service) Chat(ctx context.Context, tenant model.Tenant, userID string, req model.ChatRequest) (model.ChatResponse, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("anzu.tenant_id", tenant.ID.String()),
		attribute.Bool("anzu.new_conversation", req.ConversationID == nil),
	)

	if err := model.ValidateChatMessage(req.Message); err != nil {
		return model.ChatResponse{}, err
	}

	// Early quota check saves the completion call when the tenant is
	// already over; the authoritative check runs atomically with the
	// message write below.
	if s.billingSvc != nil {
		if err := s.billingSvc.CheckMessageQuota(ctx, tenant); err != nil {
			return model.ChatResponse{}, err
		}
	}

	conv, err := s.resolveConversation(ctx, tenant.ID, userID, req.ConversationID)
	if err != nil {
		return model.ChatResponse{}, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	// Retrieval is best-effort: an unreachable embedding provider or search
	// backend degrades to an ungrounded answer instead of failing the turn.
	matches, queryEmb := s.retrieve(ctx, tenant.ID, req.Message, req.Collection, topK)

	history, err := s.db.RecentMessages(ctx, tenant.ID, conv.ID, historyMessages)
	if err != nil {
		return model.ChatResponse{}, fmt.Errorf("chat: load history: %w", err)
	}

	msgs := buildPrompt(matches, history, req.Message)

	complStart := time.Now()
	answer, err := s.completer.Complete(ctx, msgs)
	s.completionDuration.Record(ctx, float64(time.Since(complStart).Milliseconds()))
	if err != nil {
		return model.ChatResponse{}, fmt.Errorf("chat: completion: %w", err)
	}

	citations := make([]model.Citation, 0, len(matches))
	for _, m := range matches {
		citations = append(citations, model.Citation{
			ChunkID:      m.ChunkID,
			DocumentID:   m.DocumentID,
			DocumentName: m.DocumentName,
			Score:        m.Score,
		})
	}

	userMsg := model.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		TenantID:       tenant.ID,
		Role:           model.MessageRoleUser,
		Content:        req.Message,
	}
	assistantMsg := model.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		TenantID:       tenant.ID,
		Role:           model.MessageRoleAssistant,
		Content:        answer,
		Citations:      citations,
		Model:          s.completer.Model(),
	}
	// The messages and the usage increment commit together; if the turn
	// lands past the limit the insert rolls back, so concurrent turns
	// cannot sneak past the quota check above.
	err = s.db.AppendMessages(ctx, conv, []model.Message{userMsg, assistantMsg}, billing.CurrentPeriod(), tenant.MessageLimit)
	if err != nil {
		if errors.Is(err, storage.ErrQuotaExceeded) {
			return model.ChatResponse{}, fmt.Errorf("%w: %d messages this period", billing.ErrQuotaExceeded, tenant.MessageLimit)
		}
		return model.ChatResponse{}, fmt.Errorf("chat: persist messages: %w", err)
	}

	s.logQuery(tenant.ID, userID, model.QuerySourceChat, req.Message, &conv.ID, len(matches), queryEmb)

	return model.ChatResponse{
		ConversationID: conv.ID,
		Message:        assistantMsg,
		Citations:      citations,
	}, nil
}

// Search performs a standalone semantic search without generating a completion.
func (s *Service) Search(ctx context.Context, tenant model.Tenant, userID string, req model.SearchRequest) ([]model.ChunkMatch, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if len(req.Query) > model.MaxMessageLen {
		return nil, fmt.Errorf("query exceeds maximum length of %d bytes", model.MaxMessageLen)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	embStart := time.Now()
	queryEmb, err := s.embedder.Embed(ctx, req.Query)
	s.embeddingDuration.Record(ctx, float64(time.Since(embStart).Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	if err := s.validateEmbeddingDims(queryEmb); err != nil {
		return nil, fmt.Errorf("search: %w (check ANZU_EMBEDDING_DIMENSIONS config)", err)
	}

	searchStart := time.Now()
	matches, err := s.searcher.Search(ctx, tenant.ID, queryEmb.Slice(), req.Collection, topK)
	s.searchDuration.Record(ctx, float64(time.Since(searchStart).Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	s.logQuery(tenant.ID, userID, model.QuerySourceSearch, req.Query, nil, len(matches), &queryEmb)

	return matches, nil
}

// resolveConversation loads an existing conversation (verifying ownership)
// or starts a new one.
func (s *Service) resolveConversation(ctx context.Context, tenantID uuid.UUID, userID string, id *uuid.UUID) (model.Conversation, error) {
	if id == nil {
		conv, err := s.db.CreateConversation(ctx, model.Conversation{
			TenantID: tenantID,
			UserID:   userID,
		})
		if err != nil {
			return model.Conversation{}, fmt.Errorf("chat: create conversation: %w", err)
		}
		return conv, nil
	}

	conv, err := s.db.GetConversation(ctx, tenantID, *id)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("chat: %w", err)
	}
	// Conversations are private to their owner even within a tenant.
	if conv.UserID != userID {
		return model.Conversation{}, fmt.Errorf("chat: conversation %s: %w", *id, storage.ErrNotFound)
	}
	return conv, nil
}

// retrieve embeds the query and searches the tenant's chunks. Failures are
// logged and yield no matches; the chat turn continues ungrounded.
func (s *Service) retrieve(ctx context.Context, tenantID uuid.UUID, query, collection string, topK int) ([]model.ChunkMatch, *pgvector.Vector) {
	if s.searcher == nil {
		return nil, nil
	}
	if err := s.searcher.Healthy(ctx); err != nil {
		s.logger.Warn("chat: search backend unhealthy, answering without context", "error", err)
		return nil, nil
	}

	embStart := time.Now()
	queryEmb, err := s.embedder.Embed(ctx, query)
	s.embeddingDuration.Record(ctx, float64(time.Since(embStart).Milliseconds()))
	if err != nil {
		s.logger.Warn("chat: query embedding failed, answering without context", "error", err)
		return nil, nil
	}
	if isZeroVector(queryEmb) {
		// Noop provider: no retrieval possible.
		return nil, nil
	}
	if err := s.validateEmbeddingDims(queryEmb); err != nil {
		s.logger.Warn("chat: embedding dimension mismatch, answering without context", "error", err)
		return nil, nil
	}

	searchStart := time.Now()
	matches, err := s.searcher.Search(ctx, tenantID, queryEmb.Slice(), collection, topK)
	s.searchDuration.Record(ctx, float64(time.Since(searchStart).Milliseconds()))
	if err != nil {
		s.logger.Warn("chat: retrieval failed, answering without context", "error", err)
		return nil, &queryEmb
	}
	return matches, &queryEmb
}

// logQuery records the query for the analytics aggregation job (non-blocking).
func (s *Service) logQuery(tenantID uuid.UUID, userID string, source model.QuerySource, query string, conversationID *uuid.UUID, resultCount int, emb *pgvector.Vector) {
	if s.queryLog == nil {
		return
	}
	rec := storage.QueryLogRecord{
		QueryLog: model.QueryLog{
			TenantID:       tenantID,
			UserID:         userID,
			Source:         source,
			Query:          query,
			ConversationID: conversationID,
			ResultCount:    resultCount,
		},
	}
	if emb != nil && !isZeroVector(*emb) {
		rec.Embedding = emb
	}
	if err := s.queryLog.Record(rec); err != nil {
		s.logger.Warn("chat: query log row dropped", "error", err, "tenant_id", tenantID)
	}
}

// systemPrompt is the base instruction for grounded answers.
const systemPrompt = `You are a helpful assistant that answers questions using the provided knowledge base excerpts. Base your answers on the excerpts when they are relevant. If the excerpts do not contain the answer, say so rather than guessing.`

// buildPrompt assembles the completion request: system instruction with
// retrieved context, recent conversation history, then the new user message.
func buildPrompt(matches []model.ChunkMatch, history []model.Message, userMessage string) []completion.Message {
	var sys strings.Builder
	sys.WriteString(systemPrompt)
	if len(matches) > 0 {
		sys.WriteString("\n\nKnowledge base excerpts:\n")
		for i, m := range matches {
			fmt.Fprintf(&sys, "\n[%d] %s\n%s\n", i+1, m.DocumentName, m.Content)
		}
	}

	msgs := make([]completion.Message, 0, len(history)+2)
	msgs = append(msgs, completion.Message{Role: "system", Content: sys.String()})
	for _, h := range history {
		msgs = append(msgs, completion.Message{Role: string(h.Role), Content: h.Content})
	}
	msgs = append(msgs, completion.Message{Role: "user", Content: userMessage})
	return msgs
}

// validateEmbeddingDims checks that the vector has the expected number of dimensions.
func (s *Service) validateEmbeddingDims(v pgvector.Vector) error {
	expected := s.embedder.Dimensions()
	got := len(v.Slice())
	if got != expected {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", got, expected)
	}
	return nil
}

// isZeroVector returns true if all elements of the vector are zero (noop provider).
func isZeroVector(v pgvector.Vector) bool {
	for _, val := range v.Slice() {
		if val != 0 {
			return false
		}
	}
	return true
}
