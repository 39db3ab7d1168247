// Package search provides vector search over document chunks, backed by
// either pgvector in Postgres (the default) or an external Qdrant index.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/anzu-ai/anzu/internal/model"
	"github.com/anzu-ai/anzu/internal/storage"
)

// Result holds a chunk ID and its raw similarity score from the search index.
// The caller hydrates full chunk content from Postgres (source of truth).
type Result struct {
	ChunkID uuid.UUID
	Score   float32
}

// Searcher answers semantic queries over a tenant's indexed chunks.
// Implementations must be safe for concurrent use.
type Searcher interface {
	// Search returns the top chunks for the query embedding, always scoped
	// to the tenant. collection, when non-empty, restricts results to one
	// knowledge base collection.
	Search(ctx context.Context, tenantID uuid.UUID, embedding []float32, collection string, limit int) ([]model.ChunkMatch, error)

	// Healthy returns nil if the search backend is reachable.
	Healthy(ctx context.Context) error
}

// PgSearcher implements Searcher directly on Postgres using pgvector.
// It is the default backend: chunks and their embeddings already live in
// Postgres, so no sync pipeline is involved.
type PgSearcher struct {
	db *storage.DB
}

// NewPgSearcher creates a Searcher backed by the chunks table.
func NewPgSearcher(db *storage.DB) *PgSearcher {
	return &PgSearcher{db: db}
}

func (s *PgSearcher) Search(ctx context.Context, tenantID uuid.UUID, embedding []float32, collection string, limit int) ([]model.ChunkMatch, error) {
	return s.db.SearchChunksByEmbedding(ctx, tenantID, pgvector.NewVector(embedding), collection, limit)
}

func (s *PgSearcher) Healthy(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// QdrantSearcher implements Searcher on an external Qdrant index, hydrating
// chunk content from Postgres. Postgres stays the source of truth: a chunk
// deleted between the index query and hydration simply drops out of the
// result set.
type QdrantSearcher struct {
	index  *QdrantIndex
	db     *storage.DB
	logger *slog.Logger
}

// NewQdrantSearcher creates a Searcher that queries Qdrant and hydrates from Postgres.
func NewQdrantSearcher(index *QdrantIndex, db *storage.DB, logger *slog.Logger) *QdrantSearcher {
	return &QdrantSearcher{index: index, db: db, logger: logger}
}

func (s *QdrantSearcher) Search(ctx context.Context, tenantID uuid.UUID, embedding []float32, collection string, limit int) ([]model.ChunkMatch, error) {
	results, err := s.index.Query(ctx, tenantID, embedding, collection, limit)
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
	matches, err := s.db.GetChunkMatchesByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("search: hydrate chunks: %w", err)
	}

	hydrated := make([]model.ChunkMatch, 0, len(results))
	for _, r := range results {
		m, ok := matches[r.ChunkID]
		if !ok {
			// Chunk was deleted between the Qdrant query and hydration.
			continue
		}
		m.Score = r.Score
		hydrated = append(hydrated, m)
		if len(hydrated) == limit {
			break
		}
	}
	return hydrated, nil
}

func (s *QdrantSearcher) Healthy(ctx context.Context) error {
	return s.index.Healthy(ctx)
}

// MergeRanked merges result lists that are each sorted by descending score,
// dropping duplicate chunk IDs, and truncates to limit. Used when a query
// spans collections that were searched separately.
func MergeRanked(limit int, lists ...[]model.ChunkMatch) []model.ChunkMatch {
	var merged []model.ChunkMatch
	seen := make(map[uuid.UUID]struct{})
	for _, list := range lists {
		for _, m := range list {
			if _, dup := seen[m.ChunkID]; dup {
				continue
			}
			seen[m.ChunkID] = struct{}{}
			merged = append(merged, m)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
