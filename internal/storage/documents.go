package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/anzu-ai/anzu/internal/model"
)

const documentColumns = `id, tenant_id, name, collection, content_type, content_hash, size_bytes,
	 status, error, chunk_count, uploaded_by, metadata, created_at, updated_at`

func scanDocument(row pgx.Row) (model.Document, error) {
	var d model.Document
	err := row.Scan(
		&d.ID, &d.TenantID, &d.Name, &d.Collection, &d.ContentType, &d.ContentHash, &d.SizeBytes,
		&d.Status, &d.Error, &d.ChunkCount, &d.UploadedBy, &d.Metadata, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

// ChunkRecord is a chunk row with its embedding, used for bulk insert and
// for mirroring into the external search index.
type ChunkRecord struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	DocumentID uuid.UUID
	Collection string
	ChunkIndex int
	Content    string
	TokenCount int
	Embedding  *pgvector.Vector
}

// CreateDocument inserts a new document row in pending state.
func (db *DB) CreateDocument(ctx context.Context, d model.Document) (model.Document, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = model.DocumentPending
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO documents (id, tenant_id, name, collection, content_type, content_hash, size_bytes,
		 status, error, chunk_count, uploaded_by, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		d.ID, d.TenantID, d.Name, d.Collection, d.ContentType, d.ContentHash, d.SizeBytes,
		string(d.Status), d.Error, d.ChunkCount, d.UploadedBy, d.Metadata, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return model.Document{}, fmt.Errorf("storage: create document: %w", err)
	}
	return d, nil
}

// GetDocument retrieves a document by ID, scoped to a tenant.
func (db *DB) GetDocument(ctx context.Context, tenantID, id uuid.UUID) (model.Document, error) {
	d, err := scanDocument(db.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Document{}, fmt.Errorf("storage: document %s: %w", id, ErrNotFound)
		}
		return model.Document{}, fmt.Errorf("storage: get document: %w", err)
	}
	return d, nil
}

// GetDocumentByHash retrieves a document by its content hash within a tenant.
// Used for upload dedup: the same bytes uploaded twice return the same document.
func (db *DB) GetDocumentByHash(ctx context.Context, tenantID uuid.UUID, contentHash string) (model.Document, error) {
	d, err := scanDocument(db.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 AND content_hash = $2`,
		tenantID, contentHash,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Document{}, ErrNotFound
		}
		return model.Document{}, fmt.Errorf("storage: get document by hash: %w", err)
	}
	return d, nil
}

// ListDocuments returns documents in a tenant, newest first, optionally
// filtered by collection.
func (db *DB) ListDocuments(ctx context.Context, tenantID uuid.UUID, collection string, limit, offset int) ([]model.Document, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	where := `WHERE tenant_id = $1`
	args := []any{tenantID}
	if collection != "" {
		where += ` AND collection = $2`
		args = append(args, collection)
	}

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count documents: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT `+documentColumns+` FROM documents %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list documents: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, total, rows.Err()
}

// CountDocuments returns the number of documents in a tenant.
func (db *DB) CountDocuments(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE tenant_id = $1`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count documents: %w", err)
	}
	return count, nil
}

// SetDocumentStatus transitions a document's pipeline status. The error
// message is cleared on non-failed states.
func (db *DB) SetDocumentStatus(ctx context.Context, tenantID, id uuid.UUID, status model.DocumentStatus, errMsg *string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE documents SET status = $1, error = $2, updated_at = now()
		 WHERE id = $3 AND tenant_id = $4`,
		string(status), errMsg, id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("storage: set document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: document %s: %w", id, ErrNotFound)
	}
	return nil
}

// ReplaceDocumentChunks atomically replaces a document's chunks, enqueues
// search-index upserts for the new chunks, and marks the document ready.
// Chunks are bulk-inserted with COPY; the outbox rows commit in the same
// transaction so the external index can never see chunks Postgres doesn't have.
func (db *DB) ReplaceDocumentChunks(ctx context.Context, tenantID, docID uuid.UUID, chunks []ChunkRecord) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin replace chunks tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Enqueue deletes for any chunks being replaced (re-ingest path).
	if _, err := tx.Exec(ctx,
		`INSERT INTO search_outbox (chunk_id, tenant_id, operation)
		 SELECT id, tenant_id, 'delete' FROM chunks
		 WHERE document_id = $1 AND tenant_id = $2`,
		docID, tenantID,
	); err != nil {
		return fmt.Errorf("storage: enqueue chunk deletes: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM chunks WHERE document_id = $1 AND tenant_id = $2`, docID, tenantID,
	); err != nil {
		return fmt.Errorf("storage: delete old chunks: %w", err)
	}

	now := time.Now().UTC()
	rows := make([][]any, len(chunks))
	for i := range chunks {
		if chunks[i].ID == uuid.Nil {
			chunks[i].ID = uuid.New()
		}
		rows[i] = []any{
			chunks[i].ID, chunks[i].TenantID, chunks[i].DocumentID, chunks[i].ChunkIndex,
			chunks[i].Content, chunks[i].TokenCount, chunks[i].Embedding, now,
		}
	}

	// Dedicated 30s COPY timeout prevents a hung Postgres from blocking
	// ingestion indefinitely.
	copyCtx, copyCancel := context.WithTimeout(ctx, 30*time.Second)
	_, err = tx.CopyFrom(
		copyCtx,
		pgx.Identifier{"chunks"},
		[]string{"id", "tenant_id", "document_id", "chunk_index", "content", "token_count", "embedding", "created_at"},
		pgx.CopyFromRows(rows),
	)
	copyCancel()
	if err != nil {
		return fmt.Errorf("storage: copy chunks: %w", err)
	}

	if len(chunks) > 0 {
		outboxRows := make([][]any, len(chunks))
		for i, c := range chunks {
			outboxRows[i] = []any{c.ID, c.TenantID, "upsert"}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"search_outbox"},
			[]string{"chunk_id", "tenant_id", "operation"},
			pgx.CopyFromRows(outboxRows),
		); err != nil {
			return fmt.Errorf("storage: enqueue chunk upserts: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE documents SET status = 'ready', error = NULL, chunk_count = $1, updated_at = now()
		 WHERE id = $2 AND tenant_id = $3`,
		len(chunks), docID, tenantID,
	); err != nil {
		return fmt.Errorf("storage: mark document ready: %w", err)
	}

	return tx.Commit(ctx)
}

// DeleteDocumentWithAudit removes a document and its chunks, enqueues
// search-index deletes, and writes a mutation audit entry atomically.
func (db *DB) DeleteDocumentWithAudit(ctx context.Context, tenantID, id uuid.UUID, audit MutationAuditEntry) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete document tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	before, err := scanDocument(tx.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("storage: document %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("storage: get document before delete: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO search_outbox (chunk_id, tenant_id, operation)
		 SELECT id, tenant_id, 'delete' FROM chunks
		 WHERE document_id = $1 AND tenant_id = $2`,
		id, tenantID,
	); err != nil {
		return fmt.Errorf("storage: enqueue chunk deletes: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM chunks WHERE document_id = $1 AND tenant_id = $2`, id, tenantID,
	); err != nil {
		return fmt.Errorf("storage: delete chunks: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM documents WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	); err != nil {
		return fmt.Errorf("storage: delete document: %w", err)
	}

	audit.ResourceID = id.String()
	audit.BeforeData = before
	if err := InsertMutationAuditTx(ctx, tx, audit); err != nil {
		return fmt.Errorf("storage: audit in delete document tx: %w", err)
	}

	return tx.Commit(ctx)
}

// FailStuckDocuments marks documents still pending or processing as failed.
// Called once at startup: raw upload bytes are not persisted, so work lost
// to a crash cannot be resumed and the client must re-upload.
func (db *DB) FailStuckDocuments(ctx context.Context, reason string) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE documents SET status = 'failed', error = $1, updated_at = now()
		 WHERE status IN ('pending', 'processing')`,
		reason,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: fail stuck documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SearchChunksByEmbedding performs cosine similarity search over chunks using
// pgvector, restricted to ready documents in one tenant.
func (db *DB) SearchChunksByEmbedding(ctx context.Context, tenantID uuid.UUID, embedding pgvector.Vector, collection string, limit int) ([]model.ChunkMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	where := `WHERE c.tenant_id = $2 AND c.embedding IS NOT NULL AND d.status = 'ready'`
	args := []any{embedding, tenantID}
	if collection != "" {
		where += ` AND d.collection = $3`
		args = append(args, collection)
	}

	query := fmt.Sprintf(
		`SELECT c.id, c.document_id, d.name, c.chunk_index, c.content,
		 (1 - (c.embedding <=> $1)) AS score
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id AND d.tenant_id = c.tenant_id
		 %s
		 ORDER BY c.embedding <=> $1
		 LIMIT %d`, where, limit,
	)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: search chunks: %w", err)
	}
	defer rows.Close()

	var matches []model.ChunkMatch
	for rows.Next() {
		var m model.ChunkMatch
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.DocumentName, &m.ChunkIndex, &m.Content, &m.Score); err != nil {
			return nil, fmt.Errorf("storage: scan chunk match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// GetChunkMatchesByIDs fetches chunk content and document names for a set of
// chunk IDs, scoped to a tenant. Used to hydrate results coming back from the
// external search index; scores are attached by the caller.
func (db *DB) GetChunkMatchesByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]model.ChunkMatch, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT c.id, c.document_id, d.name, c.chunk_index, c.content
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id AND d.tenant_id = c.tenant_id
		 WHERE c.id = ANY($1) AND c.tenant_id = $2`,
		ids, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get chunks by ids: %w", err)
	}
	defer rows.Close()

	matches := make(map[uuid.UUID]model.ChunkMatch, len(ids))
	for rows.Next() {
		var m model.ChunkMatch
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.DocumentName, &m.ChunkIndex, &m.Content); err != nil {
			return nil, fmt.Errorf("storage: scan chunk: %w", err)
		}
		matches[m.ChunkID] = m
	}
	return matches, rows.Err()
}

// GetChunksForIndex fetches the fields needed to build index points for a set
// of chunk IDs. Chunks whose embedding is missing are skipped.
func (db *DB) GetChunksForIndex(ctx context.Context, ids []uuid.UUID) ([]ChunkRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT c.id, c.tenant_id, c.document_id, d.collection, c.chunk_index, c.content, c.token_count, c.embedding
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE c.id = ANY($1) AND c.embedding IS NOT NULL`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get chunks for index: %w", err)
	}
	defer rows.Close()

	var chunks []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.ID, &c.TenantID, &c.DocumentID, &c.Collection, &c.ChunkIndex, &c.Content, &c.TokenCount, &c.Embedding); err != nil {
			return nil, fmt.Errorf("storage: scan chunk for index: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ListChunksMissingEmbedding returns chunks with no embedding, oldest first.
// Used by the startup backfill when a real embedding provider replaces noop.
func (db *DB) ListChunksMissingEmbedding(ctx context.Context, limit int) ([]ChunkRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT c.id, c.tenant_id, c.document_id, d.collection, c.chunk_index, c.content, c.token_count
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE c.embedding IS NULL
		 ORDER BY c.created_at ASC
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list chunks missing embedding: %w", err)
	}
	defer rows.Close()

	var chunks []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.ID, &c.TenantID, &c.DocumentID, &c.Collection, &c.ChunkIndex, &c.Content, &c.TokenCount); err != nil {
			return nil, fmt.Errorf("storage: scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// UpdateChunkEmbedding stores a backfilled embedding and enqueues an index upsert.
func (db *DB) UpdateChunkEmbedding(ctx context.Context, chunkID uuid.UUID, embedding pgvector.Vector) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin update embedding tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE chunks SET embedding = $1 WHERE id = $2`, embedding, chunkID,
	)
	if err != nil {
		return fmt.Errorf("storage: update chunk embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: chunk %s: %w", chunkID, ErrNotFound)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO search_outbox (chunk_id, tenant_id, operation)
		 SELECT id, tenant_id, 'upsert' FROM chunks WHERE id = $1`,
		chunkID,
	); err != nil {
		return fmt.Errorf("storage: enqueue embedding upsert: %w", err)
	}

	return tx.Commit(ctx)
}
