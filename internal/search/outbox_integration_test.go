package search

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzu-ai/anzu/internal/model"
	"github.com/anzu-ai/anzu/internal/storage"
	"github.com/anzu-ai/anzu/internal/testutil"
)

var (
	testDB  *storage.DB
	testLog *slog.Logger
)

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}

	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	testLog = testutil.TestLogger()
	db, err := tc.NewTestDB(context.Background(), testLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	db.Close(context.Background())
	os.Exit(code)
}

func testVec(axis int) pgvector.Vector {
	v := make([]float32, 1024)
	v[axis%1024] = 1
	return pgvector.NewVector(v)
}

// seedDocumentWithChunks creates a tenant, a document, and n ready chunks.
// ReplaceDocumentChunks enqueues one 'upsert' outbox entry per chunk.
func seedDocumentWithChunks(t *testing.T, n int) (model.Tenant, model.Document) {
	t.Helper()
	ctx := context.Background()

	tenant, err := testDB.CreateTenant(ctx, model.Tenant{
		Name: "Outbox Test",
		Slug: fmt.Sprintf("outbox-%s", uuid.NewString()[:8]),
	})
	require.NoError(t, err)

	doc, err := testDB.CreateDocument(ctx, model.Document{
		TenantID:    tenant.ID,
		Name:        "handbook.md",
		Collection:  "docs",
		ContentType: "text/markdown",
		ContentHash: uuid.NewString(),
		SizeBytes:   512,
		UploadedBy:  "tester",
	})
	require.NoError(t, err)

	chunks := make([]storage.ChunkRecord, n)
	for i := range chunks {
		emb := testVec(i)
		chunks[i] = storage.ChunkRecord{
			TenantID:   tenant.ID,
			DocumentID: doc.ID,
			ChunkIndex: i,
			Content:    fmt.Sprintf("chunk %d", i),
			TokenCount: 2,
			Embedding:  &emb,
		}
	}
	require.NoError(t, testDB.ReplaceDocumentChunks(ctx, tenant.ID, doc.ID, chunks))

	return tenant, doc
}

func pendingOutboxCount(t *testing.T, tenantID uuid.UUID) int {
	t.Helper()
	var count int
	err := testDB.Pool().QueryRow(context.Background(),
		`SELECT COUNT(*) FROM search_outbox WHERE tenant_id = $1`, tenantID,
	).Scan(&count)
	require.NoError(t, err)
	return count
}

func TestReplaceChunksEnqueuesUpserts(t *testing.T) {
	tenant, _ := seedDocumentWithChunks(t, 3)

	var ops []string
	rows, err := testDB.Pool().Query(context.Background(),
		`SELECT operation FROM search_outbox WHERE tenant_id = $1`, tenant.ID)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var op string
		require.NoError(t, rows.Scan(&op))
		ops = append(ops, op)
	}
	require.NoError(t, rows.Err())

	require.Len(t, ops, 3)
	for _, op := range ops {
		assert.Equal(t, "upsert", op)
	}
}

func TestProcessBatchBacksOffOnIndexFailure(t *testing.T) {
	tenant, _ := seedDocumentWithChunks(t, 2)

	idx, err := NewQdrantIndex(QdrantConfig{
		URL:        "http://localhost:16334", // No server listening.
		Collection: "test_chunks",
		Dims:       1024,
	}, testLog)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	w := NewOutboxWorker(testDB, idx, testLog, time.Second, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	w.processBatch(ctx)

	// Entries survive the failed upsert with incremented attempts, a recorded
	// error, and a future locked_until for the retry backoff.
	rows, err := testDB.Pool().Query(context.Background(),
		`SELECT attempts, last_error, locked_until FROM search_outbox WHERE tenant_id = $1`,
		tenant.ID,
	)
	require.NoError(t, err)
	defer rows.Close()

	var checked int
	for rows.Next() {
		var attempts int
		var lastError *string
		var lockedUntil *time.Time
		require.NoError(t, rows.Scan(&attempts, &lastError, &lockedUntil))
		assert.Equal(t, 1, attempts)
		require.NotNil(t, lastError)
		assert.NotEmpty(t, *lastError)
		require.NotNil(t, lockedUntil)
		assert.True(t, lockedUntil.After(time.Now()), "locked_until should be in the future")
		checked++
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, 2, checked)
}

func TestSucceedEntriesRemovesRows(t *testing.T) {
	tenant, _ := seedDocumentWithChunks(t, 2)

	w := NewOutboxWorker(testDB, nil, testLog, time.Second, 100)

	ctx := context.Background()
	rows, err := testDB.Pool().Query(ctx,
		`SELECT id, chunk_id, tenant_id, operation, attempts FROM search_outbox WHERE tenant_id = $1`,
		tenant.ID,
	)
	require.NoError(t, err)
	entries, err := scanOutboxEntries(rows)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	w.succeedEntries(ctx, entries)
	assert.Zero(t, pendingOutboxCount(t, tenant.ID))
}

func TestCleanupDeadLetters(t *testing.T) {
	tenant, _ := seedDocumentWithChunks(t, 1)
	ctx := context.Background()

	// Age the entry past the dead-letter retention window with max attempts.
	_, err := testDB.Pool().Exec(ctx,
		`UPDATE search_outbox
		 SET attempts = $1, created_at = now() - interval '8 days'
		 WHERE tenant_id = $2`,
		maxOutboxAttempts, tenant.ID,
	)
	require.NoError(t, err)

	w := NewOutboxWorker(testDB, nil, testLog, time.Second, 100)
	w.cleanupDeadLetters(ctx)

	assert.Zero(t, pendingOutboxCount(t, tenant.ID))
}

func TestDeleteDocumentEnqueuesDeletes(t *testing.T) {
	tenant, doc := seedDocumentWithChunks(t, 2)
	ctx := context.Background()

	// Clear the upsert entries from ingestion so only the deletes remain.
	_, err := testDB.Pool().Exec(ctx,
		`DELETE FROM search_outbox WHERE tenant_id = $1`, tenant.ID)
	require.NoError(t, err)

	require.NoError(t, testDB.DeleteDocumentWithAudit(ctx, tenant.ID, doc.ID, storage.MutationAuditEntry{
		TenantID:     tenant.ID,
		ActorUserID:  "tester",
		ActorRole:    "admin",
		Operation:    "document.delete",
		ResourceType: "document",
		ResourceID:   doc.ID.String(),
	}))

	var count int
	err = testDB.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM search_outbox WHERE tenant_id = $1 AND operation = 'delete'`,
		tenant.ID,
	).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
