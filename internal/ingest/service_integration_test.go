package ingest

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzu-ai/anzu/internal/model"
	"github.com/anzu-ai/anzu/internal/service/embedding"
	"github.com/anzu-ai/anzu/internal/storage"
	"github.com/anzu-ai/anzu/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}

	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	db.Close(context.Background())
	os.Exit(code)
}

func seedDocument(t *testing.T, name string) model.Document {
	t.Helper()
	ctx := context.Background()

	tenant, err := testDB.CreateTenant(ctx, model.Tenant{
		Name: name,
		Slug: fmt.Sprintf("ingest-%s", uuid.NewString()[:8]),
	})
	require.NoError(t, err)

	doc, err := testDB.CreateDocument(ctx, model.Document{
		TenantID:    tenant.ID,
		Name:        "notes.txt",
		ContentType: "text/plain",
		ContentHash: uuid.NewString(),
		UploadedBy:  "alice",
	})
	require.NoError(t, err)
	return doc
}

func missingForDocument(t *testing.T, docID uuid.UUID) []storage.ChunkRecord {
	t.Helper()
	all, err := testDB.ListChunksMissingEmbedding(context.Background(), 500)
	require.NoError(t, err)
	var mine []storage.ChunkRecord
	for _, c := range all {
		if c.DocumentID == docID {
			mine = append(mine, c)
		}
	}
	return mine
}

// A noop embedder returns zero vectors; those must never be stored, or the
// chunks would silently fall out of the backfill set and poison similarity
// search with degenerate cosine scores.
func TestNoopProviderLeavesChunksUnembedded(t *testing.T) {
	ctx := context.Background()
	doc := seedDocument(t, "Noop Ingest Co")

	svc := New(testDB, embedding.NewNoopProvider(8), Options{}, testutil.TestLogger())
	n, err := svc.buildChunks(ctx, job{doc: doc, content: []byte("refunds are processed within five business days")})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	missing := missingForDocument(t, doc.ID)
	assert.Len(t, missing, 1, "chunk embedded with a noop provider must stay NULL")
}

func TestBackfillSkipsZeroVectors(t *testing.T) {
	ctx := context.Background()
	doc := seedDocument(t, "Noop Backfill Co")

	svc := New(testDB, embedding.NewNoopProvider(8), Options{}, testutil.TestLogger())
	_, err := svc.buildChunks(ctx, job{doc: doc, content: []byte("the api rate limit is sixty requests per minute")})
	require.NoError(t, err)

	// Backfilling with the noop provider must be a no-op, not a zero-fill.
	total, err := svc.BackfillEmbeddings(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Len(t, missingForDocument(t, doc.ID), 1)
}
