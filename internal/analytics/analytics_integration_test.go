package analytics

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzu-ai/anzu/internal/model"
	"github.com/anzu-ai/anzu/internal/service/completion"
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

func seedQueries(t *testing.T, tenantID uuid.UUID, queries []string, axis int) {
	t.Helper()
	recs := make([]storage.QueryLogRecord, len(queries))
	for i, q := range queries {
		v := make([]float32, 1024)
		v[axis] = 1
		v[axis+1] = 0.1 * float32(i+1)
		emb := pgvector.NewVector(v)
		recs[i] = storage.QueryLogRecord{
			QueryLog: model.QueryLog{
				ID:        uuid.New(),
				TenantID:  tenantID,
				UserID:    "alice",
				Source:    model.QuerySourceChat,
				Query:     q,
				CreatedAt: time.Now().UTC().Add(-time.Hour),
			},
			Embedding: &emb,
		}
	}
	_, err := testDB.InsertQueryLogs(context.Background(), recs)
	require.NoError(t, err)
}

func newTestJob() *Job {
	return NewJob(testDB, embedding.NewNoopProvider(1024), completion.NoopClient{}, testutil.TestLogger(), time.Hour)
}

func TestRunOnceAggregatesTenant(t *testing.T) {
	ctx := context.Background()

	tenant, err := testDB.CreateTenant(ctx, model.Tenant{
		Name: "Analytics Test",
		Slug: fmt.Sprintf("analytics-%s", uuid.NewString()[:8]),
	})
	require.NoError(t, err)

	seedQueries(t, tenant.ID, []string{
		"how do refunds work",
		"refund policy?",
		"can I get my money back",
	}, 0)
	seedQueries(t, tenant.ID, []string{
		"reset my password",
		"forgot password help",
	}, 500)

	require.NoError(t, newTestJob().RunOnce(ctx))

	clusters, err := testDB.LatestQueryClusters(ctx, tenant.ID, 20)
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	// Ranked by size: the refund cluster first.
	assert.Equal(t, 1, clusters[0].Rank)
	assert.Equal(t, 3, clusters[0].QueryCount)
	assert.Equal(t, 2, clusters[1].Rank)
	assert.Equal(t, 2, clusters[1].QueryCount)

	// NoopClient produces no parseable LABEL, so the first example becomes
	// the label.
	assert.NotEmpty(t, clusters[0].Label)
	assert.NotEmpty(t, clusters[0].Examples)
	assert.LessOrEqual(t, len(clusters[0].Examples), 5)
}

func TestRunOnceSkipsTenantsWithoutQueries(t *testing.T) {
	ctx := context.Background()

	tenant, err := testDB.CreateTenant(ctx, model.Tenant{
		Name: "Quiet Tenant",
		Slug: fmt.Sprintf("quiet-%s", uuid.NewString()[:8]),
	})
	require.NoError(t, err)

	require.NoError(t, newTestJob().RunOnce(ctx))

	clusters, err := testDB.LatestQueryClusters(ctx, tenant.ID, 20)
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestRunOnceIsRepeatable(t *testing.T) {
	ctx := context.Background()

	tenant, err := testDB.CreateTenant(ctx, model.Tenant{
		Name: "Repeat Test",
		Slug: fmt.Sprintf("repeat-%s", uuid.NewString()[:8]),
	})
	require.NoError(t, err)

	seedQueries(t, tenant.ID, []string{"billing question", "invoice question"}, 100)

	job := newTestJob()
	require.NoError(t, job.RunOnce(ctx))
	require.NoError(t, job.RunOnce(ctx))

	// The latest window always has exactly one result set.
	clusters, err := testDB.LatestQueryClusters(ctx, tenant.ID, 20)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, 2, clusters[0].QueryCount)
}

func TestJobStartAndDrain(t *testing.T) {
	job := newTestJob()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job.Start(ctx)
	job.Start(ctx) // Second call is a no-op.

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	job.Drain(drainCtx)
	assert.NoError(t, drainCtx.Err(), "drain should finish before the deadline")
}
