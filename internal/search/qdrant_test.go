package search

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{
			name:   "https cloud URL with REST port",
			rawURL: "https://xyz.cloud.qdrant.io:6333",
			host:   "xyz.cloud.qdrant.io",
			port:   6334, // REST 6333 → gRPC 6334
			tls:    true,
		},
		{
			name:   "https cloud URL with gRPC port",
			rawURL: "https://xyz.cloud.qdrant.io:6334",
			host:   "xyz.cloud.qdrant.io",
			port:   6334,
			tls:    true,
		},
		{
			name:   "http local URL",
			rawURL: "http://localhost:6333",
			host:   "localhost",
			port:   6334,
			tls:    false,
		},
		{
			name:   "http no port defaults to 6334",
			rawURL: "http://qdrant.internal",
			host:   "qdrant.internal",
			port:   6334,
			tls:    false,
		},
		{
			name:   "custom port preserved",
			rawURL: "https://qdrant.example.com:9334",
			host:   "qdrant.example.com",
			port:   9334,
			tls:    true,
		},
		{
			name:    "empty URL",
			rawURL:  "",
			wantErr: true,
		},
		{
			name:    "no scheme no host",
			rawURL:  "not-a-url",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, tls, err := parseQdrantURL(tt.rawURL)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.tls, tls)
		})
	}
}

// newUnreachableIndex creates a QdrantIndex pointed at a port with no server.
// gRPC connects lazily, so construction succeeds but RPCs fail. Sufficient for
// testing early-return paths and health caching.
func newUnreachableIndex(t *testing.T) *QdrantIndex {
	t.Helper()
	idx, err := NewQdrantIndex(QdrantConfig{
		URL:        "http://localhost:16334",
		Collection: "test_chunks",
		Dims:       1024,
	}, slog.Default())
	require.NoError(t, err, "NewQdrantIndex should succeed (gRPC is lazy-connect)")
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestQdrantUpsertEmptyIsNoop(t *testing.T) {
	idx := newUnreachableIndex(t)
	// Empty slices return before any RPC, so no server is needed.
	assert.NoError(t, idx.Upsert(context.Background(), nil))
	assert.NoError(t, idx.DeleteByIDs(context.Background(), nil))
}

func TestQdrantHealthErrorCached(t *testing.T) {
	idx := newUnreachableIndex(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err1 := idx.Healthy(ctx)
	require.Error(t, err1, "no server is listening, health check must fail")

	// Second call within the 5s cache window returns the cached error
	// without another RPC.
	start := time.Now()
	err2 := idx.Healthy(ctx)
	require.Error(t, err2)
	assert.Less(t, time.Since(start), time.Second, "cached health result should return immediately")
}

func TestOutboxWorkerDrainWithoutStart(t *testing.T) {
	// Drain without Start: cancelLoop is nil and done is never closed, so
	// Drain must return via the ctx.Done() path without panicking.
	w := &OutboxWorker{
		logger:  slog.Default(),
		done:    make(chan struct{}),
		drainCh: make(chan context.Context, 1),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	w.Drain(ctx)

	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}
