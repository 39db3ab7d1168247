package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// mockOllama returns a server implementing /api/embed: one deterministic
// 1024-dim vector per input string.
func mockOllama(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Model == "" {
			t.Error("request missing model")
		}

		embeddings := make([][]float32, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, 1024)
			for j := range vec {
				vec[j] = float32(j) * 0.001
			}
			embeddings[i] = vec
		}
		if err := json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: embeddings}); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
}

func TestOllamaProvider(t *testing.T) {
	server := mockOllama(t)
	defer server.Close()

	p := NewOllamaProvider(server.URL, "test-model", 1024)

	t.Run("dimensions", func(t *testing.T) {
		if p.Dimensions() != 1024 {
			t.Errorf("expected 1024, got %d", p.Dimensions())
		}
	})

	t.Run("embed single", func(t *testing.T) {
		vec, err := p.Embed(context.Background(), "test text")
		if err != nil {
			t.Fatal(err)
		}
		slice := vec.Slice()
		if len(slice) != 1024 {
			t.Errorf("expected 1024-dim vector, got %d", len(slice))
		}
		if slice[100] != 0.1 {
			t.Errorf("expected element 100 to be 0.1, got %f", slice[100])
		}
	})

	t.Run("embed batch is one request", func(t *testing.T) {
		vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
		if err != nil {
			t.Fatal(err)
		}
		if len(vecs) != 3 {
			t.Fatalf("expected 3 vectors, got %d", len(vecs))
		}
		for i, vec := range vecs {
			if len(vec.Slice()) != 1024 {
				t.Errorf("vector %d: expected 1024-dim, got %d", i, len(vec.Slice()))
			}
		}
	})

	t.Run("embed batch empty", func(t *testing.T) {
		vecs, err := p.EmbedBatch(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if vecs != nil {
			t.Errorf("expected nil, got %v", vecs)
		}
	})
}

func TestOllamaProviderErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}))
		defer server.Close()

		p := NewOllamaProvider(server.URL, "test-model", 1024)
		if _, err := p.Embed(context.Background(), "test"); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("count mismatch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{0.1}}})
		}))
		defer server.Close()

		p := NewOllamaProvider(server.URL, "test-model", 1024)
		if _, err := p.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
			t.Error("expected error when server returns fewer embeddings than inputs")
		}
	})

	t.Run("empty embedding", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{nil}})
		}))
		defer server.Close()

		p := NewOllamaProvider(server.URL, "test-model", 1024)
		if _, err := p.Embed(context.Background(), "test"); err == nil {
			t.Error("expected error for empty embedding, got nil")
		}
	})

	t.Run("invalid json response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer server.Close()

		p := NewOllamaProvider(server.URL, "test-model", 1024)
		if _, err := p.Embed(context.Background(), "test"); err == nil {
			t.Error("expected error for invalid json, got nil")
		}
	})
}
