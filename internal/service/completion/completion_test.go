package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Stream {
			t.Error("expected stream=false")
		}
		if len(req.Messages) != 2 {
			t.Errorf("expected 2 messages, got %d", len(req.Messages))
		}
		resp := ollamaChatResponse{}
		resp.Message.Content = "Use the password reset link."
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewOllamaClient(server.URL, "llama3.1")
	out, err := c.Complete(context.Background(), []Message{
		{Role: "system", Content: "You are a support assistant."},
		{Role: "user", Content: "How do I reset my password?"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Use the password reset link." {
		t.Errorf("unexpected completion: %q", out)
	}
	if c.Model() != "llama3.1" {
		t.Errorf("unexpected model: %q", c.Model())
	}
}

func TestOllamaClientServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	c := NewOllamaClient(server.URL, "missing-model")
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "status 404") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestOpenAIClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %q", got)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Answer text."}}]}`))
	}))
	defer server.Close()

	c := NewOpenAIClient("sk-test", "gpt-4o-mini")
	// Point the client at the mock server.
	c.httpClient = server.Client()
	c.httpClient.Transport = rewriteTransport{base: server.Client().Transport, target: server.URL}

	out, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Answer text." {
		t.Errorf("unexpected completion: %q", out)
	}
}

func TestOpenAIClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	c := NewOpenAIClient("sk-bad", "")
	c.httpClient = server.Client()
	c.httpClient.Transport = rewriteTransport{base: server.Client().Transport, target: server.URL}

	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "bad key") {
		t.Errorf("expected API error message, got %v", err)
	}
}

func TestNoopClient(t *testing.T) {
	out, err := NoopClient{}.Complete(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out == "" {
		t.Error("expected placeholder response")
	}
}

// rewriteTransport redirects all requests to the test server regardless of
// the URL the client built.
type rewriteTransport struct {
	base   http.RoundTripper
	target string
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = strings.TrimPrefix(t.target, "http://")
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
