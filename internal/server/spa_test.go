package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
)

func TestIsAPIPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		// API paths that should be detected.
		{"/v1/chat", true},
		{"/v1/search", true},
		{"/v1/documents/some-id", true},
		{"/v1/users", true},
		{"/v1/analytics/top-queries", true},
		{"/v1/", true},
		{"/auth/token", true},
		{"/auth/refresh", true},
		{"/auth/verify", true},
		{"/billing/checkout", true},
		{"/mcp", true},

		// Non-API paths that the SPA should handle.
		{"/", false},
		{"/documents", false},
		{"/conversations", false},
		{"/settings", false},
		{"/assets/index-abc123.js", false},
		{"/favicon.ico", false},
		{"/health", false}, // Health is registered on the mux, not an API path for SPA purposes.
		{"/openapi.yaml", false},
		{"/some/other/path", false},

		// Edge cases.
		{"", false},
		{"/v1", false},     // Must have trailing slash to match /v1/ prefix.
		{"/v2/foo", false}, // Different API version is not recognized.
		{"/authorization", false},
		{"/billingual", false},
		{"/mcpserver", false}, // /mcp must match exactly, not as a prefix.
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := isAPIPath(tt.path)
			if got != tt.want {
				t.Errorf("isAPIPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestSetCacheHeaders(t *testing.T) {
	tests := []struct {
		name    string
		urlPath string
		wantCC  string
	}{
		{
			name:    "hashed asset gets immutable cache",
			urlPath: "/assets/index-abc123.js",
			wantCC:  "public, max-age=31536000, immutable",
		},
		{
			name:    "hashed CSS asset gets immutable cache",
			urlPath: "/assets/style-def456.css",
			wantCC:  "public, max-age=31536000, immutable",
		},
		{
			name:    "non-asset file gets standard cache",
			urlPath: "/favicon.ico",
			wantCC:  "public, max-age=3600",
		},
		{
			name:    "index gets standard cache",
			urlPath: "/index.html",
			wantCC:  "public, max-age=3600",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			setCacheHeaders(w, tt.urlPath)
			got := w.Header().Get("Cache-Control")
			if got != tt.wantCC {
				t.Errorf("setCacheHeaders(%q): Cache-Control = %q, want %q", tt.urlPath, got, tt.wantCC)
			}
		})
	}
}

func TestSPAHandlerServing(t *testing.T) {
	handler := newSPAHandler(fstest.MapFS{
		"index.html":           {Data: []byte("<html>anzu console</html>")},
		"assets/app-deadbf.js": {Data: []byte("console.log('ok')")},
	})

	t.Run("existing asset served with immutable cache", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/assets/app-deadbf.js", nil))
		if w.Code != 200 {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "immutable") {
			t.Errorf("Cache-Control = %q, want immutable", cc)
		}
	})

	t.Run("client route falls back to index.html", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/conversations/abc", nil))
		if w.Code != 200 {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if !strings.Contains(w.Body.String(), "anzu console") {
			t.Error("expected index.html body for client-side route")
		}
		if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "no-cache") {
			t.Errorf("index.html should not be cached, got %q", cc)
		}
	})

	t.Run("unmatched API path gets JSON 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/v1/nonexistent", nil))
		if w.Code != 404 {
			t.Fatalf("status = %d, want 404", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if !strings.Contains(w.Body.String(), "NOT_FOUND") {
			t.Errorf("body = %q, want NOT_FOUND error", w.Body.String())
		}
	})
}
