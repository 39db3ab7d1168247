package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzu-ai/anzu/internal/model"
)

func TestParseCollectionURI(t *testing.T) {
	tests := []struct {
		name      string
		uri       string
		want      string
		wantError bool
	}{
		{
			name: "valid simple collection",
			uri:  "anzu://collections/support/documents",
			want: "support",
		},
		{
			name: "valid collection with hyphen and dots",
			uri:  "anzu://collections/eng.runbooks-v2/documents",
			want: "eng.runbooks-v2",
		},
		{
			name:      "empty collection between slashes",
			uri:       "anzu://collections//documents",
			wantError: true,
		},
		{
			name:      "wrong prefix",
			uri:       "other://collections/support/documents",
			wantError: true,
		},
		{
			name:      "missing /documents suffix",
			uri:       "anzu://collections/support",
			wantError: true,
		},
		{
			name:      "nested path in collection name",
			uri:       "anzu://collections/a/b/documents",
			wantError: true,
		},
		{
			name:      "completely invalid URI",
			uri:       "garbage",
			wantError: true,
		},
		{
			name:      "empty string",
			uri:       "",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, err := parseCollectionURI(tt.uri)

			if tt.wantError {
				require.Error(t, err)
				assert.Empty(t, name)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, name)
		})
	}
}

func readResourceRequest(uri string) mcplib.ReadResourceRequest {
	req := mcplib.ReadResourceRequest{}
	req.Params.URI = uri
	return req
}

// resourceJSON reads the single TextResourceContents from a resource response
// and unmarshals its JSON payload.
func resourceJSON(t *testing.T, contents []mcplib.ResourceContents, out any) {
	t.Helper()
	require.Len(t, contents, 1)
	tc, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok, "expected TextResourceContents")
	assert.Equal(t, "application/json", tc.MIMEType)
	require.NoError(t, json.Unmarshal([]byte(tc.Text), out))
}

func TestHandleDocumentsRecent(t *testing.T) {
	mustCreateDocument(t, "recent-resource.md", "resources", model.DocumentReady)

	contents, err := testServer.handleDocumentsRecent(viewerCtx("resource-reader"),
		readResourceRequest("anzu://documents/recent"))
	require.NoError(t, err)

	var resp struct {
		Documents []map[string]any `json:"documents"`
		Total     int              `json:"total"`
	}
	resourceJSON(t, contents, &resp)
	assert.GreaterOrEqual(t, resp.Total, 1)

	var found bool
	for _, d := range resp.Documents {
		if d["name"] == "recent-resource.md" {
			found = true
		}
	}
	assert.True(t, found, "seeded document should appear in recent documents")
}

func TestHandleDocumentsRecent_NilClaims(t *testing.T) {
	_, err := testServer.handleDocumentsRecent(context.Background(),
		readResourceRequest("anzu://documents/recent"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authenticated")
}

func TestHandleConversationsRecent(t *testing.T) {
	ctx := memberCtx("resource-conv-user")

	// Seed a conversation through the ask tool.
	result, err := testServer.handleAsk(ctx, callRequest("anzu_ask", map[string]any{
		"message": "seed a conversation for the resource test",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	contents, err := testServer.handleConversationsRecent(ctx,
		readResourceRequest("anzu://conversations/recent"))
	require.NoError(t, err)

	var resp struct {
		Conversations []model.Conversation `json:"conversations"`
		Total         int                  `json:"total"`
	}
	resourceJSON(t, contents, &resp)
	require.GreaterOrEqual(t, resp.Total, 1)
	assert.Equal(t, "resource-conv-user", resp.Conversations[0].UserID)
}

func TestHandleConversationsRecent_ScopedToCaller(t *testing.T) {
	contents, err := testServer.handleConversationsRecent(memberCtx("resource-conv-nobody"),
		readResourceRequest("anzu://conversations/recent"))
	require.NoError(t, err)

	var resp struct {
		Total int `json:"total"`
	}
	resourceJSON(t, contents, &resp)
	assert.Zero(t, resp.Total, "a user with no conversations should see none")
}

func TestHandleCollectionDocuments(t *testing.T) {
	mustCreateDocument(t, "runbook-1.md", "resource-runbooks", model.DocumentReady)
	mustCreateDocument(t, "runbook-2.md", "resource-runbooks", model.DocumentPending)

	contents, err := testServer.handleCollectionDocuments(viewerCtx("resource-reader"),
		readResourceRequest("anzu://collections/resource-runbooks/documents"))
	require.NoError(t, err)

	var resp struct {
		Collection string           `json:"collection"`
		Documents  []map[string]any `json:"documents"`
		Total      int              `json:"total"`
	}
	resourceJSON(t, contents, &resp)
	assert.Equal(t, "resource-runbooks", resp.Collection)
	assert.Equal(t, 2, resp.Total)
}

func TestHandleCollectionDocuments_InvalidURI(t *testing.T) {
	_, err := testServer.handleCollectionDocuments(viewerCtx("resource-reader"),
		readResourceRequest("anzu://collections//documents"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid collection")
}
