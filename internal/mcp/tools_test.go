package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/anzu-ai/anzu/internal/auth"
	"github.com/anzu-ai/anzu/internal/ctxutil"
	"github.com/anzu-ai/anzu/internal/model"
	"github.com/anzu-ai/anzu/internal/service/chat"
	"github.com/anzu-ai/anzu/internal/service/completion"
	"github.com/anzu-ai/anzu/internal/service/embedding"
	"github.com/anzu-ai/anzu/internal/storage"
	"github.com/anzu-ai/anzu/internal/testutil"
)

var (
	testDB     *storage.DB
	testServer *Server
	testSearch *stubSearcher
	testTenant model.Tenant
)

type stubCompleter struct{}

func (stubCompleter) Complete(_ context.Context, _ []completion.Message) (string, error) {
	return "stub answer", nil
}

func (stubCompleter) Model() string { return "stub-model" }

// stubSearcher returns a canned result set, so search tests don't depend on
// real embeddings. Tests set matches before calling the handler.
type stubSearcher struct {
	matches []model.ChunkMatch
}

func (s *stubSearcher) Search(_ context.Context, _ uuid.UUID, _ []float32, collection string, limit int) ([]model.ChunkMatch, error) {
	out := s.matches
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubSearcher) Healthy(_ context.Context) error { return nil }

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	code := setupAndRun(m, tc)
	tc.Terminate()
	os.Exit(code)
}

func setupAndRun(m *testing.M, tc *testutil.TestContainer) int {
	ctx := context.Background()
	logger := testutil.TestLogger()

	var err error
	testDB, err = tc.NewTestDB(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp test: create DB: %v\n", err)
		return 1
	}
	defer testDB.Close(ctx)

	testTenant, err = testDB.CreateTenant(ctx, model.Tenant{
		Name:          "MCP Test Co",
		Slug:          "mcp-test-co",
		Plan:          "pro",
		Email:         "mcp@example.com",
		MessageLimit:  10000,
		DocumentLimit: 100,
		UserLimit:     10,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp test: create tenant: %v\n", err)
		return 1
	}

	testSearch = &stubSearcher{}
	chatSvc := chat.New(testDB, embedding.NewNoopProvider(1024), testSearch, stubCompleter{}, nil, nil, logger)
	testServer = New(testDB, chatSvc, logger, "test")

	return m.Run()
}

// memberCtx returns a context carrying member claims for the test tenant.
func memberCtx(userID string) context.Context {
	return ctxutil.WithClaims(context.Background(), &auth.Claims{
		UserID:   userID,
		TenantID: testTenant.ID,
		Role:     model.RoleMember,
	})
}

func viewerCtx(userID string) context.Context {
	return ctxutil.WithClaims(context.Background(), &auth.Claims{
		UserID:   userID,
		TenantID: testTenant.ID,
		Role:     model.RoleViewer,
	})
}

// callRequest builds a CallToolRequest for the given tool and arguments.
func callRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

// mustCreateDocument seeds a document row with a unique content hash.
func mustCreateDocument(t *testing.T, name, collection string, status model.DocumentStatus) model.Document {
	t.Helper()
	sum := sha256.Sum256([]byte(name + uuid.New().String()))
	chunkCount := 0
	if status == model.DocumentReady {
		chunkCount = 3
	}
	doc, err := testDB.CreateDocument(context.Background(), model.Document{
		TenantID:    testTenant.ID,
		Name:        name,
		Collection:  collection,
		ContentType: "text/plain",
		ContentHash: hex.EncodeToString(sum[:]),
		SizeBytes:   128,
		Status:      status,
		ChunkCount:  chunkCount,
		UploadedBy:  "test-uploader",
	})
	require.NoError(t, err)
	return doc
}

// ---------- anzu_search ----------

func TestHandleSearch(t *testing.T) {
	docID := uuid.New()
	testSearch.matches = []model.ChunkMatch{
		{ChunkID: uuid.New(), DocumentID: docID, DocumentName: "refund-policy.md", ChunkIndex: 0, Content: "Refunds are issued within 14 days.", Score: 0.91},
		{ChunkID: uuid.New(), DocumentID: docID, DocumentName: "refund-policy.md", ChunkIndex: 3, Content: "Annual plans are refunded pro-rata.", Score: 0.84},
	}
	t.Cleanup(func() { testSearch.matches = nil })

	result, err := testServer.handleSearch(memberCtx("searcher"), callRequest("anzu_search", map[string]any{
		"query": "refund policy for annual plans",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "search should succeed: %s", parseToolText(t, result))

	var resp struct {
		Results []map[string]any `json:"results"`
		Total   int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "refund-policy.md", resp.Results[0]["document_name"])
	assert.Equal(t, "Refunds are issued within 14 days.", resp.Results[0]["content"])
	assert.InDelta(t, 0.91, resp.Results[0]["score"].(float64), 0.001)
}

func TestHandleSearch_RespectsLimit(t *testing.T) {
	testSearch.matches = []model.ChunkMatch{
		{ChunkID: uuid.New(), DocumentID: uuid.New(), DocumentName: "a.md", Content: "one"},
		{ChunkID: uuid.New(), DocumentID: uuid.New(), DocumentName: "b.md", Content: "two"},
		{ChunkID: uuid.New(), DocumentID: uuid.New(), DocumentName: "c.md", Content: "three"},
	}
	t.Cleanup(func() { testSearch.matches = nil })

	result, err := testServer.handleSearch(memberCtx("searcher"), callRequest("anzu_search", map[string]any{
		"query": "anything",
		"limit": 2,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, 2, resp.Total)
}

func TestHandleSearch_MissingQuery(t *testing.T) {
	result, err := testServer.handleSearch(memberCtx("searcher"), callRequest("anzu_search", map[string]any{}))
	require.NoError(t, err, "handler should not return go error, only tool error")
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "query is required")
}

func TestHandleSearch_NilClaims(t *testing.T) {
	result, err := testServer.handleSearch(context.Background(), callRequest("anzu_search", map[string]any{
		"query": "anything",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "not authenticated")
}

// ---------- anzu_ask ----------

func TestHandleAsk(t *testing.T) {
	result, err := testServer.handleAsk(memberCtx("asker-basic"), callRequest("anzu_ask", map[string]any{
		"message": "How do refunds work?",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "ask should succeed: %s", parseToolText(t, result))

	var resp struct {
		ConversationID string           `json:"conversation_id"`
		Answer         string           `json:"answer"`
		Citations      []map[string]any `json:"citations"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, "stub answer", resp.Answer)
	assert.Empty(t, resp.Citations)

	_, err = uuid.Parse(resp.ConversationID)
	assert.NoError(t, err, "conversation_id should be a valid UUID")
}

// TestHandleAsk_UncitedNote verifies that an answer with no citations carries
// the warning note as a second content item.
func TestHandleAsk_UncitedNote(t *testing.T) {
	result, err := testServer.handleAsk(memberCtx("asker-note"), callRequest("anzu_ask", map[string]any{
		"message": "Something the knowledge base cannot cover",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.GreaterOrEqual(t, len(result.Content), 2, "expected answer + note")

	var foundNote bool
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok && strings.HasPrefix(tc.Text, "NOTE") {
			foundNote = true
		}
	}
	assert.True(t, foundNote, "expected a NOTE content item for an uncited answer")
}

// TestHandleAsk_ContinuesThread verifies that a follow-up ask without an
// explicit conversation_id lands in the same conversation.
func TestHandleAsk_ContinuesThread(t *testing.T) {
	ctx := memberCtx("asker-thread")

	askConvID := func(args map[string]any) string {
		result, err := testServer.handleAsk(ctx, callRequest("anzu_ask", args))
		require.NoError(t, err)
		require.False(t, result.IsError, "ask should succeed: %s", parseToolText(t, result))
		var resp struct {
			ConversationID string `json:"conversation_id"`
		}
		require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
		return resp.ConversationID
	}

	first := askConvID(map[string]any{"message": "What plans do you offer?"})
	second := askConvID(map[string]any{"message": "And the annual one?"})
	assert.Equal(t, first, second, "follow-up should continue the same conversation")

	// An explicit conversation_id wins over the remembered thread.
	explicit := askConvID(map[string]any{"message": "Start over.", "conversation_id": first})
	assert.Equal(t, first, explicit)
}

func TestHandleAsk_InvalidConversationID(t *testing.T) {
	result, err := testServer.handleAsk(memberCtx("asker-badconv"), callRequest("anzu_ask", map[string]any{
		"message":         "hello",
		"conversation_id": "not-a-uuid",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "invalid conversation_id")
}

func TestHandleAsk_UnknownConversationID(t *testing.T) {
	result, err := testServer.handleAsk(memberCtx("asker-missingconv"), callRequest("anzu_ask", map[string]any{
		"message":         "hello",
		"conversation_id": uuid.New().String(),
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "ask failed")
}

func TestHandleAsk_MissingMessage(t *testing.T) {
	result, err := testServer.handleAsk(memberCtx("asker-nomsg"), callRequest("anzu_ask", map[string]any{}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "message is required")
}

// TestHandleAsk_ViewerDenied verifies the member role floor: viewers can
// search and list but not write chat turns.
func TestHandleAsk_ViewerDenied(t *testing.T) {
	result, err := testServer.handleAsk(viewerCtx("viewer-1"), callRequest("anzu_ask", map[string]any{
		"message": "hello",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "member role")
}

func TestHandleAsk_NilClaims(t *testing.T) {
	result, err := testServer.handleAsk(context.Background(), callRequest("anzu_ask", map[string]any{
		"message": "hello",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "not authenticated")
}

// ---------- anzu_list_documents ----------

func TestHandleListDocuments(t *testing.T) {
	mustCreateDocument(t, "handbook.pdf", "hr", model.DocumentReady)
	mustCreateDocument(t, "onboarding.md", "hr", model.DocumentPending)
	mustCreateDocument(t, "api-guide.md", "engineering", model.DocumentReady)

	result, err := testServer.handleListDocuments(viewerCtx("lister"), callRequest("anzu_list_documents", map[string]any{}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Documents []map[string]any `json:"documents"`
		Total     int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.GreaterOrEqual(t, resp.Total, 3)

	names := make(map[string]map[string]any)
	for _, d := range resp.Documents {
		names[d["name"].(string)] = d
	}
	require.Contains(t, names, "onboarding.md")
	assert.Contains(t, names["onboarding.md"]["context_note"], "not yet searchable")
	require.Contains(t, names, "handbook.pdf")
	assert.Nil(t, names["handbook.pdf"]["context_note"])
}

func TestHandleListDocuments_CollectionFilter(t *testing.T) {
	mustCreateDocument(t, "filter-a.md", "filter-col", model.DocumentReady)
	mustCreateDocument(t, "filter-b.md", "other-col", model.DocumentReady)

	result, err := testServer.handleListDocuments(viewerCtx("lister"), callRequest("anzu_list_documents", map[string]any{
		"collection": "filter-col",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Documents []map[string]any `json:"documents"`
		Total     int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Documents, 1)
	assert.Equal(t, "filter-a.md", resp.Documents[0]["name"])
}

// TestHandleListDocuments_TenantIsolation verifies that another tenant's
// documents never show up.
func TestHandleListDocuments_TenantIsolation(t *testing.T) {
	other, err := testDB.CreateTenant(context.Background(), model.Tenant{
		Name: "Other Co", Slug: "other-co-" + uuid.New().String()[:8], Plan: "free",
	})
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("other-secret"))
	_, err = testDB.CreateDocument(context.Background(), model.Document{
		TenantID:    other.ID,
		Name:        "other-tenant-secret.md",
		ContentType: "text/markdown",
		ContentHash: hex.EncodeToString(sum[:]),
		Status:      model.DocumentReady,
	})
	require.NoError(t, err)

	result, err := testServer.handleListDocuments(viewerCtx("lister"), callRequest("anzu_list_documents", map[string]any{
		"limit": 100,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.NotContains(t, parseToolText(t, result), "other-tenant-secret.md")
}

func TestHandleListDocuments_NilClaims(t *testing.T) {
	result, err := testServer.handleListDocuments(context.Background(), callRequest("anzu_list_documents", map[string]any{}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "not authenticated")
}
