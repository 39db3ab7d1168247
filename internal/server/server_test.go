package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzu-ai/anzu/internal/auth"
	"github.com/anzu-ai/anzu/internal/authz"
	"github.com/anzu-ai/anzu/internal/ingest"
	"github.com/anzu-ai/anzu/internal/model"
	"github.com/anzu-ai/anzu/internal/querylog"
	"github.com/anzu-ai/anzu/internal/search"
	"github.com/anzu-ai/anzu/internal/server"
	"github.com/anzu-ai/anzu/internal/service/chat"
	"github.com/anzu-ai/anzu/internal/service/completion"
	"github.com/anzu-ai/anzu/internal/service/embedding"
	"github.com/anzu-ai/anzu/internal/signup"
	"github.com/anzu-ai/anzu/internal/storage"
	"github.com/anzu-ai/anzu/internal/testutil"
)

var (
	testSrv    *httptest.Server
	testDB     *storage.DB
	adminToken string
)

// stubCompleter returns a canned answer so chat tests run without an LLM.
type stubCompleter struct{}

func (stubCompleter) Complete(_ context.Context, _ []completion.Message) (string, error) {
	return "stub answer", nil
}
func (stubCompleter) Model() string { return "stub-model" }

func TestMain(m *testing.M) {
	ctx, cancel := context.WithCancel(context.Background())

	tc := testutil.MustStartPostgres()
	logger := testutil.TestLogger()

	var err error
	testDB, err = tc.NewTestDB(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create DB: %v\n", err)
		os.Exit(1)
	}

	jwtMgr, _ := auth.NewJWTManager("", "", 24*time.Hour)
	embedder := embedding.NewNoopProvider(1024)
	searcher := search.NewPgSearcher(testDB)

	queryBuf := querylog.NewBuffer(testDB, logger, 1000, 50*time.Millisecond)
	queryBuf.Start(ctx)

	ingestSvc := ingest.New(testDB, embedder, ingest.Options{Workers: 2}, logger)
	go func() { _ = ingestSvc.Run(ctx) }()

	chatSvc := chat.New(testDB, embedder, searcher, stubCompleter{}, nil, queryBuf, logger)
	signupSvc := signup.New(testDB, signup.Config{
		SMTPFrom: "test@anzu.dev",
		BaseURL:  "http://localhost:8080",
	}, logger)

	memberships := authz.NewMembershipCache(time.Minute)

	broker := server.NewBroker(testDB, logger)
	go broker.Start(ctx)

	srv := server.New(server.ServerConfig{
		DB:                  testDB,
		JWTMgr:              jwtMgr,
		ChatSvc:             chatSvc,
		Ingest:              ingestSvc,
		QueryLog:            queryBuf,
		SignupSvc:           signupSvc,
		Searcher:            searcher,
		Memberships:         memberships,
		Broker:              broker,
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		MaxUploadBytes:      1 << 20,
	})

	if err := srv.Handlers().SeedAdmin(ctx, "test-admin-key"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed admin: %v\n", err)
		os.Exit(1)
	}

	testSrv = httptest.NewServer(srv.Handler())
	adminToken = getToken(testSrv.URL, "admin", "test-admin-key")

	code := m.Run()

	testSrv.Close()
	cancel()
	memberships.Close()
	queryBuf.Drain(context.Background())
	testDB.Close(context.Background())
	tc.Terminate()
	os.Exit(code)
}

func getToken(baseURL, userID, apiKey string) string {
	body, _ := json.Marshal(model.AuthTokenRequest{UserID: userID, APIKey: apiKey})
	resp, err := http.Post(baseURL+"/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		panic(fmt.Sprintf("getToken: request failed: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		panic(fmt.Sprintf("getToken: status %d, body: %s", resp.StatusCode, string(data)))
	}
	var result struct {
		Data model.AuthTokenResponse `json:"data"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		panic(fmt.Sprintf("getToken: unmarshal failed: %v, body: %s", err, string(data)))
	}
	if result.Data.Token == "" {
		panic(fmt.Sprintf("getToken: empty token, body: %s", string(data)))
	}
	return result.Data.Token
}

func authedRequest(method, url, token string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}

func decodeData[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var result struct {
		Data T `json:"data"`
	}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &result), "body: %s", string(data))
	return result.Data
}

// signupTenant creates a fresh tenant through /auth/signup and returns the
// owner's token plus the owner user ID.
func signupTenant(t *testing.T, email, tenantName string) (token, ownerID string) {
	t.Helper()
	const password = "Sup3rSecretPassword"

	body := map[string]string{"email": email, "password": password, "tenant_name": tenantName}
	data, _ := json.Marshal(body)
	resp, err := http.Post(testSrv.URL+"/auth/signup", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	result := decodeData[signup.SignupResult](t, resp)
	require.NotEmpty(t, result.UserID)

	return getToken(testSrv.URL, result.UserID, password), result.UserID
}

func TestHealthEndpoint(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health := decodeData[model.HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Postgres)
}

func TestAuthFlow(t *testing.T) {
	token := getToken(testSrv.URL, "admin", "test-admin-key")
	assert.NotEmpty(t, token)

	body, _ := json.Marshal(model.AuthTokenRequest{UserID: "admin", APIKey: "wrong"})
	resp, err := http.Post(testSrv.URL+"/auth/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnauthenticatedAccess(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/v1/documents")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSignupValidation(t *testing.T) {
	post := func(body map[string]string) int {
		data, _ := json.Marshal(body)
		resp, err := http.Post(testSrv.URL+"/auth/signup", "application/json", bytes.NewReader(data))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, post(map[string]string{
		"email": "not-an-email", "password": "Sup3rSecretPassword", "tenant_name": "Acme",
	}))
	assert.Equal(t, http.StatusBadRequest, post(map[string]string{
		"email": "a@b.dev", "password": "short", "tenant_name": "Acme",
	}))
	assert.Equal(t, http.StatusBadRequest, post(map[string]string{
		"email": "a@b.dev", "password": "Sup3rSecretPassword",
	}))
}

func TestSignupDuplicateTenant(t *testing.T) {
	signupTenant(t, "first@dupe.dev", "Duplicate Co")

	data, _ := json.Marshal(map[string]string{
		"email": "second@dupe.dev", "password": "Sup3rSecretPassword", "tenant_name": "Duplicate Co",
	})
	resp, err := http.Post(testSrv.URL+"/auth/signup", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTenantEndpoints(t *testing.T) {
	ownerToken, _ := signupTenant(t, "owner@tenant-ep.dev", "Tenant EP Co")

	resp, err := authedRequest("GET", testSrv.URL+"/v1/tenant", ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tenant := decodeData[model.Tenant](t, resp)
	assert.Equal(t, "free", tenant.Plan)
	assert.Equal(t, "Tenant EP Co", tenant.Name)

	// Rename.
	resp, err = authedRequest("PATCH", testSrv.URL+"/v1/tenant", ownerToken,
		map[string]string{"name": "Tenant EP Renamed"})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	renamed := decodeData[model.Tenant](t, resp)
	assert.Equal(t, "Tenant EP Renamed", renamed.Name)

	// Usage starts at zero with free-plan limits.
	resp, err = authedRequest("GET", testSrv.URL+"/v1/usage", ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	usage := decodeData[model.UsageResponse](t, resp)
	assert.Equal(t, 0, usage.MessageCount)
	assert.Equal(t, 200, usage.MessageLimit)
	assert.Equal(t, 1, usage.UserCount)
}

func TestUserManagement(t *testing.T) {
	ownerToken, ownerID := signupTenant(t, "owner@users.dev", "Users Co")

	// Owner creates a member with an API key.
	resp, err := authedRequest("POST", testSrv.URL+"/v1/users", ownerToken, model.CreateUserRequest{
		UserID: "alice", Name: "Alice", Role: model.RoleMember, APIKey: "alice-secret-key",
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Duplicate user ID conflicts.
	resp, err = authedRequest("POST", testSrv.URL+"/v1/users", ownerToken, model.CreateUserRequest{
		UserID: "alice", Name: "Alice Again", Role: model.RoleMember,
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Owner cannot assign a role at or above their own.
	resp, err = authedRequest("POST", testSrv.URL+"/v1/users", ownerToken, model.CreateUserRequest{
		UserID: "evil", Name: "Evil", Role: model.RoleOwner,
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Member token works but cannot manage users.
	memberToken := getToken(testSrv.URL, "alice", "alice-secret-key")
	resp, err = authedRequest("GET", testSrv.URL+"/v1/users", memberToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Owner lists users: owner + alice.
	resp, err = authedRequest("GET", testSrv.URL+"/v1/users", ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list model.ListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.NotNil(t, list.Total)
	assert.Equal(t, 2, *list.Total)

	// Role change takes effect on the next request thanks to cache invalidation.
	newRole := model.RoleViewer
	resp, err = authedRequest("PATCH", testSrv.URL+"/v1/users/alice", ownerToken,
		model.UpdateUserRequest{Role: &newRole})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = authedRequest("POST", testSrv.URL+"/v1/chat", memberToken,
		model.ChatRequest{Message: "hello"})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "demoted viewer should not chat")

	// Self-deletion is rejected; deleting another user works.
	resp, err = authedRequest("DELETE", testSrv.URL+"/v1/users/"+ownerID, ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = authedRequest("DELETE", testSrv.URL+"/v1/users/alice", ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Deleted user's token is rejected on the next request.
	resp, err = authedRequest("GET", testSrv.URL+"/v1/tenant", memberToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIKeyLifecycle(t *testing.T) {
	ownerToken, ownerID := signupTenant(t, "owner@keys.dev", "Keys Co")

	// Create a managed key for the owner.
	resp, err := authedRequest("POST", testSrv.URL+"/v1/keys", ownerToken, model.CreateKeyRequest{
		UserID: ownerID, Label: "ci key",
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeData[model.APIKeyWithRawKey](t, resp)
	require.NotEmpty(t, created.RawKey)
	assert.True(t, strings.HasPrefix(created.RawKey, "az_"))

	// The raw key authenticates.
	keyToken := getToken(testSrv.URL, ownerID, created.RawKey)
	assert.NotEmpty(t, keyToken)

	// Rotate: new key works, old one does not.
	resp, err = authedRequest("POST", testSrv.URL+"/v1/keys/"+created.ID.String()+"/rotate", ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rotated := decodeData[model.RotateKeyResponse](t, resp)
	assert.Equal(t, created.ID, rotated.RevokedKeyID)
	assert.NotEmpty(t, rotated.NewKey.RawKey)

	body, _ := json.Marshal(model.AuthTokenRequest{UserID: ownerID, APIKey: created.RawKey})
	authResp, err := http.Post(testSrv.URL+"/auth/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = authResp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, authResp.StatusCode, "rotated-out key should be rejected")

	// Revoke the replacement.
	resp, err = authedRequest("DELETE", testSrv.URL+"/v1/keys/"+rotated.NewKey.ID.String(), ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Rotating a revoked key conflicts.
	resp, err = authedRequest("POST", testSrv.URL+"/v1/keys/"+rotated.NewKey.ID.String()+"/rotate", ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDocumentLifecycle(t *testing.T) {
	ownerToken, _ := signupTenant(t, "owner@docs.dev", "Docs Co")

	// JSON upload.
	resp, err := authedRequest("POST", testSrv.URL+"/v1/documents", ownerToken, model.CreateDocumentRequest{
		Name: "faq.md", Collection: "support", ContentType: "text/markdown",
		Content: "# FAQ\n\nHow do I reset my password? Click the reset link.",
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	doc := decodeData[model.Document](t, resp)
	assert.Equal(t, "faq.md", doc.Name)
	assert.NotEmpty(t, doc.ContentHash)

	// Identical content dedupes to the existing row.
	resp, err = authedRequest("POST", testSrv.URL+"/v1/documents", ownerToken, model.CreateDocumentRequest{
		Name: "faq-copy.md", ContentType: "text/markdown",
		Content: "# FAQ\n\nHow do I reset my password? Click the reset link.",
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dupe := decodeData[model.Document](t, resp)
	assert.Equal(t, doc.ID, dupe.ID)

	// Unsupported content type.
	resp, err = authedRequest("POST", testSrv.URL+"/v1/documents", ownerToken, model.CreateDocumentRequest{
		Name: "binary.bin", ContentType: "application/octet-stream", Content: "xxxx",
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Multipart upload.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("billing works on a monthly cycle"))
	require.NoError(t, mw.WriteField("collection", "support"))
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest("POST", testSrv.URL+"/v1/documents", &buf)
	req.Header.Set("Authorization", "Bearer "+ownerToken)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	uploaded := decodeData[model.Document](t, resp)
	assert.Equal(t, "notes.txt", uploaded.Name)

	// List, filtered by collection.
	resp, err = authedRequest("GET", testSrv.URL+"/v1/documents?collection=support", ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list model.ListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.NotNil(t, list.Total)
	assert.Equal(t, 2, *list.Total)

	// Get by ID.
	resp, err = authedRequest("GET", testSrv.URL+"/v1/documents/"+doc.ID.String(), ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeData[model.Document](t, resp)
	assert.Contains(t, []model.DocumentStatus{
		model.DocumentPending, model.DocumentProcessing, model.DocumentReady,
	}, got.Status)

	// Delete.
	resp, err = authedRequest("DELETE", testSrv.URL+"/v1/documents/"+doc.ID.String(), ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = authedRequest("GET", testSrv.URL+"/v1/documents/"+doc.ID.String(), ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatAndConversations(t *testing.T) {
	ownerToken, _ := signupTenant(t, "owner@chat.dev", "Chat Co")

	// First turn creates a conversation.
	resp, err := authedRequest("POST", testSrv.URL+"/v1/chat", ownerToken,
		model.ChatRequest{Message: "how do I reset my password?"})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decodeData[model.ChatResponse](t, resp)
	require.NotEqual(t, uuid.Nil, first.ConversationID)
	assert.Equal(t, "stub answer", first.Message.Content)
	assert.Equal(t, "stub-model", first.Message.Model)

	// Second turn continues it.
	resp, err = authedRequest("POST", testSrv.URL+"/v1/chat", ownerToken,
		model.ChatRequest{ConversationID: &first.ConversationID, Message: "and my email?"})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decodeData[model.ChatResponse](t, resp)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	// Empty message is rejected.
	resp, err = authedRequest("POST", testSrv.URL+"/v1/chat", ownerToken, model.ChatRequest{})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Listing shows the conversation with both turns persisted.
	resp, err = authedRequest("GET", testSrv.URL+"/v1/conversations", ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list model.ListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.NotNil(t, list.Total)
	assert.Equal(t, 1, *list.Total)

	resp, err = authedRequest("GET", testSrv.URL+"/v1/conversations/"+first.ConversationID.String(), ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decodeData[model.ConversationDetail](t, resp)
	assert.Equal(t, 4, detail.MessageTotal) // 2 turns x (user + assistant)

	// Another user in the same tenant cannot see it.
	resp, err = authedRequest("POST", testSrv.URL+"/v1/users", ownerToken, model.CreateUserRequest{
		UserID: "bob", Name: "Bob", Role: model.RoleMember, APIKey: "bob-secret-key",
	})
	require.NoError(t, err)
	_ = resp.Body.Close()
	bobToken := getToken(testSrv.URL, "bob", "bob-secret-key")

	resp, err = authedRequest("GET", testSrv.URL+"/v1/conversations/"+first.ConversationID.String(), bobToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Owner deletes their conversation.
	resp, err = authedRequest("DELETE", testSrv.URL+"/v1/conversations/"+first.ConversationID.String(), ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestSearchEndpoint(t *testing.T) {
	ownerToken, _ := signupTenant(t, "owner@search.dev", "Search Co")

	resp, err := authedRequest("POST", testSrv.URL+"/v1/search", ownerToken,
		model.SearchRequest{Query: "password reset"})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeData[model.SearchResponse](t, resp)
	assert.Equal(t, "password reset", result.Query)
	assert.NotNil(t, result.Results)

	// Missing query.
	resp, err = authedRequest("POST", testSrv.URL+"/v1/search", ownerToken, model.SearchRequest{})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyticsEndpoints(t *testing.T) {
	ownerToken, _ := signupTenant(t, "owner@analytics.dev", "Analytics Co")

	// No aggregation has run yet: empty clusters, not an error.
	resp, err := authedRequest("GET", testSrv.URL+"/v1/analytics/top-queries", ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	top := decodeData[model.TopQueriesResponse](t, resp)
	assert.Empty(t, top.Clusters)

	resp, err = authedRequest("GET", testSrv.URL+"/v1/analytics/usage?days=7", ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Members cannot read analytics.
	resp, err = authedRequest("POST", testSrv.URL+"/v1/users", ownerToken, model.CreateUserRequest{
		UserID: "carol", Name: "Carol", Role: model.RoleMember, APIKey: "carol-secret-key",
	})
	require.NoError(t, err)
	_ = resp.Body.Close()
	carolToken := getToken(testSrv.URL, "carol", "carol-secret-key")

	resp, err = authedRequest("GET", testSrv.URL+"/v1/analytics/top-queries", carolToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPlatformAdminEndpoints(t *testing.T) {
	resp, err := authedRequest("GET", testSrv.URL+"/v1/admin/tenants", adminToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Tenant owners are not platform operators.
	ownerToken, _ := signupTenant(t, "owner@notadmin.dev", "Not Admin Co")
	resp, err = authedRequest("GET", testSrv.URL+"/v1/admin/tenants", ownerToken, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBillingDisabled(t *testing.T) {
	ownerToken, _ := signupTenant(t, "owner@billing.dev", "Billing Co")

	resp, err := authedRequest("POST", testSrv.URL+"/billing/checkout", ownerToken,
		map[string]string{"success_url": "https://x.dev/ok", "cancel_url": "https://x.dev/no"})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Post(testSrv.URL+"/billing/webhooks", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// TestSubscribeStreamsEvents exercises the full SSE path: the subscribe
// handler flushing through the wrapped middleware writers, the broker's
// LISTEN loop, and tenant-scoped fan-out of a pg_notify payload.
func TestSubscribeStreamsEvents(t *testing.T) {
	ownerToken, _ := signupTenant(t, "owner@sse.dev", "SSE Co")

	resp, err := authedRequest("GET", testSrv.URL+"/v1/tenant", ownerToken, nil)
	require.NoError(t, err)
	tenant := decodeData[model.Tenant](t, resp)
	_ = resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, testSrv.URL+"/v1/subscribe", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ownerToken)

	stream, err := testSrv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = stream.Body.Close() }()

	require.Equal(t, http.StatusOK, stream.StatusCode)
	require.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	// The subscription registers shortly after the headers arrive, so
	// re-send the notification until the event shows up on the stream.
	docID := uuid.New()
	payload := fmt.Sprintf(`{"tenant_id":%q,"document_id":%q,"status":"ready"}`, tenant.ID, docID)
	notifyDone := make(chan struct{})
	defer close(notifyDone)
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			_ = testDB.Notify(ctx, storage.ChannelDocuments, payload)
			select {
			case <-notifyDone:
				return
			case <-ticker.C:
			}
		}
	}()

	scanner := bufio.NewScanner(stream.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
		if event != "" && data != "" {
			break
		}
	}
	require.NoError(t, ctx.Err(), "no SSE event arrived before the deadline")

	assert.Equal(t, "document", event)
	assert.JSONEq(t, payload, data)
}
