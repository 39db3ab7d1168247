package anzu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Anzu server (e.g. "http://localhost:8080").
	BaseURL string

	// UserID identifies the calling user for authentication.
	UserID string

	// APIKey is the secret used to obtain a JWT token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Anzu knowledge base API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL, UserID, or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("anzu: BaseURL is required")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("anzu: UserID is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anzu: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.UserID, cfg.APIKey, httpClient),
	}, nil
}

// ---------------------------------------------------------------------------
// Chat and search
// ---------------------------------------------------------------------------

// Chat sends a message and returns the grounded answer with citations.
// A nil ConversationID starts a new conversation; pass the returned
// ConversationID on the next call to continue the thread.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.post(ctx, "/v1/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchOptions are optional parameters for Search.
type SearchOptions struct {
	Collection string
	TopK       int
}

// Search performs a semantic similarity search over the knowledge base
// without generating a completion.
func (c *Client) Search(ctx context.Context, query string, opts *SearchOptions) (*SearchResponse, error) {
	body := map[string]any{"query": query}
	if opts != nil {
		if opts.Collection != "" {
			body["collection"] = opts.Collection
		}
		if opts.TopK > 0 {
			body["top_k"] = opts.TopK
		}
	}
	var resp SearchResponse
	if err := c.post(ctx, "/v1/search", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

// UploadDocument uploads inline text content for ingestion. The returned
// document starts in status "pending"; poll GetDocument or subscribe to
// SSE events for the transition to "ready".
func (c *Client) UploadDocument(ctx context.Context, req UploadDocumentRequest) (*Document, error) {
	var resp Document
	if err := c.post(ctx, "/v1/documents", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadFile uploads a file as a multipart form. contentType must be one
// of the server's supported types (text/plain, text/markdown, text/html,
// text/csv, application/json).
func (c *Client) UploadFile(ctx context.Context, name, collection, contentType string, content io.Reader) (*Document, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if name != "" {
		if err := mw.WriteField("name", name); err != nil {
			return nil, fmt.Errorf("anzu: write multipart field: %w", err)
		}
	}
	if collection != "" {
		if err := mw.WriteField("collection", collection); err != nil {
			return nil, fmt.Errorf("anzu: write multipart field: %w", err)
		}
	}

	h := make(map[string][]string)
	h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, name)}
	h["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("anzu: create multipart part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("anzu: copy upload content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("anzu: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/documents", &buf)
	if err != nil {
		return nil, fmt.Errorf("anzu: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp Document
	if err := c.doRequest(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListDocuments lists documents, optionally filtered to one collection.
func (c *Client) ListDocuments(ctx context.Context, collection string, opts *ListOptions) ([]Document, *Page, error) {
	params := listParams(opts)
	if collection != "" {
		params.Set("collection", collection)
	}
	var docs []Document
	page, err := c.getList(ctx, "/v1/documents", params, &docs)
	if err != nil {
		return nil, nil, err
	}
	return docs, page, nil
}

// GetDocument retrieves a document by ID, including its ingestion status.
func (c *Client) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	var resp Document
	if err := c.get(ctx, "/v1/documents/"+id.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteDocument deletes a document and its chunks. Requires admin role.
// Returns nil on success (204 No Content).
func (c *Client) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	return c.doDelete(ctx, "/v1/documents/"+id.String(), nil)
}

// ---------------------------------------------------------------------------
// Conversations
// ---------------------------------------------------------------------------

// ListConversations lists the caller's conversations, newest first.
func (c *Client) ListConversations(ctx context.Context, opts *ListOptions) ([]Conversation, *Page, error) {
	var convs []Conversation
	page, err := c.getList(ctx, "/v1/conversations", listParams(opts), &convs)
	if err != nil {
		return nil, nil, err
	}
	return convs, page, nil
}

// GetConversation retrieves a conversation with a page of its messages.
func (c *Client) GetConversation(ctx context.Context, id uuid.UUID, opts *ListOptions) (*ConversationDetail, error) {
	path := "/v1/conversations/" + id.String()
	if params := listParams(opts); len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp ConversationDetail
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteConversation deletes one of the caller's conversations.
func (c *Client) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	return c.doDelete(ctx, "/v1/conversations/"+id.String(), nil)
}

// ---------------------------------------------------------------------------
// Tenant and usage
// ---------------------------------------------------------------------------

// GetTenant retrieves the caller's tenant.
func (c *Client) GetTenant(ctx context.Context) (*Tenant, error) {
	var resp Tenant
	if err := c.get(ctx, "/v1/tenant", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateTenantName renames the tenant. Requires owner role.
func (c *Client) UpdateTenantName(ctx context.Context, name string) (*Tenant, error) {
	body := map[string]any{"name": name}
	var resp Tenant
	if err := c.patch(ctx, "/v1/tenant", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Usage reports current-period usage against plan limits.
func (c *Client) Usage(ctx context.Context) (*UsageResponse, error) {
	var resp UsageResponse
	if err := c.get(ctx, "/v1/usage", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Users (admin-only)
// ---------------------------------------------------------------------------

// CreateUser creates a new user in the caller's tenant. Requires admin role.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	var resp User
	if err := c.post(ctx, "/v1/users", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListUsers lists users in the caller's tenant. Requires admin role.
func (c *Client) ListUsers(ctx context.Context, opts *ListOptions) ([]User, *Page, error) {
	var users []User
	page, err := c.getList(ctx, "/v1/users", listParams(opts), &users)
	if err != nil {
		return nil, nil, err
	}
	return users, page, nil
}

// GetUser retrieves a user by their external user ID. Requires admin role.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var resp User
	if err := c.get(ctx, "/v1/users/"+url.PathEscape(userID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateUser updates a user's name, role, or metadata. Requires admin role.
func (c *Client) UpdateUser(ctx context.Context, userID string, req UpdateUserRequest) (*User, error) {
	var resp User
	if err := c.patch(ctx, "/v1/users/"+url.PathEscape(userID), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteUser removes a user from the tenant. Requires admin role.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	return c.doDelete(ctx, "/v1/users/"+url.PathEscape(userID), nil)
}

// ---------------------------------------------------------------------------
// API keys (admin-only)
// ---------------------------------------------------------------------------

// CreateKey creates a managed API key. The raw key is only returned here.
func (c *Client) CreateKey(ctx context.Context, req CreateKeyRequest) (*APIKeyWithRawKey, error) {
	var resp APIKeyWithRawKey
	if err := c.post(ctx, "/v1/keys", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListKeys lists API keys in the caller's tenant. Requires admin role.
func (c *Client) ListKeys(ctx context.Context, opts *ListOptions) ([]APIKey, *Page, error) {
	var keys []APIKey
	page, err := c.getList(ctx, "/v1/keys", listParams(opts), &keys)
	if err != nil {
		return nil, nil, err
	}
	return keys, page, nil
}

// RevokeKey revokes an API key. Returns nil on success (204 No Content).
func (c *Client) RevokeKey(ctx context.Context, id uuid.UUID) error {
	return c.doDelete(ctx, "/v1/keys/"+id.String(), nil)
}

// RotateKey revokes a key and issues a replacement in one call.
func (c *Client) RotateKey(ctx context.Context, id uuid.UUID) (*RotateKeyResponse, error) {
	var resp RotateKeyResponse
	if err := c.post(ctx, "/v1/keys/"+id.String()+"/rotate", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Analytics (admin-only)
// ---------------------------------------------------------------------------

// TopQueries returns the ranked query clusters from the most recent
// analytics window. An empty cluster list means no window exists yet.
func (c *Client) TopQueries(ctx context.Context, limit int) (*TopQueriesResponse, error) {
	path := "/v1/analytics/top-queries"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp TopQueriesResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AnalyticsUsage returns daily message and query counts for the trailing
// window. days <= 0 uses the server default of 30.
func (c *Client) AnalyticsUsage(ctx context.Context, days int) ([]UsagePoint, error) {
	path := "/v1/analytics/usage"
	if days > 0 {
		path += "?days=" + strconv.Itoa(days)
	}
	var resp []UsagePoint
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// listEnvelope is the server's paginated list wrapper.
type listEnvelope struct {
	Data    json.RawMessage `json:"data"`
	Total   *int            `json:"total,omitempty"`
	HasMore bool            `json:"has_more"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func listParams(opts *ListOptions) url.Values {
	params := url.Values{}
	if opts != nil {
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			params.Set("offset", strconv.Itoa(opts.Offset))
		}
	}
	return params
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("anzu: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("anzu: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("anzu: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) getList(ctx context.Context, path string, params url.Values, dest any) (*Page, error) {
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("anzu: create request: %w", err)
	}

	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anzu: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anzu: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	var envelope listEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return nil, fmt.Errorf("anzu: decode list envelope: %w", err)
	}
	if envelope.Data != nil {
		if err := json.Unmarshal(envelope.Data, dest); err != nil {
			return nil, fmt.Errorf("anzu: decode list items: %w", err)
		}
	}

	page := &Page{HasMore: envelope.HasMore, Limit: envelope.Limit, Offset: envelope.Offset}
	if envelope.Total != nil {
		page.Total = *envelope.Total
	}
	return page, nil
}

func (c *Client) doDelete(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("anzu: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) patch(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("anzu: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("anzu: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("anzu: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("anzu: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("anzu: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("anzu: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// 204 No Content — nothing to decode.
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("anzu: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
