package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/anzu-ai/anzu/internal/ctxutil"
	"github.com/anzu-ai/anzu/internal/model"
)

func (s *Server) registerTools() {
	// anzu_search — semantic search over the tenant's knowledge base.
	s.mcpServer.AddTool(
		mcplib.NewTool("anzu_search",
			mcplib.WithDescription(`Search the knowledge base by semantic similarity.

WHEN TO USE: When you need source material — raw excerpts from the tenant's
documents — rather than a synthesized answer. Results come back ranked with
document names and scores, so you can cite or quote them yourself.
For a ready-made grounded answer, use anzu_ask instead.

EXAMPLE QUERIES:
- "refund policy for annual plans"
- "how to rotate an API key"
- "steps to configure SSO"`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query",
				mcplib.Description("Natural language search query — describe what you're looking for"),
				mcplib.Required(),
			),
			mcplib.WithString("collection",
				mcplib.Description("Optional: restrict the search to one document collection"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(50),
				mcplib.DefaultNumber(5),
			),
		),
		s.handleSearch,
	)

	// anzu_ask — ask a question grounded in the knowledge base.
	s.mcpServer.AddTool(
		mcplib.NewTool("anzu_ask",
			mcplib.WithDescription(`Ask a question and get an answer grounded in the knowledge base.

WHEN TO USE: When you want a synthesized answer with citations rather than
raw excerpts. This runs the full retrieval pipeline: the question is embedded,
relevant document chunks are retrieved, and an answer is generated from them.

Each call is one turn in a conversation. Pass conversation_id to continue a
thread explicitly; if omitted, your most recent thread is continued
automatically (within a short window), otherwise a new one starts.

The response includes the conversation_id and the document citations the
answer was grounded in. An answer with no citations means nothing relevant
was found — treat it with caution.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("message",
				mcplib.Description("The question to ask, in natural language"),
				mcplib.Required(),
			),
			mcplib.WithString("conversation_id",
				mcplib.Description("Optional: continue a specific conversation (UUID from a prior anzu_ask response)"),
			),
			mcplib.WithString("collection",
				mcplib.Description("Optional: restrict retrieval to one document collection"),
			),
			mcplib.WithNumber("top_k",
				mcplib.Description("How many document chunks to retrieve for grounding"),
				mcplib.Min(1),
				mcplib.Max(20),
			),
		),
		s.handleAsk,
	)

	// anzu_list_documents — inventory of the knowledge base.
	s.mcpServer.AddTool(
		mcplib.NewTool("anzu_list_documents",
			mcplib.WithDescription(`List the documents in the knowledge base.

WHEN TO USE: To see what source material is available before searching or
asking — document names, collections, and ingestion status. Documents still
"pending" or "processing" are not searchable yet; "failed" ones never will
be without a re-upload.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("collection",
				mcplib.Description("Optional: only list documents in this collection"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum documents to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleListDocuments,
	)
}

func (s *Server) handleSearch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims := ctxutil.ClaimsFromContext(ctx)
	if claims == nil {
		return errorResult("not authenticated"), nil
	}

	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	collection := request.GetString("collection", "")
	limit := request.GetInt("limit", 5)

	tenant, err := s.db.GetTenant(ctx, claims.TenantID)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to resolve tenant: %v", err)), nil
	}

	matches, err := s.chatSvc.Search(ctx, tenant, claims.UserID, model.SearchRequest{
		Query:      query,
		Collection: collection,
		TopK:       limit,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}

	compacted := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		compacted = append(compacted, compactMatch(m))
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"results": compacted,
		"total":   len(compacted),
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleAsk(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims := ctxutil.ClaimsFromContext(ctx)
	if claims == nil {
		return errorResult("not authenticated"), nil
	}

	message := request.GetString("message", "")
	if message == "" {
		return errorResult("message is required"), nil
	}
	if err := model.ValidateChatMessage(message); err != nil {
		return errorResult(err.Error()), nil
	}

	// Chat writes messages, so the member role floor applies here the same
	// way it does on POST /v1/chat. The HTTP mount only enforces viewer+.
	if !model.RoleAtLeast(claims.Role, model.RoleMember) {
		return errorResult("asking requires the member role or above"), nil
	}

	var convID *uuid.UUID
	if raw := request.GetString("conversation_id", ""); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return errorResult("invalid conversation_id"), nil
		}
		convID = &id
	} else if id, ok := s.threads.Lookup(claims.TenantID, claims.UserID); ok {
		convID = &id
	}

	tenant, err := s.db.GetTenant(ctx, claims.TenantID)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to resolve tenant: %v", err)), nil
	}

	resp, err := s.chatSvc.Chat(ctx, tenant, claims.UserID, model.ChatRequest{
		ConversationID: convID,
		Message:        message,
		Collection:     request.GetString("collection", ""),
		TopK:           request.GetInt("top_k", 0),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("ask failed: %v", err)), nil
	}

	s.threads.Remember(claims.TenantID, claims.UserID, resp.ConversationID)

	citations := make([]map[string]any, 0, len(resp.Citations))
	for _, c := range resp.Citations {
		citations = append(citations, map[string]any{
			"document_id":   c.DocumentID,
			"document_name": c.DocumentName,
			"score":         c.Score,
		})
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"conversation_id": resp.ConversationID,
		"answer":          resp.Message.Content,
		"citations":       citations,
	}, "", "  ")

	contents := []mcplib.Content{
		mcplib.TextContent{Type: "text", Text: string(resultData)},
	}

	if len(resp.Citations) == 0 {
		contents = append(contents, mcplib.TextContent{
			Type: "text",
			Text: "NOTE: This answer has no citations — nothing relevant was found in the " +
				"knowledge base. Verify it independently, or use anzu_list_documents to " +
				"check whether the material you need has been uploaded.",
		})
	}

	return &mcplib.CallToolResult{Content: contents}, nil
}

func (s *Server) handleListDocuments(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims := ctxutil.ClaimsFromContext(ctx)
	if claims == nil {
		return errorResult("not authenticated"), nil
	}

	collection := request.GetString("collection", "")
	limit := request.GetInt("limit", 20)

	docs, total, err := s.db.ListDocuments(ctx, claims.TenantID, collection, limit, 0)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list documents: %v", err)), nil
	}

	compacted := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		compacted = append(compacted, compactDocument(d))
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"documents": compacted,
		"total":     total,
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}
