package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/anzu-ai/anzu/internal/ctxutil"
)

func (s *Server) registerResources() {
	// anzu://documents/recent — latest knowledge base documents for the tenant.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"anzu://documents/recent",
			"Recent Documents",
			mcplib.WithResourceDescription("Most recently uploaded knowledge base documents and their ingestion status"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleDocumentsRecent,
	)

	// anzu://conversations/recent — the caller's recent conversations.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"anzu://conversations/recent",
			"Recent Conversations",
			mcplib.WithResourceDescription("Your most recent chat conversations"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleConversationsRecent,
	)

	// anzu://collections/{name}/documents — documents within one collection.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"anzu://collections/{name}/documents",
			"Collection Documents",
			mcplib.WithTemplateDescription("Documents in a specific knowledge base collection"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleCollectionDocuments,
	)
}

func (s *Server) handleDocumentsRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	claims := ctxutil.ClaimsFromContext(ctx)
	if claims == nil {
		return nil, fmt.Errorf("mcp: recent documents: not authenticated")
	}

	docs, total, err := s.db.ListDocuments(ctx, claims.TenantID, "", 20, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent documents: %w", err)
	}

	compacted := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		compacted = append(compacted, compactDocument(d))
	}

	data, err := json.MarshalIndent(map[string]any{
		"documents": compacted,
		"total":     total,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal documents: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "anzu://documents/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleConversationsRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	claims := ctxutil.ClaimsFromContext(ctx)
	if claims == nil {
		return nil, fmt.Errorf("mcp: recent conversations: not authenticated")
	}

	convs, total, err := s.db.ListConversations(ctx, claims.TenantID, claims.UserID, 10, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent conversations: %w", err)
	}

	data, err := json.MarshalIndent(map[string]any{
		"conversations": convs,
		"total":         total,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal conversations: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "anzu://conversations/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// parseCollectionURI extracts the collection name from
// anzu://collections/{name}/documents.
func parseCollectionURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "anzu://collections/")
	if !ok {
		return "", fmt.Errorf("mcp: invalid collection URI: %s", uri)
	}
	name, ok := strings.CutSuffix(rest, "/documents")
	if !ok {
		return "", fmt.Errorf("mcp: invalid collection URI: %s", uri)
	}
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("mcp: invalid collection name in URI: %s", uri)
	}
	return name, nil
}

func (s *Server) handleCollectionDocuments(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	claims := ctxutil.ClaimsFromContext(ctx)
	if claims == nil {
		return nil, fmt.Errorf("mcp: collection documents: not authenticated")
	}

	uri := request.Params.URI
	name, err := parseCollectionURI(uri)
	if err != nil {
		return nil, err
	}

	docs, total, err := s.db.ListDocuments(ctx, claims.TenantID, name, 50, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: collection documents: %w", err)
	}

	compacted := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		compacted = append(compacted, compactDocument(d))
	}

	data, err := json.MarshalIndent(map[string]any{
		"collection": name,
		"documents":  compacted,
		"total":      total,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal collection: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
