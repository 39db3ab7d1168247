// Package mcp implements the Model Context Protocol server for Anzu.
//
// The MCP server exposes the knowledge base and chat pipeline through MCP
// tools, resources, and prompts, so MCP-compatible AI agents can search a
// tenant's documents and ask grounded questions over the same service layer
// the HTTP API uses. Tenant scoping comes from the JWT claims the HTTP auth
// middleware places in the request context.
package mcp

import (
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/anzu-ai/anzu/internal/service/chat"
	"github.com/anzu-ai/anzu/internal/storage"
)

// threadWindow is how long anzu_ask keeps continuing the caller's last
// conversation when the client omits conversation_id.
const threadWindow = 30 * time.Minute

// Server wraps the MCP server with Anzu's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	db        *storage.DB
	chatSvc   *chat.Service
	logger    *slog.Logger

	threads *threadTracker
}

// New creates and configures a new MCP server with all tools, resources,
// and prompts registered.
func New(db *storage.DB, chatSvc *chat.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		db:      db,
		chatSvc: chatSvc,
		logger:  logger,
		threads: newThreadTracker(threadWindow),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"anzu",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
