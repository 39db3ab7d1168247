package anzu

import (
	"github.com/google/uuid"
)

// Role is a user's RBAC role within a tenant.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleOwner         Role = "owner"
	RoleAdmin         Role = "admin"
	RoleMember        Role = "member"
	RoleViewer        Role = "viewer"
)

// ChatMessage is one turn in a completion request.
// Role is "system", "user", or "assistant".
type ChatMessage struct {
	Role    string
	Content string
}

// SearchResult holds a chunk ID and similarity score from a Searcher.
// The App hydrates chunk content and document names from Postgres, so an
// external index only needs to return IDs. Chunks deleted between the index
// query and hydration simply drop out of the result set.
type SearchResult struct {
	ChunkID uuid.UUID
	Score   float32
}
