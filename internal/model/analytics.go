package model

import (
	"time"

	"github.com/google/uuid"
)

// QuerySource distinguishes where a logged query came from.
type QuerySource string

const (
	QuerySourceChat   QuerySource = "chat"
	QuerySourceSearch QuerySource = "search"
)

// QueryLog is one recorded user query. Rows are written by a buffered
// batch writer; the embedding may lag behind insertion and is filled
// in by the aggregation job when missing.
type QueryLog struct {
	ID             uuid.UUID   `json:"id"`
	TenantID       uuid.UUID   `json:"tenant_id"`
	UserID         string      `json:"user_id"`
	Source         QuerySource `json:"source"`
	Query          string      `json:"query"`
	ConversationID *uuid.UUID  `json:"conversation_id,omitempty"`
	ResultCount    int         `json:"result_count"`
	CreatedAt      time.Time   `json:"created_at"`
}

// QueryCluster is one aggregated group of similar queries, labeled by
// the LLM and ranked by size within its aggregation window.
type QueryCluster struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Rank        int       `json:"rank"`
	Label       string    `json:"label"`
	Summary     string    `json:"summary,omitempty"`
	QueryCount  int       `json:"query_count"`
	Examples    []string  `json:"examples"`
	CreatedAt   time.Time `json:"created_at"`
}

// TopQueriesResponse is the response for GET /v1/analytics/top-queries.
type TopQueriesResponse struct {
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	Clusters    []QueryCluster `json:"clusters"`
}

// UsagePoint is one day of activity counts for GET /v1/analytics/usage.
type UsagePoint struct {
	Day          time.Time `json:"day"`
	MessageCount int       `json:"message_count"`
	QueryCount   int       `json:"query_count"`
}
