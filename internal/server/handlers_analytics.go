package server

import (
	"net/http"

	"github.com/anzu-ai/anzu/internal/model"
)

// HandleTopQueries handles GET /v1/analytics/top-queries (admin+).
// Returns the ranked query clusters from the most recent aggregation
// window. An empty cluster list means the job has not produced a
// window for this tenant yet.
func (h *Handlers) HandleTopQueries(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())
	limit := queryLimit(r, 10)

	clusters, err := h.db.LatestQueryClusters(r.Context(), tenant.ID, limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to load query clusters", err)
		return
	}

	resp := model.TopQueriesResponse{Clusters: clusters}
	if len(clusters) > 0 {
		resp.WindowStart = clusters[0].WindowStart
		resp.WindowEnd = clusters[0].WindowEnd
	}
	if resp.Clusters == nil {
		resp.Clusters = []model.QueryCluster{}
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// HandleAnalyticsUsage handles GET /v1/analytics/usage (admin+).
// Returns daily message and query counts, newest day last. ?days=
// selects the lookback window (default 30, max 365).
func (h *Handlers) HandleAnalyticsUsage(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())

	days := queryInt(r, "days", 30)
	if days < 1 {
		days = 1
	}
	if days > 365 {
		days = 365
	}

	points, err := h.db.DailyUsage(r.Context(), tenant.ID, days)
	if err != nil {
		h.writeInternalError(w, r, "failed to load usage series", err)
		return
	}
	if points == nil {
		points = []model.UsagePoint{}
	}

	writeJSON(w, r, http.StatusOK, points)
}
