package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anzu-ai/anzu/internal/model"
)

// ReplaceQueryClusters atomically swaps a tenant's clusters for an
// aggregation window. Re-running the job for the same window is idempotent.
func (db *DB) ReplaceQueryClusters(ctx context.Context, tenantID uuid.UUID, windowStart, windowEnd time.Time, clusters []model.QueryCluster) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin replace clusters tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM query_clusters
		 WHERE tenant_id = $1 AND window_start = $2 AND window_end = $3`,
		tenantID, windowStart, windowEnd,
	); err != nil {
		return fmt.Errorf("storage: delete old clusters: %w", err)
	}

	now := time.Now().UTC()
	for _, c := range clusters {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO query_clusters
			 (id, tenant_id, window_start, window_end, rank, label, summary, query_count, examples, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			id, tenantID, windowStart, windowEnd, c.Rank, c.Label, c.Summary, c.QueryCount, c.Examples, now,
		); err != nil {
			return fmt.Errorf("storage: insert cluster: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// PruneQueryClusters removes cluster windows that ended before the cutoff,
// across all tenants. Keeps the table bounded while retaining recent history.
func (db *DB) PruneQueryClusters(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM query_clusters WHERE window_end < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: prune query clusters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LatestQueryClusters returns the clusters of a tenant's most recent
// aggregation window, ordered by rank.
func (db *DB) LatestQueryClusters(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.QueryCluster, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, tenant_id, window_start, window_end, rank, label, summary, query_count, examples, created_at
		 FROM query_clusters
		 WHERE tenant_id = $1
		   AND window_end = (SELECT MAX(window_end) FROM query_clusters WHERE tenant_id = $1)
		 ORDER BY rank ASC
		 LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: latest query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []model.QueryCluster
	for rows.Next() {
		var c model.QueryCluster
		if err := rows.Scan(&c.ID, &c.TenantID, &c.WindowStart, &c.WindowEnd, &c.Rank, &c.Label, &c.Summary, &c.QueryCount, &c.Examples, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan query cluster: %w", err)
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}
