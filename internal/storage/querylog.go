package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/anzu-ai/anzu/internal/model"
)

// QueryLogRecord is a query log row together with its embedding, used for
// bulk insert and for the aggregation job.
type QueryLogRecord struct {
	model.QueryLog
	Embedding *pgvector.Vector
}

// InsertQueryLogs bulk-inserts query log rows using the COPY protocol.
// Called by the buffered writer on flush; ordering within a batch is not
// significant.
func (db *DB) InsertQueryLogs(ctx context.Context, logs []QueryLogRecord) (int64, error) {
	if len(logs) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(logs))
	for i, l := range logs {
		id := l.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		rows[i] = []any{
			id, l.TenantID, l.UserID, string(l.Source), l.Query,
			l.ConversationID, l.ResultCount, l.Embedding, l.CreatedAt,
		}
	}

	copyCtx, copyCancel := context.WithTimeout(ctx, 30*time.Second)
	defer copyCancel()

	n, err := db.pool.CopyFrom(
		copyCtx,
		pgx.Identifier{"query_logs"},
		[]string{"id", "tenant_id", "user_id", "source", "query", "conversation_id", "result_count", "embedding", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: copy query logs: %w", err)
	}
	return n, nil
}

// ListTenantsWithQueries returns the tenants that logged at least one query
// in the window. Drives the per-tenant aggregation loop.
func (db *DB) ListTenantsWithQueries(ctx context.Context, start, end time.Time) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT tenant_id FROM query_logs
		 WHERE created_at >= $1 AND created_at < $2`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list tenants with queries: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListQueryLogsInWindow returns a tenant's embedded queries in the window,
// oldest first. Rows still missing an embedding are excluded; the backfill
// picks those up before the next aggregation run.
func (db *DB) ListQueryLogsInWindow(ctx context.Context, tenantID uuid.UUID, start, end time.Time, limit int) ([]QueryLogRecord, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, tenant_id, user_id, source, query, conversation_id, result_count, embedding, created_at
		 FROM query_logs
		 WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3 AND embedding IS NOT NULL
		 ORDER BY created_at ASC
		 LIMIT $4`,
		tenantID, start, end, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list query logs: %w", err)
	}
	defer rows.Close()

	var logs []QueryLogRecord
	for rows.Next() {
		var l QueryLogRecord
		if err := rows.Scan(&l.ID, &l.TenantID, &l.UserID, &l.Source, &l.Query, &l.ConversationID, &l.ResultCount, &l.Embedding, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan query log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ListQueryLogsMissingEmbedding returns query logs with no embedding,
// oldest first.
func (db *DB) ListQueryLogsMissingEmbedding(ctx context.Context, limit int) ([]QueryLogRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, tenant_id, user_id, source, query, conversation_id, result_count, created_at
		 FROM query_logs
		 WHERE embedding IS NULL
		 ORDER BY created_at ASC
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list query logs missing embedding: %w", err)
	}
	defer rows.Close()

	var logs []QueryLogRecord
	for rows.Next() {
		var l QueryLogRecord
		if err := rows.Scan(&l.ID, &l.TenantID, &l.UserID, &l.Source, &l.Query, &l.ConversationID, &l.ResultCount, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan query log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// UpdateQueryLogEmbedding stores a backfilled query embedding.
func (db *DB) UpdateQueryLogEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE query_logs SET embedding = $1 WHERE id = $2`, embedding, id,
	)
	if err != nil {
		return fmt.Errorf("storage: update query log embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: query log %s: %w", id, ErrNotFound)
	}
	return nil
}

// DailyUsage returns per-day message and query counts for the last n days,
// including days with no activity.
func (db *DB) DailyUsage(ctx context.Context, tenantID uuid.UUID, days int) ([]model.UsagePoint, error) {
	if days <= 0 {
		days = 30
	}
	if days > 365 {
		days = 365
	}

	rows, err := db.pool.Query(ctx,
		`SELECT d.day,
		   COALESCE(m.n, 0) AS message_count,
		   COALESCE(q.n, 0) AS query_count
		 FROM generate_series(
		   date_trunc('day', now()) - ($2::int - 1) * interval '1 day',
		   date_trunc('day', now()),
		   interval '1 day'
		 ) AS d(day)
		 LEFT JOIN (
		   SELECT date_trunc('day', created_at) AS day, COUNT(*) AS n
		   FROM messages WHERE tenant_id = $1 AND role = 'user'
		   GROUP BY 1
		 ) m ON m.day = d.day
		 LEFT JOIN (
		   SELECT date_trunc('day', created_at) AS day, COUNT(*) AS n
		   FROM query_logs WHERE tenant_id = $1
		   GROUP BY 1
		 ) q ON q.day = d.day
		 ORDER BY d.day ASC`,
		tenantID, days,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: daily usage: %w", err)
	}
	defer rows.Close()

	var points []model.UsagePoint
	for rows.Next() {
		var p model.UsagePoint
		if err := rows.Scan(&p.Day, &p.MessageCount, &p.QueryCount); err != nil {
			return nil, fmt.Errorf("storage: scan usage point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// PruneQueryLogs deletes query logs older than the retention period.
// Returns the number of rows removed.
func (db *DB) PruneQueryLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM query_logs WHERE created_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: prune query logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
