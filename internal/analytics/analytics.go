package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/anzu-ai/anzu/internal/model"
	"github.com/anzu-ai/anzu/internal/service/completion"
	"github.com/anzu-ai/anzu/internal/service/embedding"
	"github.com/anzu-ai/anzu/internal/storage"
	"github.com/anzu-ai/anzu/internal/telemetry"
)

const (
	// windowSize is the trailing window the aggregation looks at.
	windowSize = 7 * 24 * time.Hour

	// retention caps how long raw query logs are kept. Aggregated clusters
	// survive pruning; the raw rows do not.
	retention = 30 * 24 * time.Hour

	// backfillBatch is how many query logs get embeddings per backfill round.
	backfillBatch = 200

	// maxWindowQueries caps the rows fetched per tenant per window.
	maxWindowQueries = 10_000
)

// Job periodically aggregates logged queries into labeled clusters, one
// result set per tenant per window. Re-running a window replaces its
// clusters, so restarts and overlapping runs converge.
type Job struct {
	db        *storage.DB
	embedder  embedding.Provider
	completer completion.Client
	logger    *slog.Logger
	interval  time.Duration

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainCh    chan context.Context

	runDuration metric.Float64Histogram
}

// NewJob creates the aggregation job.
func NewJob(db *storage.DB, embedder embedding.Provider, completer completion.Client, logger *slog.Logger, interval time.Duration) *Job {
	meter := telemetry.Meter("anzu/analytics")
	runDur, _ := meter.Float64Histogram("anzu.analytics.run.duration",
		metric.WithDescription("Time to aggregate one full analytics pass (ms)"),
		metric.WithUnit("ms"),
	)
	return &Job{
		db:          db,
		embedder:    embedder,
		completer:   completer,
		logger:      logger,
		interval:    interval,
		done:        make(chan struct{}),
		drainCh:     make(chan context.Context, 1),
		runDuration: runDur,
	}
}

// Start begins the background aggregation loop. Safe to call only once;
// subsequent calls are no-ops and log a warning.
func (j *Job) Start(ctx context.Context) {
	if !j.started.CompareAndSwap(false, true) {
		j.logger.Warn("analytics: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	j.cancelLoop = cancel
	go j.runLoop(loopCtx)
}

// Drain signals the loop to stop and waits for the in-flight pass to finish
// or ctx to expire. No final pass is run on shutdown: aggregation is
// periodic and idempotent, the next start simply recomputes the window.
func (j *Job) Drain(ctx context.Context) {
	select {
	case j.drainCh <- ctx:
	default:
	}
	if j.cancelLoop != nil {
		j.cancelLoop()
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		j.logger.Warn("analytics: drain timed out")
	}
}

func (j *Job) runLoop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.once.Do(func() { close(j.done) })
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("analytics: aggregation pass failed", "error", err)
			}
		}
	}
}

// RunOnce executes one full aggregation pass: backfill missing query
// embeddings, cluster and label each active tenant's window, then prune
// expired raw logs. Per-tenant failures are logged and skipped so one bad
// tenant doesn't starve the rest.
func (j *Job) RunOnce(ctx context.Context) error {
	start := time.Now()
	defer func() {
		j.runDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	if err := j.backfillEmbeddings(ctx); err != nil {
		j.logger.Warn("analytics: embedding backfill incomplete", "error", err)
	}

	windowEnd := time.Now().UTC()
	windowStart := windowEnd.Add(-windowSize)

	tenants, err := j.db.ListTenantsWithQueries(ctx, windowStart, windowEnd)
	if err != nil {
		return fmt.Errorf("analytics: list active tenants: %w", err)
	}

	var aggregated int
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := j.aggregateTenant(ctx, tenantID, windowStart, windowEnd); err != nil {
			j.logger.Error("analytics: tenant aggregation failed", "error", err, "tenant_id", tenantID)
			continue
		}
		aggregated++
	}

	pruned, err := j.db.PruneQueryLogs(ctx, retention)
	if err != nil {
		j.logger.Warn("analytics: prune query logs", "error", err)
	} else if pruned > 0 {
		j.logger.Info("analytics: pruned expired query logs", "deleted", pruned)
	}

	if _, err := j.db.PruneQueryClusters(ctx, windowEnd.Add(-retention)); err != nil {
		j.logger.Warn("analytics: prune query clusters", "error", err)
	}

	j.logger.Info("analytics: aggregation pass complete",
		"tenants", aggregated,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// aggregateTenant clusters one tenant's window and stores labeled results.
func (j *Job) aggregateTenant(ctx context.Context, tenantID uuid.UUID, windowStart, windowEnd time.Time) error {
	logs, err := j.db.ListQueryLogsInWindow(ctx, tenantID, windowStart, windowEnd, maxWindowQueries)
	if err != nil {
		return fmt.Errorf("list query logs: %w", err)
	}

	clusters := clusterQueries(logs)

	rows := make([]model.QueryCluster, 0, len(clusters))
	for i, c := range clusters {
		label := labelCluster(ctx, j.completer, c.examples(), c.count)
		rows = append(rows, model.QueryCluster{
			TenantID:    tenantID,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			Rank:        i + 1,
			Label:       label.Label,
			Summary:     label.Summary,
			QueryCount:  c.count,
			Examples:    c.examples(),
		})
	}

	if err := j.db.ReplaceQueryClusters(ctx, tenantID, windowStart, windowEnd, rows); err != nil {
		return fmt.Errorf("replace clusters: %w", err)
	}

	// Notify subscribers after commit (non-fatal).
	payload, err := json.Marshal(map[string]any{
		"tenant_id":  tenantID,
		"window_end": windowEnd,
		"clusters":   len(rows),
	})
	if err != nil {
		j.logger.Error("analytics: marshal notify payload", "error", err)
	} else if err := j.db.Notify(ctx, storage.ChannelAnalytics, string(payload)); err != nil {
		j.logger.Error("analytics: notify subscribers", "error", err)
	}

	j.logger.Debug("analytics: tenant aggregated",
		"tenant_id", tenantID,
		"queries", len(logs),
		"clusters", len(rows),
	)
	return nil
}

// backfillEmbeddings fills in embeddings for query logs written while no
// real provider was configured, or whose embedding call failed at log time.
func (j *Job) backfillEmbeddings(ctx context.Context) error {
	for {
		logs, err := j.db.ListQueryLogsMissingEmbedding(ctx, backfillBatch)
		if err != nil {
			return fmt.Errorf("list logs missing embedding: %w", err)
		}
		if len(logs) == 0 {
			return nil
		}

		texts := make([]string, len(logs))
		for i, l := range logs {
			texts[i] = l.Query
		}
		embs, err := j.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		if len(embs) != len(logs) {
			return fmt.Errorf("embed batch: got %d embeddings for %d queries", len(embs), len(logs))
		}

		var wrote int
		for i, l := range logs {
			if isZeroVector(embs[i].Slice()) {
				// Noop provider: nothing to backfill, stop instead of looping.
				return nil
			}
			if err := j.db.UpdateQueryLogEmbedding(ctx, l.ID, embs[i]); err != nil {
				return fmt.Errorf("update embedding: %w", err)
			}
			wrote++
		}
		j.logger.Debug("analytics: backfilled query embeddings", "count", wrote)

		if len(logs) < backfillBatch {
			return nil
		}
	}
}

func isZeroVector(v []float32) bool {
	for _, val := range v {
		if val != 0 {
			return false
		}
	}
	return true
}
