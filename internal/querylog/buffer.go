// Package querylog provides buffered query logging with COPY-based writes.
//
// Every chat and search request records one row; writing them
// individually would put a synchronous insert on the hot path, so rows
// accumulate in memory and flush in batches.
package querylog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/anzu-ai/anzu/internal/storage"
	"github.com/anzu-ai/anzu/internal/telemetry"
)

// maxBufferCapacity is the hard upper limit on buffered rows to prevent OOM.
// Past this point new rows are dropped: query logs are analytics data, and
// losing some under pressure beats failing user requests.
const maxBufferCapacity = 100_000

// Buffer accumulates query log rows in memory and flushes to the database
// using COPY when either the buffer size or flush timeout is reached.
type Buffer struct {
	db           *storage.DB
	logger       *slog.Logger
	maxSize      int
	flushTimeout time.Duration

	mu   sync.Mutex
	rows []storage.QueryLogRecord

	droppedRows atomic.Int64 // total rows dropped due to capacity
	started     atomic.Bool

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc // cancels the flushLoop goroutine
	drainCtx   context.Context    // set by Drain so final flush respects caller's deadline
}

// NewBuffer creates a new query log buffer.
func NewBuffer(db *storage.DB, logger *slog.Logger, maxSize int, flushTimeout time.Duration) *Buffer {
	return &Buffer{
		db:           db,
		logger:       logger,
		maxSize:      maxSize,
		flushTimeout: flushTimeout,
		flushCh:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start begins the background flush loop and registers OTEL metrics. Call Drain to stop.
func (b *Buffer) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		b.logger.Warn("querylog: buffer already started")
		return
	}
	b.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	go b.flushLoop(loopCtx)
}

// ErrBufferFull is returned by Record when the buffer is at capacity and
// the row was dropped.
var ErrBufferFull = errors.New("querylog: buffer full")

// Record buffers one query log row. Never blocks: at capacity the row is
// counted as dropped and ErrBufferFull returned, so callers decide whether
// losing the row matters.
func (b *Buffer) Record(rec storage.QueryLogRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.rows) >= maxBufferCapacity {
		b.droppedRows.Add(1)
		return ErrBufferFull
	}

	b.rows = append(b.rows, rec)

	if len(b.rows) >= b.maxSize {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *Buffer) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.flushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush using the drain context provided by Drain().
			// We need a non-cancelled context because ctx is already done.
			if b.drainCtx != nil {
				b.flush(b.drainCtx)
			} else {
				// Fallback for direct cancellation without Drain (e.g., tests).
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				b.flush(fallbackCtx)
				cancel()
			}
			close(b.done)
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.flushCh:
			b.flush(ctx)
		}
	}
}

func (b *Buffer) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.rows) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.rows
	b.rows = nil
	b.mu.Unlock()

	start := time.Now()
	count, err := b.db.InsertQueryLogs(ctx, batch)
	duration := time.Since(start)

	if err != nil {
		b.logger.Error("querylog: flush failed", "error", err, "batch_size", len(batch))
		// Put rows back for retry, but respect the capacity limit.
		b.mu.Lock()
		if len(b.rows)+len(batch) <= maxBufferCapacity {
			b.rows = append(batch, b.rows...)
		} else {
			b.droppedRows.Add(int64(len(batch)))
			b.logger.Error("querylog: dropping rows, buffer at capacity after flush failure", "dropped", len(batch))
		}
		b.mu.Unlock()
		return
	}

	b.logger.Debug("querylog: batch flushed",
		"batch_size", count,
		"flush_duration_ms", duration.Milliseconds(),
	)
}

// Drain signals the background flush loop to stop, waits for it to complete
// its final flush, and returns. The ctx parameter controls the maximum time
// to wait for the goroutine to finish and is passed to the final flush so it
// respects the caller's deadline.
func (b *Buffer) Drain(ctx context.Context) {
	b.drainCtx = ctx // Store so flushLoop's final flush respects caller's deadline.
	if b.cancelLoop != nil {
		b.cancelLoop() // Signal flushLoop to exit; it does a final flush before closing b.done.
	}
	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("querylog: drain timed out waiting for flush loop")
	}
}

// registerMetrics registers observable OTEL gauges for buffer health monitoring.
// Called from Start() after the global meter provider has been initialized.
func (b *Buffer) registerMetrics() {
	meter := telemetry.Meter("anzu/querylog")

	_, _ = meter.Int64ObservableGauge("anzu.querylog.depth",
		metric.WithDescription("Current number of rows in the query log buffer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("anzu.querylog.dropped_total",
		metric.WithDescription("Total rows dropped due to buffer capacity exhaustion"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.DroppedRows())
			return nil
		}),
	)
}

// Len returns the current number of buffered rows.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

// DroppedRows returns the total number of rows dropped due to buffer capacity
// exhaustion. A non-zero value indicates analytics data loss.
func (b *Buffer) DroppedRows() int64 {
	return b.droppedRows.Load()
}
