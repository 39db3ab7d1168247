package querylog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/anzu-ai/anzu/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestBufferDoubleStartIsNoop(t *testing.T) {
	// Buffer.Start() must be idempotent — a second call logs a warning and returns
	// without spawning a second flush goroutine or panicking on double close(b.done).
	buf := NewBuffer(nil, testLogger(), 100, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	buf.Start(ctx) // First call — should work.
	buf.Start(ctx) // Second call — should be a no-op, no panic.

	if !buf.started.Load() {
		t.Fatal("expected started to be true after Start()")
	}

	cancel()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer drainCancel()
	buf.Drain(drainCtx)
}

func TestBufferRecordAssignsIdentity(t *testing.T) {
	buf := NewBuffer(nil, testLogger(), 100, time.Minute)

	buf.Record(storage.QueryLogRecord{})

	buf.mu.Lock()
	defer buf.mu.Unlock()
	if len(buf.rows) != 1 {
		t.Fatalf("expected 1 buffered row, got %d", len(buf.rows))
	}
	if buf.rows[0].ID == uuid.Nil {
		t.Error("expected ID to be assigned")
	}
	if buf.rows[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be assigned")
	}
}

func TestBufferDropsAtCapacity(t *testing.T) {
	buf := NewBuffer(nil, testLogger(), maxBufferCapacity+1, time.Minute)

	// Pre-fill to capacity directly to avoid looping 100k Record calls
	// through the size-trigger select.
	buf.mu.Lock()
	buf.rows = make([]storage.QueryLogRecord, maxBufferCapacity)
	buf.mu.Unlock()

	if err := buf.Record(storage.QueryLogRecord{}); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}

	if got := buf.Len(); got != maxBufferCapacity {
		t.Errorf("expected buffer to stay at capacity %d, got %d", maxBufferCapacity, got)
	}
	if got := buf.DroppedRows(); got != 1 {
		t.Errorf("expected 1 dropped row, got %d", got)
	}
}

func TestBufferSizeTriggerSignalsFlush(t *testing.T) {
	buf := NewBuffer(nil, testLogger(), 2, time.Minute)

	buf.Record(storage.QueryLogRecord{})
	select {
	case <-buf.flushCh:
		t.Fatal("flush signalled before reaching maxSize")
	default:
	}

	buf.Record(storage.QueryLogRecord{})
	select {
	case <-buf.flushCh:
	default:
		t.Fatal("expected flush signal after reaching maxSize")
	}
}

func TestBufferLenAndDroppedRows(t *testing.T) {
	buf := NewBuffer(nil, testLogger(), 100, time.Minute)

	if buf.Len() != 0 {
		t.Errorf("expected empty buffer, got %d", buf.Len())
	}
	if buf.DroppedRows() != 0 {
		t.Errorf("expected zero dropped rows, got %d", buf.DroppedRows())
	}

	for i := 0; i < 3; i++ {
		buf.Record(storage.QueryLogRecord{})
	}
	if buf.Len() != 3 {
		t.Errorf("expected 3 buffered rows, got %d", buf.Len())
	}
}
