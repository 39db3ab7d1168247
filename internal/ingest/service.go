// Package ingest runs the document processing pipeline: extract text,
// split into chunks, embed, and store.
//
// Uploads return immediately with a pending document; a bounded worker
// pool processes them in the background and pushes status transitions
// over Postgres NOTIFY so clients can follow along via SSE.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/anzu-ai/anzu/internal/model"
	"github.com/anzu-ai/anzu/internal/service/embedding"
	"github.com/anzu-ai/anzu/internal/storage"
	"github.com/anzu-ai/anzu/internal/telemetry"
)

// Options configures the pipeline.
type Options struct {
	ChunkSize    int // Max chunk length in runes.
	ChunkOverlap int // Runes repeated between adjacent chunks.
	Workers      int // Concurrent document processors.
	BatchSize    int // Texts per embedding API call.
	QueueDepth   int // Pending uploads before Enqueue blocks.
}

func (o *Options) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1500
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = 200
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 64
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 256
	}
}

// job is one queued upload. Raw bytes live only in memory; a crash before
// processing completes requires a re-upload.
type job struct {
	doc     model.Document
	content []byte
}

// Service coordinates the ingestion worker pool.
type Service struct {
	db       *storage.DB
	embedder embedding.Provider
	opts     Options
	logger   *slog.Logger

	queue chan job

	ingestDuration metric.Float64Histogram
}

// New creates the ingestion service. Call Run to start the workers.
func New(db *storage.DB, embedder embedding.Provider, opts Options, logger *slog.Logger) *Service {
	opts.applyDefaults()

	s := &Service{
		db:       db,
		embedder: embedder,
		opts:     opts,
		logger:   logger,
		queue:    make(chan job, opts.QueueDepth),
	}

	meter := telemetry.Meter("anzu/ingest")
	s.ingestDuration, _ = meter.Float64Histogram("anzu.ingest.duration",
		metric.WithDescription("Time to process one document (ms)"),
		metric.WithUnit("ms"),
	)
	_, _ = meter.Int64ObservableGauge("anzu.ingest.queue_depth",
		metric.WithDescription("Number of uploads waiting for a worker"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(len(s.queue)))
			return nil
		}),
	)

	return s
}

// Enqueue hands a pending document to the worker pool. Blocks when the
// queue is full so upload pressure propagates to the client as latency
// rather than dropped work.
func (s *Service) Enqueue(ctx context.Context, doc model.Document, content []byte) error {
	select {
	case s.queue <- job{doc: doc, content: content}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ingest: enqueue %s: %w", doc.ID, ctx.Err())
	}
}

// Run processes queued documents until ctx is cancelled. Documents still
// queued at shutdown are marked failed on next startup by RecoverStuck.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case j := <-s.queue:
					s.process(ctx, j)
				}
			}
		})
	}
	return g.Wait()
}

// RecoverStuck fails documents left pending or processing by a previous
// run. Call once before Run.
func (s *Service) RecoverStuck(ctx context.Context) error {
	n, err := s.db.FailStuckDocuments(ctx, "processing interrupted by restart; re-upload the document")
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Warn("failed stuck documents from previous run", "count", n)
	}
	return nil
}

func (s *Service) process(ctx context.Context, j job) {
	start := time.Now()
	log := s.logger.With("document_id", j.doc.ID, "tenant_id", j.doc.TenantID)

	if err := s.db.SetDocumentStatus(ctx, j.doc.TenantID, j.doc.ID, model.DocumentProcessing, nil); err != nil {
		log.Error("mark document processing", "error", err)
		return
	}
	s.notifyStatus(ctx, j.doc, model.DocumentProcessing, "")

	chunkCount, err := s.buildChunks(ctx, j)
	if err != nil {
		log.Error("ingest document", "error", err)
		msg := err.Error()
		if serr := s.db.SetDocumentStatus(ctx, j.doc.TenantID, j.doc.ID, model.DocumentFailed, &msg); serr != nil {
			log.Error("mark document failed", "error", serr)
		}
		s.notifyStatus(ctx, j.doc, model.DocumentFailed, msg)
		return
	}

	s.ingestDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	log.Info("document ingested", "chunks", chunkCount, "duration_ms", time.Since(start).Milliseconds())
	s.notifyStatus(ctx, j.doc, model.DocumentReady, "")
}

// buildChunks runs extract → chunk → embed → store and returns the chunk count.
func (s *Service) buildChunks(ctx context.Context, j job) (int, error) {
	text, err := ExtractText(j.doc.ContentType, j.content)
	if err != nil {
		return 0, err
	}

	pieces := SplitChunks(text, s.opts.ChunkSize, s.opts.ChunkOverlap)
	if len(pieces) == 0 {
		return 0, fmt.Errorf("ingest: document has no extractable text")
	}

	records := make([]storage.ChunkRecord, len(pieces))
	for i, p := range pieces {
		records[i] = storage.ChunkRecord{
			TenantID:   j.doc.TenantID,
			DocumentID: j.doc.ID,
			Collection: j.doc.Collection,
			ChunkIndex: i,
			Content:    p,
			TokenCount: EstimateTokens(p),
		}
	}

	for lo := 0; lo < len(pieces); lo += s.opts.BatchSize {
		hi := lo + s.opts.BatchSize
		if hi > len(pieces) {
			hi = len(pieces)
		}
		vecs, err := s.embedder.EmbedBatch(ctx, pieces[lo:hi])
		if err != nil {
			return 0, fmt.Errorf("ingest: embed batch %d-%d: %w", lo, hi, err)
		}
		for i := range vecs {
			v := vecs[i]
			if isZeroVector(v.Slice()) {
				// Noop provider: leave the column NULL so the chunk stays
				// eligible for backfill once a real provider is configured.
				continue
			}
			records[lo+i].Embedding = &v
		}
	}

	if err := s.db.ReplaceDocumentChunks(ctx, j.doc.TenantID, j.doc.ID, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// statusEvent is the NOTIFY payload for document status transitions.
type statusEvent struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

func (s *Service) notifyStatus(ctx context.Context, doc model.Document, status model.DocumentStatus, errMsg string) {
	payload, err := json.Marshal(statusEvent{
		TenantID:   doc.TenantID,
		DocumentID: doc.ID,
		Status:     string(status),
		Error:      errMsg,
	})
	if err != nil {
		return
	}
	if err := s.db.Notify(ctx, storage.ChannelDocuments, string(payload)); err != nil {
		s.logger.Warn("notify document status", "error", err, "document_id", doc.ID)
	}
}

// backfillBatch bounds one pass of BackfillEmbeddings.
const backfillBatch = 200

// BackfillEmbeddings embeds chunks that were ingested without embeddings
// (noop provider) now that a real provider is configured. Processes in
// batches until none remain or ctx is cancelled.
func (s *Service) BackfillEmbeddings(ctx context.Context) (int, error) {
	total := 0
	for {
		chunks, err := s.db.ListChunksMissingEmbedding(ctx, backfillBatch)
		if err != nil {
			return total, err
		}
		if len(chunks) == 0 {
			return total, nil
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return total, fmt.Errorf("ingest: backfill embed: %w", err)
		}

		for i, c := range chunks {
			if isZeroVector(vecs[i].Slice()) {
				// Noop provider: writing zeros would take these chunks out of
				// the missing-embedding set for good. Stop instead of looping.
				return total, nil
			}
			if err := s.db.UpdateChunkEmbedding(ctx, c.ID, vecs[i]); err != nil {
				return total, err
			}
			total++
		}

		if len(chunks) < backfillBatch {
			return total, nil
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
