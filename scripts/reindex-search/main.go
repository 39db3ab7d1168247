// Command reindex-search enqueues every embedded chunk into the search outbox
// so the external Qdrant index can be rebuilt from Postgres. Run this after
// changing the Qdrant collection, restoring a database backup, or recovering
// from index corruption.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run ./scripts/reindex-search
//
// The running server's outbox worker picks up the entries and upserts them in
// batches; no restart is required. Upserts are idempotent in Qdrant, so the
// script is safe to run multiple times — worst case the worker re-writes
// points that are already current.
//
// Chunks without an embedding are skipped: they were ingested while no
// embedding provider was available and are picked up by the startup backfill
// instead.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	var pending int64
	if err := pool.QueryRow(ctx,
		`SELECT count(*) FROM search_outbox WHERE locked_until IS NULL`,
	).Scan(&pending); err != nil {
		return fmt.Errorf("count pending: %w", err)
	}
	if pending > 0 {
		fmt.Printf("warning: %d entries already pending in the outbox; they will be processed first\n", pending)
	}

	tag, err := pool.Exec(ctx,
		`INSERT INTO search_outbox (chunk_id, tenant_id, operation)
		 SELECT id, tenant_id, 'upsert' FROM chunks
		 WHERE embedding IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	var skipped int64
	if err := pool.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE embedding IS NULL`,
	).Scan(&skipped); err != nil {
		return fmt.Errorf("count unembedded: %w", err)
	}

	fmt.Printf("enqueued %d chunks for reindexing", tag.RowsAffected())
	if skipped > 0 {
		fmt.Printf(" (%d skipped: no embedding yet)", skipped)
	}
	fmt.Println()
	return nil
}
