package storage

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// Advisory lock key serializing migration runs across replicas.
const migrationLockKey = 0x616e7a75 // "anzu"

// RunMigrations executes unapplied .sql files from the provided
// filesystem in lexical order. Applied files are tracked in a
// schema_migrations table so each runs at most once, and the whole run
// holds a session advisory lock so concurrent replicas starting at the
// same time don't race each other. Forward-only; production schema
// management beyond this should use Atlas.
func (db *DB) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("storage: acquire migration conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("storage: acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	applied, err := db.loadAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("storage: load applied migrations: %w", err)
	}

	names, err := migrationFiles(migrationsFS)
	if err != nil {
		return err
	}

	for _, name := range names {
		if applied[name] {
			db.logger.Debug("migration already applied, skipping", "file", name)
			continue
		}

		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("storage: read migration %s: %w", name, err)
		}

		db.logger.Info("running migration", "file", name)

		// File body and the tracking row commit together, so a failed
		// statement leaves the file unrecorded and retried next start.
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, string(content)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("storage: execute migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1)`, name,
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("storage: record migration %s: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit migration %s: %w", name, err)
		}
	}

	return nil
}

func migrationFiles(migrationsFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("storage: read migrations dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (db *DB) loadAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := db.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
