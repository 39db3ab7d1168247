package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/anzu-ai/anzu/internal/model"
)

const apiKeyColumns = `id, prefix, key_hash, user_id, tenant_id, label, created_by, created_at, last_used_at, expires_at, revoked_at`

func scanAPIKey(row pgx.Row) (model.APIKey, error) {
	var k model.APIKey
	err := row.Scan(
		&k.ID, &k.Prefix, &k.KeyHash, &k.UserID, &k.TenantID,
		&k.Label, &k.CreatedBy, &k.CreatedAt, &k.LastUsedAt, &k.ExpiresAt, &k.RevokedAt,
	)
	return k, err
}

// CreateAPIKeyWithAudit inserts a new API key and a mutation audit entry
// atomically within a single transaction.
func (db *DB) CreateAPIKeyWithAudit(ctx context.Context, key model.APIKey, audit MutationAuditEntry) (model.APIKey, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("storage: begin create api key tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO api_keys (id, prefix, key_hash, user_id, tenant_id, label, created_by, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.ID, key.Prefix, key.KeyHash, key.UserID, key.TenantID,
		key.Label, key.CreatedBy, key.CreatedAt, key.ExpiresAt,
	)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("storage: create api key: %w", err)
	}

	audit.ResourceID = key.ID.String()
	audit.AfterData = key
	if err := InsertMutationAuditTx(ctx, tx, audit); err != nil {
		return model.APIKey{}, fmt.Errorf("storage: audit in create api key tx: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.APIKey{}, fmt.Errorf("storage: commit create api key tx: %w", err)
	}
	return key, nil
}

// GetAPIKeyByPrefixAndUser looks up a single active API key by (prefix, user_id).
// Used by token issuance for an O(1) pre-filter before Argon2 verification.
// Returns ErrNotFound if no matching active key exists.
// Global (no tenant_id) because this is called during auth before tenant is known.
func (db *DB) GetAPIKeyByPrefixAndUser(ctx context.Context, userID, prefix string) (model.APIKey, error) {
	k, err := scanAPIKey(db.pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+`
		 FROM api_keys
		 WHERE user_id = $1
		   AND prefix = $2
		   AND revoked_at IS NULL
		   AND (expires_at IS NULL OR expires_at > now())
		 LIMIT 1`,
		userID, prefix,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.APIKey{}, ErrNotFound
		}
		return model.APIKey{}, fmt.Errorf("storage: get api key by prefix: %w", err)
	}
	return k, nil
}

// GetActiveAPIKeysByUserIDGlobal returns all active (not revoked, not expired)
// API keys for a user_id across all tenants. Used for authentication where
// tenant isn't known yet. Similar to GetUsersByUserIDGlobal.
func (db *DB) GetActiveAPIKeysByUserIDGlobal(ctx context.Context, userID string) ([]model.APIKey, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+apiKeyColumns+`
		 FROM api_keys
		 WHERE user_id = $1
		   AND revoked_at IS NULL
		   AND (expires_at IS NULL OR expires_at > now())
		 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get api keys by user_id: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetAPIKeyByID retrieves a single API key by its UUID, scoped to a tenant.
func (db *DB) GetAPIKeyByID(ctx context.Context, tenantID uuid.UUID, keyID uuid.UUID) (model.APIKey, error) {
	k, err := scanAPIKey(db.pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1 AND tenant_id = $2`,
		keyID, tenantID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.APIKey{}, fmt.Errorf("storage: api key %s: %w", keyID, ErrNotFound)
		}
		return model.APIKey{}, fmt.Errorf("storage: get api key: %w", err)
	}
	return k, nil
}

// ListAPIKeys returns API keys for a tenant with pagination.
// Includes revoked/expired keys for admin visibility. Use the revoked_at and
// expires_at fields to filter in the UI if needed.
func (db *DB) ListAPIKeys(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]model.APIKey, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE tenant_id = $1`, tenantID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count api keys: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+apiKeyColumns+`
		 FROM api_keys WHERE tenant_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		tenantID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list api keys: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: list api keys: %w", err)
	}
	return keys, total, nil
}

// RevokeAPIKeyWithAudit sets revoked_at on an API key and records a mutation
// audit entry atomically.
func (db *DB) RevokeAPIKeyWithAudit(ctx context.Context, tenantID uuid.UUID, keyID uuid.UUID, audit MutationAuditEntry) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin revoke api key tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Fetch the key before revoking for audit.
	before, err := scanAPIKey(tx.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1 AND tenant_id = $2`,
		keyID, tenantID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("storage: api key %s: %w", keyID, ErrNotFound)
		}
		return fmt.Errorf("storage: get api key for revocation: %w", err)
	}
	if before.RevokedAt != nil {
		return fmt.Errorf("storage: api key %s already revoked", keyID)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND tenant_id = $2 AND revoked_at IS NULL`,
		keyID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("storage: revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: api key %s: %w", keyID, ErrNotFound)
	}

	audit.ResourceID = keyID.String()
	audit.BeforeData = before
	if err := InsertMutationAuditTx(ctx, tx, audit); err != nil {
		return fmt.Errorf("storage: audit in revoke api key tx: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit revoke api key tx: %w", err)
	}
	return nil
}

// RotateAPIKeyWithAudit revokes the old key and creates a new one atomically.
// Returns the newly created key.
func (db *DB) RotateAPIKeyWithAudit(ctx context.Context, tenantID uuid.UUID, oldKeyID uuid.UUID, newKey model.APIKey, audit MutationAuditEntry) (model.APIKey, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("storage: begin rotate api key tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Revoke the old key.
	tag, err := tx.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND tenant_id = $2 AND revoked_at IS NULL`,
		oldKeyID, tenantID,
	)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("storage: revoke old key during rotation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.APIKey{}, fmt.Errorf("storage: old key %s not found or already revoked: %w", oldKeyID, ErrNotFound)
	}

	// Create the new key.
	if newKey.ID == uuid.Nil {
		newKey.ID = uuid.New()
	}
	if newKey.CreatedAt.IsZero() {
		newKey.CreatedAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO api_keys (id, prefix, key_hash, user_id, tenant_id, label, created_by, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		newKey.ID, newKey.Prefix, newKey.KeyHash, newKey.UserID, newKey.TenantID,
		newKey.Label, newKey.CreatedBy, newKey.CreatedAt, newKey.ExpiresAt,
	)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("storage: create new key during rotation: %w", err)
	}

	audit.ResourceID = newKey.ID.String()
	audit.AfterData = map[string]any{
		"new_key_id":     newKey.ID,
		"revoked_key_id": oldKeyID,
	}
	if err := InsertMutationAuditTx(ctx, tx, audit); err != nil {
		return model.APIKey{}, fmt.Errorf("storage: audit in rotate api key tx: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.APIKey{}, fmt.Errorf("storage: commit rotate api key tx: %w", err)
	}
	return newKey, nil
}

// TouchAPIKeyLastUsed updates the last_used_at timestamp for an API key.
// Called on successful authentication via a managed key.
// Uses a fire-and-forget pattern — callers should not block on the result.
func (db *DB) TouchAPIKeyLastUsed(ctx context.Context, keyID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = now() WHERE id = $1`,
		keyID,
	)
	if err != nil {
		return fmt.Errorf("storage: touch api key last_used: %w", err)
	}
	return nil
}
