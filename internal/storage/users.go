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

const userColumns = `id, user_id, tenant_id, name, role, api_key_hash, metadata, created_at, updated_at, last_seen`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID, &u.UserID, &u.TenantID, &u.Name, &u.Role, &u.APIKeyHash,
		&u.Metadata, &u.CreatedAt, &u.UpdatedAt, &u.LastSeen,
	)
	return u, err
}

// CreateUser inserts a new user.
func (db *DB) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.Metadata == nil {
		user.Metadata = map[string]any{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (id, user_id, tenant_id, name, role, api_key_hash, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.UserID, user.TenantID, user.Name, string(user.Role),
		user.APIKeyHash, user.Metadata, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("storage: create user %q: %w", user.UserID, ErrConflict)
		}
		return model.User{}, fmt.Errorf("storage: create user: %w", err)
	}
	return user, nil
}

// CreateUserWithAudit inserts a new user and a mutation audit entry
// atomically within a single transaction.
func (db *DB) CreateUserWithAudit(ctx context.Context, user model.User, audit MutationAuditEntry) (model.User, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.User{}, fmt.Errorf("storage: begin create user tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.Metadata == nil {
		user.Metadata = map[string]any{}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO users (id, user_id, tenant_id, name, role, api_key_hash, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.UserID, user.TenantID, user.Name, string(user.Role),
		user.APIKeyHash, user.Metadata, user.CreatedAt, user.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("storage: create user %q: %w", user.UserID, ErrConflict)
		}
		return model.User{}, fmt.Errorf("storage: create user: %w", err)
	}

	audit.ResourceID = user.UserID
	audit.AfterData = user
	if err := InsertMutationAuditTx(ctx, tx, audit); err != nil {
		return model.User{}, fmt.Errorf("storage: audit in create user tx: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.User{}, fmt.Errorf("storage: commit create user tx: %w", err)
	}
	return user, nil
}

// GetUsersByUserIDGlobal returns all users with the given user_id across all tenants.
// Used ONLY for authentication (token issuance) where tenant_id isn't known yet.
// Returns all matches so the caller can verify credentials against each one,
// preventing cross-tenant confusion when user_ids collide across tenants.
func (db *DB) GetUsersByUserIDGlobal(ctx context.Context, userID string) ([]model.User, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = $1 ORDER BY created_at ASC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get users by user_id: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: get users by user_id: %w", err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("storage: user %s: %w", userID, ErrNotFound)
	}
	return users, nil
}

// GetUserByUserID retrieves a user by user_id within a tenant.
func (db *DB) GetUserByUserID(ctx context.Context, tenantID uuid.UUID, userID string) (model.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, fmt.Errorf("storage: user %s: %w", userID, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("storage: get user: %w", err)
	}
	return u, nil
}

// GetUserByID retrieves a user by its internal UUID, scoped to a tenant for
// defense-in-depth tenant isolation.
func (db *DB) GetUserByID(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (model.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, fmt.Errorf("storage: user %s: %w", id, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("storage: get user by id: %w", err)
	}
	return u, nil
}

// ListUsers returns users within a tenant with pagination.
// limit is clamped to [1, 1000] with a default of 200; offset must be non-negative.
func (db *DB) ListUsers(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]model.User, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		tenantID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the number of registered users in a tenant.
func (db *DB) CountUsers(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE tenant_id = $1`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count users: %w", err)
	}
	return count, nil
}

// UpdateUser performs a partial update of a user's name, role, and/or metadata.
// Only non-nil fields are applied (COALESCE pattern). Returns the updated user.
func (db *DB) UpdateUser(ctx context.Context, tenantID uuid.UUID, userID string, name *string, role *model.UserRole, metadata map[string]any) (model.User, error) {
	var roleStr *string
	if role != nil {
		s := string(*role)
		roleStr = &s
	}

	u, err := scanUser(db.pool.QueryRow(ctx,
		`UPDATE users
		 SET name = COALESCE($1, name),
		     role = COALESCE($2, role),
		     metadata = CASE WHEN $3::jsonb IS NOT NULL THEN metadata || $3::jsonb ELSE metadata END,
		     updated_at = now()
		 WHERE tenant_id = $4 AND user_id = $5
		 RETURNING `+userColumns,
		name, roleStr, metadata, tenantID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, fmt.Errorf("storage: user %s: %w", userID, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("storage: update user: %w", err)
	}
	return u, nil
}

// UpdateUserWithAudit performs a partial update and inserts a mutation audit
// entry atomically within a single transaction.
func (db *DB) UpdateUserWithAudit(ctx context.Context, tenantID uuid.UUID, userID string, name *string, role *model.UserRole, metadata map[string]any, audit MutationAuditEntry) (model.User, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.User{}, fmt.Errorf("storage: begin update user tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var roleStr *string
	if role != nil {
		s := string(*role)
		roleStr = &s
	}

	u, err := scanUser(tx.QueryRow(ctx,
		`UPDATE users
		 SET name = COALESCE($1, name),
		     role = COALESCE($2, role),
		     metadata = CASE WHEN $3::jsonb IS NOT NULL THEN metadata || $3::jsonb ELSE metadata END,
		     updated_at = now()
		 WHERE tenant_id = $4 AND user_id = $5
		 RETURNING `+userColumns,
		name, roleStr, metadata, tenantID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, fmt.Errorf("storage: user %s: %w", userID, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("storage: update user: %w", err)
	}

	audit.ResourceID = userID
	audit.AfterData = u
	if err := InsertMutationAuditTx(ctx, tx, audit); err != nil {
		return model.User{}, fmt.Errorf("storage: audit in update user tx: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.User{}, fmt.Errorf("storage: commit update user tx: %w", err)
	}
	return u, nil
}

// DeleteUserWithAudit removes a user and its API keys, writing a mutation
// audit entry atomically within a single transaction.
func (db *DB) DeleteUserWithAudit(ctx context.Context, tenantID uuid.UUID, userID string, audit MutationAuditEntry) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete user tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	before, err := scanUser(tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("storage: user %s: %w", userID, ErrNotFound)
		}
		return fmt.Errorf("storage: get user before delete: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now()
		 WHERE tenant_id = $1 AND user_id = $2 AND revoked_at IS NULL`,
		tenantID, userID,
	); err != nil {
		return fmt.Errorf("storage: revoke keys in delete user tx: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM users WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID,
	); err != nil {
		return fmt.Errorf("storage: delete user: %w", err)
	}

	audit.ResourceID = userID
	audit.BeforeData = before
	if err := InsertMutationAuditTx(ctx, tx, audit); err != nil {
		return fmt.Errorf("storage: audit in delete user tx: %w", err)
	}

	return tx.Commit(ctx)
}

// TouchLastSeen updates the last_seen timestamp for a user to now().
// Called from the auth middleware on every successful authentication.
// Uses a fire-and-forget pattern — callers should not block on the result.
func (db *DB) TouchLastSeen(ctx context.Context, tenantID uuid.UUID, userID string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE users SET last_seen = now() WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID,
	)
	if err != nil {
		return fmt.Errorf("storage: touch last_seen: %w", err)
	}
	return nil
}
