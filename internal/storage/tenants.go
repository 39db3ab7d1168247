package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/anzu-ai/anzu/internal/model"
)

const tenantColumns = `id, name, slug, plan, stripe_customer_id, stripe_subscription_id,
	 message_limit, document_limit, user_limit, email, email_verified, suspended_at, created_at, updated_at`

func scanTenant(row pgx.Row) (model.Tenant, error) {
	var t model.Tenant
	err := row.Scan(
		&t.ID, &t.Name, &t.Slug, &t.Plan, &t.StripeCustomerID, &t.StripeSubscriptionID,
		&t.MessageLimit, &t.DocumentLimit, &t.UserLimit, &t.Email, &t.EmailVerified,
		&t.SuspendedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

// CreateTenant inserts a new tenant.
func (db *DB) CreateTenant(ctx context.Context, t model.Tenant) (model.Tenant, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, slug, plan, stripe_customer_id, stripe_subscription_id,
		 message_limit, document_limit, user_limit, email, email_verified, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.Name, t.Slug, t.Plan, t.StripeCustomerID, t.StripeSubscriptionID,
		t.MessageLimit, t.DocumentLimit, t.UserLimit, t.Email, t.EmailVerified, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Tenant{}, fmt.Errorf("storage: create tenant %q: %w", t.Slug, ErrConflict)
		}
		return model.Tenant{}, fmt.Errorf("storage: create tenant: %w", err)
	}
	return t, nil
}

// GetTenant retrieves a tenant by ID.
func (db *DB) GetTenant(ctx context.Context, id uuid.UUID) (model.Tenant, error) {
	t, err := scanTenant(db.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Tenant{}, fmt.Errorf("storage: tenant %s: %w", id, ErrNotFound)
		}
		return model.Tenant{}, fmt.Errorf("storage: get tenant: %w", err)
	}
	return t, nil
}

// GetTenantBySlug retrieves a tenant by slug.
func (db *DB) GetTenantBySlug(ctx context.Context, slug string) (model.Tenant, error) {
	t, err := scanTenant(db.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Tenant{}, fmt.Errorf("storage: tenant %s: %w", slug, ErrNotFound)
		}
		return model.Tenant{}, fmt.Errorf("storage: get tenant by slug: %w", err)
	}
	return t, nil
}

// GetTenantByStripeCustomer retrieves a tenant by its Stripe customer ID.
func (db *DB) GetTenantByStripeCustomer(ctx context.Context, customerID string) (model.Tenant, error) {
	t, err := scanTenant(db.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE stripe_customer_id = $1`, customerID,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Tenant{}, fmt.Errorf("storage: tenant for customer %s: %w", customerID, ErrNotFound)
		}
		return model.Tenant{}, fmt.Errorf("storage: get tenant by stripe customer: %w", err)
	}
	return t, nil
}

// ListTenants returns all tenants, newest first. Platform-admin only surface.
func (db *DB) ListTenants(ctx context.Context, limit, offset int) ([]model.Tenant, int, error) {
	var total int
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM tenants`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count tenants: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+tenantColumns+` FROM tenants ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []model.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, total, rows.Err()
}

// UpdateTenant updates tenant fields.
func (db *DB) UpdateTenant(ctx context.Context, t model.Tenant) error {
	t.UpdatedAt = time.Now().UTC()
	tag, err := db.pool.Exec(ctx,
		`UPDATE tenants SET name = $1, slug = $2, plan = $3, stripe_customer_id = $4,
		 stripe_subscription_id = $5, message_limit = $6, document_limit = $7, user_limit = $8,
		 email = $9, email_verified = $10, suspended_at = $11, updated_at = $12 WHERE id = $13`,
		t.Name, t.Slug, t.Plan, t.StripeCustomerID, t.StripeSubscriptionID,
		t.MessageLimit, t.DocumentLimit, t.UserLimit, t.Email, t.EmailVerified,
		t.SuspendedAt, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: tenant %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// GetUsage returns the given period's usage for a tenant.
// A missing row means zero usage, not an error.
func (db *DB) GetUsage(ctx context.Context, tenantID uuid.UUID, period string) (model.TenantUsage, error) {
	var usage model.TenantUsage
	err := db.pool.QueryRow(ctx,
		`SELECT tenant_id, period, message_count, updated_at
		 FROM tenant_usage WHERE tenant_id = $1 AND period = $2`,
		tenantID, period,
	).Scan(&usage.TenantID, &usage.Period, &usage.MessageCount, &usage.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.TenantUsage{TenantID: tenantID, Period: period, MessageCount: 0}, nil
		}
		return model.TenantUsage{}, fmt.Errorf("storage: get usage: %w", err)
	}
	return usage, nil
}

// CreateEmailVerification inserts a verification token for a tenant.
func (db *DB) CreateEmailVerification(ctx context.Context, tenantID uuid.UUID, token string, expiresAt time.Time) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO email_verifications (tenant_id, token, expires_at) VALUES ($1, $2, $3)`,
		tenantID, token, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create email verification: %w", err)
	}
	return nil
}

// VerifyEmail marks a verification token as used and sets the tenant's email
// as verified. Returns an error if the token is invalid, expired, or already used.
func (db *DB) VerifyEmail(ctx context.Context, token string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin verify tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var tenantID uuid.UUID
	var expiresAt time.Time
	var usedAt *time.Time
	err = tx.QueryRow(ctx,
		`SELECT tenant_id, expires_at, used_at FROM email_verifications WHERE token = $1`,
		token,
	).Scan(&tenantID, &expiresAt, &usedAt)
	if err != nil {
		return fmt.Errorf("storage: verification token not found")
	}

	if usedAt != nil {
		return fmt.Errorf("storage: verification token already used")
	}
	if time.Now().After(expiresAt) {
		return fmt.Errorf("storage: verification token expired")
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE email_verifications SET used_at = $1 WHERE token = $2`,
		now, token,
	); err != nil {
		return fmt.Errorf("storage: mark verification used: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tenants SET email_verified = true, updated_at = $1 WHERE id = $2`,
		now, tenantID,
	); err != nil {
		return fmt.Errorf("storage: verify tenant email: %w", err)
	}

	return tx.Commit(ctx)
}
