package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/anzu-ai/anzu/internal/model"
)

// CurrentPeriod returns the current billing period string (YYYY-MM).
func CurrentPeriod() string {
	return time.Now().UTC().Format("2006-01")
}

// CheckTenantActive returns ErrTenantSuspended if the tenant has been
// suspended (e.g. repeated payment failures).
func (s *Service) CheckTenantActive(tenant model.Tenant) error {
	if tenant.SuspendedAt != nil {
		return fmt.Errorf("%w: since %s", ErrTenantSuspended, tenant.SuspendedAt.Format(time.RFC3339))
	}
	return nil
}

// CheckMessageQuota checks if a tenant has exceeded its monthly message limit.
// Returns nil if allowed, ErrQuotaExceeded if the limit is reached, or a
// wrapped error on storage failure. The limit comes from the tenant row so
// enterprise tenants can carry custom values.
func (s *Service) CheckMessageQuota(ctx context.Context, tenant model.Tenant) error {
	if err := s.CheckTenantActive(tenant); err != nil {
		return err
	}

	// Unlimited tenants (enterprise or message_limit=0) skip the check.
	if tenant.MessageLimit == 0 {
		return nil
	}

	usage, err := s.db.GetUsage(ctx, tenant.ID, CurrentPeriod())
	if err != nil {
		return fmt.Errorf("billing: get usage for quota check: %w", err)
	}

	if usage.MessageCount >= tenant.MessageLimit {
		return fmt.Errorf("%w: %d/%d messages this period", ErrQuotaExceeded, usage.MessageCount, tenant.MessageLimit)
	}
	return nil
}

// CheckDocumentQuota checks if a tenant has exceeded its document limit.
// Unlike messages, documents are not metered per period: the limit bounds
// the number of documents a tenant has stored at any time.
func (s *Service) CheckDocumentQuota(ctx context.Context, tenant model.Tenant) error {
	if err := s.CheckTenantActive(tenant); err != nil {
		return err
	}

	if tenant.DocumentLimit == 0 {
		return nil
	}

	count, err := s.db.CountDocuments(ctx, tenant.ID)
	if err != nil {
		return fmt.Errorf("billing: count documents: %w", err)
	}

	if count >= tenant.DocumentLimit {
		return fmt.Errorf("%w: %d/%d documents", ErrDocumentLimitExceeded, count, tenant.DocumentLimit)
	}
	return nil
}

// CheckUserQuota checks if a tenant has exceeded its user limit.
func (s *Service) CheckUserQuota(ctx context.Context, tenant model.Tenant) error {
	if err := s.CheckTenantActive(tenant); err != nil {
		return err
	}

	if tenant.UserLimit == 0 {
		return nil
	}

	count, err := s.db.CountUsers(ctx, tenant.ID)
	if err != nil {
		return fmt.Errorf("billing: count users: %w", err)
	}

	if count >= tenant.UserLimit {
		return fmt.Errorf("%w: %d/%d users", ErrUserLimitExceeded, count, tenant.UserLimit)
	}
	return nil
}

