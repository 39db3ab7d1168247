package model

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents an organization in the multi-tenancy model. All
// tenant-owned rows carry its ID and every query filters on it.
type Tenant struct {
	ID                   uuid.UUID  `json:"id"`
	Name                 string     `json:"name"`
	Slug                 string     `json:"slug"`
	Plan                 string     `json:"plan"`
	Email                string     `json:"email,omitempty"`
	EmailVerified        bool       `json:"email_verified"`
	StripeCustomerID     *string    `json:"-"`
	StripeSubscriptionID *string    `json:"-"`
	MessageLimit         int        `json:"message_limit"`
	DocumentLimit        int        `json:"document_limit"`
	UserLimit            int        `json:"user_limit"`
	SuspendedAt          *time.Time `json:"suspended_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// TenantUsage is a monthly usage counter for quota metering.
// Period is formatted "2006-01" in UTC.
type TenantUsage struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	Period       string    `json:"period"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}
