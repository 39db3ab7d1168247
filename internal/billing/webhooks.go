package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v84"
)

// HandleWebhook processes a Stripe webhook event. Returns the HTTP status code
// to respond with and any error. Verifies the webhook signature, then dispatches
// to the appropriate handler based on event type.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, sigHeader string) (int, error) {
	event, err := stripe.ConstructEvent(body, sigHeader, s.webhookSecret)
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("billing: invalid webhook signature: %w", err)
	}

	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.updated":
		return s.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, event)
	case "invoice.payment_failed":
		return s.handlePaymentFailed(ctx, event)
	default:
		return http.StatusOK, nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) (int, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return http.StatusBadRequest, fmt.Errorf("billing: unmarshal checkout session: %w", err)
	}

	tenantIDStr, ok := sess.Metadata["tenant_id"]
	if !ok {
		return http.StatusBadRequest, fmt.Errorf("billing: missing tenant_id in checkout metadata")
	}
	tenantID, err := uuid.Parse(tenantIDStr)
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("billing: invalid tenant_id: %w", err)
	}

	tenant, err := s.db.GetTenant(ctx, tenantID)
	if err != nil {
		return http.StatusInternalServerError, fmt.Errorf("billing: get tenant: %w", err)
	}

	proPlan := s.plans["pro"]
	tenant.Plan = "pro"
	if sess.Customer != nil {
		tenant.StripeCustomerID = &sess.Customer.ID
	}
	if sess.Subscription != nil {
		tenant.StripeSubscriptionID = &sess.Subscription.ID
	}
	tenant.MessageLimit = proPlan.MessageLimit
	tenant.DocumentLimit = proPlan.DocumentLimit
	tenant.UserLimit = proPlan.UserLimit

	if err := s.db.UpdateTenant(ctx, tenant); err != nil {
		return http.StatusInternalServerError, fmt.Errorf("billing: update tenant: %w", err)
	}

	customerID := ""
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	s.logger.Info("billing: checkout completed, upgraded to pro",
		"tenant_id", tenantID,
		"customer_id", customerID,
	)
	return http.StatusOK, nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) (int, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return http.StatusBadRequest, fmt.Errorf("billing: unmarshal subscription: %w", err)
	}

	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	tenant, err := s.db.GetTenantByStripeCustomer(ctx, customerID)
	if err != nil {
		s.logger.Warn("billing: subscription updated for unknown customer", "customer_id", customerID)
		return http.StatusOK, nil // Don't fail — might be a different product.
	}

	newPlan := "free"
	for name, plan := range s.plans {
		if plan.PriceID != "" && sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil && sub.Items.Data[0].Price.ID == plan.PriceID {
			newPlan = name
			break
		}
	}

	plan := s.plans[newPlan]
	tenant.Plan = newPlan
	tenant.MessageLimit = plan.MessageLimit
	tenant.DocumentLimit = plan.DocumentLimit
	tenant.UserLimit = plan.UserLimit

	if err := s.db.UpdateTenant(ctx, tenant); err != nil {
		return http.StatusInternalServerError, fmt.Errorf("billing: update tenant plan: %w", err)
	}

	s.logger.Info("billing: subscription updated", "tenant_id", tenant.ID, "plan", newPlan)
	return http.StatusOK, nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) (int, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return http.StatusBadRequest, fmt.Errorf("billing: unmarshal subscription: %w", err)
	}

	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	tenant, err := s.db.GetTenantByStripeCustomer(ctx, customerID)
	if err != nil {
		s.logger.Warn("billing: subscription deleted for unknown customer", "customer_id", customerID)
		return http.StatusOK, nil
	}

	freePlan := s.plans["free"]
	tenant.Plan = "free"
	tenant.MessageLimit = freePlan.MessageLimit
	tenant.DocumentLimit = freePlan.DocumentLimit
	tenant.UserLimit = freePlan.UserLimit
	tenant.StripeSubscriptionID = nil

	if err := s.db.UpdateTenant(ctx, tenant); err != nil {
		return http.StatusInternalServerError, fmt.Errorf("billing: downgrade tenant: %w", err)
	}

	s.logger.Info("billing: subscription deleted, downgraded to free", "tenant_id", tenant.ID)
	return http.StatusOK, nil
}

func (s *Service) handlePaymentFailed(ctx context.Context, event stripe.Event) (int, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return http.StatusBadRequest, fmt.Errorf("billing: unmarshal invoice: %w", err)
	}

	customerID := ""
	if invoice.Customer != nil {
		customerID = invoice.Customer.ID
	}
	s.logger.Warn("billing: payment failed",
		"customer_id", customerID,
		"amount_due", invoice.AmountDue,
		"attempt_count", invoice.AttemptCount,
	)

	// Suspend after the third failed attempt. Stripe retries on its own
	// schedule; earlier attempts only log.
	if invoice.AttemptCount >= 3 && customerID != "" {
		tenant, err := s.db.GetTenantByStripeCustomer(ctx, customerID)
		if err != nil {
			return http.StatusOK, nil
		}
		now := time.Now().UTC()
		tenant.SuspendedAt = &now
		if err := s.db.UpdateTenant(ctx, tenant); err != nil {
			return http.StatusInternalServerError, fmt.Errorf("billing: suspend tenant: %w", err)
		}
		s.logger.Warn("billing: tenant suspended after repeated payment failures", "tenant_id", tenant.ID)
	}

	return http.StatusOK, nil
}
