package server

import (
	"io"
	"net/http"

	"github.com/anzu-ai/anzu/internal/model"
)

// HandleBillingCheckout handles POST /billing/checkout (owner+).
// Creates a Stripe Checkout session for upgrading to the Pro plan.
func (h *Handlers) HandleBillingCheckout(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())

	if h.billingSvc == nil || !h.billingSvc.Enabled() {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "billing not configured")
		return
	}

	var req struct {
		SuccessURL string `json:"success_url"`
		CancelURL  string `json:"cancel_url"`
	}
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.SuccessURL == "" || req.CancelURL == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "success_url and cancel_url are required")
		return
	}

	url, err := h.billingSvc.CreateCheckoutSession(r.Context(), tenant.ID.String(), tenant.Email, req.SuccessURL, req.CancelURL)
	if err != nil {
		h.writeInternalError(w, r, "failed to create checkout session", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"checkout_url": url})
}

// HandleBillingPortal handles POST /billing/portal (owner+).
// Creates a Stripe Billing Portal session for managing an existing subscription.
func (h *Handlers) HandleBillingPortal(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())

	if h.billingSvc == nil || !h.billingSvc.Enabled() {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "billing not configured")
		return
	}

	if tenant.StripeCustomerID == nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "no active subscription")
		return
	}

	var req struct {
		ReturnURL string `json:"return_url"`
	}
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.ReturnURL == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "return_url is required")
		return
	}

	url, err := h.billingSvc.CreatePortalSession(r.Context(), *tenant.StripeCustomerID, req.ReturnURL)
	if err != nil {
		h.writeInternalError(w, r, "failed to create portal session", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"portal_url": url})
}

// HandleBillingWebhook handles POST /billing/webhooks.
// This endpoint is NOT protected by JWT auth — Stripe signs the payload
// with its webhook secret and the billing service verifies the signature.
func (h *Handlers) HandleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billingSvc == nil || !h.billingSvc.Enabled() {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "billing not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxRequestBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "failed to read body")
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	status, whErr := h.billingSvc.HandleWebhook(r.Context(), body, sigHeader)
	if whErr != nil {
		h.logger.Error("billing webhook failed", "error", whErr, "status", status)
		writeError(w, r, status, model.ErrCodeInternalError, whErr.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
}
