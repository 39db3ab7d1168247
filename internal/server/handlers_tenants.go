package server

import (
	"net/http"
	"strings"

	"github.com/anzu-ai/anzu/internal/billing"
	"github.com/anzu-ai/anzu/internal/model"
)

// HandleGetTenant handles GET /v1/tenant. Returns the caller's tenant.
func (h *Handlers) HandleGetTenant(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, TenantFromContext(r.Context()))
}

// HandleUpdateTenant handles PATCH /v1/tenant (owner+). Only the display
// name is tenant-editable; plan and limits change through billing.
func (h *Handlers) HandleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())

	var req model.UpdateTenantRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if req.Name == nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "nothing to update")
		return
	}
	name := strings.TrimSpace(*req.Name)
	if name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name must not be empty")
		return
	}

	tenant.Name = name
	if err := h.db.UpdateTenant(r.Context(), tenant); err != nil {
		h.writeInternalError(w, r, "failed to update tenant", err)
		return
	}

	writeJSON(w, r, http.StatusOK, tenant)
}

// HandleUsage handles GET /v1/usage. Any member of the tenant can see how
// much of the plan is used.
func (h *Handlers) HandleUsage(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())
	period := billing.CurrentPeriod()

	usage, err := h.db.GetUsage(r.Context(), tenant.ID, period)
	if err != nil {
		h.writeInternalError(w, r, "failed to load usage", err)
		return
	}

	docCount, err := h.db.CountDocuments(r.Context(), tenant.ID)
	if err != nil {
		h.writeInternalError(w, r, "failed to count documents", err)
		return
	}
	userCount, err := h.db.CountUsers(r.Context(), tenant.ID)
	if err != nil {
		h.writeInternalError(w, r, "failed to count users", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.UsageResponse{
		Period:        period,
		MessageCount:  usage.MessageCount,
		MessageLimit:  tenant.MessageLimit,
		DocumentCount: docCount,
		DocumentLimit: tenant.DocumentLimit,
		UserCount:     userCount,
		UserLimit:     tenant.UserLimit,
		Plan:          tenant.Plan,
	})
}

// HandleListTenants handles GET /v1/admin/tenants (platform_admin only).
func (h *Handlers) HandleListTenants(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	offset := queryOffset(r)

	tenants, total, err := h.db.ListTenants(r.Context(), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list tenants", err)
		return
	}
	if tenants == nil {
		tenants = []model.Tenant{}
	}

	writeList(w, r, tenants, total, limit, offset, len(tenants))
}
