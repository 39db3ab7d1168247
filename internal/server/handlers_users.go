package server

import (
	"errors"
	"net/http"

	"github.com/anzu-ai/anzu/internal/auth"
	"github.com/anzu-ai/anzu/internal/authz"
	"github.com/anzu-ai/anzu/internal/billing"
	"github.com/anzu-ai/anzu/internal/model"
	"github.com/anzu-ai/anzu/internal/storage"
)

// HandleCreateUser handles POST /v1/users (admin+).
func (h *Handlers) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	tenant := TenantFromContext(r.Context())

	var req model.CreateUserRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if err := model.ValidateUserID(req.UserID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if !model.ValidRole(req.Role) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown role: "+string(req.Role))
		return
	}
	if !authz.CanAssignRole(claims, req.Role) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
			"cannot grant a role equal to or higher than your own")
		return
	}

	if h.billingSvc != nil {
		if err := h.billingSvc.CheckUserQuota(r.Context(), tenant); err != nil {
			if errors.Is(err, billing.ErrUserLimitExceeded) {
				writeError(w, r, http.StatusForbidden, model.ErrCodeQuotaExceeded,
					"user limit reached for this plan")
				return
			}
			h.writeInternalError(w, r, "failed to check user quota", err)
			return
		}
	}

	user := model.User{
		UserID:   req.UserID,
		TenantID: tenant.ID,
		Name:     req.Name,
		Role:     req.Role,
		Metadata: req.Metadata,
	}
	if req.APIKey != "" {
		hash, err := auth.HashAPIKey(req.APIKey)
		if err != nil {
			h.writeInternalError(w, r, "failed to hash api key", err)
			return
		}
		user.APIKeyHash = &hash
	}

	audit := h.buildAuditEntry(r, tenant.ID, "user.create", "user", req.UserID, nil, nil, nil)
	created, err := h.db.CreateUserWithAudit(r.Context(), user, audit)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "user_id already exists in this tenant")
			return
		}
		h.writeInternalError(w, r, "failed to create user", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, created)
}

// HandleListUsers handles GET /v1/users (admin+).
func (h *Handlers) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())
	limit := queryLimit(r, 50)
	offset := queryOffset(r)

	users, err := h.db.ListUsers(r.Context(), tenant.ID, limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list users", err)
		return
	}
	if users == nil {
		users = []model.User{}
	}

	total, err := h.db.CountUsers(r.Context(), tenant.ID)
	if err != nil {
		h.writeInternalError(w, r, "failed to count users", err)
		return
	}

	writeList(w, r, users, total, limit, offset, len(users))
}

// HandleGetUser handles GET /v1/users/{user_id} (admin+).
func (h *Handlers) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())
	userID := r.PathValue("user_id")

	user, err := h.db.GetUserByUserID(r.Context(), tenant.ID, userID)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "user not found")
			return
		}
		h.writeInternalError(w, r, "failed to get user", err)
		return
	}

	writeJSON(w, r, http.StatusOK, user)
}

// HandleUpdateUser handles PATCH /v1/users/{user_id} (admin+).
func (h *Handlers) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	tenant := TenantFromContext(r.Context())
	userID := r.PathValue("user_id")

	var req model.UpdateUserRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Name == nil && req.Role == nil && req.Metadata == nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "nothing to update")
		return
	}

	target, err := h.db.GetUserByUserID(r.Context(), tenant.ID, userID)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "user not found")
			return
		}
		h.writeInternalError(w, r, "failed to get user", err)
		return
	}

	if !authz.CanManageUser(claims, target) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
			"cannot modify a user with a role equal to or higher than your own")
		return
	}
	if req.Role != nil {
		if !model.ValidRole(*req.Role) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown role: "+string(*req.Role))
			return
		}
		if !authz.CanAssignRole(claims, *req.Role) {
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
				"cannot grant a role equal to or higher than your own")
			return
		}
	}

	audit := h.buildAuditEntry(r, tenant.ID, "user.update", "user", userID, target, nil, nil)
	updated, err := h.db.UpdateUserWithAudit(r.Context(), tenant.ID, userID, req.Name, req.Role, req.Metadata, audit)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "user not found")
			return
		}
		h.writeInternalError(w, r, "failed to update user", err)
		return
	}

	// Role changes take effect on the target's next request.
	if h.memberships != nil {
		h.memberships.Invalidate(authz.Key(tenant.ID, userID))
	}

	writeJSON(w, r, http.StatusOK, updated)
}

// HandleDeleteUser handles DELETE /v1/users/{user_id} (admin+).
func (h *Handlers) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	tenant := TenantFromContext(r.Context())
	userID := r.PathValue("user_id")

	if claims.UserID == userID {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "cannot delete your own user")
		return
	}

	target, err := h.db.GetUserByUserID(r.Context(), tenant.ID, userID)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "user not found")
			return
		}
		h.writeInternalError(w, r, "failed to get user", err)
		return
	}
	if !authz.CanManageUser(claims, target) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
			"cannot delete a user with a role equal to or higher than your own")
		return
	}

	audit := h.buildAuditEntry(r, tenant.ID, "user.delete", "user", userID, target, nil, nil)
	if err := h.db.DeleteUserWithAudit(r.Context(), tenant.ID, userID, audit); err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "user not found")
			return
		}
		h.writeInternalError(w, r, "failed to delete user", err)
		return
	}

	if h.memberships != nil {
		h.memberships.Invalidate(authz.Key(tenant.ID, userID))
	}

	w.WriteHeader(http.StatusNoContent)
}
