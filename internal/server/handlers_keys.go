package server

import (
	"net/http"
	"time"

	"github.com/anzu-ai/anzu/internal/auth"
	"github.com/anzu-ai/anzu/internal/model"
)

// HandleCreateKey handles POST /v1/keys (admin+).
// Mints a new API key for the specified user and returns the raw key
// exactly once. After this response, only the prefix is available.
func (h *Handlers) HandleCreateKey(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	tenant := TenantFromContext(r.Context())

	var req model.CreateKeyRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if req.UserID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "user_id is required")
		return
	}
	if err := model.ValidateUserID(req.UserID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := model.ValidateKeyLabel(req.Label); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	// Verify the target user exists in this tenant.
	if _, err := h.db.GetUserByUserID(r.Context(), tenant.ID, req.UserID); err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "user not found")
			return
		}
		h.writeInternalError(w, r, "failed to verify user", err)
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid expires_at format (expected RFC3339)")
			return
		}
		if t.Before(time.Now()) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "expires_at must be in the future")
			return
		}
		expiresAt = &t
	}

	rawKey, prefix, err := model.GenerateRawKey()
	if err != nil {
		h.writeInternalError(w, r, "failed to generate api key", err)
		return
	}

	hash, err := auth.HashAPIKey(rawKey)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash api key", err)
		return
	}

	apiKey := model.APIKey{
		Prefix:    prefix,
		KeyHash:   hash,
		UserID:    req.UserID,
		TenantID:  tenant.ID,
		Label:     req.Label,
		CreatedBy: claims.UserID,
		ExpiresAt: expiresAt,
	}

	audit := h.buildAuditEntry(r, tenant.ID, "api_key.create", "api_key", "", nil, nil, nil)
	created, err := h.db.CreateAPIKeyWithAudit(r.Context(), apiKey, audit)
	if err != nil {
		h.writeInternalError(w, r, "failed to create api key", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, model.APIKeyWithRawKey{
		APIKey: created,
		RawKey: rawKey,
	})
}

// HandleListKeys handles GET /v1/keys (admin+).
// Returns all keys for the tenant. Key hashes are never exposed.
func (h *Handlers) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())
	limit := queryLimit(r, 50)
	offset := queryOffset(r)

	keys, total, err := h.db.ListAPIKeys(r.Context(), tenant.ID, limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list api keys", err)
		return
	}
	if keys == nil {
		keys = []model.APIKey{}
	}

	writeList(w, r, keys, total, limit, offset, len(keys))
}

// HandleRevokeKey handles DELETE /v1/keys/{id} (admin+).
// Revokes a key by setting revoked_at. The key immediately stops working.
func (h *Handlers) HandleRevokeKey(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())

	keyID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid key id")
		return
	}

	audit := h.buildAuditEntry(r, tenant.ID, "api_key.revoke", "api_key", keyID.String(), nil, nil, nil)
	if err := h.db.RevokeAPIKeyWithAudit(r.Context(), tenant.ID, keyID, audit); err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "api key not found")
			return
		}
		h.writeInternalError(w, r, "failed to revoke api key", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleRotateKey handles POST /v1/keys/{id}/rotate (admin+).
// Atomically revokes the old key and creates a new one with the same
// user_id and label. Returns the new raw key exactly once.
func (h *Handlers) HandleRotateKey(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	tenant := TenantFromContext(r.Context())

	oldKeyID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid key id")
		return
	}

	// Fetch the old key to inherit user_id and label.
	oldKey, err := h.db.GetAPIKeyByID(r.Context(), tenant.ID, oldKeyID)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "api key not found")
			return
		}
		h.writeInternalError(w, r, "failed to get api key", err)
		return
	}
	if oldKey.RevokedAt != nil {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "key is already revoked")
		return
	}

	rawKey, prefix, err := model.GenerateRawKey()
	if err != nil {
		h.writeInternalError(w, r, "failed to generate api key", err)
		return
	}

	hash, err := auth.HashAPIKey(rawKey)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash api key", err)
		return
	}

	newKey := model.APIKey{
		Prefix:    prefix,
		KeyHash:   hash,
		UserID:    oldKey.UserID,
		TenantID:  tenant.ID,
		Label:     oldKey.Label,
		CreatedBy: claims.UserID,
		ExpiresAt: oldKey.ExpiresAt, // Inherit expiration.
	}

	audit := h.buildAuditEntry(r, tenant.ID, "api_key.rotate", "api_key", oldKeyID.String(), nil, nil, nil)
	created, err := h.db.RotateAPIKeyWithAudit(r.Context(), tenant.ID, oldKeyID, newKey, audit)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "api key not found or already revoked")
			return
		}
		h.writeInternalError(w, r, "failed to rotate api key", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.RotateKeyResponse{
		NewKey: model.APIKeyWithRawKey{
			APIKey: created,
			RawKey: rawKey,
		},
		RevokedKeyID: oldKeyID,
	})
}
