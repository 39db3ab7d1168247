package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/anzu-ai/anzu/internal/authz"
	"github.com/anzu-ai/anzu/internal/billing"
	"github.com/anzu-ai/anzu/internal/model"
)

// HandleChat handles POST /v1/chat (member+). The chat service owns
// quota checks, retrieval, completion, and persistence; this handler
// only translates its errors onto the wire.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	tenant := TenantFromContext(r.Context())

	var req model.ChatRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateChatMessage(req.Message); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	resp, err := h.chatSvc.Chat(r.Context(), tenant, claims.UserID, req)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrQuotaExceeded):
			writeError(w, r, http.StatusForbidden, model.ErrCodeQuotaExceeded,
				"monthly message quota exceeded for this plan")
		case errors.Is(err, billing.ErrTenantSuspended):
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "tenant is suspended")
		case isNotFoundError(err):
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "conversation not found")
		default:
			h.writeInternalError(w, r, "chat request failed", err)
		}
		return
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// HandleSearch handles POST /v1/search (viewer+): semantic search over
// the tenant's knowledge base without generating a completion.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	tenant := TenantFromContext(r.Context())

	var req model.SearchRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "query is required")
		return
	}

	matches, err := h.chatSvc.Search(r.Context(), tenant, claims.UserID, req)
	if err != nil {
		h.writeInternalError(w, r, "search failed", err)
		return
	}
	if matches == nil {
		matches = []model.ChunkMatch{}
	}

	writeJSON(w, r, http.StatusOK, model.SearchResponse{Query: req.Query, Results: matches})
}

// HandleListConversations handles GET /v1/conversations (viewer+).
// Conversations are private to their owner; the listing is always
// scoped to the calling user, whatever their role.
func (h *Handlers) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	tenant := TenantFromContext(r.Context())
	limit := queryLimit(r, 50)
	offset := queryOffset(r)

	convs, total, err := h.db.ListConversations(r.Context(), tenant.ID, claims.UserID, limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list conversations", err)
		return
	}
	if convs == nil {
		convs = []model.Conversation{}
	}

	writeList(w, r, convs, total, limit, offset, len(convs))
}

// HandleGetConversation handles GET /v1/conversations/{id} (viewer+).
// Returns the conversation with its messages.
func (h *Handlers) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	tenant := TenantFromContext(r.Context())

	convID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid conversation id")
		return
	}

	conv, err := h.db.GetConversation(r.Context(), tenant.ID, convID)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "conversation not found")
			return
		}
		h.writeInternalError(w, r, "failed to get conversation", err)
		return
	}
	if !authz.CanAccessConversation(claims, conv) {
		// Hide existence of other users' conversations.
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "conversation not found")
		return
	}

	limit := queryLimit(r, 200)
	offset := queryOffset(r)
	msgs, total, err := h.db.ListMessages(r.Context(), tenant.ID, convID, limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list messages", err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	writeJSON(w, r, http.StatusOK, model.ConversationDetail{
		Conversation: conv,
		Messages:     msgs,
		MessageTotal: total,
	})
}

// HandleDeleteConversation handles DELETE /v1/conversations/{id} (viewer+).
func (h *Handlers) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	tenant := TenantFromContext(r.Context())

	convID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid conversation id")
		return
	}

	conv, err := h.db.GetConversation(r.Context(), tenant.ID, convID)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "conversation not found")
			return
		}
		h.writeInternalError(w, r, "failed to get conversation", err)
		return
	}
	if !authz.CanAccessConversation(claims, conv) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "conversation not found")
		return
	}

	if err := h.db.DeleteConversation(r.Context(), tenant.ID, convID); err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "conversation not found")
			return
		}
		h.writeInternalError(w, r, "failed to delete conversation", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
