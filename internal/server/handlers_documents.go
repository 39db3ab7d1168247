package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/anzu-ai/anzu/internal/billing"
	"github.com/anzu-ai/anzu/internal/model"
)

// HandleUploadDocument handles POST /v1/documents (member+).
// Accepts either a multipart upload (field "file", optional "name" and
// "collection" fields) or a JSON body with inline text content. The
// document row is created pending and handed to the ingestion workers;
// clients follow status transitions via GET or SSE.
func (h *Handlers) HandleUploadDocument(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	tenant := TenantFromContext(r.Context())

	if h.billingSvc != nil {
		if err := h.billingSvc.CheckTenantActive(tenant); err != nil {
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "tenant is suspended")
			return
		}
		if err := h.billingSvc.CheckDocumentQuota(r.Context(), tenant); err != nil {
			if errors.Is(err, billing.ErrDocumentLimitExceeded) {
				writeError(w, r, http.StatusForbidden, model.ErrCodeQuotaExceeded,
					"document limit reached for this plan")
				return
			}
			h.writeInternalError(w, r, "failed to check document quota", err)
			return
		}
	}

	name, collection, contentType, content, metadata, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	if err := model.ValidateDocumentName(name); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := model.ValidateCollection(collection); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	canonical, supported := model.CanonicalContentType(contentType)
	if !supported {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"unsupported content type: "+contentType)
		return
	}
	if len(content) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "document content is empty")
		return
	}

	sum := sha256.Sum256(content)
	contentHash := hex.EncodeToString(sum[:])

	// Per-tenant dedup: re-uploading identical content returns the
	// existing document instead of embedding it again.
	if existing, err := h.db.GetDocumentByHash(r.Context(), tenant.ID, contentHash); err == nil {
		writeJSON(w, r, http.StatusOK, existing)
		return
	} else if !isNotFoundError(err) {
		h.writeInternalError(w, r, "failed to check for duplicate document", err)
		return
	}

	doc, err := h.db.CreateDocument(r.Context(), model.Document{
		TenantID:    tenant.ID,
		Name:        name,
		Collection:  collection,
		ContentType: canonical,
		ContentHash: contentHash,
		SizeBytes:   int64(len(content)),
		Status:      model.DocumentPending,
		UploadedBy:  claims.UserID,
		Metadata:    metadata,
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to create document", err)
		return
	}

	if err := h.ingest.Enqueue(r.Context(), doc, content); err != nil {
		h.writeInternalError(w, r, "failed to queue document for processing", err)
		return
	}

	writeJSON(w, r, http.StatusAccepted, doc)
}

// readUpload extracts name, collection, content type, and raw bytes from
// either a multipart form or a JSON body. Writes the error response itself
// and returns ok=false on failure.
func (h *Handlers) readUpload(w http.ResponseWriter, r *http.Request) (name, collection, contentType string, content []byte, metadata map[string]any, ok bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if strings.HasPrefix(mediaType, "multipart/") {
		if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodePayloadTooLarge, "upload too large")
			return "", "", "", nil, nil, false
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "multipart field \"file\" is required")
			return "", "", "", nil, nil, false
		}
		defer func() { _ = file.Close() }()

		content, err = io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
		if err != nil {
			h.writeInternalError(w, r, "failed to read upload", err)
			return "", "", "", nil, nil, false
		}
		if int64(len(content)) > h.maxUploadBytes {
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodePayloadTooLarge, "upload too large")
			return "", "", "", nil, nil, false
		}

		name = r.FormValue("name")
		if name == "" {
			name = header.Filename
		}
		collection = r.FormValue("collection")
		contentType = header.Header.Get("Content-Type")
		return name, collection, contentType, content, nil, true
	}

	var req model.CreateDocumentRequest
	if err := decodeJSON(w, r, &req, h.maxUploadBytes); err != nil {
		handleDecodeError(w, r, err)
		return "", "", "", nil, nil, false
	}
	return req.Name, req.Collection, req.ContentType, []byte(req.Content), req.Metadata, true
}

// HandleListDocuments handles GET /v1/documents (viewer+).
// Accepts ?collection= to filter.
func (h *Handlers) HandleListDocuments(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())
	limit := queryLimit(r, 50)
	offset := queryOffset(r)
	collection := r.URL.Query().Get("collection")

	docs, total, err := h.db.ListDocuments(r.Context(), tenant.ID, collection, limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list documents", err)
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}

	writeList(w, r, docs, total, limit, offset, len(docs))
}

// HandleGetDocument handles GET /v1/documents/{id} (viewer+).
func (h *Handlers) HandleGetDocument(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())

	docID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid document id")
		return
	}

	doc, err := h.db.GetDocument(r.Context(), tenant.ID, docID)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "document not found")
			return
		}
		h.writeInternalError(w, r, "failed to get document", err)
		return
	}

	writeJSON(w, r, http.StatusOK, doc)
}

// HandleDeleteDocument handles DELETE /v1/documents/{id} (admin+).
// Cascades chunk deletion and enqueues index removals via the outbox.
func (h *Handlers) HandleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())

	docID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid document id")
		return
	}

	audit := h.buildAuditEntry(r, tenant.ID, "document.delete", "document", docID.String(), nil, nil, nil)
	if err := h.db.DeleteDocumentWithAudit(r.Context(), tenant.ID, docID, audit); err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "document not found")
			return
		}
		h.writeInternalError(w, r, "failed to delete document", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
