package mcp

import (
	"fmt"
	"math"

	"github.com/anzu-ai/anzu/internal/model"
)

const maxCompactContent = 400

// compactMatch returns a minimal representation of a search hit for MCP
// responses. Drops chunk bookkeeping (chunk_id, token counts) that agents
// don't act on; content is truncated so a 5-result response stays well
// within a model's context budget.
func compactMatch(m model.ChunkMatch) map[string]any {
	return map[string]any{
		"document_id":   m.DocumentID,
		"document_name": m.DocumentName,
		"chunk_index":   m.ChunkIndex,
		"score":         math.Round(float64(m.Score)*1000) / 1000, // 3 decimal places
		"content":       truncate(m.Content, maxCompactContent),
	}
}

// compactDocument returns a minimal representation of a document for MCP
// responses. Drops tenant_id, content_hash, uploader, and metadata.
func compactDocument(d model.Document) map[string]any {
	m := map[string]any{
		"id":           d.ID,
		"name":         d.Name,
		"content_type": d.ContentType,
		"status":       d.Status,
		"created_at":   d.CreatedAt,
	}
	if d.Collection != "" {
		m["collection"] = d.Collection
	}
	if d.SizeBytes > 0 {
		m["size_bytes"] = d.SizeBytes
	}
	if d.Status == model.DocumentReady {
		m["chunk_count"] = d.ChunkCount
	}

	if note := documentContextNote(d); note != "" {
		m["context_note"] = note
	}

	return m
}

// documentContextNote produces a human-readable pipeline note for a document.
// Rules are evaluated in priority order; first match wins. Returns "" when no rule fires.
func documentContextNote(d model.Document) string {
	switch d.Status {
	case model.DocumentPending:
		return "Queued for ingestion — not yet searchable."

	case model.DocumentProcessing:
		return "Being chunked and embedded — not yet searchable."

	case model.DocumentFailed:
		if d.Error != nil && *d.Error != "" {
			return fmt.Sprintf("Ingestion failed: %s", truncate(*d.Error, 120))
		}
		return "Ingestion failed — content is not searchable."

	case model.DocumentReady:
		if d.ChunkCount == 0 {
			return "Ready but produced no chunks — content may be empty or unparseable."
		}
	}
	return ""
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
