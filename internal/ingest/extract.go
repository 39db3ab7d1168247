package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// ExtractText converts an uploaded payload into plain text for chunking.
// contentType must already be canonicalized (parameters stripped).
func ExtractText(contentType string, data []byte) (string, error) {
	switch contentType {
	case "text/plain", "text/markdown":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("ingest: %s payload is not valid UTF-8", contentType)
		}
		return string(data), nil
	case "text/html":
		return extractHTML(data)
	case "application/json":
		return extractJSON(data)
	case "text/csv":
		return extractCSV(data)
	default:
		return "", fmt.Errorf("ingest: unsupported content type %q", contentType)
	}
}

// extractHTML pulls visible text out of an HTML document, skipping script
// and style elements. Block-ish boundaries become newlines so chunking
// doesn't glue unrelated sections together.
func extractHTML(data []byte) (string, error) {
	tz := html.NewTokenizer(bytes.NewReader(data))

	var b strings.Builder
	skipDepth := 0
	for {
		switch tz.Next() {
		case html.ErrorToken:
			// io.EOF ends the document; anything else is a parse failure.
			if errors.Is(tz.Err(), io.EOF) {
				return strings.TrimSpace(b.String()), nil
			}
			return "", fmt.Errorf("ingest: parse html: %w", tz.Err())
		case html.StartTagToken:
			name, _ := tz.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				skipDepth++
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tz.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(tz.Text()))
			if text != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
	}
}

// extractJSON flattens a JSON document into "path: value" lines.
// Embedding models handle this far better than raw JSON syntax.
func extractJSON(data []byte) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("ingest: parse json: %w", err)
	}
	var lines []string
	flattenJSON("", v, &lines)
	return strings.Join(lines, "\n"), nil
}

func flattenJSON(path string, v any, out *[]string) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := k
			if path != "" {
				child = path + "." + k
			}
			flattenJSON(child, val[k], out)
		}
	case []any:
		for i, item := range val {
			flattenJSON(fmt.Sprintf("%s[%d]", path, i), item, out)
		}
	case nil:
		// Null values carry no searchable content.
	default:
		*out = append(*out, fmt.Sprintf("%s: %v", path, val))
	}
}

// extractCSV renders a CSV as one line per record, prefixing each field with
// its header when a header row exists.
func extractCSV(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("ingest: parse csv: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}

	header := records[0]
	var lines []string
	for _, rec := range records[1:] {
		parts := make([]string, 0, len(rec))
		for i, field := range rec {
			if field == "" {
				continue
			}
			if i < len(header) && header[i] != "" {
				parts = append(parts, header[i]+": "+field)
			} else {
				parts = append(parts, field)
			}
		}
		if len(parts) > 0 {
			lines = append(lines, strings.Join(parts, ", "))
		}
	}
	if len(lines) == 0 {
		// Header-only or headerless single row: fall back to raw fields.
		lines = append(lines, strings.Join(header, ", "))
	}
	return strings.Join(lines, "\n"), nil
}
