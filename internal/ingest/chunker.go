package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SplitChunks slices text into overlapping windows of at most size runes.
// Window boundaries prefer whitespace near the limit so words and sentences
// survive intact. overlap runes from the end of each chunk repeat at the
// start of the next, preserving context across boundaries for retrieval.
func SplitChunks(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = 1500
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunk := strings.TrimSpace(string(runes[start:]))
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		// Scan back for a whitespace boundary, but never give up more
		// than a quarter of the window.
		cut := end
		for cut > start+size*3/4 && !unicode.IsSpace(runes[cut-1]) {
			cut--
		}
		if cut == start+size*3/4 {
			cut = end
		}

		chunk := strings.TrimSpace(string(runes[start:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

// EstimateTokens approximates the token count of a chunk. Four bytes per
// token is close enough for quota accounting; exact counts would need the
// model's tokenizer.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && utf8.RuneCountInString(text) > 0 {
		n = 1
	}
	return n
}
