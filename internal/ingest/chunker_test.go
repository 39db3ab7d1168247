package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitChunksShortText(t *testing.T) {
	chunks := SplitChunks("hello world", 100, 10)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0])
}

func TestSplitChunksEmpty(t *testing.T) {
	assert.Nil(t, SplitChunks("", 100, 10))
	assert.Nil(t, SplitChunks("   \n\t  ", 100, 10))
}

func TestSplitChunksWindowing(t *testing.T) {
	// 100 words of 9 runes each ("word-0001 ") → forces multiple windows.
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("word-")
		b.WriteString(strings.Repeat("x", 4))
		b.WriteByte(' ')
	}
	text := b.String()

	chunks := SplitChunks(text, 100, 20)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 100, "chunk %d exceeds window", i)
		// Whitespace-boundary preference: chunks shouldn't split words.
		assert.False(t, strings.HasPrefix(c, "x"), "chunk %d starts mid-word: %q", i, c[:10])
	}

	// Overlap: the start of chunk 2 should appear near the end of chunk 1.
	head := strings.Fields(chunks[1])[0]
	assert.Contains(t, chunks[0], head, "adjacent chunks should overlap")
}

func TestSplitChunksNoWhitespace(t *testing.T) {
	// A single unbroken run cannot be split at whitespace; hard cuts apply.
	text := strings.Repeat("a", 350)
	chunks := SplitChunks(text, 100, 0)
	require.Len(t, chunks, 4)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 100)
	}
	assert.Equal(t, 350, len(strings.Join(chunks, "")))
}

func TestSplitChunksUnicode(t *testing.T) {
	// Rune-based windows must not split multibyte characters.
	text := strings.Repeat("日本語テキスト ", 50)
	chunks := SplitChunks(text, 40, 8)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.True(t, strings.HasPrefix(c, "日"), "chunk %d should start on a character boundary", i)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}
