package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTextPlain(t *testing.T) {
	out, err := ExtractText("text/plain", []byte("hello\nworld"))
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", out)

	out, err = ExtractText("text/markdown", []byte("# Title\n\nBody."))
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nBody.", out)
}

func TestExtractTextInvalidUTF8(t *testing.T) {
	_, err := ExtractText("text/plain", []byte{0xff, 0xfe, 0xfd})
	require.Error(t, err)
}

func TestExtractHTML(t *testing.T) {
	html := `<html><head><title>FAQ</title><style>body{color:red}</style></head>
	<body><h1>Questions</h1><p>How do I <b>reset</b> my password?</p>
	<script>alert("skip me")</script></body></html>`

	out, err := ExtractText("text/html", []byte(html))
	require.NoError(t, err)
	assert.Contains(t, out, "Questions")
	assert.Contains(t, out, "reset")
	assert.NotContains(t, out, "alert", "script content must be stripped")
	assert.NotContains(t, out, "color:red", "style content must be stripped")
}

func TestExtractJSON(t *testing.T) {
	doc := `{"product":{"name":"Widget","price":9.5},"tags":["a","b"],"gone":null}`

	out, err := ExtractText("application/json", []byte(doc))
	require.NoError(t, err)
	assert.Contains(t, out, "product.name: Widget")
	assert.Contains(t, out, "product.price: 9.5")
	assert.Contains(t, out, "tags[0]: a")
	assert.NotContains(t, out, "gone")
}

func TestExtractJSONInvalid(t *testing.T) {
	_, err := ExtractText("application/json", []byte("{not json"))
	require.Error(t, err)
}

func TestExtractCSV(t *testing.T) {
	csvData := "name,role\nalice,admin\nbob,viewer\n"

	out, err := ExtractText("text/csv", []byte(csvData))
	require.NoError(t, err)
	assert.Contains(t, out, "name: alice, role: admin")
	assert.Contains(t, out, "name: bob, role: viewer")
}

func TestExtractUnsupportedType(t *testing.T) {
	_, err := ExtractText("application/pdf", []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported content type")
}
