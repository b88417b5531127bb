package contentdecoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/kmemory/internal/kmerr"
)

func TestRegistry_DecodePlainText(t *testing.T) {
	r := NewRegistry()
	text, err := r.Decode("text/plain", []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestRegistry_UnsupportedMimeTypeIsInputError(t *testing.T) {
	r := NewRegistry()
	_, err := r.Decode("application/octet-stream", []byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, kmerr.Is(err, kmerr.KindInput))
}

func TestCSVDecoder_JoinsRows(t *testing.T) {
	d := CSVDecoder{}
	text, err := d.Decode([]byte("a,b,c\nd,e,f\n"))
	require.NoError(t, err)
	assert.Contains(t, text, "a, b, c")
	assert.Contains(t, text, "d, e, f")
}

func TestPlainTextDecoder_EmptyIsContentError(t *testing.T) {
	d := PlainTextDecoder{}
	_, err := d.Decode([]byte("   \n  "))
	require.Error(t, err)
	assert.True(t, kmerr.Is(err, kmerr.KindContent))
}

func TestHTMLDecoder_ExtractsVisibleTextOnly(t *testing.T) {
	d := HTMLDecoder{}
	text, err := d.Decode([]byte(`<html><head><style>body{}</style></head>
<body><h1>Title</h1><p>Hello <b>world</b></p><script>evil()</script></body></html>`))
	require.NoError(t, err)
	assert.Contains(t, text, "Title")
	assert.Contains(t, text, "Hello")
	assert.Contains(t, text, "world")
	assert.NotContains(t, text, "evil()")
	assert.NotContains(t, text, "body{}")
}
