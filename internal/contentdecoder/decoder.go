// Package contentdecoder extracts plain text from uploaded file bytes. Each
// implementation is grounded on the teacher's internal/service decoders,
// generalized behind one Decoder interface and a MIME-type registry instead
// of the teacher's single hardcoded docx path.
package contentdecoder

import (
	"fmt"
	"strings"

	"github.com/connexus-ai/kmemory/internal/kmerr"
)

// Decoder extracts normalized plain text from one file format.
type Decoder interface {
	// Decode returns the extracted text, or a *kmerr.Error of KindContent if
	// the file produced no usable text.
	Decode(data []byte) (string, error)
	// MimeTypes lists the content types this decoder handles.
	MimeTypes() []string
}

// Registry looks up a Decoder by MIME type.
type Registry struct {
	byMime map[string]Decoder
}

// NewRegistry builds a Registry with the standard set of decoders
// (txt/markdown/csv/docx/html — the only binary format other than
// plaintext-family the teacher repo had to parse), per the spec's Non-goals
// leaving richer formats (PDF/OCR) modeled only as the Decoder interface.
func NewRegistry() *Registry {
	r := &Registry{byMime: map[string]Decoder{}}
	for _, d := range []Decoder{
		PlainTextDecoder{},
		MarkdownDecoder{},
		CSVDecoder{},
		DocxDecoder{},
		HTMLDecoder{},
	} {
		r.Register(d)
	}
	return r
}

// Register adds or replaces the decoder for each of d's MIME types.
func (r *Registry) Register(d Decoder) {
	for _, mt := range d.MimeTypes() {
		r.byMime[mt] = d
	}
}

// For returns the Decoder registered for mimeType, or false if none is.
func (r *Registry) For(mimeType string) (Decoder, bool) {
	d, ok := r.byMime[strings.ToLower(strings.TrimSpace(mimeType))]
	return d, ok
}

// Decode looks up a decoder for mimeType and runs it, wrapping "unsupported
// type" as an InputError (spec §7: malformed request, never retried).
func (r *Registry) Decode(mimeType string, data []byte) (string, error) {
	d, ok := r.For(mimeType)
	if !ok {
		return "", kmerr.New(kmerr.KindInput, "contentdecoder.Decode",
			fmt.Errorf("unsupported content type %q", mimeType))
	}
	return d.Decode(data)
}

func contentErrorIfEmpty(op, text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", kmerr.New(kmerr.KindContent, op, fmt.Errorf("no text content found"))
	}
	return trimmed, nil
}
