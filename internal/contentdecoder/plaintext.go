package contentdecoder

// PlainTextDecoder passes raw UTF-8 text through unchanged beyond trimming
// and the empty-content check.
type PlainTextDecoder struct{}

func (PlainTextDecoder) Decode(data []byte) (string, error) {
	return contentErrorIfEmpty("contentdecoder.PlainTextDecoder.Decode", string(data))
}

func (PlainTextDecoder) MimeTypes() []string {
	return []string{"text/plain"}
}

// MarkdownDecoder treats markdown as plain text: the chunker's Explicit
// separator class already understands markdown sentence punctuation, and
// header detection happens downstream in the chunker/partition step, not
// here — this decoder's only job is byte decoding.
type MarkdownDecoder struct{}

func (MarkdownDecoder) Decode(data []byte) (string, error) {
	return contentErrorIfEmpty("contentdecoder.MarkdownDecoder.Decode", string(data))
}

func (MarkdownDecoder) MimeTypes() []string {
	return []string{"text/markdown", "text/x-markdown"}
}
