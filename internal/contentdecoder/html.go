package contentdecoder

import (
	"bytes"
	"strings"

	nethtml "golang.org/x/net/html"

	"github.com/connexus-ai/kmemory/internal/kmerr"
)

// excludedHTMLTags holds elements whose content contributes no readable
// text (grounded on leefowlercu-agentic-memorizer's chunkers/html.go
// excludedTags table).
var excludedHTMLTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true,
	"meta": true, "link": true,
}

// blockHTMLTags get a newline after their text, so the chunker's
// Weak-2 class sees paragraph/heading boundaries instead of one run-on line.
var blockHTMLTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// HTMLDecoder extracts visible text from an HTML document, using
// golang.org/x/net/html for tolerant tree parsing (the same library
// leefowlercu-agentic-memorizer's HTML chunker uses).
type HTMLDecoder struct{}

func (HTMLDecoder) Decode(data []byte) (string, error) {
	const op = "contentdecoder.HTMLDecoder.Decode"
	doc, err := nethtml.Parse(bytes.NewReader(data))
	if err != nil {
		return "", kmerr.New(kmerr.KindContent, op, err)
	}
	var b strings.Builder
	walkHTML(doc, &b, false)
	return contentErrorIfEmpty(op, b.String())
}

func (HTMLDecoder) MimeTypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

func walkHTML(n *nethtml.Node, b *strings.Builder, excluded bool) {
	if n.Type == nethtml.ElementNode && excludedHTMLTags[n.Data] {
		excluded = true
	}
	if n.Type == nethtml.TextNode && !excluded {
		if text := strings.TrimSpace(n.Data); text != "" {
			b.WriteString(text)
			b.WriteByte(' ')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, b, excluded)
	}
	if n.Type == nethtml.ElementNode && blockHTMLTags[n.Data] {
		b.WriteByte('\n')
	}
}
