package contentdecoder

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/connexus-ai/kmemory/internal/kmerr"
)

// DocxDecoder extracts plain text from .docx file bytes. A .docx file is a
// ZIP archive containing XML; the main body text lives in word/document.xml
// as <w:t> elements.
type DocxDecoder struct{}

func (DocxDecoder) Decode(data []byte) (string, error) {
	const op = "contentdecoder.DocxDecoder.Decode"
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", kmerr.New(kmerr.KindContent, op, fmt.Errorf("open docx zip: %w", err))
	}

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", kmerr.New(kmerr.KindContent, op, fmt.Errorf("word/document.xml not found in docx archive"))
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", kmerr.New(kmerr.KindContent, op, fmt.Errorf("open word/document.xml: %w", err))
	}
	defer rc.Close()

	xmlData, err := io.ReadAll(rc)
	if err != nil {
		return "", kmerr.New(kmerr.KindContent, op, fmt.Errorf("read word/document.xml: %w", err))
	}

	text, err := parseDocumentXML(xmlData)
	if err != nil {
		return "", kmerr.New(kmerr.KindContent, op, err)
	}
	return contentErrorIfEmpty(op, text)
}

func (DocxDecoder) MimeTypes() []string {
	return []string{"application/vnd.openxmlformats-officedocument.wordprocessingml.document"}
}

// parseDocumentXML walks the OOXML body and extracts text runs, inserting
// newlines at paragraph boundaries and tabs/breaks where the document has
// them.
func parseDocumentXML(data []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose

	var (
		buf         strings.Builder
		inText      bool
		inPara      bool
		paraHasText bool
	)

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				if inPara && paraHasText {
					buf.WriteByte('\n')
				}
				inPara = true
				paraHasText = false
			case "t":
				inText = true
			case "tab":
				buf.WriteByte('\t')
			case "br":
				buf.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if paraHasText {
					buf.WriteByte('\n')
				}
				inPara = false
			}
		case xml.CharData:
			if inText {
				text := string(t)
				if text != "" {
					buf.WriteString(text)
					paraHasText = true
				}
			}
		}
	}

	return strings.TrimSpace(buf.String()), nil
}
