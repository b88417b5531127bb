package contentdecoder

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/connexus-ai/kmemory/internal/kmerr"
)

// CSVDecoder renders each row as a newline-terminated, comma-joined line so
// the chunker's separator cascade (which already understands "," and "\n")
// can split it without a CSV-aware code path of its own.
type CSVDecoder struct{}

func (CSVDecoder) Decode(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1 // tolerate ragged rows rather than failing ingestion
	records, err := r.ReadAll()
	if err != nil {
		return "", kmerr.New(kmerr.KindContent, "contentdecoder.CSVDecoder.Decode",
			fmt.Errorf("parse csv: %w", err))
	}
	var b strings.Builder
	for _, row := range records {
		b.WriteString(strings.Join(row, ", "))
		b.WriteByte('\n')
	}
	return contentErrorIfEmpty("contentdecoder.CSVDecoder.Decode", b.String())
}

func (CSVDecoder) MimeTypes() []string {
	return []string{"text/csv"}
}
