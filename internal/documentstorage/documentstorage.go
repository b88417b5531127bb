// Package documentstorage stores and retrieves the raw bytes of uploaded
// files and pipeline artifacts, addressed by (index, documentId, filename).
// Grounded on the teacher's internal/gcpclient/storage.go StorageAdapter.
package documentstorage

import (
	"context"
	"fmt"
)

// ObjectPath identifies one stored blob.
type ObjectPath struct {
	Index      string
	DocumentID string
	FileName   string
}

// String renders the path the way backends key their objects:
// "<index>/<documentId>/<fileName>".
func (p ObjectPath) String() string {
	return fmt.Sprintf("%s/%s/%s", p.Index, p.DocumentID, p.FileName)
}

// DocumentStorage persists file bytes for a pipeline. Implementations must
// be safe for concurrent use — multiple pipeline steps across goroutines
// read and write artifacts for the same document.
type DocumentStorage interface {
	// WriteFile stores data at path, overwriting any existing object
	// (last-writer-wins, spec §5).
	WriteFile(ctx context.Context, path ObjectPath, data []byte, contentType string) error
	// ReadFile returns the bytes stored at path, or an error if absent.
	ReadFile(ctx context.Context, path ObjectPath) ([]byte, error)
	// Exists reports whether an object is present at path.
	Exists(ctx context.Context, path ObjectPath) (bool, error)
	// DeleteDocument removes every object under index/documentId.
	DeleteDocument(ctx context.Context, index, documentID string) error
	// ListDocuments returns every distinct documentId with at least one
	// object stored under index. Used by the orchestrator to find pipelines
	// to resume at startup (spec §4.1 "Resumability").
	ListDocuments(ctx context.Context, index string) ([]string, error)
}
