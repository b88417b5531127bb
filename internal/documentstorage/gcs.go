package documentstorage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/connexus-ai/kmemory/internal/kmerr"
)

// GCSStorage implements DocumentStorage on top of Cloud Storage, one bucket
// shared across indexes with object names prefixed by ObjectPath.String().
// Grounded directly on the teacher's gcpclient.StorageAdapter, generalized
// from its fixed (documentId, filename) addressing to the spec's
// (index, documentId, filename) key and adding DeleteDocument (the teacher
// never needed cascade delete across a whole object prefix).
type GCSStorage struct {
	client *storage.Client
	bucket string
}

// NewGCSStorage opens a Cloud Storage client for bucket.
func NewGCSStorage(ctx context.Context, bucket string) (*GCSStorage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("documentstorage.NewGCSStorage: %w", err)
	}
	return &GCSStorage{client: client, bucket: bucket}, nil
}

func (s *GCSStorage) WriteFile(ctx context.Context, path ObjectPath, data []byte, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(path.String()).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return classifyGCSError("documentstorage.GCSStorage.WriteFile", err)
	}
	if err := w.Close(); err != nil {
		return classifyGCSError("documentstorage.GCSStorage.WriteFile", err)
	}
	return nil
}

func (s *GCSStorage) ReadFile(ctx context.Context, path ObjectPath) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(path.String()).NewReader(ctx)
	if err != nil {
		return nil, classifyGCSError("documentstorage.GCSStorage.ReadFile", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, classifyGCSError("documentstorage.GCSStorage.ReadFile", err)
	}
	return data, nil
}

func (s *GCSStorage) Exists(ctx context.Context, path ObjectPath) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(path.String()).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	return false, classifyGCSError("documentstorage.GCSStorage.Exists", err)
}

func (s *GCSStorage) DeleteDocument(ctx context.Context, index, documentID string) error {
	prefix := fmt.Sprintf("%s/%s/", index, documentID)
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return classifyGCSError("documentstorage.GCSStorage.DeleteDocument", err)
		}
		if err := s.client.Bucket(s.bucket).Object(attrs.Name).Delete(ctx); err != nil && err != storage.ErrObjectNotExist {
			return classifyGCSError("documentstorage.GCSStorage.DeleteDocument", err)
		}
	}
	return nil
}

func (s *GCSStorage) ListDocuments(ctx context.Context, index string) ([]string, error) {
	prefix := index + "/"
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	var out []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classifyGCSError("documentstorage.GCSStorage.ListDocuments", err)
		}
		if attrs.Prefix == "" {
			continue
		}
		documentID := strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, prefix), "/")
		if documentID != "" {
			out = append(out, documentID)
		}
	}
	return out, nil
}

// Close releases the underlying client.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func classifyGCSError(op string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "503") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "rate limit") {
		return kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	return kmerr.New(kmerr.KindPermanentBackend, op, err)
}
