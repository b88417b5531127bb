// Package memorydb implements the tag-filtered vector-memory abstraction
// (spec §4.3): createIndex/getIndexes/deleteIndex/upsert/delete/getList/
// getSimilarList, DNF tag filtering, and true-cosine-similarity scoring.
//
// Three backends share this contract: an in-memory implementation (tests,
// the in-process single-node default), a pgvector implementation grounded
// on the teacher's internal/repository/chunk.go, and a Qdrant implementation
// grounded on Tangerg-lynx's ai/providers/vectorstores/qdrant/store.go.
package memorydb

import (
	"context"
	"math"

	"github.com/connexus-ai/kmemory/internal/model"
)

// Scored pairs a record with its cosine similarity to a query vector.
type Scored struct {
	Record model.MemoryRecord
	Score  float64
}

// MemoryDb is the vector-store abstraction every backend implements.
type MemoryDb interface {
	// CreateIndex is idempotent; it fails with a KindIndexSchemaConflict
	// *kmerr.Error if index already exists with a different vectorSize.
	CreateIndex(ctx context.Context, index string, vectorSize int) error
	// GetIndexes returns every known logical index name.
	GetIndexes(ctx context.Context) ([]string, error)
	// DeleteIndex removes the index, or (for backends sharing one physical
	// collection) every record carrying that logical-index tag.
	DeleteIndex(ctx context.Context, index string) error

	// Upsert inserts or overwrites by record.ID. Must be durable before
	// returning. Fails with KindIndexNotFound if index doesn't exist.
	Upsert(ctx context.Context, index string, record model.MemoryRecord) error
	// Delete removes a record by id; deleting a missing id is a no-op.
	Delete(ctx context.Context, index string, recordID string) error

	// GetSimilarList returns the top-limit records ordered by descending
	// cosine similarity to queryVector, dropping scores below minRelevance.
	// Returns an empty slice (not an error) if index doesn't exist.
	GetSimilarList(ctx context.Context, index string, queryVector []float32, filters []model.MemoryFilter, minRelevance float64, limit int, withEmbeddings bool) ([]Scored, error)
	// GetList returns up to limit records matching filters, with no vector
	// query. Returns an empty slice (not an error) if index doesn't exist.
	GetList(ctx context.Context, index string, filters []model.MemoryFilter, limit int, withEmbeddings bool) ([]model.MemoryRecord, error)
}

// CosineSimilarity computes true cosine similarity in [-1, 1]. Backends
// whose native score isn't guaranteed to be exactly this (e.g. a distance
// metric, or a score normalized to [0,1]) must recompute from the raw
// vectors rather than trust the backend's reported score (spec §4.3).
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
