package memorydb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/connexus-ai/kmemory/internal/kmerr"
	"github.com/connexus-ai/kmemory/internal/model"
)

type memIndex struct {
	vectorSize int
	records    map[string]model.MemoryRecord
}

// MemoryStore is an in-process MemoryDb, one physical map per logical
// index. Used by cmd/server's single-node mode and by tests — it's also
// the reference implementation the pgvector/qdrant backends' behavior is
// checked against, since DNF filtering and cosine recomputation live here
// in their simplest form.
type MemoryStore struct {
	mu      sync.RWMutex
	indexes map[string]*memIndex
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{indexes: map[string]*memIndex{}}
}

func (s *MemoryStore) CreateIndex(_ context.Context, index string, vectorSize int) error {
	const op = "memorydb.MemoryStore.CreateIndex"
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.indexes[index]; ok {
		if existing.vectorSize != vectorSize {
			return kmerr.New(kmerr.KindIndexSchemaConflict, op,
				fmt.Errorf("index %q exists with vector size %d, requested %d", index, existing.vectorSize, vectorSize))
		}
		return nil
	}
	s.indexes[index] = &memIndex{vectorSize: vectorSize, records: map[string]model.MemoryRecord{}}
	return nil
}

func (s *MemoryStore) GetIndexes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.indexes))
	for name := range s.indexes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) DeleteIndex(_ context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, index)
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, index string, record model.MemoryRecord) error {
	const op = "memorydb.MemoryStore.Upsert"
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[index]
	if !ok {
		return kmerr.New(kmerr.KindIndexNotFound, op, fmt.Errorf("index %q not found", index))
	}
	if record.ID == "" {
		return kmerr.New(kmerr.KindInput, op, fmt.Errorf("record id is empty"))
	}
	model.UpgradeSchema(&record)
	idx.records[record.ID] = record
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, index string, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[index]
	if !ok {
		return nil
	}
	delete(idx.records, recordID)
	return nil
}

func (s *MemoryStore) GetSimilarList(_ context.Context, index string, queryVector []float32, filters []model.MemoryFilter, minRelevance float64, limit int, withEmbeddings bool) ([]Scored, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[index]
	if !ok {
		return nil, nil
	}

	var scored []Scored
	for _, r := range idx.records {
		if !model.MatchesAny(filters, r.Tags) {
			continue
		}
		score := CosineSimilarity(queryVector, r.Vector)
		if score < minRelevance {
			continue
		}
		out := r
		if !withEmbeddings {
			out.Vector = nil
		}
		scored = append(scored, Scored{Record: out, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *MemoryStore) GetList(_ context.Context, index string, filters []model.MemoryFilter, limit int, withEmbeddings bool) ([]model.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[index]
	if !ok {
		return nil, nil
	}

	ids := make([]string, 0, len(idx.records))
	for id := range idx.records {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic ordering for a backend with no natural order

	var out []model.MemoryRecord
	for _, id := range ids {
		r := idx.records[id]
		if !model.MatchesAny(filters, r.Tags) {
			continue
		}
		if !withEmbeddings {
			r.Vector = nil
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
