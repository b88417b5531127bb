package memorydb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/kmemory/internal/kmerr"
	"github.com/connexus-ai/kmemory/internal/model"
)

// PgVectorStore implements MemoryDb on Postgres/pgvector, one physical
// table (memory_records) shared across logical indexes — index name is a
// column, not a separate table — with a memory_indexes registry table
// synthesizing GetIndexes/vector-size conflict checks (spec §4.3
// "implementations that share one physical collection between logical
// indexes must synthesize the list from a meta-index").
//
// Grounded directly on the teacher's internal/repository/chunk.go
// (pgx.Batch bulk insert, pgvector.NewVector, <=> cosine-distance query),
// generalized from its fixed document_chunks/documents schema to the tag-
// filtered, multi-index memory_records schema this spec needs. See
// migrations/001_initial_schema.up.sql for the DDL.
type PgVectorStore struct {
	pool *pgxpool.Pool
}

// NewPgVectorStore wraps an existing pool (built the same way as the
// teacher's internal/repository/db.go NewPool, including the
// pgvector.RegisterTypes AfterConnect hook).
func NewPgVectorStore(pool *pgxpool.Pool) *PgVectorStore {
	return &PgVectorStore{pool: pool}
}

func (s *PgVectorStore) CreateIndex(ctx context.Context, index string, vectorSize int) error {
	const op = "memorydb.PgVectorStore.CreateIndex"
	var existing int
	err := s.pool.QueryRow(ctx, `SELECT vector_size FROM memory_indexes WHERE name = $1`, index).Scan(&existing)
	if err == nil {
		if existing != vectorSize {
			return kmerr.New(kmerr.KindIndexSchemaConflict, op,
				fmt.Errorf("index %q exists with vector size %d, requested %d", index, existing, vectorSize))
		}
		return nil
	}
	if err != pgx.ErrNoRows {
		return kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO memory_indexes (name, vector_size) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING`, index, vectorSize)
	if err != nil {
		return kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	return nil
}

func (s *PgVectorStore) GetIndexes(ctx context.Context) ([]string, error) {
	const op = "memorydb.PgVectorStore.GetIndexes"
	rows, err := s.pool.Query(ctx, `SELECT name FROM memory_indexes ORDER BY name`)
	if err != nil {
		return nil, kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, kmerr.New(kmerr.KindTransientBackend, op, err)
		}
		out = append(out, name)
	}
	return out, nil
}

func (s *PgVectorStore) DeleteIndex(ctx context.Context, index string) error {
	const op = "memorydb.PgVectorStore.DeleteIndex"
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM memory_records WHERE index_name = $1`, index)
	batch.Queue(`DELETE FROM memory_indexes WHERE name = $1`, index)
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	if _, err := br.Exec(); err != nil {
		return kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	if _, err := br.Exec(); err != nil {
		return kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	return nil
}

func (s *PgVectorStore) Upsert(ctx context.Context, index string, record model.MemoryRecord) error {
	const op = "memorydb.PgVectorStore.Upsert"
	if err := s.requireIndex(ctx, op, index); err != nil {
		return err
	}

	tagsJSON, err := json.Marshal(record.Tags)
	if err != nil {
		return kmerr.New(kmerr.KindInput, op, err)
	}
	payloadJSON, err := json.Marshal(record.Payload)
	if err != nil {
		return kmerr.New(kmerr.KindInput, op, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO memory_records (id, index_name, embedding, tags, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			index_name = EXCLUDED.index_name,
			embedding = EXCLUDED.embedding,
			tags = EXCLUDED.tags,
			payload = EXCLUDED.payload`,
		record.ID, index, pgvector.NewVector(record.Vector), tagsJSON, payloadJSON,
	)
	if err != nil {
		return kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	return nil
}

func (s *PgVectorStore) Delete(ctx context.Context, index string, recordID string) error {
	const op = "memorydb.PgVectorStore.Delete"
	_, err := s.pool.Exec(ctx, `DELETE FROM memory_records WHERE index_name = $1 AND id = $2`, index, recordID)
	if err != nil {
		return kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	return nil
}

func (s *PgVectorStore) GetSimilarList(ctx context.Context, index string, queryVector []float32, filters []model.MemoryFilter, minRelevance float64, limit int, withEmbeddings bool) ([]Scored, error) {
	const op = "memorydb.PgVectorStore.GetSimilarList"
	exists, err := s.indexExists(ctx, op, index)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, embedding, tags, payload
		FROM memory_records
		WHERE index_name = $1
		ORDER BY embedding <=> $2::vector
		LIMIT $3`,
		index, pgvector.NewVector(queryVector), candidateLimit(limit),
	)
	if err != nil {
		return nil, kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	defer rows.Close()

	var scored []Scored
	for rows.Next() {
		record, vec, err := scanRecord(rows)
		if err != nil {
			return nil, kmerr.New(kmerr.KindTransientBackend, op, err)
		}
		if !model.MatchesAny(filters, record.Tags) {
			continue
		}
		// Recompute true cosine similarity rather than trust pgvector's
		// <=> (cosine distance) arithmetic verbatim — spec §4.3 requires
		// the reported score to be exact cosine similarity in [-1, 1].
		score := CosineSimilarity(queryVector, vec)
		if score < minRelevance {
			continue
		}
		if withEmbeddings {
			record.Vector = vec
		}
		scored = append(scored, Scored{Record: record, Score: score})
		if limit > 0 && len(scored) >= limit {
			break
		}
	}
	return scored, nil
}

func (s *PgVectorStore) GetList(ctx context.Context, index string, filters []model.MemoryFilter, limit int, withEmbeddings bool) ([]model.MemoryRecord, error) {
	const op = "memorydb.PgVectorStore.GetList"
	exists, err := s.indexExists(ctx, op, index)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, embedding, tags, payload FROM memory_records
		WHERE index_name = $1 ORDER BY id`, index)
	if err != nil {
		return nil, kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	defer rows.Close()

	var out []model.MemoryRecord
	for rows.Next() {
		record, vec, err := scanRecord(rows)
		if err != nil {
			return nil, kmerr.New(kmerr.KindTransientBackend, op, err)
		}
		if !model.MatchesAny(filters, record.Tags) {
			continue
		}
		if withEmbeddings {
			record.Vector = vec
		}
		out = append(out, record)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *PgVectorStore) requireIndex(ctx context.Context, op, index string) error {
	exists, err := s.indexExists(ctx, op, index)
	if err != nil {
		return err
	}
	if !exists {
		return kmerr.New(kmerr.KindIndexNotFound, op, fmt.Errorf("index %q not found", index))
	}
	return nil
}

func (s *PgVectorStore) indexExists(ctx context.Context, op, index string) (bool, error) {
	var name string
	err := s.pool.QueryRow(ctx, `SELECT name FROM memory_indexes WHERE name = $1`, index).Scan(&name)
	if err == nil {
		return true, nil
	}
	if err == pgx.ErrNoRows {
		return false, nil
	}
	return false, kmerr.New(kmerr.KindTransientBackend, op, err)
}

// candidateLimit over-fetches when filters narrow the SQL-level ORDER BY
// ... LIMIT candidate set, since tag filtering happens in Go after the
// query (filters apply to a JSONB column the index query doesn't prune).
// Unbounded (limit<=0) falls back to a generous fixed ceiling.
func candidateLimit(limit int) int {
	if limit <= 0 {
		return 1000
	}
	return limit * 10
}

func scanRecord(rows pgx.Rows) (model.MemoryRecord, []float32, error) {
	var (
		id           string
		embedding    pgvector.Vector
		tagsJSON     []byte
		payloadJSON  []byte
	)
	if err := rows.Scan(&id, &embedding, &tagsJSON, &payloadJSON); err != nil {
		return model.MemoryRecord{}, nil, err
	}
	var tags model.TagCollection
	if err := json.Unmarshal(tagsJSON, &tags); err != nil {
		return model.MemoryRecord{}, nil, err
	}
	var payload map[string]string
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return model.MemoryRecord{}, nil, err
	}
	record := model.MemoryRecord{ID: id, Tags: tags, Payload: payload}
	model.UpgradeSchema(&record)
	return record, embedding.Slice(), nil
}
