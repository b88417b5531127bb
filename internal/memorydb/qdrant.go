package memorydb

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/connexus-ai/kmemory/internal/kmerr"
	"github.com/connexus-ai/kmemory/internal/model"
)

// payloadTagsPrefix namespaces tag keys inside the Qdrant point payload so
// they never collide with the reserved record-id/score fields Qdrant itself
// manages.
const payloadTagsPrefix = "tag_"

// QdrantStore implements MemoryDb against Qdrant, one physical collection
// per logical index (unlike PgVectorStore's shared-table mode) — this is
// the "one collection per index" option named in SPEC_FULL.md §9's Open
// Questions resolution.
//
// Grounded on Tangerg-lynx's ai/providers/vectorstores/qdrant/store.go
// (collection lifecycle, PointStruct construction, payload conversion) and
// its converter.go (qdrant.Filter Must/Should/MustNot shape), generalized
// from that store's single free-form AST filter down to this spec's
// (key, value) tag-equality DNF filter.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore wraps an existing client.
func NewQdrantStore(client *qdrant.Client) *QdrantStore {
	return &QdrantStore{client: client}
}

func (s *QdrantStore) CreateIndex(ctx context.Context, index string, vectorSize int) error {
	const op = "memorydb.QdrantStore.CreateIndex"
	exists, err := s.client.CollectionExists(ctx, index)
	if err != nil {
		return kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	if exists {
		info, err := s.client.GetCollectionInfo(ctx, index)
		if err != nil {
			return kmerr.New(kmerr.KindTransientBackend, op, err)
		}
		existingSize := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if existingSize != uint64(vectorSize) {
			return kmerr.New(kmerr.KindIndexSchemaConflict, op,
				fmt.Errorf("index %q exists with vector size %d, requested %d", index, existingSize, vectorSize))
		}
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: index,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	return nil
}

func (s *QdrantStore) GetIndexes(ctx context.Context) ([]string, error) {
	const op = "memorydb.QdrantStore.GetIndexes"
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	return names, nil
}

func (s *QdrantStore) DeleteIndex(ctx context.Context, index string) error {
	const op = "memorydb.QdrantStore.DeleteIndex"
	err := s.client.DeleteCollection(ctx, index)
	if err != nil {
		return kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, index string, record model.MemoryRecord) error {
	const op = "memorydb.QdrantStore.Upsert"
	exists, err := s.client.CollectionExists(ctx, index)
	if err != nil {
		return kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	if !exists {
		return kmerr.New(kmerr.KindIndexNotFound, op, fmt.Errorf("index %q not found", index))
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(record.ID),
		Vectors: qdrant.NewVectors(record.Vector...),
		Payload: buildPayload(record),
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: index,
		Points:         []*qdrant.PointStruct{point},
		Wait:           ptrOf(true),
	})
	if err != nil {
		return kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	return nil
}

func (s *QdrantStore) Delete(ctx context.Context, index string, recordID string) error {
	const op = "memorydb.QdrantStore.Delete"
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: index,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewID(recordID)}},
			},
		},
	})
	if err != nil {
		return kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	return nil
}

func (s *QdrantStore) GetSimilarList(ctx context.Context, index string, queryVector []float32, filters []model.MemoryFilter, minRelevance float64, limit int, withEmbeddings bool) ([]Scored, error) {
	const op = "memorydb.QdrantStore.GetSimilarList"
	exists, err := s.client.CollectionExists(ctx, index)
	if err != nil {
		return nil, kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	if !exists {
		return nil, nil
	}

	query := &qdrant.QueryPoints{
		CollectionName: index,
		Query:          qdrant.NewQuery(queryVector...),
		ScoreThreshold: ptrOf(float32(minRelevance)),
		Limit:          ptrOf(uint64(queryLimit(limit))),
		WithPayload:    qdrant.NewWithPayload(true),
		// Always fetched regardless of withEmbeddings: cosine recomputation
		// below needs the raw vector even when the caller doesn't want it
		// echoed back in the result.
		WithVectors: &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true}},
		Filter:      buildQdrantFilter(filters),
	}

	points, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, kmerr.New(kmerr.KindTransientBackend, op, err)
	}

	var scored []Scored
	for _, p := range points {
		vec := vectorsToSlice(p.GetVectors())
		record := recordFromPayload(p.GetId().GetUuid(), p.GetPayload())
		if withEmbeddings {
			record.Vector = vec
		}
		// Recompute exact cosine similarity from the raw vectors, same
		// reasoning as PgVectorStore: Qdrant's reported score shares the
		// same normalization ambiguity the spec requires removing.
		score := CosineSimilarity(queryVector, vec)
		scored = append(scored, Scored{Record: record, Score: score})
		if limit > 0 && len(scored) >= limit {
			break
		}
	}
	return scored, nil
}

func (s *QdrantStore) GetList(ctx context.Context, index string, filters []model.MemoryFilter, limit int, withEmbeddings bool) ([]model.MemoryRecord, error) {
	const op = "memorydb.QdrantStore.GetList"
	exists, err := s.client.CollectionExists(ctx, index)
	if err != nil {
		return nil, kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	if !exists {
		return nil, nil
	}

	scrollLimit := uint32(queryLimit(limit))
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: index,
		Filter:         buildQdrantFilter(filters),
		Limit:          &scrollLimit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: withEmbeddings}},
	})
	if err != nil {
		return nil, kmerr.New(kmerr.KindTransientBackend, op, err)
	}

	var out []model.MemoryRecord
	for _, p := range points {
		record := recordFromPayload(p.GetId().GetUuid(), p.GetPayload())
		if withEmbeddings {
			record.Vector = vectorsToSlice(p.GetVectors())
		}
		out = append(out, record)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// queryLimit mirrors candidateLimit in pgvector.go: Qdrant's own Filter
// already prunes at the server, so unlike the pgvector path no extra
// over-fetch multiplier is needed — just a sane ceiling when unbounded.
func queryLimit(limit int) int {
	if limit <= 0 {
		return 1000
	}
	return limit
}

// buildQdrantFilter renders the DNF (OR-of-AND) tag filter as a native
// Qdrant filter: each conjunction becomes a nested Must-filter condition,
// ORed together via the top-level Should clause, matching converter.go's
// visitLogicalExpr Must/Should mapping.
func buildQdrantFilter(filters []model.MemoryFilter) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	var should []*qdrant.Condition
	for _, f := range filters {
		if f.IsEmpty() {
			continue
		}
		var must []*qdrant.Condition
		for key, values := range f {
			if len(values) == 0 {
				continue
			}
			must = append(must, qdrant.NewMatchKeywords(payloadTagsPrefix+key, values...))
		}
		if len(must) == 0 {
			continue
		}
		should = append(should, qdrant.NewFilterAsCondition(&qdrant.Filter{Must: must}))
	}
	if len(should) == 0 {
		return nil
	}
	return &qdrant.Filter{Should: should}
}

// buildPayload converts the record's tags and payload into a Qdrant point
// payload via TryValueMap, the same metadata-to-payload helper
// store.go's buildPointStruct uses, rather than hand-building
// qdrant.Value/ListValue trees.
func buildPayload(record model.MemoryRecord) map[string]*qdrant.Value {
	raw := make(map[string]any, len(record.Tags)+len(record.Payload))
	for key, values := range record.Tags {
		strs := make([]string, len(values))
		copy(strs, values)
		raw[payloadTagsPrefix+key] = strs
	}
	for key, value := range record.Payload {
		raw["payload_"+key] = value
	}
	payload, err := qdrant.TryValueMap(raw)
	if err != nil {
		// TryValueMap only fails on types it doesn't support; tags and
		// payload are always plain strings/[]string here.
		return map[string]*qdrant.Value{}
	}
	return payload
}

func recordFromPayload(id string, payload map[string]*qdrant.Value) model.MemoryRecord {
	tags := model.NewTagCollection()
	out := map[string]string{}
	for key, value := range payload {
		switch {
		case len(key) > len(payloadTagsPrefix) && key[:len(payloadTagsPrefix)] == payloadTagsPrefix:
			tagKey := key[len(payloadTagsPrefix):]
			if list := value.GetListValue(); list != nil {
				for _, v := range list.GetValues() {
					tags.Add(tagKey, v.GetStringValue())
				}
			} else {
				tags.Add(tagKey, value.GetStringValue())
			}
		case len(key) > len("payload_") && key[:len("payload_")] == "payload_":
			out[key[len("payload_"):]] = value.GetStringValue()
		}
	}
	record := model.MemoryRecord{ID: id, Tags: tags, Payload: out}
	model.UpgradeSchema(&record)
	return record
}

func vectorsToSlice(v *qdrant.VectorsOutput) []float32 {
	if v == nil || v.GetVector() == nil {
		return nil
	}
	return v.GetVector().GetData()
}

func ptrOf[T any](v T) *T {
	return &v
}
