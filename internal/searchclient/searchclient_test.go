package searchclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/kmemory/internal/embedding"
	"github.com/connexus-ai/kmemory/internal/memorydb"
	"github.com/connexus-ai/kmemory/internal/model"
	"github.com/connexus-ai/kmemory/internal/textgenerator"
)

func seedRecord(t *testing.T, db memorydb.MemoryDb, gen embedding.Generator, index, docID, text, sourceName, user string) {
	t.Helper()
	vectors, err := gen.Embed(context.Background(), []string{text})
	require.NoError(t, err)

	tags := model.NewTagCollection()
	tags.Set(model.TagDocumentID, docID)
	if user != "" {
		tags.Set("user", user)
	}
	tags.Set("source_name", sourceName)
	tags.Set("last_update", "2026-01-01T00:00:00Z")

	require.NoError(t, db.Upsert(context.Background(), index, model.MemoryRecord{
		ID:     docID + "-" + text,
		Vector: vectors[0],
		Tags:   tags,
		Payload: map[string]string{
			"text":           text,
			"source":         sourceName,
			"timestamp":      "2026-01-01T00:00:00Z",
			"schema_version": model.CurrentSchemaVersion,
		},
	}))
}

func TestSearch_ReturnsExactMatchWithHighRelevance(t *testing.T) {
	db := memorydb.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, db.CreateIndex(ctx, "t1", 8))

	gen := embedding.NewDeterministicGenerator(8)
	seedRecord(t, db, gen, "t1", "doc-a", "mass-energy equivalence relates mass and energy", "physics.txt", "")

	c := &Client{Db: db, Embedder: gen}
	results, err := c.Search(ctx, "t1", "mass-energy equivalence relates mass and energy", nil, 0.5, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Partitions, 1)
	assert.Contains(t, results[0].Partitions[0].Text, "mass-energy")
	assert.GreaterOrEqual(t, results[0].Partitions[0].Relevance, 0.99)
}

func TestSearch_TagIsolation(t *testing.T) {
	db := memorydb.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, db.CreateIndex(ctx, "t1", 8))

	gen := embedding.NewDeterministicGenerator(8)
	seedRecord(t, db, gen, "t1", "doc-a", "a shared sentence", "a.txt", "blake")
	seedRecord(t, db, gen, "t1", "doc-b", "a shared sentence", "b.txt", "taylor")

	c := &Client{Db: db, Embedder: gen}
	filter := []model.MemoryFilter{model.NewMemoryFilter().AddEquals("user", "blake")}
	results, err := c.Search(ctx, "t1", "a shared sentence", filter, -1, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.txt", results[0].SourceName)
}

func TestSearch_EmptyQueryIsInputError(t *testing.T) {
	db := memorydb.NewMemoryStore()
	gen := embedding.NewDeterministicGenerator(8)
	c := &Client{Db: db, Embedder: gen}
	_, err := c.Search(context.Background(), "t1", "", nil, 0, 10)
	require.Error(t, err)
}

func TestAsk_GroundsAnswerInRetrievedPassages(t *testing.T) {
	db := memorydb.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, db.CreateIndex(ctx, "t1", 8))

	gen := embedding.NewDeterministicGenerator(8)
	seedRecord(t, db, gen, "t1", "doc-a", "the answer is forty-two", "a.txt", "")

	c := &Client{Db: db, Embedder: gen, TextGenerator: textgenerator.EchoGenerator{}}
	result, err := c.Ask(ctx, "t1", "what is the answer?", nil, -1)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "the answer is forty-two")
	assert.Contains(t, result.Text, "what is the answer?")
	require.Len(t, result.RelevantSources, 1)
}

func TestAsk_WithoutTextGeneratorIsConfigurationError(t *testing.T) {
	db := memorydb.NewMemoryStore()
	gen := embedding.NewDeterministicGenerator(8)
	c := &Client{Db: db, Embedder: gen}
	_, err := c.Ask(context.Background(), "t1", "anything", nil, 0)
	require.Error(t, err)
}

func TestList_ReturnsUnrankedResultsGroupedBySource(t *testing.T) {
	db := memorydb.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, db.CreateIndex(ctx, "t1", 8))

	gen := embedding.NewDeterministicGenerator(8)
	seedRecord(t, db, gen, "t1", "doc-a", "first chunk of doc a", "a.txt", "")
	seedRecord(t, db, gen, "t1", "doc-a", "second chunk of doc a", "a.txt", "")
	seedRecord(t, db, gen, "t1", "doc-b", "only chunk of doc b", "b.txt", "")

	c := &Client{Db: db, Embedder: gen}
	results, err := c.List(ctx, "t1", nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	var aCount, bCount int
	for _, s := range results {
		switch s.SourceName {
		case "a.txt":
			aCount = len(s.Partitions)
		case "b.txt":
			bCount = len(s.Partitions)
		}
	}
	assert.Equal(t, 2, aCount)
	assert.Equal(t, 1, bCount)
}
