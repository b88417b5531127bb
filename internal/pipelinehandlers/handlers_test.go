package pipelinehandlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/kmemory/internal/chunker"
	"github.com/connexus-ai/kmemory/internal/contentdecoder"
	"github.com/connexus-ai/kmemory/internal/documentstorage"
	"github.com/connexus-ai/kmemory/internal/embedding"
	"github.com/connexus-ai/kmemory/internal/memorydb"
	"github.com/connexus-ai/kmemory/internal/model"
	"github.com/connexus-ai/kmemory/internal/pipeline"
	"github.com/connexus-ai/kmemory/internal/textgenerator"
	"github.com/connexus-ai/kmemory/internal/tokenizer"
)

func newTestTokenizer(t *testing.T) chunker.Tokenizer {
	t.Helper()
	tok, err := tokenizer.ForModel("gpt-4")
	require.NoError(t, err)
	return tok
}

func buildOrchestrator(t *testing.T) (*pipeline.Orchestrator, documentstorage.DocumentStorage, memorydb.MemoryDb) {
	t.Helper()
	storage := documentstorage.NewMemoryStorage()
	db := memorydb.NewMemoryStore()
	require.NoError(t, db.CreateIndex(context.Background(), "idx", 8))

	registry := pipeline.NewRegistry()
	registry.AddHandler(ExtractHandler{Decoders: contentdecoder.NewRegistry()})
	registry.AddHandler(PartitionHandler{
		Chunker: chunker.New(newTestTokenizer(t)),
		Options: chunker.Options{MaxTokensPerChunk: 64, Overlap: 4},
	})
	registry.AddHandler(GenEmbeddingsHandler{Generator: embedding.NewDeterministicGenerator(8)})
	registry.AddHandler(SaveRecordsHandler{Db: db, ModelName: "deterministic-test"})
	registry.AddHandler(DeleteDocumentHandler{Db: db})

	o := pipeline.NewOrchestrator(storage, nil, registry, 2)
	return o, storage, db
}

func TestFullIngestPipeline_ProducesSearchableRecords(t *testing.T) {
	o, _, db := buildOrchestrator(t)
	ctx := context.Background()

	p, err := o.PrepareNewDocumentUpload("idx", "", model.NewTagCollection(), []model.FileDetails{
		{ID: "f1", Name: "note.txt", MimeType: "text/plain"},
	})
	require.NoError(t, err)
	o.Then(p, StepExtract)
	o.Then(p, StepPartition)
	o.Then(p, StepGenEmbeddings)
	o.Then(p, StepSaveRecords)

	text := "In physics, mass-energy equivalence is the relationship between mass and energy. E equals m c squared."
	require.NoError(t, o.RunPipelineAsync(ctx, p, map[string][]byte{"f1": []byte(text)}, map[string]string{"f1": "text/plain"}))

	require.Eventually(t, func() bool {
		ready, err := o.IsDocumentReadyAsync(ctx, "idx", p.DocumentID)
		return err == nil && ready
	}, 2*time.Second, 10*time.Millisecond)

	records, err := db.GetList(ctx, "idx", nil, 0, false)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	for _, r := range records {
		assert.Equal(t, p.DocumentID, r.DocumentID())
		assert.Equal(t, model.CurrentSchemaVersion, r.Payload["schema_version"])
		assert.NotEmpty(t, r.Payload["text"])
	}
}

func TestIngestTwice_IsIdempotent(t *testing.T) {
	o, _, db := buildOrchestrator(t)
	ctx := context.Background()

	run := func() string {
		p, err := o.PrepareNewDocumentUpload("idx", "doc-fixed", model.NewTagCollection(), []model.FileDetails{
			{ID: "f1", Name: "note.txt", MimeType: "text/plain"},
		})
		require.NoError(t, err)
		o.Then(p, StepExtract)
		o.Then(p, StepPartition)
		o.Then(p, StepGenEmbeddings)
		o.Then(p, StepSaveRecords)
		require.NoError(t, o.RunPipelineAsync(ctx, p, map[string][]byte{"f1": []byte("a stable sentence for hashing.")}, nil))
		require.Eventually(t, func() bool {
			ready, err := o.IsDocumentReadyAsync(ctx, "idx", "doc-fixed")
			return err == nil && ready
		}, 2*time.Second, 10*time.Millisecond)
		return "doc-fixed"
	}

	run()
	first, err := db.GetList(ctx, "idx", nil, 0, false)
	require.NoError(t, err)

	run()
	second, err := db.GetList(ctx, "idx", nil, 0, false)
	require.NoError(t, err)

	assert.Equal(t, len(first), len(second), "re-running the pipeline must not duplicate records")
}

func TestDeleteDocument_RemovesAllRecordsAndStorage(t *testing.T) {
	o, storage, db := buildOrchestrator(t)
	ctx := context.Background()

	p, err := o.PrepareNewDocumentUpload("idx", "doc-del", model.NewTagCollection(), []model.FileDetails{
		{ID: "f1", Name: "note.txt", MimeType: "text/plain"},
	})
	require.NoError(t, err)
	o.Then(p, StepExtract)
	o.Then(p, StepPartition)
	o.Then(p, StepGenEmbeddings)
	o.Then(p, StepSaveRecords)
	require.NoError(t, o.RunPipelineAsync(ctx, p, map[string][]byte{"f1": []byte("delete me please, this is the content.")}, nil))
	require.Eventually(t, func() bool {
		ready, err := o.IsDocumentReadyAsync(ctx, "idx", "doc-del")
		return err == nil && ready
	}, 2*time.Second, 10*time.Millisecond)

	before, err := db.GetList(ctx, "idx", []model.MemoryFilter{model.NewMemoryFilter().AddEquals(model.TagDocumentID, "doc-del")}, 0, false)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	del, err := o.PrepareNewDocumentUpload("idx", "doc-del", model.NewTagCollection(), []model.FileDetails{{ID: "noop"}})
	require.NoError(t, err)
	o.Then(del, StepDeleteDocument)
	require.NoError(t, o.RunPipelineAsync(ctx, del, nil, nil))
	require.Eventually(t, func() bool {
		summary, err := o.ReadPipelineSummaryAsync(ctx, "idx", "doc-del")
		return err == nil && summary.State == model.StateComplete
	}, 2*time.Second, 10*time.Millisecond)

	after, err := db.GetList(ctx, "idx", []model.MemoryFilter{model.NewMemoryFilter().AddEquals(model.TagDocumentID, "doc-del")}, 0, false)
	require.NoError(t, err)
	assert.Empty(t, after)

	exists, err := storage.Exists(ctx, pipeline.StatusPath("idx", "doc-del"))
	require.NoError(t, err)
	assert.True(t, exists, "DeleteDocument clears file objects but status is rewritten afterwards by WriteStatus")
}

func TestSummarizeHandler_AddsExtraSection(t *testing.T) {
	storage := documentstorage.NewMemoryStorage()
	registry := pipeline.NewRegistry()
	registry.AddHandler(ExtractHandler{Decoders: contentdecoder.NewRegistry()})
	registry.AddHandler(SummarizeHandler{Generator: textgenerator.EchoGenerator{}})
	o := pipeline.NewOrchestrator(storage, nil, registry, 2)

	ctx := context.Background()
	p, err := o.PrepareNewDocumentUpload("idx", "doc-sum", model.NewTagCollection(), []model.FileDetails{
		{ID: "f1", Name: "note.txt", MimeType: "text/plain"},
	})
	require.NoError(t, err)
	o.Then(p, StepExtract)
	o.Then(p, StepSummarize)
	require.NoError(t, o.RunPipelineAsync(ctx, p, map[string][]byte{"f1": []byte("the body text to summarize")}, nil))

	require.Eventually(t, func() bool {
		ready, err := o.IsDocumentReadyAsync(ctx, "idx", "doc-sum")
		return err == nil && ready
	}, 2*time.Second, 10*time.Millisecond)

	status, err := o.ReadPipelineStatusAsync(ctx, "idx", "doc-sum")
	require.NoError(t, err)
	f, ok := status.File("f1")
	require.True(t, ok)

	var sections []int
	for _, gf := range f.GeneratedFiles {
		if gf.Tags == "extracted_text" {
			sections = append(sections, gf.SectionNumber)
		}
	}
	assert.ElementsMatch(t, []int{0, 1}, sections)
}
