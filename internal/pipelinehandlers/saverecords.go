package pipelinehandlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/connexus-ai/kmemory/internal/kmerr"
	"github.com/connexus-ai/kmemory/internal/memorydb"
	"github.com/connexus-ai/kmemory/internal/model"
	"github.com/connexus-ai/kmemory/internal/pipeline"
)

// StepSaveRecords is the canonical step name for SaveRecordsHandler.
const StepSaveRecords = "save_records"

// SaveRecordsHandler implements the "save_records" step (spec §4.4): for
// every (partition, embedding) pair, builds a MemoryRecord with a
// deterministic id and upserts it into MemoryDb.
//
// Grounded on the teacher's internal/repository/chunk.go upsert call
// (invoked here from the pipeline's own record-assembly step instead of
// embedder.go's combined embed-and-store), with tag/payload construction
// taken directly from spec §4.4.
type SaveRecordsHandler struct {
	Db         memorydb.MemoryDb
	ModelName  string
	SourceURL  string // optional, e.g. for importWebPage
	SourceName string
}

func (h SaveRecordsHandler) Name() string { return StepSaveRecords }

func (h SaveRecordsHandler) Invoke(ctx context.Context, pctx pipeline.PipelineContext, p *model.DataPipeline) (bool, error) {
	const op = "pipelinehandlers.SaveRecordsHandler.Invoke"

	for i := range p.Files {
		f := &p.Files[i]
		embeddings := map[int]model.GeneratedFile{}
		partitions := map[int]model.GeneratedFile{}
		for _, gf := range f.GeneratedFiles {
			switch gf.Tags {
			case "embedding":
				embeddings[gf.PartNumber] = gf
			case "text_partition":
				partitions[gf.PartNumber] = gf
			}
		}

		for partNum, partitionGen := range partitions {
			if err := ctx.Err(); err != nil {
				return false, kmerr.New(kmerr.KindCancelled, op, err)
			}
			if hasGeneratedTag(f, "memory_record") && recordAlreadySaved(f, partNum) {
				continue // already saved — idempotent re-run
			}
			embeddingGen, ok := embeddings[partNum]
			if !ok {
				continue // gen_embeddings hasn't produced this part yet
			}

			text, err := pctx.Storage.ReadFile(ctx, pipeline.GeneratedPath(p.Index, p.DocumentID, f.ID, "text_partition", partitionGen.PartNumber))
			if err != nil {
				return false, err
			}
			vecData, err := pctx.Storage.ReadFile(ctx, pipeline.GeneratedPath(p.Index, p.DocumentID, f.ID, "embedding", embeddingGen.PartNumber))
			if err != nil {
				return false, err
			}
			vector := decodeVector(vecData)

			record := h.buildRecord(p, f, partNum, string(text), vector)
			record.Tags.Set(model.TagSectionNumber, fmt.Sprintf("%d", partitionGen.SectionNumber))
			if err := h.Db.Upsert(ctx, p.Index, record); err != nil {
				return false, err
			}

			f.AddGeneratedFile(model.GeneratedFile{
				ID:          fmt.Sprintf("%s#memory_record#%d", f.ID, partNum),
				Name:        record.ID,
				Tags:        "memory_record",
				ContentType: "application/vnd.kmemory.record",
				PartNumber:  partNum,
			})
		}
	}
	return true, nil
}

func recordAlreadySaved(f *model.FileDetails, partNum int) bool {
	for _, gf := range f.GeneratedFiles {
		if gf.Tags == "memory_record" && gf.PartNumber == partNum {
			return true
		}
	}
	return false
}

// recordID derives a deterministic id so re-running save_records for the
// same (document, file, partition, model) never creates a duplicate record
// (spec §4.4).
func recordID(documentID, fileID string, partNumber int, modelName string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", documentID, fileID, partNumber, modelName)))
	return hex.EncodeToString(sum[:])
}

func (h SaveRecordsHandler) buildRecord(p *model.DataPipeline, f *model.FileDetails, partNum int, text string, vector []float32) model.MemoryRecord {
	tags := p.Tags.Clone()
	tags.Set(model.TagDocumentID, p.DocumentID)
	tags.Set(model.TagFileID, f.ID)
	tags.Set(model.TagPartNumber, fmt.Sprintf("%d", partNum))
	tags.Set("source_name", firstNonEmpty(h.SourceName, f.Name))
	if h.SourceURL != "" {
		tags.Set("source_url", h.SourceURL)
	}
	tags.Set("last_update", p.LastUpdate.UTC().Format(time.RFC3339))

	payload := map[string]string{
		"text":           text,
		"source":         firstNonEmpty(h.SourceName, f.Name),
		"timestamp":      p.LastUpdate.UTC().Format(time.RFC3339),
		"schema_version": model.CurrentSchemaVersion,
	}

	return model.MemoryRecord{
		ID:      recordID(p.DocumentID, f.ID, partNum, h.ModelName),
		Vector:  vector,
		Tags:    tags,
		Payload: payload,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
