package pipelinehandlers

import (
	"context"
	"fmt"

	"github.com/connexus-ai/kmemory/internal/embedding"
	"github.com/connexus-ai/kmemory/internal/kmerr"
	"github.com/connexus-ai/kmemory/internal/model"
	"github.com/connexus-ai/kmemory/internal/pipeline"
)

// StepGenEmbeddings is the canonical step name for GenEmbeddingsHandler.
const StepGenEmbeddings = "gen_embeddings"

// GenEmbeddingsHandler implements the "gen_embeddings" step (spec §4.4):
// for every text_partition, calls the embedding generator and writes the
// resulting vector as an embedding generatedFile whose ContentType holds
// the model name. The vector's dimension is not recorded on the
// generatedFile.
//
// Grounded on the teacher's internal/service/pipeline.go step 5
// (EmbedAndStore) and internal/service/embedder.go's batching, generalized
// from a combined embed-and-store call into a step that only embeds —
// save_records persists to MemoryDb separately, per the spec's narrower
// per-step responsibilities.
type GenEmbeddingsHandler struct {
	Generator embedding.Generator
}

func (h GenEmbeddingsHandler) Name() string { return StepGenEmbeddings }

func (h GenEmbeddingsHandler) Invoke(ctx context.Context, pctx pipeline.PipelineContext, p *model.DataPipeline) (bool, error) {
	const op = "pipelinehandlers.GenEmbeddingsHandler.Invoke"

	type unit struct {
		file *model.FileDetails
		gen  model.GeneratedFile
	}
	var units []unit
	for i := range p.Files {
		f := &p.Files[i]
		embedded := map[int]bool{}
		for _, gf := range f.GeneratedFiles {
			if gf.Tags == "embedding" {
				embedded[gf.PartNumber] = true
			}
		}
		for _, gf := range f.GeneratedFiles {
			if gf.Tags == "text_partition" && !embedded[gf.PartNumber] {
				units = append(units, unit{file: f, gen: gf})
			}
		}
	}
	if len(units) == 0 {
		return true, nil
	}

	texts := make([]string, len(units))
	for i, u := range units {
		if err := ctx.Err(); err != nil {
			return false, kmerr.New(kmerr.KindCancelled, op, err)
		}
		data, err := pctx.Storage.ReadFile(ctx, pipeline.GeneratedPath(p.Index, p.DocumentID, u.file.ID, "text_partition", u.gen.PartNumber))
		if err != nil {
			return false, err
		}
		texts[i] = string(data)
	}

	vectors, err := h.Generator.Embed(ctx, texts)
	if err != nil {
		return false, err
	}
	if len(vectors) != len(units) {
		return false, kmerr.New(kmerr.KindPermanentBackend, op,
			fmt.Errorf("embedding generator returned %d vectors for %d inputs", len(vectors), len(units)))
	}

	for i, u := range units {
		if err := ctx.Err(); err != nil {
			return false, kmerr.New(kmerr.KindCancelled, op, err)
		}
		encoded := encodeVector(vectors[i])
		if err := pctx.Storage.WriteFile(ctx, pipeline.GeneratedPath(p.Index, p.DocumentID, u.file.ID, "embedding", u.gen.PartNumber),
			encoded, "application/octet-stream"); err != nil {
			return false, err
		}
		u.file.AddGeneratedFile(model.GeneratedFile{
			ID:          fmt.Sprintf("%s#embedding#%d", u.file.ID, u.gen.PartNumber),
			Name:        u.file.Name,
			Tags:        "embedding",
			ContentType: h.Generator.ModelName(),
			PartNumber:  u.gen.PartNumber,
		})
	}
	return true, nil
}
