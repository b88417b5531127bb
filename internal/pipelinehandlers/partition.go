package pipelinehandlers

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/kmemory/internal/chunker"
	"github.com/connexus-ai/kmemory/internal/kmerr"
	"github.com/connexus-ai/kmemory/internal/model"
	"github.com/connexus-ai/kmemory/internal/pipeline"
)

// StepPartition is the canonical step name for PartitionHandler.
const StepPartition = "partition"

// PartitionHandler implements the "partition" step (spec §4.4): for every
// extracted_text artifact, runs the chunker with the configured budget and
// writes each resulting chunk as a text_partition generatedFile with a
// deterministic PartNumber.
//
// Grounded on the teacher's internal/service/pipeline.go step 4 (Chunk),
// generalized from one chunking call per document to one per extracted_text
// artifact (a document may carry several, one per file).
type PartitionHandler struct {
	Chunker *chunker.Chunker
	Options chunker.Options
}

func (h PartitionHandler) Name() string { return StepPartition }

func (h PartitionHandler) Invoke(ctx context.Context, pctx pipeline.PipelineContext, p *model.DataPipeline) (bool, error) {
	const op = "pipelinehandlers.PartitionHandler.Invoke"

	type unit struct {
		file *model.FileDetails
		gen  model.GeneratedFile
	}
	var units []unit
	for i := range p.Files {
		f := &p.Files[i]
		if hasGeneratedTag(f, "text_partition") {
			continue // already partitioned — idempotent re-run
		}
		for _, gf := range f.GeneratedFiles {
			if gf.Tags == "extracted_text" {
				units = append(units, unit{file: f, gen: gf})
			}
		}
	}

	// partitionOffset keeps chunk numbers from different extracted_text
	// sections of the same file (e.g. body at section 0, summarize's
	// summary at section 1) from colliding in the file's PartNumber space.
	const partitionOffset = 1000

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pctx.FileConcurrency)

	for _, u := range units {
		u := u
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return kmerr.New(kmerr.KindCancelled, op, err)
			}
			text, err := pctx.Storage.ReadFile(gctx, pipeline.GeneratedPath(p.Index, p.DocumentID, u.file.ID, "extracted_text", u.gen.SectionNumber))
			if err != nil {
				return err
			}
			chunks := h.Chunker.Split(string(text), h.Options)
			base := u.gen.SectionNumber * partitionOffset
			for n, chunk := range chunks {
				if err := gctx.Err(); err != nil {
					return kmerr.New(kmerr.KindCancelled, op, err)
				}
				partNum := base + n
				if err := pctx.Storage.WriteFile(gctx, pipeline.GeneratedPath(p.Index, p.DocumentID, u.file.ID, "text_partition", partNum),
					[]byte(chunk), "text/plain"); err != nil {
					return err
				}
				u.file.AddGeneratedFile(model.GeneratedFile{
					ID:            fmt.Sprintf("%s#text_partition#%d", u.file.ID, partNum),
					Name:          u.file.Name,
					Tags:          "text_partition",
					ContentType:   "text/plain",
					PartNumber:    partNum,
					SectionNumber: u.gen.SectionNumber,
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return false, err
	}
	return true, nil
}
