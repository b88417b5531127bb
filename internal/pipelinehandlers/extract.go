// Package pipelinehandlers implements the concrete pipeline.Handler step
// implementations named in spec §4.4: extract, partition, gen_embeddings,
// save_records, summarize, delete_document. Each is grounded on the
// corresponding step inlined in the teacher's internal/service/pipeline.go
// ProcessDocument, generalized from one hardcoded sequence into an
// independent, idempotent Handler any step list can reference by name.
package pipelinehandlers

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/kmemory/internal/contentdecoder"
	"github.com/connexus-ai/kmemory/internal/kmerr"
	"github.com/connexus-ai/kmemory/internal/model"
	"github.com/connexus-ai/kmemory/internal/pipeline"
)

// StepExtract is the canonical step name for ExtractHandler.
const StepExtract = "extract"

// ExtractHandler implements the "extract" step (spec §4.4): for every file
// with a registered decoder, reads its source bytes, decodes plain text,
// and writes the result back as an extracted_text generatedFile.
//
// Grounded on the teacher's internal/service/pipeline.go step 1 (parse via
// Document AI), generalized from one fixed parser to contentdecoder's
// MIME-keyed registry.
type ExtractHandler struct {
	Decoders *contentdecoder.Registry
}

func (h ExtractHandler) Name() string { return StepExtract }

func (h ExtractHandler) Invoke(ctx context.Context, pctx pipeline.PipelineContext, p *model.DataPipeline) (bool, error) {
	const op = "pipelinehandlers.ExtractHandler.Invoke"

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pctx.FileConcurrency)

	for i := range p.Files {
		f := &p.Files[i]
		if hasGeneratedTag(f, "extracted_text") {
			continue // already extracted — idempotent re-run
		}
		decoder, ok := h.Decoders.For(f.MimeType)
		if !ok {
			slog.WarnContext(ctx, "extract: no decoder for mime type, skipping file",
				"document_id", p.DocumentID, "file_id", f.ID, "mime_type", f.MimeType)
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return kmerr.New(kmerr.KindCancelled, op, err)
			}
			data, err := pctx.Storage.ReadFile(gctx, pipeline.SourcePath(p.Index, p.DocumentID, f.ID))
			if err != nil {
				return err
			}
			text, err := decoder.Decode(data)
			if err != nil {
				if kmerr.Is(err, kmerr.KindContent) {
					p.AppendLog(fmt.Sprintf("extract: file %s produced no text: %v", f.ID, err))
					slog.WarnContext(gctx, "extract: file produced no text, skipping",
						"document_id", p.DocumentID, "file_id", f.ID, "error", err)
					return nil
				}
				return err
			}
			genID := f.ID + "#extracted_text"
			if err := pctx.Storage.WriteFile(gctx, pipeline.GeneratedPath(p.Index, p.DocumentID, f.ID, "extracted_text", 0),
				[]byte(text), "text/plain"); err != nil {
				return err
			}
			f.AddGeneratedFile(model.GeneratedFile{
				ID:          genID,
				Name:        f.Name,
				Tags:        "extracted_text",
				ContentType: "text/plain",
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return false, err
	}
	return true, nil
}

func hasGeneratedTag(f *model.FileDetails, tag string) bool {
	for _, gf := range f.GeneratedFiles {
		if gf.Tags == tag {
			return true
		}
	}
	return false
}
