package pipelinehandlers

import (
	"context"
	"fmt"

	"github.com/connexus-ai/kmemory/internal/kmerr"
	"github.com/connexus-ai/kmemory/internal/model"
	"github.com/connexus-ai/kmemory/internal/pipeline"
	"github.com/connexus-ai/kmemory/internal/textgenerator"
)

// StepSummarize is the canonical step name for SummarizeHandler.
const StepSummarize = "summarize"

// SummarizeHandler implements the optional "summarize" step (spec §4.4):
// produces one synthetic summary chunk per file from its extracted text,
// written as a new extracted_text artifact so the same file's downstream
// partition/gen_embeddings/save_records steps pick it up like any other.
//
// No teacher equivalent (the teacher never generates text); grounded on
// textgenerator.Generator's narrow Generate contract.
type SummarizeHandler struct {
	Generator textgenerator.Generator
	Prompt    string // defaults to a generic summarization instruction if empty
}

func (h SummarizeHandler) Name() string { return StepSummarize }

func (h SummarizeHandler) Invoke(ctx context.Context, pctx pipeline.PipelineContext, p *model.DataPipeline) (bool, error) {
	const op = "pipelinehandlers.SummarizeHandler.Invoke"
	prompt := h.Prompt
	if prompt == "" {
		prompt = "Write a concise summary of the following document."
	}

	for i := range p.Files {
		f := &p.Files[i]
		if hasGeneratedTag(f, "summary") {
			continue // already summarized — idempotent re-run
		}
		var source *model.GeneratedFile
		for j, gf := range f.GeneratedFiles {
			if gf.Tags == "extracted_text" {
				source = &f.GeneratedFiles[j]
				break
			}
		}
		if source == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return false, kmerr.New(kmerr.KindCancelled, op, err)
		}

		text, err := pctx.Storage.ReadFile(ctx, pipeline.GeneratedPath(p.Index, p.DocumentID, f.ID, "extracted_text", 0))
		if err != nil {
			return false, err
		}
		summary, err := h.Generator.Generate(ctx, prompt, []string{string(text)})
		if err != nil {
			return false, err
		}

		summaryGenID := fmt.Sprintf("%s#summary", f.ID)
		if err := pctx.Storage.WriteFile(ctx, pipeline.GeneratedPath(p.Index, p.DocumentID, f.ID, "summary", 0),
			[]byte(summary), "text/plain"); err != nil {
			return false, err
		}
		f.AddGeneratedFile(model.GeneratedFile{
			ID:          summaryGenID,
			Name:        f.Name,
			Tags:        "summary",
			ContentType: "text/plain",
		})
		// The summary is fed into downstream steps by also publishing it as
		// its own extracted_text artifact under a distinct section number,
		// so partition/gen_embeddings/save_records treat it like any other
		// extracted file without special-casing "summary" themselves.
		if err := pctx.Storage.WriteFile(ctx, pipeline.GeneratedPath(p.Index, p.DocumentID, f.ID, "extracted_text", 1),
			[]byte(summary), "text/plain"); err != nil {
			return false, err
		}
		f.AddGeneratedFile(model.GeneratedFile{
			ID:            fmt.Sprintf("%s#extracted_text#summary", f.ID),
			Name:          f.Name,
			Tags:          "extracted_text",
			ContentType:   "text/plain",
			SectionNumber: 1,
		})
	}
	return true, nil
}
