package pipelinehandlers

import (
	"context"

	"github.com/connexus-ai/kmemory/internal/kmerr"
	"github.com/connexus-ai/kmemory/internal/memorydb"
	"github.com/connexus-ai/kmemory/internal/model"
	"github.com/connexus-ai/kmemory/internal/pipeline"
)

// StepDeleteDocument is the canonical step name for DeleteDocumentHandler.
const StepDeleteDocument = "delete_document"

// DeleteDocumentHandler implements the "delete_document" step (spec §4.4):
// removes every MemoryRecord tagged with this document's id and the
// document's whole object tree from DocumentStorage.
//
// No direct teacher equivalent (the teacher soft-deletes a Postgres row,
// never cascades to a vector store); grounded on memorydb.MemoryDb's
// getList+Delete capability set and documentstorage.DeleteDocument.
type DeleteDocumentHandler struct {
	Db memorydb.MemoryDb
}

func (h DeleteDocumentHandler) Name() string { return StepDeleteDocument }

func (h DeleteDocumentHandler) Invoke(ctx context.Context, pctx pipeline.PipelineContext, p *model.DataPipeline) (bool, error) {
	const op = "pipelinehandlers.DeleteDocumentHandler.Invoke"

	filter := model.NewMemoryFilter().AddEquals(model.TagDocumentID, p.DocumentID)
	records, err := h.Db.GetList(ctx, p.Index, []model.MemoryFilter{filter}, 0, false)
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return false, kmerr.New(kmerr.KindCancelled, op, err)
		}
		if err := h.Db.Delete(ctx, p.Index, r.ID); err != nil {
			return false, err
		}
	}

	if err := pctx.Storage.DeleteDocument(ctx, p.Index, p.DocumentID); err != nil {
		return false, err
	}
	return true, nil
}
