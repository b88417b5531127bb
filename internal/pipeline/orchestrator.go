// Package pipeline implements the step-sequenced, resumable ingestion
// orchestrator (spec §4.1): a handler registry, an in-process execution
// mode, and a distributed mode built on internal/queue, both persisting
// DataPipeline status to internal/documentstorage between steps.
//
// Grounded on the teacher's internal/service/pipeline.go (sequential
// step-running, per-document concurrency guard, structured slog logging),
// generalized from its two hardcoded steps (parse, embed) and in-process-only
// execution to an open, named step list with an optional distributed mode.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/kmemory/internal/documentstorage"
	"github.com/connexus-ai/kmemory/internal/kmerr"
	"github.com/connexus-ai/kmemory/internal/model"
	"github.com/connexus-ai/kmemory/internal/queue"
)

// PipelineContext is the narrow value handlers receive instead of a
// back-reference to the Orchestrator itself (spec §9: "cyclic references
// between orchestrator and handlers ... replaced by a narrow
// PipelineContext ... carrying only the document-store accessor ...;
// no back-reference"). Cancellation travels via the ctx argument to
// Invoke, not through this struct.
type PipelineContext struct {
	Storage         documentstorage.DocumentStorage
	FileConcurrency int
}

// Handler implements one named pipeline step. Invoke must not mutate
// p.CompletedSteps/RemainingSteps — only the orchestrator advances those,
// on reported success (spec §4.1 "Step invocation contract").
type Handler interface {
	Name() string
	Invoke(ctx context.Context, pctx PipelineContext, p *model.DataPipeline) (bool, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc struct {
	StepName string
	Fn       func(ctx context.Context, pctx PipelineContext, p *model.DataPipeline) (bool, error)
}

func (h HandlerFunc) Name() string { return h.StepName }

func (h HandlerFunc) Invoke(ctx context.Context, pctx PipelineContext, p *model.DataPipeline) (bool, error) {
	return h.Fn(ctx, pctx, p)
}

// Registry is the in-memory, read-only-after-startup handler table
// (spec §5 "Shared-resource policy").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// AddHandler registers h, replacing any existing handler for the same step.
func (r *Registry) AddHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

// TryAddHandler registers h only if its step name is unclaimed; reports
// whether it was added.
func (r *Registry) TryAddHandler(h Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[h.Name()]; ok {
		return false
	}
	r.handlers[h.Name()] = h
	return true
}

func (r *Registry) get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// PipelineSummary is the trimmed-down view readPipelineSummaryAsync returns
// — everything status() needs for the external API without the full
// per-file generatedFiles detail.
type PipelineSummary struct {
	Index          string              `json:"index"`
	DocumentID     string              `json:"documentId"`
	State          model.PipelineState `json:"state"`
	CompletedSteps []string            `json:"completedSteps"`
	RemainingSteps []string            `json:"remainingSteps"`
	Failed         bool                `json:"failed"`
	LastUpdate     time.Time           `json:"lastUpdate"`
}

// Orchestrator implements the PipelineOrchestrator contract (spec §4.1).
// Pass a nil queue.Queue for in-process mode; a non-nil one switches
// RunPipelineAsync/RunWorker to distributed, queue-driven execution.
type Orchestrator struct {
	storage         documentstorage.DocumentStorage
	q               queue.Queue
	registry        *Registry
	fileConcurrency int

	mu      sync.Mutex
	cancels map[model.PipelineKey]context.CancelFunc
}

// NewOrchestrator builds an Orchestrator. fileConcurrency bounds per-step,
// per-file parallelism (spec §5); 0 defaults to 4.
func NewOrchestrator(storage documentstorage.DocumentStorage, q queue.Queue, registry *Registry, fileConcurrency int) *Orchestrator {
	if fileConcurrency <= 0 {
		fileConcurrency = 4
	}
	return &Orchestrator{
		storage:         storage,
		q:               q,
		registry:        registry,
		fileConcurrency: fileConcurrency,
		cancels:         map[model.PipelineKey]context.CancelFunc{},
	}
}

// FileConcurrency returns the configured per-step file parallelism bound,
// for handlers that fan out per-file work (internal/pipelinehandlers).
func (o *Orchestrator) FileConcurrency() int {
	return o.fileConcurrency
}

// Storage exposes the shared DocumentStorage client to handlers.
func (o *Orchestrator) Storage() documentstorage.DocumentStorage {
	return o.storage
}

// AddHandler registers a step handler.
func (o *Orchestrator) AddHandler(h Handler) {
	o.registry.AddHandler(h)
}

// TryAddHandler registers a step handler only if unclaimed.
func (o *Orchestrator) TryAddHandler(h Handler) bool {
	return o.registry.TryAddHandler(h)
}

// PrepareNewDocumentUpload validates inputs and returns an unsaved pipeline
// with an empty step list, ready for Then calls.
func (o *Orchestrator) PrepareNewDocumentUpload(index, documentID string, tags model.TagCollection, files []model.FileDetails) (*model.DataPipeline, error) {
	const op = "pipeline.PrepareNewDocumentUpload"
	if index == "" {
		return nil, kmerr.New(kmerr.KindInput, op, fmt.Errorf("index is required"))
	}
	if len(files) == 0 {
		return nil, kmerr.New(kmerr.KindInput, op, fmt.Errorf("at least one file is required"))
	}
	if documentID == "" {
		documentID = uuid.NewString()
	}
	if tags == nil {
		tags = model.NewTagCollection()
	}
	now := time.Now().UTC()
	return &model.DataPipeline{
		Index:       index,
		DocumentID:  documentID,
		ExecutionID: uuid.NewString(),
		Tags:        tags,
		Files:       files,
		Creation:    now,
		LastUpdate:  now,
	}, nil
}

// Then appends stepName to the pipeline's step list; duplicates are allowed.
func (o *Orchestrator) Then(p *model.DataPipeline, stepName string) *model.DataPipeline {
	return p.ThenStep(stepName)
}

// RunPipelineAsync uploads every source file's bytes into DocumentStorage
// (sources maps FileDetails.ID to raw content), persists the initial
// status, then starts step processing. In-process mode runs in a
// background goroutine and returns immediately; distributed mode enqueues
// the first step message and returns immediately. Either way, errors from
// this call itself (bad upload, status write failure) are returned
// synchronously; step failures are only visible via ReadPipelineStatusAsync.
func (o *Orchestrator) RunPipelineAsync(ctx context.Context, p *model.DataPipeline, sources map[string][]byte, contentTypes map[string]string) error {
	const op = "pipeline.RunPipelineAsync"
	for _, f := range p.Files {
		content, ok := sources[f.ID]
		if !ok {
			continue
		}
		if err := o.storage.WriteFile(ctx, SourcePath(p.Index, p.DocumentID, f.ID), content, contentTypes[f.ID]); err != nil {
			return err
		}
	}
	if err := o.WriteStatus(ctx, p); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[p.Key()] = cancel
	o.mu.Unlock()

	if o.q != nil {
		if err := o.enqueueStep(runCtx, p, p.CurrentStep()); err != nil {
			cancel()
			return err
		}
		return nil
	}

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.cancels, p.Key())
			o.mu.Unlock()
		}()
		if err := o.runInProcess(runCtx, p); err != nil {
			slog.ErrorContext(runCtx, "pipeline run failed",
				"op", op, "index", p.Index, "document_id", p.DocumentID, "error", err)
		}
	}()
	return nil
}

// StopAllPipelinesAsync cooperatively cancels every in-flight in-process
// pipeline. Already-persisted pipelines resume on the next ResumeIncomplete
// call (spec §4.1).
func (o *Orchestrator) StopAllPipelinesAsync() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, cancel := range o.cancels {
		cancel()
		delete(o.cancels, key)
	}
}

// WriteStatus persists p's current state to DocumentStorage.
func (o *Orchestrator) WriteStatus(ctx context.Context, p *model.DataPipeline) error {
	const op = "pipeline.WriteStatus"
	p.LastUpdate = time.Now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return kmerr.New(kmerr.KindInput, op, err)
	}
	return o.storage.WriteFile(ctx, StatusPath(p.Index, p.DocumentID), data, "application/json")
}

// ReadPipelineStatusAsync returns the persisted status for (index, documentId).
func (o *Orchestrator) ReadPipelineStatusAsync(ctx context.Context, index, documentID string) (*model.DataPipeline, error) {
	const op = "pipeline.ReadPipelineStatusAsync"
	data, err := o.storage.ReadFile(ctx, StatusPath(index, documentID))
	if err != nil {
		return nil, err
	}
	var p model.DataPipeline
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, kmerr.New(kmerr.KindContent, op, err)
	}
	return &p, nil
}

// ReadPipelineSummaryAsync returns the trimmed status view for the status
// API endpoint.
func (o *Orchestrator) ReadPipelineSummaryAsync(ctx context.Context, index, documentID string) (*PipelineSummary, error) {
	p, err := o.ReadPipelineStatusAsync(ctx, index, documentID)
	if err != nil {
		return nil, err
	}
	return &PipelineSummary{
		Index:          p.Index,
		DocumentID:     p.DocumentID,
		State:          p.State(),
		CompletedSteps: p.CompletedSteps,
		RemainingSteps: p.RemainingSteps,
		Failed:         p.Failed,
		LastUpdate:     p.LastUpdate,
	}, nil
}

// IsDocumentReadyAsync reports whether the pipeline exists and is complete.
func (o *Orchestrator) IsDocumentReadyAsync(ctx context.Context, index, documentID string) (bool, error) {
	exists, err := o.storage.Exists(ctx, StatusPath(index, documentID))
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	p, err := o.ReadPipelineStatusAsync(ctx, index, documentID)
	if err != nil {
		return false, err
	}
	return p.Complete(), nil
}

// ResumeIncomplete scans every document under each of indexes and
// re-launches any pipeline whose status is not complete and not failed
// (spec §4.1 "Resumability"). Called once at process startup.
func (o *Orchestrator) ResumeIncomplete(ctx context.Context, indexes []string) error {
	const op = "pipeline.ResumeIncomplete"
	for _, index := range indexes {
		documentIDs, err := o.storage.ListDocuments(ctx, index)
		if err != nil {
			return err
		}
		for _, documentID := range documentIDs {
			p, err := o.ReadPipelineStatusAsync(ctx, index, documentID)
			if err != nil {
				slog.WarnContext(ctx, "resume: failed to read pipeline status, skipping",
					"op", op, "index", index, "document_id", documentID, "error", err)
				continue
			}
			if p.Complete() || p.Failed {
				continue
			}
			slog.InfoContext(ctx, "resuming incomplete pipeline",
				"index", index, "document_id", documentID, "current_step", p.CurrentStep())

			runCtx, cancel := context.WithCancel(context.Background())
			o.mu.Lock()
			o.cancels[p.Key()] = cancel
			o.mu.Unlock()

			if o.q != nil {
				if err := o.enqueueStep(runCtx, p, p.CurrentStep()); err != nil {
					cancel()
					return err
				}
				continue
			}

			go func(p *model.DataPipeline) {
				defer func() {
					o.mu.Lock()
					delete(o.cancels, p.Key())
					o.mu.Unlock()
				}()
				if err := o.runInProcess(runCtx, p); err != nil {
					slog.ErrorContext(runCtx, "resumed pipeline run failed",
						"index", p.Index, "document_id", p.DocumentID, "error", err)
				}
			}(p)
		}
	}
	return nil
}

func (o *Orchestrator) runInProcess(ctx context.Context, p *model.DataPipeline) error {
	for !p.Complete() && !p.Failed {
		if err := ctx.Err(); err != nil {
			return kmerr.New(kmerr.KindCancelled, "pipeline.runInProcess", err)
		}
		if err := o.processCurrentStep(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// processCurrentStep runs the pipeline's current step to completion
// (including local retry of transient errors), advances and persists
// status on success, or marks the pipeline failed and persists on a
// permanent error. Returning a KindCancelled error, or a KindTransientBackend
// error whose local retries ran out, leaves the pipeline's last persisted
// state untouched (spec §5 "Cancellation").
func (o *Orchestrator) processCurrentStep(ctx context.Context, p *model.DataPipeline) error {
	const op = "pipeline.processCurrentStep"
	step := p.CurrentStep()
	if step == "" {
		return nil
	}

	handler, ok := o.registry.get(step)
	if !ok {
		err := kmerr.New(kmerr.KindConfiguration, op, fmt.Errorf("no handler registered for step %q", step))
		p.MarkFailed(err.Error())
		_ = o.WriteStatus(ctx, p)
		return err
	}

	pctx := PipelineContext{Storage: o.storage, FileConcurrency: o.fileConcurrency}
	var success bool
	err := withRetry(ctx, step, func() error {
		var invokeErr error
		success, invokeErr = handler.Invoke(ctx, pctx, p)
		return invokeErr
	})

	if err != nil {
		if kmerr.Is(err, kmerr.KindCancelled) || kmerr.Is(err, kmerr.KindTransientBackend) {
			return err
		}
		p.MarkFailed(fmt.Sprintf("step %q: %v", step, err))
		_ = o.WriteStatus(ctx, p)
		return err
	}
	if !success {
		p.MarkFailed(fmt.Sprintf("step %q reported failure", step))
		_ = o.WriteStatus(ctx, p)
		return kmerr.New(kmerr.KindPermanentBackend, op, fmt.Errorf("step %q did not succeed", step))
	}

	p.MarkStepComplete(step)
	return o.WriteStatus(ctx, p)
}

func (o *Orchestrator) enqueueStep(ctx context.Context, p *model.DataPipeline, step string) error {
	if step == "" {
		return nil
	}
	return o.q.Enqueue(ctx, queue.Message{
		PipelineIndex:      p.Index,
		PipelineDocumentID: p.DocumentID,
		StepName:           step,
	})
}

// RunWorker dequeues and processes one step message, then (on success)
// acks the message and enqueues the next step. Callers loop this in
// cmd/worker's main loop. Dequeue blocks until a message arrives or ctx is
// done; a nil handle from the queue makes RunWorker return nil without
// running anything.
func (o *Orchestrator) RunWorker(ctx context.Context) error {
	if o.q == nil {
		return kmerr.New(kmerr.KindConfiguration, "pipeline.RunWorker", fmt.Errorf("no queue configured; this orchestrator is in in-process mode"))
	}

	handle, err := o.q.Dequeue(ctx)
	if err != nil {
		return err
	}
	if handle == nil {
		return nil
	}
	msg := handle.Message()

	p, err := o.ReadPipelineStatusAsync(ctx, msg.PipelineIndex, msg.PipelineDocumentID)
	if err != nil {
		slog.ErrorContext(ctx, "worker failed to load pipeline status",
			"index", msg.PipelineIndex, "document_id", msg.PipelineDocumentID, "error", err)
		return o.q.Nack(ctx, handle)
	}

	if p.Failed || p.Complete() {
		return o.q.Ack(ctx, handle)
	}

	stepErr := o.processCurrentStep(ctx, p)
	if stepErr != nil {
		if kmerr.Is(stepErr, kmerr.KindPermanentBackend) ||
			kmerr.Is(stepErr, kmerr.KindConfiguration) ||
			kmerr.Is(stepErr, kmerr.KindInput) {
			// Pipeline already marked failed and persisted; the message has
			// done its job even though the step failed.
			return o.q.Ack(ctx, handle)
		}
		return o.q.Nack(ctx, handle)
	}

	if err := o.q.Ack(ctx, handle); err != nil {
		return err
	}
	if next := p.CurrentStep(); next != "" {
		return o.enqueueStep(ctx, p, next)
	}
	return nil
}
