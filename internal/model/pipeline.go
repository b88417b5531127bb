package model

import "time"

// PipelineState is the coarse lifecycle state of a DataPipeline (§4.1 state
// machine). The fine-grained position within Running is carried by
// CompletedSteps/RemainingSteps, not by this enum.
type PipelineState string

const (
	StateNew        PipelineState = "New"
	StateUploading  PipelineState = "Uploading"
	StateRunning    PipelineState = "Running"
	StateComplete   PipelineState = "Complete"
	StateFailed     PipelineState = "Failed"
)

// GeneratedFile is an artifact produced by a pipeline step for one source
// file: extracted text, a text partition, an embedding, or a memory record.
type GeneratedFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Tags        string `json:"tags"` // "extracted_text" | "text_partition" | "embedding" | "memory_record" | "summary"
	ContentType string `json:"contentType"`
	PartNumber  int    `json:"partNumber"`
	// SectionNumber allows a single source file to be split into named
	// sections (e.g. summary vs. body) before partitioning.
	SectionNumber int `json:"sectionNumber"`
}

// FileDetails describes one file uploaded as part of a DataPipeline, plus
// every artifact steps have produced from it so far.
type FileDetails struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Size           int64           `json:"size"`
	MimeType       string          `json:"mimeType"`
	GeneratedFiles []GeneratedFile `json:"generatedFiles"`
}

// AddGeneratedFile appends or overwrites (by ID) an artifact for this file.
// Overwrite-by-id keeps replay of an idempotent step from duplicating
// artifacts (§5 "last writer of a given key wins").
func (f *FileDetails) AddGeneratedFile(gf GeneratedFile) {
	for i := range f.GeneratedFiles {
		if f.GeneratedFiles[i].ID == gf.ID {
			f.GeneratedFiles[i] = gf
			return
		}
	}
	f.GeneratedFiles = append(f.GeneratedFiles, gf)
}

// FilesWithTag returns every GeneratedFile across all source files tagged tag,
// alongside the owning FileDetails.
func (p *DataPipeline) FilesWithTag(tag string) []struct {
	File FileDetails
	Gen  GeneratedFile
} {
	var out []struct {
		File FileDetails
		Gen  GeneratedFile
	}
	for _, f := range p.Files {
		for _, gf := range f.GeneratedFiles {
			if gf.Tags == tag {
				out = append(out, struct {
					File FileDetails
					Gen  GeneratedFile
				}{File: f, Gen: gf})
			}
		}
	}
	return out
}

// DataPipeline is the persisted state of one ingestion request (§3).
type DataPipeline struct {
	Index          string        `json:"index"`
	DocumentID     string        `json:"documentId"`
	ExecutionID    string        `json:"executionId"`
	Tags           TagCollection `json:"tags"`
	Files          []FileDetails `json:"files"`
	Steps          []string      `json:"steps"`
	RemainingSteps []string      `json:"remainingSteps"`
	CompletedSteps []string      `json:"completedSteps"`
	Creation       time.Time     `json:"creation"`
	LastUpdate     time.Time     `json:"lastUpdate"`
	Failed         bool          `json:"failed"`
	Log            []string      `json:"log"`
}

// Complete reports whether every declared step has completed (§3 invariant:
// pipeline.complete ⇔ remainingSteps empty).
func (p *DataPipeline) Complete() bool {
	return !p.Failed && len(p.RemainingSteps) == 0
}

// CurrentStep returns the next step to run, or "" if the pipeline is
// complete or failed.
func (p *DataPipeline) CurrentStep() string {
	if p.Failed || len(p.RemainingSteps) == 0 {
		return ""
	}
	return p.RemainingSteps[0]
}

// MarkStepComplete advances the pipeline atomically: the named step is
// removed from RemainingSteps and appended to CompletedSteps. Only the
// orchestrator calls this — handlers never advance the step list themselves
// (§4.1 "Step invocation contract").
func (p *DataPipeline) MarkStepComplete(step string) {
	if len(p.RemainingSteps) == 0 || p.RemainingSteps[0] != step {
		return
	}
	p.CompletedSteps = append(p.CompletedSteps, step)
	p.RemainingSteps = p.RemainingSteps[1:]
	p.LastUpdate = time.Now().UTC()
}

// MarkFailed transitions the pipeline to the terminal Failed state and
// appends a log line recording why.
func (p *DataPipeline) MarkFailed(reason string) {
	p.Failed = true
	p.Log = append(p.Log, reason)
	p.LastUpdate = time.Now().UTC()
}

// AppendLog records a non-fatal warning (e.g. a ContentError on one file)
// without failing the pipeline.
func (p *DataPipeline) AppendLog(line string) {
	p.Log = append(p.Log, line)
}

// State derives the coarse PipelineState from the pipeline's step position.
func (p *DataPipeline) State() PipelineState {
	switch {
	case p.Failed:
		return StateFailed
	case p.Complete():
		return StateComplete
	case len(p.CompletedSteps) == 0 && len(p.Files) > 0 && p.Files[0].Size > 0 && len(p.Files[0].GeneratedFiles) == 0 && len(p.CompletedSteps) == 0:
		return StateUploading
	default:
		return StateRunning
	}
}

// ThenStep appends a step name to both Steps and RemainingSteps. Duplicate
// step names are allowed — the same handler can run twice (§4.1 "then").
func (p *DataPipeline) ThenStep(stepName string) *DataPipeline {
	p.Steps = append(p.Steps, stepName)
	p.RemainingSteps = append(p.RemainingSteps, stepName)
	return p
}

// File looks up a FileDetails by id.
func (p *DataPipeline) File(id string) (*FileDetails, bool) {
	for i := range p.Files {
		if p.Files[i].ID == id {
			return &p.Files[i], true
		}
	}
	return nil, false
}

// PipelineKey uniquely identifies a pipeline within DocumentStorage: index
// and documentId together, not executionId (executionId disambiguates
// replays of the *same* pipeline key, per the glossary).
type PipelineKey struct {
	Index      string
	DocumentID string
}

// Key returns the pipeline's identifying key.
func (p *DataPipeline) Key() PipelineKey {
	return PipelineKey{Index: p.Index, DocumentID: p.DocumentID}
}
