package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/connexus-ai/kmemory/internal/kmerr"
	"github.com/connexus-ai/kmemory/internal/model"
	"github.com/connexus-ai/kmemory/internal/pipeline"
	"github.com/connexus-ai/kmemory/internal/pipelinehandlers"
	"github.com/connexus-ai/kmemory/internal/searchclient"
)

// DefaultSteps is the step sequence every import endpoint registers unless
// the caller overrides it (spec §6 "steps defaults to
// [extract, partition, gen_embeddings, save_records]").
var DefaultSteps = []string{
	pipelinehandlers.StepExtract,
	pipelinehandlers.StepPartition,
	pipelinehandlers.StepGenEmbeddings,
	pipelinehandlers.StepSaveRecords,
}

// Deps bundles everything the ingest/query handlers need. It is the httpapi
// analogue of the teacher's router.Dependencies struct, narrowed to the
// ingest/query surface this spec defines.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Search       searchclient.Searcher
	HTTPClient   *http.Client // used by importWebPage; defaults to http.DefaultClient
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch kmerr.KindOf(err) {
	case kmerr.KindInput:
		status = http.StatusBadRequest
	case kmerr.KindConfiguration:
		status = http.StatusInternalServerError
	case kmerr.KindIndexNotFound:
		status = http.StatusNotFound
	case kmerr.KindIndexSchemaConflict:
		status = http.StatusConflict
	case kmerr.KindCancelled:
		status = http.StatusRequestTimeout
	}
	respondJSON(w, status, envelope{Success: false, Error: err.Error()})
}

func parseTags(raw string) model.TagCollection {
	tags := model.NewTagCollection()
	if raw == "" {
		return tags
	}
	var flat map[string]string
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		return tags
	}
	for k, v := range flat {
		tags.Set(k, v)
	}
	return tags
}

func stepsOrDefault(raw string) []string {
	if raw == "" {
		return DefaultSteps
	}
	var steps []string
	if err := json.Unmarshal([]byte(raw), &steps); err != nil || len(steps) == 0 {
		return DefaultSteps
	}
	return steps
}

// launch registers steps on p, starts the run, and responds 202 with
// {documentId} (spec §6: every ingest endpoint returns {documentId}).
func launch(w http.ResponseWriter, r *http.Request, deps Deps, p *model.DataPipeline, steps []string, sources map[string][]byte, contentTypes map[string]string) {
	for _, step := range steps {
		deps.Orchestrator.Then(p, step)
	}
	if err := deps.Orchestrator.RunPipelineAsync(r.Context(), p, sources, contentTypes); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, envelope{Success: true, Data: map[string]string{"documentId": p.DocumentID}})
}

// ImportDocument handles POST /api/import/document — a multipart upload of
// one or more files plus an optional JSON side-car (spec §6).
func ImportDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const maxUpload = 64 << 20
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid multipart form"})
			return
		}

		index := r.FormValue("index")
		if index == "" {
			index = "default"
		}
		documentID := r.FormValue("documentId")
		tags := parseTags(r.FormValue("tags"))
		steps := stepsOrDefault(r.FormValue("steps"))

		fhs := r.MultipartForm.File["files"]
		if len(fhs) == 0 {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "at least one file is required"})
			return
		}

		var files []model.FileDetails
		sources := map[string][]byte{}
		contentTypes := map[string]string{}
		for _, fh := range fhs {
			f, err := fh.Open()
			if err != nil {
				respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "unreadable file " + fh.Filename})
				return
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "unreadable file " + fh.Filename})
				return
			}
			id := uuid.NewString()
			mimeType := fh.Header.Get("Content-Type")
			files = append(files, model.FileDetails{ID: id, Name: fh.Filename, Size: int64(len(content)), MimeType: mimeType})
			sources[id] = content
			contentTypes[id] = mimeType
		}

		p, err := deps.Orchestrator.PrepareNewDocumentUpload(index, documentID, tags, files)
		if err != nil {
			respondError(w, err)
			return
		}
		slog.Info("importDocument accepted", "index", index, "document_id", p.DocumentID, "files", len(files))
		launch(w, r, deps, p, steps, sources, contentTypes)
	}
}

// importTextRequest is the body of POST /api/import/text.
type importTextRequest struct {
	Index      string            `json:"index"`
	DocumentID string            `json:"documentId"`
	Tags       map[string]string `json:"tags"`
	Steps      []string          `json:"steps"`
	Text       string            `json:"text"`
}

// ImportText handles POST /api/import/text (spec §6 "importText").
func ImportText(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req importTextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if req.Text == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "text must not be empty"})
			return
		}
		index := req.Index
		if index == "" {
			index = "default"
		}
		tags := model.NewTagCollection()
		for k, v := range req.Tags {
			tags.Set(k, v)
		}
		steps := req.Steps
		if len(steps) == 0 {
			steps = DefaultSteps
		}

		id := uuid.NewString()
		files := []model.FileDetails{{ID: id, Name: "text.txt", Size: int64(len(req.Text)), MimeType: "text/plain"}}
		p, err := deps.Orchestrator.PrepareNewDocumentUpload(index, req.DocumentID, tags, files)
		if err != nil {
			respondError(w, err)
			return
		}
		slog.Info("importText accepted", "index", index, "document_id", p.DocumentID)
		launch(w, r, deps, p, steps, map[string][]byte{id: []byte(req.Text)}, map[string]string{id: "text/plain"})
	}
}

// importWebPageRequest is the body of POST /api/import/webpage.
type importWebPageRequest struct {
	Index      string            `json:"index"`
	DocumentID string            `json:"documentId"`
	Tags       map[string]string `json:"tags"`
	Steps      []string          `json:"steps"`
	URL        string            `json:"url"`
}

// ImportWebPage handles POST /api/import/webpage (spec §6 "importWebPage"):
// fetches url with the retrying client in fetch.go, then runs the same
// import path as ImportDocument with the fetched body as the sole file.
func ImportWebPage(deps Deps) http.HandlerFunc {
	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req importWebPageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if req.URL == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "url must not be empty"})
			return
		}
		index := req.Index
		if index == "" {
			index = "default"
		}

		body, contentType, err := fetchURL(r.Context(), client, req.URL)
		if err != nil {
			respondJSON(w, http.StatusBadGateway, envelope{Success: false, Error: err.Error()})
			return
		}

		tags := model.NewTagCollection()
		for k, v := range req.Tags {
			tags.Set(k, v)
		}
		steps := req.Steps
		if len(steps) == 0 {
			steps = DefaultSteps
		}

		id := uuid.NewString()
		files := []model.FileDetails{{ID: id, Name: req.URL, Size: int64(len(body)), MimeType: contentType}}
		p, err := deps.Orchestrator.PrepareNewDocumentUpload(index, req.DocumentID, tags, files)
		if err != nil {
			respondError(w, err)
			return
		}
		slog.Info("importWebPage accepted", "index", index, "document_id", p.DocumentID, "url", req.URL, "content_type", contentType)
		launch(w, r, deps, p, steps, map[string][]byte{id: body}, map[string]string{id: contentType})
	}
}

func parseFilter(r *http.Request) []model.MemoryFilter {
	raw := r.URL.Query().Get("filter")
	if raw == "" {
		return nil
	}
	var conjunctions []map[string]string
	if err := json.Unmarshal([]byte(raw), &conjunctions); err != nil {
		return nil
	}
	filters := make([]model.MemoryFilter, 0, len(conjunctions))
	for _, c := range conjunctions {
		f := model.NewMemoryFilter()
		for k, v := range c {
			f.AddEquals(k, v)
		}
		filters = append(filters, f)
	}
	return filters
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func indexOrDefault(r *http.Request) string {
	index := r.URL.Query().Get("index")
	if index == "" {
		return "default"
	}
	return index
}

// Search handles GET /api/search (spec §6).
func Search(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		results, err := deps.Search.Search(r.Context(), indexOrDefault(r), query, parseFilter(r), queryFloat(r, "minRelevance", 0), queryInt(r, "limit", 10))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]interface{}{"results": results}})
	}
}

// Ask handles GET /api/ask (spec §6).
func Ask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		question := r.URL.Query().Get("question")
		result, err := deps.Search.Ask(r.Context(), indexOrDefault(r), question, parseFilter(r), queryFloat(r, "minRelevance", 0))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]interface{}{
			"text":            result.Text,
			"relevantSources": result.RelevantSources,
		}})
	}
}

// List handles GET /api/list (spec §6: same shape as search, no ranking).
func List(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := deps.Search.List(r.Context(), indexOrDefault(r), parseFilter(r), queryInt(r, "limit", 0))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]interface{}{"results": results}})
	}
}

// Delete handles DELETE /api/documents/{id} (spec §6: returns 202, the
// cascade runs through the delete_document pipeline step asynchronously).
func Delete(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "id")
		if documentID == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "document id required"})
			return
		}
		index := indexOrDefault(r)

		p, err := deps.Orchestrator.PrepareNewDocumentUpload(index, documentID, model.NewTagCollection(), []model.FileDetails{{ID: "noop"}})
		if err != nil {
			respondError(w, err)
			return
		}
		deps.Orchestrator.Then(p, pipelinehandlers.StepDeleteDocument)
		if err := deps.Orchestrator.RunPipelineAsync(r.Context(), p, nil, nil); err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusAccepted, envelope{Success: true, Data: map[string]string{"documentId": documentID}})
	}
}

// Status handles GET /api/documents/{id}/status (spec §6: returns the
// persisted pipeline status).
func Status(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "id")
		index := indexOrDefault(r)

		summary, err := deps.Orchestrator.ReadPipelineSummaryAsync(r.Context(), index, documentID)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: summary})
	}
}

// Health handles GET /api/health — the one route spec.md's own exclusions
// (§1 "HTTP surface ... out of scope") still leaves room for, since every
// ambient HTTP stack needs a liveness probe regardless of feature scope.
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]string{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		}})
	}
}
