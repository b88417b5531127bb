package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/kmemory/internal/chunker"
	"github.com/connexus-ai/kmemory/internal/contentdecoder"
	"github.com/connexus-ai/kmemory/internal/documentstorage"
	"github.com/connexus-ai/kmemory/internal/embedding"
	"github.com/connexus-ai/kmemory/internal/memorydb"
	"github.com/connexus-ai/kmemory/internal/pipeline"
	"github.com/connexus-ai/kmemory/internal/pipelinehandlers"
	"github.com/connexus-ai/kmemory/internal/searchclient"
	"github.com/connexus-ai/kmemory/internal/tokenizer"
)

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func buildDeps(t *testing.T) (Deps, memorydb.MemoryDb) {
	t.Helper()
	storage := documentstorage.NewMemoryStorage()
	db := memorydb.NewMemoryStore()
	require.NoError(t, db.CreateIndex(context.Background(), "default", 8))

	tok, err := tokenizer.ForModel("gpt-4")
	require.NoError(t, err)

	registry := pipeline.NewRegistry()
	registry.AddHandler(pipelinehandlers.ExtractHandler{Decoders: contentdecoder.NewRegistry()})
	registry.AddHandler(pipelinehandlers.PartitionHandler{
		Chunker: chunker.New(tok),
		Options: chunker.Options{MaxTokensPerChunk: 64, Overlap: 4},
	})
	registry.AddHandler(pipelinehandlers.GenEmbeddingsHandler{Generator: embedding.NewDeterministicGenerator(8)})
	registry.AddHandler(pipelinehandlers.SaveRecordsHandler{Db: db, ModelName: "deterministic-test"})
	registry.AddHandler(pipelinehandlers.DeleteDocumentHandler{Db: db})

	o := pipeline.NewOrchestrator(storage, nil, registry, 2)
	search := &searchclient.Client{Db: db, Embedder: embedding.NewDeterministicGenerator(8)}
	return Deps{Orchestrator: o, Search: search}, db
}

func TestImportText_AcceptsAndIngests(t *testing.T) {
	deps, db := buildDeps(t)
	h := ImportText(deps)

	body, _ := json.Marshal(importTextRequest{Text: "a sentence about httpapi handlers"})
	req := httptest.NewRequest(http.MethodPost, "/api/import/text", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	docID := data["documentId"].(string)
	require.NotEmpty(t, docID)

	require.Eventually(t, func() bool {
		ready, err := deps.Orchestrator.IsDocumentReadyAsync(context.Background(), "default", docID)
		return err == nil && ready
	}, 2*time.Second, 10*time.Millisecond)

	records, err := db.GetList(context.Background(), "default", nil, 0, false)
	require.NoError(t, err)
	assert.NotEmpty(t, records)
}

func TestImportText_RejectsEmptyText(t *testing.T) {
	deps, _ := buildDeps(t)
	h := ImportText(deps)

	body, _ := json.Marshal(importTextRequest{Text: ""})
	req := httptest.NewRequest(http.MethodPost, "/api/import/text", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportDocument_MultipartUpload(t *testing.T) {
	deps, _ := buildDeps(t)
	h := ImportDocument(deps)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", "note.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("multipart uploaded content for extraction"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/import/document", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSearch_RoundTrip(t *testing.T) {
	deps, _ := buildDeps(t)
	deps.Search.(*searchclient.Client).TextGenerator = nil

	importH := ImportText(deps)
	body, _ := json.Marshal(importTextRequest{DocumentID: "doc-fixed", Text: "mass-energy equivalence relates mass and energy"})
	req := httptest.NewRequest(http.MethodPost, "/api/import/text", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	importH.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		ready, err := deps.Orchestrator.IsDocumentReadyAsync(context.Background(), "default", "doc-fixed")
		return err == nil && ready
	}, 2*time.Second, 10*time.Millisecond)

	searchH := Search(deps)
	q := url.Values{}
	q.Set("query", "mass-energy equivalence relates mass and energy")
	q.Set("minRelevance", "0.5")
	req = httptest.NewRequest(http.MethodGet, "/api/search?"+q.Encode(), nil)
	rec = httptest.NewRecorder()
	searchH.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestStatus_ReturnsPersistedSummary(t *testing.T) {
	deps, _ := buildDeps(t)
	importH := ImportText(deps)
	body, _ := json.Marshal(importTextRequest{DocumentID: "doc-status", Text: "status roundtrip content"})
	req := httptest.NewRequest(http.MethodPost, "/api/import/text", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	importH.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	statusH := Status(deps)
	req = httptest.NewRequest(http.MethodGet, "/api/documents/doc-status/status", nil)
	req = withChiParam(req, "id", "doc-status")
	rec = httptest.NewRecorder()
	statusH.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_ReturnsOK(t *testing.T) {
	h := Health()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	_, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
}
