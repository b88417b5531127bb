package embedding

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/connexus-ai/kmemory/internal/kmerr"
)

// maxBatchSize mirrors the teacher's Vertex AI batching bound
// (internal/service/embedder.go maxBatchSize); OpenAI's embeddings endpoint
// accepts large batches too, so the same conservative bound is kept rather
// than tuned per-provider.
const maxBatchSize = 250

// OpenAIGenerator implements Generator against the OpenAI embeddings API.
type OpenAIGenerator struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// NewOpenAIGenerator builds a Generator for model (e.g.
// openai.SmallEmbedding3) producing dimensions-length vectors.
func NewOpenAIGenerator(apiKey string, model openai.EmbeddingModel, dimensions int) *OpenAIGenerator {
	return &OpenAIGenerator{
		client:     openai.NewClient(apiKey),
		model:      model,
		dimensions: dimensions,
	}
}

func (g *OpenAIGenerator) Dimensions() int   { return g.dimensions }
func (g *OpenAIGenerator) ModelName() string { return string(g.model) }

// Embed batches texts at maxBatchSize, L2-normalizes every vector, and
// validates dimensionality — the same three steps as the teacher's
// EmbedderService.Embed, generalized from a fixed 768-dim Vertex AI
// response to whatever Dimensions() the caller configured.
func (g *OpenAIGenerator) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedding.OpenAIGenerator.Embed"
	if len(texts) == 0 {
		return nil, kmerr.New(kmerr.KindInput, op, fmt.Errorf("no texts provided"))
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		resp, err := g.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: batch,
			Model: g.model,
		})
		if err != nil {
			return nil, classifyOpenAIError(op, err)
		}

		for j, d := range resp.Data {
			if len(d.Embedding) != g.dimensions {
				return nil, kmerr.New(kmerr.KindPermanentBackend, op,
					fmt.Errorf("vector %d has %d dimensions, want %d", i+j, len(d.Embedding), g.dimensions))
			}
			all = append(all, L2Normalize(d.Embedding))
		}
	}

	if len(all) != len(texts) {
		return nil, kmerr.New(kmerr.KindPermanentBackend, op,
			fmt.Errorf("got %d vectors for %d texts", len(all), len(texts)))
	}
	return all, nil
}

func classifyOpenAIError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "503") {
		return kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	return kmerr.New(kmerr.KindPermanentBackend, op, err)
}
