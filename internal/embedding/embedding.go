// Package embedding turns text chunks into vectors. Grounded on the
// teacher's internal/service/embedder.go (batching, L2 normalization,
// dimension validation) and internal/cache/embedding.go (TTL query cache),
// generalized from a fixed Vertex AI client to an EmbeddingGenerator
// interface with an OpenAI-backed implementation plus a deterministic test
// double.
package embedding

import (
	"context"
	"math"
)

// Generator produces embedding vectors for text. Implementations batch
// internally; callers may pass any number of texts to Embed.
type Generator interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the vector length this Generator produces.
	Dimensions() int
	// ModelName identifies the embedding model, used as part of an index's
	// tokenizer-family invariant (spec §3).
	ModelName() string
}

// L2Normalize normalizes vec to unit length, ported from the teacher's
// l2Normalize (internal/service/embedder.go).
func L2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
