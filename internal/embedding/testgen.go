package embedding

import (
	"context"
	"crypto/sha256"
)

// DeterministicGenerator is a Generator that derives a vector from the hash
// of each text, with no network dependency — used by pipeline and memorydb
// tests that need stable, content-sensitive vectors without a live API key.
type DeterministicGenerator struct {
	dims int
}

// NewDeterministicGenerator returns a Generator producing dims-length
// vectors.
func NewDeterministicGenerator(dims int) *DeterministicGenerator {
	return &DeterministicGenerator{dims: dims}
}

func (g *DeterministicGenerator) Dimensions() int   { return g.dims }
func (g *DeterministicGenerator) ModelName() string { return "deterministic-test" }

func (g *DeterministicGenerator) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = L2Normalize(vectorFromHash(text, g.dims))
	}
	return out, nil
}

func vectorFromHash(text string, dims int) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dims)
	for i := 0; i < dims; i++ {
		b := sum[i%len(sum)]
		vec[i] = float32(int(b)-128) / 128.0
	}
	return vec
}
