package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicGenerator_SameTextSameVector(t *testing.T) {
	g := NewDeterministicGenerator(16)
	ctx := context.Background()
	v1, err := g.Embed(ctx, []string{"hello world"})
	require.NoError(t, err)
	v2, err := g.Embed(ctx, []string{"hello world"})
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1[0], 16)
}

func TestDeterministicGenerator_DifferentTextDifferentVector(t *testing.T) {
	g := NewDeterministicGenerator(16)
	ctx := context.Background()
	v1, err := g.Embed(ctx, []string{"alpha"})
	require.NoError(t, err)
	v2, err := g.Embed(ctx, []string{"beta"})
	require.NoError(t, err)
	assert.NotEqual(t, v1[0], v2[0])
}

type countingGenerator struct {
	calls int
	inner Generator
}

func (c *countingGenerator) Dimensions() int   { return c.inner.Dimensions() }
func (c *countingGenerator) ModelName() string { return c.inner.ModelName() }
func (c *countingGenerator) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	return c.inner.Embed(ctx, texts)
}

func TestCachingGenerator_CachesPerText(t *testing.T) {
	inner := &countingGenerator{inner: NewDeterministicGenerator(8)}
	cached := NewCachingGenerator(inner, time.Minute)
	defer cached.Close()
	ctx := context.Background()

	_, err := cached.Embed(ctx, []string{"what is kmemory"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	_, err = cached.Embed(ctx, []string{"  What Is Kmemory  "})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls, "normalized-equal query should hit the cache")

	_, err = cached.Embed(ctx, []string{"a different query"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestL2Normalize_UnitLength(t *testing.T) {
	vec := L2Normalize([]float32{3, 4})
	assert.InDelta(t, 1.0, float64(vec[0]*vec[0]+vec[1]*vec[1]), 1e-6)
}
