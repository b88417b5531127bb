package wiring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/kmemory/internal/config"
	"github.com/connexus-ai/kmemory/internal/model"
	"github.com/connexus-ai/kmemory/internal/pipeline"
	"github.com/connexus-ai/kmemory/internal/pipelinehandlers"
	"github.com/connexus-ai/kmemory/internal/searchclient"
)

func TestBuild_DefaultsToInProcessInMemoryStack(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	c, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Queue)
	assert.NotNil(t, c.Storage)
	assert.NotNil(t, c.Orchestrator)
	assert.NotNil(t, c.Search)
	assert.Equal(t, "deterministic-test", c.Embedder.ModelName())
}

func TestBuild_UnknownBackendStillBuildsDefault(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.DocumentStorageBackend = "no-such-backend"
	cfg.MemoryDbBackend = "no-such-backend"

	c, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()
	assert.NotNil(t, c.Orchestrator)
}

func TestBuild_SearchCacheDisabledByDefault(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	c, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	_, isCaching := c.Search.(*searchclient.CachingClient)
	assert.False(t, isCaching)
}

func TestBuild_SearchCacheEnabledWhenConfigured(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.SearchCacheTTLSeconds = 30

	c, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	_, isCaching := c.Search.(*searchclient.CachingClient)
	assert.True(t, isCaching)
}

func TestBuild_SummarizeHandlerNotRegisteredByDefault(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	c, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	dummy := pipeline.HandlerFunc{
		StepName: pipelinehandlers.StepSummarize,
		Fn: func(_ context.Context, _ pipeline.PipelineContext, _ *model.DataPipeline) (bool, error) {
			return true, nil
		},
	}
	added := c.Registry.TryAddHandler(dummy)
	assert.True(t, added, "summarize step should be unclaimed with no manifest configured")
}
