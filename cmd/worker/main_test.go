package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/kmemory/internal/kmerr"
)

func TestRun_RequiresPubsubQueueBackend(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "inproc")

	err := run()
	require.Error(t, err)
	assert.Equal(t, kmerr.KindConfiguration, kmerr.KindOf(err))
	assert.Equal(t, 2, kmerr.ExitCode(err))
}

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, Version)
}
