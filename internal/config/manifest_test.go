package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifest_EmptyPathReturnsZeroValue(t *testing.T) {
	m, err := LoadManifest("")
	require.NoError(t, err)
	assert.False(t, m.EnableSummarize)
}

func TestLoadManifest_MissingFileReturnsZeroValue(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.False(t, m.EnableSummarize)
}

func TestLoadManifest_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	content := "enableSummarize: true\nsummarizePrompt: \"Summarize this in two sentences.\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.True(t, m.EnableSummarize)
	assert.Equal(t, "Summarize this in two sentences.", m.SummarizePrompt)
}

func TestLoadManifest_InvalidYAMLIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("enableSummarize: [unterminated"), 0o644))

	_, err := LoadManifest(path)
	require.Error(t, err)
}
