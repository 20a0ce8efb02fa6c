package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Search.Alpha)
	assert.Equal(t, 20, cfg.Search.TopK)
	assert.Equal(t, 0.3, cfg.Search.MinScore)
	assert.Equal(t, "local-http", cfg.Embedding.Provider)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.Equal(t, 30, cfg.Retention.WindowDays)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadNestedLayout(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "agent.yaml", `
memory:
  embedding:
    provider: remote-openai-compatible
    model: text-embedding-3-small
    dimensions: 1536
    base_url: https://api.example.com/v1
  search:
    alpha: 0.5
    top_k: 10
  pipelineV2:
    enabled: true
    shadowMode: true
    worker:
      pollMs: 500
      maxRetries: 5
    graph:
      enabled: true
      boostWeight: 0.25
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "remote-openai-compatible", cfg.Embedding.Provider)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.Equal(t, 0.5, cfg.Search.Alpha)
	assert.Equal(t, 10, cfg.Search.TopK)
	assert.True(t, cfg.Pipeline.Enabled)
	assert.True(t, cfg.Pipeline.ShadowMode)
	assert.Equal(t, int64(500), cfg.Pipeline.Worker.PollMs)
	assert.Equal(t, 5, cfg.Pipeline.Worker.MaxRetries)
	assert.True(t, cfg.Pipeline.Graph.Enabled)
	assert.Equal(t, 0.25, cfg.Pipeline.Graph.BoostWeight)

	// Untouched keys keep defaults.
	assert.Equal(t, 0.3, cfg.Search.MinScore)
	assert.Equal(t, int64(60_000), cfg.Pipeline.Worker.LeaseTimeoutMs)
}

func TestFlatAliasesAndNestedWins(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", `
search_alpha: 0.9
search_top_k: 7
embedding_model: all-minilm
search:
  alpha: 0.4
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	// Nested alpha wins over the flat alias.
	assert.Equal(t, 0.4, cfg.Search.Alpha)
	// Flat-only keys still apply.
	assert.Equal(t, 7, cfg.Search.TopK)
	assert.Equal(t, "all-minilm", cfg.Embedding.Model)
}

func TestConfigFilePrecedence(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", "search_alpha: 0.1\n")
	writeConfig(t, dir, "agent.yaml", "search_alpha: 0.2\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 0.2, cfg.Search.Alpha, "agent.yaml should win over config.yaml")
}

func TestClampOutOfRange(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "agent.yaml", `
memory:
  search:
    alpha: 1.7
    top_k: 500
    min_score: -0.2
  pipelineV2:
    worker:
      pollMs: 10
    guardrails:
      recallTruncateChars: 10
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 1.0, cfg.Search.Alpha)
	assert.Equal(t, MaxTopK, cfg.Search.TopK)
	assert.Equal(t, 0.0, cfg.Search.MinScore)
	assert.Equal(t, int64(MinPollMs), cfg.Pipeline.Worker.PollMs)
	assert.Equal(t, MinTruncateChars, cfg.Pipeline.Guardrails.RecallTruncateChars)
	assert.NotEmpty(t, cfg.Warnings)
}

func TestParseFailureFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "agent.yaml", "{{oops: [unclosed")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 0.7, cfg.Search.Alpha)
	assert.NotEmpty(t, cfg.Warnings)
}

func TestProviderNormalization(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"Ollama alias", "ollama", "local-http"},
		{"OpenAI alias", "openai", "remote-openai-compatible"},
		{"Gemini", "gemini", "gemini"},
		{"Unknown", "bogus", "local-http"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, "agent.yaml", "memory:\n  embedding:\n    provider: "+tt.in+"\n")
			cfg, err := Load(dir)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Embedding.Provider)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Run("SIGNET_EMBEDDING_BASE_URL overrides file", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "agent.yaml", "memory:\n  embedding:\n    base_url: http://file:1\n")
		t.Setenv("SIGNET_EMBEDDING_BASE_URL", "http://env:2")

		cfg, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "http://env:2", cfg.Embedding.BaseURL)
	})

	t.Run("GEMINI_API_KEY fills empty key for gemini provider", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "agent.yaml", "memory:\n  embedding:\n    provider: gemini\n")
		t.Setenv("GEMINI_API_KEY", "g-key")

		cfg, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "g-key", cfg.Embedding.APIKey)
	})

	t.Run("GEMINI_API_KEY does not override explicit key", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "agent.yaml", "memory:\n  embedding:\n    provider: gemini\n    api_key: explicit\n")
		t.Setenv("GEMINI_API_KEY", "g-key")

		cfg, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "explicit", cfg.Embedding.APIKey)
	})
}

func TestDurationAccessors(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, int64(2000), cfg.WorkerPollInterval().Milliseconds())
	assert.Equal(t, int64(60_000), cfg.LeaseTimeout().Milliseconds())
	assert.Equal(t, 20.0, cfg.ExtractionTimeout().Seconds())
	assert.Equal(t, 30*24.0, cfg.RetentionWindow().Hours())

	cfg.Pipeline.Extraction.Timeout = "garbage"
	assert.Equal(t, 20.0, cfg.ExtractionTimeout().Seconds())
}
