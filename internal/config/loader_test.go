package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, "fastembed", cfg.Embeddings.Provider)
	assert.Equal(t, []string{"no", "en"}, cfg.DocStore.Languages)
	assert.Equal(t, 350, cfg.DocStore.ChunkTargetTokens)
	assert.Equal(t, 500, cfg.DocStore.ChunkMaxTokens)
	assert.Equal(t, 20, cfg.Session.MaxTurns)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.35, float64(cfg.Retrieval.MinRelevance), 1e-6)
	assert.InDelta(t, 0.25, float64(cfg.Retrieval.ProbeRelevance), 1e-6)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9500
logging:
  level: debug
  format: console
vectorstore:
  provider: qdrant
  qdrant:
    host: qdrant.internal
    port: 7000
session:
  max_turns: 8
retrieval:
  min_relevance: 0.5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9500, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Qdrant.Host)
	assert.Equal(t, 7000, cfg.VectorStore.Qdrant.Port)
	assert.Equal(t, 8, cfg.Session.MaxTurns)
	assert.InDelta(t, 0.5, float64(cfg.Retrieval.MinRelevance), 1e-6)

	// Unset fields still get defaults.
	assert.Equal(t, "fastembed", cfg.Embeddings.Provider)
	assert.Equal(t, 350, cfg.DocStore.ChunkTargetTokens)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9500
`)
	t.Setenv("SERVER_PORT", "9600")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9600, cfg.Server.Port)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Server.Port)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log format", "logging:\n  format: xml\n"},
		{"bad vectorstore provider", "vectorstore:\n  provider: pinecone\n"},
		{"bad embeddings provider", "embeddings:\n  provider: openai\n"},
		{"overlap out of range", "docstore:\n  chunk_overlap_fraction: 1.5\n"},
		{"target above max", "docstore:\n  chunk_target_tokens: 600\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".config", "railadviced"), ExpandPath("~/.config/railadviced"))
	assert.Equal(t, "/var/lib/railadviced", ExpandPath("/var/lib/railadviced"))
	assert.Equal(t, "relative/path", ExpandPath("relative/path"))
}
