// Package config provides configuration loading for railadviced.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the railadviced daemon.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	DocStore    DocStoreConfig    `koanf:"docstore"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Session     SessionConfig     `koanf:"session"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	ServiceName  string `koanf:"service_name"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

// DocStoreConfig holds document store configuration.
type DocStoreConfig struct {
	// Path is the directory for persisted document and chunk metadata.
	Path string `koanf:"path"`

	// Languages is the set of accepted language tags.
	Languages []string `koanf:"languages"`

	// MinDocumentChars is the minimum raw text length accepted for ingestion.
	MinDocumentChars int `koanf:"min_document_chars"`

	// ChunkTargetTokens is the target chunk size in tokens.
	ChunkTargetTokens int `koanf:"chunk_target_tokens"`

	// ChunkMaxTokens is the hard upper bound per chunk.
	ChunkMaxTokens int `koanf:"chunk_max_tokens"`

	// ChunkOverlapFraction is the fraction of a chunk repeated at the next
	// chunk's start to preserve boundary context.
	ChunkOverlapFraction float64 `koanf:"chunk_overlap_fraction"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant" (external).
	Provider string `koanf:"provider"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// QdrantConfig configures the external Qdrant store (gRPC).
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	UseTLS     bool   `koanf:"use_tls"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "fastembed" (local ONNX models) or "hash"
	// (deterministic pure-Go feature hashing, used for tests and
	// CGO-less builds).
	Provider string `koanf:"provider"`

	// Model is the embedding model name (fastembed only).
	Model string `koanf:"model"`

	// CacheDir is the model download cache directory (fastembed only).
	CacheDir string `koanf:"cache_dir"`

	// Dimension is the vector dimension (hash provider only; fastembed
	// derives it from the model).
	Dimension int `koanf:"dimension"`

	// BatchSize is the maximum number of texts embedded per batch call.
	BatchSize int `koanf:"batch_size"`
}

// SessionConfig configures conversation state.
type SessionConfig struct {
	// MaxTurns caps the turn history per session; oldest turns are
	// evicted first.
	MaxTurns int `koanf:"max_turns"`

	// IdleTimeout evicts a session after this long without a new turn.
	IdleTimeout time.Duration `koanf:"idle_timeout"`

	// SweepInterval is how often expired sessions are reaped.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// RetrievalConfig configures the retrieval engine.
type RetrievalConfig struct {
	// TopK is the number of nearest chunks fetched before reranking.
	TopK int `koanf:"top_k"`

	// MinRelevance is the cosine similarity floor; results below it are
	// dropped.
	MinRelevance float32 `koanf:"min_relevance"`

	// ProbeRelevance is the similarity floor for the intent classifier's
	// cheap pre-check probe.
	ProbeRelevance float32 `koanf:"probe_relevance"`

	// Timeout bounds a single embed+search pass; on expiry retrieval
	// degrades to an empty result.
	Timeout time.Duration `koanf:"timeout"`
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging: invalid format %q", c.Logging.Format)
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("vectorstore: unknown provider %q", c.VectorStore.Provider)
	}
	switch c.Embeddings.Provider {
	case "fastembed", "hash":
	default:
		return fmt.Errorf("embeddings: unknown provider %q", c.Embeddings.Provider)
	}
	if len(c.DocStore.Languages) == 0 {
		return fmt.Errorf("docstore: at least one language required")
	}
	if c.DocStore.ChunkOverlapFraction < 0 || c.DocStore.ChunkOverlapFraction >= 1 {
		return fmt.Errorf("docstore: chunk_overlap_fraction must be in [0,1), got %v", c.DocStore.ChunkOverlapFraction)
	}
	if c.DocStore.ChunkTargetTokens > c.DocStore.ChunkMaxTokens {
		return fmt.Errorf("docstore: chunk_target_tokens %d exceeds chunk_max_tokens %d",
			c.DocStore.ChunkTargetTokens, c.DocStore.ChunkMaxTokens)
	}
	if c.Session.MaxTurns <= 0 {
		return fmt.Errorf("session: max_turns must be positive")
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session: idle_timeout must be positive")
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval: top_k must be positive")
	}
	if c.Retrieval.MinRelevance < 0 || c.Retrieval.MinRelevance > 1 {
		return fmt.Errorf("retrieval: min_relevance must be in [0,1]")
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "railadviced"
	}
	if cfg.Telemetry.OTLPEndpoint == "" {
		cfg.Telemetry.OTLPEndpoint = "localhost:4317"
	}

	if cfg.DocStore.Path == "" {
		cfg.DocStore.Path = "~/.config/railadviced/documents"
	}
	if len(cfg.DocStore.Languages) == 0 {
		cfg.DocStore.Languages = []string{"no", "en"}
	}
	if cfg.DocStore.MinDocumentChars == 0 {
		cfg.DocStore.MinDocumentChars = 40
	}
	if cfg.DocStore.ChunkTargetTokens == 0 {
		cfg.DocStore.ChunkTargetTokens = 350
	}
	if cfg.DocStore.ChunkMaxTokens == 0 {
		cfg.DocStore.ChunkMaxTokens = 500
	}
	if cfg.DocStore.ChunkOverlapFraction == 0 {
		cfg.DocStore.ChunkOverlapFraction = 0.15
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/railadviced/vectorstore"
	}
	if cfg.VectorStore.Chromem.Collection == "" {
		cfg.VectorStore.Chromem.Collection = "railadvice_chunks"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.Collection == "" {
		cfg.VectorStore.Qdrant.Collection = "railadvice_chunks"
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 384
	}
	if cfg.Embeddings.BatchSize == 0 {
		cfg.Embeddings.BatchSize = 32
	}

	if cfg.Session.MaxTurns == 0 {
		cfg.Session.MaxTurns = 20
	}
	if cfg.Session.IdleTimeout == 0 {
		cfg.Session.IdleTimeout = 30 * time.Minute
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = time.Minute
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 10
	}
	if cfg.Retrieval.MinRelevance == 0 {
		cfg.Retrieval.MinRelevance = 0.35
	}
	if cfg.Retrieval.ProbeRelevance == 0 {
		cfg.Retrieval.ProbeRelevance = 0.25
	}
	if cfg.Retrieval.Timeout == 0 {
		cfg.Retrieval.Timeout = 5 * time.Second
	}
}
