// Package embeddings provides embedding generation via multiple providers.
//
// All vectors produced by a provider are L2-normalized, so cosine similarity
// reduces to a dot product. One provider (one model version) backs one index;
// mixing model versions invalidates similarity comparisons and requires a
// full re-index.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for embedding operations.
var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmptyInput indicates an empty text input.
	ErrEmptyInput = errors.New("empty input")

	// ErrEmbeddingFailed indicates the model could not encode the input.
	ErrEmbeddingFailed = errors.New("embedding failed")
)

// Provider generates vector embeddings from text.
type Provider interface {
	// EmbedDocuments generates embeddings for multiple texts in one batch.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query. Some models
	// encode queries differently from passages.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// ModelVersion identifies the model backing this provider. Vectors
	// from different model versions must never share an index.
	ModelVersion() string

	// Close releases resources held by the provider.
	Close() error
}

// Config holds configuration for creating an embedding provider.
type Config struct {
	// Provider is "fastembed" or "hash".
	Provider string
	// Model is the embedding model name (fastembed).
	Model string
	// CacheDir is the model cache directory (fastembed).
	CacheDir string
	// Dimension is the vector dimension (hash).
	Dimension int
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "fastembed", "":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "hash":
		return NewHashProvider(HashConfig{Dimension: cfg.Dimension})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
