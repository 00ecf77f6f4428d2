// Package vectorstore provides nearest-neighbor storage for chunk embeddings.
//
// Two backends implement the Store interface: an embedded chromem-go store
// (default, persists across restarts without an external service) and an
// external Qdrant store over gRPC. Both use cosine similarity on normalized
// vectors, so scores are comparable across backends.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid vectorstore configuration")

	// ErrEmptyEntries indicates an empty or nil entry batch.
	ErrEmptyEntries = errors.New("empty or nil entries")

	// ErrConnectionFailed indicates the backing store is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrCorruptIndex indicates the persisted index failed validation at
	// startup. This is the only fatal retrieval-side error: the daemon
	// refuses to serve until a re-index.
	ErrCorruptIndex = errors.New("vector index corrupt, re-index required")
)

// Embedder generates vector embeddings from text.
// embeddings.Provider satisfies this interface.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Entry is one indexed chunk: its id, text and filter metadata.
type Entry struct {
	// ChunkID is the unique chunk identifier.
	ChunkID string

	// Content is the chunk text to embed.
	Content string

	// Metadata carries filterable chunk attributes.
	// Keys used by retrieval: document_id, title, category, language,
	// ingested_at (unix seconds).
	Metadata map[string]string
}

// Result is a single similarity search hit.
type Result struct {
	// ChunkID is the chunk identifier.
	ChunkID string

	// Content is the chunk text.
	Content string

	// Score is the cosine similarity (higher = more similar).
	Score float32

	// Metadata carries the entry's metadata.
	Metadata map[string]string
}

// AddReport describes the outcome of an Add call with partial failures.
type AddReport struct {
	// Added lists chunk ids successfully embedded and indexed.
	Added []string

	// Skipped lists chunk ids whose text the model could not encode.
	// Skipped chunks are logged and reported, never silently dropped.
	Skipped []string
}

// Store is the interface for vector index operations.
//
// Implementations own the embedding step for Add and Search so every vector
// in the index comes from the same model version.
type Store interface {
	// Add embeds and indexes entries. Chunks the model cannot encode are
	// skipped and reported in the AddReport; the error is non-nil only
	// when the store itself fails.
	Add(ctx context.Context, entries []Entry) (*AddReport, error)

	// Search embeds the query and returns up to k entries ordered by
	// similarity score, highest first.
	Search(ctx context.Context, query string, k int) ([]Result, error)

	// SearchByVector searches with a precomputed query vector. The vector
	// must come from the same model version as the index.
	SearchByVector(ctx context.Context, vector []float32, k int) ([]Result, error)

	// Delete removes entries by chunk id. Missing ids are not an error.
	Delete(ctx context.Context, chunkIDs []string) error

	// Count returns the number of indexed entries.
	Count(ctx context.Context) (int, error)

	// Close flushes and releases the store.
	Close() error
}
