package vectorstore

import (
	"context"
	"fmt"
	"os"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("railadviced.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name.
	Collection string

	// VectorSize is the expected embedding dimension. Must match the
	// embedder's output dimension.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "railadvice_chunks"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path required", ErrInvalidConfig)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements Store using chromem-go, an embeddable pure-Go
// vector database with gob-file persistence. No external service needed;
// the index survives process restarts.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger

	mu         sync.Mutex
	collection *chromem.Collection
}

// NewChromemStore opens (or creates) a persistent chromem store.
//
// An unreadable persisted database is reported as ErrCorruptIndex: the
// caller must not serve queries against it until a full re-index.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if err := os.MkdirAll(config.Path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", config.Path, err)
	}

	db, err := chromem.NewPersistentDB(config.Path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}

	store := &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	collection, err := db.GetOrCreateCollection(config.Collection, nil, store.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", config.Collection, err)
	}
	store.collection = collection

	logger.Info("chromem store ready",
		zap.String("path", config.Path),
		zap.String("collection", config.Collection),
		zap.Int("vector_size", config.VectorSize),
		zap.Int("entries", collection.Count()),
	)

	return store, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// Add embeds and indexes entries. A failed batch embed falls back to
// per-entry embedding so one bad chunk cannot sink its siblings; failed
// chunks are reported as skipped.
func (s *ChromemStore) Add(ctx context.Context, entries []Entry) (*AddReport, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Add")
	defer span.End()
	span.SetAttributes(attribute.Int("entry_count", len(entries)))

	if len(entries) == 0 {
		return nil, ErrEmptyEntries
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Content
	}

	report := &AddReport{}
	vectors := make([][]float32, len(entries))

	batch, err := s.embedder.EmbedDocuments(ctx, texts)
	if err == nil {
		copy(vectors, batch)
	} else {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		for i, text := range texts {
			vec, embErr := s.embedder.EmbedDocuments(ctx, []string{text})
			if embErr != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.logger.Warn("skipping unembeddable chunk",
					zap.String("chunk_id", entries[i].ChunkID),
					zap.Error(embErr),
				)
				report.Skipped = append(report.Skipped, entries[i].ChunkID)
				continue
			}
			vectors[i] = vec[0]
		}
	}

	docs := make([]chromem.Document, 0, len(entries))
	for i, e := range entries {
		if vectors[i] == nil {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:        e.ChunkID,
			Content:   e.Content,
			Embedding: vectors[i],
			Metadata:  e.Metadata,
		})
		report.Added = append(report.Added, e.ChunkID)
	}

	if len(docs) > 0 {
		s.mu.Lock()
		err = s.collection.AddDocuments(ctx, docs, 1)
		s.mu.Unlock()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("adding documents to collection: %w", err)
		}
	}

	span.SetAttributes(
		attribute.Int("added", len(report.Added)),
		attribute.Int("skipped", len(report.Skipped)),
	)
	return report, nil
}

// Search embeds the query and returns up to k results by similarity.
func (s *ChromemStore) Search(ctx context.Context, query string, k int) ([]Result, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return s.SearchByVector(ctx, vector, k)
}

// SearchByVector searches with a precomputed query vector.
func (s *ChromemStore) SearchByVector(ctx context.Context, vector []float32, k int) ([]Result, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.SearchByVector")
	defer span.End()

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	s.mu.Lock()
	count := s.collection.Count()
	if k > count {
		// chromem rejects nResults larger than the collection.
		k = count
	}
	if k == 0 {
		s.mu.Unlock()
		return []Result{}, nil
	}
	hits, err := s.collection.QueryEmbedding(ctx, vector, k, nil, nil)
	s.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			ChunkID:  h.ID,
			Content:  h.Content,
			Score:    h.Similarity,
			Metadata: h.Metadata,
		}
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// Delete removes entries by chunk id.
func (s *ChromemStore) Delete(ctx context.Context, chunkIDs []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(chunkIDs)))

	if len(chunkIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.collection.Delete(ctx, nil, nil, chunkIDs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting entries: %w", err)
	}
	return nil
}

// Count returns the number of indexed entries.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection.Count(), nil
}

// Close is a no-op: chromem persists on every write.
func (s *ChromemStore) Close() error {
	return nil
}

var _ Store = (*ChromemStore)(nil)
