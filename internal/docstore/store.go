package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var storeTracer = otel.Tracer("railadviced.docstore")

// StoreConfig holds configuration for the document store.
type StoreConfig struct {
	// Path is the directory holding one JSON record per document.
	Path string

	// Languages is the accepted set of language tags.
	Languages []string

	// MinDocumentChars rejects documents shorter than this after
	// normalization.
	MinDocumentChars int
}

// ApplyDefaults sets default values for unset fields.
func (c *StoreConfig) ApplyDefaults() {
	if len(c.Languages) == 0 {
		c.Languages = []string{"no", "en"}
	}
	if c.MinDocumentChars == 0 {
		c.MinDocumentChars = 40
	}
}

// record is the on-disk representation: a document and its chunks together,
// so a document write is one atomic file replace.
type record struct {
	Document Document `json:"document"`
	Chunks   []Chunk  `json:"chunks"`
}

// Store persists documents and chunks as JSON files, one per document.
//
// Reads are served from an in-memory map loaded at open. Writes go through
// a temp-file rename so a crash never leaves a half-written record. A
// per-document lock serializes ingest/remove for the same document while
// leaving other documents untouched.
type Store struct {
	config StoreConfig
	logger *zap.Logger

	mu     sync.RWMutex
	docs   map[string]*record
	byHash map[string]string // content hash -> document id

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewStore opens the store at config.Path, loading any persisted records.
func NewStore(config StoreConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if config.Path == "" {
		return nil, fmt.Errorf("docstore path required")
	}
	if err := os.MkdirAll(config.Path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", config.Path, err)
	}

	s := &Store{
		config: config,
		logger: logger,
		docs:   make(map[string]*record),
		byHash: make(map[string]string),
		locks:  make(map[string]*sync.Mutex),
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	logger.Info("document store ready",
		zap.String("path", config.Path),
		zap.Int("documents", len(s.docs)),
	)
	return s, nil
}

func (s *Store) load() error {
	entries, err := os.ReadDir(s.config.Path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.config.Path, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.config.Path, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			// A torn record should never survive the rename dance; treat
			// it as corruption rather than silently dropping documents.
			return fmt.Errorf("decoding %s: %w", path, err)
		}
		s.docs[rec.Document.ID] = &rec
		s.byHash[rec.Document.ContentHash] = rec.Document.ID
	}
	return nil
}

// lockFor returns the mutex serializing writes for document id.
func (s *Store) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// ValidateText checks raw text against the store's ingestion rules and
// returns the normalized text and its content hash.
func (s *Store) ValidateText(raw, language string) (normalized, hash string, err error) {
	normalized = NormalizeText(raw)
	if len([]rune(normalized)) < s.config.MinDocumentChars {
		return "", "", fmt.Errorf("%w: %d chars after normalization, need %d",
			ErrDocumentTooShort, len([]rune(normalized)), s.config.MinDocumentChars)
	}
	if language != "" && !s.languageAccepted(language) {
		return "", "", fmt.Errorf("%w: %q (accepted: %s)",
			ErrUnsupportedLanguage, language, strings.Join(s.config.Languages, ", "))
	}
	sum := sha256.Sum256([]byte(normalized))
	return normalized, hex.EncodeToString(sum[:]), nil
}

func (s *Store) languageAccepted(lang string) bool {
	for _, l := range s.config.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// FindByHash returns the id of the document with the given content hash,
// if any.
func (s *Store) FindByHash(hash string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	return id, ok
}

// Put persists a document and its chunks, replacing any previous record
// with the same id.
func (s *Store) Put(ctx context.Context, doc Document, chunks []Chunk) error {
	ctx, span := storeTracer.Start(ctx, "docstore.Put")
	defer span.End()
	span.SetAttributes(
		attribute.String("document_id", doc.ID),
		attribute.Int("chunk_count", len(chunks)),
	)

	lock := s.lockFor(doc.ID)
	lock.Lock()
	defer lock.Unlock()

	rec := &record{Document: doc, Chunks: chunks}
	if err := s.writeRecord(rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.mu.Lock()
	if old, ok := s.docs[doc.ID]; ok {
		delete(s.byHash, old.Document.ContentHash)
	}
	s.docs[doc.ID] = rec
	s.byHash[doc.ContentHash] = doc.ID
	s.mu.Unlock()
	return nil
}

func (s *Store) writeRecord(rec *record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", rec.Document.ID, err)
	}
	final := s.recordPath(rec.Document.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.config.Path, id+".json")
}

// Get returns a document by id.
func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return rec.Document, nil
}

// GetChunk returns a chunk by id.
func (s *Store) GetChunk(ctx context.Context, chunkID string) (Chunk, error) {
	docID, _, ok := strings.Cut(chunkID, ":")
	if !ok {
		return Chunk{}, fmt.Errorf("%w: malformed id %q", ErrChunkNotFound, chunkID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[docID]
	if !ok {
		return Chunk{}, fmt.Errorf("%w: %s", ErrChunkNotFound, chunkID)
	}
	for _, c := range rec.Chunks {
		if c.ID == chunkID {
			return c, nil
		}
	}
	return Chunk{}, fmt.Errorf("%w: %s", ErrChunkNotFound, chunkID)
}

// Chunks returns a document's chunks in order.
func (s *Store) Chunks(ctx context.Context, docID string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[docID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	out := make([]Chunk, len(rec.Chunks))
	copy(out, rec.Chunks)
	return out, nil
}

// Delete removes a document and its chunks. Returns the removed chunk ids
// so the caller can evict them from the vector index.
func (s *Store) Delete(ctx context.Context, id string) ([]string, error) {
	ctx, span := storeTracer.Start(ctx, "docstore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", id))

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	rec, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	delete(s.docs, id)
	delete(s.byHash, rec.Document.ContentHash)
	s.mu.Unlock()

	if err := os.Remove(s.recordPath(id)); err != nil && !os.IsNotExist(err) {
		span.RecordError(err)
		return nil, fmt.Errorf("removing record %s: %w", id, err)
	}

	ids := make([]string, len(rec.Chunks))
	for i, c := range rec.Chunks {
		ids[i] = c.ID
	}
	return ids, nil
}

// List returns all documents ordered by ingestion time, newest first.
func (s *Store) List(ctx context.Context) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(s.docs))
	for _, rec := range s.docs {
		out = append(out, rec.Document)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IngestedAt.Equal(out[j].IngestedAt) {
			return out[i].IngestedAt.After(out[j].IngestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Counts returns the number of documents and chunks in the store.
func (s *Store) Counts(ctx context.Context) (docs, chunks int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.docs {
		chunks += len(rec.Chunks)
	}
	return len(s.docs), chunks
}
