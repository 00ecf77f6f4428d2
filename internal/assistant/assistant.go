// Package assistant orchestrates the query and ingestion pipelines over
// the document store, vector index, intent classifier, session manager,
// retrieval engine and responder.
package assistant

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/railadvice/railadviced/internal/docstore"
	"github.com/railadvice/railadviced/internal/intent"
	"github.com/railadvice/railadviced/internal/responder"
	"github.com/railadvice/railadviced/internal/retrieval"
	"github.com/railadvice/railadviced/internal/session"
	"github.com/railadvice/railadviced/internal/vectorstore"
)

var tracer = otel.Tracer("railadviced.assistant")

// ErrEmptyQuery indicates a blank query.
var ErrEmptyQuery = fmt.Errorf("empty query")

// Assistant is the top-level service. One instance serves all sessions.
type Assistant struct {
	docs       *docstore.Store
	chunker    *docstore.Chunker
	index      vectorstore.Store
	classifier *intent.Classifier
	sessions   *session.Manager
	engine     *retrieval.Engine
	responder  *responder.Responder
	logger     *zap.Logger

	modelVersion string

	docMu    sync.Mutex
	docLocks map[string]*sync.Mutex
}

// Options carries the assistant's collaborators.
type Options struct {
	Docs       *docstore.Store
	Chunker    *docstore.Chunker
	Index      vectorstore.Store
	Classifier *intent.Classifier
	Sessions   *session.Manager
	Engine     *retrieval.Engine
	Responder  *responder.Responder
	Logger     *zap.Logger

	// ModelVersion identifies the embedding model backing the index,
	// reported in health.
	ModelVersion string
}

// New wires an assistant from its collaborators.
func New(opts Options) (*Assistant, error) {
	switch {
	case opts.Docs == nil:
		return nil, fmt.Errorf("document store is required")
	case opts.Chunker == nil:
		return nil, fmt.Errorf("chunker is required")
	case opts.Index == nil:
		return nil, fmt.Errorf("vector index is required")
	case opts.Classifier == nil:
		return nil, fmt.Errorf("classifier is required")
	case opts.Sessions == nil:
		return nil, fmt.Errorf("session manager is required")
	case opts.Engine == nil:
		return nil, fmt.Errorf("retrieval engine is required")
	case opts.Responder == nil:
		return nil, fmt.Errorf("responder is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Assistant{
		docs:         opts.Docs,
		chunker:      opts.Chunker,
		index:        opts.Index,
		classifier:   opts.Classifier,
		sessions:     opts.Sessions,
		engine:       opts.Engine,
		responder:    opts.Responder,
		logger:       opts.Logger,
		modelVersion: opts.ModelVersion,
		docLocks:     make(map[string]*sync.Mutex),
	}, nil
}

// lockDoc serializes ingestion and removal for one document id, so a
// re-ingestion swaps index entries and chunks without interleaving with a
// concurrent write for the same document. Returns the unlock function.
func (a *Assistant) lockDoc(id string) func() {
	a.docMu.Lock()
	l, ok := a.docLocks[id]
	if !ok {
		l = &sync.Mutex{}
		a.docLocks[id] = l
	}
	a.docMu.Unlock()
	l.Lock()
	return l.Unlock
}

// QueryRequest is one user query.
type QueryRequest struct {
	// SessionID continues an existing conversation; empty starts a new
	// one.
	SessionID string

	// Query is the user's question.
	Query string
}

// QueryResponse is the assistant's reply.
type QueryResponse struct {
	// SessionID identifies the conversation, newly minted if the
	// request carried none.
	SessionID string

	// Answer is the synthesized response.
	Answer responder.Answer

	// Intent is the classified query intent.
	Intent intent.Intent

	// ResolvedQuery is the query after follow-up resolution; equal to
	// the input when no rewrite happened.
	ResolvedQuery string
}

// Query answers one user query, updating the session's history.
func (a *Assistant) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	ctx, span := tracer.Start(ctx, "assistant.Query")
	defer span.End()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	sess := a.sessions.Get(sessionID)

	// One turn at a time per session: a follow-up arriving while the
	// previous turn is in flight must resolve against that turn's topic,
	// not a stale one.
	sess.Lock()
	defer sess.Unlock()

	lang := docstore.DetectLanguage(query)

	it := a.classifier.Classify(ctx, query)
	span.SetAttributes(
		attribute.String("intent", string(it)),
		attribute.String("language", lang),
	)

	resp := &QueryResponse{SessionID: sessionID, Intent: it, ResolvedQuery: query}
	var topic string

	switch {
	case it.Conversational():
		resp.Answer = a.responder.Conversational(it, lang)
	case it == intent.OutOfScope:
		resp.Answer = a.responder.OutOfScope(lang)
	default:
		resolved, rewritten := sess.Resolve(query)
		if rewritten {
			a.logger.Debug("resolved follow-up query",
				zap.String("session_id", sessionID),
				zap.String("resolved", resolved),
			)
		}
		resp.ResolvedQuery = resolved

		category := intent.QueryCategory(resolved)
		result := a.engine.Retrieve(ctx, resolved, category)
		resp.Answer = a.responder.Synthesize(result, lang)
		topic = responder.Topic(result.Chunks)
	}

	sess.Append(session.Turn{
		Query:         query,
		Intent:        it,
		Answer:        resp.Answer.Text,
		CitedChunkIDs: resp.Answer.CitedChunkIDs,
		Topic:         topic,
		At:            time.Now(),
	})
	return resp, nil
}

// IngestRequest is one document to ingest.
type IngestRequest struct {
	// DocumentID re-ingests under an existing id: the document's previous
	// chunks and index entries are replaced in one step. Empty mints a
	// fresh id.
	DocumentID string

	// Title is the document title. Required.
	Title string

	// Text is the raw document text.
	Text string

	// Language is the document language; detected from the text when
	// empty.
	Language string

	// Category overrides category detection when set to a valid value.
	Category string

	// Source records where the document came from.
	Source string
}

// IngestResult reports the outcome of an ingestion.
type IngestResult struct {
	// DocumentID is the ingested (or pre-existing, for duplicates)
	// document.
	DocumentID string

	// ChunkCount is the number of chunks indexed.
	ChunkCount int

	// SkippedChunks lists chunk ids the embedder could not encode.
	SkippedChunks []string

	// Duplicate is true when the content was already in the store and
	// nothing was re-indexed.
	Duplicate bool

	// Replaced is true when an existing document id was re-ingested and
	// its previous chunks were evicted.
	Replaced bool
}

// Ingest validates, chunks, embeds and persists one document.
//
// Content identical to an already ingested document is a no-op reporting
// the existing document id. A request naming an existing document id
// replaces that document: its old chunks and index entries are evicted and
// the new ones take their place, serialized per document id so concurrent
// writes to the same document cannot interleave. Chunks the embedder cannot
// encode are skipped and reported, never silently dropped; the document is
// persisted with the chunks that made it into the index.
func (a *Assistant) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	ctx, span := tracer.Start(ctx, "assistant.Ingest")
	defer span.End()

	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("document title is required")
	}

	normalized, hash, err := a.docs.ValidateText(req.Text, req.Language)
	if err != nil {
		return nil, err
	}

	docID := strings.TrimSpace(req.DocumentID)
	if docID == "" {
		docID = uuid.New().String()
	}
	unlock := a.lockDoc(docID)
	defer unlock()

	var oldChunkIDs []string
	replacing := false
	if req.DocumentID != "" {
		if old, err := a.docs.Get(ctx, docID); err == nil {
			replacing = true
			oldChunkIDs = old.ChunkIDs
		}
	}
	span.SetAttributes(attribute.Bool("replacing", replacing))

	// Unchanged content is a no-op. When replacing, only the document's own
	// hash counts: matching some other document must not block a revision.
	if existing, ok := a.docs.FindByHash(hash); ok && (!replacing || existing == docID) {
		a.logger.Info("duplicate document, skipping ingestion",
			zap.String("existing_id", existing),
			zap.String("title", req.Title),
		)
		return &IngestResult{DocumentID: existing, Duplicate: true}, nil
	}

	lang := req.Language
	if lang == "" {
		lang = docstore.DetectLanguage(normalized)
	}
	category := docstore.Category(req.Category)
	if !category.Valid() {
		category = docstore.DetectCategory(req.Title, normalized)
	}

	chunks := a.chunker.ChunkDocument(docID, normalized)
	if len(chunks) == 0 {
		return nil, docstore.ErrDocumentTooShort
	}

	if replacing {
		// Evict the old entries first: chunk ids repeat across revisions,
		// so a shrunk revision would otherwise leave stale tail chunks
		// serving answers from the superseded text.
		if err := a.index.Delete(ctx, oldChunkIDs); err != nil {
			return nil, fmt.Errorf("evicting replaced chunks: %w", err)
		}
	}

	now := time.Now()
	entries := make([]vectorstore.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = vectorstore.Entry{
			ChunkID: c.ID,
			Content: c.Content,
			Metadata: map[string]string{
				"document_id": docID,
				"title":       req.Title,
				"category":    string(category),
				"language":    lang,
				"ingested_at": strconv.FormatInt(now.Unix(), 10),
			},
		}
	}

	report, err := a.index.Add(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("indexing document: %w", err)
	}

	skipped := make(map[string]struct{}, len(report.Skipped))
	for _, id := range report.Skipped {
		skipped[id] = struct{}{}
	}
	kept := chunks[:0]
	for _, c := range chunks {
		if _, ok := skipped[c.ID]; !ok {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: no chunk could be embedded", vectorstore.ErrEmbeddingFailed)
	}

	doc := docstore.Document{
		ID:          docID,
		Title:       req.Title,
		Language:    lang,
		Category:    category,
		Source:      req.Source,
		ContentHash: hash,
		ChunkIDs:    make([]string, len(kept)),
		IngestedAt:  now,
	}
	for i, c := range kept {
		doc.ChunkIDs[i] = c.ID
	}
	if err := a.docs.Put(ctx, doc, kept); err != nil {
		// Roll the orphaned vectors back; a failed rollback only leaves
		// unreferenced entries, which search still serves harmlessly.
		if delErr := a.index.Delete(ctx, doc.ChunkIDs); delErr != nil {
			a.logger.Warn("rollback of indexed chunks failed",
				zap.String("document_id", docID),
				zap.Error(delErr),
			)
		}
		return nil, fmt.Errorf("persisting document: %w", err)
	}

	a.logger.Info("document ingested",
		zap.String("document_id", docID),
		zap.String("title", req.Title),
		zap.String("category", string(category)),
		zap.String("language", lang),
		zap.Int("chunks", len(kept)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Bool("replaced", replacing),
	)
	return &IngestResult{
		DocumentID:    docID,
		ChunkCount:    len(kept),
		SkippedChunks: report.Skipped,
		Replaced:      replacing,
	}, nil
}

// Remove deletes a document and evicts its chunks from the index.
func (a *Assistant) Remove(ctx context.Context, documentID string) error {
	ctx, span := tracer.Start(ctx, "assistant.Remove")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID))

	unlock := a.lockDoc(documentID)
	defer unlock()

	chunkIDs, err := a.docs.Delete(ctx, documentID)
	if err != nil {
		return err
	}
	if err := a.index.Delete(ctx, chunkIDs); err != nil {
		return fmt.Errorf("evicting chunks from index: %w", err)
	}
	a.logger.Info("document removed",
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunkIDs)),
	)
	return nil
}

// Documents lists the corpus, newest first.
func (a *Assistant) Documents(ctx context.Context) []docstore.Document {
	return a.docs.List(ctx)
}

// Health describes the assistant's readiness.
type Health struct {
	// Ready is true when the index is reachable.
	Ready bool `json:"ready"`

	// Documents and Chunks count the persisted corpus.
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`

	// IndexEntries counts vectors in the index. Normally equals Chunks;
	// drift signals skipped embeds or a partial removal.
	IndexEntries int `json:"index_entries"`

	// Sessions counts live conversations.
	Sessions int `json:"sessions"`

	// EmbeddingModel identifies the model backing the index.
	EmbeddingModel string `json:"embedding_model"`
}

// CheckHealth reports the assistant's current state.
func (a *Assistant) CheckHealth(ctx context.Context) Health {
	h := Health{EmbeddingModel: a.modelVersion, Sessions: a.sessions.Len()}
	h.Documents, h.Chunks = a.docs.Counts(ctx)
	n, err := a.index.Count(ctx)
	if err != nil {
		a.logger.Warn("index health check failed", zap.Error(err))
		return h
	}
	h.Ready = true
	h.IndexEntries = n
	return h
}
