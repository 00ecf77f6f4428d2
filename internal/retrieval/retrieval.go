// Package retrieval runs the search pipeline: embed the query, fetch
// nearest chunks, drop weak matches and rerank the rest.
//
// Retrieval degrades instead of failing: a timeout or an unreachable index
// yields an empty result with a status the responder can phrase honestly,
// never a user-facing error.
package retrieval

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/railadvice/railadviced/internal/reranker"
	"github.com/railadvice/railadviced/internal/vectorstore"
)

var tracer = otel.Tracer("railadviced.retrieval")

// Status describes how a retrieval pass ended.
type Status string

// Retrieval statuses.
const (
	// StatusOK means at least one chunk passed the relevance floor.
	StatusOK Status = "ok"

	// StatusNoMatch means the search ran but nothing was relevant enough.
	StatusNoMatch Status = "no_match"

	// StatusTimeout means the pass exceeded its deadline.
	StatusTimeout Status = "timeout"

	// StatusUnavailable means the index could not be reached.
	StatusUnavailable Status = "unavailable"
)

// Config holds retrieval engine configuration.
type Config struct {
	// TopK is how many nearest chunks to fetch before filtering.
	TopK int

	// MinRelevance is the cosine similarity floor.
	MinRelevance float32

	// Timeout bounds one embed+search pass.
	Timeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK == 0 {
		c.TopK = 10
	}
	if c.MinRelevance == 0 {
		c.MinRelevance = 0.35
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
}

// Result is the outcome of one retrieval pass. Chunks is empty unless
// Status is StatusOK.
type Result struct {
	Chunks []reranker.Scored
	Status Status
}

// Engine retrieves and ranks chunks for a query.
type Engine struct {
	store    vectorstore.Store
	reranker *reranker.Reranker
	config   Config
	logger   *zap.Logger
}

// NewEngine creates a retrieval engine.
func NewEngine(store vectorstore.Store, rr *reranker.Reranker, config Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	return &Engine{store: store, reranker: rr, config: config, logger: logger}
}

// Retrieve runs the full pass for query. category is the query's detected
// subject area for rerank boosting; empty disables the boost.
func (e *Engine) Retrieve(ctx context.Context, query, category string) Result {
	ctx, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	hits, err := e.store.Search(ctx, query, e.config.TopK)
	if err != nil {
		status := e.classifyFailure(ctx, err)
		span.SetAttributes(attribute.String("status", string(status)))
		e.logger.Warn("retrieval degraded",
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return Result{Status: status}
	}

	relevant := hits[:0]
	for _, h := range hits {
		if h.Score >= e.config.MinRelevance {
			relevant = append(relevant, h)
		}
	}
	if len(relevant) == 0 {
		span.SetAttributes(attribute.String("status", string(StatusNoMatch)))
		return Result{Status: StatusNoMatch}
	}

	scored := e.reranker.Rerank(query, category, relevant)
	span.SetAttributes(
		attribute.String("status", string(StatusOK)),
		attribute.Int("chunks", len(scored)),
	)
	return Result{Chunks: scored, Status: StatusOK}
}

func (e *Engine) classifyFailure(ctx context.Context, err error) Status {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return StatusTimeout
	}
	if errors.Is(err, vectorstore.ErrConnectionFailed) {
		return StatusUnavailable
	}
	return StatusUnavailable
}

// MaxSimilarity returns the highest similarity between query and any
// indexed chunk. It backs the intent classifier's scope probe and shares
// the engine's timeout. An empty or unreachable index probes as 0 with the
// error, letting the caller decide whether to fail open.
func (e *Engine) MaxSimilarity(ctx context.Context, query string) (float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	hits, err := e.store.Search(ctx, query, 1)
	if err != nil {
		return 0, err
	}
	if len(hits) == 0 {
		return 0, nil
	}
	return hits[0].Score, nil
}
