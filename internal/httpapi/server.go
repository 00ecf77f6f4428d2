// Package httpapi provides the HTTP API for railadviced.
//
// The handlers are a thin adapter over the assistant: request decoding,
// error-to-status mapping and metrics live here, business logic does not.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/railadvice/railadviced/internal/assistant"
	"github.com/railadvice/railadviced/internal/docstore"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides HTTP endpoints for railadviced.
type Server struct {
	echo      *echo.Echo
	assistant *assistant.Assistant
	metrics   *Metrics
	logger    *zap.Logger
	config    Config
}

// NewServer creates the HTTP server.
func NewServer(a *assistant.Assistant, metrics *Metrics, logger *zap.Logger, cfg Config) (*Server, error) {
	if a == nil {
		return nil, fmt.Errorf("assistant cannot be nil")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 8090
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		assistant: a,
		metrics:   metrics,
		logger:    logger,
		config:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/query", s.handleQuery)
	v1.POST("/documents", s.handleIngest)
	v1.GET("/documents", s.handleListDocuments)
	v1.DELETE("/documents/:id", s.handleRemoveDocument)
}

// QueryRequest is the request body for POST /api/v1/query.
type QueryRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`
}

// QueryResponse is the response body for POST /api/v1/query.
type QueryResponse struct {
	SessionID  string   `json:"session_id"`
	Answer     string   `json:"answer"`
	Intent     string   `json:"intent"`
	Confidence string   `json:"confidence"`
	Language   string   `json:"language"`
	Citations  []string `json:"citations,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := s.assistant.Query(c.Request().Context(), assistant.QueryRequest{
		SessionID: req.SessionID,
		Query:     req.Query,
	})
	if err != nil {
		if errors.Is(err, assistant.ErrEmptyQuery) {
			return echo.NewHTTPError(http.StatusBadRequest, "query cannot be empty")
		}
		s.logger.Error("query failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed")
	}

	s.metrics.queriesTotal.WithLabelValues(string(resp.Intent)).Inc()
	s.metrics.queryConfidence.WithLabelValues(string(resp.Answer.Confidence)).Inc()

	return c.JSON(http.StatusOK, QueryResponse{
		SessionID:  resp.SessionID,
		Answer:     resp.Answer.Text,
		Intent:     string(resp.Intent),
		Confidence: string(resp.Answer.Confidence),
		Language:   resp.Answer.Language,
		Citations:  resp.Answer.CitedChunkIDs,
		Sources:    resp.Answer.Sources,
	})
}

// IngestRequest is the request body for POST /api/v1/documents. A
// document_id naming an existing document replaces it.
type IngestRequest struct {
	DocumentID string `json:"document_id,omitempty"`
	Title      string `json:"title"`
	Text       string `json:"text"`
	Language   string `json:"language,omitempty"`
	Category   string `json:"category,omitempty"`
	Source     string `json:"source,omitempty"`
}

// IngestResponse is the response body for POST /api/v1/documents.
type IngestResponse struct {
	DocumentID    string   `json:"document_id"`
	ChunkCount    int      `json:"chunk_count"`
	SkippedChunks []string `json:"skipped_chunks,omitempty"`
	Duplicate     bool     `json:"duplicate,omitempty"`
	Replaced      bool     `json:"replaced,omitempty"`
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := s.assistant.Ingest(c.Request().Context(), assistant.IngestRequest{
		DocumentID: req.DocumentID,
		Title:      req.Title,
		Text:       req.Text,
		Language:   req.Language,
		Category:   req.Category,
		Source:     req.Source,
	})
	if err != nil {
		switch {
		case errors.Is(err, docstore.ErrDocumentTooShort):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, docstore.ErrUnsupportedLanguage):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		default:
			s.logger.Error("ingestion failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "ingestion failed")
		}
	}

	status := http.StatusCreated
	switch {
	case res.Duplicate:
		status = http.StatusOK
	case res.Replaced:
		// Replacement re-indexes chunks but creates no new document.
		status = http.StatusOK
		s.metrics.ingestedChunks.Add(float64(res.ChunkCount))
		s.metrics.skippedChunks.Add(float64(len(res.SkippedChunks)))
	default:
		s.metrics.ingestedDocs.Inc()
		s.metrics.ingestedChunks.Add(float64(res.ChunkCount))
		s.metrics.skippedChunks.Add(float64(len(res.SkippedChunks)))
	}
	return c.JSON(status, IngestResponse{
		DocumentID:    res.DocumentID,
		ChunkCount:    res.ChunkCount,
		SkippedChunks: res.SkippedChunks,
		Duplicate:     res.Duplicate,
		Replaced:      res.Replaced,
	})
}

// DocumentSummary is one entry in the GET /api/v1/documents response.
type DocumentSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Language   string    `json:"language"`
	Category   string    `json:"category"`
	ChunkCount int       `json:"chunk_count"`
	IngestedAt time.Time `json:"ingested_at"`
}

func (s *Server) handleListDocuments(c echo.Context) error {
	docs := s.assistant.Documents(c.Request().Context())
	out := make([]DocumentSummary, len(docs))
	for i, d := range docs {
		out[i] = DocumentSummary{
			ID:         d.ID,
			Title:      d.Title,
			Language:   d.Language,
			Category:   string(d.Category),
			ChunkCount: len(d.ChunkIDs),
			IngestedAt: d.IngestedAt,
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleRemoveDocument(c echo.Context) error {
	id := c.Param("id")
	err := s.assistant.Remove(c.Request().Context(), id)
	if err != nil && !errors.Is(err, docstore.ErrDocumentNotFound) {
		s.logger.Error("document removal failed",
			zap.String("document_id", id),
			zap.Error(err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "removal failed")
	}
	// Deletion is idempotent: an absent id is already the desired state.
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleHealth(c echo.Context) error {
	h := s.assistant.CheckHealth(c.Request().Context())
	status := http.StatusOK
	if !h.Ready {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, h)
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("http server starting", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
