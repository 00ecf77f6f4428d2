// Railadviced is the RailAdvice assistant daemon.
//
// It serves a retrieval-grounded question answering API over an ingested
// corpus of railway engineering documents, in Norwegian and English.
//
// Usage:
//
//	# Start with defaults (embedded vector store, fastembed model)
//	railadviced
//
//	# Start with a config file; environment variables override it
//	railadviced --config /etc/railadviced/config.yaml
//	SERVER_PORT=9090 railadviced
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/railadvice/railadviced/internal/assistant"
	"github.com/railadvice/railadviced/internal/config"
	"github.com/railadvice/railadviced/internal/docstore"
	"github.com/railadvice/railadviced/internal/embeddings"
	"github.com/railadvice/railadviced/internal/httpapi"
	"github.com/railadvice/railadviced/internal/intent"
	"github.com/railadvice/railadviced/internal/logging"
	"github.com/railadvice/railadviced/internal/reranker"
	"github.com/railadvice/railadviced/internal/responder"
	"github.com/railadvice/railadviced/internal/retrieval"
	"github.com/railadvice/railadviced/internal/session"
	"github.com/railadvice/railadviced/internal/telemetry"
	"github.com/railadvice/railadviced/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("railadviced\nVersion:    %s\nCommit:     %s\nBuild Date: %s\n",
			version, gitCommit, buildDate)
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("railadviced: %v", err)
	}
	log.Println("shutdown complete")
}

// run initializes every subsystem, starts the HTTP server and blocks until
// the context is canceled, then shuts everything down in reverse order.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logging.Sync(logger)

	logger.Info("starting railadviced",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
	)

	var tel *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		tel, err = telemetry.New(ctx, cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer func() {
			if err := tel.Shutdown(context.Background()); err != nil {
				logger.Warn("telemetry shutdown failed", zap.Error(err))
			}
		}()
		if tel.Degraded() {
			logger.Warn("telemetry running degraded, exporter unreachable")
		}
	}

	provider, err := embeddings.NewProvider(embeddings.Config{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		CacheDir:  config.ExpandPath(cfg.Embeddings.CacheDir),
		Dimension: cfg.Embeddings.Dimension,
	})
	if err != nil {
		return fmt.Errorf("initializing embedding provider: %w", err)
	}
	embedder := embeddings.NewBatchedProvider(provider, cfg.Embeddings.BatchSize)
	defer func() {
		if err := embedder.Close(); err != nil {
			logger.Warn("embedding provider close failed", zap.Error(err))
		}
	}()

	index, err := vectorstore.NewStore(cfg.VectorStore, provider.Dimension(), embedder, logger)
	if err != nil {
		if errors.Is(err, vectorstore.ErrCorruptIndex) {
			// Refusing to start beats serving answers from a broken index.
			return fmt.Errorf("%w (remove the index directory and re-ingest)", err)
		}
		return fmt.Errorf("initializing vector store: %w", err)
	}
	defer func() {
		if err := index.Close(); err != nil {
			logger.Warn("vector store close failed", zap.Error(err))
		}
	}()

	docs, err := docstore.NewStore(docstore.StoreConfig{
		Path:             config.ExpandPath(cfg.DocStore.Path),
		Languages:        cfg.DocStore.Languages,
		MinDocumentChars: cfg.DocStore.MinDocumentChars,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing document store: %w", err)
	}

	chunker, err := docstore.NewChunker(docstore.ChunkerConfig{
		TargetTokens:    cfg.DocStore.ChunkTargetTokens,
		MaxTokens:       cfg.DocStore.ChunkMaxTokens,
		OverlapFraction: cfg.DocStore.ChunkOverlapFraction,
	})
	if err != nil {
		return fmt.Errorf("initializing chunker: %w", err)
	}

	engine := retrieval.NewEngine(index, reranker.New(reranker.Config{}), retrieval.Config{
		TopK:         cfg.Retrieval.TopK,
		MinRelevance: cfg.Retrieval.MinRelevance,
		Timeout:      cfg.Retrieval.Timeout,
	}, logger)

	sessions := session.NewManager(session.Config{
		MaxTurns:      cfg.Session.MaxTurns,
		IdleTimeout:   cfg.Session.IdleTimeout,
		SweepInterval: cfg.Session.SweepInterval,
	}, logger)
	defer func() {
		_ = sessions.Close()
	}()

	asst, err := assistant.New(assistant.Options{
		Docs:         docs,
		Chunker:      chunker,
		Index:        index,
		Classifier:   intent.NewClassifier(engine, cfg.Retrieval.ProbeRelevance),
		Sessions:     sessions,
		Engine:       engine,
		Responder:    responder.New(responder.Config{}),
		Logger:       logger,
		ModelVersion: provider.ModelVersion(),
	})
	if err != nil {
		return fmt.Errorf("wiring assistant: %w", err)
	}

	server, err := httpapi.NewServer(asst, httpapi.NewMetrics(sessions.Len), logger, httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
