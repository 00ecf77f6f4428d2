package vectorstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/railadvice/railadviced/internal/config"
)

// NewStore creates the configured vector store backend. dimension is the
// embedder's output dimension and must stay constant for the life of the
// index.
func NewStore(cfg config.VectorStoreConfig, dimension int, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:       config.ExpandPath(cfg.Chromem.Path),
			Compress:   cfg.Chromem.Compress,
			Collection: cfg.Chromem.Collection,
			VectorSize: dimension,
		}, embedder, logger)
	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Qdrant.Collection,
			UseTLS:     cfg.Qdrant.UseTLS,
			VectorSize: uint64(dimension),
		}, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
