package vectorstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/brokerkit/knowledged/internal/config"
)

// NewStore creates a Store from the daemon configuration.
//
// The provider field selects the backend:
//   - "qdrant": external Qdrant server over gRPC
//   - "chromem": embedded chromem-go, in memory or persisted to disk
//
// The vector size always comes from embeddings.dimension so the store and
// the embedder can never be configured apart.
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.VectorStore.Provider {
	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:       cfg.VectorStore.Qdrant.Host,
			Port:       cfg.VectorStore.Qdrant.Port,
			Collection: cfg.VectorStore.Qdrant.Collection,
			VectorSize: cfg.Embeddings.Dimension,
			UseTLS:     cfg.VectorStore.Qdrant.UseTLS,
		}, logger)

	case "chromem":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.VectorStore.Chromem.Path,
			Compress:   cfg.VectorStore.Chromem.Compress,
			Collection: cfg.VectorStore.Chromem.Collection,
			VectorSize: cfg.Embeddings.Dimension,
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: qdrant, chromem)",
			ErrInvalidConfig, cfg.VectorStore.Provider)
	}
}
