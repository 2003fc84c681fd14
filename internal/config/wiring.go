package config

import (
	"context"
	"fmt"

	"pdfqa/internal/vectorstore"

	"go.uber.org/zap"
)

// NewLogger builds the process logger. "console" gives human-readable output.
func NewLogger(format string) (*zap.Logger, error) {
	if format == "console" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// OpenStore connects the configured vector store.
func (c *Config) OpenStore(ctx context.Context, embedder vectorstore.Embedder, logger *zap.Logger) (vectorstore.Store, error) {
	switch c.VectorStore {
	case StoreWeaviate:
		return vectorstore.NewWeaviate(ctx, c.WeaviateConfig(), embedder, logger)
	case StoreMemory:
		logger.Warn("Using in-memory vector store; documents are lost on restart")
		return vectorstore.NewMemory(c.TableName, embedder, c.WriteBatchSize)
	default:
		return nil, fmt.Errorf("unknown vector store: %s", c.VectorStore)
	}
}
