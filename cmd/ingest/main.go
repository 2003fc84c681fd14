package main

import (
	"context"
	"fmt"
	"os"

	"pdfqa/internal/config"
	"pdfqa/internal/llm"
	"pdfqa/internal/vectorstore"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index PDFs and ask questions against the document store",
	Long: `ingest runs the same upload and question pipelines as the HTTP server,
from a terminal. It reads the same environment, .env file and optional
YAML config file.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	rootCmd.AddCommand(newIndexCmd(), newAskCmd())
}

// deps are the long-lived handles a command needs.
type deps struct {
	cfg     *config.Config
	logger  *zap.Logger
	backend llm.Backend
	store   vectorstore.Store
}

func (d *deps) Close() {
	d.store.Close()
	d.backend.Close()
	d.logger.Sync()
}

func openDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	format := cfg.LogFormat
	if format == "json" {
		format = "console"
	}
	logger, err := config.NewLogger(format)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	backend, err := llm.NewBackend(ctx, cfg.LLMOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to init LLM backend: %w", err)
	}
	store, err := cfg.OpenStore(ctx, backend, logger)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to init vector store: %w", err)
	}
	if cfg.VectorStore == config.StoreMemory {
		logger.Warn("Memory store does not persist between ingest runs")
	}

	return &deps{cfg: cfg, logger: logger, backend: backend, store: store}, nil
}
