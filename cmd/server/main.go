package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pdfqa/internal/config"
	"pdfqa/internal/indexer"
	"pdfqa/internal/keepalive"
	"pdfqa/internal/llm"
	"pdfqa/internal/retriever"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := llm.NewBackend(ctx, cfg.LLMOptions())
	if err != nil {
		return fmt.Errorf("failed to init LLM backend: %w", err)
	}
	defer backend.Close()

	store, err := cfg.OpenStore(ctx, backend, logger)
	if err != nil {
		return fmt.Errorf("failed to init vector store: %w", err)
	}
	defer store.Close()

	srv := NewServer(
		indexer.New(store, cfg.ChunkOptions(), logger),
		retriever.New(store, backend, cfg.TopK, logger),
		store.Name(),
		cfg.MaxUploadBytes,
		cfg.CORSAllowedOrigins,
		logger,
	)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopKeepAlive := func() {}
	if keepalive.Enabled(os.LookupEnv) {
		pinger := keepalive.New(
			keepalive.TargetURL(cfg.RenderExternalURL, cfg.Port),
			cfg.KeepAliveInterval,
			cfg.KeepAliveTimeout,
			logger,
		)
		stopKeepAlive = pinger.Start(context.Background())
	} else {
		logger.Info("Keep-alive disabled in development mode")
	}
	defer stopKeepAlive()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			zap.String("addr", httpServer.Addr),
			zap.String("llm_provider", cfg.LLMProvider),
			zap.String("vector_store", cfg.VectorStore),
			zap.String("table", store.Name()))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown incomplete", zap.Error(err))
	}
	stopKeepAlive()
	logger.Info("Shutdown complete")
	return nil
}
