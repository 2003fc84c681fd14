package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"pdfqa/internal/chunker"
	"pdfqa/internal/extractor"
	"pdfqa/internal/vectorstore"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoText is returned when a PDF yields no extractable text. Its message
// is sent to clients as is.
var ErrNoText = errors.New("No text could be extracted from the PDF.")

// Indexer turns uploaded documents into tagged chunks in a vector store.
type Indexer struct {
	store  vectorstore.Store
	opts   chunker.Options
	logger *zap.Logger

	// newID is swapped in tests for deterministic ids.
	newID func() string
}

func New(store vectorstore.Store, opts chunker.Options, logger *zap.Logger) *Indexer {
	return &Indexer{
		store:  store,
		opts:   opts,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// IndexPDF extracts, chunks and stores a PDF, returning the new document id.
// The id is only returned once every chunk has been written.
func (ix *Indexer) IndexPDF(ctx context.Context, data []byte, filename string) (string, error) {
	text, err := extractor.ExtractText(data)
	if err != nil {
		return "", err
	}
	return ix.IndexText(ctx, text, filename)
}

// IndexText runs the pipeline on already-extracted text.
func (ix *Indexer) IndexText(ctx context.Context, text, filename string) (string, error) {
	start := time.Now()

	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}

	pieces, err := chunker.Split(text, ix.opts)
	if err != nil {
		return "", err
	}
	for i, p := range pieces {
		if n := utf8.RuneCountInString(p); n > ix.opts.Size {
			ix.logger.Warn("Chunk exceeds configured size",
				zap.String("filename", filename),
				zap.Int("chunk_index", i),
				zap.Int("length", n),
				zap.Int("size", ix.opts.Size))
		}
	}

	docID := ix.newID()
	chunks := BuildChunks(docID, filename, pieces)

	if err := ix.store.Add(ctx, chunks); err != nil {
		ix.logger.Error("Failed to store chunks",
			zap.String("document_id", docID),
			zap.String("filename", filename),
			zap.Error(err))
		return "", fmt.Errorf("failed to store document %s: %w", filename, err)
	}

	ix.logger.Info("Indexed document",
		zap.String("document_id", docID),
		zap.String("filename", filename),
		zap.Int("chunks", len(chunks)),
		zap.Duration("took", time.Since(start)))
	return docID, nil
}

// BuildChunks attaches document metadata to each chunk text, preserving order.
func BuildChunks(docID, filename string, texts []string) []vectorstore.Chunk {
	chunks := make([]vectorstore.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = vectorstore.Chunk{
			Text: t,
			Metadata: vectorstore.Metadata{
				DocumentID:     docID,
				SourceFilename: filename,
				ChunkIndex:     i,
			},
		}
	}
	return chunks
}
