package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pdfqa/internal/extractor"
	"pdfqa/internal/indexer"
	"pdfqa/internal/retriever"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newIndexCmd() *cobra.Command {
	var dir string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "index [file.pdf...]",
		Short: "Index local PDF files and print their document ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			files := args
			if dir != "" {
				found, err := pdfsInDir(dir)
				if err != nil {
					return err
				}
				files = append(files, found...)
			}
			if len(files) == 0 {
				return errors.New("no PDF files given; pass file paths or --dir")
			}

			d, err := openDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()

			ix := indexer.New(d.store, d.cfg.ChunkOptions(), d.logger)
			return indexFiles(cmd.Context(), ix, files, verbose, cmd.OutOrStdout(), cmd.ErrOrStderr(), d.logger)
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "index every .pdf file in this directory")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print per-page extraction counts")
	return cmd
}

func newAskCmd() *cobra.Command {
	var docID string

	cmd := &cobra.Command{
		Use:   "ask --document-id ID \"question\"",
		Short: "Ask a question about one indexed document",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(docID) == "" {
				return errors.New("--document-id is required")
			}
			question := strings.Join(args, " ")

			d, err := openDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()

			r := retriever.New(d.store, d.backend, d.cfg.TopK, d.logger)
			answer, err := r.Answer(cmd.Context(), docID, question)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
	cmd.Flags().StringVar(&docID, "document-id", "", "document id returned by index or /upload")
	return cmd
}

type pdfIndexer interface {
	IndexPDF(ctx context.Context, data []byte, filename string) (string, error)
}

// indexFiles indexes each file independently; a failure on one file does not
// stop the rest. Ids go to out, failures to errOut.
func indexFiles(ctx context.Context, ix pdfIndexer, files []string, verbose bool, out, errOut io.Writer, logger *zap.Logger) error {
	start := time.Now()
	failed := 0
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	for _, path := range files {
		name := filepath.Base(path)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Debug("Failed to read file", zap.String("path", path), zap.Error(err))
			fmt.Fprintf(errOut, "%s %s: %v\n", red("FAILED"), name, err)
			failed++
			continue
		}

		if verbose {
			if pages, err := extractor.ExtractPages(data); err == nil {
				fmt.Fprintf(out, "# %s: %d pages with text\n", name, len(pages))
			}
		}

		docID, err := ix.IndexPDF(ctx, data, name)
		if err != nil {
			logger.Debug("Failed to index file", zap.String("path", path), zap.Error(err))
			fmt.Fprintf(errOut, "%s %s: %v\n", red("FAILED"), name, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "%s\t%s\n", name, docID)
	}

	logger.Info("Ingestion finished",
		zap.Int("files", len(files)),
		zap.Int("failed", failed),
		zap.Duration("took", time.Since(start)))
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to index", failed, len(files))
	}
	return nil
}

func pdfsInDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.ToLower(filepath.Ext(e.Name())) != ".pdf" {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
