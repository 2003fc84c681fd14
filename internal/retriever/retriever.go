package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"pdfqa/internal/llm"
	"pdfqa/internal/vectorstore"

	"go.uber.org/zap"
)

// NotFoundMessage is returned when no chunk of the document matches the question.
const NotFoundMessage = "I could not find any relevant information in the specified document to answer your question."

// DefaultTopK is the number of chunks passed to the model.
const DefaultTopK = 3

// ErrRetrieval wraps failures of the similarity search.
var ErrRetrieval = errors.New("failed to retrieve document chunks")

// Retriever answers questions scoped to a single uploaded document.
type Retriever struct {
	store    vectorstore.Store
	provider llm.Provider
	topK     int
	logger   *zap.Logger
}

func New(store vectorstore.Store, provider llm.Provider, topK int, logger *zap.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{store: store, provider: provider, topK: topK, logger: logger}
}

// Search returns the top-k chunks of docID for the question, most similar first.
func (r *Retriever) Search(ctx context.Context, docID, question string) ([]vectorstore.Match, error) {
	matches, err := r.store.Search(ctx, question, r.topK, vectorstore.Filter{DocumentID: docID})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > r.topK {
		matches = matches[:r.topK]
	}
	return matches, nil
}

// Answer retrieves context from docID and asks the model. When nothing matches,
// NotFoundMessage is returned and the model is not called.
func (r *Retriever) Answer(ctx context.Context, docID, question string) (string, error) {
	start := time.Now()

	matches, err := r.Search(ctx, docID, question)
	if err != nil {
		r.logger.Error("Retrieval failed", zap.String("document_id", docID), zap.Error(err))
		return "", err
	}
	if len(matches) == 0 {
		r.logger.Info("No relevant chunks found", zap.String("document_id", docID))
		return NotFoundMessage, nil
	}

	excerpts := make([]string, len(matches))
	for i, m := range matches {
		excerpts[i] = m.Text
	}

	answer, err := r.provider.AnswerQuestion(ctx, question, excerpts)
	if err != nil {
		r.logger.Error("Answer generation failed", zap.String("document_id", docID), zap.Error(err))
		if errors.Is(err, llm.ErrGeneration) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", llm.ErrGeneration, err)
	}

	r.logger.Info("Answered question",
		zap.String("document_id", docID),
		zap.Int("chunks", len(matches)),
		zap.Duration("took", time.Since(start)))
	return answer, nil
}
