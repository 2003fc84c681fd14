// Package vectorstore persists embedded chunks and answers filtered similarity queries.
package vectorstore

import (
	"context"
	"errors"
	"math"
)

var (
	// ErrStorage wraps any failure of the backing store while writing or reading.
	ErrStorage = errors.New("vector store operation failed")

	// ErrFilterRequired is returned when a search is attempted without a document filter.
	// Unfiltered searches could return another document's chunks.
	ErrFilterRequired = errors.New("search requires a document_id filter")
)

// DefaultBatchSize is the number of chunks sent per physical write.
const DefaultBatchSize = 20

// Metadata is attached to every stored chunk.
type Metadata struct {
	DocumentID     string `json:"document_id"`
	SourceFilename string `json:"source_filename"`
	ChunkIndex     int    `json:"chunk_index"`
}

// Chunk is one retrievable segment of a document.
type Chunk struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// Match is a chunk returned by a similarity search.
type Match struct {
	Chunk
	Score float64 `json:"score"`
}

// Filter restricts a search to a single document.
type Filter struct {
	DocumentID string
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the persistence boundary used by the indexer and retriever.
// Implementations compute embeddings themselves and must be safe for concurrent use.
type Store interface {
	// Add embeds and writes chunks as one logical batch.
	Add(ctx context.Context, chunks []Chunk) error
	// Search returns up to k chunks matching filter, most similar first.
	Search(ctx context.Context, query string, k int, filter Filter) ([]Match, error)
	// Name identifies the table or collection backing the store.
	Name() string
	Close() error
}

// batches splits n items into [start, end) windows of at most size items.
func batches(n, size int) [][2]int {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][2]int
	for i := 0; i < n; i += size {
		end := i + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{i, end})
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
