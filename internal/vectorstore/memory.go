package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/google/uuid"
)

const memoryPageSize = 500

type memoryRecord struct {
	chunk  Chunk
	vector []float32
}

// Memory is an in-process store for local runs and tests. Chunk text and the
// document id are indexed in an in-memory bleve index; the document filter is a
// term query on the keyword-mapped document_id field, and candidates are ranked
// by cosine similarity against the query embedding.
type Memory struct {
	name      string
	embedder  Embedder
	batchSize int

	mu      sync.RWMutex
	index   bleve.Index
	records map[string]memoryRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory(name string, embedder Embedder, batchSize int) (*Memory, error) {
	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("document_id", bleve.NewKeywordFieldMapping())
	docMapping.AddFieldMappingsAt("text", bleve.NewTextFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping

	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory index: %w", err)
	}

	return &Memory{
		name:      name,
		embedder:  embedder,
		batchSize: batchSize,
		index:     idx,
		records:   make(map[string]memoryRecord),
	}, nil
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.Close()
}

func (m *Memory) Add(ctx context.Context, chunks []Chunk) error {
	for _, b := range batches(len(chunks), m.batchSize) {
		part := chunks[b[0]:b[1]]

		texts := make([]string, len(part))
		for i, c := range part {
			texts[i] = c.Text
		}
		vectors, err := m.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: embedding chunks %d-%d: %v", ErrStorage, b[0], b[1], err)
		}
		if len(vectors) != len(part) {
			return fmt.Errorf("%w: embedder returned %d vectors for %d chunks", ErrStorage, len(vectors), len(part))
		}

		if err := m.write(part, vectors); err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}
	return nil
}

func (m *Memory) write(chunks []Chunk, vectors [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := m.index.NewBatch()
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = uuid.NewString()
		err := batch.Index(ids[i], map[string]interface{}{
			"document_id": c.Metadata.DocumentID,
			"text":        c.Text,
		})
		if err != nil {
			return err
		}
	}
	if err := m.index.Batch(batch); err != nil {
		return err
	}
	for i, c := range chunks {
		m.records[ids[i]] = memoryRecord{chunk: c, vector: vectors[i]}
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, query string, k int, filter Filter) ([]Match, error) {
	if filter.DocumentID == "" {
		return nil, ErrFilterRequired
	}

	qv, err := m.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query embedding: %v", ErrStorage, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	q := bleve.NewTermQuery(filter.DocumentID)
	q.SetField("document_id")

	var matches []Match
	for from := 0; ; from += memoryPageSize {
		req := bleve.NewSearchRequestOptions(q, memoryPageSize, from, false)
		res, err := m.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%w: search: %v", ErrStorage, err)
		}
		for _, hit := range res.Hits {
			rec, ok := m.records[hit.ID]
			if !ok {
				continue
			}
			matches = append(matches, Match{Chunk: rec.chunk, Score: cosineSimilarity(qv, rec.vector)})
		}
		if len(res.Hits) < memoryPageSize {
			break
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Metadata.ChunkIndex < matches[j].Metadata.ChunkIndex
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
