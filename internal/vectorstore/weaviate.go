package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.uber.org/zap"
)

// WeaviateConfig locates a hosted Weaviate cluster.
type WeaviateConfig struct {
	// URL is the cluster endpoint, with or without scheme. Bare hosts default to https.
	URL       string
	APIKey    string
	ClassName string
	BatchSize int
}

// Weaviate stores chunks as objects of a single class with client-side vectors.
type Weaviate struct {
	client    *weaviate.Client
	embedder  Embedder
	className string
	batchSize int
	logger    *zap.Logger
}

// NewWeaviate connects to the cluster and creates the class if it does not exist yet.
func NewWeaviate(ctx context.Context, cfg WeaviateConfig, embedder Embedder, logger *zap.Logger) (*Weaviate, error) {
	scheme, host := splitURL(cfg.URL)
	wcfg := weaviate.Config{
		Host:   host,
		Scheme: scheme,
	}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
		wcfg.Headers = map[string]string{
			"X-Weaviate-Api-Key":     cfg.APIKey,
			"X-Weaviate-Cluster-Url": fmt.Sprintf("%s://%s", scheme, host),
		}
	}

	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	s := &Weaviate{
		client:    client,
		embedder:  embedder,
		className: normalizeClassName(cfg.ClassName),
		batchSize: cfg.BatchSize,
		logger:    logger,
	}
	if err := s.ensureClass(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Weaviate) ensureClass(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.className).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to check class %s: %w", s.className, err)
	}
	if exists {
		return nil
	}

	if err := s.client.Schema().ClassCreator().WithClass(chunkClass(s.className)).Do(ctx); err != nil {
		return fmt.Errorf("failed to create class %s: %w", s.className, err)
	}
	s.logger.Info("Created vector store class", zap.String("class", s.className))
	return nil
}

// chunkClass describes the schema; documentId uses field tokenization so the
// Equal filter compares whole identifiers rather than word tokens.
func chunkClass(name string) *models.Class {
	return &models.Class{
		Class:           name,
		Vectorizer:      "none",
		VectorIndexType: "hnsw",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
		Properties: []*models.Property{
			{Name: "text", DataType: []string{"text"}},
			{Name: "documentId", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "sourceFilename", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "chunkIndex", DataType: []string{"int"}},
		},
	}
}

func (s *Weaviate) Name() string { return s.className }

func (s *Weaviate) Close() error { return nil }

func (s *Weaviate) Add(ctx context.Context, chunks []Chunk) error {
	for _, b := range batches(len(chunks), s.batchSize) {
		part := chunks[b[0]:b[1]]

		texts := make([]string, len(part))
		for i, c := range part {
			texts[i] = c.Text
		}
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: embedding chunks %d-%d: %v", ErrStorage, b[0], b[1], err)
		}
		if len(vectors) != len(part) {
			return fmt.Errorf("%w: embedder returned %d vectors for %d chunks", ErrStorage, len(vectors), len(part))
		}

		objects := make([]*models.Object, len(part))
		for i, c := range part {
			objects[i] = &models.Object{
				Class:      s.className,
				Properties: chunkProperties(c),
				Vector:     vectors[i],
			}
		}

		resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return fmt.Errorf("%w: insert batch %d-%d: %v", ErrStorage, b[0], b[1], err)
		}
		if err := batchError(resp); err != nil {
			return fmt.Errorf("%w: insert batch %d-%d: %v", ErrStorage, b[0], b[1], err)
		}

		s.logger.Debug("Inserted chunk batch",
			zap.String("class", s.className),
			zap.Int("from", b[0]),
			zap.Int("to", b[1]),
			zap.Int("total", len(chunks)))
	}
	return nil
}

func (s *Weaviate) Search(ctx context.Context, query string, k int, filter Filter) ([]Match, error) {
	if filter.DocumentID == "" {
		return nil, ErrFilterRequired
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query embedding: %v", ErrStorage, err)
	}

	fields := []graphql.Field{
		{Name: "text"},
		{Name: "documentId"},
		{Name: "sourceFilename"},
		{Name: "chunkIndex"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}
	where := filters.Where().
		WithPath([]string{"documentId"}).
		WithOperator(filters.Equal).
		WithValueText(filter.DocumentID)

	resp, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(fields...).
		WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)).
		WithWhere(where).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrStorage, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: search: %s", ErrStorage, resp.Errors[0].Message)
	}

	matches, err := parseMatches(resp.Data, s.className)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	kept := matches[:0]
	for _, m := range matches {
		if m.Metadata.DocumentID != filter.DocumentID {
			s.logger.Warn("Dropping search hit from another document",
				zap.String("requested", filter.DocumentID),
				zap.String("got", m.Metadata.DocumentID))
			continue
		}
		kept = append(kept, m)
	}
	return kept, nil
}

func chunkProperties(c Chunk) map[string]interface{} {
	return map[string]interface{}{
		"text":           c.Text,
		"documentId":     c.Metadata.DocumentID,
		"sourceFilename": c.Metadata.SourceFilename,
		"chunkIndex":     c.Metadata.ChunkIndex,
	}
}

func batchError(resp []models.ObjectsGetResponse) error {
	for i, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			if e != nil && e.Message != "" {
				return fmt.Errorf("object %d: %s", i, e.Message)
			}
		}
	}
	return nil
}

// parseMatches reads {"Get": {"<Class>": [ ... ]}} from a GraphQL response.
func parseMatches(data map[string]models.JSONObject, className string) ([]Match, error) {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected search response: missing Get")
	}
	raw, ok := get[className]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected search response for class %s", className)
	}

	matches := make([]Match, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		m := Match{
			Chunk: Chunk{
				Text: asString(obj["text"]),
				Metadata: Metadata{
					DocumentID:     asString(obj["documentId"]),
					SourceFilename: asString(obj["sourceFilename"]),
					ChunkIndex:     int(asFloat(obj["chunkIndex"])),
				},
			},
		}
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			m.Score = 1 - asFloat(additional["distance"])
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}

func splitURL(raw string) (scheme, host string) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	switch {
	case strings.HasPrefix(raw, "http://"):
		return "http", strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "https://"):
		return "https", strings.TrimPrefix(raw, "https://")
	}
	return "https", raw
}

// normalizeClassName applies Weaviate's rule that class names start with a capital letter.
func normalizeClassName(name string) string {
	if name == "" {
		return name
	}
	r := []rune(name)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
