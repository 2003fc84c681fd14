package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/option"
)

// ErrGeneration wraps failures of the chat model call.
var ErrGeneration = errors.New("failed to get answer from LLM")

// errEmbedding wraps failures of the embedding call.
var errEmbedding = errors.New("embedding request failed")

// Provider answers a question from retrieved excerpts.
type Provider interface {
	AnswerQuestion(ctx context.Context, question string, excerpts []string) (string, error)
}

// Backend is one hosted model vendor serving both chat and embeddings.
type Backend interface {
	Provider
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Close() error
}

// Options selects and tunes a backend.
type Options struct {
	Provider       string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Temperature    float32

	// BaseURL overrides the OpenAI endpoint, for compatible gateways.
	BaseURL string
	// ClientOptions are appended to the Gemini client options, after the API key.
	ClientOptions []option.ClientOption
}

const (
	DefaultGeminiChatModel      = "gemini-2.0-flash"
	DefaultGeminiEmbeddingModel = "embedding-001"
	DefaultOpenAIChatModel      = openai.GPT4oMini
	DefaultOpenAIEmbeddingModel = string(openai.SmallEmbedding3)
	DefaultTemperature          = 0.1

	// Gemini rejects batch embedding requests with more than 100 contents.
	geminiMaxBatch = 100
)

// NewBackend creates the backend named by opts.Provider.
func NewBackend(ctx context.Context, opts Options) (Backend, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for provider: %s", opts.Provider)
	}
	switch strings.ToLower(opts.Provider) {
	case "gemini":
		return NewGemini(ctx, opts)
	case "openai":
		return NewOpenAI(opts), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", opts.Provider)
	}
}

const promptTemplate = `Use the following pieces of context to answer the question at the end. Answer using only the information in the context. If the context does not contain the answer, say that you don't know; don't try to make up an answer.

%s

Question: %s
Helpful Answer:`

// buildPrompt stuffs every excerpt into a single prompt, in the order given.
func buildPrompt(question string, excerpts []string) string {
	return fmt.Sprintf(promptTemplate, strings.Join(excerpts, "\n\n"), question)
}

// ==========================================
// Gemini
// ==========================================

type Gemini struct {
	client     *genai.Client
	chat       *genai.GenerativeModel
	docEmbed   *genai.EmbeddingModel
	queryEmbed *genai.EmbeddingModel
}

func NewGemini(ctx context.Context, opts Options) (*Gemini, error) {
	clientOpts := append([]option.ClientOption{option.WithAPIKey(opts.APIKey)}, opts.ClientOptions...)
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	chatModel := opts.ChatModel
	if chatModel == "" {
		chatModel = DefaultGeminiChatModel
	}
	embedModel := opts.EmbeddingModel
	if embedModel == "" {
		embedModel = DefaultGeminiEmbeddingModel
	}

	chat := client.GenerativeModel(chatModel)
	chat.SetTemperature(opts.Temperature)

	docEmbed := client.EmbeddingModel(embedModel)
	docEmbed.TaskType = genai.TaskTypeRetrievalDocument
	queryEmbed := client.EmbeddingModel(embedModel)
	queryEmbed.TaskType = genai.TaskTypeRetrievalQuery

	return &Gemini{
		client:     client,
		chat:       chat,
		docEmbed:   docEmbed,
		queryEmbed: queryEmbed,
	}, nil
}

func (g *Gemini) AnswerQuestion(ctx context.Context, question string, excerpts []string) (string, error) {
	resp, err := g.chat.GenerateContent(ctx, genai.Text(buildPrompt(question, excerpts)))
	if err != nil {
		return "", fmt.Errorf("%w: gemini: %v", ErrGeneration, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: gemini returned no candidates", ErrGeneration)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	answer := strings.TrimSpace(sb.String())
	if answer == "" {
		return "", fmt.Errorf("%w: gemini returned an empty answer", ErrGeneration)
	}
	return answer, nil
}

func (g *Gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiMaxBatch {
		end := start + geminiMaxBatch
		if end > len(texts) {
			end = len(texts)
		}

		batch := g.docEmbed.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}
		resp, err := g.docEmbed.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: gemini: %v", errEmbedding, err)
		}
		for _, e := range resp.Embeddings {
			results = append(results, e.Values)
		}
	}
	if len(results) != len(texts) {
		return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d texts", errEmbedding, len(results), len(texts))
	}
	return results, nil
}

func (g *Gemini) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.queryEmbed.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: %v", errEmbedding, err)
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("%w: gemini returned no embedding", errEmbedding)
	}
	return resp.Embedding.Values, nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

// ==========================================
// OpenAI
// ==========================================

type OpenAI struct {
	client      *openai.Client
	chatModel   string
	embedModel  string
	temperature float32
}

func NewOpenAI(opts Options) *OpenAI {
	chatModel := opts.ChatModel
	if chatModel == "" {
		chatModel = DefaultOpenAIChatModel
	}
	embedModel := opts.EmbeddingModel
	if embedModel == "" {
		embedModel = DefaultOpenAIEmbeddingModel
	}
	config := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(config),
		chatModel:   chatModel,
		embedModel:  embedModel,
		temperature: opts.Temperature,
	}
}

func (p *OpenAI) AnswerQuestion(ctx context.Context, question string, excerpts []string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(question, excerpts)},
		},
		Temperature: p.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai: %v", ErrGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai empty response", ErrGeneration)
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", fmt.Errorf("%w: openai returned an empty answer", ErrGeneration)
	}
	return answer, nil
}

func (p *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %v", errEmbedding, err)
	}

	results := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(results) {
			return nil, fmt.Errorf("%w: openai returned out-of-range index %d", errEmbedding, d.Index)
		}
		results[d.Index] = d.Embedding
	}
	for i, r := range results {
		if r == nil {
			return nil, fmt.Errorf("%w: openai returned no embedding for input %d", errEmbedding, i)
		}
	}
	return results, nil
}

func (p *OpenAI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *OpenAI) Close() error { return nil }
