package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pdfqa/internal/chunker"
	"pdfqa/internal/llm"
	"pdfqa/internal/vectorstore"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreWeaviate = "weaviate"
	StoreMemory   = "memory"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// DefaultCORSOrigins are the front-ends allowed to call the API.
var DefaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"https://pdf-query-frontend.vercel.app",
}

type Config struct {
	LLMProvider    string  `mapstructure:"llm_provider"`
	GoogleAPIKey   string  `mapstructure:"google_api_key"`
	OpenAIAPIKey   string  `mapstructure:"openai_api_key"`
	ChatModel      string  `mapstructure:"chat_model"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	Temperature    float32 `mapstructure:"llm_temperature"`

	VectorStore    string `mapstructure:"vector_store"`
	VectorDBToken  string `mapstructure:"vector_db_application_token"`
	VectorDBID     string `mapstructure:"vector_db_id"`
	TableName      string `mapstructure:"vector_db_table_name"`
	WriteBatchSize int    `mapstructure:"write_batch_size"`

	ChunkSize      int    `mapstructure:"chunk_size"`
	ChunkOverlap   int    `mapstructure:"chunk_overlap"`
	ChunkSeparator string `mapstructure:"chunk_separator"`
	TopK           int    `mapstructure:"retrieval_top_k"`

	Port               string   `mapstructure:"port"`
	MaxUploadBytes     int64    `mapstructure:"max_upload_bytes"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
	KeepAliveTimeout  time.Duration `mapstructure:"keep_alive_timeout"`
	RenderExternalURL string        `mapstructure:"render_external_url"`

	LogFormat string `mapstructure:"log_format"`
}

var defaults = map[string]interface{}{
	"llm_provider":         ProviderGemini,
	"llm_temperature":      llm.DefaultTemperature,
	"vector_store":         StoreWeaviate,
	"vector_db_table_name": "PdfQaDocuments",
	"write_batch_size":     vectorstore.DefaultBatchSize,
	"chunk_size":           chunker.DefaultSize,
	"chunk_overlap":        chunker.DefaultOverlap,
	"chunk_separator":      chunker.DefaultSeparator,
	"retrieval_top_k":      3,
	"port":                 "8000",
	"max_upload_bytes":     int64(50 << 20),
	"cors_allowed_origins": DefaultCORSOrigins,
	"keep_alive_interval":  14 * time.Minute,
	"keep_alive_timeout":   30 * time.Second,
	"log_format":           "json",
}

var envKeys = []string{
	"llm_provider", "google_api_key", "openai_api_key", "chat_model", "embedding_model", "llm_temperature",
	"vector_store", "vector_db_application_token", "vector_db_id", "vector_db_table_name", "write_batch_size",
	"chunk_size", "chunk_overlap", "chunk_separator", "retrieval_top_k",
	"port", "max_upload_bytes", "cors_allowed_origins",
	"keep_alive_interval", "keep_alive_timeout", "render_external_url",
	"log_format",
}

// Load reads an optional .env file, the environment, and an optional YAML
// config file. Environment variables take precedence over the file.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range envKeys {
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return nil, fmt.Errorf("error binding env %s: %w", k, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	cfg.VectorStore = strings.ToLower(strings.TrimSpace(cfg.VectorStore))
	cfg.ChunkSeparator = unescape(cfg.ChunkSeparator)
	cfg.CORSAllowedOrigins = splitOrigins(cfg.CORSAllowedOrigins)
	return &cfg, nil
}

// Validate reports every missing or invalid setting in one error.
func (c *Config) Validate() error {
	var missing, invalid []string

	switch c.LLMProvider {
	case ProviderGemini:
		if c.GoogleAPIKey == "" {
			missing = append(missing, "GOOGLE_API_KEY")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	default:
		invalid = append(invalid, fmt.Sprintf("LLM_PROVIDER=%q (want gemini or openai)", c.LLMProvider))
	}

	switch c.VectorStore {
	case StoreWeaviate:
		if c.VectorDBToken == "" {
			missing = append(missing, "VECTOR_DB_APPLICATION_TOKEN")
		}
		if c.VectorDBID == "" {
			missing = append(missing, "VECTOR_DB_ID")
		}
	case StoreMemory:
	default:
		invalid = append(invalid, fmt.Sprintf("VECTOR_STORE=%q (want weaviate or memory)", c.VectorStore))
	}

	if err := c.ChunkOptions().Validate(); err != nil {
		invalid = append(invalid, err.Error())
	}
	if c.TopK <= 0 {
		invalid = append(invalid, "RETRIEVAL_TOP_K must be positive")
	}
	if c.WriteBatchSize <= 0 {
		invalid = append(invalid, "WRITE_BATCH_SIZE must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		invalid = append(invalid, "MAX_UPLOAD_BYTES must be positive")
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", ")))
	}
	if len(invalid) > 0 {
		errs = append(errs, fmt.Errorf("invalid configuration: %s", strings.Join(invalid, "; ")))
	}
	return errors.Join(errs...)
}

func (c *Config) ChunkOptions() chunker.Options {
	return chunker.Options{Size: c.ChunkSize, Overlap: c.ChunkOverlap, Separator: c.ChunkSeparator}
}

func (c *Config) LLMOptions() llm.Options {
	key := c.GoogleAPIKey
	if c.LLMProvider == ProviderOpenAI {
		key = c.OpenAIAPIKey
	}
	return llm.Options{
		Provider:       c.LLMProvider,
		APIKey:         key,
		ChatModel:      c.ChatModel,
		EmbeddingModel: c.EmbeddingModel,
		Temperature:    c.Temperature,
	}
}

func (c *Config) WeaviateConfig() vectorstore.WeaviateConfig {
	return vectorstore.WeaviateConfig{
		URL:       c.VectorDBID,
		APIKey:    c.VectorDBToken,
		ClassName: c.TableName,
		BatchSize: c.WriteBatchSize,
	}
}

// unescape lets CHUNK_SEPARATOR be written as a literal "\n" in env files.
func unescape(s string) string {
	return strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r").Replace(s)
}

func splitOrigins(in []string) []string {
	var out []string
	for _, o := range in {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
