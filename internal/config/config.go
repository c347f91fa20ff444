package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/samber/oops"

	"github.com/agenthands/medrag/internal/core/assembler"
	"github.com/agenthands/medrag/internal/core/linker"
	"github.com/agenthands/medrag/internal/core/ranker"
	"github.com/agenthands/medrag/internal/core/retriever"
)

// Duration reads Go duration strings such as "250ms" from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type LLMConfig struct {
	Provider       string `toml:"provider" validate:"oneof=openai deepseek ollama claude gemini"`
	Model          string `toml:"model" validate:"required"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	// ExtractEntities asks the model for candidate entity names before linking.
	ExtractEntities bool `toml:"extract_entities"`
}

type StoreConfig struct {
	// Backend selects the graph store: "neo4j" (also used for Memgraph) or "memory".
	Backend string `toml:"backend" validate:"oneof=neo4j memory"`
	// Fixture is a JSON graph loaded into the memory backend.
	Fixture string `toml:"fixture" validate:"required_if=Backend memory"`
}

type Neo4jConfig struct {
	URI             string   `toml:"uri" validate:"required"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	Database        string   `toml:"database"`
	Dialect         string   `toml:"dialect" validate:"oneof=neo4j memgraph"`
	MaxAttempts     int      `toml:"max_attempts" validate:"gte=1,lte=10"`
	InitialInterval Duration `toml:"initial_interval"`
	MaxInterval     Duration `toml:"max_interval"`
}

type PostgresConfig struct {
	// URL enables the embedding store when set.
	URL        string `toml:"url"`
	Dimensions int    `toml:"dimensions" validate:"gte=0"`
}

type AMQPConfig struct {
	// URL enables reindex events when set.
	URL        string `toml:"url"`
	Exchange   string `toml:"exchange"`
	Queue      string `toml:"queue"`
	RoutingKey string `toml:"routing_key"`
}

type RefreshConfig struct {
	// Interval rebuilds the lexicon periodically. Zero disables the ticker.
	Interval Duration `toml:"interval"`
}

type CacheConfig struct {
	Shards   int      `toml:"shards" validate:"gte=1"`
	Capacity int      `toml:"capacity" validate:"gte=1"`
	TTL      Duration `toml:"ttl"`
}

type GenerationConfig struct {
	MaxTokens   int      `toml:"max_tokens" validate:"gt=0"`
	Temperature float32  `toml:"temperature" validate:"gte=0,lte=2"`
	Timeout     Duration `toml:"timeout"`
	// MaxPromptTokens trims the context text when the prompt grows past it. Zero disables it.
	MaxPromptTokens int    `toml:"max_prompt_tokens" validate:"gte=0"`
	Encoding        string `toml:"encoding"`
}

type ServerConfig struct {
	Port          int      `toml:"port" validate:"gt=0,lte=65535"`
	QueryDeadline Duration `toml:"query_deadline"`
}

type LogConfig struct {
	Level string `toml:"level" validate:"oneof=debug info warn error"`
	// File receives JSON logs in addition to the console when set.
	File string `toml:"file"`
}

type Config struct {
	LLM        LLMConfig         `toml:"llm"`
	Store      StoreConfig       `toml:"store"`
	Neo4j      Neo4jConfig       `toml:"neo4j"`
	Postgres   PostgresConfig    `toml:"postgres"`
	AMQP       AMQPConfig        `toml:"amqp"`
	Refresh    RefreshConfig     `toml:"refresh"`
	Retrieval  retriever.Options `toml:"retrieval"`
	Linking    linker.Config     `toml:"linking"`
	Ranking    ranker.Weights    `toml:"ranking"`
	Context    assembler.Options `toml:"context"`
	Cache      CacheConfig       `toml:"cache"`
	Generation GenerationConfig  `toml:"generation"`
	Server     ServerConfig      `toml:"server"`
	Log        LogConfig         `toml:"log"`
}

func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "deepseek",
			Model:    "deepseek-chat",
			BaseURL:  "https://api.deepseek.com",
		},
		Store: StoreConfig{Backend: "neo4j"},
		Neo4j: Neo4jConfig{
			URI:             "bolt://localhost:7687",
			User:            "neo4j",
			Dialect:         "neo4j",
			MaxAttempts:     3,
			InitialInterval: Duration{100 * time.Millisecond},
			MaxInterval:     Duration{time.Second},
		},
		Postgres: PostgresConfig{Dimensions: 1536},
		AMQP: AMQPConfig{
			Exchange:   "medrag.graph",
			Queue:      "medrag.reindex",
			RoutingKey: "graph.updated",
		},
		Retrieval: retriever.DefaultOptions(),
		Linking:   linker.DefaultConfig(),
		Ranking:   ranker.DefaultWeights(),
		Context:   assembler.DefaultOptions(),
		Cache:     CacheConfig{Shards: 16, Capacity: 1024},
		Generation: GenerationConfig{
			MaxTokens:   1024,
			Temperature: 0.7,
			Timeout:     Duration{60 * time.Second},
			Encoding:    "o200k_base",
		},
		Server: ServerConfig{Port: 8080, QueryDeadline: Duration{10 * time.Second}},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads .env, then the TOML file at path over the defaults, then applies
// environment overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, oops.In("config").Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, oops.In("config").With("path", path).Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, oops.In("config").With("path", path).Errorf("failed to parse TOML: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return oops.In("config").Errorf("failed to validate config: %w", err)
	}
	if _, err := c.Ranking.Normalize(); err != nil {
		return oops.In("config").Errorf("invalid ranking weights: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Neo4j.URI, "NEO4J_URI")
	setString(&c.Neo4j.User, "NEO4J_USER")
	setString(&c.Neo4j.Password, "NEO4J_PASSWORD")
	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.LLM.EmbeddingModel, "LLM_EMBEDDING_MODEL")
	setString(&c.LLM.BaseURL, "LLM_BASE_URL")
	setString(&c.LLM.APIKey, "LLM_API_KEY")
	if c.LLM.APIKey == "" && c.LLM.Provider == "deepseek" {
		setString(&c.LLM.APIKey, "DEEPSEEK_API_KEY")
	}
	setString(&c.Postgres.URL, "DATABASE_URL")
	setString(&c.AMQP.URL, "AMQP_URL")

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return oops.In("config").With("PORT", v).Errorf("invalid PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
