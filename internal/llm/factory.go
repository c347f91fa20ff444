package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agenthands/medrag/internal/config"
)

// NewClient builds the generation client and, when the provider offers one,
// the embedder. The embedder is nil for providers without embeddings.
func NewClient(ctx context.Context, cfg config.LLMConfig) (LLMClient, EmbedderClient, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, nil, fmt.Errorf("openai provider requires an api key")
		}
		c := NewOpenAIClient(provider, cfg.APIKey, cfg.Model, cfg.EmbeddingModel, cfg.BaseURL)
		return c, c, nil

	case "deepseek":
		if cfg.APIKey == "" {
			return nil, nil, fmt.Errorf("deepseek provider requires an api key")
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.deepseek.com"
		}
		c := NewOpenAIClient(provider, cfg.APIKey, cfg.Model, cfg.EmbeddingModel, baseURL)
		if cfg.EmbeddingModel == "" {
			return c, nil, nil
		}
		return c, c, nil

	case "gemini":
		c, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.EmbeddingModel)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil

	case "claude":
		c := NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
		return c, nil, nil

	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = fmt.Sprintf("%s/v1", strings.TrimRight(baseURL, "/"))
		}
		slog.Info("Initializing Ollama via OpenAI-compatible API", "base_url", baseURL)

		// Ollama ignores the key but the client requires one.
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}
		c := NewOpenAIClient(provider, apiKey, cfg.Model, cfg.EmbeddingModel, baseURL)
		if cfg.EmbeddingModel == "" {
			return c, nil, nil
		}
		return c, c, nil

	default:
		return nil, nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}
