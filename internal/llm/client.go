package llm

import (
	"context"
)

type GenerateOptions struct {
	MaxTokens   int
	Temperature float32
}

type LLMClient interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

type EmbedderClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by embedders that accept several inputs per call.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedAll embeds texts in batches when the client supports it and one by one otherwise.
func EmbedAll(ctx context.Context, e EmbedderClient, texts []string, batchSize int) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	if b, ok := e.(BatchEmbedder); ok && batchSize > 1 {
		for start := 0; start < len(texts); start += batchSize {
			end := min(start+batchSize, len(texts))
			vecs, err := b.EmbedBatch(ctx, texts[start:end])
			if err != nil {
				return nil, err
			}
			out = append(out, vecs...)
		}
		return out, nil
	}
	for _, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
