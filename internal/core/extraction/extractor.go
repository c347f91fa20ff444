package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agenthands/medrag/internal/core/common"
	"github.com/agenthands/medrag/internal/core/model"
	"github.com/agenthands/medrag/internal/llm"
	"github.com/agenthands/medrag/internal/prompt"
)

// Candidate is an entity name proposed by the model. Span offsets are -1 when
// the name does not occur verbatim in the question, which happens when the
// model rewrites a colloquial term into its standard form.
type Candidate struct {
	Span       model.Span
	Kind       model.Kind
	Confidence float64
}

type Extractor struct {
	LLM     llm.LLMClient
	Options llm.GenerateOptions
	logger  *slog.Logger
}

func NewExtractor(llmClient llm.LLMClient, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		LLM:     llmClient,
		Options: llm.GenerateOptions{MaxTokens: 512, Temperature: 0},
		logger:  logger.With("component", "extractor"),
	}
}

// Extract asks the model for the medical entities of question and locates
// each one in it. Unknown types leave Kind empty.
func (e *Extractor) Extract(ctx context.Context, question string) ([]Candidate, error) {
	response, err := e.LLM.Generate(ctx, prompt.Entities(question), e.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to generate entities: %w", err)
	}

	result, err := common.ParseJSON[model.ExtractedEntities](response)
	if err != nil {
		return nil, fmt.Errorf("failed to extract entities: %w", err)
	}

	runes := []rune(question)
	seen := make(map[string]bool)
	var out []Candidate
	for _, ent := range result.Entities {
		name := strings.TrimSpace(ent.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		kind, err := model.ParseKind(ent.Type)
		if err != nil {
			e.logger.Debug("ignoring entity type", "name", name, "type", ent.Type)
			kind = ""
		}
		conf := ent.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.8
		}
		out = append(out, Candidate{Span: locate(runes, name), Kind: kind, Confidence: conf})
	}
	return out, nil
}

func locate(question []rune, name string) model.Span {
	target := []rune(name)
	for i := 0; i+len(target) <= len(question); i++ {
		if string(question[i:i+len(target)]) == name {
			return model.Span{Start: i, End: i + len(target), Text: name}
		}
	}
	return model.Span{Start: -1, End: -1, Text: name}
}

// Spans returns the spans of the candidates, grouped by kind. Candidates
// without a kind are keyed by the empty Kind.
func Spans(candidates []Candidate) map[model.Kind][]model.Span {
	out := make(map[model.Kind][]model.Span)
	for _, c := range candidates {
		out[c.Kind] = append(out[c.Kind], c.Span)
	}
	return out
}
