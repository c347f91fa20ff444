package ranker

import (
	"fmt"

	"github.com/agenthands/medrag/internal/core/model"
)

// Weights are the coefficients of the scoring formula. They are rescaled to
// sum to one before use.
type Weights struct {
	EdgeWeight    float64 `toml:"edge_weight" json:"edge_weight"`
	TextRelevance float64 `toml:"text_relevance" json:"text_relevance"`
	Importance    float64 `toml:"importance" json:"importance"`
	Popularity    float64 `toml:"popularity" json:"popularity"`
}

func DefaultWeights() Weights {
	return Weights{EdgeWeight: 0.4, TextRelevance: 0.3, Importance: 0.2, Popularity: 0.1}
}

func (w Weights) IsZero() bool {
	return w == Weights{}
}

// Normalize rejects negative coefficients and an all-zero vector.
func (w Weights) Normalize() (Weights, error) {
	for name, v := range map[string]float64{
		"edge_weight":    w.EdgeWeight,
		"text_relevance": w.TextRelevance,
		"importance":     w.Importance,
		"popularity":     w.Popularity,
	} {
		if v < 0 {
			return Weights{}, fmt.Errorf("%w: %s is negative (%g)", model.ErrInvalidWeights, name, v)
		}
	}
	sum := w.EdgeWeight + w.TextRelevance + w.Importance + w.Popularity
	if sum == 0 {
		return Weights{}, fmt.Errorf("%w: all coefficients are zero", model.ErrInvalidWeights)
	}
	return Weights{
		EdgeWeight:    w.EdgeWeight / sum,
		TextRelevance: w.TextRelevance / sum,
		Importance:    w.Importance / sum,
		Popularity:    w.Popularity / sum,
	}, nil
}

func (w Weights) score(t model.ScoreTerms) float64 {
	return w.EdgeWeight*t.EdgeWeight +
		w.TextRelevance*t.TextRelevance +
		w.Importance*t.Importance +
		w.Popularity*t.Popularity
}
