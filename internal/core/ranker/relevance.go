package ranker

import (
	"strings"

	"github.com/spf13/cast"

	"github.com/agenthands/medrag/internal/core/lexicon"
	"github.com/agenthands/medrag/internal/core/model"
)

const defaultImportance = 0.5

// bigrams returns the set of adjacent rune pairs of s with spaces removed.
// Strings of a single rune yield that rune.
func bigrams(s string) map[string]bool {
	runes := []rune(strings.ReplaceAll(s, " ", ""))
	set := make(map[string]bool)
	if len(runes) == 1 {
		set[string(runes)] = true
		return set
	}
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = true
	}
	return set
}

// coverage is the share of a's elements found in b.
func coverage(a, b map[string]bool) float64 {
	if len(a) == 0 {
		return 0
	}
	hit := 0
	for k := range a {
		if b[k] {
			hit++
		}
	}
	return float64(hit) / float64(len(a))
}

// TextRelevance scores lexical overlap between the question and a node.
// The name contributes 0.7 and the description 0.3; without a description the
// name carries the whole score.
func TextRelevance(question string, node model.GraphNode) float64 {
	q := lexicon.Normalize(question)
	name := lexicon.Normalize(node.Name)
	if q == "" || name == "" {
		return 0
	}
	qGrams := bigrams(q)

	nameScore := 1.0
	if !strings.Contains(q, name) {
		nameScore = coverage(bigrams(name), qGrams)
	}

	desc := lexicon.Normalize(node.Description())
	if desc == "" {
		return nameScore
	}
	return 0.7*nameScore + 0.3*coverage(qGrams, bigrams(desc))
}

// Importance reads the "importance" attribute, clamped to [0,1].
func Importance(node model.GraphNode) float64 {
	raw, ok := node.Attributes["importance"]
	if !ok || raw == nil {
		return defaultImportance
	}
	v, err := cast.ToFloat64E(raw)
	if err != nil {
		return defaultImportance
	}
	return clamp(v)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
