package citation

import (
	"sort"
	"unicode"

	"github.com/agenthands/medrag/internal/core/model"
)

type entry struct {
	item  model.ContextItem
	runes []rune
}

// Extractor finds mentions of context entities in generated text.
type Extractor struct {
	byFirst map[rune][]entry
}

// New indexes the given items by the first rune of their lowercased name.
// When two items share a name the higher scored one wins, then the lower id.
func New(items []model.ContextItem) *Extractor {
	best := make(map[string]model.ContextItem)
	for _, it := range items {
		if it.Name == "" {
			continue
		}
		key := string(lower([]rune(it.Name)))
		cur, ok := best[key]
		if !ok || it.Score > cur.Score || (it.Score == cur.Score && it.ID < cur.ID) {
			best[key] = it
		}
	}

	e := &Extractor{byFirst: make(map[rune][]entry)}
	for key, it := range best {
		r := []rune(key)
		e.byFirst[r[0]] = append(e.byFirst[r[0]], entry{item: it, runes: r})
	}
	for first, list := range e.byFirst {
		sort.Slice(list, func(i, j int) bool {
			if len(list[i].runes) != len(list[j].runes) {
				return len(list[i].runes) > len(list[j].runes)
			}
			return list[i].item.ID < list[j].item.ID
		})
		e.byFirst[first] = list
	}
	return e
}

// FromContext builds an extractor over every item of an assembled context.
func FromContext(c *model.RankedContext) *Extractor {
	if c == nil {
		return New(nil)
	}
	return New(c.Items())
}

// Extract scans text left to right taking the longest name at each position.
// Matches never overlap. Citations are ordered by first mention and carry
// every span, in rune offsets, where the entity occurs.
func (e *Extractor) Extract(text string) []model.Citation {
	raw := []rune(text)
	low := lower(raw)

	index := make(map[string]int)
	var out []model.Citation

	for i := 0; i < len(low); {
		m, ok := e.matchAt(low, i)
		if !ok {
			i++
			continue
		}
		end := i + len(m.runes)
		span := model.Span{Start: i, End: end, Text: string(raw[i:end])}
		if pos, seen := index[m.item.ID]; seen {
			out[pos].Spans = append(out[pos].Spans, span)
		} else {
			index[m.item.ID] = len(out)
			out = append(out, model.Citation{
				EntityID: m.item.ID,
				Kind:     m.item.Kind,
				Name:     m.item.Name,
				Spans:    []model.Span{span},
			})
		}
		i = end
	}
	return out
}

func (e *Extractor) matchAt(text []rune, i int) (entry, bool) {
	for _, cand := range e.byFirst[text[i]] {
		if i+len(cand.runes) > len(text) {
			continue
		}
		if equal(text[i:i+len(cand.runes)], cand.runes) {
			return cand, true
		}
	}
	return entry{}, false
}

func equal(a, b []rune) bool {
	for k := range b {
		if a[k] != b[k] {
			return false
		}
	}
	return true
}

func lower(r []rune) []rune {
	out := make([]rune, len(r))
	for i, c := range r {
		out[i] = unicode.ToLower(c)
	}
	return out
}
