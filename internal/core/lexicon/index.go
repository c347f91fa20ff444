package lexicon

import (
	"sort"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/agenthands/medrag/internal/core/model"
)

// Match is a lexicon hit for a piece of text.
type Match struct {
	NodeID     string            `json:"node_id"`
	Kind       model.Kind        `json:"kind"`
	Name       string            `json:"name"`
	Method     model.MatchMethod `json:"method"`
	Confidence float64           `json:"confidence"`
}

// Entry is one searchable surface form of a node: its name or an alias.
type Entry struct {
	NodeID string
	Kind   model.Kind
	Name   string
	Norm   string
	Runes  int
}

type Option func(*buildOptions)

type buildOptions struct {
	embeddings map[string][]float32
	pinyin     bool
}

// WithEmbeddings attaches precomputed name embeddings keyed by node id.
func WithEmbeddings(vectors map[string][]float32) Option {
	return func(o *buildOptions) { o.embeddings = vectors }
}

// WithPinyin indexes the toneless pinyin of Han names as aliases.
func WithPinyin(enabled bool) Option {
	return func(o *buildOptions) { o.pinyin = enabled }
}

// Index is an immutable name index over one snapshot of the graph.
type Index struct {
	exact      map[model.Kind]map[string][]string
	normalized map[model.Kind]map[string][]string
	entries    map[model.Kind][]Entry
	nodes      map[string]model.GraphNode
	embeddings map[string][]float32
	builtAt    time.Time
	generation uint64
}

var generations atomic.Uint64

func Build(nodes []model.GraphNode, opts ...Option) *Index {
	o := buildOptions{pinyin: true}
	for _, opt := range opts {
		opt(&o)
	}

	ix := &Index{
		exact:      make(map[model.Kind]map[string][]string),
		normalized: make(map[model.Kind]map[string][]string),
		entries:    make(map[model.Kind][]Entry),
		nodes:      make(map[string]model.GraphNode, len(nodes)),
		embeddings: make(map[string][]float32),
		builtAt:    time.Now().UTC(),
		generation: generations.Add(1),
	}
	for _, k := range model.Kinds {
		ix.exact[k] = make(map[string][]string)
		ix.normalized[k] = make(map[string][]string)
	}

	for _, n := range nodes {
		if !n.Kind.Valid() || n.Name == "" {
			continue
		}
		if n.ID == "" {
			n.ID = model.NodeID(n.Kind, n.Name)
		}
		if _, dup := ix.nodes[n.ID]; dup {
			continue
		}
		ix.nodes[n.ID] = n

		forms := append([]string{n.Name}, n.Aliases()...)
		if o.pinyin {
			if py := Romanize(n.Name); py != "" {
				forms = append(forms, py)
			}
		}
		seen := make(map[string]bool, len(forms))
		for _, form := range forms {
			normForm := Normalize(form)
			if normForm == "" || seen[normForm] {
				continue
			}
			seen[normForm] = true
			ix.exact[n.Kind][form] = appendUnique(ix.exact[n.Kind][form], n.ID)
			ix.normalized[n.Kind][normForm] = appendUnique(ix.normalized[n.Kind][normForm], n.ID)
			ix.entries[n.Kind] = append(ix.entries[n.Kind], Entry{
				NodeID: n.ID,
				Kind:   n.Kind,
				Name:   n.Name,
				Norm:   normForm,
				Runes:  utf8.RuneCountInString(normForm),
			})
		}
	}

	for id, vec := range o.embeddings {
		if _, ok := ix.nodes[id]; ok && len(vec) > 0 {
			ix.embeddings[id] = vec
		}
	}

	for k := range ix.entries {
		entries := ix.entries[k]
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Runes != entries[j].Runes {
				return entries[i].Runes < entries[j].Runes
			}
			if entries[i].Norm != entries[j].Norm {
				return entries[i].Norm < entries[j].Norm
			}
			return entries[i].NodeID < entries[j].NodeID
		})
	}
	return ix
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func kindsOrAll(kinds []model.Kind) []model.Kind {
	if len(kinds) == 0 {
		return model.Kinds
	}
	return kinds
}

// Lookup resolves text against the raw names first and then the normalized
// forms. Both count as exact matches.
func (ix *Index) Lookup(text string, kinds ...model.Kind) []Match {
	var matches []Match
	seen := make(map[string]bool)
	add := func(ids []string) {
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			n := ix.nodes[id]
			matches = append(matches, Match{
				NodeID:     id,
				Kind:       n.Kind,
				Name:       n.Name,
				Method:     model.MatchExact,
				Confidence: 1.0,
			})
		}
	}

	kinds = kindsOrAll(kinds)
	for _, k := range kinds {
		add(ix.exact[k][text])
	}
	if len(matches) == 0 {
		normText := Normalize(text)
		if normText != "" {
			for _, k := range kinds {
				add(ix.normalized[k][normText])
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].NodeID < matches[j].NodeID })
	return matches
}

// Entries returns the searchable forms of the given kinds, shortest first.
// The returned slice must not be modified.
func (ix *Index) Entries(kinds ...model.Kind) []Entry {
	kinds = kindsOrAll(kinds)
	if len(kinds) == 1 {
		return ix.entries[kinds[0]]
	}
	var out []Entry
	for _, k := range kinds {
		out = append(out, ix.entries[k]...)
	}
	return out
}

func (ix *Index) Node(id string) (model.GraphNode, bool) {
	n, ok := ix.nodes[id]
	return n, ok
}

func (ix *Index) Embedding(id string) ([]float32, bool) {
	v, ok := ix.embeddings[id]
	return v, ok
}

func (ix *Index) HasEmbeddings() bool {
	return len(ix.embeddings) > 0
}

// EmbeddedIDs returns the ids with embeddings among kinds, ascending.
func (ix *Index) EmbeddedIDs(kinds ...model.Kind) []string {
	allowed := make(map[model.Kind]bool)
	for _, k := range kindsOrAll(kinds) {
		allowed[k] = true
	}
	ids := make([]string, 0, len(ix.embeddings))
	for id := range ix.embeddings {
		if allowed[ix.nodes[id].Kind] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (ix *Index) Size() int { return len(ix.nodes) }

func (ix *Index) BuiltAt() time.Time { return ix.builtAt }

// Generation identifies the snapshot. Every Build gets a new one.
func (ix *Index) Generation() uint64 { return ix.generation }

// Holder publishes the current Index. Readers always see a complete snapshot;
// a rebuild is installed with a single pointer swap.
type Holder struct {
	current atomic.Pointer[Index]
}

func NewHolder(ix *Index) *Holder {
	h := &Holder{}
	if ix == nil {
		ix = Build(nil)
	}
	h.current.Store(ix)
	return h
}

func (h *Holder) Load() *Index {
	return h.current.Load()
}

// Swap installs ix and returns the previous snapshot.
func (h *Holder) Swap(ix *Index) *Index {
	return h.current.Swap(ix)
}
