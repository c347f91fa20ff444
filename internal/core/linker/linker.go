package linker

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/agnivade/levenshtein"
	"github.com/elliotchance/pie/v2"

	"github.com/agenthands/medrag/internal/core/common"
	"github.com/agenthands/medrag/internal/core/lexicon"
	"github.com/agenthands/medrag/internal/core/model"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	// FuzzyThreshold is the largest accepted edit distance relative to the
	// longer of the two strings.
	FuzzyThreshold float64 `toml:"fuzzy_threshold" validate:"gte=0,lt=1"`
	// VectorThreshold is the smallest accepted cosine similarity.
	VectorThreshold float64 `toml:"vector_threshold" validate:"gte=0,lte=1"`
	// Epsilon keeps every candidate within this distance of a span's best
	// confidence as a parallel seed.
	Epsilon        float64 `toml:"epsilon" validate:"gte=0,lt=1"`
	MaxSpanRunes   int     `toml:"max_span_runes" validate:"gte=2"`
	MaxVectorSpans int     `toml:"max_vector_spans" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		FuzzyThreshold:  0.2,
		VectorThreshold: 0.75,
		Epsilon:         0.02,
		MaxSpanRunes:    8,
		MaxVectorSpans:  8,
	}
}

// Result carries linked entities and any soft failures met on the way.
type Result struct {
	Entities    []model.LinkedEntity
	Diagnostics []model.Diagnostic
}

type Linker struct {
	lexicon  *lexicon.Holder
	embedder Embedder
	cfg      Config
	logger   *slog.Logger
}

// New creates a Linker. embedder may be nil, which disables vector matching.
func New(holder *lexicon.Holder, embedder Embedder, cfg Config, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{
		lexicon:  holder,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With("component", "linker"),
	}
}

func (l *Linker) Config() Config { return l.cfg }

// Link resolves externally produced spans. Spans that match nothing are dropped.
// The only error is ctx expiring before any entity was linked.
func (l *Linker) Link(ctx context.Context, spans []model.Span, hints ...model.Kind) (*Result, error) {
	return l.LinkSpans(ctx, spans, nil, hints...)
}

// LinkSpans is Link with per-call thresholds. A nil cfg uses the linker's own.
func (l *Linker) LinkSpans(ctx context.Context, spans []model.Span, cfg *Config, hints ...model.Kind) (*Result, error) {
	c := l.cfg
	if cfg != nil {
		c = *cfg
	}
	return l.link(ctx, l.lexicon.Load(), spans, hints, c, c.MaxVectorSpans)
}

// Merge combines results, keeping the most confident link per node.
func Merge(results ...*Result) *Result {
	out := &Result{}
	best := make(map[string]model.LinkedEntity)
	for _, r := range results {
		if r == nil {
			continue
		}
		out.Diagnostics = append(out.Diagnostics, r.Diagnostics...)
		for _, e := range r.Entities {
			if prev, ok := best[e.NodeID]; !ok || e.Confidence > prev.Confidence {
				best[e.NodeID] = e
			}
		}
	}
	out.Entities = pie.Values(best)
	sortEntities(out.Entities)
	return out
}

// LinkQuestion derives candidate spans from the question itself. Sub-spans of
// a longer linked span are discarded, and vector matching is only attempted on
// whole segments when nothing links lexically.
func (l *Linker) LinkQuestion(ctx context.Context, question string, cfg *Config, hints ...model.Kind) (*Result, error) {
	c := l.cfg
	if cfg != nil {
		c = *cfg
	}
	ix := l.lexicon.Load()

	res, err := l.link(ctx, ix, CandidateSpans(question, c.MaxSpanRunes), hints, c, 0)
	if err != nil {
		return nil, err
	}
	res.Entities = suppressNested(res.Entities)
	if len(res.Entities) > 0 {
		return res, nil
	}

	vec, err := l.link(ctx, ix, Segments(question), hints, c, c.MaxVectorSpans)
	if err != nil {
		return nil, err
	}
	vec.Diagnostics = append(res.Diagnostics, vec.Diagnostics...)
	return vec, nil
}

func (l *Linker) link(ctx context.Context, ix *lexicon.Index, spans []model.Span, hints []model.Kind, cfg Config, vectorBudget int) (*Result, error) {
	res := &Result{}
	best := make(map[string]model.LinkedEntity)

	for _, span := range spans {
		if err := ctx.Err(); err != nil {
			if len(best) == 0 {
				return nil, model.NewStageError(model.StageLinking, err)
			}
			res.Diagnostics = append(res.Diagnostics, model.DiagnosticFor(model.StageLinking, err))
			break
		}

		candidates := l.exact(ix, span, hints)
		if len(candidates) == 0 {
			candidates = l.fuzzy(ix, span, hints, cfg.FuzzyThreshold)
		}
		if len(candidates) == 0 && vectorBudget > 0 && l.embedder != nil && ix.HasEmbeddings() {
			vectorBudget--
			var err error
			candidates, err = l.vector(ctx, ix, span, hints, cfg.VectorThreshold)
			if err != nil {
				l.logger.Warn("span embedding failed", "span", span.Text, "error", err)
				res.Diagnostics = append(res.Diagnostics, model.DiagnosticFor(model.StageLinking, err))
			}
		}

		for _, c := range disambiguate(candidates, cfg.Epsilon) {
			if prev, ok := best[c.NodeID]; !ok || c.Confidence > prev.Confidence {
				best[c.NodeID] = c
			}
		}
	}

	res.Entities = make([]model.LinkedEntity, 0, len(best))
	for _, e := range best {
		res.Entities = append(res.Entities, e)
	}
	sortEntities(res.Entities)
	l.logger.Debug("linked spans", "spans", len(spans), "entities", len(res.Entities))
	return res, nil
}

func (l *Linker) exact(ix *lexicon.Index, span model.Span, hints []model.Kind) []model.LinkedEntity {
	return pie.Map(ix.Lookup(span.Text, hints...), func(m lexicon.Match) model.LinkedEntity {
		return model.LinkedEntity{
			Span:       span,
			NodeID:     m.NodeID,
			Kind:       m.Kind,
			Name:       m.Name,
			Method:     model.MatchExact,
			Confidence: 1.0,
		}
	})
}

func (l *Linker) fuzzy(ix *lexicon.Index, span model.Span, hints []model.Kind, threshold float64) []model.LinkedEntity {
	normSpan := lexicon.Normalize(span.Text)
	n := len([]rune(normSpan))
	if n == 0 || threshold <= 0 {
		return nil
	}

	byNode := make(map[string]model.LinkedEntity)
	for _, e := range ix.Entries(hints...) {
		longer := max(n, e.Runes)
		// A single edit must already be within the threshold.
		if 1/float64(longer) > threshold {
			continue
		}
		// The distance is at least the length difference.
		if math.Abs(float64(n-e.Runes))/float64(longer) > threshold {
			continue
		}
		d := levenshtein.ComputeDistance(normSpan, e.Norm)
		ratio := float64(d) / float64(longer)
		if d == 0 || ratio > threshold {
			continue
		}
		conf := 1 - ratio
		if prev, ok := byNode[e.NodeID]; ok && prev.Confidence >= conf {
			continue
		}
		byNode[e.NodeID] = model.LinkedEntity{
			Span:       span,
			NodeID:     e.NodeID,
			Kind:       e.Kind,
			Name:       e.Name,
			Method:     model.MatchFuzzy,
			Confidence: conf,
		}
	}
	return pie.Values(byNode)
}

func (l *Linker) vector(ctx context.Context, ix *lexicon.Index, span model.Span, hints []model.Kind, threshold float64) ([]model.LinkedEntity, error) {
	q, err := l.embedder.Embed(ctx, span.Text)
	if err != nil {
		return nil, err
	}
	var out []model.LinkedEntity
	for _, id := range ix.EmbeddedIDs(hints...) {
		vec, _ := ix.Embedding(id)
		sim := common.Cosine(q, vec)
		if sim < threshold {
			continue
		}
		n, _ := ix.Node(id)
		out = append(out, model.LinkedEntity{
			Span:       span,
			NodeID:     id,
			Kind:       n.Kind,
			Name:       n.Name,
			Method:     model.MatchVector,
			Confidence: math.Min(sim, 1),
		})
	}
	return out, nil
}

// disambiguate keeps every candidate within epsilon of the best one.
func disambiguate(candidates []model.LinkedEntity, epsilon float64) []model.LinkedEntity {
	if len(candidates) <= 1 {
		return candidates
	}
	top := 0.0
	for _, c := range candidates {
		top = math.Max(top, c.Confidence)
	}
	return pie.Filter(candidates, func(c model.LinkedEntity) bool {
		return c.Confidence >= top-epsilon-1e-9
	})
}

// suppressNested drops entities whose span lies strictly inside the span of
// another entity with at least the same confidence.
func suppressNested(entities []model.LinkedEntity) []model.LinkedEntity {
	return pie.Filter(entities, func(e model.LinkedEntity) bool {
		for _, o := range entities {
			if o.NodeID == e.NodeID || o.Confidence < e.Confidence {
				continue
			}
			inside := o.Span.Start <= e.Span.Start && e.Span.End <= o.Span.End
			if inside && o.Span.Len() > e.Span.Len() {
				return false
			}
		}
		return true
	})
}

func sortEntities(entities []model.LinkedEntity) {
	sort.Slice(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.NodeID < b.NodeID
	})
}
