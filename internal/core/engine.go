package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/agenthands/medrag/internal/core/assembler"
	"github.com/agenthands/medrag/internal/core/cache"
	"github.com/agenthands/medrag/internal/core/citation"
	"github.com/agenthands/medrag/internal/core/extraction"
	"github.com/agenthands/medrag/internal/core/lexicon"
	"github.com/agenthands/medrag/internal/core/linker"
	"github.com/agenthands/medrag/internal/core/model"
	"github.com/agenthands/medrag/internal/core/ranker"
	"github.com/agenthands/medrag/internal/core/retriever"
	"github.com/agenthands/medrag/internal/driver"
	"github.com/agenthands/medrag/internal/llm"
	"github.com/agenthands/medrag/internal/prompt"
)

// PartialPenalty scales the confidence of answers built from a partial subgraph.
const PartialPenalty = 0.8

// Options are per-call overrides. Zero fields fall back to the engine settings.
type Options struct {
	MaxHops               int            `json:"max_hops,omitempty"`
	MaxResultsPerRelation int            `json:"max_results_per_relation,omitempty"`
	WeightThreshold       float64        `json:"weight_threshold,omitempty"`
	MaxContextBytes       int            `json:"max_context_bytes,omitempty"`
	Deadline              time.Duration  `json:"deadline,omitempty"`
	Weights               ranker.Weights `json:"weights,omitempty"`
	FuzzyThreshold        float64        `json:"fuzzy_threshold,omitempty"`
	VectorThreshold       float64        `json:"vector_threshold,omitempty"`
	Epsilon               float64        `json:"epsilon,omitempty"`
	KindHints             []model.Kind   `json:"kind_hints,omitempty"`
}

type Settings struct {
	Retrieval  retriever.Options
	Linking    linker.Config
	Weights    ranker.Weights
	Context    assembler.Options
	Cache      cache.Options
	Deadline   time.Duration
	Generation llm.GenerateOptions
	// GenerationTimeout bounds generation independently of the query deadline.
	GenerationTimeout time.Duration
	MaxPromptTokens   int
}

func DefaultSettings() Settings {
	return Settings{
		Retrieval:         retriever.DefaultOptions(),
		Linking:           linker.DefaultConfig(),
		Weights:           ranker.DefaultWeights(),
		Context:           assembler.DefaultOptions(),
		Cache:             cache.DefaultOptions(),
		Deadline:          10 * time.Second,
		Generation:        llm.GenerateOptions{MaxTokens: 1024, Temperature: 0.7},
		GenerationTimeout: 60 * time.Second,
	}
}

type Engine struct {
	Store     driver.GraphStore
	Lexicon   *lexicon.Holder
	Linker    *linker.Linker
	Retriever *retriever.Retriever
	Ranker    *ranker.Ranker
	Assembler *assembler.Assembler
	Cache     *cache.Cache
	LLM       llm.LLMClient
	Embedder  llm.EmbedderClient
	// Extractor, when set, proposes entity names before the built-in spans are tried.
	Extractor *extraction.Extractor
	// Tokens, when set with MaxPromptTokens, trims the prompt to fit.
	Tokens prompt.Counter

	settings Settings
	group    singleflight.Group
	logger   *slog.Logger
}

// NewEngine wires the retrieval pipeline. embedder may be nil.
func NewEngine(store driver.GraphStore, holder *lexicon.Holder, llmClient llm.LLMClient, embedder llm.EmbedderClient, settings Settings, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	var linkEmbedder linker.Embedder
	if embedder != nil {
		linkEmbedder = embedder
	}
	c := cache.New(settings.Cache)
	return &Engine{
		Store:     store,
		Lexicon:   holder,
		Linker:    linker.New(holder, linkEmbedder, settings.Linking, logger),
		Retriever: retriever.New(store, logger),
		Ranker:    ranker.New(c, logger),
		Assembler: assembler.New(logger),
		Cache:     c,
		LLM:       llmClient,
		Embedder:  embedder,
		settings:  settings,
		logger:    logger.With("component", "engine"),
	}
}

func (e *Engine) Settings() Settings { return e.settings }

type resolved struct {
	retrieval retriever.Options
	linking   linker.Config
	weights   ranker.Weights
	context   assembler.Options
	deadline  time.Duration
	hints     []model.Kind
	cacheable bool
}

func (e *Engine) resolve(o Options) (resolved, error) {
	s := e.settings
	r := resolved{
		retrieval: s.Retrieval,
		linking:   s.Linking,
		weights:   s.Weights,
		context:   s.Context,
		deadline:  s.Deadline,
		hints:     o.KindHints,
	}
	if o.MaxHops > 0 {
		r.retrieval.MaxHops = o.MaxHops
	}
	if o.MaxResultsPerRelation > 0 {
		r.retrieval.MaxResultsPerRelation = o.MaxResultsPerRelation
	}
	if o.WeightThreshold > 0 {
		r.retrieval.WeightThreshold = o.WeightThreshold
	}
	if o.MaxContextBytes > 0 {
		r.context.MaxContextBytes = o.MaxContextBytes
	}
	if o.Deadline > 0 {
		r.deadline = o.Deadline
	}
	if !o.Weights.IsZero() {
		r.weights = o.Weights
	}
	if o.FuzzyThreshold > 0 {
		r.linking.FuzzyThreshold = o.FuzzyThreshold
	}
	if o.VectorThreshold > 0 {
		r.linking.VectorThreshold = o.VectorThreshold
	}
	if o.Epsilon > 0 {
		r.linking.Epsilon = o.Epsilon
	}
	for _, k := range r.hints {
		if !k.Valid() {
			return r, model.NewStageError(model.StageLinking, fmt.Errorf("unknown kind hint %q", k))
		}
	}
	if _, err := r.weights.Normalize(); err != nil {
		return r, model.NewStageError(model.StageRanking, err)
	}
	// Cached contexts are only valid for the options they were built with.
	r.cacheable = r.retrieval == s.Retrieval && r.weights == s.Weights && r.context == s.Context
	return r, nil
}

// RetrieveAndAnswer runs the whole pipeline for one question. Recoverable
// failures are reported in Answer.Diagnostics. A non-nil error is always a
// *model.StageError; on generation failure the answer envelope, with its
// context, is returned alongside it.
func (e *Engine) RetrieveAndAnswer(ctx context.Context, question string, opts Options) (*model.Answer, error) {
	start := time.Now()
	ans := &model.Answer{QueryID: uuid.NewString(), Question: question}
	logger := e.logger.With("query_id", ans.QueryID)
	defer func() { ans.Elapsed = time.Since(start) }()

	o, err := e.resolve(opts)
	if err != nil {
		ans.Diagnostics = append(ans.Diagnostics, model.DiagnosticFor(model.StageLinking, err))
		return ans, err
	}

	queryCtx := ctx
	if o.deadline > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, o.deadline)
		defer cancel()
	}

	linked, err := e.link(queryCtx, question, o)
	if err != nil {
		ans.Diagnostics = append(ans.Diagnostics, model.DiagnosticFor(model.StageLinking, err))
		logger.Warn("linking failed", "stage", model.StageLinking, "error", err)
		return ans, err
	}
	linkCut := queryCtx.Err() != nil
	ans.Diagnostics = append(ans.Diagnostics, linked.Diagnostics...)
	ans.RelatedEntities = linked.Entities

	if len(linked.Entities) == 0 {
		ans.Answer = prompt.FallbackAnswer
		ans.Confidence = 0
		ans.Diagnostics = append(ans.Diagnostics, model.DiagnosticFor(model.StageLinking, model.ErrLinkingEmpty))
		logger.Info("no entities linked", "question", question)
		return ans, nil
	}

	built, err := e.contextFor(queryCtx, question, linked.Entities, o)
	if err != nil {
		ans.Diagnostics = append(ans.Diagnostics, model.DiagnosticFor(model.StageRetrieval, err))
		logger.Error("context assembly failed", "error", err)
		return ans, err
	}
	ans.Diagnostics = append(ans.Diagnostics, built.diagnostics...)
	ans.Context = built.context
	ans.CacheHit = built.hit
	ans.Partial = built.context.Partial || linkCut
	ans.Confidence = confidence(linked.Entities, ans.Partial)

	// Generation keeps its own budget even when the query deadline is spent.
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.generationTimeout())
	defer cancel()

	p, trimmed := prompt.Fit(question, built.context, e.Tokens, e.settings.MaxPromptTokens)
	if trimmed > 0 {
		logger.Debug("trimmed prompt context", "lines", trimmed)
	}
	text, err := e.LLM.Generate(genCtx, p, e.settings.Generation)
	if err != nil {
		gerr := model.NewStageError(model.StageGeneration, fmt.Errorf("%w (%s): %w", model.ErrGenerationFailed, llm.Code(err), err))
		ans.Diagnostics = append(ans.Diagnostics, gerr.Diagnostic())
		logger.Error("generation failed", "stage", model.StageGeneration, "error", err)
		return ans, gerr
	}
	ans.Answer = text
	ans.Citations = citation.FromContext(built.context).Extract(text)

	logger.Info("answered question",
		"seeds", len(linked.Entities),
		"context_items", built.context.Len(),
		"citations", len(ans.Citations),
		"cache_hit", ans.CacheHit,
		"partial", ans.Partial,
		"elapsed", time.Since(start),
	)
	return ans, nil
}

func (e *Engine) generationTimeout() time.Duration {
	if e.settings.GenerationTimeout > 0 {
		return e.settings.GenerationTimeout
	}
	return DefaultSettings().GenerationTimeout
}

// confidence is the mean seed confidence, reduced when the context is partial.
func confidence(seeds []model.LinkedEntity, partial bool) float64 {
	if len(seeds) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range seeds {
		sum += s.Confidence
	}
	c := sum / float64(len(seeds))
	if partial {
		c *= PartialPenalty
	}
	return c
}

// Link runs only the linking stage.
func (e *Engine) Link(ctx context.Context, question string, opts Options) (*linker.Result, error) {
	o, err := e.resolve(opts)
	if err != nil {
		return nil, err
	}
	if o.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.deadline)
		defer cancel()
	}
	return e.link(ctx, question, o)
}

func (e *Engine) link(ctx context.Context, question string, o resolved) (*linker.Result, error) {
	var extracted *linker.Result
	if e.Extractor != nil {
		res, err := e.linkExtracted(ctx, question, o)
		if err != nil {
			var se *model.StageError
			if errors.As(err, &se) {
				return nil, err
			}
			e.logger.Warn("entity extraction failed, using built-in spans", "error", err)
			extracted = &linker.Result{Diagnostics: []model.Diagnostic{model.DiagnosticFor(model.StageLinking, err)}}
		} else if len(res.Entities) > 0 {
			return res, nil
		} else {
			extracted = res
		}
	}

	res, err := e.Linker.LinkQuestion(ctx, question, &o.linking, o.hints...)
	if err != nil {
		return nil, err
	}
	return linker.Merge(extracted, res), nil
}

// linkExtracted links model-proposed names, each restricted to its proposed kind.
func (e *Engine) linkExtracted(ctx context.Context, question string, o resolved) (*linker.Result, error) {
	candidates, err := e.Extractor.Extract(ctx, question)
	if err != nil {
		return nil, err
	}
	var results []*linker.Result
	for kind, spans := range extraction.Spans(candidates) {
		hints := o.hints
		if kind != "" {
			if len(hints) > 0 && !containsKind(hints, kind) {
				continue
			}
			hints = []model.Kind{kind}
		}
		res, err := e.Linker.LinkSpans(ctx, spans, &o.linking, hints...)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return linker.Merge(results...), nil
}

func containsKind(kinds []model.Kind, k model.Kind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}

type builtContext struct {
	context     *model.RankedContext
	diagnostics []model.Diagnostic
	hit         bool
}

// contextFor serves the assembled context from the cache or builds it.
// Concurrent misses for the same key share one build.
func (e *Engine) contextFor(ctx context.Context, question string, seeds []model.LinkedEntity, o resolved) (*builtContext, error) {
	ix := e.Lexicon.Load()
	if !o.cacheable {
		return e.build(ctx, ix, question, seeds, o)
	}

	ids := make([]string, len(seeds))
	for i, s := range seeds {
		ids[i] = s.NodeID
	}
	key := cache.Key(ix.Generation(), question, ids)
	if entry, ok := e.Cache.Get(key); ok {
		e.Cache.Record(entry.Context)
		return &builtContext{context: entry.Context, hit: true}, nil
	}

	v, err, shared := e.group.Do(strconv.FormatUint(key, 16), func() (interface{}, error) {
		return e.buildAndStore(ctx, ix, key, question, seeds, o)
	})
	if shared && ctx.Err() == nil && cutShort(v, err) {
		// The shared build ran out of another caller's time.
		e.logger.Debug("shared build was cut short, rebuilding", "key", key)
		return e.buildAndStore(ctx, ix, key, question, seeds, o)
	}
	if err != nil {
		return nil, err
	}
	return v.(*builtContext), nil
}

func (e *Engine) buildAndStore(ctx context.Context, ix *lexicon.Index, key uint64, question string, seeds []model.LinkedEntity, o resolved) (*builtContext, error) {
	built, err := e.build(ctx, ix, question, seeds, o)
	if err != nil {
		return nil, err
	}
	if !built.context.Partial {
		e.Cache.Put(key, built.context)
	}
	return built, nil
}

// cutShort reports whether a build result reflects an expired deadline.
func cutShort(v interface{}, err error) bool {
	if err != nil {
		return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	}
	built, ok := v.(*builtContext)
	return ok && built.context.Partial
}

func (e *Engine) build(ctx context.Context, ix *lexicon.Index, question string, seeds []model.LinkedEntity, o resolved) (*builtContext, error) {
	out := &builtContext{}

	sg, err := e.Retriever.RetrieveFrom(ctx, ix, seeds, o.retrieval)
	if err != nil {
		return nil, err
	}
	if sg.Partial {
		out.diagnostics = append(out.diagnostics, model.Diagnostic{
			Stage:   model.StageRetrieval,
			Code:    "Partial",
			Message: "deadline reached during expansion, subgraph is partial",
		})
	}

	in := ranker.Input{Subgraph: sg, Question: question, Weights: o.weights}
	if e.Embedder != nil && ix.HasEmbeddings() {
		vec, err := e.Embedder.Embed(ctx, question)
		if err != nil {
			out.diagnostics = append(out.diagnostics, model.DiagnosticFor(model.StageRanking, err))
		} else {
			in.QuestionVector = vec
			in.Vectors = ix
		}
	}

	ranking, err := e.Ranker.Rank(in)
	if err != nil {
		return nil, err
	}

	rc, err := e.Assembler.Assemble(ranking, o.context)
	if err != nil {
		return nil, err
	}
	if rc.SeedsOverBudget {
		out.diagnostics = append(out.diagnostics, model.DiagnosticFor(model.StageAssembly, model.ErrBudgetExceeded))
	}
	e.Cache.Record(rc)
	out.context = rc
	return out, nil
}
