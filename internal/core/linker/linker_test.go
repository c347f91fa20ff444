package linker

import (
	"context"
	"errors"
	"testing"

	"github.com/agenthands/medrag/internal/core/lexicon"
	"github.com/agenthands/medrag/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockEmbedder struct {
	Vectors map[string][]float32
	Err     error
	Calls   int
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Vectors[text], nil
}

func newTestLinker(embedder Embedder, embeddings map[string][]float32) *Linker {
	nodes := []model.GraphNode{
		model.NewNode(model.KindSymptom, "头痛", nil),
		model.NewNode(model.KindSymptom, "发热", nil),
		model.NewNode(model.KindSymptom, "咳嗽", nil),
		model.NewNode(model.KindDisease, "咳嗽", nil),
		model.NewNode(model.KindDisease, "高血压", nil),
		model.NewNode(model.KindCheck, "血压", nil),
		model.NewNode(model.KindDisease, "急性支气管炎", nil),
		model.NewNode(model.KindDrug, "Aspirin", nil),
	}
	ix := lexicon.Build(nodes, lexicon.WithEmbeddings(embeddings), lexicon.WithPinyin(false))
	return New(lexicon.NewHolder(ix), embedder, DefaultConfig(), nil)
}

func span(text string, start int) model.Span {
	return model.Span{Start: start, End: start + len([]rune(text)), Text: text}
}

func TestLinkExact(t *testing.T) {
	l := newTestLinker(nil, nil)
	res, err := l.Link(context.Background(), []model.Span{span("头痛", 0), span("糖尿病", 3)})
	require.NoError(t, err)
	require.Len(t, res.Entities, 1, "unmatched span must be dropped")
	e := res.Entities[0]
	assert.Equal(t, "Symptom:头痛", e.NodeID)
	assert.Equal(t, model.MatchExact, e.Method)
	assert.Equal(t, 1.0, e.Confidence)
}

func TestLinkFuzzy(t *testing.T) {
	l := newTestLinker(nil, nil)

	res, err := l.Link(context.Background(), []model.Span{span("急性支气管癌", 0), span("aspirine", 7)})
	require.NoError(t, err)
	require.Len(t, res.Entities, 2)

	assert.Equal(t, "Disease:急性支气管炎", res.Entities[0].NodeID)
	assert.Equal(t, model.MatchFuzzy, res.Entities[0].Method)
	assert.InDelta(t, 1-1.0/6, res.Entities[0].Confidence, 1e-9)

	assert.Equal(t, "Drug:Aspirin", res.Entities[1].NodeID)
	assert.InDelta(t, 1-1.0/8, res.Entities[1].Confidence, 1e-9)

	// Two missing runes out of six is above the threshold.
	res, err = l.Link(context.Background(), []model.Span{span("急性支气", 0)})
	require.NoError(t, err)
	assert.Empty(t, res.Entities)
}

func TestLinkKeepsTiesAsParallelSeeds(t *testing.T) {
	l := newTestLinker(nil, nil)
	res, err := l.Link(context.Background(), []model.Span{span("咳嗽", 0)})
	require.NoError(t, err)
	require.Len(t, res.Entities, 2)
	assert.Equal(t, "Disease:咳嗽", res.Entities[0].NodeID)
	assert.Equal(t, "Symptom:咳嗽", res.Entities[1].NodeID)

	res, err = l.Link(context.Background(), []model.Span{span("咳嗽", 0)}, model.KindSymptom)
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "Symptom:咳嗽", res.Entities[0].NodeID)
}

func TestLinkDeduplicatesByNode(t *testing.T) {
	l := newTestLinker(nil, nil)
	res, err := l.Link(context.Background(), []model.Span{span("头痛", 0), span("头痛", 5)})
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, 0, res.Entities[0].Span.Start)

	res, err = l.Link(context.Background(), []model.Span{span("急性支气管癌", 0), span("急性支气管炎", 10)})
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, 10, res.Entities[0].Span.Start, "the exact match outranks the fuzzy one")
	assert.Equal(t, 1.0, res.Entities[0].Confidence)
}

func TestLinkVector(t *testing.T) {
	embedder := &MockEmbedder{Vectors: map[string][]float32{
		"脑袋疼": {0.9, 0.1},
	}}
	l := newTestLinker(embedder, map[string][]float32{
		"Symptom:头痛": {1, 0},
		"Symptom:发热": {0, 1},
	})

	res, err := l.Link(context.Background(), []model.Span{span("脑袋疼", 0)})
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "Symptom:头痛", res.Entities[0].NodeID)
	assert.Equal(t, model.MatchVector, res.Entities[0].Method)
	assert.Greater(t, res.Entities[0].Confidence, 0.75)
}

func TestLinkVectorFailureIsDiagnosed(t *testing.T) {
	embedder := &MockEmbedder{Err: errors.New("embedding service down")}
	l := newTestLinker(embedder, map[string][]float32{"Symptom:头痛": {1, 0}})

	res, err := l.Link(context.Background(), []model.Span{span("脑袋疼", 0)})
	require.NoError(t, err)
	assert.Empty(t, res.Entities)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, model.StageLinking, res.Diagnostics[0].Stage)
}

func TestLinkQuestion(t *testing.T) {
	l := newTestLinker(nil, nil)

	res, err := l.LinkQuestion(context.Background(), "我头痛发热，可能是什么病？", nil)
	require.NoError(t, err)
	names := []string{}
	for _, e := range res.Entities {
		names = append(names, e.NodeID)
	}
	assert.Equal(t, []string{"Symptom:头痛", "Symptom:发热"}, names)
	assert.Equal(t, model.Span{Start: 1, End: 3, Text: "头痛"}, res.Entities[0].Span)

	res, err = l.LinkQuestion(context.Background(), "高血压应该吃什么药", nil)
	require.NoError(t, err)
	require.Len(t, res.Entities, 1, "血压 is nested inside 高血压")
	assert.Equal(t, "Disease:高血压", res.Entities[0].NodeID)
}

func TestLinkQuestionFallsBackToVectorSegments(t *testing.T) {
	embedder := &MockEmbedder{Vectors: map[string][]float32{"脑袋疼": {1, 0}}}
	l := newTestLinker(embedder, map[string][]float32{"Symptom:头痛": {1, 0}})

	res, err := l.LinkQuestion(context.Background(), "脑袋疼怎么办", nil)
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, model.MatchVector, res.Entities[0].Method)
	assert.Equal(t, 1, embedder.Calls)
}

func TestLinkExpiredDeadline(t *testing.T) {
	l := newTestLinker(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Link(ctx, []model.Span{span("头痛", 0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSegments(t *testing.T) {
	segs := Segments("请问CT检查和血常规有什么区别？")
	texts := []string{}
	for _, s := range segs {
		texts = append(texts, s.Text)
	}
	assert.Equal(t, []string{"CT", "检查", "血常规", "区别"}, texts)
	assert.Equal(t, 2, segs[0].Start)
}

func TestCandidateSpansLongestFirst(t *testing.T) {
	spans := CandidateSpans("头痛发热", 8)
	require.NotEmpty(t, spans)
	assert.Equal(t, "头痛发热", spans[0].Text)
	assert.Len(t, spans, 6) // 1 of 4, 2 of 3, 3 of 2
	assert.Equal(t, "发热", spans[len(spans)-1].Text)
}

func TestLinkSpansOverridesThresholds(t *testing.T) {
	l := newTestLinker(nil, nil)
	strict := DefaultConfig()
	strict.FuzzyThreshold = 0.1

	res, err := l.LinkSpans(context.Background(), []model.Span{span("急性支气管癌", 0)}, &strict)
	require.NoError(t, err)
	assert.Empty(t, res.Entities)

	res, err = l.LinkSpans(context.Background(), []model.Span{span("急性支气管癌", 0)}, nil)
	require.NoError(t, err)
	assert.Len(t, res.Entities, 1)
}

func TestMerge(t *testing.T) {
	a := &Result{
		Entities:    []model.LinkedEntity{{NodeID: "Symptom:发热", Span: span("发热", 4), Confidence: 0.8}},
		Diagnostics: []model.Diagnostic{{Stage: model.StageLinking, Code: "Internal"}},
	}
	b := &Result{Entities: []model.LinkedEntity{
		{NodeID: "Symptom:发热", Span: span("发热", 4), Confidence: 1},
		{NodeID: "Symptom:头痛", Span: span("头痛", 0), Confidence: 1},
	}}

	m := Merge(a, nil, b)
	require.Len(t, m.Entities, 2)
	assert.Equal(t, "Symptom:头痛", m.Entities[0].NodeID)
	assert.Equal(t, 1.0, m.Entities[1].Confidence)
	assert.Len(t, m.Diagnostics, 1)
}

func TestLinkFuzzyNormalizedDistance(t *testing.T) {
	ix := lexicon.Build([]model.GraphNode{model.NewNode(model.KindDisease, "感冒", nil)}, lexicon.WithPinyin(false))
	l := New(lexicon.NewHolder(ix), nil, DefaultConfig(), nil)
	ctx := context.Background()

	// One edit over three runes is a normalized distance of 1/3.
	for _, tc := range []struct {
		threshold float64
		linked    bool
	}{
		{0.05, false},
		{0.2, false},
		{0.34, true},
	} {
		cfg := DefaultConfig()
		cfg.FuzzyThreshold = tc.threshold
		res, err := l.LinkSpans(ctx, []model.Span{span("感冒了", 0)}, &cfg)
		require.NoError(t, err)
		if !tc.linked {
			assert.Empty(t, res.Entities, "threshold %v", tc.threshold)
			continue
		}
		require.Len(t, res.Entities, 1, "threshold %v", tc.threshold)
		assert.Equal(t, "Disease:感冒", res.Entities[0].NodeID)
		assert.Equal(t, model.MatchFuzzy, res.Entities[0].Method)
		assert.InDelta(t, 2.0/3.0, res.Entities[0].Confidence, 1e-9)
	}

	// From the whole question the sub-span 感冒 matches exactly at any threshold.
	for _, threshold := range []float64{0.05, 0.2} {
		cfg := DefaultConfig()
		cfg.FuzzyThreshold = threshold
		res, err := l.LinkQuestion(ctx, "感冒了", &cfg)
		require.NoError(t, err)
		require.Len(t, res.Entities, 1)
		assert.Equal(t, "Disease:感冒", res.Entities[0].NodeID)
		assert.Equal(t, model.MatchExact, res.Entities[0].Method)
	}
}
