package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/medrag/internal/core/model"
)

func TestExtract(t *testing.T) {
	mockLLM := &MockLLMClient{Response: "```json\n" + `{
		"entities": [
			{"name": "头痛", "type": "Symptom", "confidence": 0.95},
			{"name": "发热", "type": "symptom", "confidence": 0.9},
			{"name": "头痛", "type": "Symptom", "confidence": 0.95},
			{"name": "心情", "type": "Mood"},
		]
	}` + "\n```"}

	extractor := NewExtractor(mockLLM, nil)
	cands, err := extractor.Extract(context.Background(), "我头痛发烧，可能是什么病？")
	require.NoError(t, err)
	require.Len(t, cands, 3)

	assert.Equal(t, model.Span{Start: 1, End: 3, Text: "头痛"}, cands[0].Span)
	assert.Equal(t, model.KindSymptom, cands[0].Kind)
	assert.InDelta(t, 0.95, cands[0].Confidence, 1e-9)

	// The model normalized 发烧 to 发热, which is not in the question.
	assert.Equal(t, model.Span{Start: -1, End: -1, Text: "发热"}, cands[1].Span)
	assert.Equal(t, model.KindSymptom, cands[1].Kind)

	assert.Equal(t, model.Kind(""), cands[2].Kind)
	assert.InDelta(t, 0.8, cands[2].Confidence, 1e-9)

	require.Len(t, mockLLM.Prompts, 1)
	assert.Contains(t, mockLLM.Prompts[0], "我头痛发烧")
}

func TestExtractEmpty(t *testing.T) {
	extractor := NewExtractor(&MockLLMClient{Response: `{"entities": []}`}, nil)
	cands, err := extractor.Extract(context.Background(), "你好")
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestExtractErrors(t *testing.T) {
	_, err := NewExtractor(&MockLLMClient{Err: errors.New("down")}, nil).Extract(context.Background(), "感冒")
	assert.Error(t, err)

	_, err = NewExtractor(&MockLLMClient{Response: "no json here"}, nil).Extract(context.Background(), "感冒")
	assert.Error(t, err)
}

func TestSpans(t *testing.T) {
	groups := Spans([]Candidate{
		{Span: model.Span{Start: 0, End: 2, Text: "感冒"}, Kind: model.KindDisease},
		{Span: model.Span{Start: 3, End: 5, Text: "头痛"}, Kind: model.KindSymptom},
		{Span: model.Span{Start: -1, End: -1, Text: "乏力"}},
	})
	assert.Len(t, groups, 3)
	assert.Equal(t, "感冒", groups[model.KindDisease][0].Text)
	assert.Equal(t, "乏力", groups[""][0].Text)
}
