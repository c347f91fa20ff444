package prompt

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/medrag/internal/core/model"
)

func fixtureContext() *model.RankedContext {
	return &model.RankedContext{
		Diseases: []model.ContextItem{
			{ID: "Disease:感冒", Name: "感冒", Kind: model.KindDisease, Score: 0.9, Seed: true, Description: "上呼吸道感染"},
			{ID: "Disease:肺炎", Name: "肺炎", Kind: model.KindDisease, Score: 0.41, Relation: model.RelComplication, Weight: 0.3},
		},
		Symptoms: []model.ContextItem{
			{ID: "Symptom:头痛", Name: "头痛", Kind: model.KindSymptom, Score: 0.6, Relation: model.RelHasSymptom, Weight: 0.8},
		},
		Drugs: []model.ContextItem{
			{ID: "Drug:布洛芬", Name: "布洛芬", Kind: model.KindDrug, Score: 0.5, Relation: model.RelRecommendDrug, Weight: 1},
		},
		Dietary: model.DietaryContext{
			Avoid: []model.ContextItem{{ID: "Food:辣椒", Name: "辣椒", Kind: model.KindFood, Relation: model.RelShouldAvoid}},
		},
	}
}

func TestContextText(t *testing.T) {
	text := ContextText(fixtureContext())
	assert.Equal(t, strings.Join([]string{
		"## 相关疾病：",
		"- 感冒: 上呼吸道感染",
		"- 肺炎 (匹配度: 0.41)",
		"",
		"## 相关症状：",
		"- 头痛 (相关性: 0.80)",
		"",
		"## 相关药品：",
		"- 布洛芬",
		"",
		"## 忌吃食物：",
		"- 辣椒",
	}, "\n"), text)
}

func TestContextTextEmpty(t *testing.T) {
	assert.Equal(t, NoContext, ContextText(nil))
	assert.Equal(t, NoContext, ContextText(&model.RankedContext{}))
}

func TestAnswerPrompt(t *testing.T) {
	p := Answer("感冒了怎么办？", "## 相关疾病：\n- 感冒")
	assert.True(t, strings.HasPrefix(p, "你是一名专业的医疗诊断助手。"))
	assert.Contains(t, p, "## 知识库信息：\n## 相关疾病：\n- 感冒\n")
	assert.Contains(t, p, "## 用户问题：\n感冒了怎么办？\n")
	assert.True(t, strings.HasSuffix(p, "## 回答：\n"))
}

func TestEntitiesPrompt(t *testing.T) {
	p := Entities("我头痛怎么办")
	assert.Contains(t, p, "问题：我头痛怎么办")
	assert.Contains(t, p, `{"entities": []}`)
	assert.NotContains(t, p, "%!")
}

func TestSummarize(t *testing.T) {
	text := "a\n\nb\nc\nd\ne\nf\ng\nh\ni\nj\nk"
	assert.Equal(t, "a\nb\nc\nd\ne\nf\ng\nh\ni", Summarize(text))
	assert.Equal(t, "", Summarize(""))
}

type runeCounter struct{}

func (runeCounter) Count(text string) int { return utf8.RuneCountInString(text) }

func TestFit(t *testing.T) {
	c := fixtureContext()
	full, dropped := Fit("感冒怎么办", c, nil, 10)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, Answer("感冒怎么办", ContextText(c)), full)

	limit := runeCounter{}.Count(full) - 1
	p, dropped := Fit("感冒怎么办", c, runeCounter{}, limit)
	assert.Equal(t, 1, dropped)
	assert.NotContains(t, p, "忌吃食物")
	assert.Contains(t, p, "- 布洛芬")
	assert.LessOrEqual(t, runeCounter{}.Count(p), limit)

	p, _ = Fit("感冒怎么办", c, runeCounter{}, 1)
	assert.Contains(t, p, NoContext)
}

func TestTokenCounter(t *testing.T) {
	tc, err := NewTokenCounter("")
	if err != nil {
		t.Skipf("encoding unavailable: %v", err)
	}
	require.NotNil(t, tc)
	assert.Positive(t, tc.Count("感冒了怎么办？"))
	assert.Equal(t, 0, tc.Count(""))
}
