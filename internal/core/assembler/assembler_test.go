package assembler

import (
	"strings"
	"testing"

	"github.com/agenthands/medrag/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scored(kind model.Kind, name string, score float64, seed bool, rel model.Relation, attrs map[string]interface{}) model.ScoredNode {
	return model.ScoredNode{
		Node:     model.NewNode(kind, name, attrs),
		Score:    score,
		Seed:     seed,
		Relation: rel,
		Weight:   0.8,
	}
}

func fixtureRanking() *model.Ranking {
	return &model.Ranking{Nodes: []model.ScoredNode{
		scored(model.KindDisease, "感冒", 0.95, true, "", map[string]interface{}{"desc": "上呼吸道感染"}),
		scored(model.KindSymptom, "头痛", 0.7, false, model.RelHasSymptom, nil),
		scored(model.KindDrug, "布洛芬", 0.6, false, model.RelRecommendDrug, nil),
		scored(model.KindSymptom, "发热", 0.55, false, model.RelHasSymptom, nil),
		scored(model.KindFood, "梨", 0.5, false, model.RelShouldEat, nil),
		scored(model.KindFood, "辣椒", 0.45, false, model.RelShouldAvoid, nil),
		scored(model.KindMeasureMethod, "多喝水", 0.4, false, model.RelPreventBy, nil),
		scored(model.KindDepartment, "内科", 0.3, false, model.RelBelongsDepartment, nil),
		scored(model.KindCheck, "血常规", 0.2, false, model.RelNeedCheck, nil),
	}}
}

func sizeOf(nodes ...model.ScoredNode) int {
	total := 0
	for _, n := range nodes {
		total += ItemSize(toItem(n, DefaultOptions().DescriptionRunes))
	}
	return total
}

func TestAssembleBuckets(t *testing.T) {
	a := New(nil)
	ctx, err := a.Assemble(fixtureRanking(), Options{MaxContextBytes: 1 << 20, DescriptionRunes: 120})
	require.NoError(t, err)

	require.Len(t, ctx.Diseases, 1)
	assert.True(t, ctx.Diseases[0].Seed)
	assert.Equal(t, "上呼吸道感染", ctx.Diseases[0].Description)
	assert.Equal(t, []string{"头痛", "发热"}, names(ctx.Symptoms))
	assert.Equal(t, []string{"布洛芬"}, names(ctx.Drugs))
	assert.Equal(t, []string{"血常规"}, names(ctx.Checks))
	assert.Equal(t, []string{"内科"}, names(ctx.Departments))
	assert.Equal(t, []string{"梨"}, names(ctx.Dietary.Eat))
	assert.Equal(t, []string{"辣椒"}, names(ctx.Dietary.Avoid))
	assert.Empty(t, ctx.Dietary.Related)
	assert.Equal(t, []string{"多喝水"}, names(ctx.Prevention))
	assert.Equal(t, 0, ctx.Dropped)
	assert.Equal(t, sizeOf(fixtureRanking().Nodes...), ctx.SizeBytes)
}

func TestAssembleBudgetClosesBucket(t *testing.T) {
	r := fixtureRanking()
	// Room for the seed, 头痛 and 布洛芬 but not 发热.
	budget := sizeOf(r.Nodes[0], r.Nodes[1], r.Nodes[2]) + 1

	ctx, err := New(nil).Assemble(r, Options{MaxContextBytes: budget, DescriptionRunes: 120})
	require.NoError(t, err)

	assert.Equal(t, []string{"头痛"}, names(ctx.Symptoms))
	assert.Equal(t, []string{"布洛芬"}, names(ctx.Drugs))
	assert.LessOrEqual(t, ctx.SizeBytes, budget)
	assert.False(t, ctx.SeedsOverBudget)
	assert.Equal(t, len(r.Nodes)-ctx.Len(), ctx.Dropped)
}

func TestAssembleSmallerItemsFitOtherBuckets(t *testing.T) {
	r := &model.Ranking{Nodes: []model.ScoredNode{
		scored(model.KindDisease, "感冒", 0.9, true, "", nil),
		scored(model.KindSymptom, "头痛", 0.8, false, model.RelHasSymptom, map[string]interface{}{"desc": strings.Repeat("长", 100)}),
		scored(model.KindSymptom, "咳", 0.7, false, model.RelHasSymptom, nil),
		scored(model.KindDrug, "布洛芬", 0.6, false, model.RelRecommendDrug, nil),
	}}
	budget := sizeOf(r.Nodes[0], r.Nodes[3]) + 1

	ctx, err := New(nil).Assemble(r, Options{MaxContextBytes: budget, DescriptionRunes: 120})
	require.NoError(t, err)

	// The symptom bucket closes on 头痛, so 咳 is skipped even though it would fit.
	assert.Empty(t, ctx.Symptoms)
	assert.Equal(t, []string{"布洛芬"}, names(ctx.Drugs))
	assert.Equal(t, 2, ctx.Dropped)
}

func TestAssembleSeedsOverBudget(t *testing.T) {
	r := fixtureRanking()
	ctx, err := New(nil).Assemble(r, Options{MaxContextBytes: 10, DescriptionRunes: 120})
	require.NoError(t, err)

	assert.True(t, ctx.SeedsOverBudget)
	assert.Equal(t, 1, ctx.Len())
	assert.Equal(t, "Disease:感冒", ctx.Diseases[0].ID)
	assert.Equal(t, len(r.Nodes)-1, ctx.Dropped)
}

func TestAssembleDeterministic(t *testing.T) {
	a := New(nil)
	opts := Options{MaxContextBytes: 600, DescriptionRunes: 120}
	first, err := a.Assemble(fixtureRanking(), opts)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := a.Assemble(fixtureRanking(), opts)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAssembleDescriptionTruncated(t *testing.T) {
	r := &model.Ranking{Nodes: []model.ScoredNode{
		scored(model.KindDisease, "感冒", 0.9, true, "", map[string]interface{}{"desc": strings.Repeat("病", 200)}),
	}}
	ctx, err := New(nil).Assemble(r, Options{MaxContextBytes: 4096, DescriptionRunes: 10})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("病", 10)+"…", ctx.Diseases[0].Description)
}

func TestAssembleInvalidBudget(t *testing.T) {
	_, err := New(nil).Assemble(fixtureRanking(), Options{})
	require.Error(t, err)

	var se *model.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, model.StageAssembly, se.Stage)
}

func TestAssembleNilRanking(t *testing.T) {
	ctx, err := New(nil).Assemble(nil, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, ctx.Empty())
}

func TestAssemblePartialPropagates(t *testing.T) {
	r := fixtureRanking()
	r.Partial = true
	ctx, err := New(nil).Assemble(r, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, ctx.Partial)
}

func TestFoodWithoutDietaryRelation(t *testing.T) {
	r := &model.Ranking{Nodes: []model.ScoredNode{
		scored(model.KindFood, "粥", 0.9, true, "", nil),
	}}
	ctx, err := New(nil).Assemble(r, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"粥"}, names(ctx.Dietary.Related))
}

func names(items []model.ContextItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}
