package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("disease")
	require.NoError(t, err)
	assert.Equal(t, KindDisease, k)

	_, err = ParseKind("Hospital")
	assert.Error(t, err)

	for _, k := range Kinds {
		assert.True(t, k.Valid(), "kind %s should be valid", k)
	}
	assert.False(t, Kind("Hospital").Valid())
}

func TestRelationFlags(t *testing.T) {
	weighted := map[Relation]bool{RelHasSymptom: true, RelSimilarTo: true, RelComplication: true}
	for _, r := range Relations {
		assert.Equal(t, weighted[r], r.Weighted(), "relation %s", r)
	}
	assert.True(t, RelComplication.Chain())
	assert.True(t, RelSimilarTo.Chain())
	assert.False(t, RelHasSymptom.Chain())

	r, err := ParseRelation("recommand_drug")
	require.NoError(t, err)
	assert.Equal(t, RelRecommendDrug, r)
}

func TestNodeIDRoundTrip(t *testing.T) {
	id := NodeID(KindSymptom, "头痛")
	assert.Equal(t, "Symptom:头痛", id)

	kind, name, err := SplitNodeID(id)
	require.NoError(t, err)
	assert.Equal(t, KindSymptom, kind)
	assert.Equal(t, "头痛", name)

	_, _, err = SplitNodeID("头痛")
	assert.Error(t, err)
	_, _, err = SplitNodeID("Planet:Mars")
	assert.Error(t, err)
}

func TestNodeAttributes(t *testing.T) {
	n := NewNode(KindDisease, "感冒", map[string]interface{}{
		"desc":    "上呼吸道感染",
		"aliases": "伤风, 普通感冒",
	})
	assert.Equal(t, "Disease:感冒", n.ID)
	assert.Equal(t, "上呼吸道感染", n.Description())
	assert.Equal(t, []string{"伤风", "普通感冒"}, n.Aliases())

	n.Attributes["aliases"] = []interface{}{"a", 3, "b"}
	assert.Equal(t, []string{"a", "b"}, n.Aliases())
}

func TestStageErrorCodes(t *testing.T) {
	err := NewStageError(StageRetrieval, fmt.Errorf("neighbors: %w", ErrGraphUnavailable))
	assert.True(t, errors.Is(err, ErrGraphUnavailable))
	d := err.Diagnostic()
	assert.Equal(t, StageRetrieval, d.Stage)
	assert.Equal(t, "GraphUnavailable", d.Code)

	// A wrapped stage error keeps its own stage.
	d = DiagnosticFor(StageGeneration, fmt.Errorf("outer: %w", err))
	assert.Equal(t, StageRetrieval, d.Stage)

	d = DiagnosticFor(StageLinking, context.DeadlineExceeded)
	assert.Equal(t, "Internal", d.Code)
	assert.Equal(t, StageLinking, d.Stage)
}

func TestRankedContextItems(t *testing.T) {
	c := &RankedContext{
		Diseases: []ContextItem{{ID: "d"}},
		Dietary:  DietaryContext{Avoid: []ContextItem{{ID: "f"}}},
	}
	items := c.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "d", items[0].ID)
	assert.Equal(t, "f", items[1].ID)
	assert.False(t, c.Empty())
}
