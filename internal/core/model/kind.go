package model

import (
	"fmt"
	"strings"
)

// Kind is the closed set of node labels in the medical knowledge graph.
type Kind string

const (
	KindDisease       Kind = "Disease"
	KindSymptom       Kind = "Symptom"
	KindDrug          Kind = "Drug"
	KindCheck         Kind = "Check"
	KindDepartment    Kind = "Department"
	KindFood          Kind = "Food"
	KindMeasureMethod Kind = "MeasureMethod"
)

// Kinds lists every Kind in declaration order.
var Kinds = []Kind{
	KindDisease,
	KindSymptom,
	KindDrug,
	KindCheck,
	KindDepartment,
	KindFood,
	KindMeasureMethod,
}

func (k Kind) Valid() bool {
	switch k {
	case KindDisease, KindSymptom, KindDrug, KindCheck, KindDepartment, KindFood, KindMeasureMethod:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// ParseKind accepts the canonical label, case-insensitively.
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSpace(s)
	for _, k := range Kinds {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown node kind %q", s)
}

// Relation is the closed set of relationship types.
type Relation string

const (
	RelHasSymptom        Relation = "HAS_SYMPTOM"
	RelComplication      Relation = "COMPLICATION"
	RelSimilarTo         Relation = "SIMILAR_TO"
	RelRecommendDrug     Relation = "RECOMMAND_DRUG"
	RelNeedCheck         Relation = "NEED_CHECK"
	RelBelongsDepartment Relation = "BELONGS_DEPARTMENT"
	RelShouldEat         Relation = "SHOULD_EAT"
	RelShouldAvoid       Relation = "SHOULD_AVOID"
	RelPreventBy         Relation = "PREVENT_BY"
)

var Relations = []Relation{
	RelHasSymptom,
	RelComplication,
	RelSimilarTo,
	RelRecommendDrug,
	RelNeedCheck,
	RelBelongsDepartment,
	RelShouldEat,
	RelShouldAvoid,
	RelPreventBy,
}

func (r Relation) Valid() bool {
	switch r {
	case RelHasSymptom, RelComplication, RelSimilarTo, RelRecommendDrug, RelNeedCheck,
		RelBelongsDepartment, RelShouldEat, RelShouldAvoid, RelPreventBy:
		return true
	}
	return false
}

// Weighted reports whether edges of this relation carry a meaningful weight.
// Only weighted relations are subject to a weight threshold.
func (r Relation) Weighted() bool {
	switch r {
	case RelHasSymptom, RelSimilarTo, RelComplication:
		return true
	}
	return false
}

// Chain reports whether the relation links a disease to another disease.
func (r Relation) Chain() bool {
	return r == RelComplication || r == RelSimilarTo
}

func (r Relation) String() string { return string(r) }

func ParseRelation(s string) (Relation, error) {
	s = strings.TrimSpace(s)
	for _, r := range Relations {
		if strings.EqualFold(string(r), s) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown relation %q", s)
}

// NodeID builds the stable identifier of a node. Names are unique per label.
func NodeID(kind Kind, name string) string {
	return string(kind) + ":" + name
}

// SplitNodeID is the inverse of NodeID.
func SplitNodeID(id string) (Kind, string, error) {
	prefix, name, ok := strings.Cut(id, ":")
	if !ok || name == "" {
		return "", "", fmt.Errorf("malformed node id %q", id)
	}
	kind, err := ParseKind(prefix)
	if err != nil {
		return "", "", fmt.Errorf("malformed node id %q: %w", id, err)
	}
	return kind, name, nil
}
