package model

// Span is a range of the question in rune offsets, End exclusive.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

func (s Span) Len() int { return s.End - s.Start }

func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// MatchMethod records which linking strategy produced a match.
type MatchMethod string

const (
	MatchExact  MatchMethod = "exact"
	MatchFuzzy  MatchMethod = "fuzzy"
	MatchVector MatchMethod = "vector"
)

// LinkedEntity ties a span of the question to a graph node.
type LinkedEntity struct {
	Span       Span        `json:"span"`
	NodeID     string      `json:"node_id"`
	Kind       Kind        `json:"kind"`
	Name       string      `json:"name"`
	Method     MatchMethod `json:"method"`
	Confidence float64     `json:"confidence"`
}
