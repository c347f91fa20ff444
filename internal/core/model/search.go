package model

// ScoreTerms are the normalized components of a node score.
type ScoreTerms struct {
	EdgeWeight    float64 `json:"edge_weight"`
	TextRelevance float64 `json:"text_relevance"`
	Importance    float64 `json:"importance"`
	Popularity    float64 `json:"popularity"`
}

type ScoredNode struct {
	Node     GraphNode  `json:"node"`
	Score    float64    `json:"score"`
	Terms    ScoreTerms `json:"terms"`
	Seed     bool       `json:"seed"`
	Depth    int        `json:"depth"`
	Relation Relation   `json:"relation,omitempty"`
	Weight   float64    `json:"weight"`
}

type ScoredEdge struct {
	Edge  GraphEdge `json:"edge"`
	Score float64   `json:"score"`
}

// Ranking is the ordered output of the ranker: score desc, then id asc.
type Ranking struct {
	Nodes   []ScoredNode `json:"nodes"`
	Edges   []ScoredEdge `json:"edges"`
	Partial bool         `json:"partial"`
}
