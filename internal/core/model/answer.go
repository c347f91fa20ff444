package model

import "time"

// Citation is a graph entity mentioned in the generated answer.
type Citation struct {
	EntityID string `json:"entity_id"`
	Kind     Kind   `json:"kind"`
	Name     string `json:"name"`
	Spans    []Span `json:"spans"`
}

// Answer is the envelope returned by RetrieveAndAnswer.
type Answer struct {
	QueryID         string         `json:"query_id"`
	Question        string         `json:"question"`
	Answer          string         `json:"answer"`
	RelatedEntities []LinkedEntity `json:"related_entities"`
	Citations       []Citation     `json:"citations"`
	Confidence      float64        `json:"confidence"`
	Partial         bool           `json:"partial"`
	CacheHit        bool           `json:"cache_hit"`
	Context         *RankedContext `json:"context,omitempty"`
	Diagnostics     []Diagnostic   `json:"diagnostics,omitempty"`
	Elapsed         time.Duration  `json:"elapsed_ns"`
}
