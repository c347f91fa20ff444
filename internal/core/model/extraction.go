package model

// ExtractedEntity is one entity returned by the LLM span extractor.
type ExtractedEntity struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence,omitempty"`
}

type ExtractedEntities struct {
	Entities []ExtractedEntity `json:"entities"`
}
