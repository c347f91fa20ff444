package model

// GraphEdge is a directed, typed relationship between two nodes.
type GraphEdge struct {
	SourceID   string                 `json:"source_id"`
	TargetID   string                 `json:"target_id"`
	Relation   Relation               `json:"relation"`
	Weight     float64                `json:"weight"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// DefaultEdgeWeight applies to edges stored without a weight.
const DefaultEdgeWeight = 1.0

func (e GraphEdge) Key() string {
	return e.SourceID + "|" + string(e.Relation) + "|" + e.TargetID
}

// Other returns the endpoint that is not id.
func (e GraphEdge) Other(id string) string {
	if e.SourceID == id {
		return e.TargetID
	}
	return e.SourceID
}
