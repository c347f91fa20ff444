package model

import "sort"

// Subgraph is the result of a bounded expansion around the seed entities.
// Every edge endpoint is present in Nodes.
type Subgraph struct {
	Nodes map[string]GraphNode `json:"nodes"`
	Edges []GraphEdge          `json:"edges"`
	Seeds []LinkedEntity       `json:"seeds"`
	// Depth is the hop at which a node was first reached; seeds are 0.
	Depth map[string]int `json:"depth"`
	// Via is the heaviest edge weight through which a node was reached; seeds are 1.
	Via map[string]float64 `json:"via"`
	// ViaRelation is the relation of that edge.
	ViaRelation map[string]Relation `json:"via_relation"`
	Partial     bool                `json:"partial"`
}

func NewSubgraph(seeds []LinkedEntity) *Subgraph {
	return &Subgraph{
		Nodes:       make(map[string]GraphNode),
		Seeds:       seeds,
		Depth:       make(map[string]int),
		Via:         make(map[string]float64),
		ViaRelation: make(map[string]Relation),
	}
}

func (s *Subgraph) IsSeed(id string) bool {
	for _, seed := range s.Seeds {
		if seed.NodeID == id {
			return true
		}
	}
	return false
}

// NodeIDs returns node ids in ascending order.
func (s *Subgraph) NodeIDs() []string {
	ids := make([]string, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Adjacent returns the edges touching id.
func (s *Subgraph) Adjacent(id string) []GraphEdge {
	var out []GraphEdge
	for _, e := range s.Edges {
		if e.SourceID == id || e.TargetID == id {
			out = append(out, e)
		}
	}
	return out
}
