package driver

import (
	"context"

	"github.com/agenthands/medrag/internal/core/model"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type GraphDriver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error)
	BuildIndices(ctx context.Context) error
	Close(ctx context.Context) error
}

type Direction int

const (
	Both Direction = iota
	Outgoing
	Incoming
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "out"
	case Incoming:
		return "in"
	}
	return "both"
}

// NeighborQuery narrows a neighbor fetch. Limit applies per relation type.
type NeighborQuery struct {
	Relation  model.Relation
	Direction Direction
	Limit     int
}

// Neighbor is an edge touching the queried node together with its other endpoint.
type Neighbor struct {
	Edge model.GraphEdge
	Node model.GraphNode
}

// GraphStore is the read-only view of the knowledge graph used by retrieval.
type GraphStore interface {
	GetNode(ctx context.Context, id string) (model.GraphNode, error)
	LookupByName(ctx context.Context, name string, kinds ...model.Kind) ([]model.GraphNode, error)
	// Neighbors returns at most q.Limit edges per relation, heaviest first,
	// ties broken by neighbor id.
	Neighbors(ctx context.Context, id string, q NeighborQuery) ([]Neighbor, error)
	AllNodes(ctx context.Context) ([]model.GraphNode, error)
}
