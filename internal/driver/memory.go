package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/agenthands/medrag/internal/core/model"
)

// MemoryStore is an in-process GraphStore, used for tests and for running
// without a database from a JSON fixture.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]model.GraphNode
	out   map[string][]model.GraphEdge
	in    map[string][]model.GraphEdge

	// Latency is added to every Neighbors call.
	Latency time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]model.GraphNode),
		out:   make(map[string][]model.GraphEdge),
		in:    make(map[string][]model.GraphEdge),
	}
}

func (m *MemoryStore) AddNode(n model.GraphNode) model.GraphNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = model.NodeID(n.Kind, n.Name)
	}
	m.nodes[n.ID] = n
	return n
}

// AddEdge stores an edge with its weight as given; zero is a valid weight.
func (m *MemoryStore) AddEdge(e model.GraphEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[e.SourceID]; !ok {
		return fmt.Errorf("edge source %s: %w", e.SourceID, model.ErrNodeNotFound)
	}
	if _, ok := m.nodes[e.TargetID]; !ok {
		return fmt.Errorf("edge target %s: %w", e.TargetID, model.ErrNodeNotFound)
	}
	if !e.Relation.Valid() {
		return fmt.Errorf("invalid relation %q", e.Relation)
	}
	m.out[e.SourceID] = append(m.out[e.SourceID], e)
	m.in[e.TargetID] = append(m.in[e.TargetID], e)
	return nil
}

// Link adds nodes for both endpoints when missing and connects them.
func (m *MemoryStore) Link(src model.Kind, srcName string, rel model.Relation, dst model.Kind, dstName string, weight float64) {
	a := model.NodeID(src, srcName)
	b := model.NodeID(dst, dstName)
	m.mu.RLock()
	_, hasA := m.nodes[a]
	_, hasB := m.nodes[b]
	m.mu.RUnlock()
	if !hasA {
		m.AddNode(model.NewNode(src, srcName, nil))
	}
	if !hasB {
		m.AddNode(model.NewNode(dst, dstName, nil))
	}
	_ = m.AddEdge(model.GraphEdge{SourceID: a, TargetID: b, Relation: rel, Weight: weight})
}

func (m *MemoryStore) GetNode(ctx context.Context, id string) (model.GraphNode, error) {
	if err := ctx.Err(); err != nil {
		return model.GraphNode{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return model.GraphNode{}, fmt.Errorf("%s: %w", id, model.ErrNodeNotFound)
	}
	return n, nil
}

func (m *MemoryStore) LookupByName(ctx context.Context, name string, kinds ...model.Kind) ([]model.GraphNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.GraphNode
	for _, n := range m.nodes {
		if n.Name == name {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return filterKinds(out, kinds), nil
}

func (m *MemoryStore) AllNodes(ctx context.Context) ([]model.GraphNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.GraphNode, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Neighbors(ctx context.Context, id string, q NeighborQuery) ([]Neighbor, error) {
	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Latency):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.nodes[id]; !ok {
		return nil, fmt.Errorf("%s: %w", id, model.ErrNodeNotFound)
	}

	var edges []model.GraphEdge
	if q.Direction != Incoming {
		edges = append(edges, m.out[id]...)
	}
	if q.Direction != Outgoing {
		edges = append(edges, m.in[id]...)
	}

	byRel := make(map[model.Relation][]Neighbor)
	for _, e := range edges {
		if q.Relation != "" && e.Relation != q.Relation {
			continue
		}
		byRel[e.Relation] = append(byRel[e.Relation], Neighbor{Edge: e, Node: m.nodes[e.Other(id)]})
	}

	var out []Neighbor
	for _, ns := range byRel {
		SortNeighbors(ns)
		if q.Limit > 0 && len(ns) > q.Limit {
			ns = ns[:q.Limit]
		}
		out = append(out, ns...)
	}
	SortNeighbors(out)
	return out, nil
}

func (m *MemoryStore) DiseasesBySymptoms(ctx context.Context, symptoms []string, limit int) ([]DiseaseMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg := make(map[string]*DiseaseMatch)
	for _, name := range symptoms {
		for _, e := range m.in[model.NodeID(model.KindSymptom, name)] {
			if e.Relation != model.RelHasSymptom {
				continue
			}
			dm, ok := agg[e.SourceID]
			if !ok {
				dm = &DiseaseMatch{Node: m.nodes[e.SourceID]}
				agg[e.SourceID] = dm
			}
			dm.TotalWeight += e.Weight
			dm.Matched++
		}
	}

	out := make([]DiseaseMatch, 0, len(agg))
	for _, dm := range agg {
		out = append(out, *dm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalWeight != out[j].TotalWeight {
			return out[i].TotalWeight > out[j].TotalWeight
		}
		if out[i].Matched != out[j].Matched {
			return out[i].Matched > out[j].Matched
		}
		return out[i].Node.ID < out[j].Node.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fixture struct {
	Nodes []struct {
		Kind       string                 `json:"kind"`
		Name       string                 `json:"name"`
		Attributes map[string]interface{} `json:"attributes"`
	} `json:"nodes"`
	Edges []struct {
		Source   string   `json:"source"`
		Target   string   `json:"target"`
		Relation string   `json:"relation"`
		Weight   *float64 `json:"weight"`
	} `json:"edges"`
}

// LoadMemoryStore reads a fixture of the form
// {"nodes":[{"kind","name","attributes"}],"edges":[{"source","target","relation","weight"}]}
// where edge endpoints are node ids ("Disease:感冒"). A missing weight
// defaults to 1.
func LoadMemoryStore(r io.Reader) (*MemoryStore, error) {
	var f fixture
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode graph fixture: %w", err)
	}
	m := NewMemoryStore()
	for _, n := range f.Nodes {
		kind, err := model.ParseKind(n.Kind)
		if err != nil {
			return nil, err
		}
		m.AddNode(model.NewNode(kind, n.Name, n.Attributes))
	}
	for _, e := range f.Edges {
		rel, err := model.ParseRelation(e.Relation)
		if err != nil {
			return nil, err
		}
		weight := model.DefaultEdgeWeight
		if e.Weight != nil {
			weight = *e.Weight
		}
		if err := m.AddEdge(model.GraphEdge{SourceID: e.Source, TargetID: e.Target, Relation: rel, Weight: weight}); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func LoadMemoryStoreFile(path string) (*MemoryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph fixture '%s': %w", path, err)
	}
	defer f.Close()
	return LoadMemoryStore(f)
}
