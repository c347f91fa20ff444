package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/agenthands/medrag/internal/core/model"
	"github.com/agenthands/medrag/internal/driver"
)

// HardMaxHops caps MaxHops regardless of what the caller asks for.
const HardMaxHops = 3

type Options struct {
	MaxHops               int     `toml:"max_hops" json:"max_hops" validate:"gte=0,lte=3"`
	MaxResultsPerRelation int     `toml:"max_results_per_relation" json:"max_results_per_relation" validate:"gte=0"`
	WeightThreshold       float64 `toml:"weight_threshold" json:"weight_threshold" validate:"gte=0"`
	// ChainExtraHops lets disease-to-disease COMPLICATION and SIMILAR_TO edges
	// be followed this many hops past MaxHops. Zero disables it.
	ChainExtraHops int `toml:"chain_extra_hops" json:"chain_extra_hops" validate:"gte=0,lte=3"`
	// Concurrency bounds parallel neighbor fetches within a hop.
	Concurrency int `toml:"concurrency" json:"concurrency" validate:"gte=0"`
}

func DefaultOptions() Options {
	return Options{
		MaxHops:               2,
		MaxResultsPerRelation: 20,
		WeightThreshold:       0,
		ChainExtraHops:        1,
		Concurrency:           8,
	}
}

// Normalize fills zero values with defaults and applies the hop cap.
func (o Options) Normalize() Options {
	d := DefaultOptions()
	if o.MaxHops <= 0 {
		o.MaxHops = d.MaxHops
	}
	if o.MaxHops > HardMaxHops {
		o.MaxHops = HardMaxHops
	}
	if o.MaxResultsPerRelation <= 0 {
		o.MaxResultsPerRelation = d.MaxResultsPerRelation
	}
	if o.WeightThreshold < 0 {
		o.WeightThreshold = 0
	}
	if o.ChainExtraHops < 0 {
		o.ChainExtraHops = 0
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	return o
}

type Retriever struct {
	store  driver.GraphStore
	logger *slog.Logger
}

func New(store driver.GraphStore, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, logger: logger.With("component", "retriever")}
}

// NodeSource resolves nodes without a store round trip, typically the
// lexicon snapshot the seeds were linked against.
type NodeSource interface {
	Node(id string) (model.GraphNode, bool)
}

// Retrieve expands a subgraph breadth-first from all seeds at once. When ctx
// expires the subgraph gathered so far is returned with Partial set. Store
// failures are returned as errors.
func (r *Retriever) Retrieve(ctx context.Context, seeds []model.LinkedEntity, opts Options) (*model.Subgraph, error) {
	return r.RetrieveFrom(ctx, nil, seeds, opts)
}

// RetrieveFrom is Retrieve with seed nodes taken from known when present.
// Every linked seed ends up in the subgraph, even when ctx expires before
// the store is reached.
func (r *Retriever) RetrieveFrom(ctx context.Context, known NodeSource, seeds []model.LinkedEntity, opts Options) (*model.Subgraph, error) {
	opts = opts.Normalize()
	sg := model.NewSubgraph(seeds)
	visited := make(map[string]bool)
	edgeKeys := make(map[string]bool)

	var frontier []string
	addSeed := func(node model.GraphNode) {
		visited[node.ID] = true
		sg.Nodes[node.ID] = node
		sg.Depth[node.ID] = 0
		sg.Via[node.ID] = 1.0
		frontier = append(frontier, node.ID)
	}

	for _, s := range uniqueSeeds(seeds) {
		if known != nil {
			if node, ok := known.Node(s.NodeID); ok {
				addSeed(node)
				continue
			}
		}
		if ctx.Err() != nil {
			sg.Partial = true
			addSeed(seedNode(s))
			continue
		}
		node, err := r.store.GetNode(ctx, s.NodeID)
		if err != nil {
			if ctx.Err() != nil {
				sg.Partial = true
				addSeed(seedNode(s))
				continue
			}
			if errors.Is(err, model.ErrNodeNotFound) {
				r.logger.Warn("seed missing from graph store", "node_id", s.NodeID)
				continue
			}
			return sg, model.NewStageError(model.StageRetrieval, err)
		}
		addSeed(node)
	}
	if sg.Partial {
		r.logger.Debug("deadline reached while resolving seeds", "seeds", len(sg.Nodes))
		return sg, nil
	}

	maxHop := opts.MaxHops + opts.ChainExtraHops
	for hop := 1; hop <= maxHop && len(frontier) > 0; hop++ {
		chainOnly := hop > opts.MaxHops
		if chainOnly {
			frontier = diseasesOnly(sg, frontier)
			if len(frontier) == 0 {
				break
			}
		}

		fetched, err := r.fetch(ctx, frontier, opts)
		if err != nil {
			if ctx.Err() != nil {
				sg.Partial = true
				r.logger.Debug("deadline reached during retrieval", "hop", hop, "nodes", len(sg.Nodes))
				return sg, nil
			}
			return sg, model.NewStageError(model.StageRetrieval, err)
		}

		kept := selectEdges(sg, frontier, fetched, edgeKeys, opts, chainOnly)

		var next []string
		for _, c := range kept {
			sg.Edges = append(sg.Edges, c.edge)
			edgeKeys[c.edge.Key()] = true
			id := c.node.ID
			if !visited[id] {
				visited[id] = true
				sg.Nodes[id] = c.node
				sg.Depth[id] = hop
				sg.Via[id] = c.edge.Weight
				sg.ViaRelation[id] = c.edge.Relation
				next = append(next, id)
			} else if sg.Depth[id] == hop && c.edge.Weight > sg.Via[id] {
				sg.Via[id] = c.edge.Weight
				sg.ViaRelation[id] = c.edge.Relation
			}
		}
		sort.Strings(next)
		frontier = next

		if ctx.Err() != nil {
			sg.Partial = true
			break
		}
	}

	r.logger.Debug("retrieved subgraph", "seeds", len(seeds), "nodes", len(sg.Nodes), "edges", len(sg.Edges), "partial", sg.Partial)
	return sg, nil
}

// fetch loads neighbors of every frontier node, preserving frontier order.
func (r *Retriever) fetch(ctx context.Context, frontier []string, opts Options) ([][]driver.Neighbor, error) {
	results := make([][]driver.Neighbor, len(frontier))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, id := range frontier {
		g.Go(func() error {
			ns, err := r.store.Neighbors(gctx, id, driver.NeighborQuery{
				Direction: driver.Both,
				Limit:     opts.MaxResultsPerRelation,
			})
			if err != nil {
				if errors.Is(err, model.ErrNodeNotFound) {
					return nil
				}
				return fmt.Errorf("neighbors of %s: %w", id, err)
			}
			results[i] = ns
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type candidate struct {
	edge model.GraphEdge
	node model.GraphNode
}

// selectEdges applies the weight threshold and keeps the top
// MaxResultsPerRelation new edges of each relation for this hop.
func selectEdges(sg *model.Subgraph, frontier []string, fetched [][]driver.Neighbor, known map[string]bool, opts Options, chainOnly bool) []candidate {
	byRel := make(map[model.Relation][]candidate)
	seen := make(map[string]bool)
	for i, id := range frontier {
		for _, n := range fetched[i] {
			e := n.Edge
			if n.Node.ID == "" || n.Node.ID == id {
				continue
			}
			if known[e.Key()] || seen[e.Key()] {
				continue
			}
			if e.Relation.Weighted() && e.Weight < opts.WeightThreshold {
				continue
			}
			if chainOnly && !(e.Relation.Chain() && sg.Nodes[id].Kind == model.KindDisease && n.Node.Kind == model.KindDisease) {
				continue
			}
			seen[e.Key()] = true
			byRel[e.Relation] = append(byRel[e.Relation], candidate{edge: e, node: n.Node})
		}
	}

	var kept []candidate
	for _, rel := range model.Relations {
		cs := byRel[rel]
		sort.Slice(cs, func(i, j int) bool {
			if cs[i].edge.Weight != cs[j].edge.Weight {
				return cs[i].edge.Weight > cs[j].edge.Weight
			}
			if cs[i].node.ID != cs[j].node.ID {
				return cs[i].node.ID < cs[j].node.ID
			}
			return cs[i].edge.Key() < cs[j].edge.Key()
		})
		if len(cs) > opts.MaxResultsPerRelation {
			cs = cs[:opts.MaxResultsPerRelation]
		}
		kept = append(kept, cs...)
	}
	return kept
}

// uniqueSeeds returns one seed per node id, ordered by id.
func uniqueSeeds(seeds []model.LinkedEntity) []model.LinkedEntity {
	seen := make(map[string]bool, len(seeds))
	var out []model.LinkedEntity
	for _, s := range seeds {
		if !seen[s.NodeID] {
			seen[s.NodeID] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// seedNode stands in for a seed the store could not be asked about in time.
func seedNode(s model.LinkedEntity) model.GraphNode {
	return model.GraphNode{ID: s.NodeID, Kind: s.Kind, Name: s.Name}
}

func diseasesOnly(sg *model.Subgraph, ids []string) []string {
	var out []string
	for _, id := range ids {
		if sg.Nodes[id].Kind == model.KindDisease {
			out = append(out, id)
		}
	}
	return out
}
