package ranker

import (
	"log/slog"
	"math"
	"sort"

	"github.com/agenthands/medrag/internal/core/common"
	"github.com/agenthands/medrag/internal/core/model"
)

// PopularitySource reports how often a node has been served in past answers.
type PopularitySource interface {
	Popularity(id string) int64
}

// VectorSource exposes precomputed node embeddings.
type VectorSource interface {
	Embedding(id string) ([]float32, bool)
}

type Input struct {
	Subgraph *model.Subgraph
	Question string
	// QuestionVector enables embedding similarity when Vectors is set.
	QuestionVector []float32
	Vectors        VectorSource
	Weights        Weights
	// Limit caps the number of non-seed nodes kept. Zero keeps all.
	Limit int
}

type Ranker struct {
	popularity PopularitySource
	logger     *slog.Logger
}

// New creates a Ranker. popularity may be nil.
func New(popularity PopularitySource, logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{popularity: popularity, logger: logger.With("component", "ranker")}
}

// Rank scores every subgraph node. Output is ordered by score descending,
// ties by node id ascending, and is identical for identical input.
func (r *Ranker) Rank(in Input) (*model.Ranking, error) {
	w := in.Weights
	if w.IsZero() {
		w = DefaultWeights()
	}
	w, err := w.Normalize()
	if err != nil {
		return nil, model.NewStageError(model.StageRanking, err)
	}

	sg := in.Subgraph
	if sg == nil {
		return &model.Ranking{}, nil
	}

	ids := sg.NodeIDs()
	counts := make(map[string]int64, len(ids))
	var maxCount int64
	if r.popularity != nil {
		for _, id := range ids {
			c := r.popularity.Popularity(id)
			counts[id] = c
			if c > maxCount {
				maxCount = c
			}
		}
	}

	nodes := make([]model.ScoredNode, 0, len(ids))
	scores := make(map[string]float64, len(ids))
	for _, id := range ids {
		n := sg.Nodes[id]
		terms := model.ScoreTerms{
			EdgeWeight:    clamp(sg.Via[id]),
			TextRelevance: r.textRelevance(in, n),
			Importance:    Importance(n),
		}
		if maxCount > 0 {
			terms.Popularity = float64(counts[id]) / float64(maxCount)
		}
		s := w.score(terms)
		scores[id] = s
		nodes = append(nodes, model.ScoredNode{
			Node:     n,
			Score:    s,
			Terms:    terms,
			Seed:     sg.IsSeed(id),
			Depth:    sg.Depth[id],
			Relation: sg.ViaRelation[id],
			Weight:   sg.Via[id],
		})
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Score != nodes[j].Score {
			return nodes[i].Score > nodes[j].Score
		}
		return nodes[i].Node.ID < nodes[j].Node.ID
	})
	if in.Limit > 0 {
		nodes = limitKeepingSeeds(nodes, in.Limit)
	}

	edges := make([]model.ScoredEdge, 0, len(sg.Edges))
	for _, e := range sg.Edges {
		reached := e.TargetID
		if sg.Depth[e.SourceID] > sg.Depth[e.TargetID] {
			reached = e.SourceID
		}
		edges = append(edges, model.ScoredEdge{Edge: e, Score: clamp(e.Weight) * scores[reached]})
	}
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Score != edges[j].Score {
			return edges[i].Score > edges[j].Score
		}
		return edges[i].Edge.Key() < edges[j].Edge.Key()
	})

	r.logger.Debug("ranked subgraph", "nodes", len(nodes), "edges", len(edges))
	return &model.Ranking{Nodes: nodes, Edges: edges, Partial: sg.Partial}, nil
}

func (r *Ranker) textRelevance(in Input, n model.GraphNode) float64 {
	lexical := TextRelevance(in.Question, n)
	if in.Vectors == nil || len(in.QuestionVector) == 0 {
		return lexical
	}
	vec, ok := in.Vectors.Embedding(n.ID)
	if !ok {
		return lexical
	}
	return math.Max(lexical, clamp(common.Cosine(in.QuestionVector, vec)))
}

func limitKeepingSeeds(nodes []model.ScoredNode, limit int) []model.ScoredNode {
	out := make([]model.ScoredNode, 0, min(len(nodes), limit))
	kept := 0
	for _, n := range nodes {
		if n.Seed {
			out = append(out, n)
			continue
		}
		if kept < limit {
			out = append(out, n)
			kept++
		}
	}
	return out
}
