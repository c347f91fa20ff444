package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/cast"

	"github.com/agenthands/medrag/internal/core/model"
)

// RetryPolicy bounds retries of failed store calls.
type RetryPolicy struct {
	MaxAttempts     int           `toml:"max_attempts" validate:"gte=1,lte=10"`
	InitialInterval time.Duration `toml:"initial_interval"`
	MaxInterval     time.Duration `toml:"max_interval"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// DiseaseMatch is a disease ranked by how strongly it explains a set of symptoms.
type DiseaseMatch struct {
	Node        model.GraphNode `json:"node"`
	TotalWeight float64         `json:"total_weight"`
	Matched     int             `json:"matched"`
}

// DiagnosisStore is implemented by stores that can rank diseases by symptoms
// in a single query.
type DiagnosisStore interface {
	DiseasesBySymptoms(ctx context.Context, symptoms []string, limit int) ([]DiseaseMatch, error)
}

// Neo4jStore implements GraphStore over a GraphDriver. Every call is retried
// with exponential backoff; exhausted retries surface as model.ErrGraphUnavailable.
type Neo4jStore struct {
	driver GraphDriver
	retry  RetryPolicy
	logger *slog.Logger
}

func NewNeo4jStore(d GraphDriver, retry RetryPolicy, logger *slog.Logger) *Neo4jStore {
	if logger == nil {
		logger = slog.Default()
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Neo4jStore{driver: d, retry: retry, logger: logger.With("component", "graph_store")}
}

func (s *Neo4jStore) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if s.retry.InitialInterval > 0 {
		exp.InitialInterval = s.retry.InitialInterval
	}
	if s.retry.MaxInterval > 0 {
		exp.MaxInterval = s.retry.MaxInterval
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.retry.MaxAttempts-1)), ctx)
}

func (s *Neo4jStore) run(ctx context.Context, op, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	var result neo4j.EagerResult
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		res, err := s.driver.ExecuteQuery(ctx, query, params)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			s.logger.Warn("graph query failed", "op", op, "attempt", attempts, "error", err)
			return err
		}
		result = res
		return nil
	}, s.backOff(ctx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return result, fmt.Errorf("%s failed after %d attempts: %w: %w", op, attempts, model.ErrGraphUnavailable, err)
	}
	return result, nil
}

func (s *Neo4jStore) GetNode(ctx context.Context, id string) (model.GraphNode, error) {
	kind, name, err := model.SplitNodeID(id)
	if err != nil {
		return model.GraphNode{}, err
	}
	res, err := s.run(ctx, "get node", fmt.Sprintf(GetNodeQuery, kind), map[string]interface{}{"name": name})
	if err != nil {
		return model.GraphNode{}, err
	}
	for _, rec := range res.Records {
		if n, ok := recordNode(rec, "n", kind); ok {
			return n, nil
		}
	}
	return model.GraphNode{}, fmt.Errorf("%s: %w", id, model.ErrNodeNotFound)
}

func (s *Neo4jStore) LookupByName(ctx context.Context, name string, kinds ...model.Kind) ([]model.GraphNode, error) {
	res, err := s.run(ctx, "lookup by name", LookupByNameQuery, map[string]interface{}{"name": name})
	if err != nil {
		return nil, err
	}
	return filterKinds(recordNodes(res, "n"), kinds), nil
}

func (s *Neo4jStore) AllNodes(ctx context.Context) ([]model.GraphNode, error) {
	res, err := s.run(ctx, "all nodes", AllNodesQuery, nil)
	if err != nil {
		return nil, err
	}
	return recordNodes(res, "n"), nil
}

func (s *Neo4jStore) Neighbors(ctx context.Context, id string, q NeighborQuery) ([]Neighbor, error) {
	kind, name, err := model.SplitNodeID(id)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	relType := ""
	if q.Relation != "" {
		if !q.Relation.Valid() {
			return nil, fmt.Errorf("invalid relation %q", q.Relation)
		}
		relType = ":" + string(q.Relation)
	}
	var pattern string
	switch q.Direction {
	case Outgoing:
		pattern = "-[r" + relType + "]->"
	case Incoming:
		pattern = "<-[r" + relType + "]-"
	default:
		pattern = "-[r" + relType + "]-"
	}

	query := fmt.Sprintf(NeighborsQuery, kind, pattern)
	res, err := s.run(ctx, "neighbors", query, map[string]interface{}{"name": name, "limit": limit})
	if err != nil {
		return nil, err
	}

	var out []Neighbor
	for _, rec := range res.Records {
		other, ok := recordNode(rec, "m", "")
		if !ok {
			continue
		}
		relRaw, _ := rec.Get("rel")
		rel, err := model.ParseRelation(cast.ToString(relRaw))
		if err != nil {
			s.logger.Debug("skipping unknown relation", "relation", relRaw)
			continue
		}
		outgoing, _ := rec.Get("outgoing")
		weightRaw, _ := rec.Get("weight")
		weight, err := cast.ToFloat64E(weightRaw)
		if err != nil {
			weight = model.DefaultEdgeWeight
		}
		propsRaw, _ := rec.Get("props")
		props, _ := propsRaw.(map[string]interface{})
		delete(props, "weight")

		edge := model.GraphEdge{SourceID: id, TargetID: other.ID, Relation: rel, Weight: weight, Attributes: props}
		if !cast.ToBool(outgoing) {
			edge.SourceID, edge.TargetID = other.ID, id
		}
		out = append(out, Neighbor{Edge: edge, Node: other})
	}
	SortNeighbors(out)
	return out, nil
}

func (s *Neo4jStore) DiseasesBySymptoms(ctx context.Context, symptoms []string, limit int) ([]DiseaseMatch, error) {
	res, err := s.run(ctx, "diseases by symptoms", DiseasesBySymptomsQuery, map[string]interface{}{
		"symptoms": symptoms,
		"limit":    limit,
	})
	if err != nil {
		return nil, err
	}
	var out []DiseaseMatch
	for _, rec := range res.Records {
		n, ok := recordNode(rec, "n", model.KindDisease)
		if !ok {
			continue
		}
		total, _ := rec.Get("total_weight")
		matched, _ := rec.Get("matched")
		out = append(out, DiseaseMatch{Node: n, TotalWeight: cast.ToFloat64(total), Matched: cast.ToInt(matched)})
	}
	return out, nil
}

// SortNeighbors orders by weight desc, then neighbor id asc.
func SortNeighbors(ns []Neighbor) {
	sort.SliceStable(ns, func(i, j int) bool {
		if ns[i].Edge.Weight != ns[j].Edge.Weight {
			return ns[i].Edge.Weight > ns[j].Edge.Weight
		}
		return ns[i].Node.ID < ns[j].Node.ID
	})
}

func recordNodes(res neo4j.EagerResult, key string) []model.GraphNode {
	var out []model.GraphNode
	for _, rec := range res.Records {
		if n, ok := recordNode(rec, key, ""); ok {
			out = append(out, n)
		}
	}
	return out
}

// recordNode converts a bolt node into a GraphNode. When kind is empty the
// first label that is a known Kind is used.
func recordNode(rec *neo4j.Record, key string, kind model.Kind) (model.GraphNode, bool) {
	raw, ok := rec.Get(key)
	if !ok {
		return model.GraphNode{}, false
	}
	n, ok := raw.(neo4j.Node)
	if !ok {
		return model.GraphNode{}, false
	}
	if kind == "" {
		for _, label := range n.Labels {
			if k, err := model.ParseKind(label); err == nil {
				kind = k
				break
			}
		}
	}
	name := cast.ToString(n.Props["name"])
	if kind == "" || name == "" {
		return model.GraphNode{}, false
	}

	attrs := make(map[string]interface{}, len(n.Props))
	for k, v := range n.Props {
		if k != "name" {
			attrs[k] = v
		}
	}
	node := model.NewNode(kind, name, attrs)
	if t, err := cast.ToTimeE(attrs["created_at"]); err == nil {
		node.CreatedAt = t
	}
	if t, err := cast.ToTimeE(attrs["updated_at"]); err == nil {
		node.UpdatedAt = t
	}
	return node, true
}

func filterKinds(nodes []model.GraphNode, kinds []model.Kind) []model.GraphNode {
	if len(kinds) == 0 {
		return nodes
	}
	allowed := make(map[model.Kind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	var out []model.GraphNode
	for _, n := range nodes {
		if allowed[n.Kind] {
			out = append(out, n)
		}
	}
	return out
}
