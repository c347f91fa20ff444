package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/agenthands/medrag/internal/core/model"
	"github.com/agenthands/medrag/internal/driver"
)

// DiagnoseBySymptoms ranks diseases by the summed HAS_SYMPTOM weight of the
// given symptoms. Names are resolved through the lexicon first so that
// normalized spellings still match.
func (e *Engine) DiagnoseBySymptoms(ctx context.Context, symptoms []string, limit int) ([]driver.DiseaseMatch, error) {
	ix := e.Lexicon.Load()
	names := make([]string, 0, len(symptoms))
	seen := make(map[string]bool)
	for _, s := range symptoms {
		name := s
		if m := ix.Lookup(s, model.KindSymptom); len(m) > 0 {
			name = m[0].Name
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, nil
	}

	if ds, ok := e.Store.(driver.DiagnosisStore); ok {
		matches, err := ds.DiseasesBySymptoms(ctx, names, limit)
		if err != nil {
			return nil, model.NewStageError(model.StageRetrieval, err)
		}
		return matches, nil
	}
	return e.diagnoseByNeighbors(ctx, names, limit)
}

func (e *Engine) diagnoseByNeighbors(ctx context.Context, names []string, limit int) ([]driver.DiseaseMatch, error) {
	agg := make(map[string]*driver.DiseaseMatch)
	for _, name := range names {
		ns, err := e.Store.Neighbors(ctx, model.NodeID(model.KindSymptom, name), driver.NeighborQuery{
			Relation:  model.RelHasSymptom,
			Direction: driver.Incoming,
		})
		if err != nil {
			e.logger.Debug("symptom neighbors unavailable", "symptom", name, "error", err)
			continue
		}
		for _, n := range ns {
			dm, ok := agg[n.Node.ID]
			if !ok {
				dm = &driver.DiseaseMatch{Node: n.Node}
				agg[n.Node.ID] = dm
			}
			dm.TotalWeight += n.Edge.Weight
			dm.Matched++
		}
	}

	out := make([]driver.DiseaseMatch, 0, len(agg))
	for _, dm := range agg {
		out = append(out, *dm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalWeight != out[j].TotalWeight {
			return out[i].TotalWeight > out[j].TotalWeight
		}
		return out[i].Node.ID < out[j].Node.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DiseaseContext assembles the one-hop neighborhood of a disease: its
// symptoms, drugs, checks, departments, foods and prevention measures.
func (e *Engine) DiseaseContext(ctx context.Context, name string, opts Options) (*model.RankedContext, error) {
	o, err := e.resolve(opts)
	if err != nil {
		return nil, err
	}
	ix := e.Lexicon.Load()
	matches := ix.Lookup(name, model.KindDisease)
	if len(matches) == 0 {
		return nil, model.NewStageError(model.StageLinking, fmt.Errorf("disease %q: %w", name, model.ErrNodeNotFound))
	}
	m := matches[0]
	seed := model.LinkedEntity{
		Span:       model.Span{Start: 0, End: len([]rune(name)), Text: name},
		NodeID:     m.NodeID,
		Kind:       m.Kind,
		Name:       m.Name,
		Method:     model.MatchExact,
		Confidence: 1,
	}

	if o.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.deadline)
		defer cancel()
	}
	o.retrieval.MaxHops = 1
	o.retrieval.ChainExtraHops = 0
	built, err := e.build(ctx, ix, m.Name, []model.LinkedEntity{seed}, o)
	if err != nil {
		return nil, err
	}
	return built.context, nil
}
