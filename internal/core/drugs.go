package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cast"

	"github.com/agenthands/medrag/internal/core/model"
	"github.com/agenthands/medrag/internal/driver"
)

// DrugInfo is a drug node together with the diseases it is recommended for.
type DrugInfo struct {
	Drug     model.GraphNode `json:"drug"`
	Diseases []string        `json:"diseases"`
}

// DrugUse is a drug recommended for a disease, with the usage notes stored
// on the RECOMMAND_DRUG edge.
type DrugUse struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Usage       string `json:"usage,omitempty"`
	Frequency   string `json:"frequency,omitempty"`
}

// LookupDrug returns a drug's attributes and the diseases recommending it.
func (e *Engine) LookupDrug(ctx context.Context, name string) (*DrugInfo, error) {
	id, err := e.resolveName(name, model.KindDrug)
	if err != nil {
		return nil, err
	}
	node, err := e.Store.GetNode(ctx, id)
	if err != nil {
		return nil, model.NewStageError(stageFor(err), err)
	}
	ns, err := e.Store.Neighbors(ctx, id, driver.NeighborQuery{
		Relation:  model.RelRecommendDrug,
		Direction: driver.Incoming,
	})
	if err != nil {
		return nil, model.NewStageError(model.StageRetrieval, err)
	}
	info := &DrugInfo{Drug: node, Diseases: []string{}}
	for _, n := range ns {
		info.Diseases = append(info.Diseases, n.Node.Name)
	}
	return info, nil
}

// DrugsForDisease lists the drugs recommended for a disease, heaviest edge first.
func (e *Engine) DrugsForDisease(ctx context.Context, disease string) ([]DrugUse, error) {
	id, err := e.resolveName(disease, model.KindDisease)
	if err != nil {
		return nil, err
	}
	ns, err := e.Store.Neighbors(ctx, id, driver.NeighborQuery{
		Relation:  model.RelRecommendDrug,
		Direction: driver.Outgoing,
	})
	if err != nil {
		return nil, model.NewStageError(stageFor(err), err)
	}
	out := make([]DrugUse, 0, len(ns))
	for _, n := range ns {
		out = append(out, DrugUse{
			Name:        n.Node.Name,
			Description: n.Node.Description(),
			Usage:       cast.ToString(n.Edge.Attributes["usage"]),
			Frequency:   cast.ToString(n.Edge.Attributes["frequency"]),
		})
	}
	return out, nil
}

// resolveName maps a name of the given kind to its node id through the lexicon.
func (e *Engine) resolveName(name string, kind model.Kind) (string, error) {
	matches := e.Lexicon.Load().Lookup(name, kind)
	if len(matches) == 0 {
		return "", model.NewStageError(model.StageLinking, fmt.Errorf("%s %q: %w", kind, name, model.ErrNodeNotFound))
	}
	return matches[0].NodeID, nil
}

func stageFor(err error) model.Stage {
	if errors.Is(err, model.ErrNodeNotFound) {
		return model.StageLinking
	}
	return model.StageRetrieval
}
