package assembler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/agenthands/medrag/internal/core/model"
)

type Options struct {
	MaxContextBytes  int `toml:"max_context_bytes" json:"max_context_bytes" validate:"gt=0"`
	DescriptionRunes int `toml:"description_runes" json:"description_runes" validate:"gte=0"`
}

func DefaultOptions() Options {
	return Options{MaxContextBytes: 4096, DescriptionRunes: 120}
}

type Assembler struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{logger: logger.With("component", "assembler")}
}

type placed struct {
	rank int
	item model.ContextItem
}

// Assemble packs ranked nodes into per-kind buckets under a byte budget.
// Seeds are always included. Remaining nodes are taken in rank order and a
// bucket is closed as soon as its next item would overflow the budget. When
// the seeds alone overflow, only seeds are emitted and SeedsOverBudget is set.
func (a *Assembler) Assemble(ranking *model.Ranking, opts Options) (*model.RankedContext, error) {
	if opts.MaxContextBytes <= 0 {
		return nil, model.NewStageError(model.StageAssembly, fmt.Errorf("max context bytes must be positive, got %d", opts.MaxContextBytes))
	}
	out := &model.RankedContext{Budget: opts.MaxContextBytes}
	if ranking == nil {
		return out, nil
	}
	out.Partial = ranking.Partial

	buckets := make(map[bucket][]placed)
	size := 0

	for i, n := range ranking.Nodes {
		if !n.Seed {
			continue
		}
		b := bucketOf(n)
		if b == bucketNone {
			continue
		}
		item := toItem(n, opts.DescriptionRunes)
		size += itemSize(item)
		buckets[b] = append(buckets[b], placed{rank: i, item: item})
	}

	if size > opts.MaxContextBytes {
		out.SeedsOverBudget = true
		out.Dropped = len(ranking.Nodes) - countSeeds(ranking.Nodes)
		a.logger.Warn("seed entities exceed context budget", "size", size, "budget", opts.MaxContextBytes)
	} else {
		closed := make(map[bucket]bool)
		for i, n := range ranking.Nodes {
			if n.Seed {
				continue
			}
			b := bucketOf(n)
			if b == bucketNone || closed[b] {
				out.Dropped++
				continue
			}
			item := toItem(n, opts.DescriptionRunes)
			s := itemSize(item)
			if size+s > opts.MaxContextBytes {
				closed[b] = true
				out.Dropped++
				continue
			}
			size += s
			buckets[b] = append(buckets[b], placed{rank: i, item: item})
		}
	}
	out.SizeBytes = size

	for b, items := range buckets {
		sort.Slice(items, func(i, j int) bool { return items[i].rank < items[j].rank })
		list := make([]model.ContextItem, len(items))
		for i, p := range items {
			list[i] = p.item
		}
		b.assign(out, list)
	}

	a.logger.Debug("assembled context", "items", out.Len(), "bytes", out.SizeBytes, "budget", opts.MaxContextBytes, "dropped", out.Dropped)
	return out, nil
}

type bucket int

const (
	bucketDiseases bucket = iota
	bucketSymptoms
	bucketDrugs
	bucketChecks
	bucketDepartments
	bucketEat
	bucketAvoid
	bucketFoodRelated
	bucketPrevention
	bucketNone
)

func bucketOf(n model.ScoredNode) bucket {
	switch n.Node.Kind {
	case model.KindDisease:
		return bucketDiseases
	case model.KindSymptom:
		return bucketSymptoms
	case model.KindDrug:
		return bucketDrugs
	case model.KindCheck:
		return bucketChecks
	case model.KindDepartment:
		return bucketDepartments
	case model.KindFood:
		switch n.Relation {
		case model.RelShouldEat:
			return bucketEat
		case model.RelShouldAvoid:
			return bucketAvoid
		}
		return bucketFoodRelated
	case model.KindMeasureMethod:
		return bucketPrevention
	}
	return bucketNone
}

func (b bucket) assign(c *model.RankedContext, items []model.ContextItem) {
	switch b {
	case bucketDiseases:
		c.Diseases = items
	case bucketSymptoms:
		c.Symptoms = items
	case bucketDrugs:
		c.Drugs = items
	case bucketChecks:
		c.Checks = items
	case bucketDepartments:
		c.Departments = items
	case bucketEat:
		c.Dietary.Eat = items
	case bucketAvoid:
		c.Dietary.Avoid = items
	case bucketFoodRelated:
		c.Dietary.Related = items
	case bucketPrevention:
		c.Prevention = items
	}
}

func toItem(n model.ScoredNode, descRunes int) model.ContextItem {
	return model.ContextItem{
		ID:          n.Node.ID,
		Name:        n.Node.Name,
		Kind:        n.Node.Kind,
		Score:       n.Score,
		Seed:        n.Seed,
		Relation:    n.Relation,
		Weight:      n.Weight,
		Description: truncate(n.Node.Description(), descRunes),
	}
}

func truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "…"
}

// itemSize is the serialized length of an item plus one separator byte.
func itemSize(item model.ContextItem) int {
	data, err := json.Marshal(item)
	if err != nil {
		return 0
	}
	return len(data) + 1
}

// ItemSize exposes the accounting used for the budget.
func ItemSize(item model.ContextItem) int { return itemSize(item) }

func countSeeds(nodes []model.ScoredNode) int {
	n := 0
	for _, s := range nodes {
		if s.Seed {
			n++
		}
	}
	return n
}
