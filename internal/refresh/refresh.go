// Package refresh rebuilds the lexicon index from the graph store and
// publishes it with a single swap.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agenthands/medrag/internal/core/cache"
	"github.com/agenthands/medrag/internal/core/lexicon"
	"github.com/agenthands/medrag/internal/core/model"
	"github.com/agenthands/medrag/internal/driver"
	"github.com/agenthands/medrag/internal/embedstore"
	"github.com/agenthands/medrag/internal/llm"
)

const defaultBatchSize = 64

// Report describes one rebuild.
type Report struct {
	Nodes    int           `json:"nodes"`
	Reused   int           `json:"reused_embeddings"`
	Embedded int           `json:"new_embeddings"`
	Pruned   int64         `json:"pruned_embeddings"`
	BuiltAt  time.Time     `json:"built_at"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

type Refresher struct {
	Store  driver.GraphStore
	Holder *lexicon.Holder
	// Embedder and Embeddings are optional. Without an embedder the index
	// carries no vectors and vector linking is off.
	Embedder   llm.EmbedderClient
	Embeddings embedstore.Store
	// Cache is purged after every swap since cached contexts refer to the old graph.
	Cache     *cache.Cache
	Model     string
	BatchSize int

	mu     sync.Mutex
	logger *slog.Logger
}

func New(store driver.GraphStore, holder *lexicon.Holder, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		Store:     store,
		Holder:    holder,
		BatchSize: defaultBatchSize,
		logger:    logger.With("component", "refresh"),
	}
}

// Reindex reads every node, fills in missing name embeddings and swaps in the
// new index. Rebuilds are serialized; readers keep the old snapshot until the swap.
func (r *Refresher) Reindex(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	nodes, err := r.Store.AllNodes(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read graph nodes: %w", err)
	}
	rep := Report{Nodes: len(nodes)}

	var opts []lexicon.Option
	if r.Embedder != nil {
		vectors, err := r.embeddings(ctx, nodeNames(nodes), &rep)
		if err != nil {
			// The index is still useful for exact and fuzzy linking.
			r.logger.Warn("embedding refresh failed, building index without new vectors", "error", err)
		}
		opts = append(opts, lexicon.WithEmbeddings(vectors))
	}

	ix := lexicon.Build(nodes, opts...)
	r.Holder.Swap(ix)
	if r.Cache != nil {
		r.Cache.Purge()
	}

	rep.BuiltAt = ix.BuiltAt()
	rep.Elapsed = time.Since(start)
	r.logger.Info("lexicon rebuilt",
		"nodes", rep.Nodes,
		"reused", rep.Reused,
		"embedded", rep.Embedded,
		"pruned", rep.Pruned,
		"elapsed", rep.Elapsed,
	)
	return rep, nil
}

type named struct {
	id   string
	name string
}

func nodeNames(nodes []model.GraphNode) []named {
	out := make([]named, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, named{id: n.ID, name: n.Name})
	}
	return out
}

// embeddings returns a vector for every node it could embed. On error the
// vectors gathered so far are still returned.
func (r *Refresher) embeddings(ctx context.Context, nodes []named, rep *Report) (map[string][]float32, error) {
	vectors := make(map[string][]float32, len(nodes))
	cached := map[string][]float32{}
	if r.Embeddings != nil {
		loaded, err := r.Embeddings.Load(ctx, r.Model)
		if err != nil {
			r.logger.Warn("could not load stored embeddings", "error", err)
		} else {
			cached = loaded
		}
	}

	var missing []named
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.id)
		if v, ok := cached[n.id]; ok {
			vectors[n.id] = v
			rep.Reused++
			continue
		}
		missing = append(missing, n)
	}

	var errs []error
	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, n := range missing {
			texts[i] = n.name
		}
		vecs, err := llm.EmbedAll(ctx, r.Embedder, texts, r.batchSize())
		if err != nil {
			return vectors, fmt.Errorf("embed %d names: %w", len(missing), err)
		}
		if len(vecs) != len(missing) {
			return vectors, fmt.Errorf("embedder returned %d vectors for %d names", len(vecs), len(missing))
		}
		fresh := make(map[string][]float32, len(missing))
		for i, n := range missing {
			fresh[n.id] = vecs[i]
			vectors[n.id] = vecs[i]
		}
		rep.Embedded = len(fresh)
		if r.Embeddings != nil {
			if err := r.Embeddings.Upsert(ctx, r.Model, fresh); err != nil {
				errs = append(errs, fmt.Errorf("store embeddings: %w", err))
			}
		}
	}

	if r.Embeddings != nil {
		pruned, err := r.Embeddings.Prune(ctx, r.Model, ids)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune embeddings: %w", err))
		}
		rep.Pruned = pruned
	}
	return vectors, errors.Join(errs...)
}

func (r *Refresher) batchSize() int {
	if r.BatchSize > 0 {
		return r.BatchSize
	}
	return defaultBatchSize
}

// Every calls Reindex on each tick until ctx is done. A zero interval returns at once.
func (r *Refresher) Every(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.Reindex(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("scheduled reindex failed", "error", err)
			}
		}
	}
}
