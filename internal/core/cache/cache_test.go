package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agenthands/medrag/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contextWith(ids ...string) *model.RankedContext {
	c := &model.RankedContext{}
	for _, id := range ids {
		c.Diseases = append(c.Diseases, model.ContextItem{ID: id})
	}
	return c
}

func TestKeyIgnoresSeedOrderAndSurfaceForm(t *testing.T) {
	a := Key(1, "感冒 头痛怎么办？", []string{"Disease:感冒", "Symptom:头痛"})
	b := Key(1, "感冒  头痛怎么办?", []string{"Symptom:头痛", "Disease:感冒"})
	assert.Equal(t, a, b)

	c := Key(1, "感冒 头痛怎么办？", []string{"Disease:感冒"})
	assert.NotEqual(t, a, c)
}

func TestKeyDependsOnGeneration(t *testing.T) {
	ids := []string{"Disease:感冒"}
	assert.NotEqual(t, Key(1, "感冒怎么办", ids), Key(2, "感冒怎么办", ids))
}

func TestGetRecordsLastUse(t *testing.T) {
	c := New(Options{Shards: 1, Capacity: 4})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	key := Key(1, "q", []string{"Disease:感冒"})
	stored := c.Put(key, contextWith("Disease:感冒"))
	assert.Equal(t, now, stored.LastUsedAt)

	now = now.Add(time.Minute)
	entry, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, now, entry.LastUsedAt)
	assert.Equal(t, now.Add(-time.Minute), entry.StoredAt)
	assert.Equal(t, now.Add(-time.Minute), stored.LastUsedAt, "entries handed out earlier are not mutated")
	assert.Same(t, stored.Context, entry.Context)
}

func TestGetPut(t *testing.T) {
	c := New(DefaultOptions())
	key := Key(1, "q", []string{"Disease:感冒"})

	_, ok := c.Get(key)
	assert.False(t, ok)

	ctx := contextWith("Disease:感冒")
	c.Put(key, ctx)
	entry, ok := c.Get(key)
	require.True(t, ok)
	assert.Same(t, ctx, entry.Context)

	replacement := contextWith("Disease:肺炎")
	c.Put(key, replacement)
	entry, ok = c.Get(key)
	require.True(t, ok)
	assert.Same(t, replacement, entry.Context)
	assert.Equal(t, 1, c.Len())
}

func TestLRUEviction(t *testing.T) {
	c := New(Options{Shards: 1, Capacity: 2})
	c.Put(1, contextWith("a"))
	c.Put(2, contextWith("b"))
	_, _ = c.Get(1)
	c.Put(3, contextWith("c"))

	_, ok := c.Get(2)
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = c.Get(1)
	assert.True(t, ok)
	_, ok = c.Get(3)
	assert.True(t, ok)
}

func TestTTL(t *testing.T) {
	c := New(Options{Shards: 2, Capacity: 4, TTL: time.Minute})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put(7, contextWith("a"))
	_, ok := c.Get(7)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(7)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestRemoveAndPurge(t *testing.T) {
	c := New(DefaultOptions())
	c.Put(1, contextWith("a"))
	c.Put(2, contextWith("b"))
	c.Record(contextWith("a"))

	c.Remove(1)
	_, ok := c.Get(1)
	assert.False(t, ok)

	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(1), c.Popularity("a"))
}

func TestPopularity(t *testing.T) {
	c := New(DefaultOptions())
	c.Record(contextWith("Disease:感冒", "Symptom:头痛"))
	c.Record(contextWith("Disease:感冒"))
	c.Record(nil)

	assert.Equal(t, int64(2), c.Popularity("Disease:感冒"))
	assert.Equal(t, int64(1), c.Popularity("Symptom:头痛"))
	assert.Equal(t, int64(0), c.Popularity("Drug:布洛芬"))
}

func TestConcurrentAccess(t *testing.T) {
	c := New(Options{Shards: 4, Capacity: 64})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := Key(1, fmt.Sprintf("q%d", i%50), nil)
				if _, ok := c.Get(key); !ok {
					c.Put(key, contextWith(fmt.Sprintf("n%d", i%10)))
				}
				c.Record(contextWith("shared"))
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 64)
	assert.Equal(t, int64(8*200), c.Popularity("shared"))
}
