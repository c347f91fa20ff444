package cache

import (
	"container/list"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agenthands/medrag/internal/core/lexicon"
	"github.com/agenthands/medrag/internal/core/model"
	"github.com/cespare/xxhash/v2"
)

type Options struct {
	Shards   int           `toml:"shards" json:"shards" validate:"gte=0"`
	Capacity int           `toml:"capacity" json:"capacity" validate:"gte=0"`
	TTL      time.Duration `toml:"ttl" json:"ttl" validate:"gte=0"`
}

func DefaultOptions() Options {
	return Options{Shards: 16, Capacity: 1024}
}

// Entry is a cached assembly result. Entries are never mutated after Put;
// Get installs a copy with a fresh LastUsedAt.
type Entry struct {
	Context    *model.RankedContext
	StoredAt   time.Time
	LastUsedAt time.Time
}

// Key hashes the lexicon generation, the normalized question and the sorted
// seed ids. Contexts built against an older snapshot never match a newer one.
func Key(generation uint64, question string, seedIDs []string) uint64 {
	ids := append([]string(nil), seedIDs...)
	sort.Strings(ids)

	d := xxhash.New()
	_, _ = d.WriteString(strconv.FormatUint(generation, 16))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(lexicon.Normalize(question))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strings.Join(ids, "\x00"))
	return d.Sum64()
}

type cacheItem struct {
	key   uint64
	entry *Entry
}

type shard struct {
	capacity int
	mu       sync.Mutex
	list     *list.List
	items    map[uint64]*list.Element
	hits     map[string]int64
}

// Cache is a sharded LRU of assembled contexts. Each shard has its own lock,
// so eviction in one shard never blocks another.
type Cache struct {
	shards []*shard
	ttl    time.Duration
	now    func() time.Time
}

func New(opts Options) *Cache {
	def := DefaultOptions()
	if opts.Shards <= 0 {
		opts.Shards = def.Shards
	}
	if opts.Capacity <= 0 {
		opts.Capacity = def.Capacity
	}
	per := opts.Capacity / opts.Shards
	if opts.Capacity%opts.Shards != 0 {
		per++
	}

	c := &Cache{ttl: opts.TTL, now: time.Now}
	c.shards = make([]*shard, opts.Shards)
	for i := range c.shards {
		c.shards[i] = &shard{
			capacity: per,
			list:     list.New(),
			items:    make(map[uint64]*list.Element),
			hits:     make(map[string]int64),
		}
	}
	return c
}

func (c *Cache) shardFor(key uint64) *shard {
	return c.shards[key%uint64(len(c.shards))]
}

func (c *Cache) statsFor(id string) *shard {
	return c.shardFor(xxhash.Sum64String(id))
}

// Get returns the entry for key and marks it recently used. Expired entries
// are removed and reported as misses.
func (c *Cache) Get(key uint64) (*Entry, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	element, exists := s.items[key]
	if !exists {
		return nil, false
	}
	item := element.Value.(*cacheItem)
	now := c.now()
	if c.ttl > 0 && now.Sub(item.entry.StoredAt) > c.ttl {
		s.list.Remove(element)
		delete(s.items, key)
		return nil, false
	}
	used := *item.entry
	used.LastUsedAt = now
	element.Value = &cacheItem{key: key, entry: &used}
	s.list.MoveToFront(element)
	return &used, true
}

// Put stores ctx under key, replacing any previous entry.
func (c *Cache) Put(key uint64, ctx *model.RankedContext) *Entry {
	now := c.now()
	entry := &Entry{Context: ctx, StoredAt: now, LastUsedAt: now}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if element, exists := s.items[key]; exists {
		s.list.MoveToFront(element)
		element.Value = &cacheItem{key: key, entry: entry}
		return entry
	}
	if s.list.Len() >= s.capacity {
		s.removeOldest()
	}
	s.items[key] = s.list.PushFront(&cacheItem{key: key, entry: entry})
	return entry
}

func (c *Cache) Remove(key uint64) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if element, exists := s.items[key]; exists {
		s.list.Remove(element)
		delete(s.items, key)
	}
}

func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.list.Len()
		s.mu.Unlock()
	}
	return n
}

// Purge drops every entry but keeps usage statistics.
func (c *Cache) Purge() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.list.Init()
		s.items = make(map[uint64]*list.Element)
		s.mu.Unlock()
	}
}

// Record increments the usage counter of every node served in ctx.
func (c *Cache) Record(ctx *model.RankedContext) {
	if ctx == nil {
		return
	}
	for _, item := range ctx.Items() {
		s := c.statsFor(item.ID)
		s.mu.Lock()
		s.hits[item.ID]++
		s.mu.Unlock()
	}
}

// Popularity is the number of times a node has been served.
func (c *Cache) Popularity(id string) int64 {
	s := c.statsFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[id]
}

func (s *shard) removeOldest() {
	if element := s.list.Back(); element != nil {
		s.list.Remove(element)
		delete(s.items, element.Value.(*cacheItem).key)
	}
}
