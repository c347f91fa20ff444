package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/medrag/internal/core/cache"
	"github.com/agenthands/medrag/internal/core/lexicon"
	"github.com/agenthands/medrag/internal/core/model"
	"github.com/agenthands/medrag/internal/driver"
	"github.com/agenthands/medrag/internal/embedstore"
)

type countingEmbedder struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.texts = append(e.texts, text)
	return []float32{float32(len([]rune(text))), 1}, nil
}

func (e *countingEmbedder) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

type fakeAck struct {
	acked, nacked int
	requeue       bool
	err           error
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error { a.acked++; return a.err }
func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return a.err
}
func (a *fakeAck) Reject(tag uint64, requeue bool) error { return nil }

func fixtureStore() *driver.MemoryStore {
	s := driver.NewMemoryStore()
	s.Link(model.KindDisease, "感冒", model.RelHasSymptom, model.KindSymptom, "发热", 0.9)
	s.Link(model.KindDisease, "感冒", model.RelRecommendDrug, model.KindDrug, "布洛芬", 1)
	return s
}

func TestReindexSwapsIndex(t *testing.T) {
	store := fixtureStore()
	holder := lexicon.NewHolder(nil)
	c := cache.New(cache.DefaultOptions())
	c.Put(1, &model.RankedContext{})

	r := New(store, holder, nil)
	r.Cache = c
	rep, err := r.Reindex(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Nodes)
	assert.Equal(t, 3, holder.Load().Size())
	assert.False(t, holder.Load().HasEmbeddings())
	assert.Zero(t, c.Len(), "cache is purged after a swap")

	matches := holder.Load().Lookup("感冒")
	require.Len(t, matches, 1)
	assert.Equal(t, "Disease:感冒", matches[0].NodeID)
}

func TestReindexPicksUpNewNodes(t *testing.T) {
	store := fixtureStore()
	holder := lexicon.NewHolder(nil)
	r := New(store, holder, nil)

	_, err := r.Reindex(context.Background())
	require.NoError(t, err)
	old := holder.Load()
	assert.Empty(t, old.Lookup("肺炎"))

	store.Link(model.KindDisease, "感冒", model.RelComplication, model.KindDisease, "肺炎", 0.6)
	_, err = r.Reindex(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, holder.Load().Lookup("肺炎"))
	assert.Empty(t, old.Lookup("肺炎"), "old snapshot is unchanged")
}

func TestReindexReusesStoredEmbeddings(t *testing.T) {
	ctx := context.Background()
	store := fixtureStore()
	holder := lexicon.NewHolder(nil)
	emb := &countingEmbedder{}
	vectors := embedstore.NewMemoryStore()
	require.NoError(t, vectors.Upsert(ctx, "m", map[string][]float32{
		"Disease:感冒":  {9, 9},
		"Disease:已删除": {1, 1},
	}))

	r := New(store, holder, nil)
	r.Embedder = emb
	r.Embeddings = vectors
	r.Model = "m"

	rep, err := r.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reused)
	assert.Equal(t, 2, rep.Embedded)
	assert.Equal(t, int64(1), rep.Pruned)
	assert.ElementsMatch(t, []string{"发热", "布洛芬"}, emb.calls())

	v, ok := holder.Load().Embedding("Disease:感冒")
	require.True(t, ok)
	assert.Equal(t, []float32{9, 9}, v)
	assert.Equal(t, []string{"Disease:感冒", "Drug:布洛芬", "Symptom:发热"}, vectors.IDs("m"))

	// A second rebuild embeds nothing new.
	rep, err = r.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Reused)
	assert.Zero(t, rep.Embedded)
	assert.Len(t, emb.calls(), 2)
}

func TestReindexEmbedderFailureStillSwaps(t *testing.T) {
	store := fixtureStore()
	holder := lexicon.NewHolder(nil)
	r := New(store, holder, nil)
	r.Embedder = &countingEmbedder{err: errors.New("provider down")}

	_, err := r.Reindex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, holder.Load().Size())
	assert.NotEmpty(t, holder.Load().Lookup("发热"))
}

func TestReindexStoreFailure(t *testing.T) {
	holder := lexicon.NewHolder(nil)
	before := holder.Load()
	r := New(fixtureStore(), holder, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Reindex(ctx)
	require.Error(t, err)
	assert.Same(t, before, holder.Load())
}

func TestEveryZeroIntervalReturns(t *testing.T) {
	r := New(fixtureStore(), lexicon.NewHolder(nil), nil)
	done := make(chan struct{})
	go func() {
		r.Every(context.Background(), 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Every with zero interval did not return")
	}
}

func TestEveryRebuildsOnTick(t *testing.T) {
	holder := lexicon.NewHolder(nil)
	r := New(fixtureStore(), holder, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Every(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return holder.Load().Size() == 3 }, time.Second, 5*time.Millisecond)
}

func TestHandleRebuildsAndAcks(t *testing.T) {
	holder := lexicon.NewHolder(nil)
	r := New(fixtureStore(), holder, nil)
	tr := NewAMQPTrigger("", "x", "q", "k", r, nil)

	body, _ := json.Marshal(Event{Reason: "import", At: time.Now().Add(time.Minute)})
	ack := &fakeAck{}
	tr.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: body})

	assert.Equal(t, 1, ack.acked)
	assert.Equal(t, 3, holder.Load().Size())
}

func TestHandleSkipsStaleEvent(t *testing.T) {
	holder := lexicon.NewHolder(nil)
	r := New(fixtureStore(), holder, nil)
	tr := NewAMQPTrigger("", "x", "q", "k", r, nil)

	ack := &fakeAck{}
	tr.handle(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Timestamp:    holder.Load().BuiltAt().Add(-time.Hour),
	})

	assert.Equal(t, 1, ack.acked)
	assert.Zero(t, holder.Load().Size(), "stale event does not rebuild")
}

func TestHandleNacksOnFailure(t *testing.T) {
	r := New(fixtureStore(), lexicon.NewHolder(nil), nil)
	tr := NewAMQPTrigger("", "x", "q", "k", r, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ack := &fakeAck{}
	tr.handle(ctx, amqp.Delivery{Acknowledger: ack})
	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeue)

	ack = &fakeAck{}
	tr.handle(ctx, amqp.Delivery{Acknowledger: ack, Redelivered: true})
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeue)
}

func TestHandleLogsAcknowledgementFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := New(fixtureStore(), lexicon.NewHolder(nil), nil)
	tr := NewAMQPTrigger("", "x", "q", "k", r, logger)

	ack := &fakeAck{err: amqp.ErrClosed}
	tr.handle(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 7})
	assert.Equal(t, 1, ack.acked)
	assert.Contains(t, buf.String(), "failed to ack graph update event")
	assert.Contains(t, buf.String(), "delivery_tag=7")

	buf.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ack = &fakeAck{err: amqp.ErrClosed}
	tr.handle(ctx, amqp.Delivery{Acknowledger: ack, DeliveryTag: 8})
	assert.Equal(t, 1, ack.nacked)
	assert.Contains(t, buf.String(), "failed to nack graph update event")
}
