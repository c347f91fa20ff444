package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/samber/do"
	"github.com/samber/oops"

	"github.com/agenthands/medrag/internal/config"
	"github.com/agenthands/medrag/internal/core"
	"github.com/agenthands/medrag/internal/core/cache"
	"github.com/agenthands/medrag/internal/core/extraction"
	"github.com/agenthands/medrag/internal/core/lexicon"
	"github.com/agenthands/medrag/internal/driver"
	"github.com/agenthands/medrag/internal/embedstore"
	"github.com/agenthands/medrag/internal/llm"
	"github.com/agenthands/medrag/internal/logging"
	"github.com/agenthands/medrag/internal/prompt"
	"github.com/agenthands/medrag/internal/refresh"
)

// graphBackend owns the graph store and whatever connection sits behind it.
type graphBackend struct {
	Store driver.GraphStore
	bolt  *driver.BoltDriver
}

func (g *graphBackend) Shutdown() error {
	if g.bolt == nil {
		return nil
	}
	return g.bolt.Close(context.Background())
}

type llmClients struct {
	LLM      llm.LLMClient
	Embedder llm.EmbedderClient
}

func (c *llmClients) Shutdown() error {
	if cl, ok := c.LLM.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

type embeddings struct {
	// Store is nil when no database is configured.
	Store embedstore.Store
	pg    *embedstore.PostgresStore
}

func (e *embeddings) Shutdown() error {
	if e.pg != nil {
		e.pg.Close()
	}
	return nil
}

type app struct {
	di     *do.Injector
	cfg    *config.Config
	logs   io.Closer
	logger *slog.Logger
}

// bootstrap loads configuration and logging and registers every service.
// Services are built lazily on first use.
func bootstrap(ctx context.Context) (*app, error) {
	logging.Preinit()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, oops.In("bootstrap").With("file", envFile).Errorf("failed to load env file: %w", err)
		}
	}
	path := configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logs, err := logging.Init(cfg.Log)
	if err != nil {
		return nil, err
	}

	di := do.New()
	do.ProvideValue(di, ctx)
	do.ProvideValue(di, cfg)
	do.ProvideValue(di, slog.Default())
	do.Provide(di, newGraphBackend)
	do.Provide(di, newLLMClients)
	do.Provide(di, newEmbeddings)
	do.Provide(di, newEngine)
	do.Provide(di, newRefresher)

	return &app{di: di, cfg: cfg, logs: logs, logger: slog.Default()}, nil
}

func (a *app) close() {
	if err := a.di.Shutdown(); err != nil {
		a.logger.Warn("shutdown finished with errors", "error", err)
	}
	_ = a.logs.Close()
}

func newGraphBackend(i *do.Injector) (*graphBackend, error) {
	ctx := do.MustInvoke[context.Context](i)
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)

	if cfg.Store.Backend == "memory" {
		store, err := driver.LoadMemoryStoreFile(cfg.Store.Fixture)
		if err != nil {
			return nil, oops.In("bootstrap").With("fixture", cfg.Store.Fixture).Wrapf(err, "load graph fixture")
		}
		logger.Info("using in-memory graph", "fixture", cfg.Store.Fixture)
		return &graphBackend{Store: store}, nil
	}

	n := cfg.Neo4j
	d, err := driver.NewBoltDriver(ctx, n.URI, n.User, n.Password, n.Dialect, n.Database)
	if err != nil {
		return nil, oops.In("bootstrap").With("uri", n.URI).Wrapf(err, "connect to graph database")
	}
	retry := driver.RetryPolicy{
		MaxAttempts:     n.MaxAttempts,
		InitialInterval: n.InitialInterval.Duration,
		MaxInterval:     n.MaxInterval.Duration,
	}
	logger.Info("connected to graph database", "uri", n.URI, "dialect", n.Dialect)
	return &graphBackend{Store: driver.NewNeo4jStore(d, retry, logger), bolt: d}, nil
}

func newLLMClients(i *do.Injector) (*llmClients, error) {
	ctx := do.MustInvoke[context.Context](i)
	cfg := do.MustInvoke[*config.Config](i)

	gen, emb, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, oops.In("bootstrap").With("provider", cfg.LLM.Provider).Wrapf(err, "create llm client")
	}
	return &llmClients{LLM: gen, Embedder: emb}, nil
}

func newEmbeddings(i *do.Injector) (*embeddings, error) {
	ctx := do.MustInvoke[context.Context](i)
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)

	if cfg.Postgres.URL == "" {
		return &embeddings{}, nil
	}
	pg, err := embedstore.Connect(ctx, cfg.Postgres.URL, cfg.Postgres.Dimensions, logger)
	if err != nil {
		return nil, err
	}
	return &embeddings{Store: pg, pg: pg}, nil
}

func settingsFrom(cfg *config.Config) core.Settings {
	s := core.DefaultSettings()
	s.Retrieval = cfg.Retrieval
	s.Linking = cfg.Linking
	s.Weights = cfg.Ranking
	s.Context = cfg.Context
	s.Cache = cache.Options{Shards: cfg.Cache.Shards, Capacity: cfg.Cache.Capacity, TTL: cfg.Cache.TTL.Duration}
	s.Deadline = cfg.Server.QueryDeadline.Duration
	s.Generation = llm.GenerateOptions{MaxTokens: cfg.Generation.MaxTokens, Temperature: cfg.Generation.Temperature}
	s.GenerationTimeout = cfg.Generation.Timeout.Duration
	s.MaxPromptTokens = cfg.Generation.MaxPromptTokens
	return s
}

func newEngine(i *do.Injector) (*core.Engine, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)
	graph, err := do.Invoke[*graphBackend](i)
	if err != nil {
		return nil, err
	}
	clients, err := do.Invoke[*llmClients](i)
	if err != nil {
		return nil, err
	}

	engine := core.NewEngine(graph.Store, lexicon.NewHolder(nil), clients.LLM, clients.Embedder, settingsFrom(cfg), logger)
	if cfg.LLM.ExtractEntities {
		engine.Extractor = extraction.NewExtractor(clients.LLM, logger)
	}
	if cfg.Generation.MaxPromptTokens > 0 {
		counter, err := prompt.NewTokenCounter(cfg.Generation.Encoding)
		if err != nil {
			logger.Warn("token counting disabled", "encoding", cfg.Generation.Encoding, "error", err)
		} else {
			engine.Tokens = counter
		}
	}
	return engine, nil
}

func newRefresher(i *do.Injector) (*refresh.Refresher, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)
	engine, err := do.Invoke[*core.Engine](i)
	if err != nil {
		return nil, err
	}
	emb, err := do.Invoke[*embeddings](i)
	if err != nil {
		return nil, err
	}

	r := refresh.New(engine.Store, engine.Lexicon, logger)
	r.Cache = engine.Cache
	r.Embedder = engine.Embedder
	r.Embeddings = emb.Store
	r.Model = cfg.LLM.Provider + "/" + cfg.LLM.EmbeddingModel
	return r, nil
}
