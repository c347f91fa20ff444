package embedstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/samber/oops"
)

const upsertSQL = `INSERT INTO entity_embeddings (node_id, model, embedding, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (node_id, model) DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = now()`

// PostgresStore keeps embeddings in a pgvector column.
type PostgresStore struct {
	pool       *pgxpool.Pool
	dimensions int
	logger     *slog.Logger
}

// Connect prepares the schema and opens a pool whose connections know the
// vector type. dimensions <= 0 leaves the column untyped.
func Connect(ctx context.Context, url string, dimensions int, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	errb := oops.In("embedstore")

	// The extension has to exist before any pooled connection registers the type.
	if err := migrate(ctx, url, dimensions); err != nil {
		return nil, errb.Wrapf(err, "migrate")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errb.Wrapf(err, "parse database url")
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errb.Wrapf(err, "open pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errb.Wrapf(err, "ping")
	}
	return &PostgresStore{pool: pool, dimensions: dimensions, logger: logger.With("component", "embedstore")}, nil
}

func migrate(ctx context.Context, url string, dimensions int) error {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	column := "vector"
	if dimensions > 0 {
		column = fmt.Sprintf("vector(%d)", dimensions)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entity_embeddings (
	node_id    TEXT        NOT NULL,
	model      TEXT        NOT NULL,
	embedding  %s          NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (node_id, model)
)`, column),
	}
	for _, s := range stmts {
		if _, err := conn.Exec(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, model string) (map[string][]float32, error) {
	rows, err := s.pool.Query(ctx, `SELECT node_id, embedding FROM entity_embeddings WHERE model = $1`, model)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var v pgvector.Vector
		if err := rows.Scan(&id, &v); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out[id] = v.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	s.logger.Debug("loaded embeddings", "model", model, "count", len(out))
	return out, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for id, v := range vectors {
		if s.dimensions > 0 && len(v) != s.dimensions {
			return fmt.Errorf("embedding for %s has %d dimensions, column has %d", id, len(v), s.dimensions)
		}
		batch.Queue(upsertSQL, id, model, pgvector.NewVector(v))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range vectors {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert embeddings: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Prune(ctx context.Context, model string, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM entity_embeddings WHERE model = $1 AND NOT (node_id = ANY($2))`,
		model, keep)
	if err != nil {
		return 0, fmt.Errorf("prune embeddings: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
