package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/medrag/internal/core/model"
)

const (
	DialectNeo4j    = "neo4j"
	DialectMemgraph = "memgraph"
)

// BoltDriver talks to Neo4j or Memgraph over the bolt protocol.
type BoltDriver struct {
	Driver  neo4j.DriverWithContext
	Dialect string
	// Database is ignored by Memgraph.
	Database string
}

func NewBoltDriver(ctx context.Context, uri, username, password, dialect, database string) (*BoltDriver, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}

	if dialect == "" {
		dialect = DialectNeo4j
	}
	slog.Info("Connected to graph store", "uri", uri, "dialect", dialect)
	return &BoltDriver{Driver: driver, Dialect: dialect, Database: database}, nil
}

func (d *BoltDriver) Close(ctx context.Context) error {
	return d.Driver.Close(ctx)
}

func (d *BoltDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	var opts []neo4j.ExecuteQueryConfigurationOption
	if d.Database != "" && d.Dialect == DialectNeo4j {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(d.Database))
	}
	opts = append(opts, neo4j.ExecuteQueryWithReadersRouting())

	result, err := neo4j.ExecuteQuery(ctx, d.Driver, query, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	return *result, nil
}

// BuildIndices creates a name index per node label. Failures are logged and
// skipped since the index usually exists already.
func (d *BoltDriver) BuildIndices(ctx context.Context) error {
	for _, kind := range model.Kinds {
		q := fmt.Sprintf(CreateNameIndexNeo4j, kind, kind)
		if d.Dialect == DialectMemgraph {
			q = fmt.Sprintf(CreateNameIndexMemgraph, kind)
		}
		if _, err := d.ExecuteQuery(ctx, q, nil); err != nil {
			slog.Warn("failed to create index", "query", q, "error", err)
		}
	}
	return nil
}
