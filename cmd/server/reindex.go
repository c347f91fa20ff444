package main

import (
	"encoding/json"
	"os"

	"github.com/samber/do"
	"github.com/spf13/cobra"

	"github.com/agenthands/medrag/internal/refresh"
)

var (
	reindexNotify       bool
	reindexBuildIndices bool
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the entity index and refresh stored name embeddings",
	Long: `Rebuild the entity index once and print a report. Missing name embeddings
are computed and written to the embedding store. With --notify a graph update
event is published so running servers rebuild as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if reindexBuildIndices {
			graph, err := do.Invoke[*graphBackend](a.di)
			if err != nil {
				return err
			}
			if graph.bolt != nil {
				if err := graph.bolt.BuildIndices(ctx); err != nil {
					return err
				}
			}
		}

		r, err := do.Invoke[*refresh.Refresher](a.di)
		if err != nil {
			return err
		}
		rep, err := r.Reindex(ctx)
		if err != nil {
			return err
		}

		if reindexNotify {
			if a.cfg.AMQP.URL == "" {
				a.logger.Warn("--notify ignored, no broker configured")
			} else if err := refresh.Publish(ctx, a.cfg.AMQP.URL, a.cfg.AMQP.Exchange, a.cfg.AMQP.RoutingKey, refresh.Event{Reason: "reindex command"}); err != nil {
				return err
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	},
}

func init() {
	reindexCmd.Flags().BoolVar(&reindexNotify, "notify", false, "Publish a graph update event after rebuilding")
	reindexCmd.Flags().BoolVar(&reindexBuildIndices, "build-indices", false, "Create name indexes in the graph database first")
}
