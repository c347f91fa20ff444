package main

import (
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/samber/do"
	"github.com/spf13/cobra"

	"github.com/agenthands/medrag/internal/core"
	"github.com/agenthands/medrag/internal/mcptools"
	"github.com/agenthands/medrag/internal/refresh"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		engine, err := do.Invoke[*core.Engine](a.di)
		if err != nil {
			return err
		}
		refresher, err := do.Invoke[*refresh.Refresher](a.di)
		if err != nil {
			return err
		}
		a.startRefresh(ctx, refresher)

		// Logs go to stderr; stdout carries the protocol.
		return mcpserver.ServeStdio(mcptools.NewServer(engine, version, a.logger))
	},
}
