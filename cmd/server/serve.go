package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/do"
	"github.com/spf13/cobra"

	"github.com/agenthands/medrag/internal/core"
	"github.com/agenthands/medrag/internal/refresh"
	"github.com/agenthands/medrag/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
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

		if a.cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		srv := server.NewServer(engine, refresher, a.logger)
		srv.QueryDeadline = a.cfg.Server.QueryDeadline.Duration

		httpServer := &http.Server{
			Addr:              ":" + strconv.Itoa(a.cfg.Server.Port),
			Handler:           srv.SetupRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("starting server", "addr", httpServer.Addr, "version", version)
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	},
}

// startRefresh builds the first index and starts the configured rebuild triggers.
func (a *app) startRefresh(ctx context.Context, r *refresh.Refresher) {
	if _, err := r.Reindex(ctx); err != nil {
		a.logger.Error("initial index build failed", "error", err)
	}
	go r.Every(ctx, a.cfg.Refresh.Interval.Duration)

	if a.cfg.AMQP.URL == "" {
		return
	}
	trigger := refresh.NewAMQPTrigger(a.cfg.AMQP.URL, a.cfg.AMQP.Exchange, a.cfg.AMQP.Queue, a.cfg.AMQP.RoutingKey, r, a.logger)
	go func() {
		if err := trigger.Run(ctx); err != nil {
			a.logger.Error("graph update listener stopped", "error", err)
		}
	}()
}
