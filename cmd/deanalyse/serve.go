package main

import (
	"context"
	"net"
	"os/signal"
	"syscall"
	"time"

	"deanalyse/internal/container"
	"deanalyse/ui"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := container.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := c.Shutdown(shutdownCtx); err != nil {
					logger.Error("shutdown failed", zap.Error(err))
				}
			}()

			gin.SetMode(cfg.Server.GinMode)
			api := ui.NewServer(cfg.Server, ui.Deps{
				Upload: c.Upload,
				QA:     c.QA,
				Store:  c.Store,
				Usage:  c.Usage,
				Logger: logger,
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return api.Run(gctx, net.JoinHostPort("", cfg.Server.Port))
			})
			if cfg.Profiling.Enabled {
				ops := ui.NewOpsServer(c.Ready, logger)
				g.Go(func() error {
					return ops.Run(gctx, net.JoinHostPort("localhost", cfg.Profiling.Port))
				})
			}
			return g.Wait()
		},
	}
}
