package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/srinidhi621/knowledge-atlas/internal/server"
	"github.com/srinidhi621/knowledge-atlas/internal/telemetry"
)

func serveCMD(load loader) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if addr != "" {
				cfg.Server.Address = addr
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			tel, err := telemetry.Setup(ctx, cfg.Telemetry, telemetry.Options{ServiceVersion: version})
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := []server.Option{
				server.WithLogger(logger.Named("http")),
				server.WithMetricsHandler(promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{})),
			}
			for name, check := range a.healthChecks() {
				opts = append(opts, server.WithHealthCheck(name, check))
			}
			srv := server.New(a.orch, opts...)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Start(cfg.Server.Address)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
				defer done()
				logger.Info("shutting down")
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("http shutdown", zap.Error(err))
				}
				return tel.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return serve
}
