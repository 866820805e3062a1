package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aethercore/aether/internal/httpapi"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server, scheduler and event debouncer",
		Long: `serve starts the orchestration core's HTTP surface (chat completions,
proposal approve/deploy/rollback, inbound controller webhooks), the cron
scheduler (which does not start when AETHER_ROLE is "api") and the
entity-update debouncer.

Graceful shutdown is triggered on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, configPath)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.tracerShutdown(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
		if a.db != nil {
			a.db.Close()
		}
	}()

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.scheduler.Stop(stopCtx); err != nil {
			slog.Warn("scheduler stop failed", "error", err)
		}
	}()

	a.debouncer.Start(ctx)
	defer a.debouncer.Stop()

	slog.Info("orchestratord starting", "addr", a.cfg.Server.Addr, "deployment_mode", a.cfg.Deployment.Mode)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpapi.ListenAndServe(ctx, a.cfg.Server.Addr, a.httpapi.Mux(), 30*time.Second)
	}()

	select {
	case <-ctx.Done():
		if err := <-errCh; err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("orchestratord shutting down")
	return nil
}
