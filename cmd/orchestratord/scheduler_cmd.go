package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func buildSchedulerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Inspect and drive the cron-triggered analysis scheduler",
	}
	cmd.AddCommand(buildSchedulerRunOnceCmd())
	return cmd
}

func buildSchedulerRunOnceCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Sync schedules from the store and fire every due job once",
		Long: `run-once reconciles the live job table against the insight_schedules
store and immediately fires every job that is currently due, without
starting the background tick loop. Useful for cron-less deployments that
trigger runs externally, and for verifying a schedule's cron expression
without waiting for its next tick.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedulerRunOnce(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runSchedulerRunOnce(ctx context.Context, configPath string) error {
	a, err := buildApp(ctx, configPath)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer closeDB(a)

	if err := a.scheduler.SyncJobs(ctx); err != nil {
		return fmt.Errorf("sync jobs: %w", err)
	}
	fired := a.scheduler.RunOnce(ctx)
	fmt.Printf("fired %d due job(s)\n", fired)
	return nil
}
