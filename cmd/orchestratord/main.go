// Command orchestratord is the streaming orchestration core's process
// entry point: it loads configuration, wires the orchestrator, scheduler,
// event debouncer, notifier and HITL proposal gate together, and serves
// them over HTTP.
//
// # Basic usage
//
//	orchestratord serve --config orchestratord.yaml
//	orchestratord scheduler run-once --config orchestratord.yaml
//	orchestratord proposal list --status proposed
//
// # Environment variables
//
//   - AETHER_ROLE: all|api|scheduler - which subsystems this process runs
//   - DEPLOYMENT_MODE: monolith|distributed
//   - WEBHOOK_SECRET: shared secret for inbound controller webhooks
//   - ANTHROPIC_API_KEY: model provider credential
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aethercore/aether/internal/config"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "orchestratord",
		Short:        "Aether orchestration core",
		Long:         `orchestratord streams chat completions through a routed agent, gates mutating tool calls behind human approval, and runs scheduled insight analyses.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(
		buildServeCmd(),
		buildSchedulerCmd(),
		buildProposalCmd(),
	)
	return root
}

func resolveConfigPath(path string) string {
	if path == "" {
		return config.DefaultConfigPath()
	}
	return path
}
