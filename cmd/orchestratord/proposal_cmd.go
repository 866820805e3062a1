package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aethercore/aether/internal/proposal"
)

func buildProposalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposal",
		Short: "Inspect automation/entity-command proposals awaiting or past review",
	}
	cmd.AddCommand(buildProposalListCmd(), buildProposalGetCmd())
	return cmd
}

func buildProposalListCmd() *cobra.Command {
	var (
		configPath string
		status     string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProposalList(cmd.Context(), cmd, resolveConfigPath(configPath), status)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&status, "status", string(proposal.StatusProposed), "Proposal status to filter by")
	return cmd
}

func buildProposalGetCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print a single proposal by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProposalGet(cmd.Context(), cmd, resolveConfigPath(configPath), args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runProposalList(ctx context.Context, cmd *cobra.Command, configPath, status string) error {
	a, err := buildApp(ctx, configPath)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer closeDB(a)

	proposals, err := a.proposals.ListByStatus(ctx, proposal.Status(status))
	if err != nil {
		return fmt.Errorf("list proposals: %w", err)
	}
	return printJSON(cmd, proposals)
}

func runProposalGet(ctx context.Context, cmd *cobra.Command, configPath, id string) error {
	a, err := buildApp(ctx, configPath)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer closeDB(a)

	p, err := a.proposals.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get proposal: %w", err)
	}
	return printJSON(cmd, p)
}

func closeDB(a *app) {
	if a.db != nil {
		a.db.Close()
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
