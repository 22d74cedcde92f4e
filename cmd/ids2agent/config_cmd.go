package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/ids2agent/pkg/agenterr"
	"github.com/cuemby/ids2agent/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or validate the agent's configuration file",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configured file without starting the agent",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return agenterr.Wrap(agenterr.ExitConfigError, err)
	}

	fmt.Printf("ok: %s\n", configPath)
	fmt.Printf("  cluster domain:       %s\n", cfg.Cluster.Domain)
	fmt.Printf("  sample_interval:      %s\n", cfg.Worker.SampleInterval)
	fmt.Printf("  check_interval:       %s\n", cfg.Worker.CheckInterval)
	fmt.Printf("  metrics_bind_addr:    %s\n", cfg.Worker.MetricsBindAddr)
	fmt.Printf("  dry_run:              %v\n", cfg.Policy.DryRun)
	return nil
}
