// Command ids2agent is the edge-deployed supervisor agent: it brings up
// a downstream NIDS data pipeline (phases A-G), then supervises the
// Resource monitor, Reachability prober, and Metrics endpoint workers
// until a termination signal is received.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/ids2agent/pkg/log"
)

var (
	// Version, Commit, and BuildTime are set via -ldflags at build time.
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:     "ids2agent",
	Short:   "Supervisor agent for an edge-deployed NIDS data pipeline",
	Version: Version,
	// Invoking the binary with no subcommand runs the agent, same as
	// `ids2agent run`.
	RunE: runRun,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ids2agent version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "/etc/ids2agent/config.yaml", "Path to the agent's configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
