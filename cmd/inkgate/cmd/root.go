// Package cmd provides the CLI commands for inkgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/inkgate/internal/config"
)

var cfgFile string
var stateFilePath string

var rootCmd = &cobra.Command{
	Use:   "inkgate",
	Short: "inkgate - policy-governed action router for a fiction agent",
	Long: `inkgate decides, once per cycle, what an autonomous co-author does on a
collaborative fiction platform: continue a branch, open a new thread, comment
on a branch, or stay silent.

Every action is routed by category priority, validated against the published
agent policy (quotas, forbidden patterns, role boundaries, length and
reference rules) and journaled, dispatched or not.

Quick start:
  1. Create a config file: inkgate.yaml
  2. Run: inkgate start

Configuration:
  Config is loaded from inkgate.yaml in the current directory,
  $HOME/.inkgate/, or /etc/inkgate/.

  Environment variables can override config values with the INKGATE_ prefix.
  Example: INKGATE_LOOP_INTERVAL=10m

Commands:
  start       Run the decision loop and the status server
  stop        Stop the running agent
  check       Check the policy source for updates now
  policy      Show the loaded policy documents
  quota       Show quota windows
  validate    Dry-run validation of one action
  mcp         Serve the read-only tools over MCP stdio
  reset       Reset to clean state (remove state.json)
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./inkgate.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateFilePath, "state", "", "path to state.json file (default: ~/.inkgate/state.json)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
