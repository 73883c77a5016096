package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/inkgate/internal/service"
)

var checkJSON bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the policy source for updates now",
	Long: `Fetch every configured policy document, replace the ones whose content
changed and record the check time, ignoring the once-per-day gate.

A running agent keeps its own snapshot; restart it (or wait for its daily
check) to pick up changes.

Examples:
  inkgate check
  inkgate check --json`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	c, err := buildCore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	report, err := c.policies.CheckForUpdates(ctx)
	if err != nil {
		return fmt.Errorf("policy check: %w", err)
	}
	if err := c.runtime.SaveRuntimeState(); err != nil {
		logger.Warn("failed to save runtime state", "error", err)
	}

	if checkJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	printUpdateReport(cmd, report, c.policies.Snapshot().Version())
	return nil
}

func printUpdateReport(cmd *cobra.Command, r service.UpdateReport, version string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checked at: %s\n", r.CheckedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "Version:    %s\n", version)
	if len(r.Updated) == 0 {
		fmt.Fprintln(out, "Updated:    none")
	} else {
		fmt.Fprintf(out, "Updated:    %s\n", strings.Join(r.Updated, ", "))
	}
	if len(r.Unchanged) > 0 {
		fmt.Fprintf(out, "Unchanged:  %s\n", strings.Join(r.Unchanged, ", "))
	}
}
