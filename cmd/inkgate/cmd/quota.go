package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/inkgate/internal/service"
)

var quotaJSON bool

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show quota windows",
	Long: `Restore the runtime state and print every live quota window under its
effective rule (published policy first, then config, then built-in
defaults).

Examples:
  inkgate quota
  inkgate --state /var/lib/inkgate/state.json quota --json`,
	RunE: runQuota,
}

func init() {
	quotaCmd.Flags().BoolVar(&quotaJSON, "json", false, "Print the windows as JSON")
	rootCmd.AddCommand(quotaCmd)
}

func runQuota(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	c, err := buildCore(cmd.Context(), cfg, newLogger(cfg))
	if err != nil {
		return err
	}

	entries := c.status().QuotaStatus()
	if quotaJSON {
		return writeJSON(cmd.OutOrStdout(), entries)
	}
	printQuotaStatus(cmd, entries)
	return nil
}

func printQuotaStatus(cmd *cobra.Command, entries []service.QuotaEntry) {
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No quota windows in use.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tUSED\tWINDOW\tSTATUS")
	for _, e := range entries {
		st := "ok"
		if !e.Allowed {
			st = "full, retry in " + e.RetryAfter
		}
		fmt.Fprintf(tw, "%s\t%d/%d\t%s\t%s\n", e.Key, e.Count, e.Limit, e.Window, st)
	}
	tw.Flush()
}
