package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/inkgate/internal/service"
)

var policyJSON bool

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show the loaded policy documents",
	Long: `Load the policy documents (cache first, then the source) and print their
hashes, fetch times and top-level keys, plus the daily check gate.

Examples:
  inkgate policy
  inkgate policy --json`,
	RunE: runPolicy,
}

func init() {
	policyCmd.Flags().BoolVar(&policyJSON, "json", false, "Print the status as JSON")
	rootCmd.AddCommand(policyCmd)
}

func runPolicy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	c, err := buildCore(cmd.Context(), cfg, newLogger(cfg))
	if err != nil {
		return err
	}

	ps := c.status().PolicyStatus()
	if policyJSON {
		return writeJSON(cmd.OutOrStdout(), ps)
	}
	printPolicyStatus(cmd, ps)
	return nil
}

func printPolicyStatus(cmd *cobra.Command, ps service.PolicyStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Version:    %s\n", ps.Version)
	if ps.LastCheck != nil {
		fmt.Fprintf(out, "Last check: %s\n", ps.LastCheck.UTC().Format(time.RFC3339))
	} else {
		fmt.Fprintln(out, "Last check: never")
	}
	fmt.Fprintf(out, "Check due:  %t\n\n", ps.CheckDue)

	if len(ps.Documents) == 0 {
		fmt.Fprintln(out, "No policy documents loaded.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tHASH\tFETCHED\tKEYS")
	for _, d := range ps.Documents {
		hash := d.Hash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, hash, d.FetchedAt.UTC().Format(time.RFC3339), strings.Join(d.Keys, ","))
	}
	tw.Flush()
}
