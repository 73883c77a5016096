package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/inkgate/internal/config"
)

var (
	resetIncludeJournal bool
	resetIncludeCache   bool
	resetForce          bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset inkgate to a clean state",
	Long: `Reset inkgate by removing persistent state files.

By default, only state.json (and its backup) is removed. This clears the
quota windows and the last policy check, so the next start checks the policy
source immediately and every quota starts empty.

Optional flags:
  --include-journal  Also remove the decision journal (file or sqlite output)
  --include-cache    Also remove the policy document cache
  --force            Skip confirmation prompt

Examples:
  # Reset state only (interactive confirmation)
  inkgate reset

  # Reset everything without prompting
  inkgate reset --include-journal --include-cache --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetIncludeJournal, "include-journal", false, "Also remove the decision journal")
	resetCmd.Flags().BoolVar(&resetIncludeCache, "include-cache", false, "Also remove the policy document cache")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

type resetTarget struct {
	path string
	desc string
}

func runReset(cmd *cobra.Command, args []string) error {
	// Validation is skipped: a broken config must not prevent a reset.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}

	statePath := resolveStatePath(cfg)
	targets := []resetTarget{
		{statePath, "state file"},
		{statePath + ".bak", "state backup"},
	}
	if resetIncludeJournal {
		if path := journalPath(cfg.Audit.Output); path != "" {
			targets = append(targets, resetTarget{path, "decision journal"})
		}
	}
	if resetIncludeCache && cfg.Policy.CacheDir != "" {
		targets = append(targets, resetTarget{cfg.Policy.CacheDir, "policy cache"})
	}

	var existing []resetTarget
	for _, t := range targets {
		if _, err := os.Stat(t.path); err == nil {
			existing = append(existing, t)
		}
	}

	if len(existing) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to reset, no state files found.")
		return nil
	}

	fmt.Fprintln(os.Stderr, "The following will be removed:")
	for _, t := range existing {
		fmt.Fprintf(os.Stderr, "  - %s (%s)\n", t.path, t.desc)
	}

	if !resetForce {
		fmt.Fprint(os.Stderr, "\nProceed? [y/N] ")
		var answer string
		fmt.Scanln(&answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	var failed int
	for _, t := range existing {
		if err := os.RemoveAll(t.path); err != nil {
			fmt.Fprintf(os.Stderr, "  ERROR removing %s: %v\n", t.path, err)
			failed++
		} else {
			fmt.Fprintf(os.Stderr, "  Removed %s\n", t.path)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d file(s) could not be removed", failed)
	}

	fmt.Fprintln(os.Stderr, "\nReset complete. inkgate will start fresh on next launch.")
	return nil
}

// journalPath returns the filesystem path behind a file:// or sqlite://
// audit output, or "" for stdout.
func journalPath(output string) string {
	for _, scheme := range []string{"file://", "sqlite://"} {
		if rest, ok := strings.CutPrefix(output, scheme); ok && rest != "" {
			return parseFileURI("file://" + rest)
		}
	}
	return ""
}

// parseFileURI extracts the file path from a "file:///path" URI.
// On Windows, handles file:///C:/path → C:/path (strips extra leading slash).
func parseFileURI(uri string) string {
	const prefix = "file://"
	if len(uri) > len(prefix) && uri[:len(prefix)] == prefix {
		path := uri[len(prefix):]
		if len(path) >= 3 && path[0] == '/' && path[2] == ':' {
			path = path[1:]
		}
		return path
	}
	return ""
}
