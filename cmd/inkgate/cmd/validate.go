package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/validation"
)

// errRejected makes a rejected dry run exit non-zero.
var errRejected = errors.New("action rejected")

var (
	validateKind   string
	validateTarget string
	validateTitle  string
	validateText   string
	validateScores []string
	validateFile   string
	validateJSON   bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Dry-run validation of one action",
	Long: `Validate one candidate action against the current policy and quota state
without dispatching it or recording quota.

The candidate comes from flags or from a JSON file ("-" reads stdin) with the
fields kind, target_id, payload {title, text} and scores.

Exit status is 1 when the action would be rejected.

Examples:
  inkgate validate --kind continue --target b-42 --text "The lamps went out."
  inkgate validate --file candidate.json --json
  echo '{"kind":"comment","target_id":"b-1","payload":{"text":"Lovely turn."}}' | inkgate validate --file -`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateKind, "kind", "", "Action kind (continue, create_thread, comment; aliases accepted)")
	validateCmd.Flags().StringVar(&validateTarget, "target", "", "Target branch or story id")
	validateCmd.Flags().StringVar(&validateTitle, "title", "", "Payload title")
	validateCmd.Flags().StringVar(&validateText, "text", "", "Payload text")
	validateCmd.Flags().StringSliceVar(&validateScores, "score", nil, "Score dimension as name=value (repeatable)")
	validateCmd.Flags().StringVar(&validateFile, "file", "", "Read the candidate from a JSON file (- for stdin)")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	var (
		c   action.Candidate
		err error
	)
	if validateFile != "" {
		c, err = candidateFromFile(validateFile, cmd.InOrStdin())
	} else {
		c, err = candidateFromFlags(validateKind, validateTarget, validateTitle, validateText, validateScores)
	}
	if err != nil {
		return err
	}

	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	gate, err := buildCore(cmd.Context(), cfg, newLogger(cfg))
	if err != nil {
		return err
	}

	res := gate.status().ValidateAction(c)
	if validateJSON {
		if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
	} else {
		printValidation(cmd, c, res)
	}
	if !res.Accepted {
		return errRejected
	}
	return nil
}

func candidateFromFlags(kind, target, title, text string, scores []string) (action.Candidate, error) {
	k, ok := action.ParseKind(kind)
	if !ok {
		return action.Candidate{}, fmt.Errorf("unknown action kind %q", kind)
	}
	vec, err := parseScores(scores)
	if err != nil {
		return action.Candidate{}, err
	}
	return action.Candidate{
		Kind:     k,
		TargetID: target,
		Payload:  action.Payload{Title: title, Text: text},
		Scores:   vec,
	}, nil
}

// candidateFile is the JSON form read by --file. Kind aliases are accepted.
type candidateFile struct {
	Kind     string             `json:"kind"`
	TargetID string             `json:"target_id"`
	Payload  action.Payload     `json:"payload"`
	Scores   action.ScoreVector `json:"scores"`
}

func candidateFromFile(path string, stdin io.Reader) (action.Candidate, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return action.Candidate{}, fmt.Errorf("read candidate: %w", err)
	}

	var f candidateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return action.Candidate{}, fmt.Errorf("parse candidate: %w", err)
	}
	k, ok := action.ParseKind(f.Kind)
	if !ok {
		return action.Candidate{}, fmt.Errorf("unknown action kind %q", f.Kind)
	}
	return action.Candidate{Kind: k, TargetID: f.TargetID, Payload: f.Payload, Scores: f.Scores}, nil
}

// parseScores parses name=value pairs. Values must lie in [0,1].
func parseScores(pairs []string) (action.ScoreVector, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vec := make(action.ScoreVector, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid score %q: want name=value", p)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || v < 0 || v > 1 {
			return nil, fmt.Errorf("invalid score %q: value must be a number in [0,1]", p)
		}
		vec[name] = v
	}
	return vec, nil
}

func printValidation(cmd *cobra.Command, c action.Candidate, res validation.Result) {
	out := cmd.OutOrStdout()
	target := c.TargetID
	if target == "" {
		target = "-"
	}
	if res.Accepted {
		fmt.Fprintf(out, "ACCEPTED  %s on %s\n", c.Kind, target)
		return
	}
	fmt.Fprintf(out, "REJECTED  %s on %s\n", c.Kind, target)
	fmt.Fprintf(out, "  Code:    %s\n", res.Code)
	fmt.Fprintf(out, "  Reason:  %s\n", res.Message)
	if res.RetryAfter > 0 {
		fmt.Fprintf(out, "  Retry:   %s\n", res.RetryAfter)
	}
}
