package cel

import (
	"path/filepath"
	"unicode/utf8"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
)

// NewGuardEnvironment creates the CEL environment routing guards compile in.
// Variables:
//   - kind, target: the candidate's kind and target id
//   - scores: map of dimension to value; missing dimensions are absent
//   - flags: map of flag name to bool, derived from scores (>= 0.5)
//   - title, text, text_length: the payload, when one is already present
//
// Functions: score(scores, "dim") reads a dimension defaulting to 0.0, and
// glob(pattern, s) matches shell-style patterns.
func NewGuardEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("kind", cel.StringType),
		cel.Variable("target", cel.StringType),
		cel.Variable("scores", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("flags", cel.MapType(cel.StringType, cel.BoolType)),
		cel.Variable("title", cel.StringType),
		cel.Variable("text", cel.StringType),
		cel.Variable("text_length", cel.IntType),

		cel.Function("score",
			cel.Overload("score_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DoubleType), cel.StringType},
				cel.DoubleType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					if m, ok := mapVal.(traits.Mapper); ok {
						if v, found := m.Find(keyVal); found {
							return v
						}
					}
					return types.Double(0)
				}),
			),
		),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p, _ := pattern.Value().(string)
					n, _ := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),
	)
}

// BuildActivation creates the variable bindings for one candidate.
func BuildActivation(c action.Candidate) map[string]any {
	scores := make(map[string]float64, len(c.Scores))
	flags := make(map[string]bool, 2)
	for k, v := range c.Scores {
		scores[k] = v
	}
	for _, f := range []string{action.FlagHasConflict, action.FlagNeedsClarification} {
		flags[f] = c.Scores.Flag(f)
	}

	return map[string]any{
		"kind":        string(c.Kind),
		"target":      c.TargetID,
		"scores":      scores,
		"flags":       flags,
		"title":       c.Payload.Title,
		"text":        c.Payload.Text,
		"text_length": int64(utf8.RuneCountInString(c.Payload.Text)),
	}
}
