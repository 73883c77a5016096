// Package quota provides sliding-window quota domain types.
package quota

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
)

// Rule defines how many occurrences of a kind fit in a window.
type Rule struct {
	// Max is the number of occurrences allowed within Window.
	Max int

	// Window is the sliding time window the occurrences are counted over.
	Window time.Duration

	// PerResource scopes the window to the action's target resource
	// (e.g. one window per branch) instead of one window for the whole kind.
	PerResource bool
}

// Valid reports whether the rule can be enforced.
func (r Rule) Valid() bool {
	return r.Max > 0 && r.Window > 0
}

// Key identifies one quota window.
type Key struct {
	Kind  action.Kind
	Scope string
}

// keyPrefix is the base prefix for all quota keys.
const keyPrefix = "quota"

// String returns a structured key.
// Format: "quota:{kind}" or "quota:{kind}:{scope}"
// Examples:
//   - Key{Kind: "comment"}.String() -> "quota:comment"
//   - Key{Kind: "continue", Scope: "b-1"}.String() -> "quota:continue:b-1"
func (k Key) String() string {
	if k.Scope == "" {
		return fmt.Sprintf("%s:%s", keyPrefix, k.Kind)
	}
	return fmt.Sprintf("%s:%s:%s", keyPrefix, k.Kind, k.Scope)
}

// ErrInvalidKey is returned by ParseKey for strings not produced by Key.String.
var ErrInvalidKey = errors.New("invalid quota key")

// ParseKey parses the output of Key.String. Everything after the kind is the
// scope, so scopes may contain colons.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 || parts[0] != keyPrefix || parts[1] == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	k := Key{Kind: action.Kind(parts[1])}
	if len(parts) == 3 {
		k.Scope = parts[2]
	}
	return k, nil
}

// KeyFor returns the key a rule applies to for the given kind and resource.
// The scope is dropped unless the rule is per-resource.
func KeyFor(kind action.Kind, scope string, rule Rule) Key {
	if !rule.PerResource {
		scope = ""
	}
	return Key{Kind: kind, Scope: scope}
}

// Status contains the result of a quota check.
type Status struct {
	// Allowed indicates whether one more occurrence fits in the window.
	Allowed bool

	// Count is the number of occurrences currently inside the window.
	Count int

	// Limit is the rule's maximum.
	Limit int

	// RetryAfter is the duration until one more occurrence will be allowed.
	// Zero when Allowed is true.
	RetryAfter time.Duration
}

// Remaining returns how many more occurrences fit in the window.
func (s Status) Remaining() int {
	if s.Count >= s.Limit {
		return 0
	}
	return s.Limit - s.Count
}
