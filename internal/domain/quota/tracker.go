package quota

import (
	"time"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
)

// Tracker is the interface for sliding-window quota accounting.
//
// Implementations keep, per key, the timestamps of recorded occurrences and
// purge the ones that fell out of the window lazily on every query. There is
// no background sweep.
type Tracker interface {
	// CanPerform reports whether one more occurrence of kind is allowed under
	// the tracker's static default rule for that kind.
	CanPerform(kind action.Kind, scope string) bool

	// Record appends an occurrence at the current time. Callers must only
	// record an action after it was dispatched successfully.
	Record(kind action.Kind, scope string)

	// RemainingWait returns how long until one more occurrence is allowed
	// under the default rule, or 0 if it is allowed now.
	RemainingWait(kind action.Kind, scope string) time.Duration

	// Status checks the key against an explicit rule. Used when a policy
	// document overrides the default rule for a kind.
	Status(key Key, rule Rule) Status

	// DefaultRule returns the static rule for kind.
	DefaultRule(kind action.Kind) Rule
}
