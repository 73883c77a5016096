package memory

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Sentinel-Gate/inkgate/internal/clock"
	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/quota"
)

// fallbackRule applies to kinds with no configured or built-in rule.
var fallbackRule = quota.Rule{Max: 10, Window: time.Hour}

// DefaultQuotaRules returns the built-in per-kind rules.
func DefaultQuotaRules() map[action.Kind]quota.Rule {
	return map[action.Kind]quota.Rule{
		action.KindContinue:     {Max: 5, Window: time.Hour, PerResource: true},
		action.KindCreateThread: {Max: 1, Window: time.Hour},
		action.KindComment:      {Max: 10, Window: time.Hour},
	}
}

// window holds the occurrence timestamps of one key, oldest first.
type window struct {
	stamps []time.Time
	// retention is the longest window ever queried for this key. Purging
	// never drops a timestamp younger than this.
	retention time.Duration
}

// QuotaTracker implements quota.Tracker with per-key sliding windows kept in
// memory. All access is serialized on a single mutex so that a check and the
// following record for one key cannot interleave with another caller.
type QuotaTracker struct {
	mu       sync.Mutex
	windows  map[quota.Key]*window
	defaults map[action.Kind]quota.Rule
	clock    clock.Clock
	logger   *slog.Logger
}

// NewQuotaTracker creates a tracker. Rules in overrides replace the built-in
// defaults for their kind; invalid rules are ignored.
func NewQuotaTracker(clk clock.Clock, overrides map[action.Kind]quota.Rule, logger *slog.Logger) *QuotaTracker {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultQuotaRules()
	for kind, rule := range overrides {
		if !rule.Valid() {
			logger.Warn("ignoring invalid quota rule", "kind", kind, "max", rule.Max, "window", rule.Window)
			continue
		}
		defaults[kind] = rule
	}
	return &QuotaTracker{
		windows:  make(map[quota.Key]*window),
		defaults: defaults,
		clock:    clk,
		logger:   logger,
	}
}

// DefaultRule returns the static rule for kind, or 10 per hour for unknown kinds.
func (t *QuotaTracker) DefaultRule(kind action.Kind) quota.Rule {
	if r, ok := t.defaults[kind]; ok {
		return r
	}
	return fallbackRule
}

// CanPerform reports whether one more occurrence fits the default rule.
func (t *QuotaTracker) CanPerform(kind action.Kind, scope string) bool {
	rule := t.DefaultRule(kind)
	return t.Status(quota.KeyFor(kind, scope, rule), rule).Allowed
}

// RemainingWait returns how long until the default rule allows one more
// occurrence, or 0.
func (t *QuotaTracker) RemainingWait(kind action.Kind, scope string) time.Duration {
	rule := t.DefaultRule(kind)
	return t.Status(quota.KeyFor(kind, scope, rule), rule).RetryAfter
}

// Record appends an occurrence at the current time. The occurrence is counted
// in the kind-wide window and, when scope is set, in the scoped window too, so
// both per-resource and kind-wide rules see it whichever one a policy applies.
// Both windows are purged first, so a window no rule is checking still only
// holds timestamps inside its retention.
func (t *QuotaTracker) Record(kind action.Kind, scope string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.appendLocked(quota.Key{Kind: kind}, now)
	if scope != "" {
		t.appendLocked(quota.Key{Kind: kind, Scope: scope}, now)
	}
}

func (t *QuotaTracker) appendLocked(key quota.Key, at time.Time) {
	w, ok := t.windows[key]
	if !ok {
		w = &window{retention: t.DefaultRule(key.Kind).Window}
		t.windows[key] = w
	} else {
		t.purgeLocked(key, w, at)
		if len(w.stamps) == 0 {
			t.windows[key] = w
		}
	}
	w.stamps = append(w.stamps, at)
}

// Status checks key against rule. An invalid rule always allows.
func (t *QuotaTracker) Status(key quota.Key, rule quota.Rule) quota.Status {
	if !rule.Valid() {
		return quota.Status{Allowed: true}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	w, ok := t.windows[key]
	if !ok {
		return quota.Status{Allowed: true, Limit: rule.Max}
	}
	if rule.Window > w.retention {
		w.retention = rule.Window
	}
	t.purgeLocked(key, w, now)

	// Only timestamps inside this rule's window count; the slice may hold
	// older ones kept for a longer rule.
	cutoff := now.Add(-rule.Window)
	first := sort.Search(len(w.stamps), func(i int) bool {
		return w.stamps[i].After(cutoff)
	})
	inWindow := w.stamps[first:]

	st := quota.Status{Count: len(inWindow), Limit: rule.Max}
	if st.Count < rule.Max {
		st.Allowed = true
		return st
	}

	// The (count-max+1)-th oldest in-window stamp has to expire before one
	// more occurrence fits. With count == max that is the oldest.
	expiring := inWindow[st.Count-rule.Max]
	wait := rule.Window - now.Sub(expiring)
	if wait < 0 {
		wait = 0
	}
	st.RetryAfter = wait
	return st
}

// purgeLocked drops timestamps older than the key's retention.
func (t *QuotaTracker) purgeLocked(key quota.Key, w *window, now time.Time) {
	cutoff := now.Add(-w.retention)
	drop := 0
	for drop < len(w.stamps) && !w.stamps[drop].After(cutoff) {
		drop++
	}
	if drop == 0 {
		return
	}
	w.stamps = append(w.stamps[:0:0], w.stamps[drop:]...)
	if len(w.stamps) == 0 {
		delete(t.windows, key)
	}
}

// Snapshot returns a copy of every window's timestamps, for persistence.
// Expired timestamps are purged first and emptied windows are not returned.
func (t *QuotaTracker) Snapshot() map[quota.Key][]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	for k, w := range t.windows {
		t.purgeLocked(k, w, now)
	}

	out := make(map[quota.Key][]time.Time, len(t.windows))
	for k, w := range t.windows {
		stamps := make([]time.Time, len(w.stamps))
		copy(stamps, w.stamps)
		out[k] = stamps
	}
	return out
}

// Restore replaces the tracked windows with a persisted snapshot. Timestamps
// are sorted; ones already outside the default window are dropped on the next
// query.
func (t *QuotaTracker) Restore(snap map[quota.Key][]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.windows = make(map[quota.Key]*window, len(snap))
	for k, stamps := range snap {
		if len(stamps) == 0 {
			continue
		}
		s := make([]time.Time, len(stamps))
		copy(s, stamps)
		sort.Slice(s, func(i, j int) bool { return s[i].Before(s[j]) })
		t.windows[k] = &window{stamps: s, retention: t.DefaultRule(k.Kind).Window}
	}
	t.logger.Debug("quota windows restored", "keys", len(t.windows))
}

// Size returns the number of tracked keys.
func (t *QuotaTracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}

// Compile-time interface verification.
var _ quota.Tracker = (*QuotaTracker)(nil)
