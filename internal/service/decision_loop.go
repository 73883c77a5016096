package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/inkgate/internal/clock"
	"github.com/Sentinel-Gate/inkgate/internal/ctxkey"
	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/journal"
	"github.com/Sentinel-Gate/inkgate/internal/domain/policy"
	"github.com/Sentinel-Gate/inkgate/internal/domain/quota"
	"github.com/Sentinel-Gate/inkgate/internal/domain/routing"
	"github.com/Sentinel-Gate/inkgate/internal/domain/validation"
)

// ErrDispatchRejected is returned by a Platform when the remote side refused
// the action (as opposed to being unreachable).
var ErrDispatchRejected = errors.New("platform rejected the action")

const (
	defaultLoopInterval    = 5 * time.Minute
	defaultLoopMaxInterval = time.Hour
	tracerName             = "github.com/Sentinel-Gate/inkgate/internal/service"
)

// DispatchResult describes a confirmed dispatch.
type DispatchResult struct {
	// ResourceID is the id the platform assigned to the created content.
	ResourceID string `json:"resource_id,omitempty"`
	// Info is a short human-readable summary.
	Info string `json:"info,omitempty"`
}

// Platform is the content platform the agent writes to.
type Platform interface {
	// ListCandidateActions returns this cycle's scored candidates.
	ListCandidateActions(ctx context.Context) ([]action.Candidate, error)
	// Dispatch executes c. A nil error means the platform confirmed it.
	Dispatch(ctx context.Context, c action.Candidate) (DispatchResult, error)
}

// Drafter writes the payload text for a picked candidate that has none.
type Drafter interface {
	Draft(ctx context.Context, snap policy.Snapshot, c action.Candidate) (action.Payload, error)
}

// CycleObserver is notified after every cycle.
type CycleObserver interface {
	ObserveCycle(report CycleReport)
}

// StateSaver persists runtime state after cycles that changed it.
type StateSaver interface {
	SaveRuntimeState() error
}

// CycleReport is everything one decision cycle did.
type CycleReport struct {
	CycleID       string
	StartedAt     time.Time
	Duration      time.Duration
	Outcome       journal.Outcome
	PolicyChecked bool
	PolicyUpdated []string
	PolicyVersion string
	Candidates    int
	Decision      routing.Decision
	// Validation is set when a candidate was picked and validated.
	Validation *validation.Result
	// Dispatch is set when the platform confirmed the action.
	Dispatch *DispatchResult
	Err      error
}

// Record converts the report to a journal record.
func (r CycleReport) Record() journal.Record {
	rec := journal.Record{
		Timestamp:     r.StartedAt.UTC(),
		CycleID:       r.CycleID,
		Outcome:       r.Outcome,
		Message:       r.Decision.Reason,
		Candidates:    r.Candidates,
		PolicyVersion: r.PolicyVersion,
		PolicyUpdated: r.PolicyUpdated,
		DurationMS:    r.Duration.Milliseconds(),
	}
	if c := r.Decision.Candidate; c != nil {
		rec.Kind = c.Kind
		rec.TargetID = c.TargetID
		rec.Scores = c.Scores.Clone()
	}
	if v := r.Validation; v != nil && !v.Accepted {
		rec.ReasonCode = string(v.Code)
		rec.Message = v.Message
	}
	if d := r.Dispatch; d != nil {
		rec.Message = d.Info
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// DecisionLoop drives policy refresh, routing, validation, dispatch and quota
// recording on a timer.
type DecisionLoop struct {
	policies  *PolicyService
	platform  Platform
	router    *routing.Router
	validator *validation.ActionValidator
	quotas    quota.Tracker
	logger    *slog.Logger

	drafter     Drafter
	journal     journal.Store
	observers   []CycleObserver
	state       StateSaver
	tracer      trace.Tracer
	clock       clock.Clock
	interval    time.Duration
	maxInterval time.Duration

	mu   sync.Mutex
	last *CycleReport
}

// DecisionLoopOption configures DecisionLoop.
type DecisionLoopOption func(*DecisionLoop)

// WithDrafter sets the drafter used for candidates without payload text.
func WithDrafter(d Drafter) DecisionLoopOption {
	return func(l *DecisionLoop) { l.drafter = d }
}

// WithJournal sets the store every cycle is journaled to.
func WithJournal(s journal.Store) DecisionLoopOption {
	return func(l *DecisionLoop) { l.journal = s }
}

// WithObserver adds a cycle observer.
func WithObserver(o CycleObserver) DecisionLoopOption {
	return func(l *DecisionLoop) {
		if o != nil {
			l.observers = append(l.observers, o)
		}
	}
}

// WithStateSaver sets the runtime state persister.
func WithStateSaver(s StateSaver) DecisionLoopOption {
	return func(l *DecisionLoop) { l.state = s }
}

// WithTracer sets the tracer. Defaults to the global provider's tracer.
func WithTracer(t trace.Tracer) DecisionLoopOption {
	return func(l *DecisionLoop) {
		if t != nil {
			l.tracer = t
		}
	}
}

// WithLoopClock sets the clock used for cycle timestamps.
func WithLoopClock(c clock.Clock) DecisionLoopOption {
	return func(l *DecisionLoop) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithInterval sets the sleep between cycles and its upper bound.
func WithInterval(interval, maxInterval time.Duration) DecisionLoopOption {
	return func(l *DecisionLoop) {
		if interval > 0 {
			l.interval = interval
		}
		if maxInterval > 0 {
			l.maxInterval = maxInterval
		}
	}
}

// NewDecisionLoop creates a loop.
func NewDecisionLoop(
	policies *PolicyService,
	platform Platform,
	router *routing.Router,
	validator *validation.ActionValidator,
	quotas quota.Tracker,
	logger *slog.Logger,
	opts ...DecisionLoopOption,
) *DecisionLoop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &DecisionLoop{
		policies:    policies,
		platform:    platform,
		router:      router,
		validator:   validator,
		quotas:      quotas,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
		clock:       clock.Real{},
		interval:    defaultLoopInterval,
		maxInterval: defaultLoopMaxInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SleepInterval returns the effective pause between cycles.
func (l *DecisionLoop) SleepInterval() time.Duration {
	return min(l.interval, l.maxInterval)
}

// LastReport returns the most recent cycle report, if any cycle ran.
func (l *DecisionLoop) LastReport() (CycleReport, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return CycleReport{}, false
	}
	return *l.last, true
}

// Run executes cycles until ctx is cancelled. Cancellation is observed only
// between cycles; a running cycle always completes.
func (l *DecisionLoop) Run(ctx context.Context) error {
	l.logger.Info("decision loop started", "interval", l.SleepInterval())
	for {
		if ctx.Err() != nil {
			l.logger.Info("decision loop stopped")
			return nil
		}
		l.RunCycle(ctx)

		timer := time.NewTimer(l.SleepInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info("decision loop stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle executes one decision cycle. It never fails: errors and panics are
// recorded in the report, journaled and logged. ctx cancellation does not
// abort the cycle.
func (l *DecisionLoop) RunCycle(ctx context.Context) (report CycleReport) {
	work := context.WithoutCancel(ctx)
	report = CycleReport{
		CycleID:   uuid.New().String(),
		StartedAt: l.clock.Now(),
	}

	work, span := l.tracer.Start(work, "inkgate.cycle",
		trace.WithAttributes(attribute.String("cycle_id", report.CycleID)))

	defer func() {
		if r := recover(); r != nil {
			report.Outcome = journal.OutcomeError
			report.Err = fmt.Errorf("panic in decision cycle: %v", r)
			l.logger.Error("decision cycle panicked", "cycle_id", report.CycleID, "panic", r, "stack", string(debug.Stack()))
		}
		report.Duration = l.clock.Now().Sub(report.StartedAt)
		l.finish(work, &report)

		span.SetAttributes(attribute.String("outcome", string(report.Outcome)))
		if report.Err != nil {
			span.RecordError(report.Err)
			span.SetStatus(codes.Error, report.Err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	l.cycle(work, &report)
	return report
}

func (l *DecisionLoop) cycle(ctx context.Context, report *CycleReport) {
	logger := l.logger.With("cycle_id", report.CycleID)
	ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, logger)

	if l.policies.ShouldCheckToday() {
		report.PolicyChecked = true
		updates, err := l.policies.CheckForUpdates(ctx)
		if err != nil {
			logger.Warn("policy update check failed", "error", err)
		} else if len(updates.Updated) > 0 {
			report.PolicyUpdated = updates.Updated
			logger.Info("policy documents updated", "policies", updates.Updated)
		}
	}

	snap := l.policies.Snapshot()
	report.PolicyVersion = snap.Version()

	candidates, err := l.platform.ListCandidateActions(ctx)
	if err != nil {
		report.Outcome = journal.OutcomeError
		report.Err = fmt.Errorf("list candidates: %w", err)
		return
	}
	report.Candidates = len(candidates)

	report.Decision = l.router.Route(snap, candidates)
	if report.Decision.Silent() {
		report.Outcome = journal.OutcomeSilent
		return
	}
	picked := *report.Decision.Candidate

	if picked.Payload.Text == "" && l.drafter != nil {
		payload, err := l.drafter.Draft(ctx, snap, picked)
		if err != nil {
			report.Outcome = journal.OutcomeError
			report.Err = fmt.Errorf("draft %s: %w", picked, err)
			return
		}
		picked.Payload = payload
	}
	picked.Payload = validation.SanitizePayload(picked.Payload)
	report.Decision.Candidate = &picked

	result := l.validator.Validate(snap, picked)
	report.Validation = &result
	if !result.Accepted {
		report.Outcome = journal.OutcomeRejected
		logger.Info("action rejected",
			"kind", picked.Kind,
			"target", picked.TargetID,
			"reason_code", result.Code,
			"reason", result.Message,
			"retry_after", result.RetryAfter,
			"scores", picked.Scores.String())
		return
	}

	res, err := l.platform.Dispatch(ctx, picked)
	if err != nil {
		// Quota is consumed only by confirmed dispatches.
		report.Outcome = journal.OutcomeDispatchFailed
		report.Err = fmt.Errorf("dispatch %s: %w", picked, err)
		return
	}
	l.quotas.Record(picked.Kind, picked.TargetID)
	report.Dispatch = &res
	report.Outcome = journal.OutcomeDispatched
}

// finish journals, notifies observers and persists state.
func (l *DecisionLoop) finish(ctx context.Context, report *CycleReport) {
	attrs := []any{
		"cycle_id", report.CycleID,
		"outcome", report.Outcome,
		"candidates", report.Candidates,
		"duration", report.Duration,
	}
	if c := report.Decision.Candidate; c != nil {
		attrs = append(attrs, "kind", c.Kind, "target", c.TargetID, "scores", c.Scores.String())
	} else if report.Decision.Reason != "" {
		attrs = append(attrs, "reason", report.Decision.Reason)
	}
	switch report.Outcome {
	case journal.OutcomeError, journal.OutcomeDispatchFailed:
		l.logger.Error("decision cycle failed", append(attrs, "error", report.Err)...)
	default:
		l.logger.Info("decision cycle complete", attrs...)
	}

	if l.journal != nil {
		l.guard(report, "journal", func() {
			if err := l.journal.Append(ctx, report.Record()); err != nil {
				l.logger.Error("failed to journal cycle", "cycle_id", report.CycleID, "error", err)
			}
		})
	}

	for _, o := range l.observers {
		l.guard(report, "observer", func() { o.ObserveCycle(*report) })
	}

	if l.state != nil && (report.PolicyChecked || report.Outcome == journal.OutcomeDispatched) {
		l.guard(report, "state saver", func() {
			if err := l.state.SaveRuntimeState(); err != nil {
				l.logger.Error("failed to save runtime state", "cycle_id", report.CycleID, "error", err)
			}
		})
	}

	cp := *report
	l.mu.Lock()
	l.last = &cp
	l.mu.Unlock()
}

// guard runs one post-cycle step. A panic is logged and joined into the
// report's error so the remaining steps and the loop keep running.
func (l *DecisionLoop) guard(report *CycleReport, step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			report.Err = errors.Join(report.Err, fmt.Errorf("panic in cycle %s: %v", step, r))
			l.logger.Error("post-cycle step panicked", "cycle_id", report.CycleID, "step", step, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
