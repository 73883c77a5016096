package http

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/filecache"
	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/policysource"
	"github.com/Sentinel-Gate/inkgate/internal/clock"
	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/routing"
	"github.com/Sentinel-Gate/inkgate/internal/domain/validation"
	"github.com/Sentinel-Gate/inkgate/internal/service"
)

// discardLogger returns a logger that discards all output (for tests)
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testPolicy = `
rate_limits:
  continue: {max: 1, window: 1h, per_resource: true}
forbidden_patterns:
  - description: meta
    keywords: ["as an AI"]
`

// stubPlatform offers one continue candidate and accepts every dispatch.
type stubPlatform struct{}

func (stubPlatform) ListCandidateActions(context.Context) ([]action.Candidate, error) {
	return []action.Candidate{{
		Kind:     action.KindContinue,
		TargetID: "b-1",
		Payload:  action.Payload{Text: "The harbor bells rang twice."},
		Scores:   action.ScoreVector{action.DimContinuity: 0.8},
	}}, nil
}

func (stubPlatform) Dispatch(context.Context, action.Candidate) (service.DispatchResult, error) {
	return service.DispatchResult{ResourceID: "seg-1"}, nil
}

type agentFixture struct {
	clock    *clock.Fake
	quotas   *memory.QuotaTracker
	journal  *memory.JournalStore
	policies *service.PolicyService
	stats    *service.StatsService
	loop     *service.DecisionLoop
	status   *service.StatusService
}

func newAgentFixture(t *testing.T) *agentFixture {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "agent-policy.yaml"), []byte(testPolicy), 0o600); err != nil {
		t.Fatal(err)
	}
	logger := discardLogger()
	f := &agentFixture{
		clock:   clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		journal: memory.NewJournalStoreWithWriter(nil),
		stats:   service.NewStatsService(),
	}
	f.quotas = memory.NewQuotaTracker(f.clock, nil, logger)
	f.policies = service.NewPolicyService(
		policysource.NewDirSource(dir, map[string]string{"agent-policy": "agent-policy.yaml"}),
		filecache.New(filepath.Join(dir, "cache")),
		[]string{"agent-policy"},
		logger,
		service.WithClock(f.clock),
	)
	router := routing.NewRouter(nil, logger)
	validator := validation.NewActionValidator(f.quotas)
	f.loop = service.NewDecisionLoop(f.policies, stubPlatform{}, router, validator, f.quotas, logger,
		service.WithJournal(f.journal),
		service.WithObserver(f.stats),
		service.WithLoopClock(f.clock),
		service.WithInterval(5*time.Minute, time.Hour),
	)
	f.status = service.NewStatusService(f.policies, f.quotas, router, validator,
		service.WithJournalQuery(f.journal),
		service.WithLoop(f.loop),
	)
	return f
}
