package service

import (
	"sync"
	"sync/atomic"

	"github.com/Sentinel-Gate/inkgate/internal/domain/journal"
)

// StatsService counts cycle outcomes since process start.
// All counter operations are safe for concurrent access.
type StatsService struct {
	dispatched     atomic.Int64
	silent         atomic.Int64
	rejected       atomic.Int64
	dispatchFailed atomic.Int64
	errors         atomic.Int64

	mu           sync.Mutex
	reasonCounts map[string]int64
	kindCounts   map[string]int64
}

// NewStatsService creates a StatsService with all counters at zero.
func NewStatsService() *StatsService {
	return &StatsService{
		reasonCounts: make(map[string]int64),
		kindCounts:   make(map[string]int64),
	}
}

// ObserveCycle implements CycleObserver.
func (s *StatsService) ObserveCycle(report CycleReport) {
	switch report.Outcome {
	case journal.OutcomeDispatched:
		s.dispatched.Add(1)
		if c := report.Decision.Candidate; c != nil {
			s.mu.Lock()
			s.kindCounts[string(c.Kind)]++
			s.mu.Unlock()
		}
	case journal.OutcomeSilent:
		s.silent.Add(1)
	case journal.OutcomeRejected:
		s.rejected.Add(1)
		if v := report.Validation; v != nil && v.Code != "" {
			s.mu.Lock()
			s.reasonCounts[string(v.Code)]++
			s.mu.Unlock()
		}
	case journal.OutcomeDispatchFailed:
		s.dispatchFailed.Add(1)
	case journal.OutcomeError:
		s.errors.Add(1)
	}
}

// Stats is a point-in-time copy of the counters.
type Stats struct {
	Cycles         int64            `json:"cycles"`
	Dispatched     int64            `json:"dispatched"`
	Silent         int64            `json:"silent"`
	Rejected       int64            `json:"rejected"`
	DispatchFailed int64            `json:"dispatch_failed"`
	Errors         int64            `json:"errors"`
	ReasonCounts   map[string]int64 `json:"reason_counts"`
	KindCounts     map[string]int64 `json:"kind_counts"`
}

// GetStats returns a snapshot of the counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	reasons := make(map[string]int64, len(s.reasonCounts))
	for k, v := range s.reasonCounts {
		reasons[k] = v
	}
	kinds := make(map[string]int64, len(s.kindCounts))
	for k, v := range s.kindCounts {
		kinds[k] = v
	}
	s.mu.Unlock()

	st := Stats{
		Dispatched:     s.dispatched.Load(),
		Silent:         s.silent.Load(),
		Rejected:       s.rejected.Load(),
		DispatchFailed: s.dispatchFailed.Load(),
		Errors:         s.errors.Load(),
		ReasonCounts:   reasons,
		KindCounts:     kinds,
	}
	st.Cycles = st.Dispatched + st.Silent + st.Rejected + st.DispatchFailed + st.Errors
	return st
}

// Reset sets all counters to zero.
func (s *StatsService) Reset() {
	s.dispatched.Store(0)
	s.silent.Store(0)
	s.rejected.Store(0)
	s.dispatchFailed.Store(0)
	s.errors.Store(0)

	s.mu.Lock()
	s.reasonCounts = make(map[string]int64)
	s.kindCounts = make(map[string]int64)
	s.mu.Unlock()
}

// Compile-time interface verification.
var _ CycleObserver = (*StatsService)(nil)
