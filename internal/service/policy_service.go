// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sentinel-Gate/inkgate/internal/clock"
	"github.com/Sentinel-Gate/inkgate/internal/domain/policy"
)

// defaultFetchTimeout bounds a single remote fetch.
const defaultFetchTimeout = 10 * time.Second

// maxParallelFetches bounds concurrent fetches during an update check.
const maxParallelFetches = 4

// UpdateReport is the result of one update check.
type UpdateReport struct {
	// Updated lists documents whose content changed, sorted.
	Updated []string `json:"updated"`
	// Unchanged lists documents whose content did not change or could not
	// be fetched, sorted.
	Unchanged []string `json:"unchanged"`
	// CheckedAt is when the check ran.
	CheckedAt time.Time `json:"checked_at"`
}

// PolicyService owns the policy documents: it loads them (memory, then durable
// cache, then remote source), detects remote changes by content hash, and
// publishes an immutable policy.Snapshot for the rest of the system.
// Reads go through atomic.Value and never block; writes serialize on mu.
type PolicyService struct {
	source       policy.Source
	cache        policy.Cache
	names        []string
	clock        clock.Clock
	fetchTimeout time.Duration
	logger       *slog.Logger

	snapshot atomic.Value // stores policy.Snapshot

	mu        sync.Mutex
	docs      map[string]policy.Document
	extra     []string // loaded names not in the configured list, load order
	lastCheck time.Time
}

// PolicyServiceOption configures PolicyService.
type PolicyServiceOption func(*PolicyService)

// WithFetchTimeout bounds every remote fetch.
func WithFetchTimeout(d time.Duration) PolicyServiceOption {
	return func(s *PolicyService) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithClock sets the clock used for timestamps and the daily gate.
func WithClock(c clock.Clock) PolicyServiceOption {
	return func(s *PolicyService) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewPolicyService creates a service for the named documents. names sets the
// lookup order for policy sections. cache may be nil, in which case nothing
// survives a restart.
func NewPolicyService(source policy.Source, cache policy.Cache, names []string, logger *slog.Logger, opts ...PolicyServiceOption) *PolicyService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PolicyService{
		source:       source,
		cache:        cache,
		names:        append([]string(nil), names...),
		clock:        clock.Real{},
		fetchTimeout: defaultFetchTimeout,
		logger:       logger,
		docs:         make(map[string]policy.Document),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snapshot.Store(policy.NewSnapshot(nil))
	return s
}

// Snapshot returns the current immutable view of every loaded document.
func (s *PolicyService) Snapshot() policy.Snapshot {
	return s.snapshot.Load().(policy.Snapshot)
}

// Names returns the configured document names.
func (s *PolicyService) Names() []string {
	return append([]string(nil), s.names...)
}

// Load returns the named document: from memory, else from the durable cache,
// else from one remote fetch (which is then cached). It returns
// policy.ErrNotFound when none of those has it; fetch failures never surface
// any other way. Cache read failures are returned as is.
func (s *PolicyService) Load(ctx context.Context, name string) (policy.Document, error) {
	s.mu.Lock()
	if doc, ok := s.docs[name]; ok {
		s.mu.Unlock()
		return doc.Clone(), nil
	}
	s.mu.Unlock()

	if s.cache != nil {
		data, ok, err := s.cache.Read(name)
		if err != nil {
			return policy.Document{}, fmt.Errorf("load policy %q: %w", name, err)
		}
		if ok {
			doc := s.newDocument(name, data)
			s.store(doc)
			s.logger.Debug("policy loaded from cache", "policy", name, "hash", doc.Hash)
			return doc.Clone(), nil
		}
	}

	data, err := s.fetch(ctx, name)
	if err != nil {
		s.logger.Warn("policy not available", "policy", name, "error", err)
		return policy.Document{}, fmt.Errorf("%w: %s", policy.ErrNotFound, name)
	}

	doc := s.newDocument(name, data)
	s.writeCache(name, data)
	s.store(doc)
	s.logger.Info("policy fetched", "policy", name, "hash", doc.Hash)
	return doc.Clone(), nil
}

// LoadAll loads every configured document. Missing documents are logged and
// skipped; the returned error joins unexpected failures only.
func (s *PolicyService) LoadAll(ctx context.Context) (int, error) {
	var (
		loaded int
		errs   []error
	)
	for _, name := range s.names {
		if _, err := s.Load(ctx, name); err != nil {
			if errors.Is(err, policy.ErrNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		loaded++
	}
	return loaded, errors.Join(errs...)
}

// CheckForUpdates fetches every known document in parallel and replaces the
// ones whose content hash changed. A document not yet in memory is compared
// against its cached copy. A document that cannot be fetched counts
// as unchanged. The check time is recorded even when every fetch fails.
func (s *PolicyService) CheckForUpdates(ctx context.Context) (UpdateReport, error) {
	names := s.knownNames()
	fetched := make([][]byte, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for i, name := range names {
		g.Go(func() error {
			data, err := s.fetch(gctx, name)
			if err != nil {
				s.logger.Warn("policy update check failed", "policy", name, "error", err)
				return nil
			}
			fetched[i] = data
			return nil
		})
	}
	_ = g.Wait()

	now := s.clock.Now()
	report := UpdateReport{CheckedAt: now}
	adopted := false

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, name := range names {
		data := fetched[i]
		if data == nil {
			report.Unchanged = append(report.Unchanged, name)
			continue
		}
		hash := policy.HashContent(data)
		current, ok := s.docs[name]
		if !ok {
			current, ok = s.cachedLocked(name)
			if ok && current.Hash == hash {
				s.storeLocked(current)
				adopted = true
			}
		}
		if ok && current.Hash == hash {
			report.Unchanged = append(report.Unchanged, name)
			continue
		}
		doc := s.newDocument(name, data)
		s.writeCache(name, data)
		s.storeLocked(doc)
		report.Updated = append(report.Updated, name)
		s.logger.Info("policy updated", "policy", name, "hash", doc.Hash, "previous_hash", current.Hash)
	}

	s.lastCheck = now
	if len(report.Updated) > 0 || adopted {
		s.publishLocked()
	}

	sort.Strings(report.Updated)
	sort.Strings(report.Unchanged)
	return report, nil
}

// ShouldCheckToday reports whether no check has happened yet on the current
// calendar date, in the clock's location.
func (s *PolicyService) ShouldCheckToday() bool {
	s.mu.Lock()
	last := s.lastCheck
	s.mu.Unlock()

	if last.IsZero() {
		return true
	}
	now := s.clock.Now()
	ly, lm, ld := last.In(now.Location()).Date()
	ny, nm, nd := now.Date()
	lastDay := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return lastDay.Before(today)
}

// LastCheck returns when the last update check ran, or the zero time.
func (s *PolicyService) LastCheck() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCheck
}

// RestoreLastCheck sets the last check time from persisted state.
func (s *PolicyService) RestoreLastCheck(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheck = t
}

// Hashes returns the hash of every loaded document.
func (s *PolicyService) Hashes() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.docs))
	for name, d := range s.docs {
		out[name] = d.Hash
	}
	return out
}

func (s *PolicyService) fetch(ctx context.Context, name string) ([]byte, error) {
	if s.source == nil {
		return nil, errors.New("no policy source configured")
	}
	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	return s.source.Fetch(fctx, name)
}

func (s *PolicyService) newDocument(name string, data []byte) policy.Document {
	doc, err := policy.NewDocument(name, data, s.clock.Now())
	if err != nil {
		s.logger.Warn("policy document does not decode, treating as empty", "policy", name, "error", err)
	}
	return doc
}

// writeCache persists fetched bytes. A failure is logged: the document is
// still served from memory and the next successful write replaces it.
func (s *PolicyService) writeCache(name string, data []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Write(name, data); err != nil {
		s.logger.Error("failed to cache policy", "policy", name, "error", err)
	}
}

// cachedLocked returns the durable copy of a document that is not in memory.
// A cache read failure is logged and treated as no local copy.
func (s *PolicyService) cachedLocked(name string) (policy.Document, bool) {
	if s.cache == nil {
		return policy.Document{}, false
	}
	data, ok, err := s.cache.Read(name)
	if err != nil {
		s.logger.Warn("failed to read cached policy", "policy", name, "error", err)
		return policy.Document{}, false
	}
	if !ok {
		return policy.Document{}, false
	}
	return s.newDocument(name, data), true
}

// knownNames returns the configured names followed by any other loaded ones.
func (s *PolicyService) knownNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.names...)
	return append(out, s.extra...)
}

func (s *PolicyService) store(doc policy.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeLocked(doc)
	s.publishLocked()
}

func (s *PolicyService) storeLocked(doc policy.Document) {
	if _, ok := s.docs[doc.Name]; !ok && !s.configured(doc.Name) {
		s.extra = append(s.extra, doc.Name)
	}
	s.docs[doc.Name] = doc
}

func (s *PolicyService) configured(name string) bool {
	for _, n := range s.names {
		if n == name {
			return true
		}
	}
	return false
}

// publishLocked rebuilds the snapshot in lookup order. Caller must hold s.mu.
func (s *PolicyService) publishLocked() {
	docs := make([]policy.Document, 0, len(s.docs))
	for _, name := range s.names {
		if d, ok := s.docs[name]; ok {
			docs = append(docs, d)
		}
	}
	for _, name := range s.extra {
		if d, ok := s.docs[name]; ok {
			docs = append(docs, d)
		}
	}
	s.snapshot.Store(policy.NewSnapshot(docs))
}
