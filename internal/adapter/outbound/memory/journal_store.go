// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/Sentinel-Gate/inkgate/internal/domain/journal"
)

const defaultRecentCap = 1000

// JournalStore implements journal.Store writing JSON lines to stdout or a
// file. Also keeps a bounded in-memory ring buffer for recent record queries.
type JournalStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	// recent is a bounded ring buffer of the most recent records.
	recent []journal.Record
	cap    int
}

// resolveCapacity returns the first positive capacity value, or defaultRecentCap.
func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return defaultRecentCap
}

// NewJournalStore creates a journal writing to stdout.
// An optional capacity parameter sets the ring buffer size (default 1000).
func NewJournalStore(capacity ...int) *JournalStore {
	return NewJournalStoreWithWriter(os.Stdout, capacity...)
}

// NewJournalStoreWithWriter creates a journal writing to the given writer.
// A nil writer keeps records in memory only.
func NewJournalStoreWithWriter(w io.Writer, capacity ...int) *JournalStore {
	cap := resolveCapacity(capacity...)
	s := &JournalStore{
		writer: w,
		recent: make([]journal.Record, 0, cap),
		cap:    cap,
	}
	if w != nil {
		s.encoder = json.NewEncoder(w)
	}
	return s
}

// Append writes records as JSON lines and keeps them in the ring buffer.
func (s *JournalStore) Append(_ context.Context, records ...journal.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if s.encoder != nil {
			if err := s.encoder.Encode(r); err != nil {
				return err
			}
		}
		if len(s.recent) >= s.cap {
			// Shift left, drop oldest.
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = r
		} else {
			s.recent = append(s.recent, r)
		}
	}
	return nil
}

// Flush forces pending records to storage.
func (s *JournalStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Sync()
	}
	return nil
}

// Close releases resources.
func (s *JournalStore) Close() error {
	// Close file if it's not stdout/stderr
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// GetRecent returns the N most recent records (newest first).
func (s *JournalStore) GetRecent(n int) []journal.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.recent)
	if n > total {
		n = total
	}
	if n <= 0 {
		return nil
	}
	result := make([]journal.Record, n)
	for i := 0; i < n; i++ {
		result[i] = s.recent[total-1-i]
	}
	return result
}

// Query returns buffered records matching the filter, newest first.
func (s *JournalStore) Query(_ context.Context, filter journal.Filter) ([]journal.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.NormalizedLimit()
	var result []journal.Record
	for i := len(s.recent) - 1; i >= 0 && len(result) < limit; i-- {
		if filter.Match(s.recent[i]) {
			result = append(result, s.recent[i])
		}
	}
	return result, nil
}

// Compile-time interface verification.
var (
	_ journal.Store      = (*JournalStore)(nil)
	_ journal.QueryStore = (*JournalStore)(nil)
)
