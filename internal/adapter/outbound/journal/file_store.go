// Package journal provides persistent decision journals: JSON Lines files
// with daily rotation, size caps and retention cleanup, and a SQLite store.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Sentinel-Gate/inkgate/internal/clock"
	"github.com/Sentinel-Gate/inkgate/internal/domain/journal"
)

const dateLayout = "2006-01-02"

// journalFilePattern matches journal-YYYY-MM-DD.log and journal-YYYY-MM-DD-N.log.
var journalFilePattern = regexp.MustCompile(`^journal-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

type fileInfo struct {
	name   string
	date   string
	suffix int
}

func parseFilename(name string) (fileInfo, bool) {
	m := journalFilePattern.FindStringSubmatch(name)
	if m == nil {
		return fileInfo{}, false
	}
	info := fileInfo{name: name, date: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return fileInfo{}, false
		}
		info.suffix = n
	}
	return info, true
}

// sortFiles orders files chronologically: date, then suffix.
func sortFiles(files []fileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
}

func buildFilename(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("journal-%s.log", date)
	}
	return fmt.Sprintf("journal-%s-%d.log", date, suffix)
}

// FileConfig configures FileStore.
type FileConfig struct {
	// Dir is where journal files are written.
	Dir string
	// RetentionDays is how long files are kept (default 30).
	RetentionDays int
	// MaxFileSizeMB triggers a size rotation (default 50).
	MaxFileSizeMB int
	// CacheSize is the number of recent records kept in memory (default 1000).
	CacheSize int
	// Clock drives retention; defaults to the wall clock.
	Clock clock.Clock
}

// FileStore implements journal.Store on rotating JSON Lines files. Recent
// records are also held in a ring buffer for the status API.
type FileStore struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	clock         clock.Clock

	mu            sync.Mutex
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	closed        bool

	cache  *recordCache
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFileStore creates the directory, opens today's file, removes expired
// files, warms the cache from the most recent file and starts the hourly
// retention loop. Close stops the loop.
func NewFileStore(cfg FileConfig, logger *slog.Logger) (*FileStore, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 50
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileStore{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		clock:         cfg.Clock,
		cache:         newRecordCache(cfg.CacheSize),
		logger:        logger,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	if err := s.openCurrentFile(s.clock.Now().UTC().Format(dateLayout)); err != nil {
		cancel()
		return nil, fmt.Errorf("open journal file: %w", err)
	}

	s.runCleanup()
	s.populateCache()

	go s.cleanupLoop(ctx)
	return s, nil
}

// Append writes records as compact JSON lines, rotating on date change or
// when the current file exceeds the size cap.
func (s *FileStore) Append(_ context.Context, records ...journal.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("journal store closed")
	}

	for _, rec := range records {
		date := rec.Timestamp.UTC().Format(dateLayout)
		if date != s.currentDate {
			if err := s.rotateLocked(date, 0); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if s.currentSize >= s.maxFileSize {
			if err := s.rotateLocked(s.currentDate, s.currentSuffix+1); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal journal record: %w", err)
		}
		n, err := s.currentFile.Write(append(data, '\n'))
		if err != nil {
			return fmt.Errorf("write journal record: %w", err)
		}
		s.currentSize += int64(n)
		s.cache.Add(rec)
	}
	return nil
}

// Flush syncs the current file.
func (s *FileStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentFile != nil {
		return s.currentFile.Sync()
	}
	return nil
}

// Close stops the retention loop and closes the current file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()

	var err error
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		err = s.currentFile.Close()
		s.currentFile = nil
	}
	s.mu.Unlock()

	<-s.done
	return err
}

// GetRecent returns the last n records, newest first.
func (s *FileStore) GetRecent(n int) []journal.Record {
	return s.cache.Recent(n)
}

// Query filters the cached records, newest first.
func (s *FileStore) Query(_ context.Context, filter journal.Filter) ([]journal.Record, error) {
	limit := filter.NormalizedLimit()
	var out []journal.Record
	for _, r := range s.cache.Recent(s.cache.Len()) {
		if len(out) >= limit {
			break
		}
		if filter.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// openCurrentFile continues the highest suffix already on disk for date.
func (s *FileStore) openCurrentFile(date string) error {
	suffix := s.highestSuffix(date)
	f, size, err := s.openFile(date, suffix)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentDate = date
	s.currentSize = size
	s.currentSuffix = suffix
	return nil
}

func (s *FileStore) highestSuffix(date string) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if ok && info.date == date && info.suffix > highest {
			highest = info.suffix
		}
	}
	return highest
}

func (s *FileStore) openFile(date string, suffix int) (*os.File, int64, error) {
	name := buildFilename(date, suffix)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, 0, fmt.Errorf("open file %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", name, err)
	}
	return f, info.Size(), nil
}

// rotateLocked switches to the file for date and suffix. Must be called with
// s.mu held.
func (s *FileStore) rotateLocked(date string, suffix int) error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}
	f, size, err := s.openFile(date, suffix)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentDate = date
	s.currentSize = size
	s.currentSuffix = suffix
	return nil
}

// runCleanup deletes files dated before the retention cutoff.
func (s *FileStore) runCleanup() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("journal cleanup: failed to read directory", "dir", s.dir, "error", err)
		return
	}

	cutoff := s.clock.Now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if !ok {
			continue
		}
		fileDate, err := time.Parse(dateLayout, info.date)
		if err != nil || !fileDate.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.logger.Error("journal cleanup: failed to delete file", "file", e.Name(), "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("journal cleanup completed", "deleted", deleted)
	}
}

func (s *FileStore) cleanupLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// populateCache loads the tail of the most recent non-empty file.
func (s *FileStore) populateCache() {
	name := s.mostRecentFile()
	if name == "" {
		return
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		s.logger.Error("journal cache: failed to open file", "file", name, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	var records []journal.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec journal.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Warn("journal cache: skipping malformed line", "file", name, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Error("journal cache: error reading file", "file", name, "error", err)
	}

	if len(records) > s.cache.size {
		records = records[len(records)-s.cache.size:]
	}
	for _, rec := range records {
		s.cache.Add(rec)
	}
}

func (s *FileStore) mostRecentFile() string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return ""
	}
	var files []fileInfo
	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil || fi.Size() == 0 {
			continue
		}
		files = append(files, info)
	}
	if len(files) == 0 {
		return ""
	}
	sortFiles(files)
	return files[len(files)-1].name
}

// Compile-time interface verification.
var (
	_ journal.Store      = (*FileStore)(nil)
	_ journal.QueryStore = (*FileStore)(nil)
)

// recordCache is a ring buffer of recent records.
type recordCache struct {
	mu      sync.RWMutex
	entries []journal.Record
	size    int
	head    int
	count   int
}

func newRecordCache(size int) *recordCache {
	if size <= 0 {
		size = 1000
	}
	return &recordCache{entries: make([]journal.Record, size), size: size}
}

// Add stores rec, overwriting the oldest entry when full.
func (c *recordCache) Add(rec journal.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.head] = rec
	c.head = (c.head + 1) % c.size
	if c.count < c.size {
		c.count++
	}
}

// Recent returns up to n entries, newest first.
func (c *recordCache) Recent(n int) []journal.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n <= 0 || c.count == 0 {
		return nil
	}
	if n > c.count {
		n = c.count
	}
	out := make([]journal.Record, n)
	for i := 0; i < n; i++ {
		out[i] = c.entries[(c.head-1-i+c.size)%c.size]
	}
	return out
}

// Len returns the number of cached entries.
func (c *recordCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}
