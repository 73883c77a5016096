package journal

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/inkgate/internal/domain/journal"
)

// Journal is a store that can also be queried.
type Journal interface {
	journal.Store
	journal.QueryStore
}

// OpenOptions tunes the stdout and file journals.
type OpenOptions struct {
	// BufferSize is the number of recent records kept in memory.
	BufferSize    int
	MaxFileSizeMB int
	RetentionDays int
}

// Open returns the journal for an audit output URL:
//
//	stdout            JSON lines on stdout, recent records in memory
//	file:///abs/dir   rotating JSON Lines files under dir
//	sqlite:///abs.db  SQLite database
//
// Zero fields in opts take the store defaults.
func Open(output string, opts OpenOptions, logger *slog.Logger) (Journal, error) {
	switch {
	case output == "" || output == "stdout":
		return memory.NewJournalStoreWithWriter(os.Stdout, opts.BufferSize), nil
	case strings.HasPrefix(output, "file://"):
		s, err := NewFileStore(FileConfig{
			Dir:           strings.TrimPrefix(output, "file://"),
			CacheSize:     opts.BufferSize,
			MaxFileSizeMB: opts.MaxFileSizeMB,
			RetentionDays: opts.RetentionDays,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case strings.HasPrefix(output, "sqlite://"):
		s, err := OpenSQLite(strings.TrimPrefix(output, "sqlite://"))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported audit output %q", output)
}
