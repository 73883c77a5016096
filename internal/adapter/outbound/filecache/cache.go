// Package filecache implements policy.Cache as one file per document in a
// directory.
package filecache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/inkgate/internal/domain/policy"
)

// ErrInvalidName is returned for document names that cannot be used as file
// names.
var ErrInvalidName = errors.New("invalid policy document name")

// DirCache stores each document at <dir>/<name>.
type DirCache struct {
	dir string
}

// New creates a cache rooted at dir. The directory is created on first write.
func New(dir string) *DirCache {
	return &DirCache{dir: dir}
}

// Dir returns the cache directory.
func (c *DirCache) Dir() string {
	return c.dir
}

func (c *DirCache) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(c.dir, name), nil
}

// Read returns the cached bytes for name. ok is false when nothing is cached.
func (c *DirCache) Read(name string) ([]byte, bool, error) {
	p, err := c.path(name)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cached policy %q: %w", name, err)
	}
	return data, true, nil
}

// Write atomically replaces the cached bytes for name.
func (c *DirCache) Write(name string, data []byte) error {
	p, err := c.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := state.WriteFileAtomic(p, data, 0o600); err != nil {
		return fmt.Errorf("write cached policy %q: %w", name, err)
	}
	return nil
}

// Clear removes every cached document.
func (c *DirCache) Clear() error {
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("clear policy cache: %w", err)
	}
	return nil
}

// Compile-time interface verification.
var _ policy.Cache = (*DirCache)(nil)
