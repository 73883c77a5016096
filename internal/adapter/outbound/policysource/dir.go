package policysource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sentinel-Gate/inkgate/internal/domain/policy"
)

// DirSource reads documents from a local directory, for offline runs and
// tests. files maps document name to a path relative to the directory.
type DirSource struct {
	dir   string
	files map[string]string
}

// NewDirSource creates a DirSource.
func NewDirSource(dir string, files map[string]string) *DirSource {
	cp := make(map[string]string, len(files))
	for k, v := range files {
		cp[k] = v
	}
	return &DirSource{dir: dir, files: cp}
}

// Fetch implements policy.Source.
func (s *DirSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, ok := s.files[name]
	if !ok {
		file = name + ".json"
	}
	clean := filepath.Clean(file)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDocument, name)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, clean))
	if err != nil {
		return nil, fmt.Errorf("read policy %q: %w", name, err)
	}
	return data, nil
}

// Compile-time interface verification.
var _ policy.Source = (*DirSource)(nil)
