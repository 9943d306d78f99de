package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/copperline/chatvault/pkg/model"
)

// ErrInvalidName marks file names that could escape the platform
// directory.
var ErrInvalidName = errors.New("invalid media file name")

// Store keeps fetched media under a per-platform directory tree:
// <root>/<platform>/<uuid>.<ext>.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// Fetch downloads a payload into the platform's directory.
func (s *Store) Fetch(ctx context.Context, platform string, ref Ref) (string, model.ContentKind, error) {
	return NewFetcher(filepath.Join(s.root, platform)).Fetch(ctx, ref)
}

// Resolve maps a stored file name back to its absolute path. Names
// that could escape the platform directory fail with ErrInvalidName;
// absent files fail with the os.Stat error, so fs.ErrNotExist stays
// distinguishable.
func (s *Store) Resolve(platform, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := filepath.Join(s.root, platform, name)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}
