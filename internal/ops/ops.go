package ops

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/dirsync/internal/config"
	"github.com/hpungsan/dirsync/internal/errors"
	"github.com/hpungsan/dirsync/internal/item"
)

// Pagination limits
const (
	DefaultListLimit     = 100
	MaxListLimit         = 1000
	DefaultSettingsLimit = 20
	MaxSettingsLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

func paginate(limit, offset, def, maxLimit int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, max(offset, 0)
}

// Folder is a validated directory.
type Folder struct {
	// Path is absolute and cleaned, as given.
	Path string
	// Key identifies the folder in storage: symlinks resolved, case folded
	// when paths are case-insensitive.
	Key string
}

// ValidateDir checks that path names an existing directory and returns its
// absolute form and storage key.
func ValidateDir(path string, cfg *config.Config) (*Folder, error) {
	if path == "" {
		return nil, errors.NewInvalidRequest("directory is required")
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}

	info, err := os.Stat(absPath)
	if os.IsNotExist(err) {
		return nil, errors.NewNotFound(path)
	}
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot access %s: %v", path, err))
	}
	if !info.IsDir() {
		return nil, errors.NewInvalidRequest("not a directory: " + path)
	}

	// Settings follow the folder, not the link used to reach it.
	resolved := absPath
	if r, err := filepath.EvalSymlinks(absPath); err == nil {
		resolved = r
	}

	foldCase := cfg != nil && cfg.CaseInsensitivePaths()
	return &Folder{
		Path: absPath,
		Key:  item.PathKey(resolved, foldCase),
	}, nil
}
