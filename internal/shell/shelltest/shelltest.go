// Package shelltest provides an in-memory shell.Prober for tests.
package shelltest

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/hpungsan/dirsync/internal/item"
	"github.com/hpungsan/dirsync/internal/shell"
)

// FS is a map-backed Prober. Paths are cleaned before use.
type FS struct {
	mu      sync.Mutex
	entries map[string]shell.Metadata
	fails   map[string]error
	probes  map[string]int
}

// New returns an empty FS.
func New() *FS {
	return &FS{
		entries: make(map[string]shell.Metadata),
		fails:   make(map[string]error),
		probes:  make(map[string]int),
	}
}

// File adds or replaces a regular file of the given size.
func (f *FS) File(path string, size uint64) *FS {
	return f.Set(path, shell.Metadata{Size: size, ModTime: time.Unix(1700000000, 0)})
}

// Dir adds or replaces a directory.
func (f *FS) Dir(path string) *FS {
	return f.Set(path, shell.Metadata{Attributes: item.AttrDirectory, ModTime: time.Unix(1700000000, 0)})
}

// Set stores md for path; the name is filled in from the path.
func (f *FS) Set(path string, md shell.Metadata) *FS {
	f.mu.Lock()
	defer f.mu.Unlock()
	path = filepath.Clean(path)
	md.Name = filepath.Base(path)
	f.entries[path] = md
	return f
}

// Remove deletes path.
func (f *FS) Remove(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, filepath.Clean(path))
}

// Fail makes every probe of path return err until cleared with Fail(path, nil).
func (f *FS) Fail(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fails, filepath.Clean(path))
		return
	}
	f.fails[filepath.Clean(path)] = err
}

// Probes returns how many times path was probed.
func (f *FS) Probes(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes[filepath.Clean(path)]
}

// Probe implements shell.Prober.
func (f *FS) Probe(path string) (shell.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path = filepath.Clean(path)
	f.probes[path]++
	if err, ok := f.fails[path]; ok {
		return shell.Metadata{}, err
	}
	md, ok := f.entries[path]
	if !ok {
		return shell.Metadata{}, &fs.PathError{Op: "lstat", Path: path, Err: fs.ErrNotExist}
	}
	return md, nil
}

// Children lists the paths directly inside dir, for rescans.
func (f *FS) Children(dir string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir = filepath.Clean(dir)
	var out []string
	for p := range f.entries {
		if filepath.Dir(p) == dir {
			out = append(out, p)
		}
	}
	return out
}
