// Package store holds the item records of one watched directory together with
// the aggregate counters a folder view shows in its status bar.
package store

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/hpungsan/dirsync/internal/errors"
	"github.com/hpungsan/dirsync/internal/item"
	"github.com/hpungsan/dirsync/internal/retry"
	"github.com/hpungsan/dirsync/internal/shell"
)

// Counters are the aggregate statistics of the live records.
type Counters struct {
	TotalSize    uint64 `json:"total_size"`
	SelectedSize uint64 `json:"selected_size"`
	Items        int    `json:"items"`
}

// InsertResult reports the outcome of Insert.
type InsertResult struct {
	ID item.ID
	// Dropped is set when the display name matched a dropped-file marker.
	Dropped bool
	// Existing is set when the path was already present and its record was
	// refreshed instead of a new one being created.
	Existing bool
}

// Options configures a Store.
type Options struct {
	Dir      string
	Prober   shell.Prober
	Retry    retry.Config
	FoldCase bool
}

// Store is not safe for concurrent use; a session mutates it from one goroutine.
type Store struct {
	dir      string
	prober   shell.Prober
	retry    retry.Config
	foldCase bool

	nextID   item.ID
	records  map[item.ID]*item.Record
	byPath   map[string]item.ID
	dropped  map[string]struct{}
	counters Counters
}

// New creates an empty store for opts.Dir.
func New(opts Options) *Store {
	p := opts.Prober
	if p == nil {
		p = shell.OSProber{}
	}
	return &Store{
		dir:      filepath.Clean(opts.Dir),
		prober:   p,
		retry:    opts.Retry,
		foldCase: opts.FoldCase,
		records:  make(map[item.ID]*item.Record),
		byPath:   make(map[string]item.ID),
		dropped:  make(map[string]struct{}),
	}
}

func (s *Store) key(path string) string {
	return item.PathKey(path, s.foldCase)
}

// Insert probes path and adds a record for it.
//
// A path that is already present is refreshed in place (the OS may report a
// create twice) and its existing ID is returned with Existing set. That refresh
// leaves SelectedSize alone; callers tracking a selection use Update instead.
func (s *Store) Insert(ctx context.Context, path, displayName string) (InsertResult, error) {
	md, err := shell.Resolve(ctx, s.prober, path, s.retry)
	if err != nil {
		return InsertResult{}, err
	}

	if id, ok := s.byPath[s.key(path)]; ok {
		rec := s.records[id]
		s.apply(rec, md, false)
		rec.DisplayName = displayName
		return InsertResult{ID: id, Existing: true}, nil
	}

	s.nextID++
	rec := &item.Record{
		ID:          s.nextID,
		Parent:      s.dir,
		Path:        filepath.Clean(path),
		DisplayName: displayName,
		Attributes:  md.Attributes,
		Size:        md.Size,
		ModTime:     md.ModTime,
		Overlay:     md.Overlay,
	}
	s.records[rec.ID] = rec
	s.byPath[s.key(rec.Path)] = rec.ID
	s.counters.TotalSize += rec.Size
	s.counters.Items++

	res := InsertResult{ID: rec.ID}
	nameKey := item.NameKey(displayName)
	if _, ok := s.dropped[nameKey]; ok {
		delete(s.dropped, nameKey)
		res.Dropped = true
	}
	return res, nil
}

// Update re-reads the metadata of id. On failure the record is left as it was
// and RESOLUTION_FAILED is returned.
func (s *Store) Update(ctx context.Context, id item.ID, selected bool) error {
	rec, ok := s.records[id]
	if !ok {
		return errors.NewNotFound(id.String())
	}
	md, err := shell.Resolve(ctx, s.prober, rec.Path, s.retry)
	if err != nil {
		return err
	}
	s.apply(rec, md, selected)
	return nil
}

// apply copies md into rec and moves the counters by the size delta.
func (s *Store) apply(rec *item.Record, md shell.Metadata, selected bool) {
	s.counters.TotalSize = s.counters.TotalSize - rec.Size + md.Size
	if selected {
		s.counters.SelectedSize = sub(s.counters.SelectedSize, rec.Size) + md.Size
	}
	rec.Attributes = md.Attributes
	rec.Size = md.Size
	rec.ModTime = md.ModTime
	rec.Overlay = md.Overlay
}

// Remove deletes id and returns the record as it was.
func (s *Store) Remove(id item.ID, selected bool) (item.Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return item.Record{}, errors.NewNotFound(id.String())
	}
	s.counters.TotalSize -= rec.Size
	if selected {
		s.counters.SelectedSize = sub(s.counters.SelectedSize, rec.Size)
	}
	s.counters.Items--
	delete(s.records, id)
	if s.byPath[s.key(rec.Path)] == id {
		delete(s.byPath, s.key(rec.Path))
	}
	return *rec, nil
}

// FindByPath returns the ID recorded for path.
func (s *Store) FindByPath(path string) (item.ID, error) {
	id, ok := s.byPath[s.key(path)]
	if !ok {
		return 0, errors.NewNotFound(path)
	}
	return id, nil
}

// Rename gives id a new identity. The record keeps its ID; attributes and
// overlay are refreshed when the new path resolves, otherwise the old metadata
// stays. A record already listed under newPath must be removed first.
func (s *Store) Rename(ctx context.Context, id item.ID, newPath, newDisplayName string, selected bool) error {
	rec, ok := s.records[id]
	if !ok {
		return errors.NewNotFound(id.String())
	}

	newPath = filepath.Clean(newPath)
	if other, ok := s.byPath[s.key(newPath)]; ok && other != id {
		return errors.NewInvalidRequest("rename target already listed: " + newPath)
	}
	delete(s.byPath, s.key(rec.Path))
	rec.Path = newPath
	rec.DisplayName = newDisplayName
	s.byPath[s.key(newPath)] = id

	if md, err := shell.Resolve(ctx, s.prober, newPath, s.retry); err == nil {
		s.apply(rec, md, selected)
	}
	return nil
}

// Get returns a copy of the record for id.
func (s *Store) Get(id item.ID) (item.Record, bool) {
	rec, ok := s.records[id]
	if !ok {
		return item.Record{}, false
	}
	return *rec, true
}

// Lookup returns the live record for id, or nil. Callers must not modify it.
func (s *Store) Lookup(id item.ID) *item.Record {
	return s.records[id]
}

// Len returns the number of live records.
func (s *Store) Len() int {
	return len(s.records)
}

// Counters returns the aggregate counters.
func (s *Store) Counters() Counters {
	return s.counters
}

// Records returns copies of all live records in ID order.
func (s *Store) Records() []item.Record {
	out := make([]item.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkDropped records display names of items that are about to appear as the
// result of a drop. Each marker is consumed by the first matching insert.
func (s *Store) MarkDropped(names ...string) {
	for _, n := range names {
		s.dropped[item.NameKey(n)] = struct{}{}
	}
}

// PendingDropped returns the number of unconsumed dropped-file markers.
func (s *Store) PendingDropped() int {
	return len(s.dropped)
}

// SetSelected moves id's size into or out of SelectedSize. The caller tracks
// which items are selected; the store only keeps the sum.
func (s *Store) SetSelected(id item.ID, selected bool) error {
	rec, ok := s.records[id]
	if !ok {
		return errors.NewNotFound(id.String())
	}
	if selected {
		s.counters.SelectedSize += rec.Size
	} else {
		s.counters.SelectedSize = sub(s.counters.SelectedSize, rec.Size)
	}
	return nil
}

// Reset drops every record, marker and counter. IDs keep increasing.
func (s *Store) Reset() {
	clear(s.records)
	clear(s.byPath)
	clear(s.dropped)
	s.counters = Counters{}
}

func sub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
