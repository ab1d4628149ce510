package session

import (
	"github.com/hpungsan/dirsync/internal/columns"
	"github.com/hpungsan/dirsync/internal/item"
	"github.com/hpungsan/dirsync/internal/sorting"
	"github.com/hpungsan/dirsync/internal/store"
	"github.com/hpungsan/dirsync/internal/view"
)

// Select marks a displayed item as selected and keeps the selected size in step.
func (s *Session) Select(id item.ID, selected bool) error {
	changed, err := s.view.Select(id, selected)
	if err != nil || !changed {
		return err
	}
	return s.store.SetSelected(id, selected)
}

// MarkDropped records names of items a drop is about to create.
func (s *Session) MarkDropped(names ...string) {
	s.store.MarkDropped(names...)
}

// PendingDropped returns how many dropped-name markers no create has consumed yet.
func (s *Session) PendingDropped() int {
	return s.store.PendingDropped()
}

// SetFilter replaces the filter.
func (s *Session) SetFilter(f view.Filter) error {
	deselected, err := s.view.SetFilter(f)
	if err != nil {
		return err
	}
	for _, id := range deselected {
		_ = s.store.SetSelected(id, false)
	}
	return nil
}

// SetCriterion re-sorts the rows.
func (s *Session) SetCriterion(c sorting.Criterion) error {
	return s.view.SetCriterion(c)
}

// SetMode switches the layout.
func (s *Session) SetMode(m view.Mode) error {
	return s.view.SetMode(m)
}

// SetColumns replaces the checked columns. Values computed for the previous
// set are dropped.
func (s *Session) SetColumns(cols []columns.Column) {
	s.generation++
	clear(s.values)
	s.view.SetColumns(cols)
}

// Settings returns the current view settings.
func (s *Session) Settings() view.Settings {
	return s.view.Settings()
}

// Counters returns the aggregate counters.
func (s *Session) Counters() store.Counters {
	return s.store.Counters()
}

// Displayed returns the number of rows shown.
func (s *Session) Displayed() int {
	return s.view.Len()
}

// Row is one displayed row.
type Row struct {
	item.Record
	Selected bool                      `json:"selected"`
	Cut      bool                      `json:"cut"`
	Columns  map[columns.Column]string `json:"columns,omitempty"`
}

// Snapshot is a copy of everything a folder view shows.
type Snapshot struct {
	ID        string         `json:"id"`
	Dir       string         `json:"dir"`
	Monitored bool           `json:"monitored"`
	Empty     bool           `json:"empty"`
	Counters  store.Counters `json:"counters"`
	Settings  view.Settings  `json:"settings"`
	Rows      []Row          `json:"rows"`
}

// Snapshot copies the current rows and statistics.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:        s.id,
		Dir:       s.dir,
		Monitored: s.Monitored(),
		Empty:     s.view.Empty(),
		Counters:  s.store.Counters(),
		Settings:  s.view.Settings(),
		Rows:      make([]Row, 0, s.view.Len()),
	}
	for _, id := range s.view.Displayed() {
		rec, ok := s.store.Get(id)
		if !ok {
			continue
		}
		row := Row{Record: rec, Selected: s.view.IsSelected(id), Cut: rec.IsHidden()}
		if vals := s.values[id]; len(vals) > 0 {
			row.Columns = make(map[columns.Column]string, len(vals))
			for c, v := range vals {
				row.Columns[c] = v
			}
		}
		snap.Rows = append(snap.Rows, row)
	}
	return snap
}
