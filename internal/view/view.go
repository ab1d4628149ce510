// Package view keeps the displayed rows of a folder view in step with the
// item store: which records have a row, in what order, and how each row looks.
package view

import (
	"slices"

	"github.com/hpungsan/dirsync/internal/columns"
	"github.com/hpungsan/dirsync/internal/errors"
	"github.com/hpungsan/dirsync/internal/item"
	"github.com/hpungsan/dirsync/internal/sorting"
)

// State is the presentation state of one item.
type State uint8

const (
	// StateRemoved is reported for IDs the synchronizer does not know.
	StateRemoved State = iota
	// StateInserted items are queued for the next Flush.
	StateInserted
	StateDisplayed
	StateFilteredOut
)

func (s State) String() string {
	switch s {
	case StateInserted:
		return "inserted"
	case StateDisplayed:
		return "displayed"
	case StateFilteredOut:
		return "filtered_out"
	}
	return "removed"
}

// RowState is the per-row presentation derived from a record.
type RowState struct {
	// Cut draws the row ghosted, as done for hidden items.
	Cut     bool
	Overlay item.Overlay
}

// Surface receives row-level changes. Positions are 0-based and valid at the
// time of the call.
type Surface interface {
	RowInserted(pos int, rec item.Record)
	RowRemoved(pos int, id item.ID)
	RowUpdated(pos int, rec item.Record, st RowState)
	EmptyChanged(empty bool)
}

// NopSurface discards all notifications.
type NopSurface struct{}

func (NopSurface) RowInserted(int, item.Record)          {}
func (NopSurface) RowRemoved(int, item.ID)               {}
func (NopSurface) RowUpdated(int, item.Record, RowState) {}
func (NopSurface) EmptyChanged(bool)                     {}

// ColumnFunc asks for a column value of a displayed item to be computed.
type ColumnFunc func(id item.ID, c columns.Column)

// Options configures a Synchronizer.
type Options struct {
	Lookup  sorting.Lookup
	Surface Surface
	// SortInsertion splices new rows into their sorted position. When unset
	// new rows are appended.
	SortInsertion bool
	Settings      Settings
	RequestColumn ColumnFunc
}

type queued struct {
	id      item.ID
	dropped bool
}

// Synchronizer is not safe for concurrent use.
type Synchronizer struct {
	lookup        sorting.Lookup
	surface       Surface
	requestColumn ColumnFunc
	sortInsertion bool

	criterion sorting.Criterion
	mode      Mode
	filter    Filter
	columns   []columns.Column

	displayed []item.ID
	states    map[item.ID]State
	queue     []queued
	selected  map[item.ID]struct{}
	empty     bool
}

// New creates a synchronizer with no rows.
func New(opts Options) *Synchronizer {
	s := &Synchronizer{
		lookup:        opts.Lookup,
		surface:       opts.Surface,
		requestColumn: opts.RequestColumn,
		sortInsertion: opts.SortInsertion,
		criterion:     opts.Settings.Criterion,
		mode:          opts.Settings.Mode,
		filter:        opts.Settings.Filter,
		columns:       slices.Clone(opts.Settings.Columns),
		states:        make(map[item.ID]State),
		selected:      make(map[item.ID]struct{}),
	}
	if s.surface == nil {
		s.surface = NopSurface{}
	}
	if s.requestColumn == nil {
		s.requestColumn = func(item.ID, columns.Column) {}
	}
	if s.mode == "" {
		s.mode = ModeDetails
	}
	if s.criterion.Key == "" {
		s.criterion.Key = sorting.KeyName
	}
	return s
}

// Insert registers a new record. Records that pass the filter are queued and
// get a row on the next Flush; the rest are kept as filtered out.
func (s *Synchronizer) Insert(id item.ID, dropped bool) {
	rec := s.lookup(id)
	if rec == nil {
		return
	}
	if st := s.states[id]; st == StateDisplayed || st == StateInserted {
		return
	}
	if !s.filter.Match(rec) {
		s.states[id] = StateFilteredOut
		return
	}
	s.states[id] = StateInserted
	s.queue = append(s.queue, queued{id: id, dropped: dropped})
}

// Flush gives every queued record a row. Dropped items are appended at the
// end so they land where the user dropped them.
func (s *Synchronizer) Flush() {
	queue := s.queue
	s.queue = nil
	for _, q := range queue {
		if s.states[q.id] != StateInserted {
			continue
		}
		rec := s.lookup(q.id)
		if rec == nil {
			delete(s.states, q.id)
			continue
		}
		pos := len(s.displayed)
		if s.sortInsertion && !q.dropped {
			pos = sorting.Resolve(s.criterion, s.displayed, s.lookup, rec)
		}
		s.insertRow(pos, rec)
	}
	s.updateEmpty()
}

func (s *Synchronizer) insertRow(pos int, rec *item.Record) {
	s.displayed = slices.Insert(s.displayed, pos, rec.ID)
	s.states[rec.ID] = StateDisplayed
	s.surface.RowInserted(pos, *rec)
	s.requestColumns(rec.ID)
}

func (s *Synchronizer) removeRow(pos int) item.ID {
	id := s.displayed[pos]
	s.displayed = slices.Delete(s.displayed, pos, pos+1)
	s.surface.RowRemoved(pos, id)
	return id
}

func (s *Synchronizer) requestColumns(id item.ID) {
	if !s.mode.ShowsColumns() {
		return
	}
	for _, c := range s.columns {
		s.requestColumn(id, c)
	}
}

// Remove drops id and its row. It reports whether the item was selected so
// the caller can adjust the selection size.
func (s *Synchronizer) Remove(id item.ID) (wasSelected bool) {
	_, wasSelected = s.selected[id]
	delete(s.selected, id)

	switch s.states[id] {
	case StateDisplayed:
		if pos := slices.Index(s.displayed, id); pos >= 0 {
			s.removeRow(pos)
		}
	case StateInserted:
		s.queue = slices.DeleteFunc(s.queue, func(q queued) bool { return q.id == id })
	}
	delete(s.states, id)
	s.updateEmpty()
	return wasSelected
}

// Update refreshes the row of id after its metadata changed. Items without a
// row are ignored.
func (s *Synchronizer) Update(id item.ID) {
	if s.states[id] != StateDisplayed {
		return
	}
	rec := s.lookup(id)
	pos := slices.Index(s.displayed, id)
	if rec == nil || pos < 0 {
		return
	}
	s.surface.RowUpdated(pos, *rec, rowState(rec))
	s.requestColumns(id)
}

func rowState(rec *item.Record) RowState {
	return RowState{Cut: rec.IsHidden(), Overlay: rec.Overlay}
}

// Rename refreshes id after it received a new name. The filter is evaluated
// again: a row is removed if the new name is filtered out and added if the
// new name passes. With sorted insertion the row moves to its new position.
// It reports whether a selected row was removed.
func (s *Synchronizer) Rename(id item.ID) (deselected bool) {
	rec := s.lookup(id)
	if rec == nil {
		return false
	}

	switch s.states[id] {
	case StateDisplayed:
		pos := slices.Index(s.displayed, id)
		if pos < 0 {
			return false
		}
		if !s.filter.Match(rec) {
			s.removeRow(pos)
			_, deselected = s.selected[id]
			delete(s.selected, id)
			s.states[id] = StateFilteredOut
			s.updateEmpty()
			return deselected
		}
		if s.sortInsertion {
			rest := slices.Delete(slices.Clone(s.displayed), pos, pos+1)
			if to := sorting.Resolve(s.criterion, rest, s.lookup, rec); to != pos {
				s.removeRow(pos)
				s.insertRow(to, rec)
				return false
			}
		}
		s.surface.RowUpdated(pos, *rec, rowState(rec))
		s.requestColumns(id)

	case StateFilteredOut:
		if !s.filter.Match(rec) {
			return false
		}
		pos := len(s.displayed)
		if s.sortInsertion {
			pos = sorting.Resolve(s.criterion, s.displayed, s.lookup, rec)
		}
		s.insertRow(pos, rec)
		s.updateEmpty()
	}
	return false
}

// SetFilter replaces the filter and rebuilds the rows. It returns the selected
// items whose rows were filtered away; they are no longer selected.
func (s *Synchronizer) SetFilter(f Filter) ([]item.ID, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	s.filter = f

	var keep, deselected []item.ID
	for _, id := range s.displayed {
		if rec := s.lookup(id); rec != nil && f.Match(rec) {
			keep = append(keep, id)
			continue
		}
		s.states[id] = StateFilteredOut
		if _, ok := s.selected[id]; ok {
			delete(s.selected, id)
			deselected = append(deselected, id)
		}
	}
	var shown []item.ID
	for id, st := range s.states {
		if st != StateFilteredOut {
			continue
		}
		if rec := s.lookup(id); rec != nil && f.Match(rec) {
			shown = append(shown, id)
		}
	}
	slices.Sort(shown)
	order := append(keep, shown...)
	if s.sortInsertion {
		sorting.Sort(s.criterion, order, s.lookup)
	}
	s.rebuild(order)
	return deselected, nil
}

// SetCriterion re-sorts every row by c.
func (s *Synchronizer) SetCriterion(c sorting.Criterion) error {
	if _, err := sorting.ParseKey(string(c.Key)); err != nil {
		return err
	}
	if c.Key == "" {
		c.Key = sorting.KeyName
	}
	s.criterion = c
	order := slices.Clone(s.displayed)
	sorting.Sort(c, order, s.lookup)
	s.rebuild(order)
	return nil
}

// rebuild replaces all rows with order.
func (s *Synchronizer) rebuild(order []item.ID) {
	for i := len(s.displayed) - 1; i >= 0; i-- {
		s.surface.RowRemoved(i, s.displayed[i])
	}
	s.displayed = s.displayed[:0]
	for _, id := range order {
		rec := s.lookup(id)
		if rec == nil {
			delete(s.states, id)
			continue
		}
		s.displayed = append(s.displayed, id)
		s.states[id] = StateDisplayed
		s.surface.RowInserted(len(s.displayed)-1, *rec)
	}
	s.updateEmpty()
}

// SetMode switches the layout. Entering details view requests the checked
// columns of every row.
func (s *Synchronizer) SetMode(m Mode) error {
	m, err := ParseMode(string(m))
	if err != nil {
		return err
	}
	prev := s.mode
	s.mode = m
	if m.ShowsColumns() && !prev.ShowsColumns() {
		for _, id := range s.displayed {
			s.requestColumns(id)
		}
	}
	return nil
}

// SetColumns replaces the checked columns.
func (s *Synchronizer) SetColumns(cols []columns.Column) {
	s.columns = slices.Clone(cols)
	for _, id := range s.displayed {
		s.requestColumns(id)
	}
}

// Select marks a displayed item as selected or not. It reports whether the
// selection changed.
func (s *Synchronizer) Select(id item.ID, selected bool) (bool, error) {
	if s.states[id] != StateDisplayed {
		return false, errors.NewNotFound(id.String())
	}
	_, was := s.selected[id]
	if was == selected {
		return false, nil
	}
	if selected {
		s.selected[id] = struct{}{}
	} else {
		delete(s.selected, id)
	}
	return true, nil
}

// IsSelected reports whether id is selected.
func (s *Synchronizer) IsSelected(id item.ID) bool {
	_, ok := s.selected[id]
	return ok
}

// Selected returns the selected IDs in display order.
func (s *Synchronizer) Selected() []item.ID {
	var out []item.ID
	for _, id := range s.displayed {
		if _, ok := s.selected[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Position returns the row index of id.
func (s *Synchronizer) Position(id item.ID) (int, bool) {
	pos := slices.Index(s.displayed, id)
	return pos, pos >= 0
}

// State returns the presentation state of id.
func (s *Synchronizer) State(id item.ID) State {
	return s.states[id]
}

// Displayed returns the IDs of all rows in display order.
func (s *Synchronizer) Displayed() []item.ID {
	return slices.Clone(s.displayed)
}

// Len returns the number of rows.
func (s *Synchronizer) Len() int {
	return len(s.displayed)
}

// Empty reports whether the empty-folder indicator is shown.
func (s *Synchronizer) Empty() bool {
	return s.empty
}

// Settings returns the current view settings.
func (s *Synchronizer) Settings() Settings {
	return Settings{
		Criterion: s.criterion,
		Mode:      s.mode,
		Filter:    s.filter,
		Columns:   slices.Clone(s.columns),
	}
}

// Mode returns the current layout.
func (s *Synchronizer) Mode() Mode {
	return s.mode
}

// Reset forgets every item without notifying the surface.
func (s *Synchronizer) Reset() {
	s.displayed = nil
	s.queue = nil
	clear(s.states)
	clear(s.selected)
}

// updateEmpty shows the indicator when there are no rows, unless a filter
// is what hides them.
func (s *Synchronizer) updateEmpty() {
	empty := len(s.displayed) == 0 && !s.filter.Active()
	if empty != s.empty {
		s.empty = empty
		s.surface.EmptyChanged(empty)
	}
}
