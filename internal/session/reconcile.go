package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/dirsync/internal/changes"
	"github.com/hpungsan/dirsync/internal/errors"
	"github.com/hpungsan/dirsync/internal/item"
	"github.com/hpungsan/dirsync/internal/metrics"
)

// Apply reconciles one raw notification against the store and the rows, then
// publishes exactly one Signal, also for notifications that turn out not to
// concern the watched directory. Failures are logged; nothing here is fatal.
func (s *Session) Apply(raw changes.Raw) {
	start := time.Now()
	sig := Signal{Kind: raw.Kind.String(), Path: raw.Path1}

	if c, ok := s.decoder.Decode(raw); ok {
		sig.Op = c.Op.String()
		sig.Path = c.Path
		metrics.RecordChange(sig.Op)
		switch c.Op {
		case changes.OpInsert:
			s.addItem(c.Path)
		case changes.OpRemove:
			s.removeItem(c.Path)
		case changes.OpUpdate:
			s.modifyItem(c.Path)
		case changes.OpRename:
			s.renameItem(c.OldPath, c.Path)
		}
		s.updateGauges()
	} else {
		metrics.RecordChange("discarded")
	}

	metrics.ObserveApply(time.Since(start))
	s.seq++
	sig.Session = s.id
	sig.Seq = s.seq
	sig.Counters = s.store.Counters()
	s.signals.publish(sig)
}

func (s *Session) addItem(path string) {
	if _, err := s.store.FindByPath(path); err == nil {
		// Reported twice; treat the second report as a modification so a
		// selected item keeps SelectedSize in step.
		s.modifyItem(path)
		return
	}
	name, err := s.folder.DisplayName(path)
	if err != nil {
		s.log.Debug("ignoring entry without a name", zap.String("path", path))
		return
	}
	res, err := s.store.Insert(s.ctx, path, name)
	if err != nil {
		s.warnResolution(path, err)
		return
	}
	if res.Existing {
		s.view.Update(res.ID)
		return
	}
	s.view.Insert(res.ID, res.Dropped)
	s.view.Flush()
}

func (s *Session) removeItem(path string) {
	id, err := s.store.FindByPath(path)
	if err != nil {
		s.log.Debug("remove for unknown item", zap.String("path", path))
		return
	}
	wasSelected := s.view.Remove(id)
	if _, err := s.store.Remove(id, wasSelected); err != nil {
		s.log.Debug("remove for unknown item", zap.String("path", path), zap.Error(err))
	}
	delete(s.values, id)
}

func (s *Session) modifyItem(path string) {
	id, err := s.store.FindByPath(path)
	if err != nil {
		s.log.Debug("update for unknown item", zap.String("path", path))
		return
	}
	if err := s.store.Update(s.ctx, id, s.view.IsSelected(id)); err != nil {
		s.warnResolution(path, err)
		return
	}
	s.view.Update(id)
}

func (s *Session) renameItem(oldPath, newPath string) {
	id, err := s.store.FindByPath(oldPath)
	if err != nil {
		// The old name was never listed; what matters is that the new one is.
		s.addItem(newPath)
		return
	}
	if other, err := s.store.FindByPath(newPath); err == nil && other != id {
		s.removeItem(newPath)
	}
	name, err := s.folder.DisplayName(newPath)
	if err != nil {
		s.removeItem(oldPath)
		return
	}
	if err := s.store.Rename(s.ctx, id, newPath, name, s.view.IsSelected(id)); err != nil {
		s.log.Warn("rename failed", zap.String("old", oldPath), zap.String("new", newPath), zap.Error(err))
		return
	}
	delete(s.values, id)
	if s.view.Rename(id) {
		_ = s.store.SetSelected(id, false)
	}
}

func (s *Session) warnResolution(path string, err error) {
	if errors.Is(err, errors.ErrResolutionFailed) {
		metrics.RecordResolutionFailure()
	}
	s.log.Warn("could not read item metadata", zap.String("path", path), zap.Error(err))
}

// Rescan lists the directory and feeds synthetic notifications through Apply
// for every difference from the store: new entries, vanished entries, and
// entries whose size, time or attributes changed.
func (s *Session) Rescan() {
	paths, err := s.enumerate(s.dir)
	if err != nil {
		s.log.Warn("rescan failed", zap.Error(err))
		return
	}

	seen := make(map[item.ID]bool, len(paths))
	for _, p := range paths {
		id, err := s.store.FindByPath(p)
		if err != nil {
			s.Apply(changes.Raw{Kind: changes.KindCreate, Path1: p})
			if id, err := s.store.FindByPath(p); err == nil {
				seen[id] = true
			}
			continue
		}
		seen[id] = true
		rec := s.store.Lookup(id)
		md, err := s.prober.Probe(p)
		if err != nil || rec == nil {
			continue
		}
		if md.Size != rec.Size || !md.ModTime.Equal(rec.ModTime) || md.Attributes != rec.Attributes {
			s.Apply(changes.Raw{Kind: changes.KindUpdateItem, Path1: p})
		}
	}
	for _, rec := range s.store.Records() {
		if !seen[rec.ID] {
			s.Apply(changes.Raw{Kind: changes.KindDelete, Path1: rec.Path})
		}
	}
}
