package changes

import (
	stderrors "errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hpungsan/dirsync/internal/errors"
	"github.com/hpungsan/dirsync/internal/logging"
	"github.com/hpungsan/dirsync/internal/metrics"
)

// Source delivers raw notifications for one directory, non-recursively.
type Source struct {
	watcher *fsnotify.Watcher
	events  chan Raw
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	log     *zap.Logger
}

// Watch registers dir with the OS notification mechanism.
// Failure returns WATCH_REGISTRATION_FAILED.
func Watch(dir string, logger *zap.Logger) (*Source, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewWatchRegistrationFailed(dir, err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, errors.NewWatchRegistrationFailed(dir, err)
	}

	s := &Source{
		watcher: w,
		events:  make(chan Raw, 256),
		done:    make(chan struct{}),
		log:     logging.OrGlobal(logger).With(zap.String("dir", dir)),
	}
	s.wg.Add(1)
	go s.loop()
	return s, nil
}

// Events returns the notification channel. It is closed after Close.
func (s *Source) Events() <-chan Raw {
	return s.events
}

// Close deregisters the watch and waits for the delivery goroutine to exit.
func (s *Source) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.watcher.Close()
		s.wg.Wait()
		close(s.events)
	})
	return err
}

func (s *Source) loop() {
	defer s.wg.Done()

	var pair renamePairer
	timer := time.NewTimer(renameWindow)
	timer.Stop()
	defer timer.Stop()

	send := func(raws []Raw) bool {
		for _, raw := range raws {
			metrics.RecordRawEvent(raw.Kind.String())
			select {
			case s.events <- raw:
			case <-s.done:
				return false
			}
		}
		return true
	}

	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				send(pair.flush())
				return
			}
			var out []Raw
			for _, raw := range Translate(ev) {
				out = append(out, pair.push(raw)...)
			}
			if pair.waiting() {
				timer.Reset(renameWindow)
			}
			if !send(out) {
				return
			}
		case <-timer.C:
			if !send(pair.flush()) {
				return
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				send(pair.flush())
				return
			}
			if stderrors.Is(err, fsnotify.ErrEventOverflow) {
				metrics.RecordNotifyOverflow()
				s.log.Warn("change notifications dropped by the OS; view may be stale")
				continue
			}
			s.log.Warn("watch error", zap.Error(err))
		case <-s.done:
			return
		}
	}
}

// renameWindow is how long the old half of a rename waits for its new half.
const renameWindow = 50 * time.Millisecond

// renamePairer joins the two halves fsnotify reports for a rename inside one
// directory, the old name followed by a create for the new name, into a
// single rename. An old half with no matching create is released on its own
// and decodes to a remove.
type renamePairer struct {
	pending *Raw
}

func (p *renamePairer) waiting() bool {
	return p.pending != nil
}

// push takes the next raw notification and returns what can be delivered now.
func (p *renamePairer) push(raw Raw) []Raw {
	if raw.Kind == KindRename && raw.Path2 == "" {
		out := p.flush()
		p.pending = &raw
		return out
	}
	if p.pending != nil && raw.Kind == KindCreate &&
		filepath.Dir(raw.Path1) == filepath.Dir(p.pending.Path1) {
		joined := Raw{Kind: KindRename, Path1: p.pending.Path1, Path2: raw.Path1}
		p.pending = nil
		return []Raw{joined}
	}
	return append(p.flush(), raw)
}

// flush releases a waiting old half.
func (p *renamePairer) flush() []Raw {
	if p.pending == nil {
		return nil
	}
	raw := *p.pending
	p.pending = nil
	return []Raw{raw}
}

// Translate maps one fsnotify event to raw notifications. fsnotify reports a
// rename as the old name only, so it becomes a rename with no new path; the
// new name arrives as a separate create, which the source pairs with it.
func Translate(ev fsnotify.Event) []Raw {
	var out []Raw
	if ev.Has(fsnotify.Create) {
		out = append(out, Raw{Kind: KindCreate, Path1: ev.Name})
	}
	if ev.Has(fsnotify.Write) {
		out = append(out, Raw{Kind: KindUpdateItem, Path1: ev.Name})
	}
	if ev.Has(fsnotify.Chmod) {
		out = append(out, Raw{Kind: KindAttributes, Path1: ev.Name})
	}
	if ev.Has(fsnotify.Remove) {
		out = append(out, Raw{Kind: KindDelete, Path1: ev.Name})
	}
	if ev.Has(fsnotify.Rename) {
		out = append(out, Raw{Kind: KindRename, Path1: ev.Name})
	}
	return out
}
