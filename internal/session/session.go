// Package session owns one open folder view: its item store, its rows, the
// watch on the directory and the column workers, and reconciles change
// notifications against all of them.
package session

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/dirsync/internal/changes"
	"github.com/hpungsan/dirsync/internal/columns"
	"github.com/hpungsan/dirsync/internal/config"
	"github.com/hpungsan/dirsync/internal/errors"
	"github.com/hpungsan/dirsync/internal/item"
	"github.com/hpungsan/dirsync/internal/logging"
	"github.com/hpungsan/dirsync/internal/metrics"
	"github.com/hpungsan/dirsync/internal/retry"
	"github.com/hpungsan/dirsync/internal/shell"
	"github.com/hpungsan/dirsync/internal/sorting"
	"github.com/hpungsan/dirsync/internal/store"
	"github.com/hpungsan/dirsync/internal/view"
)

// EventSource delivers raw notifications for one directory.
type EventSource interface {
	Events() <-chan changes.Raw
	Close() error
}

// WatchFunc registers a watch on dir. Returning a nil source and a nil error
// leaves the session unmonitored without logging a warning.
type WatchFunc func(dir string, logger *zap.Logger) (EventSource, error)

// NoWatch opens sessions that only take a listing.
func NoWatch(string, *zap.Logger) (EventSource, error) { return nil, nil }

// EnumerateFunc lists the full paths of the direct children of dir.
type EnumerateFunc func(dir string) ([]string, error)

// Options configures Open. Zero values select the defaults noted per field.
type Options struct {
	Dir string

	// Config supplies defaults; nil means config.DefaultConfig().
	Config *config.Config
	// Settings overrides the view settings derived from Config, typically
	// the ones saved for this folder.
	Settings *view.Settings
	// Virtual forces in-folder display names. Pseudo filesystems are
	// detected regardless.
	Virtual bool

	Prober    shell.Prober  // shell.OSProber
	Surface   view.Surface  // view.NopSurface
	Watch     WatchFunc     // fsnotify
	Enumerate EnumerateFunc // shell.Enumerate
	Logger    *zap.Logger   // logging.L()
}

func defaultWatch(dir string, logger *zap.Logger) (EventSource, error) {
	src, err := changes.Watch(dir, logger)
	if err != nil {
		return nil, err
	}
	return src, nil
}

type call struct {
	fn   func()
	done chan struct{}
}

// Session is one open folder view.
//
// Apply, Rescan, Snapshot and the setters mutate or read session state and
// must run on one goroutine: either the caller's before Run starts, or Run's
// via Do. ID, Dir, Subscribe, Unsubscribe, Do and Close are safe anywhere.
type Session struct {
	id        string
	dir       string
	folder    shell.Folder
	decoder   *changes.Decoder
	store     *store.Store
	view      *view.Synchronizer
	pool      *columns.Pool
	source    EventSource
	prober    shell.Prober
	enumerate EnumerateFunc
	log       *zap.Logger
	cfg       *config.Config

	ctx    context.Context
	cancel context.CancelFunc

	generation uint64
	seq        uint64
	values     map[item.ID]map[columns.Column]string
	signals    *broadcaster
	calls      chan call

	lifeMu  sync.Mutex
	running bool
	closed  bool
	quit    chan struct{}
	runDone chan struct{}
}

// Open enumerates opts.Dir, builds the initial rows and starts watching the
// directory. A directory that cannot be watched still opens; Monitored then
// reports false.
func Open(ctx context.Context, opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	settings := opts.Settings
	if settings == nil {
		def, err := view.DefaultSettings(cfg)
		if err != nil {
			return nil, err
		}
		settings = &def
	} else if err := settings.Validate(); err != nil {
		return nil, err
	}

	if opts.Dir == "" {
		return nil, errors.NewInvalidRequest("directory is required")
	}
	dir := filepath.Clean(opts.Dir)
	enumerate := opts.Enumerate
	if enumerate == nil {
		enumerate = shell.Enumerate
	}
	paths, err := enumerate(dir)
	if err != nil {
		return nil, errors.NewInvalidRequest("cannot list directory " + dir + ": " + err.Error())
	}

	prober := opts.Prober
	if prober == nil {
		prober = shell.OSProber{}
	}
	log := logging.OrGlobal(opts.Logger).Named("session")
	foldCase := cfg.CaseInsensitivePaths()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		id:        newID(),
		dir:       dir,
		folder:    shell.NewFolder(dir, opts.Virtual || shell.IsVirtual(dir), cfg.HideExtensions),
		decoder:   changes.NewDecoder(dir, foldCase),
		prober:    prober,
		enumerate: enumerate,
		cfg:       cfg,
		ctx:       runCtx,
		cancel:    cancel,
		values:    make(map[item.ID]map[columns.Column]string),
		signals:   newBroadcaster(),
		calls:     make(chan call),
		quit:      make(chan struct{}),
		runDone:   make(chan struct{}),
	}
	s.log = log.With(zap.String("session", s.id), zap.String("dir", dir))
	s.store = store.New(store.Options{
		Dir:      dir,
		Prober:   prober,
		Retry:    resolveRetry(cfg),
		FoldCase: foldCase,
	})
	s.pool = columns.Start(runCtx, columns.Options{
		Workers: cfg.ColumnWorkers,
		Prober:  prober,
		Logger:  opts.Logger,
	})
	s.view = view.New(view.Options{
		Lookup:        s.store.Lookup,
		Surface:       opts.Surface,
		SortInsertion: !cfg.InsertUnsorted,
		Settings:      *settings,
		RequestColumn: s.requestColumn,
	})

	s.populate(paths)

	watch := opts.Watch
	if watch == nil {
		watch = defaultWatch
	}
	src, err := watch(dir, opts.Logger)
	if err != nil {
		metrics.RecordWatchFailure()
		s.log.Warn("directory is not monitored for changes", zap.Error(err))
	} else if src != nil {
		s.source = src
	}

	s.log.Info("session opened",
		zap.Int("items", s.store.Len()),
		zap.Bool("monitored", s.source != nil))
	return s, nil
}

func newID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

func resolveRetry(cfg *config.Config) retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.ResolveAttempts
	if cfg.ResolveBackoffMs > 0 {
		rc.InitialWait = cfg.ResolveBackoff()
	}
	return rc
}

// populate inserts the initial listing in sorted order and flushes once.
func (s *Session) populate(paths []string) {
	ids := make([]item.ID, 0, len(paths))
	dropped := make(map[item.ID]bool)
	for _, p := range paths {
		name, err := s.folder.DisplayName(p)
		if err != nil {
			continue
		}
		res, err := s.store.Insert(s.ctx, p, name)
		if err != nil {
			metrics.RecordResolutionFailure()
			s.log.Warn("skipping entry", zap.String("path", p), zap.Error(err))
			continue
		}
		if res.Existing {
			continue
		}
		ids = append(ids, res.ID)
		dropped[res.ID] = res.Dropped
	}
	sorting.Sort(s.view.Settings().Criterion, ids, s.store.Lookup)
	for _, id := range ids {
		s.view.Insert(id, dropped[id])
	}
	s.view.Flush()
	s.updateGauges()
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Dir returns the watched directory.
func (s *Session) Dir() string { return s.dir }

// Monitored reports whether change notifications are being received.
func (s *Session) Monitored() bool { return s.source != nil }

// Run processes notifications, column results, rescans and Do calls until
// ctx is cancelled or the session is closed.
func (s *Session) Run(ctx context.Context) error {
	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		return errors.NewInvalidRequest("session is closed")
	}
	if s.running {
		s.lifeMu.Unlock()
		return errors.NewInvalidRequest("session is already running")
	}
	s.running = true
	s.lifeMu.Unlock()
	defer close(s.runDone)

	var events <-chan changes.Raw
	if s.source != nil {
		events = s.source.Events()
	}
	results := s.pool.Results()

	var tick <-chan time.Time
	if d := s.cfg.RescanInterval(); d > 0 {
		t := time.NewTicker(d)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.quit:
			return nil
		case raw, ok := <-events:
			if !ok {
				events = nil
				s.log.Warn("change notifications stopped")
				continue
			}
			s.Apply(raw)
		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			s.applyColumn(res)
		case <-tick:
			s.Rescan()
		case c := <-s.calls:
			c.fn()
			close(c.done)
		}
	}
}

// Do runs fn on the Run goroutine and waits for it to finish. It blocks until
// Run picks the call up, ctx is done or the session closes.
func (s *Session) Do(ctx context.Context, fn func()) error {
	c := call{fn: fn, done: make(chan struct{})}
	select {
	case s.calls <- c:
	case <-s.quit:
		return errors.NewInvalidRequest("session is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	<-c.done
	return nil
}

// Close stops the watch and the column workers and drops every record.
// It waits for Run to return first. Close is idempotent.
func (s *Session) Close() error {
	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		return nil
	}
	s.closed = true
	wasRunning := s.running
	s.lifeMu.Unlock()

	close(s.quit)
	if wasRunning {
		<-s.runDone
	}

	var err error
	if s.source != nil {
		err = s.source.Close()
		s.source = nil
	}
	s.cancel()
	s.pool.Close()
	for range s.pool.Results() {
		// Answers for a listing that is going away.
	}
	s.generation++
	s.view.Reset()
	s.store.Reset()
	clear(s.values)
	s.signals.close()
	s.updateGauges()
	s.log.Info("session closed")
	return err
}

// Subscribe returns a channel receiving one Signal per processed notification.
func (s *Session) Subscribe() chan Signal {
	return s.signals.subscribe()
}

// Unsubscribe stops delivery to ch and closes it.
func (s *Session) Unsubscribe(ch chan Signal) {
	s.signals.unsubscribe(ch)
}

func (s *Session) requestColumn(id item.ID, c columns.Column) {
	rec := s.store.Lookup(id)
	if rec == nil {
		return
	}
	s.pool.Enqueue(columns.Request{
		Generation: s.generation,
		Item:       id,
		Column:     c,
		Path:       rec.Path,
	})
}

func (s *Session) applyColumn(res columns.Result) {
	rec := s.store.Lookup(res.Item)
	if res.Generation != s.generation || rec == nil || rec.Path != res.Path ||
		s.view.State(res.Item) != view.StateDisplayed {
		// Computed for an older column set, a removed row or a previous name.
		metrics.RecordColumnResult("stale")
		return
	}
	if res.Err != nil {
		return
	}
	vals := s.values[res.Item]
	if vals == nil {
		vals = make(map[columns.Column]string)
		s.values[res.Item] = vals
	}
	vals[res.Column] = res.Value
}

func (s *Session) updateGauges() {
	c := s.store.Counters()
	metrics.SetListing(c.Items, c.TotalSize)
}
