package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hpungsan/dirsync/internal/changes"
	"github.com/hpungsan/dirsync/internal/columns"
	"github.com/hpungsan/dirsync/internal/config"
	"github.com/hpungsan/dirsync/internal/errors"
	"github.com/hpungsan/dirsync/internal/item"
	"github.com/hpungsan/dirsync/internal/retry"
	"github.com/hpungsan/dirsync/internal/shell/shelltest"
	"github.com/hpungsan/dirsync/internal/sorting"
	"github.com/hpungsan/dirsync/internal/store"
	"github.com/hpungsan/dirsync/internal/view"
)

var (
	dataDir  = filepath.FromSlash("C:/Data")
	otherDir = filepath.FromSlash("C:/Other")
)

func data(name string) string  { return filepath.Join(dataDir, name) }
func other(name string) string { return filepath.Join(otherDir, name) }

type fakeSource struct {
	ch     chan changes.Raw
	closed bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan changes.Raw, 16)}
}

func (f *fakeSource) Events() <-chan changes.Raw { return f.ch }

func (f *fakeSource) Close() error {
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}

// rows mirrors the surface notifications.
type rows struct {
	ids   []item.ID
	empty bool
}

func (r *rows) RowInserted(pos int, rec item.Record)       { r.ids = slices.Insert(r.ids, pos, rec.ID) }
func (r *rows) RowRemoved(pos int, _ item.ID)              { r.ids = slices.Delete(r.ids, pos, pos+1) }
func (r *rows) RowUpdated(int, item.Record, view.RowState) {}
func (r *rows) EmptyChanged(empty bool)                    { r.empty = empty }

type fixture struct {
	fs      *shelltest.FS
	src     *fakeSource
	surface *rows
	logs    *observer.ObservedLogs
	cfg     *config.Config
}

func newFixture() *fixture {
	cfg := config.DefaultConfig()
	cfg.PathCase = "sensitive"
	cfg.ResolveAttempts = 1
	cfg.ColumnWorkers = 1
	cfg.ViewMode = "list"
	return &fixture{
		fs:      shelltest.New(),
		src:     newFakeSource(),
		surface: &rows{},
		cfg:     cfg,
	}
}

func (f *fixture) open(t *testing.T, mutate ...func(*Options)) *Session {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	f.logs = logs
	opts := Options{
		Dir:       dataDir,
		Config:    f.cfg,
		Prober:    f.fs,
		Surface:   f.surface,
		Logger:    zap.New(core),
		Enumerate: func(dir string) ([]string, error) { return f.fs.Children(dir), nil },
		Watch: func(string, *zap.Logger) (EventSource, error) {
			return f.src, nil
		},
	}
	for _, m := range mutate {
		m(&opts)
	}
	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func (f *fixture) names(s *Session) []string {
	var out []string
	for _, id := range s.view.Displayed() {
		rec, _ := s.store.Get(id)
		out = append(out, rec.DisplayName)
	}
	return out
}

func TestOpen_EnumeratesSorted(t *testing.T) {
	f := newFixture()
	f.fs.File(data("b.txt"), 20).File(data("a.txt"), 10).Dir(data("zdir"))
	s := f.open(t)

	assert.Equal(t, []string{"zdir", "a.txt", "b.txt"}, f.names(s))
	assert.Equal(t, store.Counters{TotalSize: 30, Items: 3}, s.Counters())
	assert.Equal(t, s.view.Displayed(), f.surface.ids)
	assert.True(t, s.Monitored())
	assert.Len(t, s.ID(), 26)
}

func TestOpen_EmptyDirectoryShowsIndicator(t *testing.T) {
	f := newFixture()
	s := f.open(t)

	assert.True(t, s.Snapshot().Empty)
	assert.True(t, f.surface.empty)
}

func TestOpen_UnsortedInsertionStillSortsListing(t *testing.T) {
	f := newFixture()
	f.cfg.InsertUnsorted = true
	f.fs.File(data("c"), 1).File(data("a"), 1).File(data("b"), 1)
	s := f.open(t)

	assert.Equal(t, []string{"a", "b", "c"}, f.names(s))

	f.fs.File(data("0"), 1)
	s.Apply(changes.Raw{Kind: changes.KindCreate, Path1: data("0")})
	assert.Equal(t, []string{"a", "b", "c", "0"}, f.names(s))
}

func TestOpen_ListFailure(t *testing.T) {
	f := newFixture()
	_, err := Open(context.Background(), Options{
		Dir:       dataDir,
		Config:    f.cfg,
		Prober:    f.fs,
		Enumerate: func(string) ([]string, error) { return nil, stderrors.New("access denied") },
	})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestOpen_WatchFailureKeepsSessionOpen(t *testing.T) {
	f := newFixture()
	f.fs.File(data("a.txt"), 1)
	s := f.open(t, func(o *Options) {
		o.Watch = func(dir string, _ *zap.Logger) (EventSource, error) {
			return nil, errors.NewWatchRegistrationFailed(dir, stderrors.New("too many watches"))
		}
	})

	assert.False(t, s.Monitored())
	assert.Equal(t, 1, s.store.Len())
	warned := f.logs.FilterMessage("directory is not monitored for changes")
	assert.Equal(t, 1, warned.Len())
}

func TestApply_DataScenario(t *testing.T) {
	f := newFixture()
	f.fs.File(data("a.txt"), 10).File(data("b.txt"), 20)
	s := f.open(t)
	require.Equal(t, uint64(30), s.Counters().TotalSize)

	f.fs.File(data("c.txt"), 5)
	s.Apply(changes.Raw{Kind: changes.KindCreate, Path1: data("c.txt")})
	assert.Equal(t, uint64(35), s.Counters().TotalSize)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, f.names(s))

	f.fs.Remove(data("b.txt"))
	s.Apply(changes.Raw{Kind: changes.KindDelete, Path1: data("b.txt")})
	assert.Equal(t, uint64(15), s.Counters().TotalSize)
	assert.Equal(t, []string{"a.txt", "c.txt"}, f.names(s))
	assert.Equal(t, s.view.Displayed(), f.surface.ids)
}

func TestApply_RenameOutOfDirectoryRemoves(t *testing.T) {
	f := newFixture()
	f.fs.File(data("old.txt"), 7).File(data("keep.txt"), 1)
	s := f.open(t)

	f.fs.Remove(data("old.txt"))
	s.Apply(changes.Raw{Kind: changes.KindRename, Path1: data("old.txt"), Path2: other("new.txt")})

	assert.Equal(t, []string{"keep.txt"}, f.names(s))
	assert.Equal(t, store.Counters{TotalSize: 1, Items: 1}, s.Counters())
}

func TestApply_RenameIntoDirectoryInserts(t *testing.T) {
	f := newFixture()
	s := f.open(t)

	f.fs.File(data("new.txt"), 3)
	s.Apply(changes.Raw{Kind: changes.KindRename, Path1: other("x.txt"), Path2: data("new.txt")})

	assert.Equal(t, []string{"new.txt"}, f.names(s))
	assert.Equal(t, uint64(3), s.Counters().TotalSize)
	assert.False(t, s.Snapshot().Empty)
}

func TestApply_RenameWithinKeepsIdentity(t *testing.T) {
	f := newFixture()
	f.fs.File(data("a.txt"), 4).File(data("m.txt"), 1)
	s := f.open(t)
	id, err := s.store.FindByPath(data("a.txt"))
	require.NoError(t, err)
	require.NoError(t, s.Select(id, true))

	f.fs.Remove(data("a.txt"))
	f.fs.File(data("z.txt"), 4)
	s.Apply(changes.Raw{Kind: changes.KindRename, Path1: data("a.txt"), Path2: data("z.txt")})

	got, err := s.store.FindByPath(data("z.txt"))
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, []string{"m.txt", "z.txt"}, f.names(s))
	assert.Equal(t, uint64(4), s.Counters().SelectedSize)
}

func TestApply_RenameOverExistingReplacesTarget(t *testing.T) {
	f := newFixture()
	f.fs.File(data("a.txt"), 4).File(data("b.txt"), 9)
	s := f.open(t)

	f.fs.Remove(data("a.txt"))
	f.fs.File(data("b.txt"), 4)
	s.Apply(changes.Raw{Kind: changes.KindRename, Path1: data("a.txt"), Path2: data("b.txt")})

	assert.Equal(t, []string{"b.txt"}, f.names(s))
	assert.Equal(t, store.Counters{TotalSize: 4, Items: 1}, s.Counters())
}

func TestApply_RenameIntoFilteredOut(t *testing.T) {
	f := newFixture()
	f.fs.File(data("a.txt"), 4).File(data("b.txt"), 2)
	s := f.open(t, func(o *Options) {
		o.Settings = &view.Settings{Filter: view.Filter{Pattern: "*.txt"}}
	})
	id, _ := s.store.FindByPath(data("a.txt"))
	require.NoError(t, s.Select(id, true))

	f.fs.Remove(data("a.txt"))
	f.fs.File(data("a.bak"), 4)
	s.Apply(changes.Raw{Kind: changes.KindRename, Path1: data("a.txt"), Path2: data("a.bak")})

	assert.Equal(t, []string{"b.txt"}, f.names(s))
	assert.Equal(t, view.StateFilteredOut, s.view.State(id))
	assert.Equal(t, store.Counters{TotalSize: 6, Items: 2}, s.Counters(), "filtered items still count")
}

func TestApply_RemoveAbsentIsNoop(t *testing.T) {
	f := newFixture()
	f.fs.File(data("a.txt"), 10)
	s := f.open(t)
	before := s.Counters()

	s.Apply(changes.Raw{Kind: changes.KindDelete, Path1: data("ghost.txt")})
	assert.Equal(t, before, s.Counters())
	assert.Equal(t, []string{"a.txt"}, f.names(s))
}

func TestApply_UpdateAdjustsSizes(t *testing.T) {
	f := newFixture()
	f.fs.File(data("a.txt"), 10).File(data("b.txt"), 20)
	s := f.open(t)
	id, _ := s.store.FindByPath(data("a.txt"))
	require.NoError(t, s.Select(id, true))

	f.fs.File(data("a.txt"), 15)
	s.Apply(changes.Raw{Kind: changes.KindUpdateItem, Path1: data("a.txt")})

	assert.Equal(t, store.Counters{TotalSize: 35, SelectedSize: 15, Items: 2}, s.Counters())
}

func TestApply_UpdateResolutionFailureKeepsStale(t *testing.T) {
	f := newFixture()
	f.fs.File(data("a.txt"), 10)
	s := f.open(t)

	f.fs.Fail(data("a.txt"), retry.Retryable(stderrors.New("sharing violation")))
	s.Apply(changes.Raw{Kind: changes.KindUpdateItem, Path1: data("a.txt")})

	assert.Equal(t, uint64(10), s.Counters().TotalSize)
	assert.Equal(t, []string{"a.txt"}, f.names(s))
	assert.Equal(t, 1, f.logs.FilterMessage("could not read item metadata").Len())
}

func TestApply_CreateThatVanishedIsSkipped(t *testing.T) {
	f := newFixture()
	s := f.open(t)

	s.Apply(changes.Raw{Kind: changes.KindCreate, Path1: data("tmp~")})
	assert.Equal(t, 0, s.store.Len())
	assert.True(t, s.Snapshot().Empty)
}

func TestApply_DuplicateCreateRefreshes(t *testing.T) {
	f := newFixture()
	f.fs.File(data("a.txt"), 1)
	s := f.open(t)

	f.fs.File(data("a.txt"), 8)
	s.Apply(changes.Raw{Kind: changes.KindCreate, Path1: data("a.txt")})

	assert.Equal(t, store.Counters{TotalSize: 8, Items: 1}, s.Counters())
	assert.Len(t, s.view.Displayed(), 1)
}

func TestApply_DuplicateCreateKeepsSelectedSize(t *testing.T) {
	f := newFixture()
	f.fs.File(data("a.txt"), 1)
	s := f.open(t)
	id, err := s.store.FindByPath(data("a.txt"))
	require.NoError(t, err)
	require.NoError(t, s.Select(id, true))

	f.fs.File(data("a.txt"), 8)
	s.Apply(changes.Raw{Kind: changes.KindCreate, Path1: data("a.txt")})

	assert.Equal(t, store.Counters{TotalSize: 8, SelectedSize: 8, Items: 1}, s.Counters())
	assert.True(t, s.view.IsSelected(id))
}

func TestApply_DroppedItemAppended(t *testing.T) {
	f := newFixture()
	f.fs.File(data("b.txt"), 1).File(data("c.txt"), 1)
	s := f.open(t)

	s.MarkDropped("a.txt")
	f.fs.File(data("a.txt"), 1)
	s.Apply(changes.Raw{Kind: changes.KindCreate, Path1: data("a.txt")})

	assert.Equal(t, []string{"b.txt", "c.txt", "a.txt"}, f.names(s))
}

func TestApply_OneSignalPerNotification(t *testing.T) {
	f := newFixture()
	f.fs.File(data("a.txt"), 1)
	s := f.open(t)
	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	raws := []changes.Raw{
		{Kind: changes.KindCreate, Path1: other("x")},
		{Kind: changes.KindUpdateDir, Path1: dataDir},
		{Kind: changes.KindDelete, Path1: data("ghost")},
		{Kind: changes.KindUpdateItem, Path1: data("a.txt")},
		{Kind: changes.KindDelete, Path1: data("a.txt")},
	}
	f.fs.Remove(data("a.txt"))
	for _, r := range raws {
		s.Apply(r)
	}

	var got []Signal
	for range raws {
		select {
		case sig := <-sub:
			got = append(got, sig)
		case <-time.After(time.Second):
			t.Fatal("missing signal")
		}
	}
	select {
	case sig := <-sub:
		t.Fatalf("unexpected extra signal %+v", sig)
	default:
	}

	for i, sig := range got {
		assert.Equal(t, uint64(i+1), sig.Seq)
		assert.Equal(t, s.ID(), sig.Session)
	}
	assert.Empty(t, got[0].Op, "discarded")
	assert.Empty(t, got[1].Op, "discarded")
	assert.Equal(t, "remove", got[2].Op)
	assert.Equal(t, "remove", got[4].Op)
	assert.Equal(t, 0, got[4].Counters.Items)
}

func TestApply_CaseInsensitivePaths(t *testing.T) {
	f := newFixture()
	f.cfg.PathCase = "insensitive"
	f.fs.File(data("Readme.md"), 3)
	s := f.open(t)

	s.Apply(changes.Raw{Kind: changes.KindDelete, Path1: filepath.Join(filepath.FromSlash("C:/DATA"), "README.MD")})
	assert.Equal(t, 0, s.store.Len())
}

func TestSetFilter_ReleasesSelectedSize(t *testing.T) {
	f := newFixture()
	f.fs.File(data("a.txt"), 5).File(data("b.png"), 7)
	s := f.open(t)
	for _, n := range []string{"a.txt", "b.png"} {
		id, _ := s.store.FindByPath(data(n))
		require.NoError(t, s.Select(id, true))
	}
	require.Equal(t, uint64(12), s.Counters().SelectedSize)

	require.NoError(t, s.SetFilter(view.Filter{Pattern: "*.png"}))
	assert.Equal(t, uint64(7), s.Counters().SelectedSize)
	assert.Equal(t, []string{"b.png"}, f.names(s))
}

func TestRescan_ReconcilesDrift(t *testing.T) {
	f := newFixture()
	f.fs.File(data("a.txt"), 1).File(data("b.txt"), 2)
	s := f.open(t)

	f.fs.Remove(data("a.txt"))
	f.fs.File(data("b.txt"), 20)
	f.fs.File(data("c.txt"), 3)
	s.Rescan()

	assert.Equal(t, []string{"b.txt", "c.txt"}, f.names(s))
	assert.Equal(t, store.Counters{TotalSize: 23, Items: 2}, s.Counters())
}

func TestSnapshot(t *testing.T) {
	f := newFixture()
	f.fs.File(data("a.txt"), 1)
	f.fs.File(data(".hidden"), 2)
	f.fs.Set(data(".hidden"), shellHidden(2))
	s := f.open(t, func(o *Options) {
		o.Settings = &view.Settings{Filter: view.Filter{ShowHidden: true}, Mode: view.ModeList}
	})

	snap := s.Snapshot()
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, ".hidden", snap.Rows[0].DisplayName)
	assert.True(t, snap.Rows[0].Cut)
	assert.False(t, snap.Rows[1].Cut)
	assert.Equal(t, dataDir, snap.Dir)
	assert.Equal(t, view.ModeList, snap.Settings.Mode)
}

func TestRunDoClose(t *testing.T) {
	f := newFixture()
	f.cfg.ViewMode = "details"
	f.fs.File(data("a.txt"), 2048)
	s := f.open(t, func(o *Options) {
		o.Settings = &view.Settings{Mode: view.ModeDetails, Columns: []columns.Column{columns.Name, columns.Size}}
	})
	sub := s.Subscribe()

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(context.Background()) }()

	f.fs.File(data("b.txt"), 1)
	f.src.ch <- changes.Raw{Kind: changes.KindCreate, Path1: data("b.txt")}
	select {
	case <-sub:
	case <-time.After(5 * time.Second):
		t.Fatal("no signal from Run")
	}

	// Column values arrive asynchronously.
	require.Eventually(t, func() bool {
		var snap Snapshot
		if err := s.Do(context.Background(), func() { snap = s.Snapshot() }); err != nil {
			return false
		}
		return len(snap.Rows) == 2 &&
			snap.Rows[0].Columns[columns.Size] == "2.0 KiB" &&
			snap.Rows[1].Columns[columns.Name] == "b.txt"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Close())
	require.NoError(t, <-runErr)
	assert.True(t, f.src.closed)
	assert.Equal(t, 0, s.store.Len())

	_, open := <-sub
	assert.False(t, open, "subscribers are closed")
	assert.Error(t, s.Do(context.Background(), func() {}))
	assert.Error(t, s.Run(context.Background()))
	assert.NoError(t, s.Close())
}

func TestApplyColumn_StaleGenerationDiscarded(t *testing.T) {
	f := newFixture()
	f.fs.File(data("a.txt"), 1)
	s := f.open(t)
	id, _ := s.store.FindByPath(data("a.txt"))

	s.applyColumn(columns.Result{Request: columns.Request{Generation: s.generation + 1, Item: id, Column: columns.Name, Path: data("a.txt")}, Value: "x"})
	assert.Empty(t, s.values)

	s.applyColumn(columns.Result{Request: columns.Request{Generation: s.generation, Item: id, Column: columns.Name, Path: data("a.txt")}, Value: "a.txt"})
	assert.Equal(t, "a.txt", s.values[id][columns.Name])

	s.SetColumns([]columns.Column{columns.Size})
	assert.Empty(t, s.values)
}

func TestApplyColumn_ResultForOldNameDiscarded(t *testing.T) {
	f := newFixture()
	f.fs.File(data("a.txt"), 1)
	s := f.open(t)
	id, err := s.store.FindByPath(data("a.txt"))
	require.NoError(t, err)

	f.fs.Remove(data("a.txt"))
	f.fs.File(data("z.txt"), 1)
	s.Apply(changes.Raw{Kind: changes.KindRename, Path1: data("a.txt"), Path2: data("z.txt")})
	renamed, err := s.store.FindByPath(data("z.txt"))
	require.NoError(t, err)
	require.Equal(t, id, renamed)

	s.applyColumn(columns.Result{Request: columns.Request{Generation: s.generation, Item: id, Column: columns.Name, Path: data("z.txt")}, Value: "z.txt"})
	s.applyColumn(columns.Result{Request: columns.Request{Generation: s.generation, Item: id, Column: columns.Name, Path: data("a.txt")}, Value: "a.txt"})

	assert.Equal(t, "z.txt", s.values[id][columns.Name])
}

// TestApply_RandomSequences checks the store and the rows against a model of
// the directory after every notification.
func TestApply_RandomSequences(t *testing.T) {
	for seed := uint64(1); seed <= 10; seed++ {
		t.Run(fmt.Sprintf("seed%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, 99))
			f := newFixture()
			if seed%2 == 0 {
				f.cfg.InsertUnsorted = true
			}
			model := map[string]uint64{}
			s := f.open(t)

			names := []string{"a", "b", "c", "d10", "d9", "e.txt", "F", "g.go"}
			existing := func() (string, bool) {
				var keys []string
				for k := range model {
					keys = append(keys, k)
				}
				if len(keys) == 0 {
					return "", false
				}
				slices.Sort(keys)
				return keys[rng.IntN(len(keys))], true
			}

			for step := 0; step < 200; step++ {
				name := names[rng.IntN(len(names))]
				size := uint64(rng.IntN(100))
				var raw changes.Raw

				switch rng.IntN(7) {
				case 0, 1:
					if _, ok := model[name]; !ok {
						model[name] = size
						f.fs.File(data(name), size)
					}
					raw = changes.Raw{Kind: changes.KindCreate, Path1: data(name)}
				case 2:
					old, ok := existing()
					if !ok {
						continue
					}
					model[old] = size
					f.fs.File(data(old), size)
					raw = changes.Raw{Kind: changes.KindUpdateItem, Path1: data(old)}
				case 3:
					victim := name
					if old, ok := existing(); ok && rng.IntN(2) == 0 {
						victim = old
					}
					delete(model, victim)
					f.fs.Remove(data(victim))
					raw = changes.Raw{Kind: changes.KindDelete, Path1: data(victim)}
				case 4:
					old, ok := existing()
					if !ok || old == name {
						continue
					}
					model[name] = model[old]
					delete(model, old)
					f.fs.Remove(data(old))
					f.fs.File(data(name), model[name])
					raw = changes.Raw{Kind: changes.KindRename, Path1: data(old), Path2: data(name)}
				case 5:
					old, ok := existing()
					if !ok {
						continue
					}
					delete(model, old)
					f.fs.Remove(data(old))
					raw = changes.Raw{Kind: changes.KindRename, Path1: data(old), Path2: other(old)}
				case 6:
					if _, ok := model[name]; ok {
						continue
					}
					model[name] = size
					f.fs.File(data(name), size)
					raw = changes.Raw{Kind: changes.KindRename, Path1: other(name), Path2: data(name)}
				}

				s.Apply(raw)

				var total uint64
				for _, sz := range model {
					total += sz
				}
				require.Equal(t, len(model), s.store.Len(), "step %d %+v", step, raw)
				require.Equal(t, total, s.Counters().TotalSize, "step %d %+v", step, raw)
				require.Len(t, s.view.Displayed(), len(model))
				require.Equal(t, s.view.Displayed(), f.surface.ids)
				require.Equal(t, len(model) == 0, s.Snapshot().Empty)

				if !f.cfg.InsertUnsorted {
					want := s.view.Displayed()
					sorting.Sort(s.Settings().Criterion, want, s.store.Lookup)
					require.Equal(t, want, s.view.Displayed(), "rows stay sorted")
				}
			}
		})
	}
}
