package store

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/dirsync/internal/errors"
	"github.com/hpungsan/dirsync/internal/retry"
	"github.com/hpungsan/dirsync/internal/shell/shelltest"
)

var dataDir = filepath.FromSlash("C:/Data")

func path(name string) string { return filepath.Join(dataDir, name) }

func newStore(t *testing.T, fs *shelltest.FS, foldCase bool) *Store {
	t.Helper()
	return New(Options{
		Dir:      dataDir,
		Prober:   fs,
		Retry:    retry.Config{MaxAttempts: 2},
		FoldCase: foldCase,
	})
}

func TestInsert_Counters(t *testing.T) {
	fs := shelltest.New().File(path("a.txt"), 10).File(path("b.txt"), 20)
	s := newStore(t, fs, false)
	ctx := context.Background()

	a, err := s.Insert(ctx, path("a.txt"), "a.txt")
	require.NoError(t, err)
	b, err := s.Insert(ctx, path("b.txt"), "b.txt")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, Counters{TotalSize: 30, Items: 2}, s.Counters())

	rec, ok := s.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, dataDir, rec.Parent)
	assert.Equal(t, "a.txt", rec.DisplayName)
	assert.Equal(t, uint64(10), rec.Size)
}

func TestInsert_ResolutionFailure(t *testing.T) {
	s := newStore(t, shelltest.New(), false)

	_, err := s.Insert(context.Background(), path("ghost.txt"), "ghost.txt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrResolutionFailed))
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, Counters{}, s.Counters())
}

func TestInsert_DuplicateRefreshesExisting(t *testing.T) {
	fs := shelltest.New().File(path("a.txt"), 10)
	s := newStore(t, fs, false)
	ctx := context.Background()

	first, err := s.Insert(ctx, path("a.txt"), "a.txt")
	require.NoError(t, err)

	fs.File(path("a.txt"), 15)
	second, err := s.Insert(ctx, path("a.txt"), "a.txt")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Existing)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, uint64(15), s.Counters().TotalSize)
}

func TestInsert_DroppedMarkerConsumed(t *testing.T) {
	fs := shelltest.New().File(path("Report.pdf"), 1).File(path("other.pdf"), 1)
	s := newStore(t, fs, false)
	ctx := context.Background()

	s.MarkDropped("report.pdf")
	assert.Equal(t, 1, s.PendingDropped())

	other, err := s.Insert(ctx, path("other.pdf"), "other.pdf")
	require.NoError(t, err)
	assert.False(t, other.Dropped)

	res, err := s.Insert(ctx, path("Report.pdf"), "Report.pdf")
	require.NoError(t, err)
	assert.True(t, res.Dropped, "marker matches case-insensitively")
	assert.Equal(t, 0, s.PendingDropped())
}

func TestUpdate_SizeDelta(t *testing.T) {
	fs := shelltest.New().File(path("a.txt"), 10).File(path("b.txt"), 20)
	s := newStore(t, fs, false)
	ctx := context.Background()

	a, _ := s.Insert(ctx, path("a.txt"), "a.txt")
	_, _ = s.Insert(ctx, path("b.txt"), "b.txt")
	require.NoError(t, s.SetSelected(a.ID, true))
	assert.Equal(t, uint64(10), s.Counters().SelectedSize)

	fs.File(path("a.txt"), 4)
	require.NoError(t, s.Update(ctx, a.ID, true))

	assert.Equal(t, uint64(24), s.Counters().TotalSize)
	assert.Equal(t, uint64(4), s.Counters().SelectedSize)
}

func TestUpdate_FailureKeepsStaleRecord(t *testing.T) {
	fs := shelltest.New().File(path("a.txt"), 10)
	s := newStore(t, fs, false)
	ctx := context.Background()

	a, _ := s.Insert(ctx, path("a.txt"), "a.txt")
	fs.Fail(path("a.txt"), retry.Retryable(stderrors.New("sharing violation")))

	err := s.Update(ctx, a.ID, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrResolutionFailed))
	assert.Equal(t, 2, fs.Probes(path("a.txt"))-1, "bounded retries after the insert probe")

	rec, ok := s.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, uint64(10), rec.Size)
	assert.Equal(t, uint64(10), s.Counters().TotalSize)
}

func TestUpdate_Unknown(t *testing.T) {
	s := newStore(t, shelltest.New(), false)
	err := s.Update(context.Background(), 42, false)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRemove(t *testing.T) {
	fs := shelltest.New().File(path("a.txt"), 10).File(path("b.txt"), 20)
	s := newStore(t, fs, false)
	ctx := context.Background()

	a, _ := s.Insert(ctx, path("a.txt"), "a.txt")
	b, _ := s.Insert(ctx, path("b.txt"), "b.txt")
	require.NoError(t, s.SetSelected(b.ID, true))

	rec, err := s.Remove(b.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "b.txt", rec.DisplayName)
	assert.Equal(t, Counters{TotalSize: 10, Items: 1}, s.Counters())

	_, err = s.FindByPath(path("b.txt"))
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	id, err := s.FindByPath(path("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)
}

func TestRemove_AbsentLeavesCounters(t *testing.T) {
	fs := shelltest.New().File(path("a.txt"), 10)
	s := newStore(t, fs, false)
	_, _ = s.Insert(context.Background(), path("a.txt"), "a.txt")

	before := s.Counters()
	_, err := s.Remove(999, false)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Equal(t, before, s.Counters())
}

func TestFindByPath_CaseFolding(t *testing.T) {
	fs := shelltest.New().File(path("Readme.md"), 1)
	ctx := context.Background()

	sensitive := newStore(t, fs, false)
	_, _ = sensitive.Insert(ctx, path("Readme.md"), "Readme.md")
	_, err := sensitive.FindByPath(path("README.MD"))
	assert.Error(t, err)

	insensitive := newStore(t, fs, true)
	res, _ := insensitive.Insert(ctx, path("Readme.md"), "Readme.md")
	id, err := insensitive.FindByPath(path("README.MD"))
	require.NoError(t, err)
	assert.Equal(t, res.ID, id)
}

func TestRename_InPlace(t *testing.T) {
	fs := shelltest.New().File(path("old.txt"), 10)
	s := newStore(t, fs, false)
	ctx := context.Background()

	res, _ := s.Insert(ctx, path("old.txt"), "old.txt")

	fs.Remove(path("old.txt"))
	fs.File(path("new.txt"), 12)
	require.NoError(t, s.Rename(ctx, res.ID, path("new.txt"), "new.txt", false))

	rec, ok := s.Get(res.ID)
	require.True(t, ok)
	assert.Equal(t, path("new.txt"), rec.Path)
	assert.Equal(t, "new.txt", rec.DisplayName)
	assert.Equal(t, uint64(12), s.Counters().TotalSize)

	_, err := s.FindByPath(path("old.txt"))
	assert.Error(t, err)
	id, err := s.FindByPath(path("new.txt"))
	require.NoError(t, err)
	assert.Equal(t, res.ID, id)
}

func TestRename_UnresolvedKeepsMetadata(t *testing.T) {
	fs := shelltest.New().File(path("old.txt"), 10)
	s := newStore(t, fs, false)
	ctx := context.Background()

	res, _ := s.Insert(ctx, path("old.txt"), "old.txt")
	require.NoError(t, s.Rename(ctx, res.ID, path("gone.txt"), "gone.txt", false))

	rec, _ := s.Get(res.ID)
	assert.Equal(t, uint64(10), rec.Size)
	assert.Equal(t, uint64(10), s.Counters().TotalSize)
}

func TestRename_TargetAlreadyListed(t *testing.T) {
	fs := shelltest.New().File(path("a.txt"), 1).File(path("b.txt"), 2)
	s := newStore(t, fs, false)
	ctx := context.Background()

	a, _ := s.Insert(ctx, path("a.txt"), "a.txt")
	_, _ = s.Insert(ctx, path("b.txt"), "b.txt")

	err := s.Rename(ctx, a.ID, path("b.txt"), "b.txt", false)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestRecordsAndReset(t *testing.T) {
	fs := shelltest.New().File(path("b.txt"), 2).File(path("a.txt"), 1)
	s := newStore(t, fs, false)
	ctx := context.Background()

	b, _ := s.Insert(ctx, path("b.txt"), "b.txt")
	a, _ := s.Insert(ctx, path("a.txt"), "a.txt")
	s.MarkDropped("z")

	recs := s.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, b.ID, recs[0].ID)
	assert.Equal(t, a.ID, recs[1].ID)

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, Counters{}, s.Counters())
	assert.Equal(t, 0, s.PendingDropped())

	again, _ := s.Insert(ctx, path("a.txt"), "a.txt")
	assert.Greater(t, again.ID, a.ID, "IDs are not reused")
}
