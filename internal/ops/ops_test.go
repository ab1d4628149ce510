package ops

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/dirsync/internal/config"
	"github.com/hpungsan/dirsync/internal/db"
	"github.com/hpungsan/dirsync/internal/errors"
	"github.com/hpungsan/dirsync/internal/session"
	"github.com/hpungsan/dirsync/internal/sorting"
	"github.com/hpungsan/dirsync/internal/view"
)

func setup(t *testing.T) (*sql.DB, *config.Config, string) {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	dir := t.TempDir()
	files := map[string]int{"b.txt": 20, "a.txt": 10, "c.go": 5}
	for name, size := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(strings.Repeat("x", size)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	return database, config.DefaultConfig(), dir
}

func stringPtr(s string) *string { return &s }
func boolPtr(b bool) *bool       { return &b }

func names(rows []session.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.DisplayName
	}
	return out
}

func TestValidateDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		code errors.ErrorCode
	}{
		{"empty", "", errors.ErrInvalidRequest},
		{"missing", filepath.Join(dir, "missing"), errors.ErrNotFound},
		{"file", file, errors.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateDir(tt.path, config.DefaultConfig())
			if !errors.Is(err, tt.code) {
				t.Errorf("ValidateDir(%q) error = %v, want %s", tt.path, err, tt.code)
			}
		})
	}

	f, err := ValidateDir(dir, config.DefaultConfig())
	if err != nil {
		t.Fatalf("ValidateDir failed: %v", err)
	}
	if !filepath.IsAbs(f.Path) || f.Key == "" {
		t.Errorf("Folder = %+v", f)
	}
}

func TestList_HappyPath(t *testing.T) {
	database, cfg, dir := setup(t)

	out, err := List(context.Background(), database, cfg, ListInput{Dir: dir})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	want := []string{"sub", "a.txt", "b.txt", "c.go"}
	if got := names(out.Items); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("names = %v, want %v", got, want)
	}
	if out.Counters.TotalSize != 35 || out.Counters.Items != 4 {
		t.Errorf("Counters = %+v", out.Counters)
	}
	if out.TotalSize != "35 B" {
		t.Errorf("TotalSize = %q", out.TotalSize)
	}
	if out.Pagination.Total != 4 || out.Pagination.HasMore {
		t.Errorf("Pagination = %+v", out.Pagination)
	}
}

func TestList_OverridesAndPaging(t *testing.T) {
	database, cfg, dir := setup(t)

	out, err := List(context.Background(), database, cfg, ListInput{
		Dir:        dir,
		SortKey:    stringPtr("size"),
		Descending: boolPtr(true),
		Filter:     stringPtr("*.txt"),
		Limit:      1,
		Offset:     1,
	})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if got := names(out.Items); len(got) != 1 || got[0] != "a.txt" {
		t.Errorf("names = %v, want [a.txt]", got)
	}
	if out.Pagination.Total != 2 || out.Pagination.HasMore {
		t.Errorf("Pagination = %+v", out.Pagination)
	}
	if out.Counters.Items != 4 {
		t.Errorf("filtered items still count: %+v", out.Counters)
	}

	_, err = List(context.Background(), database, cfg, ListInput{Dir: dir, SortKey: stringPtr("colour")})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("bad sort key error = %v", err)
	}
}

func TestList_Columns(t *testing.T) {
	database, cfg, dir := setup(t)

	out, err := List(context.Background(), database, cfg, ListInput{Dir: dir, Columns: true})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, row := range out.Items {
		if row.Columns["name"] != row.DisplayName {
			t.Errorf("name column = %q for %s", row.Columns["name"], row.DisplayName)
		}
	}
	if got := out.Items[0].Columns["type"]; got != "folder" {
		t.Errorf("type of sub = %q", got)
	}
}

func TestSettings_Lifecycle(t *testing.T) {
	database, cfg, dir := setup(t)

	got, err := GetSettings(database, cfg, GetSettingsInput{Dir: dir})
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if got.Saved {
		t.Error("Saved = true before any save")
	}
	if got.Settings.Criterion.Key != sorting.KeyName || got.Settings.Mode != view.ModeDetails {
		t.Errorf("defaults = %+v", got.Settings)
	}

	set, err := SetSettings(database, cfg, SetSettingsInput{
		Dir:        dir,
		SortKey:    stringPtr("date"),
		Descending: boolPtr(true),
		NextMode:   true,
		Columns:    []string{"name", "attributes"},
	})
	if err != nil {
		t.Fatalf("SetSettings failed: %v", err)
	}
	if set.Settings.Mode != view.ModeThumbnails {
		t.Errorf("Mode = %s, want thumbnails", set.Settings.Mode)
	}

	got, err = GetSettings(database, cfg, GetSettingsInput{Dir: dir})
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if !got.Saved || got.Settings.Criterion.Key != sorting.KeyDate || !got.Settings.Criterion.Descending {
		t.Errorf("saved = %+v", got)
	}
	if len(got.Settings.Columns) != 2 || got.Settings.Columns[1] != "attributes" {
		t.Errorf("Columns = %v", got.Settings.Columns)
	}

	list, err := ListSettings(database, ListSettingsInput{})
	if err != nil {
		t.Fatalf("ListSettings failed: %v", err)
	}
	if list.Pagination.Total != 1 || list.Items[0].DirRaw != got.Dir {
		t.Errorf("ListSettings = %+v", list)
	}

	reset, err := ResetSettings(database, cfg, ResetSettingsInput{Dir: dir})
	if err != nil {
		t.Fatalf("ResetSettings failed: %v", err)
	}
	if !reset.Reset {
		t.Error("Reset = false, want true")
	}
	reset, err = ResetSettings(database, cfg, ResetSettingsInput{Dir: dir})
	if err != nil {
		t.Fatalf("second ResetSettings failed: %v", err)
	}
	if reset.Reset {
		t.Error("second Reset = true, want false")
	}
}

func TestSetSettings_Invalid(t *testing.T) {
	database, cfg, dir := setup(t)

	tests := []struct {
		name  string
		input SetSettingsInput
	}{
		{"sort key", SetSettingsInput{Dir: dir, SortKey: stringPtr("colour")}},
		{"mode", SetSettingsInput{Dir: dir, Mode: stringPtr("gallery")}},
		{"column", SetSettingsInput{Dir: dir, Columns: []string{"owner"}}},
		{"pattern", SetSettingsInput{Dir: dir, FilterPattern: stringPtr("[a-")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SetSettings(database, cfg, tt.input)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("SetSettings error = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

func TestList_UsesSavedSettings(t *testing.T) {
	database, cfg, dir := setup(t)

	if _, err := SetSettings(database, cfg, SetSettingsInput{Dir: dir, SortKey: stringPtr("size"), FoldersFirst: boolPtr(false)}); err != nil {
		t.Fatalf("SetSettings failed: %v", err)
	}
	out, err := List(context.Background(), database, cfg, ListInput{Dir: dir})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := "sub,c.go,a.txt,b.txt"
	if got := strings.Join(names(out.Items), ","); got != want {
		t.Errorf("names = %s, want %s", got, want)
	}
}

func TestWatch_EmitsSignals(t *testing.T) {
	database, cfg, dir := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ready := make(chan struct{})
	got := make(chan session.Signal, 8)
	errc := make(chan error, 1)
	go func() {
		errc <- Watch(ctx, database, cfg, WatchInput{Dir: dir}, func(sig session.Signal) error {
			select {
			case got <- sig:
			default:
			}
			return nil
		})
	}()

	// The watch may not be registered yet; keep touching until a signal shows up.
	go func() {
		for i := 0; ; i++ {
			select {
			case <-ready:
				return
			case <-time.After(50 * time.Millisecond):
				_ = os.WriteFile(filepath.Join(dir, "new.txt"), []byte(strings.Repeat("y", i)), 0o644)
			}
		}
	}()

	select {
	case sig := <-got:
		close(ready)
		if sig.Seq == 0 || sig.Session == "" {
			t.Errorf("signal = %+v", sig)
		}
	case <-ctx.Done():
		close(ready)
		t.Fatal("no signal received")
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}
